// Package codec defines the closed set of outbound envelopes the relay
// emits and their JSON wire shapes.
package codec

import (
	"encoding/json"

	"github.com/emberwire/relay/internal/v0/types"
)

// Kind tags an outbound envelope.
type Kind string

const (
	KindMsg        Kind = "msg"
	KindUserAppend Kind = "userappend"
	KindUserJoin   Kind = "userjoin"
	KindUserLeft   Kind = "userleft"
	KindSu         Kind = "su"
	KindRepeated   Kind = "repeated"
	KindShadow     Kind = "shadow"
	KindInbound    Kind = "inbound"
)

// Envelope is an outbound message body. Everything that reaches a
// participant's transport is one of these, wrapped in an Inbound frame.
type Envelope interface {
	Kind() Kind
}

// Msg is a relayed message from a peer (or the owner).
type Msg struct {
	From    types.Address
	Content json.RawMessage
}

func (Msg) Kind() Kind { return KindMsg }

func (m Msg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind            `json:"type"`
		From types.Address   `json:"from"`
		Am   json.RawMessage `json:"am"`
	}{KindMsg, m.From, m.Content})
}

// UserAppend tells the owner a new participant has registered.
type UserAppend struct {
	User types.ParticipantName
}

func (UserAppend) Kind() Kind { return KindUserAppend }

func (u UserAppend) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind                  `json:"type"`
		User types.ParticipantName `json:"user"`
	}{KindUserAppend, u.User})
}

// UserJoin tells the owner a known participant has reattached a session.
type UserJoin struct {
	User types.ParticipantName
}

func (UserJoin) Kind() Kind { return KindUserJoin }

func (u UserJoin) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind                  `json:"type"`
		User types.ParticipantName `json:"user"`
	}{KindUserJoin, u.User})
}

// UserLeft tells the owner a known participant's session dropped abnormally.
type UserLeft struct {
	User types.ParticipantName
}

func (UserLeft) Kind() Kind { return KindUserLeft }

func (u UserLeft) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind                  `json:"type"`
		User types.ParticipantName `json:"user"`
	}{KindUserLeft, u.User})
}

// Su delivers a freshly issued secret, once, at registration.
type Su struct {
	Su types.Secret
}

func (Su) Kind() Kind { return KindSu }

func (s Su) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind         `json:"type"`
		Su   types.Secret `json:"su"`
	}{KindSu, s.Su})
}

// Shadow records, in the sender's own history, that the sender sent a
// message to some recipient. Shadows never traverse the wire directly; they
// appear only inside a Repeated array so replay can rebuild both sides of a
// transcript.
type Shadow struct {
	To      types.Address
	Content json.RawMessage
}

func (Shadow) Kind() Kind { return KindShadow }

func (s Shadow) MarshalJSON() ([]byte, error) {
	type body struct {
		To      types.Address   `json:"to"`
		Content json.RawMessage `json:"content"`
	}
	return json.Marshal(struct {
		Type   Kind `json:"type"`
		Shadow body `json:"shadow"`
	}{KindShadow, body{s.To, s.Content}})
}

// Repeated is the reply to a replay request: the history tail after the
// client's last acknowledged position.
type Repeated struct {
	Start  int
	Repeat []Envelope
}

func (Repeated) Kind() Kind { return KindRepeated }

func (r Repeated) MarshalJSON() ([]byte, error) {
	repeat := r.Repeat
	if repeat == nil {
		repeat = []Envelope{}
	}
	return json.Marshal(struct {
		Type   Kind       `json:"type"`
		Start  int        `json:"start"`
		Repeat []Envelope `json:"repeat"`
	}{KindRepeated, r.Start, repeat})
}

// Inbound wraps every envelope actually written to a transport, stamping it
// with the recipient's sequence number.
type Inbound struct {
	Q   uint64
	Msg Envelope
}

func (Inbound) Kind() Kind { return KindInbound }

func (i Inbound) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Kind     `json:"type"`
		Q    uint64   `json:"q"`
		Msg  Envelope `json:"msg"`
	}{KindInbound, i.Q, i.Msg})
}

// Encode serializes an envelope to its wire form.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
