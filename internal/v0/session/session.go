// Package session drives a single inbound connection through the relay:
// classifying the open intent, enforcing preconditions, routing text
// frames, and propagating close events.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/registry"
	"github.com/emberwire/relay/internal/v0/room"
	"github.com/emberwire/relay/internal/v0/types"
)

// OpenRequest carries the session-open parameters. HasName/HasSu record
// parameter presence, which is what classification keys on: a present but
// empty name is still a registration attempt (refused with
// NamePropertyIsEmpty unless the lock check fires first).
type OpenRequest struct {
	Code       types.RoomCode
	Name       types.ParticipantName
	HasName    bool
	Su         types.Secret
	HasSu      bool
	RemoteAddr string
}

// Conn is the per-connection state machine. It is bound to a room and a
// participant by a successful Open and drives frames and the close event
// from then on.
type Conn struct {
	reg  *registry.Registry
	sess types.Session

	room *room.Room
	self *room.Participant
}

// New builds a state machine for one transport session.
func New(reg *registry.Registry, sess types.Session) *Conn {
	return &Conn{reg: reg, sess: sess}
}

// Participant returns the bound identity, nil before a successful Open.
func (c *Conn) Participant() *room.Participant { return c.self }

// Room returns the bound room, nil before a successful Open.
func (c *Conn) Room() *room.Room { return c.room }

// Open classifies the request and performs the attach:
//
//	name only      -> register
//	name + secret  -> reattach as participant
//	secret only    -> attach as owner
//	neither        -> malformed, refused
//
// A refusal is returned as *types.RefusalError carrying the close cause; no
// server-side state has been mutated in that case.
func (c *Conn) Open(req OpenRequest) error {
	rm, ok := c.reg.Get(req.Code)
	if !ok {
		return c.refuse(types.CloseServerCodeDoesntExist)
	}

	var (
		p   *room.Participant
		err error
	)
	switch {
	case req.HasName && !req.HasSu:
		p, err = rm.Register(req.Name, c.sess, req.RemoteAddr)
	case req.HasName && req.HasSu:
		p, err = rm.Reattach(req.Name, req.Su, c.sess)
	case req.HasSu:
		p, err = rm.AttachOwner(req.Su, c.sess)
	default:
		return c.refuse(types.CloseNamePropertyIsEmpty)
	}

	if err != nil {
		var refusal *types.RefusalError
		if errors.As(err, &refusal) {
			metrics.SessionRefused.WithLabelValues(refusal.Code.String()).Inc()
		}
		return err
	}

	c.room = rm
	c.self = p
	return nil
}

func (c *Conn) refuse(code types.CloseCode) error {
	metrics.SessionRefused.WithLabelValues(code.String()).Inc()
	return types.Refuse(code)
}

type chatPayload struct {
	To      types.Address   `json:"to"`
	Content json.RawMessage `json:"content"`
}

// HandleFrame processes one inbound text frame. Frames of length <= 1 are
// keepalives and dropped silently. Everything else is "<command> <json>";
// malformed payloads and unknown commands drop the frame without closing
// the session.
func (c *Conn) HandleFrame(frame string) {
	if len(frame) <= 1 {
		return
	}
	if c.self == nil {
		return
	}

	command, payload, _ := strings.Cut(frame, " ")
	if !json.Valid([]byte(payload)) {
		logging.Warn(context.Background(), "dropped frame with invalid payload",
			zap.String("command", command))
		return
	}

	switch command {
	case "lock", "unlock":
		if !c.self.Addr().IsOwner() {
			return
		}
		c.room.SetLocked(command == "lock")

	case "chat":
		var chat chatPayload
		if err := json.Unmarshal([]byte(payload), &chat); err != nil {
			logging.Warn(context.Background(), "dropped malformed chat payload", zap.Error(err))
			return
		}
		c.room.Send(c.self, chat.To, chat.Content)

	case "chats":
		var chats []chatPayload
		if err := json.Unmarshal([]byte(payload), &chats); err != nil {
			logging.Warn(context.Background(), "dropped malformed chats payload", zap.Error(err))
			return
		}
		for _, chat := range chats {
			c.room.Send(c.self, chat.To, chat.Content)
		}

	case "repeat":
		// The payload is fixed to a nonnegative integer; anything else is
		// rejected.
		var expectedNext int
		if err := json.Unmarshal([]byte(payload), &expectedNext); err != nil || expectedNext < 0 {
			logging.Warn(context.Background(), "dropped malformed repeat payload",
				zap.String("payload", payload))
			return
		}
		c.room.Repeat(c.self, expectedNext)

	default:
		logging.Warn(context.Background(), "dropped unknown command", zap.String("command", command))
	}
}

// HandleClose propagates the terminal close event. An abnormal transport
// cause (not 1000 and below the application range) on a bound participant
// session surfaces as a userleft to the owner; relay-issued causes already
// told everyone what happened.
func (c *Conn) HandleClose(closeCode int) {
	if c.self == nil || c.room == nil {
		return
	}
	if types.Abnormal(closeCode) {
		c.room.NotifyLeft(c.self)
	}
}
