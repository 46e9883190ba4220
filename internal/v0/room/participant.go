package room

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/codec"
	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/types"
)

// Participant is a single identity within a room: its secret, its current
// transport session (nil while detached), its outbound sequence counter,
// and the ordered history of everything emitted to it plus the shadows of
// everything it sent. The owner slot is a Participant whose address is the
// owner sentinel.
//
// A Participant lives for the lifetime of its room; it is never removed on
// disconnect, so reattach keeps working. History and the sequence counter
// are mutated only under the owning room's lock.
type Participant struct {
	addr    types.Address
	secret  types.Secret
	session types.Session
	nextSeq uint64
	history []codec.Envelope
}

func newParticipant(addr types.Address, session types.Session) *Participant {
	return &Participant{
		addr:    addr,
		secret:  types.Secret(uuid.NewString()),
		session: session,
	}
}

// Addr returns the participant's routing address.
func (p *Participant) Addr() types.Address { return p.addr }

// Name returns the registered name; empty for the owner slot.
func (p *Participant) Name() types.ParticipantName { return p.addr.Name }

// Secret returns the reauthentication token issued at creation.
func (p *Participant) Secret() types.Secret { return p.secret }

// NextSeq returns the outbound sequence counter.
func (p *Participant) NextSeq() uint64 { return p.nextSeq }

// History returns a copy of the retained history.
func (p *Participant) History() []codec.Envelope {
	out := make([]codec.Envelope, len(p.history))
	copy(out, p.history)
	return out
}

// push emits an envelope to this participant: wrap with the current
// sequence number, best-effort write to the live session, then retain. A
// failed or impossible write is swallowed; the entry is still retained and
// the counter still advances, so replay can repair the gap.
func (p *Participant) push(env codec.Envelope) {
	data, err := codec.Encode(codec.Inbound{Q: p.nextSeq, Msg: env})
	if err != nil {
		logging.Error(context.Background(), "failed to encode envelope",
			zap.String("kind", string(env.Kind())), zap.Error(err))
		return
	}

	if p.session != nil {
		if err := p.session.WriteText(data); err != nil {
			logging.Debug(context.Background(), "dropped write to session",
				zap.String("participant", p.addr.String()), zap.Error(err))
		}
	}

	p.retain(env)
}

// retain appends an envelope to the history and advances the sequence
// counter without touching the wire. Used for public-log replay at
// registration, where the client catches up via repeat.
func (p *Participant) retain(env codec.Envelope) {
	p.history = append(p.history, env)
	p.nextSeq++
	metrics.EnvelopesPushed.WithLabelValues(string(env.Kind())).Inc()
}

// shadow appends a history-only record of a message this participant sent.
// Shadows do not advance the sequence counter and never reach the wire
// outside a repeated envelope.
func (p *Participant) shadow(to types.Address, content []byte) {
	p.history = append(p.history, codec.Shadow{To: to, Content: content})
}

// replay returns the history tail a client is missing. expectedNext is the
// number of inbound envelopes the client believes it has received; the walk
// counts only non-shadow entries against it, then returns everything after
// that point, shadows included in their original order.
func (p *Participant) replay(expectedNext int) []codec.Envelope {
	real := 0
	caret := 0
	for _, env := range p.history {
		if real == expectedNext {
			break
		}
		if env.Kind() != codec.KindShadow {
			real++
		}
		caret++
	}

	tail := make([]codec.Envelope, len(p.history)-caret)
	copy(tail, p.history[caret:])
	return tail
}

// attach performs a session takeover: any prior session is closed with
// Overridden before the new one is installed.
func (p *Participant) attach(session types.Session) {
	if p.session != nil {
		p.session.Close(types.CloseOverridden)
	}
	p.session = session
}
