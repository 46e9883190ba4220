// Package room holds the relay's core state: participants, their histories,
// and the fan-out routing rules.
package room

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/codec"
	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/types"
)

// Room is an ephemeral message-relay context: an owner slot, a set of named
// participants, a lock flag, a capacity limit, and the public broadcast log
// replayed to every fresh registrant.
//
// All state is guarded by a single mutex; every mutation of participants,
// the lock flag, the public log, or any member's history/sequence is
// serialized with respect to every other, which makes broadcast ordering
// total within the room.
type Room struct {
	mu sync.Mutex

	code  types.RoomCode
	limit int
	lock  bool

	owner        *Participant
	participants map[types.ParticipantName]*Participant
	publicLog    []codec.Envelope

	ownerAddr string
	joins     *ratelimit.JoinLimiter
}

// Snapshot is a read-only view of a room for the inspector.
type Snapshot struct {
	Code         types.RoomCode          `json:"code"`
	Locked       bool                    `json:"locked"`
	Limit        int                     `json:"limit"`
	Participants []types.ParticipantName `json:"participants"`
	OwnerOnline  bool                    `json:"ownerOnline"`
	PublicLogLen int                     `json:"publicLogLen"`
}

// New creates a room. limit caps registrations when >= 1; -1 means
// unbounded, and 0 behaves unbounded as well because the capacity check
// only fires for limits >= 1.
// ownerAddr is the creator's network address, used for the ownership cap.
func New(code types.RoomCode, limit int, ownerAddr string, joins *ratelimit.JoinLimiter) *Room {
	return &Room{
		code:         code,
		limit:        limit,
		owner:        newParticipant(types.Owner(), nil),
		participants: make(map[types.ParticipantName]*Participant),
		ownerAddr:    ownerAddr,
		joins:        joins,
	}
}

// Code returns the full room code (prefix included).
func (r *Room) Code() types.RoomCode { return r.code }

// OwnerAddr returns the network address the room was created from.
func (r *Room) OwnerAddr() string { return r.ownerAddr }

// OwnerSecret returns the secret that authorizes owner attach and close.
func (r *Room) OwnerSecret() types.Secret { return r.owner.Secret() }

// Owner returns the owner slot's participant record.
func (r *Room) Owner() *Participant { return r.owner }

// Locked reports the lock flag.
func (r *Room) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lock
}

// SetLocked toggles the lock flag; a locked room refuses new registrations.
func (r *Room) SetLocked(locked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lock = locked
}

// Lookup returns the participant registered under name.
func (r *Room) Lookup(name types.ParticipantName) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[name]
	return p, ok
}

// Register admits a new identity. Precondition order is fixed: lock, then
// capacity, then name-taken, then name-empty, then the join rate-limit — a
// locked room refuses empty-name attempts with ServerIsLocked.
//
// On success the new participant receives its secret as a su envelope, the
// entire public log is retained into its history (no wire writes; the
// client catches up via repeat), and the owner is told with userappend.
func (r *Room) Register(name types.ParticipantName, session types.Session, remoteAddr string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lock {
		return nil, types.Refuse(types.CloseServerIsLocked)
	}
	if r.limit >= 1 && len(r.participants) >= r.limit {
		return nil, types.Refuse(types.CloseRoomLimitReached)
	}
	if _, taken := r.participants[name]; taken {
		return nil, types.Refuse(types.CloseNameIsTaken)
	}
	if name == "" {
		return nil, types.Refuse(types.CloseNamePropertyIsEmpty)
	}
	if !r.joins.Allow(remoteAddr) {
		return nil, types.Refuse(types.CloseBannedByRateLimit)
	}

	p := newParticipant(types.Named(name), session)
	r.participants[name] = p

	p.push(codec.Su{Su: p.Secret()})
	for _, env := range r.publicLog {
		p.retain(env)
	}
	r.owner.push(codec.UserAppend{User: name})

	logging.Info(context.Background(), "participant registered",
		zap.String("room_code", string(r.code)), zap.String("participant", string(name)))
	return p, nil
}

// Reattach authenticates a known identity and performs a session takeover:
// any prior session on that slot is closed with Overridden, the new one is
// installed, and the owner is told with userjoin.
func (r *Room) Reattach(name types.ParticipantName, su types.Secret, session types.Session) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[name]
	if !ok {
		return nil, types.Refuse(types.CloseNameDoesntExist)
	}
	if p.Secret() != su {
		return nil, types.Refuse(types.CloseSuCodeMismatch)
	}

	p.attach(session)
	r.owner.push(codec.UserJoin{User: name})

	logging.Info(context.Background(), "participant reattached",
		zap.String("room_code", string(r.code)), zap.String("participant", string(name)))
	return p, nil
}

// AttachOwner authenticates against the owner secret and takes over the
// owner slot, closing any prior owner session with Overridden.
func (r *Room) AttachOwner(su types.Secret, session types.Session) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner.Secret() != su {
		return nil, types.Refuse(types.CloseSuAdminCodeMismatch)
	}

	r.owner.attach(session)
	logging.Info(context.Background(), "owner attached", zap.String("room_code", string(r.code)))
	return r.owner, nil
}

// Send routes a message from sender to the given address.
//
// Owner or named target: push one msg envelope there and append a shadow to
// the sender's history. Broadcast: push a copy to every participant (the
// sender included), then the owner's copy, then append once to the public
// log, then a single to=all shadow for the sender. A named target that does
// not exist drops the whole send.
func (r *Room) Send(sender *Participant, to types.Address, content json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := codec.Msg{From: sender.Addr(), Content: content}

	switch to.Kind {
	case types.AddressAll:
		// Each recipient leg is shadow-suppressed; the sender records a
		// single to=all shadow after the owner copy and the public-log
		// append.
		for _, p := range r.participants {
			p.push(msg)
		}
		r.owner.push(msg)
		r.publicLog = append(r.publicLog, msg)
		sender.shadow(types.All(), content)

	case types.AddressOwner:
		r.owner.push(msg)
		sender.shadow(to, content)

	default:
		p, ok := r.participants[to.Name]
		if !ok {
			logging.Warn(context.Background(), "dropped send to unknown participant",
				zap.String("room_code", string(r.code)), zap.String("to", string(to.Name)))
			return
		}
		p.push(msg)
		sender.shadow(to, content)
	}
}

// Repeat answers a replay request: the history tail after the client's
// acknowledged position is written directly to the participant's current
// session. The write is not retained and does not advance the sequence
// counter.
func (r *Room) Repeat(p *Participant, expectedNext int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env := codec.Repeated{Start: expectedNext, Repeat: p.replay(expectedNext)}
	data, err := codec.Encode(env)
	if err != nil {
		logging.Error(context.Background(), "failed to encode repeated envelope",
			zap.String("room_code", string(r.code)), zap.Error(err))
		return
	}

	if p.session == nil {
		return
	}
	if err := p.session.WriteText(data); err != nil {
		logging.Debug(context.Background(), "dropped repeat write",
			zap.String("room_code", string(r.code)), zap.Error(err))
	}
}

// NotifyLeft tells the owner a named participant's session dropped
// abnormally. The owner slot itself never produces userleft.
func (r *Room) NotifyLeft(p *Participant) {
	if p.Addr().IsOwner() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner.push(codec.UserLeft{User: p.Name()})
}

// Close shuts the room down: every participant session, then the owner
// session, is closed with ServerClosing.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	logging.Info(context.Background(), "closing room", zap.String("room_code", string(r.code)))
	for _, p := range r.participants {
		if p.session != nil {
			p.session.Close(types.CloseServerClosing)
		}
	}
	if r.owner.session != nil {
		r.owner.session.Close(types.CloseServerClosing)
	}
}

// JoinAllowed runs the join rate-limit check alone. Exposed for tests; the
// register path calls the limiter under the room lock.
func (r *Room) JoinAllowed(remoteAddr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joins.Allow(remoteAddr)
}

// ParticipantCount returns the number of registered identities.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// PublicLog returns a copy of the broadcast log.
func (r *Room) PublicLog() []codec.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]codec.Envelope, len(r.publicLog))
	copy(out, r.publicLog)
	return out
}

// Snapshot builds the inspector view.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]types.ParticipantName, 0, len(r.participants))
	for name := range r.participants {
		names = append(names, name)
	}
	return Snapshot{
		Code:         r.code,
		Locked:       r.lock,
		Limit:        r.limit,
		Participants: names,
		OwnerOnline:  r.owner.session != nil,
		PublicLogLen: len(r.publicLog),
	}
}
