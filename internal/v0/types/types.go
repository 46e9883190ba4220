package types

import (
	"encoding/json"
	"fmt"
)

// --- Core Domain Types ---

// RoomCode identifies a room within the registry. When the room was created
// with a prefix, the code is prefix + the 4-letter tail.
type RoomCode string

// ParticipantName is the identity a participant registers under.
type ParticipantName string

// Secret is a per-identity token issued at creation, required to reattach
// (participants) or to authorize privileged operations (owner).
type Secret string

// Tail returns the short display form of a room code: its last 4 characters.
func (c RoomCode) Tail() string {
	s := string(c)
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

// --- Routing Addresses ---

// AddressKind discriminates the routing target of a relayed message.
type AddressKind int

const (
	AddressNamed AddressKind = iota // a registered participant
	AddressOwner                    // the room owner slot
	AddressAll                      // broadcast to every participant
)

// Address is the tagged routing target of a message: the owner slot, the
// broadcast fan-out, or a named participant. On the wire the owner is the
// JSON number 1, broadcast is the JSON number 2, and a named participant is
// a JSON string, so a participant literally named "1" never collides with
// the owner sentinel.
type Address struct {
	Kind AddressKind
	Name ParticipantName
}

// Owner returns the owner routing address.
func Owner() Address { return Address{Kind: AddressOwner} }

// All returns the broadcast routing address.
func All() Address { return Address{Kind: AddressAll} }

// Named returns the routing address of the participant with the given name.
func Named(name ParticipantName) Address {
	return Address{Kind: AddressNamed, Name: name}
}

func (a Address) IsOwner() bool { return a.Kind == AddressOwner }
func (a Address) IsAll() bool   { return a.Kind == AddressAll }

func (a Address) String() string {
	switch a.Kind {
	case AddressOwner:
		return "owner"
	case AddressAll:
		return "all"
	default:
		return string(a.Name)
	}
}

const (
	wireOwner = 1
	wireAll   = 2
)

// MarshalJSON emits the wire conflation: 1 for the owner, 2 for broadcast,
// the bare name string otherwise.
func (a Address) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AddressOwner:
		return json.Marshal(wireOwner)
	case AddressAll:
		return json.Marshal(wireAll)
	default:
		return json.Marshal(string(a.Name))
	}
}

// UnmarshalJSON accepts the wire conflation. Any JSON string is a named
// participant; the numbers 1 and 2 are the owner and broadcast sentinels.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = Named(ParticipantName(s))
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("address must be a string or the sentinels 1/2: %w", err)
	}
	switch n {
	case wireOwner:
		*a = Owner()
	case wireAll:
		*a = All()
	default:
		return fmt.Errorf("unknown address sentinel %d", n)
	}
	return nil
}

// --- Close Causes ---

// CloseCode is a WebSocket close cause. The relay issues causes in the 4000
// range so clients can tell them apart from transport-level causes.
type CloseCode int

const (
	CloseServerCodeDoesntExist CloseCode = 4000 // unknown room
	CloseServerIsLocked        CloseCode = 4001 // registration refused, room locked
	CloseNameIsTaken           CloseCode = 4002
	CloseNameDoesntExist       CloseCode = 4003 // reattach to unknown name
	CloseSuCodeMismatch        CloseCode = 4004
	CloseSuAdminCodeMismatch   CloseCode = 4005
	CloseNamePropertyIsEmpty   CloseCode = 4006
	CloseRoomLimitReached      CloseCode = 4007
	CloseOverridden            CloseCode = 4010 // displaced by a fresher session
	CloseBreakingAPIChange     CloseCode = 4019 // wrong protocol version
	CloseServerClosing         CloseCode = 4020 // room shutdown
	CloseBannedByRateLimit     CloseCode = 4030
)

// CloseNormal is the transport-level clean shutdown code.
const CloseNormal = 1000

// Abnormal reports whether a transport close cause should surface a
// userleft notification: not a clean shutdown and not a relay-issued
// application cause (those already told everyone what happened).
func Abnormal(code int) bool {
	return code != CloseNormal && code < 4000
}

var closeNames = map[CloseCode]string{
	CloseServerCodeDoesntExist: "ServerCodeDoesntExist",
	CloseServerIsLocked:        "ServerIsLocked",
	CloseNameIsTaken:           "NameIsTaken",
	CloseNameDoesntExist:       "NameDoesntExist",
	CloseSuCodeMismatch:        "SuCodeMismatch",
	CloseSuAdminCodeMismatch:   "SuAdminCodeMismatch",
	CloseNamePropertyIsEmpty:   "NamePropertyIsEmpty",
	CloseRoomLimitReached:      "RoomLimitReached",
	CloseOverridden:            "Overridden",
	CloseBreakingAPIChange:     "BreakingApiChange",
	CloseServerClosing:         "ServerClosing",
	CloseBannedByRateLimit:     "BannedByRateLimit",
}

func (c CloseCode) String() string {
	if name, ok := closeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CloseCode(%d)", int(c))
}

// RefusalError carries the close cause for a refused session-open or a
// refused in-room operation. Session handling maps it onto the wire.
type RefusalError struct {
	Code CloseCode
}

func (e *RefusalError) Error() string {
	return e.Code.String()
}

// Refuse builds a RefusalError for the given cause.
func Refuse(code CloseCode) *RefusalError {
	return &RefusalError{Code: code}
}

// --- Transport Contract ---

// Session is the handle the room layer holds on a live transport session.
// WriteText is best effort: implementations must not block room progress; a
// slow or gone receiver drops that single write and reports an error, which
// callers swallow (replay repairs the gap). Close delivers the application
// cause and is idempotent.
type Session interface {
	WriteText(data []byte) error
	Close(code CloseCode)
}
