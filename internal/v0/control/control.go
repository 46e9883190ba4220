// Package control implements the create-room / close-room operations and
// the per-address room-ownership cap.
package control

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/registry"
	"github.com/emberwire/relay/internal/v0/types"
)

// MaxOwnedRooms is the number of rooms a single address may own at once.
const MaxOwnedRooms = 3

var (
	// ErrOwnershipCap means the requester already owns MaxOwnedRooms rooms.
	ErrOwnershipCap = errors.New("limit reached")
	// ErrRoomNotFound means the close target does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnauthorized means the supplied secret does not match the owner's.
	ErrUnauthorized = errors.New("owner secret mismatch")
)

// Control authorizes room creation and closure. The ownership counter is
// its own serialization domain; entries at zero are dropped, so at any
// instant the count of rooms owned by an address equals its counter entry
// (absent meaning zero).
type Control struct {
	mu    sync.Mutex
	reg   *registry.Registry
	owned map[string]int
}

// New wires the control plane to a registry.
func New(reg *registry.Registry) *Control {
	return &Control{
		reg:   reg,
		owned: make(map[string]int),
	}
}

// Created is the successful create-room response.
type Created struct {
	// Code is the short display tail of the room code.
	Code string `json:"c"`
	// OwnerSecret authorizes owner attach and room closure.
	OwnerSecret types.Secret `json:"su"`
}

// CreateRoom allocates a room on behalf of requesterAddr. A limit below
// zero normalizes to -1 (unbounded). Addresses at the ownership cap are
// refused.
func (c *Control) CreateRoom(limit int, prefix string, requesterAddr string) (Created, error) {
	if limit < 0 {
		limit = -1
	}

	c.mu.Lock()
	if c.owned[requesterAddr] >= MaxOwnedRooms {
		c.mu.Unlock()
		metrics.CreateRefused.Inc()
		return Created{}, ErrOwnershipCap
	}
	c.owned[requesterAddr]++
	c.mu.Unlock()

	rm := c.reg.Allocate(limit, prefix, requesterAddr)
	metrics.RoomsCreated.Inc()

	logging.Info(context.Background(), "room created",
		zap.String("room_code", string(rm.Code())), zap.String("owner_addr", requesterAddr))
	return Created{Code: rm.Code().Tail(), OwnerSecret: rm.OwnerSecret()}, nil
}

// CloseRoom authorizes by owner secret, closes every session in the room,
// releases the ownership slot, and frees the code.
func (c *Control) CloseRoom(code types.RoomCode, su types.Secret) error {
	rm, ok := c.reg.Get(code)
	if !ok {
		return ErrRoomNotFound
	}
	if rm.OwnerSecret() != su {
		return ErrUnauthorized
	}

	c.release(rm.OwnerAddr())
	rm.Close()
	if err := c.reg.Free(code); err != nil {
		logging.Error(context.Background(), "free of closed room failed", zap.Error(err))
	}

	logging.Info(context.Background(), "room closed", zap.String("room_code", string(code)))
	return nil
}

func (c *Control) release(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.owned[addr]--
	if c.owned[addr] <= 0 {
		delete(c.owned, addr)
	}
}

// OwnedBy returns how many rooms addr currently owns.
func (c *Control) OwnedBy(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned[addr]
}
