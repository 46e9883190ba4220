// Package registry allocates room codes and tracks active rooms.
package registry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/room"
	"github.com/emberwire/relay/internal/v0/types"
)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Registry maps room codes to live rooms. It is its own serialization
// domain: allocation, lookup, and free all run under one mutex.
type Registry struct {
	mu      sync.Mutex
	rooms   map[types.RoomCode]*room.Room
	joinCfg ratelimit.JoinConfig
}

// New creates an empty registry. joinCfg seeds each new room's join
// limiter.
func New(joinCfg ratelimit.JoinConfig) *Registry {
	return &Registry{
		rooms:   make(map[types.RoomCode]*room.Room),
		joinCfg: joinCfg,
	}
}

func randomTail() string {
	b := make([]byte, 4)
	for i := range b {
		b[i] = codeLetters[rand.IntN(len(codeLetters))]
	}
	return string(b)
}

// Allocate creates a room under a fresh code. Codes are 4 uppercase
// letters; with a prefix the stored code is prefix+letters and uniqueness
// is checked on the combined string. Collisions retry.
func (r *Registry) Allocate(limit int, prefix string, ownerAddr string) *room.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code types.RoomCode
	for {
		code = types.RoomCode(prefix + randomTail())
		if _, taken := r.rooms[code]; !taken {
			break
		}
	}

	rm := room.New(code, limit, ownerAddr, ratelimit.NewJoinLimiter(r.joinCfg))
	r.rooms[code] = rm
	metrics.ActiveRooms.Inc()

	logging.Info(context.Background(), "room allocated", zap.String("room_code", string(code)))
	return rm
}

// Get returns the room stored under code.
func (r *Registry) Get(code types.RoomCode) (*room.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	return rm, ok
}

// Free removes a closed room. Freeing an absent code is an invariant
// violation: it is reported as an error and otherwise ignored.
func (r *Registry) Free(code types.RoomCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[code]; !ok {
		return fmt.Errorf("free of unknown room code %q", code)
	}
	delete(r.rooms, code)
	metrics.ActiveRooms.Dec()
	return nil
}

// CloseAll closes every active room and empties the registry. Used at
// process shutdown; each session is closed with ServerClosing.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for code, rm := range r.rooms {
		rooms = append(rooms, rm)
		delete(r.rooms, code)
		metrics.ActiveRooms.Dec()
	}
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.Close()
	}
	logging.Info(context.Background(), "all rooms closed", zap.Int("count", len(rooms)))
}

// Len returns the number of active rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Snapshot returns inspector views of every active room.
func (r *Registry) Snapshot() []room.Snapshot {
	r.mu.Lock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	out := make([]room.Snapshot, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Snapshot())
	}
	return out
}
