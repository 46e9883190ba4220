// Package ratelimit implements the relay's two abuse controls: the
// per-(room, address) join-strike limiter and an HTTP/WebSocket connect
// limiter.
package ratelimit

import (
	"time"

	"k8s.io/utils/clock"
)

// JoinConfig holds the join-strike thresholds, supplied at startup.
type JoinConfig struct {
	// MaxUsers is the number of strikes within one window that triggers a ban.
	MaxUsers int
	// PerNSeconds is the width of the strike window.
	PerNSeconds time.Duration
	// BanFor is how long a banning address stays refused.
	BanFor time.Duration
}

type joinState struct {
	strikes     int
	windowStart time.Time
	bannedUntil time.Time
}

// JoinLimiter tracks registration attempts per address for a single room.
// It is not safe for concurrent use on its own; callers hold the owning
// room's lock.
type JoinLimiter struct {
	cfg   JoinConfig
	clock clock.PassiveClock
	addrs map[string]*joinState
}

// NewJoinLimiter builds a limiter on the real wall clock.
func NewJoinLimiter(cfg JoinConfig) *JoinLimiter {
	return NewJoinLimiterWithClock(cfg, clock.RealClock{})
}

// NewJoinLimiterWithClock builds a limiter on an injected clock.
func NewJoinLimiterWithClock(cfg JoinConfig, c clock.PassiveClock) *JoinLimiter {
	return &JoinLimiter{
		cfg:   cfg,
		clock: c,
		addrs: make(map[string]*joinState),
	}
}

// Allow records a registration attempt from addr and reports whether it may
// proceed. Attempts inside the current window accumulate strikes; reaching
// MaxUsers strikes bans the address for BanFor. An attempt outside the
// window resets the strike count and starts a new window.
func (l *JoinLimiter) Allow(addr string) bool {
	now := l.clock.Now()

	st, ok := l.addrs[addr]
	if !ok {
		st = &joinState{}
		l.addrs[addr] = st
	}

	if now.Before(st.bannedUntil) {
		return false
	}

	if now.Sub(st.windowStart) < l.cfg.PerNSeconds {
		st.strikes++
		if st.strikes >= l.cfg.MaxUsers {
			st.bannedUntil = now.Add(l.cfg.BanFor)
			return false
		}
		return true
	}

	st.strikes = 0
	st.windowStart = now
	return true
}
