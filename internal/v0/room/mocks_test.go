package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/types"
)

// mockSession implements types.Session, capturing writes and close causes.
type mockSession struct {
	mu         sync.Mutex
	writes     [][]byte
	closeCodes []types.CloseCode
	writeErr   error
}

func (m *mockSession) WriteText(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.writes = append(m.writes, cp)
	return nil
}

func (m *mockSession) Close(code types.CloseCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCodes = append(m.closeCodes, code)
}

func (m *mockSession) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

func (m *mockSession) CloseCodes() []types.CloseCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.CloseCode, len(m.closeCodes))
	copy(out, m.closeCodes)
	return out
}

// newTestRoom builds a room whose join limiter never bans.
func newTestRoom(limit int) *Room {
	joins := ratelimit.NewJoinLimiter(ratelimit.JoinConfig{
		MaxUsers:    1000,
		PerNSeconds: time.Second,
		BanFor:      time.Minute,
	})
	return New("TEST", limit, "192.0.2.1", joins)
}

// newStrictRoom builds a room that bans an address on its second attempt
// inside the window, on a fake clock so the window never moves.
func newStrictRoom() *Room {
	fake := clocktesting.NewFakePassiveClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	joins := ratelimit.NewJoinLimiterWithClock(ratelimit.JoinConfig{
		MaxUsers:    1,
		PerNSeconds: time.Hour,
		BanFor:      time.Hour,
	}, fake)
	return New("TEST", -1, "192.0.2.1", joins)
}

// wireFrame is the decoded form of one inbound wrapper written to a session.
type wireFrame struct {
	Type string          `json:"type"`
	Q    uint64          `json:"q"`
	Msg  json.RawMessage `json:"msg"`
}

func decodeFrame(t *testing.T, data []byte) wireFrame {
	t.Helper()
	var f wireFrame
	require.NoError(t, json.Unmarshal(data, &f))
	require.Equal(t, "inbound", f.Type)
	return f
}

func msgType(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var inner struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &inner))
	return inner.Type
}

func refusalCode(t *testing.T, err error) types.CloseCode {
	t.Helper()
	require.Error(t, err)
	refusal, ok := err.(*types.RefusalError)
	require.True(t, ok, "expected a refusal, got %v", err)
	return refusal.Code
}
