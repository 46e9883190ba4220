package transport

import (
	"sync"
	"time"

	"github.com/emberwire/relay/internal/v0/types"
)

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}

// recordingSession implements types.Session for observing the room side.
type recordingSession struct {
	mu         sync.Mutex
	writes     [][]byte
	closeCodes []types.CloseCode
}

func (m *recordingSession) WriteText(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.writes = append(m.writes, cp)
	return nil
}

func (m *recordingSession) Close(code types.CloseCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCodes = append(m.closeCodes, code)
}

func (m *recordingSession) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}
