package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/session"
	"github.com/emberwire/relay/internal/v0/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait = 10 * time.Second
	// sendBuffer bounds outbound frames per session. A full buffer drops
	// that single write attempt; history still advances and replay repairs.
	sendBuffer = 256
)

var errSendBufferFull = errors.New("session send buffer full")

// Client owns one WebSocket session. It implements types.Session for the
// room layer: WriteText never blocks, and Close delivers the application
// cause exactly once.
type Client struct {
	conn wsConnection

	mu         sync.RWMutex
	closed     bool
	issuedCode types.CloseCode // nonzero once the relay issued a close

	closeOnce sync.Once
	send      chan []byte
	closeCh   chan types.CloseCode
}

func newClient(conn wsConnection) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		closeCh: make(chan types.CloseCode, 1),
	}
}

// WriteText enqueues a text frame. A closed session or a full buffer drops
// the frame and reports an error the room layer swallows.
func (c *Client) WriteText(data []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errors.New("session closed")
	}
	c.mu.RUnlock()

	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close issues an application close cause. Idempotent; the first cause
// wins. The write pump delivers the close frame and tears the
// connection down.
func (c *Client) Close(code types.CloseCode) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.issuedCode = code
		c.mu.Unlock()
		c.closeCh <- code
	})
}

// closeCause resolves the cause the state machine should see for this
// session's termination: a relay-issued cause takes precedence (we already
// told everyone what happened); otherwise the peer's close code, or 1006
// for a dirty drop.
func (c *Client) closeCause(readErr error) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.issuedCode != 0 {
		return int(c.issuedCode)
	}

	var closeErr *websocket.CloseError
	if errors.As(readErr, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

// writePump serializes all writes to the connection: queued frames, then
// on close the close frame with the application cause.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Debug(context.Background(), "error writing message", zap.Error(err))
				return
			}
		case code := <-c.closeCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame := websocket.FormatCloseMessage(int(code), code.String())
			_ = c.conn.WriteMessage(websocket.CloseMessage, frame)
			return
		}
	}
}

// readPump feeds inbound text frames to the state machine until the
// connection dies, then propagates the terminal close cause.
func (c *Client) readPump(machine *session.Conn) {
	var readErr error
	defer func() {
		machine.HandleClose(c.closeCause(readErr))
		_ = c.conn.Close()
		metrics.DecSession()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		machine.HandleFrame(string(data))
	}
}
