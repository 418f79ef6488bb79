package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

// SessionState tracks the socket lifecycle:
// CONNECTING -> OPEN -> CLOSING -> CLOSED.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

// sendBuffer must exceed one full history page so a replay never trips the
// slow-consumer cutoff.
const sendBuffer = 256

const closeWriteWait = time.Second

// Session is the server-side state for one client socket bound to one room.
// It owns the socket lifecycle and the inbound/outbound pumps; fan-out goes
// through its buffered outbound queue so a stalled socket never blocks a hub.
type Session struct {
	ID       string
	Identity models.Identity
	RoomID   string

	conn   *websocket.Conn
	send   chan models.Frame
	done   chan struct{}
	once   sync.Once
	state  atomic.Int32
	logger *zap.Logger

	lastActivity atomic.Int64
}

func NewSession(conn *websocket.Conn, identity models.Identity, roomID string, logger *zap.Logger) *Session {
	s := &Session{
		ID:       uuid.New().String(),
		Identity: identity,
		RoomID:   roomID,
		conn:     conn,
		send:     make(chan models.Frame, sendBuffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	s.state.Store(int32(StateConnecting))
	s.touch()
	return s
}

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// Enqueue queues a frame for delivery. It returns false only when the
// outbound buffer is full on a live session; a send to a session already in
// teardown is dropped silently and reports success.
func (s *Session) Enqueue(frame models.Frame) bool {
	select {
	case <-s.done:
		return true
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// WritePump drains the outbound queue onto the socket. Run it in its own
// goroutine; it exits when the session closes or a write fails.
func (s *Session) WritePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Warn("outbound write failed",
					zap.String("session", s.ID),
					zap.String("user", s.Identity.Username),
					zap.Error(err))
				s.Close(websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

// ReadLoop delivers inbound payloads to fn until the socket closes. A
// malformed frame (non-JSON or no message field) is logged and dropped
// without closing the session. The return value reports whether the peer
// closed with code 1000 (user-initiated leave) as opposed to an abnormal drop.
func (s *Session) ReadLoop(fn func(models.InboundPayload)) bool {
	s.state.Store(int32(StateOpen))
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			normal := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			code := websocket.CloseAbnormalClosure
			if normal {
				code = websocket.CloseNormalClosure
			}
			s.Close(code)
			return normal
		}
		s.touch()

		var payload models.InboundPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			s.logger.Warn("dropping malformed frame",
				zap.String("session", s.ID),
				zap.String("room", s.RoomID),
				zap.Error(err))
			continue
		}
		if payload.Message == "" {
			s.logger.Warn("dropping frame without message field",
				zap.String("session", s.ID),
				zap.String("room", s.RoomID))
			continue
		}
		payload.Normalize()
		fn(payload)
	}
}

// Flush waits until the outbound queue drains or the timeout elapses. Call
// it before Close when a queued frame must still reach the peer.
func (s *Session) Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(s.send) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Close transitions the session to CLOSED exactly once, sending the given
// close code when the socket is still up. Safe to call from any goroutine.
func (s *Session) Close(code int) {
	s.once.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)
		if s.conn != nil {
			deadline := time.Now().Add(closeWriteWait)
			_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
			_ = s.conn.Close()
		}
		s.state.Store(int32(StateClosed))
	})
}
