package hub

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/metrics"
	"github.com/manoj8260/ConnectSphere/internal/models"
)

// Hub owns the fan-out for exactly one room. Membership changes and
// broadcast enumeration serialize on one mutex, which is never held across
// a socket write: delivery only enqueues onto each member's buffered queue.
type Hub struct {
	RoomID string

	mu       sync.Mutex
	sessions map[*Session]struct{}
	logger   *zap.Logger
}

func NewHub(roomID string, logger *zap.Logger) *Hub {
	return &Hub{
		RoomID:   roomID,
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

// Join adds a session to the member set. Join notices for the others are the
// dispatcher's call; the joiner itself never gets one.
func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.ActiveSessions.Inc()
	h.logger.Info("session joined room",
		zap.String("room", h.RoomID),
		zap.String("user", s.Identity.Username),
		zap.Int("members", n))
}

// Leave removes a session and returns the number of remaining members so
// the caller can tear down an empty hub.
func (h *Hub) Leave(s *Session) int {
	h.mu.Lock()
	_, present := h.sessions[s]
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()

	if present {
		metrics.ActiveSessions.Dec()
		h.logger.Info("session left room",
			zap.String("room", h.RoomID),
			zap.String("user", s.Identity.Username),
			zap.Int("members", n))
	}
	return n
}

// Broadcast delivers a frame to every member including the sender: a sender's
// own UI renders its message only from this echo.
func (h *Hub) Broadcast(frame models.Frame) { h.broadcast(nil, frame) }

// BroadcastExcept delivers to everyone but skip. Used for join/leave notices,
// which the affected session must not receive about itself.
func (h *Hub) BroadcastExcept(skip *Session, frame models.Frame) { h.broadcast(skip, frame) }

func (h *Hub) broadcast(skip *Session, frame models.Frame) {
	h.mu.Lock()
	var slow []*Session
	for s := range h.sessions {
		if s == skip {
			continue
		}
		if !s.Enqueue(frame) {
			slow = append(slow, s)
		}
	}
	h.mu.Unlock()

	// A member that cannot keep up is cut loose rather than allowed to stall
	// the room. Its read loop will unwind through the normal leave path.
	for _, s := range slow {
		h.logger.Warn("disconnecting slow consumer",
			zap.String("room", h.RoomID),
			zap.String("session", s.ID),
			zap.String("user", s.Identity.Username))
		metrics.SlowConsumerDisconnects.Inc()
		s.Close(websocket.ClosePolicyViolation)
	}
	metrics.MessagesBroadcast.Inc()
}

// Len returns the current member count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Sessions returns a snapshot of the member set.
func (h *Hub) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}
