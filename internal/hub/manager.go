package hub

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/metrics"
	"github.com/manoj8260/ConnectSphere/internal/models"
)

// Manager owns the live hubs, one per room with at least one connected
// session. Hubs are created on first join and torn down when the last
// session leaves; no idle hubs persist.
type Manager struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	logger *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		hubs:   make(map[string]*Hub),
		logger: logger,
	}
}

// Join attaches a session to the room's hub, creating the hub when this is
// the first session. Creation and join happen under one lock so a concurrent
// empty-teardown cannot orphan the session.
func (m *Manager) Join(roomID string, s *Session) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hubs[roomID]
	if !ok {
		h = NewHub(roomID, m.logger)
		m.hubs[roomID] = h
		metrics.ActiveHubs.Inc()
		m.logger.Info("hub created", zap.String("room", roomID))
	}
	h.Join(s)
	return h
}

// Leave detaches a session and returns the number of remaining members.
// The hub is destroyed when the member set becomes empty.
func (m *Manager) Leave(roomID string, s *Session) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hubs[roomID]
	if !ok {
		return 0
	}
	n := h.Leave(s)
	if n == 0 {
		delete(m.hubs, roomID)
		metrics.ActiveHubs.Dec()
		m.logger.Info("hub destroyed", zap.String("room", roomID))
	}
	return n
}

// Get returns the live hub for a room, if any.
func (m *Manager) Get(roomID string) (*Hub, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[roomID]
	return h, ok
}

// ActiveHubs returns the number of live hubs.
func (m *Manager) ActiveHubs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}

// CloseRoom broadcasts a final notice and closes every session in the room.
// Used when the room service deletes a room out from under live members.
func (m *Manager) CloseRoom(roomID string, frame models.Frame) {
	m.mu.Lock()
	h, ok := m.hubs[roomID]
	if ok {
		delete(m.hubs, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	metrics.ActiveHubs.Dec()
	h.Broadcast(frame)
	for _, s := range h.Sessions() {
		s.Flush(closeWriteWait)
		s.Close(websocket.CloseGoingAway)
		h.Leave(s)
	}
	m.logger.Info("hub closed, room deleted upstream", zap.String("room", roomID))
}
