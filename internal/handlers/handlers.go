package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/auth"
	"github.com/manoj8260/ConnectSphere/internal/hub"
	"github.com/manoj8260/ConnectSphere/internal/metrics"
	"github.com/manoj8260/ConnectSphere/internal/models"
	"github.com/manoj8260/ConnectSphere/internal/rooms"
	"github.com/manoj8260/ConnectSphere/internal/store"
)

// Handlers is the gateway dispatcher: it authenticates upgrades, resolves
// rooms, attaches sessions to hubs, and serves the message read/send API.
type Handlers struct {
	logger   *zap.Logger
	verifier *auth.Verifier
	registry *rooms.Registry
	store    *store.MessageStore
	hubs     *hub.Manager
	relay    *hub.Relay
	upgrader websocket.Upgrader
}

func NewHandlers(logger *zap.Logger, verifier *auth.Verifier, registry *rooms.Registry, msgStore *store.MessageStore, hubs *hub.Manager, relay *hub.Relay) *Handlers {
	h := &Handlers{
		logger:   logger,
		verifier: verifier,
		registry: registry,
		store:    msgStore,
		hubs:     hubs,
		relay:    relay,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	registry.OnRoomDeleted(h.handleRoomDeleted)
	registry.OnRoomUpdated(h.handleRoomUpdated)
	return h
}

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// ChatWS handles GET /ws/chat?room_name=<slug>&token=<jwt>. The older client
// sends the room under room_id; both are accepted. Authentication and room
// resolution failures reject with plain HTTP before any socket opens.
func (h *Handlers) ChatWS(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("room_name")
	if roomName == "" {
		roomName = r.URL.Query().Get("room_id")
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	if roomName == "" {
		http.Error(w, "room_name required", http.StatusBadRequest)
		return
	}
	room, err := h.registry.Resolve(r.Context(), roomName)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			http.Error(w, fmt.Sprintf("room %q not found", roomName), http.StatusNotFound)
			return
		}
		h.logger.Error("room resolution failed", zap.String("room", roomName), zap.Error(err))
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := hub.NewSession(conn, identity, room.Name, h.logger)
	go sess.WritePump()

	// The joiner sees the full history before any live event.
	lastSeq, err := h.replayHistory(sess)
	if err != nil {
		h.logger.Error("history replay failed",
			zap.String("room", room.Name),
			zap.String("user", identity.Username),
			zap.Error(err))
		sess.Close(websocket.CloseInternalServerErr)
		return
	}

	roomHub := h.hubs.Join(room.Name, sess)

	// Catch up on anything appended while the replay query was in flight.
	// A frame racing the join can arrive twice this way, never zero times.
	if gap, err := h.store.HistorySince(context.Background(), room.Name, lastSeq); err == nil {
		for _, m := range gap {
			sess.Enqueue(models.FrameFromMessage(m))
		}
	} else {
		h.logger.Warn("catch-up fetch failed", zap.String("room", room.Name), zap.Error(err))
	}

	roomHub.BroadcastExcept(sess, noticeFrame(identity.Username, models.TypeUserJoin,
		identity.Username+" joined the room"))

	normal := sess.ReadLoop(func(p models.InboundPayload) {
		h.handleInbound(roomHub, sess, p)
	})
	if !normal {
		h.logger.Info("session dropped abnormally",
			zap.String("room", room.Name),
			zap.String("user", identity.Username))
	}

	remaining := h.hubs.Leave(room.Name, sess)
	sess.Close(websocket.CloseNormalClosure)
	if remaining > 0 {
		roomHub.Broadcast(noticeFrame(identity.Username, models.TypeUserLeave,
			identity.Username+" left the room"))
	}
}

// handleInbound runs for each well-formed inbound payload. The session's
// room binding is authoritative; a mismatched room_id in the payload is
// ignored. Append completes before broadcast so a reconnecting client can
// always find a seen message in history.
func (h *Handlers) handleInbound(roomHub *hub.Hub, sess *hub.Session, p models.InboundPayload) {
	if p.RoomID != "" && p.RoomID != sess.RoomID {
		h.logger.Warn("payload room ignored, session binding wins",
			zap.String("payload_room", p.RoomID),
			zap.String("room", sess.RoomID))
	}

	stored, err := h.store.Append(context.Background(), sess.RoomID, models.Message{
		UserID:         sess.Identity.UserID,
		SenderUsername: sess.Identity.Username,
		MessageType:    models.TypeMessage,
		Body:           p.Message,
	})
	if err != nil {
		h.sendErrorFrame(sess, err)
		return
	}

	// Fan-out goes through the relay so members on other gateway instances
	// see it too; local members get it off the round trip. Two racing
	// senders can be relayed in the opposite order of their event ids:
	// seq, not live arrival, is the ordering guarantee.
	frame := models.FrameFromMessage(*stored)
	if err := h.relay.Publish(context.Background(), sess.RoomID, frame); err != nil {
		h.logger.Error("relay publish failed, delivering locally",
			zap.String("room", sess.RoomID),
			zap.Error(err))
		roomHub.Broadcast(frame)
	}
}

// sendErrorFrame surfaces a per-message failure to the sender only. It
// never terminates the session.
func (h *Handlers) sendErrorFrame(sess *hub.Session, err error) {
	msg := "message could not be delivered"
	switch {
	case errors.Is(err, store.ErrEmptyMessage):
		msg = "message is empty"
	case errors.Is(err, store.ErrMessageTooLong):
		msg = fmt.Sprintf("message exceeds %d characters", store.MaxMessageLen)
	case errors.Is(err, store.ErrNotRoomMember):
		msg = "you are not a member of this room"
	case errors.Is(err, store.ErrStoreUnavailable):
		msg = "message could not be saved, try again"
	}
	sess.Enqueue(models.Frame{
		Username:    "system",
		Message:     msg,
		MessageType: models.TypeSystem,
		Timestamp:   time.Now().UTC(),
	})
}

// replayHistory streams the room's backlog to a joiner and returns the
// highest seq it delivered, 0 for an empty room.
func (h *Handlers) replayHistory(sess *hub.Session) (int64, error) {
	rows, err := h.store.History(context.Background(), sess.RoomID, store.DefaultHistoryLimit, 0)
	if err != nil {
		return 0, err
	}
	var lastSeq int64
	for _, m := range rows {
		if !sess.Enqueue(models.FrameFromMessage(m)) {
			return 0, errors.New("session back-pressured during replay")
		}
		lastSeq = m.Seq
	}
	metrics.HistoryReplays.Inc()
	return lastSeq, nil
}

// GetMessages handles GET /message/messages/{room_name}. Responses carry the
// stored shape (sender_username) and page oldest-first, most recent page by
// default; ?limit= and ?before=<seq> page further back.
func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room_name")
	room, err := h.registry.Resolve(r.Context(), roomName)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			http.Error(w, fmt.Sprintf("room %q not found", roomName), http.StatusNotFound)
			return
		}
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before, _ := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64)

	rows, err := h.store.History(r.Context(), room.Name, limit, before)
	if err != nil {
		h.logger.Error("history fetch failed", zap.String("room", room.Name), zap.Error(err))
		http.Error(w, "failed to fetch messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

// SendMessage handles POST /message/send_msg, the HTTP send path. It
// validates exactly like the socket path and fans out through the live hub
// when one is active.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	var req struct {
		RoomName    string             `json:"room_name"`
		Message     string             `json:"message"`
		MessageType models.MessageType `json:"message_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.registry.Resolve(r.Context(), req.RoomName)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			http.Error(w, fmt.Sprintf("room %q not found", req.RoomName), http.StatusNotFound)
			return
		}
		http.Error(w, "room lookup failed", http.StatusInternalServerError)
		return
	}

	stored, err := h.store.Append(r.Context(), room.Name, models.Message{
		UserID:         identity.UserID,
		SenderUsername: identity.Username,
		MessageType:    req.MessageType,
		Body:           req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmptyMessage), errors.Is(err, store.ErrMessageTooLong):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrNotRoomMember):
			http.Error(w, "you are not a member of this room", http.StatusForbidden)
		default:
			h.logger.Error("http send failed", zap.String("room", room.Name), zap.Error(err))
			http.Error(w, "failed to send message", http.StatusInternalServerError)
		}
		return
	}

	frame := models.FrameFromMessage(*stored)
	if err := h.relay.Publish(r.Context(), room.Name, frame); err != nil {
		h.logger.Error("relay publish failed, delivering locally",
			zap.String("room", room.Name),
			zap.Error(err))
		if roomHub, ok := h.hubs.Get(room.Name); ok {
			roomHub.Broadcast(frame)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(stored)
}

// ListRooms handles GET /room/rooms, the read side of the room service.
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.ListRooms(r.Context())
	if err != nil {
		h.logger.Error("room listing failed", zap.Error(err))
		http.Error(w, "failed to list rooms", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list)
}

func (h *Handlers) handleRoomDeleted(room string) {
	h.hubs.CloseRoom(room, noticeFrame("system", models.TypeRoomUpdate,
		fmt.Sprintf("room %q was deleted", room)))
}

func (h *Handlers) handleRoomUpdated(room string) {
	if roomHub, ok := h.hubs.Get(room); ok {
		roomHub.Broadcast(noticeFrame("system", models.TypeRoomUpdate,
			fmt.Sprintf("room %q was updated", room)))
	}
}

func noticeFrame(username string, t models.MessageType, text string) models.Frame {
	return models.Frame{
		Username:    username,
		Message:     text,
		MessageType: t,
		Timestamp:   time.Now().UTC(),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
