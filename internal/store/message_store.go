package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

const (
	// MaxMessageLen bounds a single message body.
	MaxMessageLen = 5000
	// DefaultHistoryLimit caps one history page; callers paginate with a
	// seq cursor for anything older.
	DefaultHistoryLimit = 200

	appendAttempts = 3
)

var (
	ErrEmptyMessage     = errors.New("message body is empty")
	ErrMessageTooLong   = fmt.Errorf("message exceeds %d characters", MaxMessageLen)
	ErrNotRoomMember    = errors.New("sender is not a member of the room")
	ErrStoreUnavailable = errors.New("message store unavailable")
)

// Membership reports whether a user currently belongs to a room.
type Membership interface {
	IsMember(ctx context.Context, room, userID string) (bool, error)
}

// Usernames resolves a user id to a display name, empty when unknown.
type Usernames interface {
	UsernameFor(ctx context.Context, userID string) string
}

// MessageStore is the durable append-only per-room log. Appends are safe
// under concurrent calls from many rooms and assign a monotonically
// increasing seq per room.
type MessageStore struct {
	db      *gorm.DB
	members Membership
	names   Usernames
	logger  *zap.Logger

	mu   sync.Mutex
	seqs map[string]int64
}

func NewMessageStore(db *gorm.DB, members Membership, names Usernames, logger *zap.Logger) *MessageStore {
	return &MessageStore{
		db:      db,
		members: members,
		names:   names,
		logger:  logger,
		seqs:    make(map[string]int64),
	}
}

// Append validates and persists one chat event, returning the stored row
// with its assigned seq. Once Append returns nil the event has been
// committed; broadcast happens only after a successful append.
func (s *MessageStore) Append(ctx context.Context, roomID string, ev models.Message) (*models.Message, error) {
	body := strings.TrimSpace(ev.Body)
	if body == "" {
		return nil, ErrEmptyMessage
	}
	if len(body) > MaxMessageLen {
		return nil, ErrMessageTooLong
	}
	if ev.MessageType == "" {
		ev.MessageType = models.TypeMessage
	}

	if ev.MessageType == models.TypeMessage {
		member, err := s.members.IsMember(ctx, roomID, ev.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: membership lookup: %v", ErrStoreUnavailable, err)
		}
		if !member {
			return nil, ErrNotRoomMember
		}
	}

	row := models.Message{
		RoomID:         roomID,
		UserID:         ev.UserID,
		SenderUsername: s.resolveUsername(ctx, ev),
		MessageType:    ev.MessageType,
		Body:           body,
		Timestamp:      ev.Timestamp,
	}
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		seq, err := s.nextSeq(roomID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		row.Seq = seq

		if lastErr = s.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			return &row, nil
		}
		// another gateway instance may have taken this seq; drop the cached
		// counter so the retry reseeds from the table
		s.forgetSeq(roomID)
	}
	s.logger.Error("message append failed",
		zap.String("room", roomID),
		zap.String("user", ev.UserID),
		zap.Error(lastErr))
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// History returns up to limit events for a room, oldest first. With a zero
// limit the default page size applies; beforeSeq > 0 pages further back.
func (s *MessageStore) History(ctx context.Context, roomID string, limit int, beforeSeq int64) ([]models.Message, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}

	var rows []models.Message
	if err := q.Order("seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// HistorySince returns events with seq strictly greater than sinceSeq,
// oldest first, capped at the default page size. It backs the post-join
// catch-up fetch for events appended while a replay query was in flight.
func (s *MessageStore) HistorySince(ctx context.Context, roomID string, sinceSeq int64) ([]models.Message, error) {
	var rows []models.Message
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, sinceSeq).
		Order("seq ASC").Limit(DefaultHistoryLimit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rows, nil
}

// resolveUsername prefers the snapshot over the token claim so renamed users
// show their current name in history; "Unknown" is the last resort.
func (s *MessageStore) resolveUsername(ctx context.Context, ev models.Message) string {
	if s.names != nil {
		if name := s.names.UsernameFor(ctx, ev.UserID); name != "" {
			return name
		}
	}
	if ev.SenderUsername != "" {
		return ev.SenderUsername
	}
	return "Unknown"
}

// forgetSeq drops the cached counter for a room so the next allocation
// reseeds from MAX(seq).
func (s *MessageStore) forgetSeq(roomID string) {
	s.mu.Lock()
	delete(s.seqs, roomID)
	s.mu.Unlock()
}

// nextSeq hands out the per-room sequence, seeding the counter from the
// table on first touch of a room.
func (s *MessageStore) nextSeq(roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.seqs[roomID]
	if !ok {
		var seeded struct{ Max int64 }
		err := s.db.Model(&models.Message{}).
			Where("room_id = ?", roomID).
			Select("COALESCE(MAX(seq), 0) AS max").
			Scan(&seeded).Error
		if err != nil {
			return 0, err
		}
		cur = seeded.Max
	}
	cur++
	s.seqs[roomID] = cur
	return cur, nil
}
