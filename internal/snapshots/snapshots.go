package snapshots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

const eventsChannel = "user.events"

// UserEvent is the payload the auth service publishes when an account
// is created, renamed, or deactivated.
type UserEvent struct {
	Event    string `json:"event"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// Service keeps a local table of user snapshots so persisted messages can
// carry a sender_username without calling the auth service on the hot path.
type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewService(db *gorm.DB, rdb *redis.Client, logger *zap.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{db: db, rdb: rdb, logger: logger, ctx: ctx, cancel: cancel}
}

// Get fetches a snapshot, nil when none exists.
func (s *Service) Get(ctx context.Context, userID string) (*models.UserSnapshot, error) {
	var snap models.UserSnapshot
	err := s.db.WithContext(ctx).First(&snap, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot lookup: %w", err)
	}
	return &snap, nil
}

// Upsert inserts or refreshes a snapshot keyed by user id.
func (s *Service) Upsert(ctx context.Context, snap models.UserSnapshot) error {
	snap.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "is_active", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("snapshot upsert: %w", err)
	}
	return nil
}

// UsernameFor resolves a user id to its snapshot username, empty when the
// gateway has never seen that user.
func (s *Service) UsernameFor(ctx context.Context, userID string) string {
	snap, err := s.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("snapshot resolution failed", zap.String("user", userID), zap.Error(err))
		return ""
	}
	if snap == nil {
		return ""
	}
	return snap.Username
}

// Consume applies auth-service user events to the local snapshot table.
// Run it in its own goroutine.
func (s *Service) Consume() {
	pubsub := s.rdb.Subscribe(s.ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	s.logger.Info("subscribed to user events", zap.String("channel", eventsChannel))

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("stopping user event consumer")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event UserEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn("discarding malformed user event", zap.Error(err))
				continue
			}
			s.handleUserEvent(&event)
		}
	}
}

func (s *Service) handleUserEvent(event *UserEvent) {
	if event.UserID == "" {
		s.logger.Warn("user event without user_id", zap.String("event", event.Event))
		return
	}

	switch event.Event {
	case "user_created", "user_updated":
		active := true
		if event.IsActive != nil {
			active = *event.IsActive
		}
		err := s.Upsert(s.ctx, models.UserSnapshot{
			UserID:   event.UserID,
			Username: event.Username,
			Email:    event.Email,
			IsActive: active,
		})
		if err != nil {
			s.logger.Error("snapshot upsert failed", zap.String("user", event.UserID), zap.Error(err))
		}
	case "user_deleted":
		err := s.db.Model(&models.UserSnapshot{}).
			Where("user_id = ?", event.UserID).
			Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now().UTC()}).Error
		if err != nil {
			s.logger.Error("snapshot deactivation failed", zap.String("user", event.UserID), zap.Error(err))
		}
	default:
		s.logger.Warn("unknown user event", zap.String("event", event.Event))
	}
}

// Close stops the consumer.
func (s *Service) Close() { s.cancel() }
