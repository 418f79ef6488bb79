package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// Room names are slugs: lowercase alnum, hyphen, underscore, at most 20 chars.
var roomNameRe = regexp.MustCompile(`^[a-z0-9_-]{1,20}$`)

func IsValidRoomName(name string) bool { return roomNameRe.MatchString(name) }

const (
	roomKeyPrefix = "room:"
	membersSuffix = ":members"
	eventsChannel = "rooms"
)

// RoomEvent is what the room service publishes on the "rooms" channel
// whenever it creates, updates, or deletes a room.
type RoomEvent struct {
	Event    string `json:"event"`
	RoomName string `json:"room_name"`
}

// Registry is the gateway's read-side of the external room service. Rooms
// live in redis hashes (room:<name>) with a member set (room:<name>:members);
// the gateway never creates or deletes them. Lookups are cached in-process
// and invalidated by room events.
type Registry struct {
	rdb    *redis.Client
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*models.RoomInfo

	onDeleted func(room string)
	onUpdated func(room string)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(rdb *redis.Client, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		rdb:    rdb,
		logger: logger,
		cache:  make(map[string]*models.RoomInfo),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnRoomDeleted registers the teardown hook. Set it before SubscribeRoomEvents.
func (rg *Registry) OnRoomDeleted(fn func(room string)) { rg.onDeleted = fn }

// OnRoomUpdated registers the update hook. Set it before SubscribeRoomEvents.
func (rg *Registry) OnRoomUpdated(fn func(room string)) { rg.onUpdated = fn }

// Resolve returns room metadata, or ErrRoomNotFound when the room does not
// exist. Malformed names resolve to not-found rather than erroring.
func (rg *Registry) Resolve(ctx context.Context, name string) (*models.RoomInfo, error) {
	if !IsValidRoomName(name) {
		return nil, ErrRoomNotFound
	}

	rg.mu.RLock()
	if info, ok := rg.cache[name]; ok {
		cp := *info
		rg.mu.RUnlock()
		return &cp, nil
	}
	rg.mu.RUnlock()

	vals, err := rg.rdb.HGetAll(ctx, roomKeyPrefix+name).Result()
	if err != nil {
		return nil, fmt.Errorf("room lookup: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrRoomNotFound
	}

	info := &models.RoomInfo{
		Name:      name,
		Owner:     vals["owner"],
		CreatedAt: vals["createdAt"],
	}

	rg.mu.Lock()
	rg.cache[name] = info
	rg.mu.Unlock()

	cp := *info
	return &cp, nil
}

// IsMember reports whether the user currently belongs to the room.
func (rg *Registry) IsMember(ctx context.Context, room, userID string) (bool, error) {
	ok, err := rg.rdb.SIsMember(ctx, roomKeyPrefix+room+membersSuffix, userID).Result()
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return ok, nil
}

// ListRooms returns every room the room service has registered, sorted by name.
func (rg *Registry) ListRooms(ctx context.Context) ([]models.RoomInfo, error) {
	keys, err := rg.rdb.Keys(ctx, roomKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("room listing: %w", err)
	}

	rooms := make([]models.RoomInfo, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, membersSuffix) {
			continue
		}
		name := strings.TrimPrefix(key, roomKeyPrefix)
		info, err := rg.Resolve(ctx, name)
		if err != nil {
			continue
		}
		rooms = append(rooms, *info)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

// SubscribeRoomEvents listens for room lifecycle events from the room
// service and keeps the cache honest. Run it in its own goroutine.
func (rg *Registry) SubscribeRoomEvents() {
	pubsub := rg.rdb.Subscribe(rg.ctx, eventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	rg.logger.Info("subscribed to room events", zap.String("channel", eventsChannel))

	for {
		select {
		case <-rg.ctx.Done():
			rg.logger.Info("stopping room event subscriber")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				rg.logger.Warn("discarding malformed room event", zap.Error(err))
				continue
			}
			rg.handleRoomEvent(&event)
		}
	}
}

func (rg *Registry) handleRoomEvent(event *RoomEvent) {
	rg.mu.Lock()
	delete(rg.cache, event.RoomName)
	rg.mu.Unlock()

	switch event.Event {
	case "room_deleted":
		rg.logger.Info("room deleted upstream", zap.String("room", event.RoomName))
		if rg.onDeleted != nil {
			rg.onDeleted(event.RoomName)
		}
	case "room_created", "room_updated":
		if rg.onUpdated != nil {
			rg.onUpdated(event.RoomName)
		}
	default:
		rg.logger.Warn("unknown room event", zap.String("event", event.Event))
	}
}

// Close stops the event subscriber.
func (rg *Registry) Close() { rg.cancel() }
