package hub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manoj8260/ConnectSphere/internal/models"
)

const relayChannelPrefix = "room:"

// Relay carries accepted chat events between gateway instances over one
// redis channel per room. Every instance publishes the events it accepts and
// fans incoming ones out to its local hub, so a room's members see the same
// stream no matter which instance holds their socket. The publisher's own
// members are served by the round trip too; nothing is delivered twice.
type Relay struct {
	rdb    *redis.Client
	hubs   *Manager
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRelay(rdb *redis.Client, hubs *Manager, logger *zap.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{rdb: rdb, hubs: hubs, logger: logger, ctx: ctx, cancel: cancel}
}

// Start subscribes to the room channels and begins relaying. It returns only
// after the subscription is confirmed, so events published after Start are
// never missed.
func (r *Relay) Start() error {
	pubsub := r.rdb.PSubscribe(r.ctx, relayChannelPrefix+"*")
	if _, err := pubsub.Receive(r.ctx); err != nil {
		pubsub.Close()
		return err
	}
	go r.loop(pubsub)
	r.logger.Info("relay subscribed", zap.String("pattern", relayChannelPrefix+"*"))
	return nil
}

// Publish hands an accepted event to every instance serving the room.
func (r *Relay) Publish(ctx context.Context, roomID string, frame models.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, relayChannelPrefix+roomID, payload).Err()
}

func (r *Relay) loop(pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("stopping relay")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame models.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				r.logger.Warn("discarding malformed relayed event", zap.Error(err))
				continue
			}
			room := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			if h, ok := r.hubs.Get(room); ok {
				h.Broadcast(frame)
			}
		}
	}
}

// Close stops the relay loop.
func (r *Relay) Close() { r.cancel() }
