package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voltledger/internal/models"
)

const BalanceEventsChannel = "ledger:balance_events"

// RedisRelay publishes balance events to Redis so that every instance, this
// one included, delivers them to its own websocket clients.
type RedisRelay struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	logger  *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, hub: hub, channel: BalanceEventsChannel, logger: logger}
}

// BalanceChanged publishes ev. A publish failure falls back to local delivery.
func (r *RedisRelay) BalanceChanged(ctx context.Context, ev models.BalanceEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal balance event", zap.Error(err))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("failed to publish balance event", zap.Int64("user_id", ev.UserID), zap.Error(err))
		r.hub.Deliver(ev)
	}
}

// Run subscribes to the channel and forwards events to the hub until ctx
// is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("subscribed to balance events", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev models.BalanceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("invalid balance event", zap.Error(err))
				continue
			}
			r.hub.Deliver(ev)
		}
	}
}
