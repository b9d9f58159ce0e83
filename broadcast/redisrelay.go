package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/pipeline"
)

const relayChannelPrefix = "progress:"

// RedisRelay fans progress events out across processes: the worker tier
// publishes through it, and each API process runs its receive loop to feed
// a local Hub that SSE/WS subscribers hang off. Delivery stays
// at-most-once end to end; Redis pub/sub drops events for processes that
// are not subscribed at publish time, and the Hub snapshot covers late
// client subscribes within a process.
type RedisRelay struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisRelay wires rdb and the local hub together.
func NewRedisRelay(rdb *redis.Client, hub *Hub, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, hub: hub, logger: logger.With(zap.String("component", "redisrelay"))}
}

// Publish delivers event to the local hub and broadcasts it to every
// other process subscribed to the task's channel. Implements
// pipeline.ProgressPublisher.
func (rl *RedisRelay) Publish(ctx context.Context, taskID string, event pipeline.ProgressEvent) {
	rl.hub.Publish(ctx, taskID, event)

	body, err := json.Marshal(event)
	if err != nil {
		rl.logger.Warn("relay: marshal event failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if err := rl.rdb.Publish(ctx, relayChannelPrefix+taskID, body).Err(); err != nil {
		rl.logger.Warn("relay: redis publish failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Run subscribes to all task progress channels and feeds received events
// into the local hub until ctx is cancelled. Intended for API processes,
// which never publish themselves; a process running both sides would see
// its own events twice.
func (rl *RedisRelay) Run(ctx context.Context) error {
	sub := rl.rdb.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, open := <-ch:
			if !open {
				return nil
			}
			taskID := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			var event pipeline.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				rl.logger.Warn("relay: bad event payload", zap.String("task_id", taskID), zap.Error(err))
				continue
			}
			rl.hub.Publish(ctx, taskID, event)
		}
	}
}
