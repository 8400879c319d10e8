package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/ports"
)

// DefaultChannel is the pub/sub channel relay instances share.
const DefaultChannel = "relay:events"

// Redis fans relay frames out across instances over a Redis pub/sub channel.
// Pub/sub gives no durability and no replay, which matches the relay's own
// contract: offline recipients are the Persistence Service's problem.
type Redis struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

var _ ports.Backplane = (*Redis)(nil)

func NewRedis(rdb *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With("component", "redis_backplane"),
	}
}

// Publish broadcasts a frame to every subscribed relay instance, including
// this one; the consumer filters by instance ID.
func (b *Redis) Publish(ctx context.Context, frame domain.RelayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal relay frame: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay frame: %w", err)
	}
	return nil
}

// Start consumes frames until ctx is cancelled, invoking handle for each
// one. Malformed frames are logged and skipped; one bad producer must not
// stall fan-in for everyone else.
func (b *Redis) Start(ctx context.Context, handle func(domain.RelayFrame)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Force the subscription before reporting started.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	b.logger.Info("backplane consumer started", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame domain.RelayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				b.logger.Warn("dropping malformed backplane frame", "error", err)
				continue
			}
			handle(frame)
		}
	}
}

// Ping reports Redis connectivity for readiness checks.
func (b *Redis) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *Redis) Close() error {
	return b.rdb.Close()
}
