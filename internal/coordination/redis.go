package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis the broadcaster needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RedisBroadcaster carries registry messages over a Redis pub/sub channel.
type RedisBroadcaster struct {
	client  redisClient
	channel string
	logger  *slog.Logger
}

// NewRedisBroadcaster wraps client. channel is shared by every
// coordinating instance.
func NewRedisBroadcaster(client redisClient, channel string, logger *slog.Logger) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_broadcaster", "channel", channel),
	}, nil
}

func (b *RedisBroadcaster) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal registry message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish registry message: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(Message)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("dropping malformed registry message", "error", err)
				continue
			}
			fn(msg)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				b.logger.Debug("close pubsub", "error", err)
			}
			wg.Wait()
		})
	}, nil
}
