package server

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisChannel is the Pub/Sub channel hub instances share.
const DefaultRedisChannel = "crisis-stream:events"

// RedisBackplane relays frames over Redis Pub/Sub so that several hub
// instances serve the same event stream.
type RedisBackplane struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBackplane parses a redis:// url and returns a backplane on channel.
func NewRedisBackplane(url, channel string, logger *zap.Logger) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackplane{
		client:  redis.NewClient(opts),
		channel: channel,
		logger:  logger,
	}, nil
}

func (b *RedisBackplane) Publish(ctx context.Context, frame []byte) error {
	if err := b.client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

func (b *RedisBackplane) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to confirm subscription: %w", err)
	}

	out := make(chan []byte, backplaneBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	b.logger.Debug("subscribed to redis backplane", zap.String("channel", b.channel))
	return out, nil
}

// Ping checks the redis connection.
func (b *RedisBackplane) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackplane) Close() error {
	return b.client.Close()
}
