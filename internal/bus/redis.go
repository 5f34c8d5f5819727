package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus on a Redis pub/sub channel. The client is shared with the
// stores and is not closed by the bus.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis returns a Bus publishing on channel.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Publish implements Publisher.
func (b *Redis) Publish(ctx context.Context, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe implements Subscriber. It waits for the server to confirm the
// subscription so a dead connection is reported here and not on first Receive.
func (b *Redis) Subscribe(ctx context.Context) (Subscription, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	return &redisSubscription{ps: ps}, nil
}

// Close implements Bus.
func (b *Redis) Close() error {
	return nil
}

type redisSubscription struct {
	ps       *redis.PubSub
	once     sync.Once
	closeErr error
}

// Receive blocks for the next message. go-redis reads pub/sub frames without
// watching ctx, so a cancelled ctx closes the subscription to unblock the read.
func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return []byte(msg.Payload), nil
}

// Close is safe to call more than once.
func (s *redisSubscription) Close() error {
	s.once.Do(func() { s.closeErr = s.ps.Close() })
	return s.closeErr
}
