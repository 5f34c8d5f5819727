package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveWithin(t *testing.T, sub Subscription, d time.Duration) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sub.Receive(ctx)
}

func TestMemoryFanOut(t *testing.T) {
	b := NewMemory(10)
	defer b.Close()

	s1, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	s2, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), []byte("hello")))

	for _, s := range []Subscription{s1, s2} {
		msg, err := receiveWithin(t, s, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(msg))
	}
}

func TestMemoryNoReplay(t *testing.T) {
	b := NewMemory(10)
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), []byte("early")))

	s, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	_, err = receiveWithin(t, s, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemorySubscriptionClose(t *testing.T) {
	b := NewMemory(10)
	defer b.Close()

	s, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, b.Subscribers())

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryDisconnect(t *testing.T) {
	b := NewMemory(10)
	defer b.Close()

	s, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	b.Disconnect()

	_, err = s.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	again, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), []byte("after")))
	msg, err := receiveWithin(t, again, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "after", string(msg))
}

func TestMemoryClosed(t *testing.T) {
	b := NewMemory(1)
	require.NoError(t, b.Close())

	_, err := b.Subscribe(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.ErrorIs(t, b.Publish(context.Background(), []byte("x")), ErrClosed)
}

func TestMemorySlowSubscriberDropped(t *testing.T) {
	b := NewMemory(1)
	b.sendTimeout = 10 * time.Millisecond
	defer b.Close()

	s, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), []byte("1")))
	require.NoError(t, b.Publish(context.Background(), []byte("2")))

	msg, err := receiveWithin(t, s, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", string(msg))

	_, err = receiveWithin(t, s, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestRedisPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedis(client, "")
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), []byte(`{"device_id":"d1"}`)))

	msg, err := receiveWithin(t, sub, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"device_id":"d1"}`, string(msg))
}

func TestRedisReceiveReturnsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub, err := NewRedis(client, "").Subscribe(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive ignored cancellation")
	}
	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "close is idempotent")

	_, err = sub.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisSubscribeFailsWhenDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	b := NewRedis(client, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := b.Subscribe(ctx)
	assert.Error(t, err)
	assert.Error(t, b.Publish(ctx, []byte("x")))
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t"})
	assert.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultChannel, k.cfg.Topic)
	assert.Equal(t, time.Second, k.cfg.MaxWait)
	assert.Equal(t, 2, firstPartition(kafka.Message{}, 2, 5))
	assert.Equal(t, 0, firstPartition(kafka.Message{}))
	assert.Equal(t, DefaultKafkaBatchTimeout, k.writer.BatchTimeout)
	require.NoError(t, k.Close())
}

func TestKafkaSubscribeTriesEveryBroker(t *testing.T) {
	k, err := NewKafka(KafkaConfig{Brokers: []string{"127.0.0.1:1", "127.0.0.1:2"}})
	require.NoError(t, err)
	defer k.Close()
	k.dialer.Timeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = k.Subscribe(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Contains(t, err.Error(), "127.0.0.1:2")
}
