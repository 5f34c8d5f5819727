package bus

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Bus for single-node deployments and tests.
//
// Publish fans out to every subscription without holding the lock; a
// subscriber whose buffer stays full for longer than the send timeout misses
// the message.
type Memory struct {
	mu          sync.RWMutex
	subs        map[*memorySubscription]struct{}
	buffer      int
	sendTimeout time.Duration
	closed      bool
}

// NewMemory creates a bus whose subscriptions buffer up to buffer messages.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 100
	}
	return &Memory{
		subs:        make(map[*memorySubscription]struct{}),
		buffer:      buffer,
		sendTimeout: 100 * time.Millisecond,
	}
}

// Publish implements Publisher.
func (b *Memory) Publish(ctx context.Context, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*memorySubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		msg := append([]byte(nil), payload...)
		timer := time.NewTimer(b.sendTimeout)
		select {
		case <-s.done:
		case s.messages <- msg:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Slow subscriber, drop.
		}
		timer.Stop()
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *Memory) Subscribe(_ context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySubscription{
		bus:      b,
		messages: make(chan []byte, b.buffer),
		done:     make(chan struct{}),
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// Disconnect severs every current subscription, as a broker restart would.
// The bus itself stays usable.
func (b *Memory) Disconnect() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*memorySubscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Memory) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close implements Bus.
func (b *Memory) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Disconnect()
	return nil
}

type memorySubscription struct {
	bus      *Memory
	messages chan []byte
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	case msg := <-s.messages:
		return msg, nil
	}
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}
