package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records payloads and can be told to fail.
type fakeConn struct {
	mu       sync.Mutex
	received [][]byte
	fail     bool
	sends    atomic.Int64
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	c.sends.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.received...)
}

func TestDeliverToRegistered(t *testing.T) {
	r := New(nil)
	conn := &fakeConn{}
	r.Register("d1", conn)

	result := r.Deliver(context.Background(), "d1", []byte("m"))

	assert.Equal(t, Delivered, result)
	assert.Equal(t, [][]byte{[]byte("m")}, conn.messages())
}

func TestLaterRegisterSupersedes(t *testing.T) {
	r := New(nil)
	h1 := &fakeConn{}
	h2 := &fakeConn{}

	r.Register("d", h1)
	r.Register("d", h2)

	assert.Equal(t, Delivered, r.Deliver(context.Background(), "d", []byte("m")))
	assert.Empty(t, h1.messages())
	assert.Len(t, h2.messages(), 1)
	assert.Equal(t, 1, r.Len())
}

func TestReplaceReturnsPrevious(t *testing.T) {
	r := New(nil)
	h1 := &fakeConn{}
	h2 := &fakeConn{}

	prev, replaced := r.Replace("d", h1)
	assert.Nil(t, prev)
	assert.False(t, replaced)

	prev, replaced = r.Replace("d", h2)
	assert.True(t, replaced)
	assert.Same(t, h1, prev)

	// Re-registering the same handle is not a supersede.
	prev, replaced = r.Replace("d", h2)
	assert.Nil(t, prev)
	assert.False(t, replaced)
}

func TestDeliverUnregistered(t *testing.T) {
	r := New(nil)
	other := &fakeConn{}
	r.Register("other", other)

	assert.Equal(t, NotDelivered, r.Deliver(context.Background(), "missing", []byte("m")))
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, other.sends.Load())
}

func TestFailedSendEvicts(t *testing.T) {
	r := New(nil)
	dead := &fakeConn{fail: true}
	r.Register("d", dead)

	assert.Equal(t, NotDelivered, r.Deliver(context.Background(), "d", []byte("m1")))
	assert.Equal(t, int64(1), dead.sends.Load())

	assert.Equal(t, NotDelivered, r.Deliver(context.Background(), "d", []byte("m2")))
	assert.Equal(t, int64(1), dead.sends.Load(), "dead handle must not be retried")
	assert.Zero(t, r.Len())
}

// supersedingConn registers a replacement while its own send is in flight.
type supersedingConn struct {
	r           *Registry
	replacement Conn
}

func (c *supersedingConn) Send(ctx context.Context, payload []byte) error {
	c.r.Register("d", c.replacement)
	return errors.New("closed")
}

func TestFailedSendDoesNotEvictReplacement(t *testing.T) {
	r := New(nil)
	fresh := &fakeConn{}
	r.Register("d", &supersedingConn{r: r, replacement: fresh})

	assert.Equal(t, NotDelivered, r.Deliver(context.Background(), "d", []byte("m")))

	current, ok := r.Lookup("d")
	require.True(t, ok)
	assert.Same(t, fresh, current)
}

func TestUnregister(t *testing.T) {
	r := New(nil)
	r.Register("d", &fakeConn{})

	r.Unregister("d")
	r.Unregister("d")
	r.Unregister("never-registered")

	assert.Zero(t, r.Len())
	assert.Equal(t, NotDelivered, r.Deliver(context.Background(), "d", []byte("m")))
}

func TestReleaseOnlyCurrent(t *testing.T) {
	r := New(nil)
	old := &fakeConn{}
	current := &fakeConn{}
	r.Register("d", old)
	r.Register("d", current)

	assert.False(t, r.Release("d", old))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Release("d", current))
	assert.Zero(t, r.Len())
	assert.False(t, r.Release("d", current))
}

func TestDevices(t *testing.T) {
	r := New(nil)
	r.Register("b", &fakeConn{})
	r.Register("a", &fakeConn{})

	assert.Equal(t, []string{"a", "b"}, r.Devices())
}

func TestConcurrentAccess(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("d%d", i%5)
			for j := 0; j < 200; j++ {
				conn := &fakeConn{fail: j%7 == 0}
				r.Register(id, conn)
				r.Deliver(context.Background(), id, []byte("m"))
				if j%3 == 0 {
					r.Release(id, conn)
				}
				if j%11 == 0 {
					r.Unregister(id)
				}
				_ = r.Devices()
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 5)
}
