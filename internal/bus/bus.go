// Package bus carries location updates between processes.
//
// The bus is a best-effort broadcast: every live subscription receives every
// message published after it subscribed, and nothing is replayed. Redis
// pub/sub, a single-partition Kafka topic and an in-process fan-out are
// provided.
package bus

import (
	"context"
	"errors"
)

// DefaultChannel is the channel (or topic) name used when none is configured.
const DefaultChannel = "location_updates"

// ErrClosed is returned by operations on a closed bus or subscription.
var ErrClosed = errors.New("bus closed")

// Publisher emits payloads on the bus.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Subscriber opens subscriptions to the bus.
type Subscriber interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one live attachment to the bus.
type Subscription interface {
	// Receive blocks until a message arrives, ctx ends or the subscription
	// breaks. A broken subscription is not reused; the caller subscribes again.
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Bus is a Publisher and Subscriber with owned resources.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

var (
	_ Bus = (*Redis)(nil)
	_ Bus = (*Kafka)(nil)
	_ Bus = (*Memory)(nil)
)
