package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/bus"
	"github.com/geotrack/geotrack/internal/config"
	"github.com/geotrack/geotrack/internal/location"
	"github.com/geotrack/geotrack/internal/registry"
)

// State is the lifecycle position of a Relay.
type State string

const (
	StateStarting     State = "starting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Deliverer is the registry surface the relay needs.
type Deliverer interface {
	Deliver(ctx context.Context, deviceID string, payload []byte) registry.DeliveryResult
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Received   uint64 `json:"received"`
	Delivered  uint64 `json:"delivered"`
	Dropped    uint64 `json:"dropped"`
	Malformed  uint64 `json:"malformed"`
	Reconnects uint64 `json:"reconnects"`
}

// Relay forwards bus messages to live connections in this process.
type Relay struct {
	sub     bus.Subscriber
	targets Deliverer
	backoff config.RelayConfig
	log     logrus.FieldLogger

	mu    sync.RWMutex
	state State

	received   atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
	malformed  atomic.Uint64
	reconnects atomic.Uint64

	// sleep waits out a backoff delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a relay. It does nothing until Run is called.
func New(sub bus.Subscriber, targets Deliverer, backoff config.RelayConfig, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if backoff.BackoffInitial <= 0 {
		backoff.BackoffInitial = 500 * time.Millisecond
	}
	if backoff.BackoffFactor < 1 {
		backoff.BackoffFactor = 2
	}
	if backoff.BackoffMax < backoff.BackoffInitial {
		backoff.BackoffMax = backoff.BackoffInitial
	}
	return &Relay{
		sub:     sub,
		targets: targets,
		backoff: backoff,
		log:     log.WithField("component", "relay"),
		state:   StateStarting,
		sleep:   sleepContext,
	}
}

// Run subscribes and drains the bus until ctx is cancelled. It always returns
// ctx.Err().
func (r *Relay) Run(ctx context.Context) error {
	defer r.setState(StateStopped)

	delay := r.backoff.BackoffInitial
	attempt := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sub, err := r.sub.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			r.setState(StateReconnecting)
			r.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("Bus subscribe failed, retrying")
			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
			delay = r.next(delay)
			continue
		}

		if attempt > 0 {
			r.reconnects.Add(1)
			r.log.WithField("attempts", attempt).Info("Bus subscription restored")
		} else {
			r.log.Info("Bus subscription established")
		}
		r.setState(StateSubscribed)
		delay = r.backoff.BackoffInitial
		attempt = 0

		err = r.drain(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		r.setState(StateReconnecting)
		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("Bus subscription lost, reconnecting")
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
		delay = r.next(delay)
	}
}

// drain blocks on the subscription until it fails or ctx ends.
func (r *Relay) drain(ctx context.Context, sub bus.Subscription) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		r.received.Add(1)
		r.forward(ctx, payload)
	}
}

func (r *Relay) forward(ctx context.Context, payload []byte) {
	env, err := location.ParseEnvelope(payload)
	if err != nil {
		r.malformed.Add(1)
		r.log.WithError(err).WithField("bytes", len(payload)).Warn("Skipping malformed bus message")
		return
	}

	switch r.targets.Deliver(ctx, env.DeviceID, payload) {
	case registry.Delivered:
		r.delivered.Add(1)
	default:
		r.dropped.Add(1)
	}
}

func (r *Relay) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * r.backoff.BackoffFactor)
	if n > r.backoff.BackoffMax || n <= 0 {
		n = r.backoff.BackoffMax
	}
	return n
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Received:   r.received.Load(),
		Delivered:  r.delivered.Load(),
		Dropped:    r.dropped.Load(),
		Malformed:  r.malformed.Load(),
		Reconnects: r.reconnects.Load(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsStopped reports whether err is the normal result of a cancelled Run.
func IsStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
