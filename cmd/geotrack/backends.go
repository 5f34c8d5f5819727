package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/geotrack/geotrack/internal/bus"
	"github.com/geotrack/geotrack/internal/config"
	"github.com/geotrack/geotrack/internal/geostore"
	"github.com/geotrack/geotrack/internal/metacache"
)

// backends holds the store, cache and bus selected by configuration.
type backends struct {
	geo   geostore.Store
	cache metacache.Cache
	bus   bus.Bus

	// redis is the client shared by every Redis-backed component, nil when
	// none is configured.
	redis *redis.Client
}

// newBackends builds the configured backends. Redis is dialed lazily; a
// reachability check is logged but never fatal, since the relay and the
// request paths already recover from an unavailable server.
func newBackends(ctx context.Context, cfg *config.Config, instanceID string, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}

	if cfg.Store.Backend == "redis" || cfg.Bus.Backend == "redis" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		err := b.redis.Ping(pingCtx).Err()
		cancel()
		entry := log.WithField("addr", cfg.Redis.Addr())
		if err != nil {
			entry.WithError(err).Warn("Redis not reachable yet")
		} else {
			entry.Info("Redis reachable")
		}
	}

	switch cfg.Store.Backend {
	case "redis":
		b.geo = geostore.NewRedis(b.redis, cfg.Store.GeoKey)
		b.cache = metacache.NewRedis(b.redis, cfg.Store.MetaPrefix, cfg.Store.MetaTTL)
	case "memory":
		b.geo = geostore.NewMemory()
		b.cache = metacache.NewMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Bus.Backend {
	case "redis":
		b.bus = bus.NewRedis(b.redis, cfg.Bus.Channel)
	case "kafka":
		k, err := bus.NewKafka(bus.KafkaConfig{
			Brokers:  cfg.Bus.Kafka.Brokers,
			Topic:    cfg.Bus.Channel,
			ClientID: "geotrack-" + instanceID,
			MaxWait:  cfg.Bus.Kafka.MaxWait,
		})
		if err != nil {
			b.close()
			return nil, fmt.Errorf("failed to create kafka bus: %w", err)
		}
		b.bus = k
	case "memory":
		b.bus = bus.NewMemory(cfg.Bus.MemoryBuffer)
	default:
		b.close()
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}

	log.WithFields(logrus.Fields{
		"store": cfg.Store.Backend,
		"bus":   cfg.Bus.Backend,
	}).Info("Backends initialized")

	return b, nil
}

// close releases the bus and the shared Redis client.
func (b *backends) close() error {
	var errs []error
	if b.bus != nil {
		if err := b.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
