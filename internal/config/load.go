//
//
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GEOTRACK_BUS_BACKEND.
const EnvPrefix = "GEOTRACK"

// ConfigPathEnv names the environment variable holding a config file path.
const ConfigPathEnv = "GEOTRACK_CONFIG"

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"log-level": "log.level",
	"store":     "store.backend",
	"bus":       "bus.backend",
}

// Load merges Defaults() + optional config file + env overrides + changed
// flags, then validates the result. An empty path falls back to
// $GEOTRACK_CONFIG and then to ./config.yaml when present.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	// Environment overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The store target is also accepted under the bare names used by the
	// container images.
	if err := v.BindEnv("redis.host", EnvPrefix+"_REDIS_HOST", "REDIS_HOST"); err != nil {
		return nil, fmt.Errorf("failed to bind redis host env: %w", err)
	}
	if err := v.BindEnv("redis.port", EnvPrefix+"_REDIS_PORT", "REDIS_PORT"); err != nil {
		return nil, fmt.Errorf("failed to bind redis port env: %w", err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the implicit ./config.yaml is optional.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// RegisterFlags adds the command-line flags understood by Load.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a YAML or JSON configuration file")
	flags.String("addr", "", "HTTP listen address (overrides server.addr)")
	flags.String("log-level", "", "log level (overrides log.level)")
	flags.String("store", "", "store backend: redis or memory")
	flags.String("bus", "", "bus backend: redis, kafka or memory")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.geo_key", d.Store.GeoKey)
	v.SetDefault("store.meta_prefix", d.Store.MetaPrefix)
	v.SetDefault("store.meta_ttl", d.Store.MetaTTL)
	v.SetDefault("store.operation_timeout", d.Store.OperationTimeout)

	v.SetDefault("bus.backend", d.Bus.Backend)
	v.SetDefault("bus.channel", d.Bus.Channel)
	v.SetDefault("bus.memory_buffer", d.Bus.MemoryBuffer)
	v.SetDefault("bus.kafka.brokers", d.Bus.Kafka.Brokers)
	v.SetDefault("bus.kafka.max_wait", d.Bus.Kafka.MaxWait)

	v.SetDefault("relay.backoff_initial", d.Relay.BackoffInitial)
	v.SetDefault("relay.backoff_factor", d.Relay.BackoffFactor)
	v.SetDefault("relay.backoff_max", d.Relay.BackoffMax)

	v.SetDefault("stream.write_timeout", d.Stream.WriteTimeout)
	v.SetDefault("stream.heartbeat_interval", d.Stream.HeartbeatInterval)
	v.SetDefault("stream.read_idle_timeout", d.Stream.ReadIdleTimeout)
	v.SetDefault("stream.read_buffer_size", d.Stream.ReadBufferSize)
	v.SetDefault("stream.write_buffer_size", d.Stream.WriteBufferSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.dir", d.Audit.Dir)
	v.SetDefault("audit.max_size_mb", d.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", d.Audit.MaxBackups)
	v.SetDefault("audit.max_age_days", d.Audit.MaxAgeDays)
}
