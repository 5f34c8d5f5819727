package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete runtime configuration of a GeoTrack process.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Store  StoreConfig  `mapstructure:"store"`
	Bus    BusConfig    `mapstructure:"bus"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Stream StreamConfig `mapstructure:"stream"`
	Log    LogConfig    `mapstructure:"log"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RedisConfig is the connection target shared by the Redis-backed store,
// cache and bus.
type RedisConfig struct {
	Host        string        `mapstructure:"host" validate:"required"`
	Port        int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"gte=0"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gt=0"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// StoreConfig selects and tunes the geo index and metadata cache.
type StoreConfig struct {
	Backend          string        `mapstructure:"backend" validate:"oneof=redis memory"`
	GeoKey           string        `mapstructure:"geo_key" validate:"required"`
	MetaPrefix       string        `mapstructure:"meta_prefix" validate:"required"`
	MetaTTL          time.Duration `mapstructure:"meta_ttl" validate:"gte=0"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
}

// BusConfig selects and tunes the broadcast bus.
type BusConfig struct {
	Backend      string      `mapstructure:"backend" validate:"oneof=redis kafka memory"`
	Channel      string      `mapstructure:"channel" validate:"required"`
	MemoryBuffer int         `mapstructure:"memory_buffer" validate:"gt=0"`
	Kafka        KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig is used when the bus backend is kafka.
type KafkaConfig struct {
	Brokers []string      `mapstructure:"brokers"`
	MaxWait time.Duration `mapstructure:"max_wait" validate:"gt=0"`
}

// RelayConfig is the reconnect backoff of the bus relay.
type RelayConfig struct {
	BackoffInitial time.Duration `mapstructure:"backoff_initial" validate:"gt=0"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" validate:"gte=1,lte=10"`
	BackoffMax     time.Duration `mapstructure:"backoff_max" validate:"gt=0"`
}

// StreamConfig tunes live connections.
type StreamConfig struct {
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	// ReadIdleTimeout closes a WebSocket that sends nothing (not even a pong)
	// for this long. Zero disables it.
	ReadIdleTimeout time.Duration `mapstructure:"read_idle_timeout" validate:"gte=0"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize int           `mapstructure:"write_buffer_size" validate:"gt=0"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// AuditConfig controls the ingest audit trail.
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Dir        string `mapstructure:"dir" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// Defaults returns the baseline configuration every other source overrides.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			DialTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Backend:          "redis",
			GeoKey:           "device_locations",
			MetaPrefix:       "device_meta:",
			OperationTimeout: 10 * time.Second,
		},
		Bus: BusConfig{
			Backend:      "redis",
			Channel:      "location_updates",
			MemoryBuffer: 100,
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				MaxWait: time.Second,
			},
		},
		Relay: RelayConfig{
			BackoffInitial: 500 * time.Millisecond,
			BackoffFactor:  2.0,
			BackoffMax:     30 * time.Second,
		},
		Stream: StreamConfig{
			WriteTimeout:      5 * time.Second,
			HeartbeatInterval: 25 * time.Second,
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			Enabled:    true,
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}
