//
//
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate enforces field constraints (struct tags) and the cross-field rules
// tags cannot express.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		return err
	}

	// Validate relay backoff
	if err := validateRelay(&config.Relay); err != nil {
		return fmt.Errorf("relay validation failed: %w", err)
	}

	// Validate bus backend requirements
	if err := validateBus(&config.Bus); err != nil {
		return fmt.Errorf("bus validation failed: %w", err)
	}

	// Validate stream timing
	if err := validateStream(&config.Stream); err != nil {
		return fmt.Errorf("stream validation failed: %w", err)
	}

	return nil
}

// validateRelay validates reconnect backoff parameters.
func validateRelay(config *RelayConfig) error {
	if config.BackoffMax < config.BackoffInitial {
		return fmt.Errorf("backoff max %v must be >= initial %v", config.BackoffMax, config.BackoffInitial)
	}
	return nil
}

// validateBus validates backend-specific bus settings.
func validateBus(config *BusConfig) error {
	if config.Backend != "kafka" {
		return nil
	}
	if len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka backend requires at least one broker")
	}
	for _, broker := range config.Kafka.Brokers {
		if broker == "" {
			return fmt.Errorf("kafka broker address must not be empty")
		}
	}
	return nil
}

// validateStream validates live connection timing.
func validateStream(config *StreamConfig) error {
	// A read idle timeout shorter than the heartbeat would drop healthy clients
	// between pings.
	if config.ReadIdleTimeout > 0 && config.ReadIdleTimeout <= config.HeartbeatInterval {
		return fmt.Errorf("read idle timeout %v must exceed heartbeat interval %v",
			config.ReadIdleTimeout, config.HeartbeatInterval)
	}
	return nil
}
