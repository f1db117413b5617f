package config

import "time"

// SyncerConfig contains configuration for the snapshot propagation worker.
type SyncerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval is the period between full snapshot publication cycles.
	Interval time.Duration `envconfig:"INTERVAL" default:"10s" validate:"gt=0"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`
}
