package config

import "time"

// RouterPlaneConfig configures the visitor-facing decision endpoint. This is
// the hot path, so it also carries the in-memory cache limits.
type RouterPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8081"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// In-memory campaign snapshot cache (L1).
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"1024" validate:"min=1"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"30s" validate:"gt=0"`
}

// Validate checks the listener settings.
func (c *RouterPlaneConfig) Validate() error {
	if err := validatePort(c.Port, "router plane"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "router plane"); err != nil {
		return err
	}
	return nil
}
