package config

import "time"

// ObservabilityConfig holds configuration for the admin server that exposes
// metrics and health probes. It listens on its own port so that scrapes and
// probes never compete with business traffic.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds Read/Write operations on the admin server.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the listener settings.
func (o *ObservabilityConfig) Validate() error {
	return validatePort(o.Port, "observability")
}
