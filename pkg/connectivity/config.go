package connectivity

import "time"

// Config holds monitor settings.
type Config struct {
	CheckInterval time.Duration `env:"CONNECTIVITY_CHECK_INTERVAL" envDefault:"15s"`
	ProbeTimeout  time.Duration `env:"CONNECTIVITY_PROBE_TIMEOUT" envDefault:"5s"`
	ProbeURL      string        `env:"CONNECTIVITY_PROBE_URL"`
}
