package jobqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/config"
)

// Config holds queue tunables. Defaults are product decisions rather than
// derived values, so all of them can be overridden from the environment.
type Config struct {
	MaxRetries         int           `env:"JOBQUEUE_MAX_RETRIES" envDefault:"5"`
	BaseDelay          time.Duration `env:"JOBQUEUE_BASE_DELAY" envDefault:"1s"`
	MaxDelay           time.Duration `env:"JOBQUEUE_MAX_DELAY" envDefault:"5m"`
	MaxSize            int           `env:"JOBQUEUE_MAX_SIZE" envDefault:"50"`
	RateLimitCooldown  time.Duration `env:"JOBQUEUE_RATE_LIMIT_COOLDOWN" envDefault:"60s"`
	WakeBuffer         time.Duration `env:"JOBQUEUE_WAKE_BUFFER" envDefault:"1s"`
	OfflineRetry       time.Duration `env:"JOBQUEUE_OFFLINE_RETRY" envDefault:"30s"`
	CircuitCooldown    time.Duration `env:"JOBQUEUE_CIRCUIT_COOLDOWN" envDefault:"30s"`
	HandlerTimeout     time.Duration `env:"JOBQUEUE_HANDLER_TIMEOUT" envDefault:"5m"`
	StoreKey           string        `env:"JOBQUEUE_STORE_KEY" envDefault:"jobqueue:jobs"`
	ServiceKey         string        `env:"JOBQUEUE_SERVICE_KEY" envDefault:"inference"`
	InlinePayloadLimit int           `env:"JOBQUEUE_INLINE_PAYLOAD_LIMIT" envDefault:"65536"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         5,
		BaseDelay:          time.Second,
		MaxDelay:           5 * time.Minute,
		MaxSize:            50,
		RateLimitCooldown:  60 * time.Second,
		WakeBuffer:         time.Second,
		OfflineRetry:       30 * time.Second,
		CircuitCooldown:    30 * time.Second,
		HandlerTimeout:     5 * time.Minute,
		StoreKey:           "jobqueue:jobs",
		ServiceKey:         "inference",
		InlinePayloadLimit: 64 << 10,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, field string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, field))
		}
	}

	check(c.MaxRetries > 0, "max retries must be positive")
	check(c.BaseDelay > 0, "base delay must be positive")
	check(c.MaxDelay >= c.BaseDelay, "max delay must not be below base delay")
	check(c.MaxSize > 0, "max size must be positive")
	check(c.RateLimitCooldown > 0, "rate limit cooldown must be positive")
	check(c.WakeBuffer >= 0, "wake buffer must not be negative")
	check(c.OfflineRetry > 0, "offline retry must be positive")
	check(c.CircuitCooldown > 0, "circuit cooldown must be positive")
	check(c.HandlerTimeout > 0, "handler timeout must be positive")
	check(c.StoreKey != "", "store key is required")
	check(c.ServiceKey != "", "service key is required")
	check(c.InlinePayloadLimit > 0, "inline payload limit must be positive")

	return errors.Join(errs...)
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig(opts ...config.Option) (Config, error) {
	var cfg Config
	if err := config.Load(&cfg, opts...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
