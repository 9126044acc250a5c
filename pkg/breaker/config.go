package breaker

import "time"

// Config holds breaker tunables.
type Config struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	SuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"2"`
	Cooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return ErrInvalidThreshold
	}
	if c.Cooldown <= 0 {
		return ErrInvalidCooldown
	}
	if c.SuccessThreshold <= 0 {
		return ErrInvalidSuccessThreshold
	}
	return nil
}
