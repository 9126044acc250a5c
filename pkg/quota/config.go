package quota

// Config holds the gate tunables.
type Config struct {
	MaxBypassTokens int `env:"QUOTA_MAX_BYPASS_TOKENS" envDefault:"3"`
}
