package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// configCache stores parsed configuration copies keyed by type name and prefix.
type configCache struct {
	mu     sync.RWMutex
	values map[string]any
	onces  map[string]*sync.Once
}

var (
	globalCache = &configCache{
		values: make(map[string]any),
		onces:  make(map[string]*sync.Once),
	}

	defaultEnvLoaded sync.Once
)

// Option tunes a single Load call.
type Option func(*loadOptions)

type loadOptions struct {
	prefix   string
	envFiles []string
}

// WithPrefix prepends prefix to every env key of the struct, so the same
// config type can be loaded for several components (e.g. "PRIMARY_", "REPLICA_").
// Each prefix is cached separately.
func WithPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.prefix = prefix
	}
}

// WithEnvFiles loads the given dotenv files before parsing. Missing files are ignored;
// variables already present in the environment are never overwritten.
func WithEnvFiles(paths ...string) Option {
	return func(o *loadOptions) {
		o.envFiles = append(o.envFiles, paths...)
	}
}

// Load loads environment variables into the provided configuration struct.
// Each unique configuration type (and prefix) is parsed once for the lifetime
// of the process; later calls return the cached copy.
//
// Example:
//
//	type QueueConfig struct {
//		MaxRetries int           `env:"JOBQUEUE_MAX_RETRIES" envDefault:"5"`
//		BaseDelay  time.Duration `env:"JOBQUEUE_BASE_DELAY" envDefault:"1s"`
//	}
//
//	var cfg QueueConfig
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T, opts ...Option) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}

	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if len(options.envFiles) > 0 {
		for _, path := range options.envFiles {
			_ = godotenv.Load(path)
		}
	}

	key := cacheKey[T](options.prefix)

	if loadCached(key, v) {
		return nil
	}

	globalCache.mu.Lock()
	once, exists := globalCache.onces[key]
	if !exists {
		once = new(sync.Once)
		globalCache.onces[key] = once
	}
	globalCache.mu.Unlock()

	var err error
	once.Do(func() {
		if parseErr := env.ParseWithOptions(v, env.Options{Prefix: options.prefix}); parseErr != nil {
			err = errors.Join(ErrParsingConfig, parseErr)
			// Allow a later call to retry after the environment is fixed.
			globalCache.mu.Lock()
			delete(globalCache.onces, key)
			globalCache.mu.Unlock()
			return
		}

		globalCache.mu.Lock()
		globalCache.values[key] = *v
		globalCache.mu.Unlock()
	})

	if err != nil {
		return err
	}

	if loadCached(key, v) {
		return nil
	}

	return ErrConfigNotLoaded
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("Failed to load required configuration: %v", err))
	}
}

// ResetCache drops every cached configuration. Intended for tests.
func ResetCache() {
	globalCache.mu.Lock()
	defer globalCache.mu.Unlock()

	clear(globalCache.values)
	clear(globalCache.onces)
}

func loadCached[T any](key string, v *T) bool {
	globalCache.mu.RLock()
	defer globalCache.mu.RUnlock()

	cached, ok := globalCache.values[key]
	if !ok {
		return false
	}
	typed, ok := cached.(T)
	if !ok {
		return false
	}
	*v = typed
	return true
}

func cacheKey[T any](prefix string) string {
	var zero T
	t := reflect.TypeOf(zero)
	name := ""
	if t == nil {
		name = fmt.Sprintf("%T", *new(T))
	} else {
		name = t.String()
	}
	return prefix + "|" + name
}
