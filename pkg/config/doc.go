// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
//
//   - the default `.env` file in the working directory is loaded once, if present;
//   - extra dotenv files can be supplied per call with WithEnvFiles;
//   - the environment is parsed into a struct annotated with `env` and
//     `envDefault` tags;
//   - every successfully parsed type is cached, so each component sees the same
//     values for the lifetime of the process. WithPrefix scopes both the env
//     keys and the cache entry, which lets one struct type describe several
//     backends.
//
// # Usage
//
//	var cfg jobqueue.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
//	var replica redisstore.Config
//	config.MustLoad(&replica, config.WithPrefix("REPLICA_"))
//
// # Errors
//
// Load returns ErrNilPointer for a nil target and wraps parse failures with
// ErrParsingConfig. A failed parse is not cached, so Load can be retried once
// the environment is fixed. ResetCache clears the cache in tests.
package config
