// Package logger builds *slog.Logger instances for jobgate components and
// keeps attribute names consistent across the queue engine and its
// collaborators.
//
// New creates a logger from functional options. The output format is JSON
// (default), plain text, or a colourised console format backed by
// github.com/lmittmann/tint. Config carries the LOG_LEVEL, LOG_FORMAT and
// LOG_SERVICE variables for WithConfig. The handler is wrapped with
// LogHandlerDecorator, which runs registered ContextExtractor callbacks on
// every record.
//
// Attribute helpers such as JobID, JobType, RetryCount and Until live in
// attr.go. Helpers that receive empty input return an empty slog.Attr, which
// slog drops, so call sites do not need nil checks:
//
//	log.Error("persist failed", logger.Error(err))
//
// # Job context
//
// The dispatcher stores the job identity in the handler context with
// ContextWithJob. A logger built with WithJobContext adds a "job" group to
// every record logged with that context:
//
//	log := logger.New(logger.WithFormat(logger.FormatConsole), logger.WithJobContext())
//	log.InfoContext(ctx, "calling provider")
package logger
