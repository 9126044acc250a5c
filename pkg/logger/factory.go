package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects how records are encoded.
type Format string

const (
	FormatJSON    Format = "json"
	FormatText    Format = "text"
	FormatConsole Format = "console" // colourised, for local development
)

// Config is the env-driven logger setup of a process embedding the queue.
// Load it with config.Load and pass it to WithConfig.
type Config struct {
	Level   string `env:"LOG_LEVEL" envDefault:"info"`
	Format  Format `env:"LOG_FORMAT" envDefault:"json"`
	Service string `env:"LOG_SERVICE" envDefault:"jobgate"`
}

type Option func(*options)

type options struct {
	level      slog.Leveler
	format     Format
	output     io.Writer
	attrs      []slog.Attr
	extractors []ContextExtractor
}

func WithLevel(l slog.Leveler) Option {
	return func(o *options) {
		if l != nil {
			o.level = l
		}
	}
}

// WithFormat panics on an unknown format: it is a wiring mistake, not a
// runtime condition.
func WithFormat(f Format) Option {
	return func(o *options) {
		switch f {
		case FormatJSON, FormatText, FormatConsole:
			o.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q, %q or %q", f, FormatJSON, FormatText, FormatConsole))
		}
	}
}

func WithOutput(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.output = w
		}
	}
}

func WithAttr(attrs ...slog.Attr) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

func WithContextExtractors(extractors ...ContextExtractor) Option {
	return func(o *options) {
		for _, ex := range extractors {
			if ex != nil {
				o.extractors = append(o.extractors, ex)
			}
		}
	}
}

// WithJobContext makes every record logged with a context produced by
// ContextWithJob carry the job id and type. The dispatcher hands such a
// context to each handler.
func WithJobContext() Option {
	return WithContextExtractors(jobContextExtractor)
}

// WithConfig applies a loaded Config. An unparsable level keeps the default.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.TrimSpace(cfg.Level))); err == nil {
			o.level = lvl
		}
		if cfg.Format != "" {
			WithFormat(cfg.Format)(o)
		}
		if cfg.Service != "" {
			o.attrs = append(o.attrs, slog.String("service", cfg.Service))
		}
	}
}

// New builds a logger. Defaults are JSON at info level on stdout.
func New(opts ...Option) *slog.Logger {
	o := &options{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}

	var handler slog.Handler
	switch o.format {
	case FormatText:
		handler = slog.NewTextHandler(o.output, &slog.HandlerOptions{Level: o.level})
	case FormatConsole:
		handler = tint.NewHandler(o.output, &tint.Options{
			Level:      o.level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(o.output),
		})
	default:
		handler = slog.NewJSONHandler(o.output, &slog.HandlerOptions{Level: o.level})
	}

	if len(o.attrs) > 0 {
		handler = handler.WithAttrs(o.attrs)
	}
	return slog.New(NewLogHandlerDecorator(handler, o.extractors...))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// jobContextExtractor is registered by WithJobContext.
func jobContextExtractor(ctx context.Context) (slog.Attr, bool) {
	id, jobType, ok := JobFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return Group("job", slog.String("id", id), slog.String("type", jobType)), true
}
