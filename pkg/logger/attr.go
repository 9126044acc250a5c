package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog.Attr that groups the given attributes under name.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups all non-nil errors under the "errors" key.
// Returns an empty attr when every error is nil so it is dropped by slog.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error returns an "error" attr, or an empty attr for a nil error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func JobID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("job_id", id)
}

func JobType(jobType string) slog.Attr {
	if jobType == "" {
		return slog.Attr{}
	}
	return slog.String("job_type", jobType)
}

func Priority(priority string) slog.Attr {
	return slog.String("priority", priority)
}

func Status(status string) slog.Attr {
	return slog.String("status", status)
}

func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Until renders a wake-up or cooldown deadline. Zero time yields an empty attr.
func Until(t time.Time) slog.Attr {
	if t.IsZero() {
		return slog.Attr{}
	}
	return slog.Time("until", t)
}

func ServiceKey(key string) slog.Attr {
	return slog.String("service_key", key)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}
