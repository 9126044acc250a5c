package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/broadcast"
	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// Monitor tracks reachability of a remote endpoint and announces recoveries.
type Monitor struct {
	check    Check
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	restored *broadcast.MemoryBroadcaster[time.Time]

	online  atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the background polling interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithTimeout bounds a single check.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor creates a monitor that assumes the endpoint is online until a
// check says otherwise.
func NewMonitor(check Check, opts ...Option) (*Monitor, error) {
	if check == nil {
		return nil, ErrNilCheck
	}

	m := &Monitor{
		check:    check,
		interval: 15 * time.Second,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
		restored: broadcast.NewMemoryBroadcaster[time.Time](1, broadcast.WithSlowPolicy(broadcast.KeepLatest)),
	}
	m.online.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// NewHTTPMonitor builds a monitor probing cfg.ProbeURL.
func NewHTTPMonitor(cfg Config, opts ...Option) (*Monitor, error) {
	check, err := HTTPCheck(nil, cfg.ProbeURL)
	if err != nil {
		return nil, err
	}
	return NewMonitor(check, append([]Option{WithInterval(cfg.CheckInterval), WithTimeout(cfg.ProbeTimeout)}, opts...)...)
}

// IsOnline runs the check and reports the result.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.check(ctx)
	m.set(ctx, err == nil, err)
	return err == nil
}

// Online returns the last observed state without probing.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Restored returns a channel that receives a value every time the endpoint
// comes back online. The channel is closed when ctx is cancelled.
func (m *Monitor) Restored(ctx context.Context) <-chan struct{} {
	sub := m.restored.Subscribe(ctx)
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		for range sub.Receive(ctx) {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

// Start polls the endpoint every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.running.Store(false)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.IsOnline(ctx)
			}
		}
	}()
	return nil
}

// Wait blocks until the polling goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Close stops notifying restored subscribers.
func (m *Monitor) Close() error {
	return m.restored.Close()
}

func (m *Monitor) set(ctx context.Context, online bool, cause error) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	if !online {
		m.logger.WarnContext(ctx, "connectivity lost", logger.Component("connectivity"), logger.Error(cause))
		return
	}

	m.logger.InfoContext(ctx, "connectivity restored", logger.Component("connectivity"))
	_ = m.restored.Broadcast(ctx, broadcast.Message[time.Time]{Data: time.Now()})
}
