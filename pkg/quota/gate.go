package quota

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// DefaultMaxBypassTokens caps the bypass token pool when no config is supplied.
const DefaultMaxBypassTokens = 3

// BypassReason tells why a job was admitted without paying its cost.
type BypassReason string

const (
	BypassUnlimited BypassReason = "unlimited"
	BypassToken     BypassReason = "token"
)

// Entitlement reports whether an unlimited-quota entitlement is currently active.
type Entitlement func(ctx context.Context) bool

// Gate decides at admission time whether a job type may be queued and
// charges its cost to the ledger.
type Gate struct {
	ledger      Ledger
	costs       map[string]int64
	entitlement Entitlement
	onBypass    func(jobType string, reason BypassReason)
	maxTokens   int
	logger      *slog.Logger

	mu     sync.Mutex
	tokens int
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithCosts sets the static job type → cost table. Types missing from the
// table, or with cost 0, are free.
func WithCosts(costs map[string]int64) GateOption {
	return func(g *Gate) {
		g.costs = maps.Clone(costs)
	}
}

// WithEntitlement installs the unlimited-quota check.
func WithEntitlement(e Entitlement) GateOption {
	return func(g *Gate) {
		g.entitlement = e
	}
}

// WithBypassHook is called whenever a job is admitted through a bypass.
func WithBypassHook(fn func(jobType string, reason BypassReason)) GateOption {
	return func(g *Gate) {
		g.onBypass = fn
	}
}

// WithMaxBypassTokens caps the bypass token pool.
func WithMaxBypassTokens(n int) GateOption {
	return func(g *Gate) {
		if n >= 0 {
			g.maxTokens = n
		}
	}
}

// WithConfig applies a loaded Config.
func WithConfig(cfg Config) GateOption {
	return WithMaxBypassTokens(cfg.MaxBypassTokens)
}

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate creates a gate charging admissions to ledger.
func NewGate(ledger Ledger, opts ...GateOption) (*Gate, error) {
	if ledger == nil {
		return nil, ErrLedgerNil
	}

	g := &Gate{
		ledger:    ledger,
		costs:     map[string]int64{},
		maxTokens: DefaultMaxBypassTokens,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Cost returns the configured cost for jobType.
func (g *Gate) Cost(jobType string) int64 {
	return g.costs[jobType]
}

// TryConsume charges the cost of jobType and returns the amount deducted.
//
// Checks run in order: free types pass untouched; an active unlimited
// entitlement admits at zero cost; a sufficient balance is charged; a bypass
// token is spent; otherwise *InsufficientResourceError is returned.
func (g *Gate) TryConsume(ctx context.Context, jobType string) (int64, error) {
	cost := g.costs[jobType]
	if cost <= 0 {
		return 0, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entitlement != nil && g.entitlement(ctx) {
		g.bypassUsed(ctx, jobType, BypassUnlimited)
		return 0, nil
	}

	balance, err := g.ledger.Balance(ctx)
	if err != nil {
		return 0, errors.Join(ErrLedgerUnavailable, err)
	}

	if balance >= cost {
		ok, err := g.ledger.Consume(ctx, cost)
		if err != nil {
			return 0, errors.Join(ErrLedgerUnavailable, err)
		}
		if ok {
			return cost, nil
		}
		// Balance moved underneath us; fall through to the token pool.
	}

	if g.tokens > 0 {
		g.tokens--
		g.bypassUsed(ctx, jobType, BypassToken)
		return 0, nil
	}

	return 0, &InsufficientResourceError{Cost: cost, Balance: balance, JobType: jobType}
}

// Refund returns an amount charged by TryConsume to the ledger, for an
// admission that was rolled back after the charge.
func (g *Gate) Refund(ctx context.Context, jobType string, amount int64) error {
	if amount <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ledger.Credit(ctx, amount); err != nil {
		return errors.Join(ErrLedgerUnavailable, err)
	}
	g.logger.DebugContext(ctx, "quota refunded",
		logger.Component("quota"),
		logger.JobType(jobType),
		slog.Int64("amount", amount))
	return nil
}

// Grant adds bypass tokens, capped at the configured maximum.
func (g *Gate) Grant(tokens int) {
	if tokens <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = min(g.tokens+tokens, g.maxTokens)
}

// HasBypass reports whether at least one bypass token is available.
func (g *Gate) HasBypass() bool {
	return g.Tokens() > 0
}

// Tokens returns the number of available bypass tokens.
func (g *Gate) Tokens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens
}

func (g *Gate) bypassUsed(ctx context.Context, jobType string, reason BypassReason) {
	g.logger.DebugContext(ctx, "quota bypass used",
		logger.Component("quota"),
		logger.JobType(jobType),
		slog.String("reason", string(reason)))

	if g.onBypass != nil {
		g.onBypass(jobType, reason)
	}
}
