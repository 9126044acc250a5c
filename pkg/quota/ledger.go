package quota

import (
	"context"
	"sync"
)

// Ledger is the consumable balance backing the gate.
type Ledger interface {
	// Balance returns the current balance.
	Balance(ctx context.Context) (int64, error)

	// Consume deducts amount when the balance covers it and reports whether it did.
	Consume(ctx context.Context, amount int64) (bool, error)

	// Credit adds amount back to the balance.
	Credit(ctx context.Context, amount int64) error
}

// MemoryLedger is an in-process Ledger. Safe for concurrent use.
type MemoryLedger struct {
	mu      sync.Mutex
	balance int64
}

// NewMemoryLedger returns a ledger holding the given starting balance.
func NewMemoryLedger(balance int64) *MemoryLedger {
	return &MemoryLedger{balance: balance}
}

func (l *MemoryLedger) Balance(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *MemoryLedger) Consume(ctx context.Context, amount int64) (bool, error) {
	if amount < 0 {
		return false, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balance < amount {
		return false, nil
	}
	l.balance -= amount
	return true, nil
}

// Credit adds amount to the balance, e.g. after a purchase or a periodic refill.
func (l *MemoryLedger) Credit(ctx context.Context, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	return nil
}
