package quota

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientResource matches every *InsufficientResourceError via errors.Is.
	ErrInsufficientResource = errors.New("quota: insufficient resource balance")

	// ErrLedgerNil is returned when a gate is created without a ledger.
	ErrLedgerNil = errors.New("quota: ledger cannot be nil")

	// ErrLedgerUnavailable wraps ledger read/write failures.
	ErrLedgerUnavailable = errors.New("quota: ledger unavailable")

	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("quota: amount must not be negative")
)

// InsufficientResourceError reports a rejected admission: the job type costs
// more than the current balance and no bypass token was available.
type InsufficientResourceError struct {
	Cost    int64
	Balance int64
	JobType string
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("quota: job type %q costs %d, balance is %d", e.JobType, e.Cost, e.Balance)
}

func (e *InsufficientResourceError) Is(target error) bool {
	return target == ErrInsufficientResource
}
