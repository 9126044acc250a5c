package jobqueue

import (
	"maps"
	"time"
)

// JobType selects the handler that executes a job.
type JobType string

// Priority is one of four dispatch tiers.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityTiers lists priorities from the first dispatched to the last.
var priorityTiers = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Rank returns the dispatch rank, lower first. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return len(priorityTiers)
	}
}

// Valid reports whether p is one of the four known tiers.
func (p Priority) Valid() bool {
	return p.Rank() < len(priorityTiers)
}

func (p Priority) String() string { return string(p) }

// Status of a job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

func (s Status) String() string { return string(s) }

// Payload is handler-specific job input. The queue only inspects it to strip
// or externalize binary fields before persisting.
type Payload map[string]any

// Job is the durable unit of work.
type Job struct {
	ID          string     `json:"id"`
	Type        JobType    `json:"type"`
	Payload     Payload    `json:"payload"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	RetryCount  int        `json:"retryCount"`
	LastError   *string    `json:"lastError,omitempty"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	// Result is set on success just before the job is removed. Never persisted.
	Result any `json:"-"`
}

// clone returns a copy safe to hand out of the queue lock.
func (j *Job) clone() *Job {
	c := *j
	c.Payload = maps.Clone(j.Payload)
	if j.LastError != nil {
		msg := *j.LastError
		c.LastError = &msg
	}
	if j.NextRetryAt != nil {
		at := *j.NextRetryAt
		c.NextRetryAt = &at
	}
	return &c
}

// eligible reports whether the scheduler may pick the job at now.
func (j *Job) eligible(now time.Time) bool {
	return j.Status == StatusPending && (j.NextRetryAt == nil || !j.NextRetryAt.After(now))
}

// QueueStatus is the snapshot pushed to status subscribers.
type QueueStatus struct {
	PendingCount     int        `json:"pendingCount"`
	FailedCount      int        `json:"failedCount"`
	IsProcessing     bool       `json:"isProcessing"`
	CurrentJobID     string     `json:"currentJobId,omitempty"`
	CurrentJobType   JobType    `json:"currentJobType,omitempty"`
	IsRateLimited    bool       `json:"isRateLimited"`
	RateLimitEndsAt  *time.Time `json:"rateLimitEndsAt,omitempty"`
	IsOffline        bool       `json:"isOffline"`
	IsCircuitOpen    bool       `json:"isCircuitOpen"`
	CircuitOpenUntil *time.Time `json:"circuitOpenUntil,omitempty"`
}

// Completion is emitted for every terminal outcome: success, terminal
// failure and eviction.
type Completion struct {
	JobID   string
	JobType JobType
	Status  Status
	Result  any
	Err     error
}

func ptr[T any](v T) *T { return &v }
