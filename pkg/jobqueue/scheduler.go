package jobqueue

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// compareJobs orders jobs by priority rank, then creation time, then id.
func compareJobs(a, b *Job) int {
	if c := cmp.Compare(a.Priority.Rank(), b.Priority.Rank()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortJobs sorts jobs in dispatch order.
func SortJobs(jobs []*Job) {
	slices.SortFunc(jobs, compareJobs)
}

// SelectNext picks the next job to dispatch: the pending job with no future
// nextRetryAt that comes first in dispatch order. When nothing is ready it
// returns nil and the earliest future nextRetryAt among pending jobs, or nil
// when there is none.
func SelectNext(jobs []*Job, now time.Time) (*Job, *time.Time) {
	var (
		next     *Job
		earliest *time.Time
	)

	for _, j := range jobs {
		if j.Status != StatusPending {
			continue
		}
		if j.eligible(now) {
			if next == nil || compareJobs(j, next) < 0 {
				next = j
			}
			continue
		}
		if earliest == nil || j.NextRetryAt.Before(*earliest) {
			earliest = j.NextRetryAt
		}
	}

	if next != nil {
		return next, nil
	}
	if earliest != nil {
		return nil, ptr(*earliest)
	}
	return nil, nil
}
