package model

import (
	"time"

	"github.com/google/uuid"
)

// DelayedJob is a deferred handler invocation for a legacy PayPal message.
type DelayedJob struct {
	ID         string        `json:"id"`
	Event      *InboundEvent `json:"event"`
	RunAt      time.Time     `json:"run_at"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// NewDelayedJob creates a job that becomes due at runAt.
func NewDelayedJob(event *InboundEvent, now, runAt time.Time) *DelayedJob {
	return &DelayedJob{
		ID:         uuid.NewString(),
		Event:      event,
		RunAt:      runAt,
		EnqueuedAt: now,
	}
}

// Retry returns a copy of the job scheduled again at runAt.
func (j *DelayedJob) Retry(runAt time.Time) *DelayedJob {
	next := *j
	next.RunAt = runAt
	next.Attempt++

	return &next
}
