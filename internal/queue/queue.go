// Package queue provides durable background jobs with declared requirements,
// per-affinity ordering, and a bounded retry policy. Jobs are registered by
// type with a factory that rebuilds them from a JSON payload, so persisted
// jobs survive a process restart.
package queue

import (
	"context"
	"time"
)

// Requirement is a boolean precondition a job declares. The runner
// re-evaluates every requirement immediately before each execution attempt;
// results are never cached across attempts.
type Requirement interface {
	Name() string
	IsPresent(ctx context.Context) bool
}

// Descriptor is the immutable configuration attached to a unit of work.
// Jobs sharing an AffinityKey execute in enqueue order relative to each
// other; jobs with different keys may run concurrently.
type Descriptor struct {
	Persistent   bool
	AffinityKey  string
	Requirements []Requirement
	// MaxRetries bounds re-attempts after the first run; 0 means no retry.
	MaxRetries int
}

// Job is a unit of work. Run blocks the worker until the job succeeds, fails
// terminally, or returns a retryable error. IsRetryable classifies a failure
// for the runner. OnCanceled fires exactly once when the retry budget is
// exhausted; it must be idempotent.
type Job interface {
	Run(ctx context.Context) error
	IsRetryable(err error) bool
	OnCanceled(ctx context.Context)
}

// Factory rebuilds a job and its descriptor from a persisted payload.
type Factory func(ctx context.Context, payload []byte) (Job, Descriptor, error)

// RecordStatus is the persisted lifecycle state of a job record.
type RecordStatus string

const (
	RecordStatusQueued    RecordStatus = "queued"
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusFailed    RecordStatus = "failed"
)

// Record is the durable representation of an enqueued job.
type Record struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Payload     []byte       `json:"payload"`
	AffinityKey string       `json:"affinity_key"`
	Attempts    int          `json:"attempts"`
	MaxRetries  int          `json:"max_retries"`
	Status      RecordStatus `json:"status"`
	LastError   *string      `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// JobStore persists job records so queued work survives restarts.
type JobStore interface {
	Insert(ctx context.Context, rec *Record) error
	// ListPending returns queued records in enqueue order.
	ListPending(ctx context.Context) ([]*Record, error)
	UpdateAttempts(ctx context.Context, id string, attempts int, lastError string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}
