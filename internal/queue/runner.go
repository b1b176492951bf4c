package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed by the runner.",
		},
		[]string{"job_type", "status"},
	)
	jobsGatedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delivery",
			Name:      "jobs_requirement_gated_total",
			Help:      "Job attempts deferred because a requirement was unmet.",
		},
		[]string{"job_type", "requirement"},
	)
	jobDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delivery",
			Name:      "job_run_duration_seconds",
			Help:      "Duration of individual job run attempts.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)
)

// RunnerConfig tunes scheduling behavior.
type RunnerConfig struct {
	// RequeueDelay is how long the runner waits before re-checking an
	// unmet requirement. Waiting does not consume the retry budget.
	RequeueDelay time.Duration
	// Backoff maps a retry number (1-based) to the delay before that retry.
	Backoff func(retry int) time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 5 * time.Second
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff
	}
}

// DefaultBackoff grows linearly with the retry number.
func DefaultBackoff(retry int) time.Duration {
	return time.Duration(retry) * 2 * time.Second
}

type task struct {
	rec  *Record
	job  Job
	desc Descriptor
}

// lane is an unbounded FIFO per affinity key. push never blocks, so a job
// running on a lane can enqueue follow-up work onto the same lane (the
// carrier hand-off does exactly that) without deadlocking its own worker.
type lane struct {
	mu      sync.Mutex
	pending []*task
	wake    chan struct{}
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

func (l *lane) push(t *task) {
	l.mu.Lock()
	l.pending = append(l.pending, t)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) pop() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	t := l.pending[0]
	l.pending = l.pending[1:]
	return t
}

// Runner executes jobs with at-least-once semantics: requirement gating,
// per-affinity FIFO ordering, bounded retries with backoff, and a single
// cancellation callback on retry exhaustion.
type Runner struct {
	store     JobStore
	logger    *slog.Logger
	cfg       RunnerConfig
	factories map[string]Factory

	mu      sync.Mutex
	lanes   map[string]*lane
	started bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner over the given job store.
func NewRunner(store JobStore, logger *slog.Logger, cfg RunnerConfig) *Runner {
	cfg.applyDefaults()
	return &Runner{
		store:     store,
		logger:    logger.With("service", "job_runner"),
		cfg:       cfg,
		factories: make(map[string]Factory),
		lanes:     make(map[string]*lane),
	}
}

// Register binds a job type to its factory. Must happen before Start.
func (r *Runner) Register(jobType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[jobType] = f
}

// Start resumes persisted pending jobs and begins accepting new work.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.baseCtx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.mu.Unlock()

	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending job records: %w", err)
	}
	for _, rec := range pending {
		factory, ok := r.factories[rec.Type]
		if !ok {
			r.logger.ErrorContext(ctx, "No factory registered for persisted job", "job_id", rec.ID, "job_type", rec.Type)
			if err := r.store.MarkFailed(ctx, rec.ID, "unknown job type: "+rec.Type); err != nil {
				r.logger.ErrorContext(ctx, "Failed to mark unknown-type job failed", "job_id", rec.ID, "error", err)
			}
			continue
		}
		job, desc, err := factory(ctx, rec.Payload)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to rebuild persisted job", "job_id", rec.ID, "error", err)
			if err := r.store.MarkFailed(ctx, rec.ID, "rebuild failed: "+err.Error()); err != nil {
				r.logger.ErrorContext(ctx, "Failed to mark unbuildable job failed", "job_id", rec.ID, "error", err)
			}
			continue
		}
		r.dispatch(&task{rec: rec, job: job, desc: desc})
	}
	r.logger.InfoContext(ctx, "Job runner started", "resumed_jobs", len(pending))
	return nil
}

// Enqueue persists (for persistent descriptors) and schedules a job of the
// registered type. Returns the job record id.
func (r *Runner) Enqueue(ctx context.Context, jobType string, payload []byte) (string, error) {
	r.mu.Lock()
	factory, ok := r.factories[jobType]
	started := r.started
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no factory registered for job type %q", jobType)
	}
	if !started {
		return "", fmt.Errorf("runner not started")
	}

	job, desc, err := factory(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("building job %q: %w", jobType, err)
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     payload,
		AffinityKey: desc.AffinityKey,
		MaxRetries:  desc.MaxRetries,
		Status:      RecordStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if desc.Persistent {
		if err := r.store.Insert(ctx, rec); err != nil {
			return "", fmt.Errorf("persisting job record: %w", err)
		}
	}

	r.dispatch(&task{rec: rec, job: job, desc: desc})
	return rec.ID, nil
}

// dispatch routes a task to its affinity lane, creating the lane worker on
// first use. One goroutine per lane keeps same-key jobs strictly ordered.
func (r *Runner) dispatch(t *task) {
	r.mu.Lock()
	ln, ok := r.lanes[t.desc.AffinityKey]
	if !ok {
		ln = newLane()
		r.lanes[t.desc.AffinityKey] = ln
		r.wg.Add(1)
		go r.laneLoop(ln)
	}
	r.mu.Unlock()

	ln.push(t)
}

func (r *Runner) laneLoop(ln *lane) {
	defer r.wg.Done()
	for {
		t := ln.pop()
		if t == nil {
			select {
			case <-r.baseCtx.Done():
				return
			case <-ln.wake:
			}
			continue
		}
		if r.baseCtx.Err() != nil {
			return
		}
		r.execute(r.baseCtx, t)
	}
}

// execute drives one task to a terminal outcome: success, non-retryable
// drop, or retry exhaustion with a single OnCanceled callback.
func (r *Runner) execute(ctx context.Context, t *task) {
	attempts := t.rec.Attempts

	for {
		if ctx.Err() != nil {
			return
		}

		if unmet := r.unmetRequirement(ctx, t.desc); unmet != "" {
			jobsGatedCounter.WithLabelValues(t.rec.Type, unmet).Inc()
			r.logger.DebugContext(ctx, "Requirement unmet, deferring job",
				"job_id", t.rec.ID, "job_type", t.rec.Type, "requirement", unmet)
			if !sleepCtx(ctx, r.cfg.RequeueDelay) {
				return
			}
			continue
		}

		timer := prometheus.NewTimer(jobDurationHist.WithLabelValues(t.rec.Type))
		runErr := t.job.Run(ctx)
		timer.ObserveDuration()

		if runErr == nil {
			if err := r.markDone(ctx, t, ""); err != nil {
				r.logger.ErrorContext(ctx, "Failed to mark job completed", "job_id", t.rec.ID, "error", err)
			}
			jobsProcessedCounter.WithLabelValues(t.rec.Type, "success").Inc()
			return
		}

		if !t.job.IsRetryable(runErr) {
			r.logger.WarnContext(ctx, "Job failed terminally", "job_id", t.rec.ID, "job_type", t.rec.Type, "error", runErr)
			r.markFailed(ctx, t, runErr.Error())
			jobsProcessedCounter.WithLabelValues(t.rec.Type, "terminal_failure").Inc()
			return
		}

		attempts++
		if attempts > t.desc.MaxRetries {
			r.logger.WarnContext(ctx, "Job exhausted retries, canceling",
				"job_id", t.rec.ID, "job_type", t.rec.Type, "attempts", attempts, "max_retries", t.desc.MaxRetries, "error", runErr)
			t.job.OnCanceled(ctx)
			r.markFailed(ctx, t, "retries exhausted: "+runErr.Error())
			jobsProcessedCounter.WithLabelValues(t.rec.Type, "canceled").Inc()
			return
		}

		if t.desc.Persistent {
			if err := r.store.UpdateAttempts(ctx, t.rec.ID, attempts, runErr.Error()); err != nil {
				r.logger.ErrorContext(ctx, "Failed to record job attempt", "job_id", t.rec.ID, "error", err)
			}
		}
		r.logger.InfoContext(ctx, "Retrying job",
			"job_id", t.rec.ID, "job_type", t.rec.Type, "retry", attempts, "error", runErr)
		if !sleepCtx(ctx, r.cfg.Backoff(attempts)) {
			return
		}
	}
}

func (r *Runner) unmetRequirement(ctx context.Context, desc Descriptor) string {
	for _, req := range desc.Requirements {
		if !req.IsPresent(ctx) {
			return req.Name()
		}
	}
	return ""
}

func (r *Runner) markDone(ctx context.Context, t *task, _ string) error {
	if !t.desc.Persistent {
		return nil
	}
	return r.store.MarkCompleted(ctx, t.rec.ID)
}

func (r *Runner) markFailed(ctx context.Context, t *task, reason string) {
	if !t.desc.Persistent {
		return
	}
	if err := r.store.MarkFailed(ctx, t.rec.ID, reason); err != nil {
		r.logger.ErrorContext(ctx, "Failed to mark job record failed", "job_id", t.rec.ID, "error", err)
	}
}

// Shutdown stops accepting work and waits for lane workers to drain their
// current job.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleepCtx waits d or until ctx is done; reports false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
