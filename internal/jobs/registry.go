package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock"
	"github.com/omzlo/nocan-node-manager/internal/metrics"
)

// DefaultRetention is how long a finished job waits for its result to be
// collected before it is dropped.
const DefaultRetention = 60 * time.Second

// ErrNotFound is returned when a job id is unknown or already finalized.
var ErrNotFound = errors.New("job not found")

// RunFunc does a job's work. It must end by calling Complete or Fail; if it
// returns without doing so the job is failed with a generic reason.
type RunFunc func(ctx context.Context, job *Job)

// Registry allocates sequential job ids and runs jobs in the background.
type Registry struct {
	clock     clock.Clock
	retention time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	nextID uint
	jobs   map[uint]*Job

	wg sync.WaitGroup
}

// NewRegistry creates an empty Registry.
func NewRegistry(clk clock.Clock, retention time.Duration, logger *zap.Logger) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:     clk,
		retention: retention,
		logger:    logger,
		jobs:      make(map[uint]*Job),
	}
}

// Create registers a job and runs fn in its own goroutine. Once fn returns the
// job is kept for the retention period, then finalized if nobody collected it.
// Canceling ctx cuts the retention wait short.
func (r *Registry) Create(ctx context.Context, name string, fn RunFunc) *Job {
	r.mu.Lock()
	job := newJob(r.nextID, name)
	r.jobs[job.id] = job
	r.nextID++
	r.mu.Unlock()

	metrics.IncActiveJobs()
	r.logger.Debug("started job", zap.Uint("job_id", job.id), zap.String("name", name))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(ctx, job, fn)
		if job.Status() == StatusStarted {
			job.Fail(fmt.Errorf("job %d ended without a result", job.id))
		}
		r.logger.Debug("job finished",
			zap.Uint("job_id", job.id),
			zap.String("status", string(job.Status())),
		)

		select {
		case <-r.clock.After(r.retention):
		case <-ctx.Done():
		}
		if r.Finalize(job.id) {
			r.logger.Warn("job results removed after remaining unaccessed",
				zap.Uint("job_id", job.id),
				zap.Duration("retention", r.retention),
			)
		}
	}()

	return job
}

// execute runs fn, failing the job instead of crashing the process if fn
// panics.
func (r *Registry) execute(ctx context.Context, job *Job, fn RunFunc) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked",
				zap.Uint("job_id", job.id),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			job.Fail(fmt.Errorf("job %d panicked: %v", job.id, p))
		}
	}()
	fn(ctx, job)
}

// Find returns the job with id.
func (r *Registry) Find(id uint) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return job, nil
}

// Finalize forgets the job with id. It reports whether the job was present.
func (r *Registry) Finalize(id uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	metrics.DecActiveJobs()
	r.logger.Debug("terminating job", zap.Uint("job_id", id))
	return true
}

// Len returns the number of jobs held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Wait blocks until every job goroutine has returned. Callers cancel the
// context passed to Create first so retention waits end.
func (r *Registry) Wait() {
	r.wg.Wait()
}
