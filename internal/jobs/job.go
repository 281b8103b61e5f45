// Package jobs keeps track of long-running server-side jobs whose progress is
// polled over HTTP.
package jobs

import (
	"sync"
)

// Status is the lifecycle state of a Job.
type Status string

// Job status values.
const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is the shared state between a job's runner and the status endpoint.
// All methods are safe for concurrent use.
type Job struct {
	id   uint
	name string

	mu         sync.RWMutex
	status     Status
	progress   uint
	result     []byte
	resultName string
	failure    error
}

func newJob(id uint, name string) *Job {
	return &Job{id: id, name: name, status: StatusStarted}
}

// ID returns the job identifier.
func (j *Job) ID() uint { return j.id }

// Name returns the label given at creation.
func (j *Job) Name() string { return j.name }

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the completion percentage.
func (j *Job) Progress() uint {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// UpdateProgress records a completion percentage, capped at 100.
func (j *Job) UpdateProgress(pct uint) {
	if pct > 100 {
		pct = 100
	}
	j.mu.Lock()
	j.progress = pct
	j.mu.Unlock()
}

// Complete marks the job done. result may be nil for jobs without output.
func (j *Job) Complete(result []byte, filename string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusStarted {
		return
	}
	j.status = StatusCompleted
	j.progress = 100
	if result != nil {
		j.result = append([]byte(nil), result...)
		j.resultName = filename
	}
}

// Fail marks the job failed with reason.
func (j *Job) Fail(reason error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusStarted {
		return
	}
	j.status = StatusFailed
	j.failure = reason
}

// Result returns the job output and its suggested filename.
func (j *Job) Result() ([]byte, string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.result == nil {
		return nil, "", false
	}
	return j.result, j.resultName, true
}

// Failure returns the reason passed to Fail.
func (j *Job) Failure() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.failure
}
