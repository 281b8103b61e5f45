package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/jobs"
)

// defaultResultName is used for results stored without a filename.
const defaultResultName = "result.bin"

func (s *Server) findJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	raw := chi.URLParam(r, "job_id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not understand job "+raw)
		return nil, false
	}
	job, err := s.jobs.Find(uint(id))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "could not find job "+raw)
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return job, true
}

// jobStatus is the endpoint clients poll. A running job answers its progress
// as a bare integer, a completed one answers "done" and points at its result
// when there is one.
func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.findJob(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch job.Status() {
	case jobs.StatusStarted:
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%d", job.Progress())

	case jobs.StatusCompleted:
		if _, _, ok := job.Result(); ok {
			w.Header().Set("Location", r.URL.Path+"/result")
		} else {
			s.jobs.Finalize(job.ID())
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "done")

	case jobs.StatusFailed:
		s.logger.Warn("reporting failed job",
			zap.Uint("job_id", job.ID()),
			zap.Error(job.Failure()),
		)
		s.jobs.Finalize(job.ID())
		http.Error(w, fmt.Sprintf("job %d failed, %v", job.ID(), job.Failure()), http.StatusServiceUnavailable)
	}
}

func (s *Server) jobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.findJob(w, r)
	if !ok {
		return
	}
	data, name, ok := job.Result()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %d has no result", job.ID()))
		return
	}
	if name == "" {
		name = defaultResultName
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("write job result", zap.Uint("job_id", job.ID()), zap.Error(err))
	}
	s.jobs.Finalize(job.ID())
}
