package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/omzlo/nocan-node-manager/internal/progress"
)

// PrometheusSink exports poll-session metrics. It owns collectors for sessions
// started, finished and in flight plus per-status-class tick counters.
type PrometheusSink struct {
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionRuntime   *prometheus.HistogramVec
	pollTicks        *prometheus.CounterVec
	pollDuration     *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nocan_poll_sessions_started_total",
			Help: "Total poll sessions that submitted a job.",
		}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nocan_poll_sessions_finished_total",
			Help: "Total poll sessions finished, partitioned by outcome.",
		}, []string{"outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nocan_poll_sessions_active",
			Help: "Poll sessions submitted but not yet finished.",
		}),
		sessionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nocan_poll_session_runtime_seconds",
			Help:    "Wall time per finished poll session.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nocan_poll_ticks_total",
			Help: "Status polls issued, partitioned by response status class.",
		}, []string{"status_class"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nocan_poll_tick_duration_seconds",
			Help:    "Latency of status polls, partitioned by response status class.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"status_class"}),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsStarted,
		s.sessionsFinished,
		s.sessionsActive,
		s.sessionRuntime,
		s.pollTicks,
		s.pollDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSubmit:
			s.sessionsStarted.Inc()
			s.sessionsActive.Inc()
		case progress.StageTick:
			class := string(evt.StatusClass)
			s.pollTicks.WithLabelValues(class).Inc()
			if evt.Dur > 0 {
				s.pollDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
			}
		case progress.StageDone, progress.StageError, progress.StageCanceled:
			outcome := outcomeLabel(evt.Stage)
			s.sessionsFinished.WithLabelValues(outcome).Inc()
			s.sessionsActive.Dec()
			if evt.Dur > 0 {
				s.sessionRuntime.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func outcomeLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageDone:
		return "done"
	case progress.StageCanceled:
		return "canceled"
	default:
		return "error"
	}
}
