package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/docsort/internal/progress"
)

// PrometheusSink exports job run metrics derived from progress events.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docsort_progress_events_total",
			Help: "Progress events observed partitioned by status.",
		}, []string{"status"}),
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docsort_runs_started_total",
			Help: "Job runs that reported their first event.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docsort_runs_completed_total",
			Help: "Job runs finished partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docsort_runs_active",
			Help: "Job runs that have started but not finished.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docsort_run_duration_seconds",
			Help:    "Wall time from first to terminal event per job run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Status)).Inc()
		if evt.JobID == "" {
			continue
		}
		if s.tracker.start(evt.JobID, evt.TS) {
			s.runsStarted.Inc()
			s.runsActive.Inc()
		}
		if !evt.Status.Terminal() {
			continue
		}
		result := "success"
		if evt.Status == progress.StatusError {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if started, ok := s.tracker.complete(evt.JobID); ok {
			s.runsActive.Dec()
			if d := evt.TS.Sub(started); d > 0 {
				s.runDuration.WithLabelValues(result).Observe(d.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]time.Time)}
}

func (t *runTracker) start(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *runTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return at, true
}
