package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunFinished is returned once a Reporter has sent its terminal event.
var ErrRunFinished = errors.New("job run already finished")

// Reporter publishes the events of a single job run: zero or more processing
// events followed by exactly one completed or error event.
type Reporter struct {
	pub       Publisher
	projectID int64
	jobID     string
	now       func() time.Time

	mu       sync.Mutex
	finished bool
	last     int
}

// NewReporter scopes a Reporter to one project and job run.
func NewReporter(pub Publisher, projectID int64, jobID string) *Reporter {
	return &Reporter{
		pub:       pub,
		projectID: projectID,
		jobID:     jobID,
		now:       time.Now,
	}
}

// Processing publishes a processing event. pct is clamped to 0..100.
func (r *Reporter) Processing(ctx context.Context, message string, pct int) error {
	return r.publish(ctx, StatusProcessing, message, clamp(pct))
}

// Complete publishes the terminal completed event with progress 100.
func (r *Reporter) Complete(ctx context.Context, message string) error {
	return r.publish(ctx, StatusCompleted, message, 100)
}

// Fail publishes the terminal error event, keeping the last progress value.
func (r *Reporter) Fail(ctx context.Context, message string) error {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	return r.publish(ctx, StatusError, message, last)
}

// Finished reports whether the terminal event has been sent.
func (r *Reporter) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Reporter) publish(ctx context.Context, status Status, message string, pct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return ErrRunFinished
	}
	if status.Terminal() {
		r.finished = true
	}
	r.last = pct
	evt := Event{
		ProjectID: r.projectID,
		Status:    status,
		Message:   message,
		Progress:  pct,
		JobID:     r.jobID,
		TS:        r.now().UTC(),
	}
	if r.pub != nil {
		r.pub.Publish(ctx, evt)
	}
	return nil
}

func clamp(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}
