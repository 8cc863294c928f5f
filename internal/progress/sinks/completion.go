package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/progress"
)

// TopicPublisher publishes a JSON payload to a named topic.
type TopicPublisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CompletionNotice is the payload announced when a job run finishes.
type CompletionNotice struct {
	JobID      string    `json:"job_id"`
	ProjectID  int64     `json:"project_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	FinishedAt time.Time `json:"finished_at"`
}

// CompletionSink forwards terminal events to a topic so downstream systems
// can react to finished runs.
type CompletionSink struct {
	pub    TopicPublisher
	topic  string
	logger *zap.Logger
}

// NewCompletionSink builds a CompletionSink publishing to topic.
func NewCompletionSink(pub TopicPublisher, topic string, logger *zap.Logger) *CompletionSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionSink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes one notice per terminal event and ignores the rest.
func (s *CompletionSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Status.Terminal() {
			continue
		}
		notice := CompletionNotice{
			JobID:      evt.JobID,
			ProjectID:  evt.ProjectID,
			Status:     string(evt.Status),
			Message:    evt.Message,
			FinishedAt: evt.TS,
		}
		id, err := s.pub.Publish(ctx, s.topic, notice)
		if err != nil {
			return fmt.Errorf("publish completion for project %d: %w", evt.ProjectID, err)
		}
		s.logger.Debug("completion published",
			zap.String("message_id", id),
			zap.Int64("project_id", evt.ProjectID),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *CompletionSink) Close(context.Context) error {
	return nil
}
