package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/progress"
)

// StoreSink persists job run state via a docsort.RunStore. Events of the same
// run inside one batch collapse into a single upsert.
type StoreSink struct {
	repo   docsort.RunStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo docsort.RunStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume upserts the latest state of every run in the batch, in first-seen
// order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	runs := make(map[string]*docsort.Run)
	var order []string
	for _, evt := range batch {
		if evt.JobID == "" {
			continue
		}
		run := runs[evt.JobID]
		if run == nil {
			run = &docsort.Run{JobID: evt.JobID, ProjectID: evt.ProjectID, StartedAt: evt.TS}
			runs[evt.JobID] = run
			order = append(order, evt.JobID)
		}
		if evt.TS.Before(run.StartedAt) {
			run.StartedAt = evt.TS
		}
		run.Status = runStatus(evt.Status)
		run.Message = evt.Message
		run.Progress = evt.Progress
		run.UpdatedAt = evt.TS
		if evt.Status.Terminal() {
			at := evt.TS
			run.FinishedAt = &at
		}
	}
	for _, id := range order {
		if err := s.repo.UpsertRun(ctx, *runs[id]); err != nil {
			return fmt.Errorf("upsert run %s: %w", id, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func runStatus(status progress.Status) docsort.RunStatus {
	switch status {
	case progress.StatusCompleted:
		return docsort.RunCompleted
	case progress.StatusError:
		return docsort.RunError
	default:
		return docsort.RunRunning
	}
}
