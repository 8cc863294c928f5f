// Package worker executes queued docsort jobs and reports their progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/logging"
	"github.com/JakeFAU/docsort/internal/metrics"
	"github.com/JakeFAU/docsort/internal/progress"
	"github.com/JakeFAU/docsort/internal/telemetry"
)

const (
	dequeueErrorBackoff = 500 * time.Millisecond
	// finishTimeout bounds the terminal status write and event publish once
	// the job context is gone.
	finishTimeout = 5 * time.Second
	doneMessage   = "Done"
)

// Config controls Worker behavior.
type Config struct {
	// ClassifyRetries is the number of extra attempts per document after a
	// classifier error.
	ClassifyRetries  int
	RetryBackoffBase time.Duration
}

// Worker consumes queued jobs and runs them against the project store and
// classifier.
type Worker struct {
	queue      docsort.Queue
	projects   docsort.ProjectStore
	classifier docsort.Classifier
	merger     docsort.Merger
	publisher  progress.Publisher
	clock      docsort.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. merger may be nil, in which case merged PDFs are
// never produced.
func New(
	queue docsort.Queue,
	projects docsort.ProjectStore,
	classifier docsort.Classifier,
	merger docsort.Merger,
	publisher progress.Publisher,
	clock docsort.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		projects:   projects,
		classifier: classifier,
		merger:     merger,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, docsort.ErrQueueClosed) {
				return nil
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.Execute(ctx, job)
	}
}

// Execute runs one job to completion. Exactly one terminal progress event is
// published, including when the job panics.
func (w *Worker) Execute(ctx context.Context, job docsort.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := telemetry.Tracer().Start(ctx, "worker.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("docsort.job_id", job.ID),
		attribute.Int64("docsort.project_id", job.ProjectID),
		attribute.String("docsort.operation", string(job.Operation)),
	)

	logger := w.logger.With(logging.ProjectFields(job.ProjectID, job.ID)...)
	reporter := progress.NewReporter(w.publisher, job.ProjectID, job.ID)
	start := w.clock.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", zap.Any("panic", rec), zap.Stack("stack"))
			span.SetStatus(codes.Error, "panic")
			w.fail(ctx, logger, job, reporter, fmt.Errorf("internal error: %v", rec), start)
		}
	}()

	var err error
	switch job.Operation {
	case docsort.OperationProcessProject:
		err = w.processProject(ctx, logger, job, reporter)
	case docsort.OperationReclassify:
		err = w.reclassify(ctx, logger, job, reporter)
	default:
		err = fmt.Errorf("%w: %q", docsort.ErrInvalidOperation, job.Operation)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job failed")
		w.fail(ctx, logger, job, reporter, err, start)
		return
	}
	metrics.ObserveJob(string(job.Operation), string(progress.StatusCompleted), w.clock.Now().Sub(start))
	logger.Info("job completed", zap.Duration("elapsed", w.clock.Now().Sub(start)))
}

func (w *Worker) fail(
	ctx context.Context,
	logger *zap.Logger,
	job docsort.Job,
	reporter *progress.Reporter,
	cause error,
	start time.Time,
) {
	logger.Error("job failed", zap.Error(cause))
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusFailed); err != nil &&
		!errors.Is(err, docsort.ErrProjectNotFound) {
		logger.Warn("mark project failed", zap.Error(err))
	}
	if err := reporter.Fail(ctx, cause.Error()); err != nil {
		logger.Debug("terminal event already sent", zap.Error(err))
	}
	metrics.ObserveJob(string(job.Operation), string(progress.StatusError), w.clock.Now().Sub(start))
}

func (w *Worker) processProject(
	ctx context.Context,
	logger *zap.Logger,
	job docsort.Job,
	reporter *progress.Reporter,
) error {
	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusProcessing); err != nil {
		return fmt.Errorf("mark project processing: %w", err)
	}
	w.report(ctx, logger, reporter, "Starting processing", 0)

	docs, err := w.projects.ListDocuments(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusFinished); err != nil {
			return fmt.Errorf("mark project finished: %w", err)
		}
		return w.complete(ctx, reporter, "No documents to process")
	}

	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusInAgentExecution); err != nil {
		return fmt.Errorf("mark project in agent execution: %w", err)
	}
	results := make([]docsort.Classification, 0, len(docs))
	for i, doc := range docs {
		pct := 10 + 80*i/len(docs)
		w.report(ctx, logger, reporter, fmt.Sprintf("Classifying %s (%d/%d)", doc.FileName, i+1, len(docs)), pct)
		cls, err := w.classify(ctx, logger, doc)
		if err != nil {
			return fmt.Errorf("classify %s: %w", doc.FileName, err)
		}
		results = append(results, cls)
	}

	w.report(ctx, logger, reporter, "Saving classifications", 90)
	if err := w.projects.SaveClassifications(ctx, job.ProjectID, results); err != nil {
		return fmt.Errorf("save classifications: %w", err)
	}

	if w.merger != nil {
		w.report(ctx, logger, reporter, "Merging PDF", 95)
		w.mergePDF(ctx, logger, job.ProjectID, docsort.GroupByCategory(docs, results))
	}

	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusFinished); err != nil {
		return fmt.Errorf("mark project finished: %w", err)
	}
	return w.complete(ctx, reporter, doneMessage)
}

func (w *Worker) reclassify(
	ctx context.Context,
	logger *zap.Logger,
	job docsort.Job,
	reporter *progress.Reporter,
) error {
	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusInAgentExecution); err != nil {
		return fmt.Errorf("mark project in agent execution: %w", err)
	}
	w.report(ctx, logger, reporter, "Loading current classifications", 5)

	docs, err := w.projects.ListDocuments(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	current, err := w.projects.ListClassifications(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("list classifications: %w", err)
	}

	w.report(ctx, logger, reporter, "Asking agent to reclassify", 20)
	reassignments, notes, err := w.classifier.Reclassify(ctx, job.Params.Prompt, docsort.GroupByCategory(docs, current))
	if err != nil {
		return fmt.Errorf("reclassify: %w", err)
	}
	if notes != "" {
		logger.Info("agent notes", zap.String("notes", notes))
	}

	w.report(ctx, logger, reporter, fmt.Sprintf("Applying %d change(s)", len(reassignments)), 60)
	changed := w.applyReassignments(logger, docs, current, reassignments)
	if len(changed) > 0 {
		if err := w.projects.SaveClassifications(ctx, job.ProjectID, changed); err != nil {
			return fmt.Errorf("save classifications: %w", err)
		}
	}

	if job.Params.RegeneratePDF && w.merger != nil {
		w.report(ctx, logger, reporter, "Regenerating merged PDF", 85)
		updated, err := w.projects.ListClassifications(ctx, job.ProjectID)
		if err != nil {
			return fmt.Errorf("list classifications: %w", err)
		}
		w.mergePDF(ctx, logger, job.ProjectID, docsort.GroupByCategory(docs, updated))
	}

	if err := w.projects.SetProjectStatus(ctx, job.ProjectID, docsort.ProjectStatusFinished); err != nil {
		return fmt.Errorf("mark project finished: %w", err)
	}
	return w.complete(ctx, reporter, fmt.Sprintf("%s: %d document(s) reclassified", doneMessage, len(changed)))
}

// applyReassignments turns agent decisions into classification rows. Unknown
// documents, invalid categories and no-op moves are skipped.
func (w *Worker) applyReassignments(
	logger *zap.Logger,
	docs []docsort.Document,
	current []docsort.Classification,
	reassignments []docsort.Reassignment,
) []docsort.Classification {
	known := make(map[int64]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	existing := make(map[int64]int, len(current))
	for _, c := range current {
		existing[c.DocumentID] = c.CategoryID
	}
	now := w.clock.Now()
	out := make([]docsort.Classification, 0, len(reassignments))
	for _, r := range reassignments {
		if !known[r.DocumentID] {
			logger.Warn("reassignment for unknown document", zap.Int64("document_id", r.DocumentID))
			continue
		}
		cat, err := docsort.LookupCategory(r.CategoryID)
		if err != nil {
			logger.Warn("reassignment with invalid category", zap.Int64("document_id", r.DocumentID), zap.Error(err))
			continue
		}
		if existing[r.DocumentID] == r.CategoryID {
			continue
		}
		out = append(out, docsort.Classification{
			DocumentID:      r.DocumentID,
			CategoryID:      cat.ID,
			CategoryName:    cat.Name,
			CategoryEnglish: cat.English,
			Confidence:      1,
			Reasoning:       r.Reasoning,
			UpdatedAt:       now,
		})
	}
	return out
}

// classify calls the classifier with exponential backoff between attempts.
func (w *Worker) classify(ctx context.Context, logger *zap.Logger, doc docsort.Document) (docsort.Classification, error) {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.ClassifyRetries; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoffBase * time.Duration(1<<(attempt-1))
			logger.Warn("retrying classification",
				zap.Int64("document_id", doc.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return docsort.Classification{}, fmt.Errorf("classify canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		cls, err := w.classifier.Classify(ctx, doc)
		if err == nil {
			cls.DocumentID = doc.ID
			if cls.UpdatedAt.IsZero() {
				cls.UpdatedAt = w.clock.Now()
			}
			return normalize(cls), nil
		}
		lastErr = err
	}
	return docsort.Classification{}, lastErr
}

// normalize fills catalogue names and folds unknown categories into "Sonstiges".
func normalize(cls docsort.Classification) docsort.Classification {
	cat, err := docsort.LookupCategory(cls.CategoryID)
	if err != nil {
		cat, _ = docsort.LookupCategory(docsort.OtherCategoryID)
	}
	cls.CategoryID = cat.ID
	cls.CategoryName = cat.Name
	cls.CategoryEnglish = cat.English
	return cls
}

func (w *Worker) mergePDF(ctx context.Context, logger *zap.Logger, projectID int64, groups []docsort.CategoryGroup) {
	key, err := w.merger.Merge(ctx, projectID, groups)
	if err != nil {
		if errors.Is(err, docsort.ErrNothingToMerge) {
			logger.Info("no pdf documents to merge")
			return
		}
		logger.Warn("merge pdf failed", zap.Error(err))
		return
	}
	if err := w.projects.SetMergedPDF(ctx, projectID, key); err != nil {
		logger.Warn("record merged pdf failed", zap.Error(err))
	}
}

func (w *Worker) report(ctx context.Context, logger *zap.Logger, reporter *progress.Reporter, msg string, pct int) {
	if err := reporter.Processing(ctx, msg, pct); err != nil {
		logger.Debug("progress after terminal event", zap.Error(err))
	}
}

func (w *Worker) complete(ctx context.Context, reporter *progress.Reporter, msg string) error {
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := reporter.Complete(ctx, msg); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// detach returns a context that keeps ctx's values but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}
