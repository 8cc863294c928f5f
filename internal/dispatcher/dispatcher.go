// Package dispatcher accepts trigger requests and fans queued work out to a
// pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/metrics"
	"github.com/JakeFAU/docsort/internal/telemetry"
)

var (
	// ErrInvalidParams wraps operation or parameter validation failures.
	ErrInvalidParams = errors.New("invalid trigger parameters")
	// ErrEnqueue marks a failure to hand the job to the queue. Callers may
	// retry the trigger.
	ErrEnqueue = errors.New("enqueue failed")
)

const defaultEnqueueTimeout = 5 * time.Second

// Runner is one queue consumer.
type Runner interface {
	Run(ctx context.Context) error
}

// Ack acknowledges an accepted trigger. The job itself runs later.
type Ack struct {
	JobID     string            `json:"job_id"`
	ProjectID int64             `json:"project_id"`
	Operation docsort.Operation `json:"operation"`
}

// Config tunes trigger handling.
type Config struct {
	EnqueueTimeout time.Duration
}

// Dispatcher validates triggers, enqueues jobs, and runs the worker pool.
type Dispatcher struct {
	queue    docsort.Queue
	projects docsort.ProjectStore
	ids      docsort.IDGenerator
	clock    docsort.Clock
	workers  []Runner
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue docsort.Queue,
	projects docsort.ProjectStore,
	ids docsort.IDGenerator,
	clock docsort.Clock,
	workers []Runner,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		projects: projects,
		ids:      ids,
		clock:    clock,
		workers:  workers,
		cfg:      cfg,
		logger:   logger,
	}
}

// Trigger validates the request, confirms the project exists, and enqueues
// the job. It returns as soon as the queue accepts the job; progress is
// reported by the worker through the progress channel.
func (d *Dispatcher) Trigger(
	ctx context.Context,
	projectID int64,
	op docsort.Operation,
	params docsort.Params,
) (Ack, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dispatcher.trigger")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("docsort.project_id", projectID),
		attribute.String("docsort.operation", string(op)),
	)

	ack, result, err := d.trigger(ctx, projectID, op, params)
	metrics.ObserveTrigger(string(op), result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		d.logger.Warn("trigger rejected",
			zap.Int64("project_id", projectID),
			zap.String("operation", string(op)),
			zap.String("result", result),
			zap.Error(err),
		)
		return Ack{}, err
	}
	span.SetAttributes(attribute.String("docsort.job_id", ack.JobID))
	d.logger.Info("job enqueued",
		zap.Int64("project_id", projectID),
		zap.String("operation", string(op)),
		zap.String("job_id", ack.JobID),
	)
	return ack, nil
}

func (d *Dispatcher) trigger(
	ctx context.Context,
	projectID int64,
	op docsort.Operation,
	params docsort.Params,
) (Ack, string, error) {
	if err := params.Validate(op); err != nil {
		return Ack{}, "invalid", fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}
	if _, err := d.projects.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, docsort.ErrProjectNotFound) {
			return Ack{}, "not_found", fmt.Errorf("project %d: %w", projectID, err)
		}
		return Ack{}, "error", fmt.Errorf("load project %d: %w", projectID, err)
	}

	jobID, err := d.ids.NewID()
	if err != nil {
		return Ack{}, "error", fmt.Errorf("generate job id: %w", err)
	}
	job := docsort.Job{
		ID:        jobID,
		ProjectID: projectID,
		Operation: op,
		Params:    params,
		Submitted: d.clock.Now(),
		Attempt:   1,
	}
	if err := d.Enqueue(ctx, job); err != nil {
		return Ack{}, "unavailable", err
	}
	return Ack{JobID: jobID, ProjectID: projectID, Operation: op}, "accepted", nil
}

// Enqueue hands a job to the queue with the configured timeout.
func (d *Dispatcher) Enqueue(ctx context.Context, job docsort.Job) error {
	queueCtx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()
	if err := d.queue.Enqueue(queueCtx, job); err != nil {
		return fmt.Errorf("%w: queue enqueue: %w", ErrEnqueue, err)
	}
	return nil
}

// Run starts all workers and blocks until the context finishes or a worker
// fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker pool: %w", err)
	}
	return nil
}
