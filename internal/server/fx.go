// Package server builds the docsort process from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/docsort/internal/agent"
	"github.com/JakeFAU/docsort/internal/api"
	"github.com/JakeFAU/docsort/internal/clock/system"
	"github.com/JakeFAU/docsort/internal/config"
	"github.com/JakeFAU/docsort/internal/dispatcher"
	"github.com/JakeFAU/docsort/internal/docsort"
	"github.com/JakeFAU/docsort/internal/id/uuid"
	"github.com/JakeFAU/docsort/internal/logging"
	"github.com/JakeFAU/docsort/internal/merge"
	"github.com/JakeFAU/docsort/internal/metrics"
	"github.com/JakeFAU/docsort/internal/policy/ratelimit"
	"github.com/JakeFAU/docsort/internal/progress"
	progresssinks "github.com/JakeFAU/docsort/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/docsort/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docsort/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/docsort/internal/queue/memory"
	queueRedis "github.com/JakeFAU/docsort/internal/queue/redis"
	"github.com/JakeFAU/docsort/internal/redisx"
	"github.com/JakeFAU/docsort/internal/relay"
	gcsstorage "github.com/JakeFAU/docsort/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docsort/internal/storage/local"
	memoryStorage "github.com/JakeFAU/docsort/internal/storage/memory"
	pgstore "github.com/JakeFAU/docsort/internal/storage/postgres"
	"github.com/JakeFAU/docsort/internal/telemetry"
	"github.com/JakeFAU/docsort/internal/worker"
)

// Role selects which parts of the process run.
type Role string

const (
	// RoleServe runs the HTTP API, the progress channel and an in-process
	// worker pool.
	RoleServe Role = "serve"
	// RoleWorker runs only the worker pool; progress reaches API servers
	// through the Redis relay.
	RoleWorker Role = "worker"
)

const classifyRetries = 2

type projectStore interface {
	docsort.ProjectStore
	docsort.RunStore
	Ping(ctx context.Context) error
}

type closer interface {
	Close() error
}

type topicPublisher interface {
	progresssinks.TopicPublisher
	closer
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	role   Role
	logger *zap.Logger

	httpServer  *http.Server
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	channel     *progress.Channel
	progressHub *progress.Hub
	subscriber  *relay.Subscriber
	queue       closer

	redisClient    *redis.Client
	gcsClient      *storage.Client
	projects       projectStore
	pgStore        *pgstore.ProjectStore
	completions    topicPublisher
	tracerShutdown func(context.Context) error
}

// Options adjusts Build for embedding and tests.
type Options struct {
	// Registerer receives the progress sink collectors; nil means the default
	// Prometheus registry.
	Registerer prometheus.Registerer
	// Logger replaces the logger built from config.
	Logger *zap.Logger
}

// Build creates the application's dependencies for role.
//
//nolint:gocognit,gocyclo // wiring is linear but long
func Build(ctx context.Context, cfg config.Config, role Role, opts Options) (*App, error) {
	if role != RoleServe && role != RoleWorker {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if role == RoleWorker && cfg.Queue.Backend != "redis" {
		return nil, errors.New("worker role requires queue.backend=redis")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, string(role))
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, role: role, logger: logger}
	logger.Info("building application dependencies",
		zap.String("role", string(role)),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("database", cfg.Database.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("agent", cfg.Agent.Backend),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
		}
	}()

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err = setupRedis(ctx, app); err != nil {
		return nil, err
	}
	queue, err := setupQueue(app)
	if err != nil {
		return nil, err
	}
	if err = setupCompletions(ctx, app); err != nil {
		return nil, err
	}
	if err = setupProgress(ctx, app, opts.Registerer); err != nil {
		return nil, err
	}
	classifier, err := setupAgent(app)
	if err != nil {
		return nil, err
	}

	publisher := setupPublisher(app)
	clock := system.New()
	ids := uuid.New()
	merger := merge.New(blobs, cfg.Storage.Prefix, logger.Named("merge"))

	workers := make([]dispatcher.Runner, 0, cfg.Queue.Workers)
	for i := 0; i < cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(
			queue,
			app.projects,
			classifier,
			merger,
			publisher,
			clock,
			worker.Config{ClassifyRetries: classifyRetries},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(
		queue,
		app.projects,
		ids,
		clock,
		workers,
		dispatcher.Config{EnqueueTimeout: cfg.EnqueueTimeout()},
		logger.Named("dispatcher"),
	)

	if role == RoleServe {
		checks := map[string]api.Pinger{"store": app.projects}
		if app.redisClient != nil {
			client := app.redisClient
			checks["redis"] = api.PingFunc(func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
		}
		app.apiServer = api.NewServer(api.Deps{
			Projects:   app.projects,
			Runs:       app.projects,
			Blobs:      blobs,
			Dispatcher: app.dispatch,
			Channel:    app.channel,
			IDs:        ids,
			Clock:      clock,
			Checks:     checks,
			Admission: ratelimit.New(ratelimit.Config{
				RPS:   cfg.Server.TriggerRPS,
				Burst: cfg.Server.TriggerBurst,
			}),
		}, api.Options{
			RequestTimeout: cfg.RequestTimeout(),
			MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
			StoragePrefix:  cfg.Storage.Prefix,
		}, logger.Named("api"))
		app.httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           app.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	built = true
	return app, nil
}

// Handler returns the HTTP handler, or nil for the worker role.
func (a *App) Handler() http.Handler {
	if a.apiServer == nil {
		return nil
	}
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started", zap.String("role", string(a.role)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Queue.Workers))
		return a.dispatch.Run(gctx)
	})
	if a.subscriber != nil {
		g.Go(func() error {
			if err := a.subscriber.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("relay subscriber: %w", err)
			}
			return nil
		})
	}
	if a.httpServer != nil {
		g.Go(func() error {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
			defer cancel()
			a.channel.Close()
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("application stopped with error", zap.Error(runErr))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.channel != nil {
		a.channel.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // shutdown is linear but touches every backend
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.completions != nil {
		if err := a.completions.Close(); err != nil {
			a.logger.Warn("completion publisher close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func setupStorage(ctx context.Context, app *App) (docsort.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.Backend != "postgres" {
		if app.role == RoleWorker {
			app.logger.Warn("worker role with in-memory database; projects created by the API are not visible here")
		}
		app.projects = memoryStorage.NewProjectStore()
		return nil
	}
	if app.cfg.Database.Migrate {
		if err := pgstore.RunMigrations(app.cfg.Database.DSN, app.logger.Named("migrate")); err != nil {
			return fmt.Errorf("database migrations failed: %w", err)
		}
	}
	store, err := pgstore.NewProjectStore(ctx, pgstore.Config{
		DSN:      app.cfg.Database.DSN,
		MaxConns: app.cfg.Database.MaxConns,
		MinConns: app.cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("project store init failed: %w", err)
	}
	app.pgStore = store
	app.projects = store
	app.logger.Info("postgres project store initialized")
	return nil
}

func setupRedis(ctx context.Context, app *App) error {
	if app.cfg.Redis.URL == "" {
		return nil
	}
	client, err := redisx.Dial(ctx, app.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	app.redisClient = client
	app.logger.Info("redis connected")
	return nil
}

func setupQueue(app *App) (docsort.Queue, error) {
	if app.cfg.Queue.Backend == "redis" {
		if app.redisClient == nil {
			return nil, errors.New("redis queue requires redis.url")
		}
		q, err := queueRedis.New(app.redisClient, app.cfg.Queue.Key, 0)
		if err != nil {
			return nil, fmt.Errorf("redis queue init failed: %w", err)
		}
		app.queue = q
		app.logger.Info("using redis job queue", zap.String("key", app.cfg.Queue.Key))
		return q, nil
	}
	q := queueMemory.NewQueue(app.cfg.Queue.Buffer)
	app.queue = q
	app.logger.Info("using in-memory job queue", zap.Int("buffer", app.cfg.Queue.Buffer))
	return q, nil
}

func setupCompletions(ctx context.Context, app *App) error {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.Progress.CompletionTopic == "" {
		app.logger.Info("no Pub/Sub project configured, using in-memory completion publisher")
		app.completions = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	app.completions = pub
	app.logger.Info("Pub/Sub completion publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.Progress.CompletionTopic),
	)
	return nil
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(app.projects, app.logger.Named("progress_store")),
		progresssinks.NewCompletionSink(app.completions, app.cfg.Progress.CompletionTopic, app.logger.Named("progress_completion")),
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)

	if app.role == RoleServe {
		app.channel = progress.NewChannel(app.logger.Named("channel"))
		if app.redisClient != nil {
			app.subscriber = relay.NewSubscriber(app.redisClient, app.channel, app.logger.Named("relay"))
		}
	}
	return nil
}

// setupPublisher picks where worker progress goes. With Redis every event
// crosses the relay so any API replica can deliver it; without Redis the
// local channel is the only audience.
func setupPublisher(app *App) progress.Publisher {
	if app.redisClient != nil {
		return progress.Fanout{relay.NewPublisher(app.redisClient, app.logger.Named("relay")), app.progressHub}
	}
	if app.channel != nil {
		return progress.Fanout{app.channel, app.progressHub}
	}
	return app.progressHub
}

func setupAgent(app *App) (docsort.Classifier, error) {
	if app.cfg.Agent.Backend != "openai" {
		app.logger.Info("using heuristic classifier")
		return agent.NewHeuristic(), nil
	}
	classifier, err := agent.NewAzure(agent.AzureConfig{
		Endpoint:   app.cfg.Agent.Endpoint,
		Deployment: app.cfg.Agent.Deployment,
		APIVersion: app.cfg.Agent.APIVersion,
		APIKey:     app.cfg.Agent.APIKey,
	}, app.logger.Named("agent"))
	if err != nil {
		return nil, fmt.Errorf("agent init failed: %w", err)
	}
	app.logger.Info("using Azure OpenAI classifier", zap.String("deployment", app.cfg.Agent.Deployment))
	return classifier, nil
}
