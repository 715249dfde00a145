// Package cmd provides the intake CLI commands.
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/otherjamesbrown/intake/config"
	"github.com/otherjamesbrown/intake/pkg/broker"
	"github.com/otherjamesbrown/intake/pkg/db"
	"github.com/otherjamesbrown/intake/pkg/dispatch"
	"github.com/otherjamesbrown/intake/pkg/events"
	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/pipeline"
	"github.com/otherjamesbrown/intake/pkg/queues"
	"github.com/otherjamesbrown/intake/pkg/recovery"
	"github.com/otherjamesbrown/intake/pkg/review"
	"github.com/otherjamesbrown/intake/pkg/workers"
)

// App holds the wired service components shared by the commands.
type App struct {
	Config   *config.Config
	Logger   logging.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	Store    intake.Repository
	Items    review.Repository
	Reviews  *review.Service
	Jobs     *dispatch.Dispatcher
	Pipeline *pipeline.Pipeline
	Handler  *pipeline.Handler

	// DB is nil on the memory store.
	DB *pgxpool.Pool

	resolve dispatch.QueueResolver
	broker  *broker.Manager
}

// NewApp connects to the configured backends and wires the pipeline.
// Call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = observability.NewMetrics(app.Registry)

	var notifier events.Notifier = events.Nop{}
	switch cfg.Store {
	case config.StoreMemory:
		app.Store = intake.NewMemoryRepository()
		app.Items = review.NewMemoryRepository()
		app.resolve = memoryResolver(cfg.QueueConfigs())
	default:
		pool, err := db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		if _, err := db.RegisterPoolStatsCollector(app.Registry, pool, "intake", "intake"); err != nil {
			pool.Close()
			return nil, fmt.Errorf("registering pool metrics: %w", err)
		}
		app.DB = pool
		app.Store = intake.NewPostgresRepository(pool)
		app.Items = review.NewPostgresRepository(pool)

		app.broker = broker.NewManager(broker.RedisFactory(cfg.RedisURL), logger)
		app.resolve = dispatch.BrokerResolver(app.broker, cfg.QueueConfigs())
		conn, err := app.broker.GetOrCreate(ctx)
		if err != nil {
			app.Close()
			return nil, err
		}
		notifier = events.NewPublisher(conn.Client(), logger)
	}

	provider, err := inference.New(cfg.Inference, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Jobs = dispatch.NewWithResolver(app.resolve, logger).SetMetrics(app.Metrics)
	app.Reviews = review.NewService(app.Items, app.Store,
		review.WithRequeuer(app.Jobs),
		review.WithNotifier(notifier),
		review.WithMetrics(app.Metrics),
		review.WithLogger(logger),
	)
	app.Pipeline = pipeline.New(app.Store, app.Items, provider,
		pipeline.WithThresholds(cfg.Thresholds),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithTracer(observability.NewTracer()),
		pipeline.WithLogger(logger),
		pipeline.WithPropertyCacheTTL(cfg.PropertyCacheTTL),
	)
	app.Handler = pipeline.NewHandler(app.Pipeline, app.Jobs)

	logger.Info("Application wired",
		logging.F("store", cfg.Store),
		logging.F("provider", provider.Name()),
	)
	return app, nil
}

// memoryResolver serves one in-process queue per job type.
func memoryResolver(configs map[queues.JobType]queues.QueueConfig) dispatch.QueueResolver {
	qs := make(map[queues.JobType]queues.Queue, len(configs))
	for t, qc := range configs {
		qs[t] = queues.NewMemoryQueue(qc)
	}
	return dispatch.StaticResolver(qs)
}

// Queue returns the queue carrying jobs of type t.
func (a *App) Queue(ctx context.Context, t queues.JobType) (queues.Queue, error) {
	return a.resolve(ctx, t)
}

// Sweeper builds the recovery sweeper.
func (a *App) Sweeper() *recovery.Sweeper {
	return recovery.NewSweeper(a.Store, a.Pipeline, a.Config.Recovery,
		recovery.WithMetrics(a.Metrics),
		recovery.WithLogger(a.Logger),
	)
}

// Workers builds a pool per job type, honouring configured counts.
func (a *App) Workers(ctx context.Context) (*workers.PoolManager, error) {
	pm := workers.NewPoolManager()
	for t, wc := range workers.DefaultWorkerConfigs() {
		if n, ok := a.Config.Workers[string(t)]; ok {
			wc.Count = n
		}
		q, err := a.Queue(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("opening %s queue: %w", t, err)
		}
		pm.RegisterPool(workers.NewPool(wc, q, a.Handler.Handle,
			workers.WithMetrics(a.Metrics),
			workers.WithLogger(a.Logger),
		))
	}
	return pm, nil
}

// Close releases the broker connection and the database pool.
func (a *App) Close() {
	if a.broker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.broker.Close(ctx)
		cancel()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
