// Package app assembles the engine with uber-fx: every component is a provider,
// and start/stop ordering follows the dependency graph.
package app

import (
	"context"

	"go.uber.org/fx"

	cacheadaptor "github.com/tigerroll/etlcore/pkg/etl/adaptor/cache"
	gormadapter "github.com/tigerroll/etlcore/pkg/etl/adaptor/database/gorm"
	"github.com/tigerroll/etlcore/pkg/etl/adaptor/lookup"
	"github.com/tigerroll/etlcore/pkg/etl/adaptor/source"
	"github.com/tigerroll/etlcore/pkg/etl/adaptor/storage"
	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/engine"
	"github.com/tigerroll/etlcore/pkg/etl/graph"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/export"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/metrics"
	"github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/etlcore/pkg/etl/infrastructure/repository/sql"
	"github.com/tigerroll/etlcore/pkg/etl/listener/notification"
	"github.com/tigerroll/etlcore/pkg/etl/scheduler"
	"github.com/tigerroll/etlcore/pkg/etl/service"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// NewStore opens the configured store and applies migrations when enabled.
func NewStore(lc fx.Lifecycle, cfg *config.Config) (repository.Store, error) {
	dbCfg := cfg.ETL.Database
	if dbCfg.Type == "memory" {
		logger.Infof("Using the in-memory store.")
		return inmemory.NewStore(), nil
	}
	db, err := gormadapter.Open(dbCfg, cfg.ETL.System.Logging.Level)
	if err != nil {
		return nil, err
	}
	if dbCfg.AutoMigrate {
		if err := sqlrepo.Migrate(db, dbCfg.MigrationMode); err != nil {
			_ = gormadapter.Close(db)
			return nil, err
		}
	}
	store := sqlrepo.NewStore(db)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Infof("Closing %s store.", dbCfg.Type)
			return store.Close()
		},
	})
	logger.Infof("Using the %s store.", dbCfg.Type)
	return store, nil
}

// NewTelemetry sets up metrics and tracing, and serves /metrics when the
// Prometheus backend is selected.
func NewTelemetry(lc fx.Lifecycle, cfg *config.Config) (*metrics.Telemetry, error) {
	t, err := metrics.Setup(context.Background(), cfg.ETL.Metrics, cfg.ETL.Tracing)
	if err != nil {
		return nil, err
	}
	var srv *metrics.MetricsServer
	if h := t.MetricsHandler(); h != nil && cfg.ETL.Metrics.ListenAddress != "" {
		srv = metrics.NewMetricsServer(cfg.ETL.Metrics.ListenAddress, h)
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if srv == nil {
				return nil
			}
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			if srv != nil {
				if err := srv.Stop(ctx); err != nil {
					logger.Warnf("Metrics server did not stop cleanly: %v", err)
				}
			}
			return t.Shutdown(ctx)
		},
	})
	return t, nil
}

// NewPublisher starts the event fan-out. Events are logged; Close drains the queue.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config) port.EventPublisher {
	p := notification.NewAsyncPublisher(cfg.ETL.Events.BufferSize, notification.NewLoggingNotifier())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Close()
			return nil
		},
	})
	return p
}

// NewStorageResolver opens storage connections on first use.
func NewStorageResolver(lc fx.Lifecycle, cfg *config.Config) port.StorageResolver {
	r := storage.NewResolver(cfg.ETL.Storage, storage.DefaultFactories())
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return r.CloseAll() },
	})
	return r
}

// NewLookups serves the configured lookup tables through the read cache.
func NewLookups(cfg *config.Config, cache port.Cache) port.LookupProvider {
	return lookup.NewCachedProvider(lookup.NewStaticProvider(cfg.ETL.Lookups), cache)
}

// EngineParams groups the collaborators of NewEngine.
type EngineParams struct {
	fx.In
	Store     repository.Store
	Sources   port.SourceRegistry
	Lookups   port.LookupProvider
	Publisher port.EventPublisher
	Telemetry *metrics.Telemetry
	Config    *config.Config
}

// NewEngine creates the execution engine.
func NewEngine(p EngineParams) *engine.Engine {
	return engine.New(engine.Params{
		Store:     p.Store,
		Sources:   p.Sources,
		Lookups:   p.Lookups,
		Publisher: p.Publisher,
		Recorder:  p.Telemetry.Recorder,
		Tracer:    p.Telemetry.Tracer,
		Config:    p.Config,
	})
}

// NewScheduler creates the queue workers. They run between start and stop.
func NewScheduler(lc fx.Lifecycle, cfg *config.Config, store repository.Store, eng *engine.Engine, publisher port.EventPublisher, t *metrics.Telemetry) *scheduler.Scheduler {
	s := scheduler.New(cfg.ETL.Scheduler, store, eng, publisher, t.Recorder)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error { return s.Stop(ctx) },
	})
	return s
}

// NewGraph creates the dependency graph and loads it on start.
func NewGraph(lc fx.Lifecycle, store repository.Store) *graph.Graph {
	g := graph.New(store)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return g.Load(ctx) },
	})
	return g
}

// NewExporter creates the parquet audit exporter.
func NewExporter(cfg *config.Config, store repository.Store, storages port.StorageResolver) (service.AuditExporter, error) {
	return export.NewAuditExporter(cfg.ETL.Export, store, storages)
}

// ServiceParams groups the collaborators of NewService.
type ServiceParams struct {
	fx.In
	Store     repository.Store
	Graph     *graph.Graph
	Scheduler *scheduler.Scheduler
	Sources   port.SourceRegistry
	Lookups   port.LookupProvider
	Cache     port.Cache
	Exporter  service.AuditExporter
}

// NewService creates the operation surface.
func NewService(p ServiceParams) *service.Service {
	return service.New(service.Params{
		Store:     p.Store,
		Graph:     p.Graph,
		Scheduler: p.Scheduler,
		Sources:   p.Sources,
		Lookups:   p.Lookups,
		Cache:     p.Cache,
		Exporter:  p.Exporter,
	})
}

// WireCompletion closes the loop engine/scheduler -> graph -> scheduler: a
// finished execution lets the graph dispatch its now-executable children.
func WireCompletion(eng *engine.Engine, s *scheduler.Scheduler, g *graph.Graph) {
	eng.SetCompletionListener(g)
	s.SetCompletionListener(g)
	g.SetDispatcher(s)
}

// Module provides every engine component.
var Module = fx.Options(
	fx.Provide(
		config.NewConfigProvider,
		NewStore,
		NewTelemetry,
		func(cfg *config.Config) port.Cache { return cacheadaptor.New(cfg.ETL.Cache) },
		NewPublisher,
		NewStorageResolver,
		fx.Annotate(source.NewRegistry, fx.As(new(port.SourceRegistry))),
		NewLookups,
		NewEngine,
		NewScheduler,
		NewGraph,
		NewExporter,
		NewService,
	),
	fx.Invoke(WireCompletion),
)
