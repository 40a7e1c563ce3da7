package app

import (
	"context"
	"strings"

	"go.uber.org/fx"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/service"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// NewApp builds the fx application. runJobs names jobs (by name or id) to
// submit once the catalog has been applied. opts are appended last, which lets
// tests populate components.
func NewApp(envFilePath string, embeddedConfig config.EmbeddedConfig, runJobs []string, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		Module,
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, svc *service.Service) {
			lc.Append(fx.Hook{
				OnStart: onStartApplication(cfg, svc, runJobs),
				OnStop:  onStopApplication(),
			})
		}),
		fx.Options(opts...),
	)
}

// RunApplication starts the engine and serves until ctx ends or fx receives
// a shutdown signal.
func RunApplication(ctx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig, runJobs []string) error {
	app := NewApp(envFilePath, embeddedConfig, runJobs)

	startCtx, cancelStart := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	logger.Infof("etlcore started.")

	select {
	case <-ctx.Done():
		logger.Warnf("Application context cancelled. Shutting down.")
	case sig := <-app.Done():
		logger.Warnf("Received signal '%v'. Shutting down.", sig)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return app.Stop(stopCtx)
}

// ParseRunJobs splits a comma-separated job list.
func ParseRunJobs(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func onStartApplication(cfg *config.Config, svc *service.Service, runJobs []string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if _, err := svc.ResetStuckExecutions(ctx, cfg.ETL.Scheduler.RecoverStaleAfter); err != nil {
			logger.Errorf("Failed to recover stuck executions: %v", err)
		}
		if path := cfg.ETL.Catalog; path != "" {
			catalog, err := config.LoadCatalog(path)
			if err != nil {
				return err
			}
			if _, err := svc.ApplyCatalog(ctx, catalog); err != nil {
				logger.Errorf("Job catalog %s: %v", path, err)
			}
		}
		for _, ref := range runJobs {
			job, err := svc.ResolveJobRef(ctx, ref)
			if err != nil {
				logger.Errorf("Cannot submit job '%s': %v", ref, err)
				continue
			}
			execID, err := svc.SubmitJob(ctx, service.SubmitRequest{JobID: job.ID})
			if err != nil {
				logger.Errorf("Failed to submit job '%s': %v", job.Name, err)
				continue
			}
			logger.Infof("Job '%s' submitted. Execution ID: %s", job.Name, execID)
		}
		return nil
	}
}

func onStopApplication() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logger.Infof("Application is shutting down.")
		return nil
	}
}
