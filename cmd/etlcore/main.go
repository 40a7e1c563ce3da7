package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	"github.com/tigerroll/etlcore/internal/app"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// embeddedConfig is the default application configuration. Every value can be
// overridden with an ETL_<SECTION>_<FIELD> environment variable.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}
	runJobs := app.ParseRunJobs(os.Getenv("ETL_RUN_JOBS"))

	err := app.RunApplication(ctx, envFilePath, embeddedConfig, runJobs)
	_ = logger.Sync()
	if err != nil {
		logger.Errorf("etlcore terminated: %v", err)
		os.Exit(1)
	}
}
