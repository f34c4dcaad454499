package imports

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/jobs"
	"github.com/basalt-works/basalt/pkg/logger"
)

// NewWorker builds the polling worker that drains the import queue.
func NewWorker(cfg *config.Config, svc *Service, log *slog.Logger) *jobs.Worker {
	wc := jobs.DefaultWorkerConfig("import-worker")
	wc.PollInterval = cfg.Imports.WorkerInterval
	wc.BatchSize = cfg.Imports.WorkerBatchSize
	wc.StaleThresholdMinutes = cfg.Imports.StaleThresholdMinutes

	return jobs.NewWorker(wc, log, svc.ProcessQueued)
}

// StartWorker hooks the worker into the application lifecycle.
func StartWorker(lc fx.Lifecycle, worker *jobs.Worker, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting import worker", logger.Scope("imports"))
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
