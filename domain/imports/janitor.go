package imports

import (
	"context"
	"log/slog"
	"time"

	"github.com/basalt-works/basalt/domain/graph"
	"github.com/basalt-works/basalt/domain/scheduler"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/jobs"
	"github.com/basalt-works/basalt/pkg/logger"
)

// RegisterJanitor schedules the maintenance tasks for the import pipeline:
// re-queueing imports stuck in processing and purging staging rows that have
// outlived the retention window.
func RegisterJanitor(sched *scheduler.Scheduler, cfg *config.Config, queue *jobs.Queue, staging *graph.Staging, log *slog.Logger) error {
	jlog := log.With(logger.Scope("imports.janitor"))

	err := sched.AddCronTask("import-stale-recovery", cfg.Imports.JanitorSchedule, func(ctx context.Context) error {
		recovered, err := queue.RecoverStaleJobs(ctx, cfg.Imports.StaleThresholdMinutes)
		if err != nil {
			return err
		}
		if recovered > 0 {
			jlog.Info("recovered stale imports", slog.Int("count", recovered))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return sched.AddCronTask("staging-retention-purge", cfg.Imports.JanitorSchedule, func(ctx context.Context) error {
		cutoff := time.Now().Add(-cfg.Imports.StagingRetention)
		purged, err := staging.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if purged > 0 {
			jlog.Info("purged expired staging rows", slog.Int64("count", purged))
		}
		return nil
	})
}
