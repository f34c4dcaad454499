package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the task scheduler and hooks it into the app lifecycle.
// Domains register tasks against *Scheduler in their own modules.
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(registerLifecycle),
)

func registerLifecycle(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
