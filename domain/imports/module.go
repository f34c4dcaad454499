package imports

import (
	"go.uber.org/fx"
)

// Module provides the import pipeline: queue, service, worker, janitor and
// HTTP surface.
var Module = fx.Module("imports",
	fx.Provide(NewRepository),
	fx.Provide(NewQueue),
	fx.Provide(NewService),
	fx.Provide(NewWorker),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(StartWorker),
	fx.Invoke(RegisterJanitor),
)
