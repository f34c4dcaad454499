package snapshot

import (
	"go.uber.org/fx"
)

// Module provides the snapshot cache and loader.
var Module = fx.Module("snapshot",
	fx.Provide(NewCache),
	fx.Provide(NewLoader),
)
