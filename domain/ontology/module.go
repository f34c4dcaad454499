package ontology

import (
	"go.uber.org/fx"
)

// Module provides the ontology repository and HTTP surface.
var Module = fx.Module("ontology",
	fx.Provide(NewRepository),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)
