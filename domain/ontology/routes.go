package ontology

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all ontology routes.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.POST("/api/containers", h.CreateContainer)
	e.GET("/api/containers/:containerID", h.GetContainer)

	g := e.Group("/api/containers/:containerID")
	g.POST("/data-sources", h.CreateDataSource)
	g.GET("/data-sources/:id", h.GetDataSource)
	g.POST("/metatypes", h.CreateMetatype)
	g.GET("/metatypes", h.ListMetatypes)
	g.GET("/metatypes/:id", h.GetMetatype)
	g.POST("/relationships", h.CreateRelationship)
	g.GET("/relationships/:id", h.GetRelationship)
	g.POST("/relationship-pairs", h.CreatePair)
	g.GET("/relationship-pairs", h.ListPairs)
	g.GET("/relationship-pairs/:id", h.GetPair)
}
