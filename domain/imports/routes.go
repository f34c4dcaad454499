package imports

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all import routes.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/containers/:containerID/imports")
	g.POST("", h.CreateImport)
	g.GET("", h.ListImports)
	g.GET("/:id", h.GetImport)
	g.GET("/:id/records", h.ListRecords)
	g.PUT("/:id/records/:recordID/files/:fileID", h.LinkRecordFile)
	g.POST("/:id/requeue", h.RequeueImport)

	e.GET("/api/imports/stats", h.QueueStats)
}
