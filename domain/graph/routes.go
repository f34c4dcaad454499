package graph

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all graph routes.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/containers/:containerID/graph")

	nodes := g.Group("/nodes")
	nodes.POST("", h.CreateNode)
	nodes.POST("/bulk", h.BulkCreateNodes)
	nodes.POST("/search", h.SearchNodes)
	nodes.GET("", h.ListNodes)
	nodes.GET("/count", h.CountNodes)
	nodes.GET("/original/:dataSourceID/:originalID", h.GetNodeByOriginalID)
	nodes.GET("/:id", h.GetNode)
	nodes.PUT("/:id", h.UpdateNode)
	nodes.DELETE("/:id", h.DeleteNode)
	nodes.GET("/:id/history", h.GetNodeHistory)
	nodes.GET("/:id/raw-history", h.GetNodeRawDataHistory)
	nodes.GET("/:id/files", h.ListNodeFiles)
	nodes.PUT("/:id/files/:fileID", h.AttachNodeFile)
	nodes.DELETE("/:id/files/:fileID", h.DetachNodeFile)
	nodes.GET("/:id/transformations", h.ListNodeTransformations)
	nodes.PUT("/:id/transformations/:transformationID", h.RecordNodeTransformation)

	edges := g.Group("/edges")
	edges.POST("", h.CreateEdge)
	edges.POST("/bulk", h.BulkCreateEdges)
	edges.POST("/search", h.SearchEdges)
	edges.GET("", h.ListEdges)
	edges.GET("/count", h.CountEdges)
	edges.GET("/:id", h.GetEdge)
	edges.PUT("/:id", h.UpdateEdge)
	edges.DELETE("/:id", h.DeleteEdge)
	edges.GET("/:id/history", h.GetEdgeHistory)
	edges.PUT("/:id/files/:fileID", h.AttachEdgeFile)
	edges.DELETE("/:id/files/:fileID", h.DetachEdgeFile)
}
