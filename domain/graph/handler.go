package graph

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/basalt-works/basalt/pkg/apperror"
)

// Handler handles HTTP requests for graph operations.
type Handler struct {
	svc *Service
}

// NewHandler creates a new graph handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func saveOptions(c echo.Context) SaveOptions {
	return SaveOptions{
		UserID: c.Request().Header.Get("X-User-ID"),
		Merge:  c.QueryParam("merge") == "true",
	}
}

func pageParams(c echo.Context) (limit, offset int) {
	limit = 100
	if v := c.QueryParam("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// CreateNode upserts a single node.
// POST /api/containers/:containerID/graph/nodes
func (h *Handler) CreateNode(c echo.Context) error {
	var req CreateNodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	node, err := h.svc.SaveNode(c.Request().Context(), nil, req.ToNode(c.Param("containerID")), saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, node)
}

// BulkCreateNodes upserts a batch of nodes in one transaction.
// POST /api/containers/:containerID/graph/nodes/bulk
func (h *Handler) BulkCreateNodes(c echo.Context) error {
	var req BulkCreateNodesRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	if len(req.Nodes) == 0 {
		return apperror.ErrBadRequest.WithMessage("nodes must not be empty")
	}

	containerID := c.Param("containerID")
	nodes := make([]*Node, len(req.Nodes))
	for i := range req.Nodes {
		nodes[i] = req.Nodes[i].ToNode(containerID)
	}

	saved, err := h.svc.BulkSaveNodes(c.Request().Context(), nil, nodes, saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

// GetNode returns the current revision of a node.
// GET /api/containers/:containerID/graph/nodes/:id
func (h *Handler) GetNode(c echo.Context) error {
	node, err := h.svc.GetNode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// GetNodeByOriginalID returns the current revision for a composite identity.
// GET /api/containers/:containerID/graph/nodes/original/:dataSourceID/:originalID
func (h *Handler) GetNodeByOriginalID(c echo.Context) error {
	node, err := h.svc.GetNodeByCompositeID(c.Request().Context(), CompositeID{
		ContainerID:    c.Param("containerID"),
		DataSourceID:   c.Param("dataSourceID"),
		OriginalDataID: c.Param("originalID"),
		MetatypeID:     c.QueryParam("metatype_id"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// GetNodeHistory returns every revision of a node, oldest first.
// GET /api/containers/:containerID/graph/nodes/:id/history
func (h *Handler) GetNodeHistory(c echo.Context) error {
	revisions, err := h.svc.GetNodeHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revisions)
}

// GetNodeRawDataHistory returns the revision history joined to raw staged payloads.
// GET /api/containers/:containerID/graph/nodes/:id/raw-history
func (h *Handler) GetNodeRawDataHistory(c echo.Context) error {
	entries, err := h.svc.GetNodeRawDataHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

// UpdateNode writes a revision addressed by id.
// PUT /api/containers/:containerID/graph/nodes/:id
func (h *Handler) UpdateNode(c echo.Context) error {
	var req UpdateNodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	node := &Node{
		ID:            c.Param("id"),
		ContainerID:   c.Param("containerID"),
		MetatypeID:    req.MetatypeID,
		DataSourceID:  req.DataSourceID,
		Properties:    req.Properties,
		MetadataProps: req.MetadataProps,
		Metadata:      req.Metadata,
	}
	if req.CreatedAt != nil {
		node.CreatedAt = *req.CreatedAt
	}
	if node.Properties == nil {
		node.Properties = map[string]any{}
	}

	saved, err := h.svc.UpdateNode(c.Request().Context(), node, saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

// DeleteNode tombstones a node and its touching edges.
// DELETE /api/containers/:containerID/graph/nodes/:id
func (h *Handler) DeleteNode(c echo.Context) error {
	if err := h.svc.DeleteNode(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchNodes lists current nodes with filters, property predicates included.
// POST /api/containers/:containerID/graph/nodes/search
func (h *Handler) SearchNodes(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	opts := ListNodesOptions{
		ContainerID:     c.Param("containerID"),
		MetatypeID:      req.MetatypeID,
		DataSourceID:    req.DataSourceID,
		OriginalDataID:  req.OriginalDataID,
		PropertyFilters: req.PropertyFilters,
		Limit:           req.Limit,
		Offset:          req.Offset,
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	nodes, total, err := h.svc.ListNodes(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*Node]{
		Items: nodes, Total: total, Limit: opts.Limit, Offset: opts.Offset,
	})
}

// ListNodes lists current nodes with query-string filters.
// GET /api/containers/:containerID/graph/nodes
func (h *Handler) ListNodes(c echo.Context) error {
	limit, offset := pageParams(c)
	opts := ListNodesOptions{
		ContainerID:    c.Param("containerID"),
		MetatypeID:     c.QueryParam("metatype_id"),
		DataSourceID:   c.QueryParam("data_source_id"),
		OriginalDataID: c.QueryParam("original_data_id"),
		Limit:          limit,
		Offset:         offset,
	}

	nodes, total, err := h.svc.ListNodes(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*Node]{
		Items: nodes, Total: total, Limit: limit, Offset: offset,
	})
}

// CountNodes reports the container's current node count.
// GET /api/containers/:containerID/graph/nodes/count
func (h *Handler) CountNodes(c echo.Context) error {
	count, err := h.svc.NodeRowCount(c.Request().Context(), c.Param("containerID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: count})
}

// AttachNodeFile links a file to a node.
// PUT /api/containers/:containerID/graph/nodes/:id/files/:fileID
func (h *Handler) AttachNodeFile(c echo.Context) error {
	if err := h.svc.AttachNodeFile(c.Request().Context(), c.Param("id"), c.Param("fileID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DetachNodeFile unlinks a file from a node.
// DELETE /api/containers/:containerID/graph/nodes/:id/files/:fileID
func (h *Handler) DetachNodeFile(c echo.Context) error {
	if err := h.svc.DetachNodeFile(c.Request().Context(), c.Param("id"), c.Param("fileID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListNodeFiles lists the files linked to a node.
// GET /api/containers/:containerID/graph/nodes/:id/files
func (h *Handler) ListNodeFiles(c echo.Context) error {
	files, err := h.svc.ListNodeFiles(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

// RecordNodeTransformation links a transformation to a node.
// PUT /api/containers/:containerID/graph/nodes/:id/transformations/:transformationID
func (h *Handler) RecordNodeTransformation(c echo.Context) error {
	if err := h.svc.RecordNodeTransformation(c.Request().Context(), c.Param("id"), c.Param("transformationID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListNodeTransformations lists the transformations recorded against a node.
// GET /api/containers/:containerID/graph/nodes/:id/transformations
func (h *Handler) ListNodeTransformations(c echo.Context) error {
	links, err := h.svc.ListNodeTransformations(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, links)
}

// CreateEdge upserts a single, possibly templated, edge.
// POST /api/containers/:containerID/graph/edges
func (h *Handler) CreateEdge(c echo.Context) error {
	var req CreateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	saved, err := h.svc.SaveEdge(c.Request().Context(), nil, req.ToEdge(c.Param("containerID")), saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

// BulkCreateEdges upserts a batch of edges in one transaction.
// POST /api/containers/:containerID/graph/edges/bulk
func (h *Handler) BulkCreateEdges(c echo.Context) error {
	var req BulkCreateEdgesRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}
	if len(req.Edges) == 0 {
		return apperror.ErrBadRequest.WithMessage("edges must not be empty")
	}

	containerID := c.Param("containerID")
	edges := make([]*Edge, len(req.Edges))
	for i := range req.Edges {
		edges[i] = req.Edges[i].ToEdge(containerID)
	}

	saved, err := h.svc.BulkSaveEdges(c.Request().Context(), nil, edges, saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

// GetEdge returns the current revision of an edge.
// GET /api/containers/:containerID/graph/edges/:id
func (h *Handler) GetEdge(c echo.Context) error {
	edge, err := h.svc.GetEdge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// GetEdgeHistory returns every revision of an edge, oldest first.
// GET /api/containers/:containerID/graph/edges/:id/history
func (h *Handler) GetEdgeHistory(c echo.Context) error {
	revisions, err := h.svc.GetEdgeHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, revisions)
}

// UpdateEdge writes a revision addressed by id.
// PUT /api/containers/:containerID/graph/edges/:id
func (h *Handler) UpdateEdge(c echo.Context) error {
	var req UpdateEdgeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	edge := &Edge{
		ID:                 c.Param("id"),
		ContainerID:        c.Param("containerID"),
		RelationshipPairID: req.RelationshipPairID,
		DataSourceID:       req.DataSourceID,
		OriginID:           req.OriginID,
		DestinationID:      req.DestinationID,
		Properties:         req.Properties,
		MetadataProps:      req.MetadataProps,
		Metadata:           req.Metadata,
	}
	if req.CreatedAt != nil {
		edge.CreatedAt = *req.CreatedAt
	}
	if edge.Properties == nil {
		edge.Properties = map[string]any{}
	}

	saved, err := h.svc.UpdateEdge(c.Request().Context(), edge, saveOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

// DeleteEdge tombstones an edge.
// DELETE /api/containers/:containerID/graph/edges/:id
func (h *Handler) DeleteEdge(c echo.Context) error {
	if err := h.svc.DeleteEdge(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SearchEdges lists current edges with filters, property predicates included.
// POST /api/containers/:containerID/graph/edges/search
func (h *Handler) SearchEdges(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	opts := ListEdgesOptions{
		ContainerID:        c.Param("containerID"),
		RelationshipPairID: req.RelationshipPairID,
		DataSourceID:       req.DataSourceID,
		OriginID:           req.OriginID,
		DestinationID:      req.DestinationID,
		PropertyFilters:    req.PropertyFilters,
		Limit:              req.Limit,
		Offset:             req.Offset,
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	edges, total, err := h.svc.ListEdges(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*Edge]{
		Items: edges, Total: total, Limit: opts.Limit, Offset: opts.Offset,
	})
}

// ListEdges lists current edges with query-string filters.
// GET /api/containers/:containerID/graph/edges
func (h *Handler) ListEdges(c echo.Context) error {
	limit, offset := pageParams(c)
	opts := ListEdgesOptions{
		ContainerID:        c.Param("containerID"),
		RelationshipPairID: c.QueryParam("relationship_pair_id"),
		DataSourceID:       c.QueryParam("data_source_id"),
		OriginID:           c.QueryParam("origin_id"),
		DestinationID:      c.QueryParam("destination_id"),
		Limit:              limit,
		Offset:             offset,
	}

	edges, total, err := h.svc.ListEdges(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*Edge]{
		Items: edges, Total: total, Limit: limit, Offset: offset,
	})
}

// CountEdges reports the container's current edge count.
// GET /api/containers/:containerID/graph/edges/count
func (h *Handler) CountEdges(c echo.Context) error {
	count, err := h.svc.EdgeRowCount(c.Request().Context(), c.Param("containerID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CountResponse{Count: count})
}

// AttachEdgeFile links a file to an edge.
// PUT /api/containers/:containerID/graph/edges/:id/files/:fileID
func (h *Handler) AttachEdgeFile(c echo.Context) error {
	if err := h.svc.AttachEdgeFile(c.Request().Context(), c.Param("id"), c.Param("fileID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DetachEdgeFile unlinks a file from an edge.
// DELETE /api/containers/:containerID/graph/edges/:id/files/:fileID
func (h *Handler) DetachEdgeFile(c echo.Context) error {
	if err := h.svc.DetachEdgeFile(c.Request().Context(), c.Param("id"), c.Param("fileID")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
