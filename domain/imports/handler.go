package imports

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/basalt-works/basalt/pkg/apperror"
)

// Handler handles HTTP requests for imports.
type Handler struct {
	svc *Service
}

// NewHandler creates a new imports handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateImportRequest is the request body for receiving a batch of records.
type CreateImportRequest struct {
	DataSourceID string            `json:"data_source_id" validate:"required"`
	Records      []json.RawMessage `json:"records" validate:"required"`
}

// ListResponse is the paged list envelope.
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
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

// CreateImport receives a batch of raw records for asynchronous processing.
// POST /api/containers/:containerID/imports
func (h *Handler) CreateImport(c echo.Context) error {
	var req CreateImportRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err)
	}

	imp, err := h.svc.CreateImport(
		c.Request().Context(),
		c.Param("containerID"),
		req.DataSourceID,
		c.Request().Header.Get("X-User-ID"),
		req.Records,
	)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, imp)
}

// GetImport returns one import with its processing status.
// GET /api/containers/:containerID/imports/:id
func (h *Handler) GetImport(c echo.Context) error {
	imp, err := h.svc.GetImport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, imp)
}

// ListImports pages through a container's imports.
// GET /api/containers/:containerID/imports
func (h *Handler) ListImports(c echo.Context) error {
	limit, offset := pageParams(c)
	list, total, err := h.svc.ListImports(c.Request().Context(), c.Param("containerID"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*Import]{
		Items: list, Total: total, Limit: limit, Offset: offset,
	})
}

// ListRecords pages through an import's staged records.
// GET /api/containers/:containerID/imports/:id/records
func (h *Handler) ListRecords(c echo.Context) error {
	limit, offset := pageParams(c)
	records, total, err := h.svc.ListRecords(c.Request().Context(), c.Param("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListResponse[*StagedRecord]{
		Items: records, Total: total, Limit: limit, Offset: offset,
	})
}

// LinkRecordFile attaches a file to a staged record before processing.
// PUT /api/containers/:containerID/imports/:id/records/:recordID/files/:fileID
func (h *Handler) LinkRecordFile(c echo.Context) error {
	err := h.svc.LinkRecordFile(c.Request().Context(), c.Param("id"), c.Param("recordID"), c.Param("fileID"))
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RequeueImport puts a finished import back on the processing queue.
// POST /api/containers/:containerID/imports/:id/requeue
func (h *Handler) RequeueImport(c echo.Context) error {
	if err := h.svc.Requeue(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// QueueStats reports the import queue depth per status.
// GET /api/imports/stats
func (h *Handler) QueueStats(c echo.Context) error {
	stats, err := h.svc.QueueStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
