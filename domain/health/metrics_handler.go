package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/domain/scheduler"
)

// MetricsHandler reports pipeline backlog metrics.
type MetricsHandler struct {
	db    *bun.DB
	sched *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:    db,
		sched: sched,
	}
}

// PipelineMetrics reports the import queue and staging backlog.
type PipelineMetrics struct {
	ImportsPending    int64  `json:"imports_pending"`
	ImportsProcessing int64  `json:"imports_processing"`
	ImportsCompleted  int64  `json:"imports_completed"`
	ImportsFailed     int64  `json:"imports_failed"`
	StagedNodes       int64  `json:"staged_nodes"`
	StagedEdges       int64  `json:"staged_edges"`
	RecordsPending    int64  `json:"records_pending"`
	Timestamp         string `json:"timestamp"`
}

// PipelineMetrics reports import queue depth and staging backlog.
// GET /api/metrics/pipeline
func (m *MetricsHandler) PipelineMetrics(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	out := PipelineMetrics{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	counts := []struct {
		dest  *int64
		query string
	}{
		{&out.ImportsPending, `SELECT count(*) FROM imports WHERE status = 'pending'`},
		{&out.ImportsProcessing, `SELECT count(*) FROM imports WHERE status = 'processing'`},
		{&out.ImportsCompleted, `SELECT count(*) FROM imports WHERE status = 'completed'`},
		{&out.ImportsFailed, `SELECT count(*) FROM imports WHERE status = 'failed'`},
		{&out.StagedNodes, `SELECT count(*) FROM nodes_staging`},
		{&out.StagedEdges, `SELECT count(*) FROM edges_staging`},
		{&out.RecordsPending, `SELECT count(*) FROM data_staging WHERE inserted_at IS NULL`},
	}
	for _, count := range counts {
		if err := m.db.NewRaw(count.query).Scan(ctx, count.dest); err != nil {
			return err
		}
	}

	return c.JSON(http.StatusOK, out)
}

// SchedulerMetrics lists the registered maintenance tasks.
// GET /api/metrics/scheduler
func (m *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"tasks":     m.sched.ListTasks(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
