// Package imports runs the ingestion pipeline: raw records are received in
// batches, parked in data_staging, and a background worker pushes them
// through the graph staging tables into the primary graph.
package imports

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/domain/graph"
)

// Import is one received batch of raw records. The row doubles as the job
// record for the processing worker, status follows the queue's lifecycle.
type Import struct {
	bun.BaseModel `bun:"table:imports,alias:i"`

	ID            string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID   string     `bun:"container_id,notnull,type:uuid" json:"container_id"`
	DataSourceID  string     `bun:"data_source_id,notnull,type:uuid" json:"data_source_id"`
	Status        string     `bun:"status,notnull,default:'pending'" json:"status"`
	StatusMessage string     `bun:"status_message,notnull,default:''" json:"status_message"`
	Priority      int        `bun:"priority,notnull,default:0" json:"priority"`
	AttemptCount  int        `bun:"attempt_count,notnull,default:0" json:"attempt_count"`
	LastError     string     `bun:"last_error,nullzero" json:"last_error,omitempty"`
	ScheduledAt   *time.Time `bun:"scheduled_at,nullzero" json:"scheduled_at,omitempty"`
	StartedAt     *time.Time `bun:"started_at,nullzero" json:"started_at,omitempty"`
	CompletedAt   *time.Time `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:now()" json:"updated_at"`
	CreatedBy     string     `bun:"created_by,nullzero" json:"created_by,omitempty"`
}

// StagedRecord is one raw payload attached to an import. InsertedAt marks the
// record as fully promoted; Errors carries per-record failures without
// failing the whole import.
type StagedRecord struct {
	bun.BaseModel `bun:"table:data_staging,alias:dsg"`

	ID           string          `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ImportID     string          `bun:"import_id,notnull,type:uuid" json:"import_id"`
	DataSourceID string          `bun:"data_source_id,notnull,type:uuid" json:"data_source_id"`
	Data         json.RawMessage `bun:"data,type:jsonb,notnull" json:"data"`
	Errors       []string        `bun:"errors,type:jsonb,nullzero" json:"errors,omitempty"`
	InsertedAt   *time.Time      `bun:"inserted_at,nullzero" json:"inserted_at,omitempty"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// RecordEnvelope is the expected shape of a staged record's payload.
type RecordEnvelope struct {
	Nodes []graph.CreateNodeRequest `json:"nodes"`
	Edges []graph.CreateEdgeRequest `json:"edges"`
}
