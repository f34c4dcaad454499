package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
)

// StagedNode is a node revision parked in the staging table. Staging rows are
// appended without identity checks and reconciled at promotion.
type StagedNode struct {
	bun.BaseModel `bun:"table:nodes_staging,alias:ns"`

	ID             string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID    string         `bun:"container_id,notnull,type:uuid" json:"container_id"`
	MetatypeID     string         `bun:"metatype_id,notnull,type:uuid" json:"metatype_id"`
	DataSourceID   string         `bun:"data_source_id,type:uuid,nullzero" json:"data_source_id,omitempty"`
	ImportDataID   string         `bun:"import_data_id,type:uuid,nullzero" json:"import_data_id,omitempty"`
	DataStagingID  string         `bun:"data_staging_id,type:uuid,nullzero" json:"data_staging_id,omitempty"`
	OriginalDataID string         `bun:"original_data_id,nullzero" json:"original_data_id,omitempty"`
	Properties     map[string]any `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	MetadataProps  map[string]any `bun:"metadata_properties,type:jsonb,nullzero" json:"metadata_properties,omitempty"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`
	ModifiedAt     time.Time      `bun:"modified_at,nullzero,notnull,default:now()" json:"modified_at"`
	CreatedBy      string         `bun:"created_by,nullzero" json:"created_by,omitempty"`
	ModifiedBy     string         `bun:"modified_by,nullzero" json:"modified_by,omitempty"`
}

// StagedEdge is an edge revision parked in the staging table.
type StagedEdge struct {
	bun.BaseModel `bun:"table:edges_staging,alias:es"`

	ID                 string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID        string         `bun:"container_id,notnull,type:uuid" json:"container_id"`
	RelationshipPairID string         `bun:"relationship_pair_id,notnull,type:uuid" json:"relationship_pair_id"`
	DataSourceID       string         `bun:"data_source_id,type:uuid,nullzero" json:"data_source_id,omitempty"`
	ImportDataID       string         `bun:"import_data_id,type:uuid,nullzero" json:"import_data_id,omitempty"`
	DataStagingID      string         `bun:"data_staging_id,type:uuid,nullzero" json:"data_staging_id,omitempty"`
	OriginID           string         `bun:"origin_id,type:uuid,nullzero" json:"origin_id,omitempty"`
	DestinationID      string         `bun:"destination_id,type:uuid,nullzero" json:"destination_id,omitempty"`
	OriginOriginalID   string         `bun:"origin_original_id,nullzero" json:"origin_original_id,omitempty"`
	OriginDataSourceID string         `bun:"origin_data_source_id,type:uuid,nullzero" json:"origin_data_source_id,omitempty"`
	OriginMetatypeID   string         `bun:"origin_metatype_id,type:uuid,nullzero" json:"origin_metatype_id,omitempty"`
	DestOriginalID     string         `bun:"destination_original_id,nullzero" json:"destination_original_id,omitempty"`
	DestDataSourceID   string         `bun:"destination_data_source_id,type:uuid,nullzero" json:"destination_data_source_id,omitempty"`
	DestMetatypeID     string         `bun:"destination_metatype_id,type:uuid,nullzero" json:"destination_metatype_id,omitempty"`
	Properties         map[string]any `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	MetadataProps      map[string]any `bun:"metadata_properties,type:jsonb,nullzero" json:"metadata_properties,omitempty"`
	Metadata           map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	CreatedAt          time.Time      `bun:"created_at,nullzero,notnull,default:now()" json:"created_at"`
	ModifiedAt         time.Time      `bun:"modified_at,nullzero,notnull,default:now()" json:"modified_at"`
	CreatedBy          string         `bun:"created_by,nullzero" json:"created_by,omitempty"`
	ModifiedBy         string         `bun:"modified_by,nullzero" json:"modified_by,omitempty"`
}

// PromoteResult reports what a promotion pass did.
type PromoteResult struct {
	NodesDeduplicated int64 `json:"nodes_deduplicated"`
	EdgesDeduplicated int64 `json:"edges_deduplicated"`
	NodesPromoted     int64 `json:"nodes_promoted"`
	EdgesPromoted     int64 `json:"edges_promoted"`
	StagingPurged     int64 `json:"staging_purged"`
}

// Staging moves batches of staged rows into the primary tables:
// deduplicate, promote through the identity upsert, purge. All three steps
// run on the caller's transaction so a failed promotion leaves the staging
// rows in place.
type Staging struct {
	db  bun.IDB
	log *slog.Logger
}

func NewStaging(db bun.IDB, log *slog.Logger) *Staging {
	return &Staging{
		db:  db,
		log: log.With(logger.Scope("graph.staging")),
	}
}

func (s *Staging) handle(db bun.IDB) bun.IDB {
	if db != nil {
		return db
	}
	return s.db
}

// StageNodes appends node revisions to the staging table.
func (s *Staging) StageNodes(ctx context.Context, db bun.IDB, nodes []*StagedNode) error {
	if len(nodes) == 0 {
		return nil
	}
	if _, err := s.handle(db).NewInsert().Model(&nodes).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithMessage("node staging failed").WithInternal(err)
	}
	return nil
}

// StageEdges appends edge revisions to the staging table.
func (s *Staging) StageEdges(ctx context.Context, db bun.IDB, edges []*StagedEdge) error {
	if len(edges) == 0 {
		return nil
	}
	if _, err := s.handle(db).NewInsert().Model(&edges).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithMessage("edge staging failed").WithInternal(err)
	}
	return nil
}

// PromoteBatch promotes all staged rows belonging to the given imports. The
// promotion is idempotent: rerunning it for an already promoted import finds
// no staging rows and the identity upsert's distinctness guard makes repeated
// payloads affect zero rows.
func (s *Staging) PromoteBatch(ctx context.Context, db bun.IDB, importIDs []string) (PromoteResult, error) {
	var result PromoteResult
	if len(importIDs) == 0 {
		return result, nil
	}
	h := s.handle(db)

	// Keep one staging row per identity and timestamp, the most recently
	// inserted wins. Duplicates inside one batch would otherwise trip the
	// identity index during promotion.
	res, err := h.NewRaw(`
		DELETE FROM nodes_staging WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY original_data_id, data_source_id, created_at, container_id
					ORDER BY modified_at DESC, id DESC
				) AS rnum
				FROM nodes_staging
				WHERE import_data_id IN (?)
					AND original_data_id IS NOT NULL AND data_source_id IS NOT NULL
			) ranked WHERE ranked.rnum > 1
		)`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("node staging dedup failed").WithInternal(err)
	}
	result.NodesDeduplicated, _ = res.RowsAffected()

	res, err = h.NewRaw(`
		DELETE FROM edges_staging WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY container_id, relationship_pair_id, data_source_id, created_at, origin_id, destination_id
					ORDER BY modified_at DESC, id DESC
				) AS rnum
				FROM edges_staging
				WHERE import_data_id IN (?)
					AND origin_id IS NOT NULL AND destination_id IS NOT NULL
			) ranked WHERE ranked.rnum > 1
		)`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("edge staging dedup failed").WithInternal(err)
	}
	result.EdgesDeduplicated, _ = res.RowsAffected()

	res, err = h.NewRaw(`
		INSERT INTO nodes (id, container_id, metatype_id, data_source_id, import_data_id, data_staging_id,
			original_data_id, properties, metadata_properties, metadata, created_at, modified_at, created_by, modified_by)
		SELECT id, container_id, metatype_id, data_source_id, import_data_id, data_staging_id,
			original_data_id, properties, metadata_properties, metadata, created_at, now(), created_by, modified_by
		FROM nodes_staging
		WHERE import_data_id IN (?)
		ON CONFLICT (created_at, original_data_id, container_id, data_source_id)
			WHERE original_data_id IS NOT NULL AND data_source_id IS NOT NULL
		DO UPDATE SET
			properties = EXCLUDED.properties,
			metadata_properties = EXCLUDED.metadata_properties,
			deleted_at = NULL,
			modified_at = now(),
			modified_by = EXCLUDED.modified_by
		WHERE nodes.properties IS DISTINCT FROM EXCLUDED.properties
			OR nodes.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
			OR nodes.deleted_at IS NOT NULL`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("node promotion failed").WithInternal(err)
	}
	result.NodesPromoted, _ = res.RowsAffected()

	res, err = h.NewRaw(`
		INSERT INTO edges (id, container_id, relationship_pair_id, data_source_id, import_data_id, data_staging_id,
			origin_id, destination_id, origin_original_id, origin_data_source_id, origin_metatype_id,
			destination_original_id, destination_data_source_id, destination_metatype_id,
			properties, metadata_properties, metadata, created_at, modified_at, created_by, modified_by)
		SELECT id, container_id, relationship_pair_id, data_source_id, import_data_id, data_staging_id,
			origin_id, destination_id, origin_original_id, origin_data_source_id, origin_metatype_id,
			destination_original_id, destination_data_source_id, destination_metatype_id,
			properties, metadata_properties, metadata, created_at, now(), created_by, modified_by
		FROM edges_staging
		WHERE import_data_id IN (?)
		ON CONFLICT (container_id, relationship_pair_id, data_source_id, created_at, origin_id, destination_id)
			WHERE origin_id IS NOT NULL AND destination_id IS NOT NULL
		DO UPDATE SET
			properties = EXCLUDED.properties,
			metadata_properties = EXCLUDED.metadata_properties,
			deleted_at = NULL,
			modified_at = now(),
			modified_by = EXCLUDED.modified_by
		WHERE edges.properties IS DISTINCT FROM EXCLUDED.properties
			OR edges.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
			OR edges.deleted_at IS NOT NULL`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("edge promotion failed").WithInternal(err)
	}
	result.EdgesPromoted, _ = res.RowsAffected()

	res, err = h.NewRaw(
		`DELETE FROM nodes_staging WHERE import_data_id IN (?)`, bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("node staging purge failed").WithInternal(err)
	}
	result.StagingPurged, _ = res.RowsAffected()

	res, err = h.NewRaw(
		`DELETE FROM edges_staging WHERE import_data_id IN (?)`, bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return result, apperror.ErrDatabase.WithMessage("edge staging purge failed").WithInternal(err)
	}
	purgedEdges, _ := res.RowsAffected()
	result.StagingPurged += purgedEdges

	s.log.Info("staging batch promoted",
		slog.Int("imports", len(importIDs)),
		slog.Int64("nodes_promoted", result.NodesPromoted),
		slog.Int64("edges_promoted", result.EdgesPromoted),
		slog.Int64("nodes_deduplicated", result.NodesDeduplicated),
		slog.Int64("edges_deduplicated", result.EdgesDeduplicated),
	)
	return result, nil
}

// PurgeOlderThan removes staging rows that have outlived the retention
// window without ever being promoted, typically leftovers of failed imports.
func (s *Staging) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.NewRaw(
		`DELETE FROM nodes_staging WHERE created_at < ?`, cutoff).Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("staging retention purge failed").WithInternal(err)
	}
	purged, _ := res.RowsAffected()

	res, err = s.db.NewRaw(
		`DELETE FROM edges_staging WHERE created_at < ?`, cutoff).Exec(ctx)
	if err != nil {
		return purged, apperror.ErrDatabase.WithMessage("staging retention purge failed").WithInternal(err)
	}
	purgedEdges, _ := res.RowsAffected()
	return purged + purgedEdges, nil
}

// StagingCounts reports pending staging rows for an import.
func (s *Staging) StagingCounts(ctx context.Context, db bun.IDB, importID string) (nodes int64, edges int64, err error) {
	h := s.handle(db)
	if err = h.NewRaw(
		`SELECT count(*) FROM nodes_staging WHERE import_data_id = ?`, importID).Scan(ctx, &nodes); err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	if err = h.NewRaw(
		`SELECT count(*) FROM edges_staging WHERE import_data_id = ?`, importID).Scan(ctx, &edges); err != nil {
		return 0, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return nodes, edges, nil
}
