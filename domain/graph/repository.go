package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/internal/database"
	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
)

// Repository is the statement layer: multi-row upserts, revision updates,
// soft deletes and current/history retrieval. Statements that participate in
// a larger transaction accept the caller's handle; a nil handle runs against
// the pool.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("graph.repo")),
	}
}

// BeginTx starts a transaction owned by the caller.
func (r *Repository) BeginTx(ctx context.Context) (*database.SafeTx, error) {
	return database.BeginSafeTx(ctx, r.db)
}

func (r *Repository) handle(db bun.IDB) bun.IDB {
	if db != nil {
		return db
	}
	return r.db
}

func marshalJSONB(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal jsonb: %w", err)
	}
	return string(raw), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// nodeColumns is the insert column list shared by the node write statements.
const nodeColumns = `container_id, metatype_id, data_source_id, import_data_id, data_staging_id,
	original_data_id, properties, metadata_properties, metadata, created_at, modified_at, created_by, modified_by`

// CreateOrUpdateNodes upserts node revisions keyed on the composite identity.
// A conflicting row with identical properties and metadata_properties is left
// untouched; in merge mode the incoming properties are unioned over the most
// recent prior revision's properties.
func (r *Repository) CreateOrUpdateNodes(ctx context.Context, db bun.IDB, userID string, merge bool, nodes []*Node) ([]*Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	var (
		valueRows []string
		args      []any
	)
	for _, n := range nodes {
		props, err := marshalJSONB(n.Properties)
		if err != nil {
			return nil, err
		}
		metaProps, err := marshalJSONB(n.MetadataProps)
		if err != nil {
			return nil, err
		}
		meta, err := marshalJSONB(n.Metadata)
		if err != nil {
			return nil, err
		}

		valueRows = append(valueRows, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			n.ContainerID, n.MetatypeID, nullableString(n.DataSourceID),
			nullableString(n.ImportDataID), nullableString(n.DataStagingID),
			nullableString(n.OriginalDataID), props, metaProps, meta,
			nullableTime(n.CreatedAt), nullableString(userID), nullableString(userID),
		)
	}
	values := strings.Join(valueRows, ", ")

	var query string
	if merge {
		// Merge base is the newest strictly older revision of the same
		// identity; its properties seed the union for brand new rows while
		// the conflict branch unions over the row already present.
		query = fmt.Sprintf(`
			INSERT INTO nodes (%s)
			SELECT u.container_id::uuid, u.metatype_id::uuid, u.data_source_id::uuid,
				u.import_data_id::uuid, u.data_staging_id::uuid, u.original_data_id,
				COALESCE(prior.properties, '{}'::jsonb) || u.properties::jsonb,
				u.metadata_properties::jsonb, u.metadata::jsonb,
				COALESCE(u.created_at::timestamptz, now()), now(), u.created_by, u.modified_by
			FROM (VALUES %s) AS
				u(container_id, metatype_id, data_source_id, import_data_id, data_staging_id,
				  original_data_id, properties, metadata_properties, metadata, created_at, created_by, modified_by)
			LEFT JOIN LATERAL (
				SELECT p.properties FROM nodes p
				WHERE p.container_id = u.container_id::uuid
					AND p.data_source_id = u.data_source_id::uuid
					AND p.original_data_id = u.original_data_id
					AND p.metatype_id = u.metatype_id::uuid
					AND p.created_at < COALESCE(u.created_at::timestamptz, now())
					AND p.deleted_at IS NULL
				ORDER BY p.created_at DESC
				LIMIT 1
			) prior ON true
			ON CONFLICT (created_at, original_data_id, container_id, data_source_id)
				WHERE original_data_id IS NOT NULL AND data_source_id IS NOT NULL
			DO UPDATE SET
				properties = nodes.properties || EXCLUDED.properties,
				metadata_properties = EXCLUDED.metadata_properties,
				deleted_at = NULL,
				modified_at = now(),
				modified_by = EXCLUDED.modified_by
			WHERE nodes.properties IS DISTINCT FROM nodes.properties || EXCLUDED.properties
				OR nodes.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
				OR nodes.deleted_at IS NOT NULL
			RETURNING *`,
			nodeColumns, values)
	} else {
		query = fmt.Sprintf(`
			INSERT INTO nodes (%s)
			SELECT u.container_id::uuid, u.metatype_id::uuid, u.data_source_id::uuid,
				u.import_data_id::uuid, u.data_staging_id::uuid, u.original_data_id,
				u.properties::jsonb, u.metadata_properties::jsonb, u.metadata::jsonb,
				COALESCE(u.created_at::timestamptz, now()), now(), u.created_by, u.modified_by
			FROM (VALUES %s) AS
				u(container_id, metatype_id, data_source_id, import_data_id, data_staging_id,
				  original_data_id, properties, metadata_properties, metadata, created_at, created_by, modified_by)
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
				OR nodes.deleted_at IS NOT NULL
			RETURNING *`,
			nodeColumns, values)
	}

	var saved []*Node
	if err := r.handle(db).NewRaw(query, args...).Scan(ctx, &saved); err != nil {
		return nil, apperror.ErrDatabase.WithMessage("node upsert failed").WithInternal(err)
	}
	return saved, nil
}

// UpdateNodes writes new revisions addressed by revision id. A row with the
// same (id, created_at) is corrected in place, identical payloads are no-ops.
func (r *Repository) UpdateNodes(ctx context.Context, db bun.IDB, userID string, merge bool, nodes []*Node) ([]*Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	saved := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		props, err := marshalJSONB(n.Properties)
		if err != nil {
			return nil, err
		}
		metaProps, err := marshalJSONB(n.MetadataProps)
		if err != nil {
			return nil, err
		}
		meta, err := marshalJSONB(n.Metadata)
		if err != nil {
			return nil, err
		}

		propsExpr := "EXCLUDED.properties"
		guardExpr := "nodes.properties IS DISTINCT FROM EXCLUDED.properties"
		if merge {
			propsExpr = "nodes.properties || EXCLUDED.properties"
			guardExpr = "nodes.properties IS DISTINCT FROM nodes.properties || EXCLUDED.properties"
		}

		query := fmt.Sprintf(`
			INSERT INTO nodes (id, %s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?::jsonb, ?::jsonb, ?::jsonb, COALESCE(?::timestamptz, now()), now(), ?, ?)
			ON CONFLICT (id, created_at)
			DO UPDATE SET
				properties = %s,
				metadata_properties = EXCLUDED.metadata_properties,
				metadata = EXCLUDED.metadata,
				deleted_at = NULL,
				modified_at = now(),
				modified_by = EXCLUDED.modified_by
			WHERE %s
				OR nodes.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
				OR nodes.deleted_at IS NOT NULL
			RETURNING *`,
			nodeColumns, propsExpr, guardExpr)

		out := new(Node)
		err = r.handle(db).NewRaw(query,
			n.ID, n.ContainerID, n.MetatypeID, nullableString(n.DataSourceID),
			nullableString(n.ImportDataID), nullableString(n.DataStagingID),
			nullableString(n.OriginalDataID), props, metaProps, meta,
			nullableTime(n.CreatedAt), nullableString(userID), nullableString(userID),
		).Scan(ctx, out)
		if errors.Is(err, sql.ErrNoRows) {
			// Identical payload, nothing changed; return the stored revision.
			existing, gerr := r.RetrieveNodeRevision(ctx, db, n.ID, n.CreatedAt)
			if gerr != nil {
				return nil, gerr
			}
			saved = append(saved, existing)
			continue
		}
		if err != nil {
			return nil, apperror.ErrDatabase.WithMessage("node update failed").WithInternal(err)
		}
		saved = append(saved, out)
	}
	return saved, nil
}

// DeleteNode tombstones the node's current revision and soft-deletes every
// current edge touching it. The revision history stays intact.
func (r *Repository) DeleteNode(ctx context.Context, db bun.IDB, id string) error {
	h := r.handle(db)

	if _, err := h.NewRaw(`
		UPDATE edges SET deleted_at = now(), modified_at = now()
		WHERE (origin_id = ? OR destination_id = ?) AND deleted_at IS NULL`,
		id, id).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithMessage("edge cascade delete failed").WithInternal(err)
	}

	res, err := h.NewRaw(`
		UPDATE nodes SET deleted_at = now(), modified_at = now()
		WHERE id = ? AND deleted_at IS NULL`,
		id).Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("node delete failed").WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("node", id)
	}
	return nil
}

// RetrieveNode returns the current revision of a node by id.
func (r *Repository) RetrieveNode(ctx context.Context, db bun.IDB, id string) (*Node, error) {
	n := new(Node)
	err := r.handle(db).NewRaw(
		`SELECT * FROM current_nodes WHERE id = ?`, id).Scan(ctx, n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("node", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return n, nil
}

// RetrieveNodeByCompositeOriginalID returns the current revision for a
// logical identity.
func (r *Repository) RetrieveNodeByCompositeOriginalID(ctx context.Context, db bun.IDB, cid CompositeID) (*Node, error) {
	n := new(Node)
	err := r.handle(db).NewRaw(`
		SELECT * FROM current_nodes_by_identity
		WHERE container_id = ? AND data_source_id = ? AND original_data_id = ? AND metatype_id = ?`,
		cid.ContainerID, cid.DataSourceID, cid.OriginalDataID, cid.MetatypeID).Scan(ctx, n)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("node", cid.OriginalDataID)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return n, nil
}

// RetrieveNodeRevision returns one exact revision.
func (r *Repository) RetrieveNodeRevision(ctx context.Context, db bun.IDB, id string, createdAt time.Time) (*Node, error) {
	n := new(Node)
	err := r.handle(db).NewSelect().
		Model(n).
		Where("n.id = ?", id).
		Where("n.created_at = ?", createdAt).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("node revision", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return n, nil
}

// RetrieveNodeHistory returns all revisions of a node ordered oldest first,
// tombstoned revisions included.
func (r *Repository) RetrieveNodeHistory(ctx context.Context, db bun.IDB, id string) ([]*Node, error) {
	var revisions []*Node
	err := r.handle(db).NewSelect().
		Model(&revisions).
		Where("n.id = ?", id).
		Order("n.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(revisions) == 0 {
		return nil, apperror.NewNotFound("node", id)
	}
	return revisions, nil
}

// NodeRawDataEntry pairs a revision with the staged raw record it came from.
type NodeRawDataEntry struct {
	Node    `bun:",extend"`
	RawData json.RawMessage `bun:"raw_data" json:"raw_data,omitempty"`
}

// RetrieveNodeRawDataHistory returns the revision history joined to the raw
// staged payloads that produced each revision.
func (r *Repository) RetrieveNodeRawDataHistory(ctx context.Context, db bun.IDB, id string) ([]*NodeRawDataEntry, error) {
	var entries []*NodeRawDataEntry
	err := r.handle(db).NewRaw(`
		SELECT n.*, ds.data AS raw_data
		FROM nodes n
		LEFT JOIN data_staging ds ON ds.id = n.data_staging_id
		WHERE n.id = ?
		ORDER BY n.created_at ASC`,
		id).Scan(ctx, &entries)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(entries) == 0 {
		return nil, apperror.NewNotFound("node", id)
	}
	return entries, nil
}

// AddNodeFile links a file to a node.
func (r *Repository) AddNodeFile(ctx context.Context, db bun.IDB, nodeID, fileID string) error {
	link := &NodeFile{NodeID: nodeID, FileID: fileID}
	_, err := r.handle(db).NewInsert().
		Model(link).
		On("CONFLICT (node_id, file_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// BulkAddNodeFiles links many files in one statement.
func (r *Repository) BulkAddNodeFiles(ctx context.Context, db bun.IDB, links []*NodeFile) error {
	if len(links) == 0 {
		return nil
	}
	_, err := r.handle(db).NewInsert().
		Model(&links).
		On("CONFLICT (node_id, file_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// RemoveNodeFile unlinks a file from a node.
func (r *Repository) RemoveNodeFile(ctx context.Context, db bun.IDB, nodeID, fileID string) error {
	res, err := r.handle(db).NewDelete().
		Model((*NodeFile)(nil)).
		Where("node_id = ?", nodeID).
		Where("file_id = ?", fileID).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("node file link", fileID)
	}
	return nil
}

// ListNodeFiles lists file links for a node.
func (r *Repository) ListNodeFiles(ctx context.Context, db bun.IDB, nodeID string) ([]*NodeFile, error) {
	var links []*NodeFile
	err := r.handle(db).NewSelect().
		Model(&links).
		Where("node_id = ?", nodeID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return links, nil
}

// AddNodeTransformation records the transformation that produced a node.
func (r *Repository) AddNodeTransformation(ctx context.Context, db bun.IDB, nodeID, transformationID string) error {
	link := &NodeTransformation{NodeID: nodeID, TransformationID: transformationID}
	_, err := r.handle(db).NewInsert().
		Model(link).
		On("CONFLICT (node_id, transformation_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// BulkAddNodeTransformations records many transformation links at once.
func (r *Repository) BulkAddNodeTransformations(ctx context.Context, db bun.IDB, links []*NodeTransformation) error {
	if len(links) == 0 {
		return nil
	}
	_, err := r.handle(db).NewInsert().
		Model(&links).
		On("CONFLICT (node_id, transformation_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// ListNodeTransformations lists transformation links for a node.
func (r *Repository) ListNodeTransformations(ctx context.Context, db bun.IDB, nodeID string) ([]*NodeTransformation, error) {
	var links []*NodeTransformation
	err := r.handle(db).NewSelect().
		Model(&links).
		Where("node_id = ?", nodeID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return links, nil
}

// AttachNodeFilesForImport carries staging-record file links over to the
// nodes an import created. Runs after promotion, repeat runs are no-ops.
func (r *Repository) AttachNodeFilesForImport(ctx context.Context, db bun.IDB, importIDs []string) (int64, error) {
	if len(importIDs) == 0 {
		return 0, nil
	}
	res, err := r.handle(db).NewRaw(`
		INSERT INTO node_files (node_id, file_id)
		SELECT n.id, sf.file_id
		FROM nodes n
		JOIN data_staging_files sf ON sf.data_staging_id = n.data_staging_id
		WHERE n.import_data_id IN (?)
		ON CONFLICT (node_id, file_id) DO NOTHING`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("attaching node files failed").WithInternal(err)
	}
	attached, _ := res.RowsAffected()
	return attached, nil
}

// AttachEdgeFilesForImport is the edge counterpart of AttachNodeFilesForImport.
func (r *Repository) AttachEdgeFilesForImport(ctx context.Context, db bun.IDB, importIDs []string) (int64, error) {
	if len(importIDs) == 0 {
		return 0, nil
	}
	res, err := r.handle(db).NewRaw(`
		INSERT INTO edge_files (edge_id, file_id)
		SELECT e.id, sf.file_id
		FROM edges e
		JOIN data_staging_files sf ON sf.data_staging_id = e.data_staging_id
		WHERE e.import_data_id IN (?)
		ON CONFLICT (edge_id, file_id) DO NOTHING`,
		bun.In(importIDs)).Exec(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithMessage("attaching edge files failed").WithInternal(err)
	}
	attached, _ := res.RowsAffected()
	return attached, nil
}

// NodeRowCount counts current nodes in a container.
func (r *Repository) NodeRowCount(ctx context.Context, db bun.IDB, containerID string) (int64, error) {
	var count int64
	err := r.handle(db).NewRaw(
		`SELECT count(*) FROM current_nodes WHERE container_id = ?`, containerID).Scan(ctx, &count)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}

// edgeColumns is the insert column list shared by the edge write statements.
const edgeColumns = `container_id, relationship_pair_id, data_source_id, import_data_id, data_staging_id,
	origin_id, destination_id, origin_original_id, origin_data_source_id, origin_metatype_id,
	destination_original_id, destination_data_source_id, destination_metatype_id,
	properties, metadata_properties, metadata, created_at, modified_at, created_by, modified_by`

// CreateOrUpdateEdges upserts edge revisions keyed on the edge identity.
func (r *Repository) CreateOrUpdateEdges(ctx context.Context, db bun.IDB, userID string, merge bool, edges []*Edge) ([]*Edge, error) {
	if len(edges) == 0 {
		return nil, nil
	}

	saved := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		props, err := marshalJSONB(e.Properties)
		if err != nil {
			return nil, err
		}
		metaProps, err := marshalJSONB(e.MetadataProps)
		if err != nil {
			return nil, err
		}
		meta, err := marshalJSONB(e.Metadata)
		if err != nil {
			return nil, err
		}

		propsExpr := "EXCLUDED.properties"
		guardExpr := "edges.properties IS DISTINCT FROM EXCLUDED.properties"
		if merge {
			propsExpr = "edges.properties || EXCLUDED.properties"
			guardExpr = "edges.properties IS DISTINCT FROM edges.properties || EXCLUDED.properties"
		}

		query := fmt.Sprintf(`
			INSERT INTO edges (%s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb, ?::jsonb, ?::jsonb, COALESCE(?::timestamptz, now()), now(), ?, ?)
			ON CONFLICT (container_id, relationship_pair_id, data_source_id, created_at, origin_id, destination_id)
				WHERE origin_id IS NOT NULL AND destination_id IS NOT NULL
			DO UPDATE SET
				properties = %s,
				metadata_properties = EXCLUDED.metadata_properties,
				deleted_at = NULL,
				modified_at = now(),
				modified_by = EXCLUDED.modified_by
			WHERE %s
				OR edges.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
				OR edges.deleted_at IS NOT NULL
			RETURNING *`,
			edgeColumns, propsExpr, guardExpr)

		out := new(Edge)
		err = r.handle(db).NewRaw(query,
			e.ContainerID, e.RelationshipPairID, nullableString(e.DataSourceID),
			nullableString(e.ImportDataID), nullableString(e.DataStagingID),
			nullableString(e.OriginID), nullableString(e.DestinationID),
			nullableString(e.OriginOriginalID), nullableString(e.OriginDataSourceID), nullableString(e.OriginMetatypeID),
			nullableString(e.DestOriginalID), nullableString(e.DestDataSourceID), nullableString(e.DestMetatypeID),
			props, metaProps, meta, nullableTime(e.CreatedAt),
			nullableString(userID), nullableString(userID),
		).Scan(ctx, out)
		if errors.Is(err, sql.ErrNoRows) {
			existing, gerr := r.retrieveEdgeByIdentity(ctx, db, e)
			if gerr != nil {
				return nil, gerr
			}
			saved = append(saved, existing)
			continue
		}
		if err != nil {
			return nil, apperror.ErrDatabase.WithMessage("edge upsert failed").WithInternal(err)
		}
		saved = append(saved, out)
	}
	return saved, nil
}

func (r *Repository) retrieveEdgeByIdentity(ctx context.Context, db bun.IDB, e *Edge) (*Edge, error) {
	out := new(Edge)
	err := r.handle(db).NewSelect().
		Model(out).
		Where("e.container_id = ?", e.ContainerID).
		Where("e.relationship_pair_id = ?", e.RelationshipPairID).
		Where("e.data_source_id = ?", e.DataSourceID).
		Where("e.origin_id = ?", e.OriginID).
		Where("e.destination_id = ?", e.DestinationID).
		Order("e.created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("edge", e.ID)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return out, nil
}

// UpdateEdges writes new edge revisions addressed by revision id.
func (r *Repository) UpdateEdges(ctx context.Context, db bun.IDB, userID string, merge bool, edges []*Edge) ([]*Edge, error) {
	if len(edges) == 0 {
		return nil, nil
	}

	saved := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		props, err := marshalJSONB(e.Properties)
		if err != nil {
			return nil, err
		}
		metaProps, err := marshalJSONB(e.MetadataProps)
		if err != nil {
			return nil, err
		}
		meta, err := marshalJSONB(e.Metadata)
		if err != nil {
			return nil, err
		}

		propsExpr := "EXCLUDED.properties"
		guardExpr := "edges.properties IS DISTINCT FROM EXCLUDED.properties"
		if merge {
			propsExpr = "edges.properties || EXCLUDED.properties"
			guardExpr = "edges.properties IS DISTINCT FROM edges.properties || EXCLUDED.properties"
		}

		query := fmt.Sprintf(`
			INSERT INTO edges (id, %s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?::jsonb, ?::jsonb, ?::jsonb, COALESCE(?::timestamptz, now()), now(), ?, ?)
			ON CONFLICT (id, created_at)
			DO UPDATE SET
				properties = %s,
				metadata_properties = EXCLUDED.metadata_properties,
				metadata = EXCLUDED.metadata,
				deleted_at = NULL,
				modified_at = now(),
				modified_by = EXCLUDED.modified_by
			WHERE %s
				OR edges.metadata_properties IS DISTINCT FROM EXCLUDED.metadata_properties
				OR edges.deleted_at IS NOT NULL
			RETURNING *`,
			edgeColumns, propsExpr, guardExpr)

		out := new(Edge)
		err = r.handle(db).NewRaw(query,
			e.ID, e.ContainerID, e.RelationshipPairID, nullableString(e.DataSourceID),
			nullableString(e.ImportDataID), nullableString(e.DataStagingID),
			nullableString(e.OriginID), nullableString(e.DestinationID),
			nullableString(e.OriginOriginalID), nullableString(e.OriginDataSourceID), nullableString(e.OriginMetatypeID),
			nullableString(e.DestOriginalID), nullableString(e.DestDataSourceID), nullableString(e.DestMetatypeID),
			props, metaProps, meta, nullableTime(e.CreatedAt),
			nullableString(userID), nullableString(userID),
		).Scan(ctx, out)
		if errors.Is(err, sql.ErrNoRows) {
			existing, gerr := r.RetrieveEdgeRevision(ctx, db, e.ID, e.CreatedAt)
			if gerr != nil {
				return nil, gerr
			}
			saved = append(saved, existing)
			continue
		}
		if err != nil {
			return nil, apperror.ErrDatabase.WithMessage("edge update failed").WithInternal(err)
		}
		saved = append(saved, out)
	}
	return saved, nil
}

// DeleteEdge tombstones the edge's current revision.
func (r *Repository) DeleteEdge(ctx context.Context, db bun.IDB, id string) error {
	res, err := r.handle(db).NewRaw(`
		UPDATE edges SET deleted_at = now(), modified_at = now()
		WHERE id = ? AND deleted_at IS NULL`,
		id).Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithMessage("edge delete failed").WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("edge", id)
	}
	return nil
}

// RetrieveEdge returns the current revision of an edge by id.
func (r *Repository) RetrieveEdge(ctx context.Context, db bun.IDB, id string) (*Edge, error) {
	e := new(Edge)
	err := r.handle(db).NewRaw(
		`SELECT * FROM current_edges WHERE id = ?`, id).Scan(ctx, e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("edge", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return e, nil
}

// RetrieveEdgeRevision returns one exact edge revision.
func (r *Repository) RetrieveEdgeRevision(ctx context.Context, db bun.IDB, id string, createdAt time.Time) (*Edge, error) {
	e := new(Edge)
	err := r.handle(db).NewSelect().
		Model(e).
		Where("e.id = ?", id).
		Where("e.created_at = ?", createdAt).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("edge revision", id)
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return e, nil
}

// RetrieveEdgeHistory returns all revisions of an edge ordered oldest first.
func (r *Repository) RetrieveEdgeHistory(ctx context.Context, db bun.IDB, id string) ([]*Edge, error) {
	var revisions []*Edge
	err := r.handle(db).NewSelect().
		Model(&revisions).
		Where("e.id = ?", id).
		Order("e.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if len(revisions) == 0 {
		return nil, apperror.NewNotFound("edge", id)
	}
	return revisions, nil
}

// AddEdgeFile links a file to an edge.
func (r *Repository) AddEdgeFile(ctx context.Context, db bun.IDB, edgeID, fileID string) error {
	link := &EdgeFile{EdgeID: edgeID, FileID: fileID}
	_, err := r.handle(db).NewInsert().
		Model(link).
		On("CONFLICT (edge_id, file_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// RemoveEdgeFile unlinks a file from an edge.
func (r *Repository) RemoveEdgeFile(ctx context.Context, db bun.IDB, edgeID, fileID string) error {
	res, err := r.handle(db).NewDelete().
		Model((*EdgeFile)(nil)).
		Where("edge_id = ?", edgeID).
		Where("file_id = ?", fileID).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.NewNotFound("edge file link", fileID)
	}
	return nil
}

// EdgeRowCount counts current edges in a container.
func (r *Repository) EdgeRowCount(ctx context.Context, db bun.IDB, containerID string) (int64, error) {
	var count int64
	err := r.handle(db).NewRaw(
		`SELECT count(*) FROM current_edges WHERE container_id = ?`, containerID).Scan(ctx, &count)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}

// PropertyFilter is one predicate on a jsonb property column.
type PropertyFilter struct {
	Property string `json:"property"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ListNodesOptions narrows and pages a current-node listing.
type ListNodesOptions struct {
	ContainerID     string
	MetatypeID      string
	DataSourceID    string
	OriginalDataID  string
	PropertyFilters []PropertyFilter
	Limit           int
	Offset          int
}

func applyPropertyFilters(q *bun.SelectQuery, filters []PropertyFilter) (*bun.SelectQuery, error) {
	for _, f := range filters {
		accessor := "properties ->> ?"
		switch f.Operator {
		case "eq", "":
			q = q.Where(accessor+" = ?", f.Property, fmt.Sprint(f.Value))
		case "neq":
			q = q.Where(accessor+" != ?", f.Property, fmt.Sprint(f.Value))
		case "like":
			q = q.Where(accessor+" LIKE ?", f.Property, fmt.Sprint(f.Value))
		case "in":
			values, ok := f.Value.([]any)
			if !ok {
				if strs, sok := f.Value.([]string); sok {
					values = make([]any, len(strs))
					for i, s := range strs {
						values[i] = s
					}
				} else {
					values = []any{f.Value}
				}
			}
			strValues := make([]string, len(values))
			for i, v := range values {
				strValues[i] = fmt.Sprint(v)
			}
			q = q.Where(accessor+" IN (?)", f.Property, bun.In(strValues))
		case "<", ">", "<=", ">=":
			if n, ok := numericValue(f.Value); ok {
				q = q.Where("(properties ->> ?)::numeric "+f.Operator+" ?", f.Property, n)
			} else {
				q = q.Where(accessor+" "+f.Operator+" ?", f.Property, fmt.Sprint(f.Value))
			}
		default:
			return nil, apperror.NewBadRequest(fmt.Sprintf("unsupported property filter operator %q", f.Operator))
		}
	}
	return q, nil
}

func (r *Repository) nodeListQuery(db bun.IDB, opts ListNodesOptions) (*bun.SelectQuery, error) {
	q := r.handle(db).NewSelect().
		TableExpr("current_nodes").
		Where("container_id = ?", opts.ContainerID)
	if opts.MetatypeID != "" {
		q = q.Where("metatype_id = ?", opts.MetatypeID)
	}
	if opts.DataSourceID != "" {
		q = q.Where("data_source_id = ?", opts.DataSourceID)
	}
	if opts.OriginalDataID != "" {
		q = q.Where("original_data_id = ?", opts.OriginalDataID)
	}
	return applyPropertyFilters(q, opts.PropertyFilters)
}

// ListNodes pages through a container's current nodes.
func (r *Repository) ListNodes(ctx context.Context, db bun.IDB, opts ListNodesOptions) ([]*Node, error) {
	q, err := r.nodeListQuery(db, opts)
	if err != nil {
		return nil, err
	}
	q = q.ColumnExpr("*").Order("created_at DESC", "id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	nodes := make([]*Node, 0)
	if err := q.Scan(ctx, &nodes); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return nodes, nil
}

// CountNodes counts the rows a ListNodes call would page through.
func (r *Repository) CountNodes(ctx context.Context, db bun.IDB, opts ListNodesOptions) (int64, error) {
	q, err := r.nodeListQuery(db, opts)
	if err != nil {
		return 0, err
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return int64(count), nil
}

// ListEdgesOptions narrows and pages a current-edge listing.
type ListEdgesOptions struct {
	ContainerID        string
	RelationshipPairID string
	DataSourceID       string
	OriginID           string
	DestinationID      string
	PropertyFilters    []PropertyFilter
	Limit              int
	Offset             int
}

func (r *Repository) edgeListQuery(db bun.IDB, opts ListEdgesOptions) (*bun.SelectQuery, error) {
	q := r.handle(db).NewSelect().
		TableExpr("current_edges").
		Where("container_id = ?", opts.ContainerID)
	if opts.RelationshipPairID != "" {
		q = q.Where("relationship_pair_id = ?", opts.RelationshipPairID)
	}
	if opts.DataSourceID != "" {
		q = q.Where("data_source_id = ?", opts.DataSourceID)
	}
	if opts.OriginID != "" {
		q = q.Where("origin_id = ?", opts.OriginID)
	}
	if opts.DestinationID != "" {
		q = q.Where("destination_id = ?", opts.DestinationID)
	}
	return applyPropertyFilters(q, opts.PropertyFilters)
}

// ListEdges pages through a container's current edges.
func (r *Repository) ListEdges(ctx context.Context, db bun.IDB, opts ListEdgesOptions) ([]*Edge, error) {
	q, err := r.edgeListQuery(db, opts)
	if err != nil {
		return nil, err
	}
	q = q.ColumnExpr("*").Order("created_at DESC", "id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	edges := make([]*Edge, 0)
	if err := q.Scan(ctx, &edges); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return edges, nil
}

// CountEdges counts the rows a ListEdges call would page through.
func (r *Repository) CountEdges(ctx context.Context, db bun.IDB, opts ListEdgesOptions) (int64, error) {
	q, err := r.edgeListQuery(db, opts)
	if err != nil {
		return 0, err
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return int64(count), nil
}

// CountCurrentEdgesFrom counts current edges of a pair leaving an origin.
func (r *Repository) CountCurrentEdgesFrom(ctx context.Context, db bun.IDB, pairID, originID string) (int64, error) {
	var count int64
	err := r.handle(db).NewRaw(`
		SELECT count(*) FROM current_edges
		WHERE relationship_pair_id = ? AND origin_id = ?`,
		pairID, originID).Scan(ctx, &count)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}

// CountCurrentEdgesTo counts current edges of a pair arriving at a destination.
func (r *Repository) CountCurrentEdgesTo(ctx context.Context, db bun.IDB, pairID, destinationID string) (int64, error) {
	var count int64
	err := r.handle(db).NewRaw(`
		SELECT count(*) FROM current_edges
		WHERE relationship_pair_id = ? AND destination_id = ?`,
		pairID, destinationID).Scan(ctx, &count)
	if err != nil {
		return 0, apperror.ErrDatabase.WithInternal(err)
	}
	return count, nil
}
