package imports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
	"github.com/basalt-works/basalt/pkg/pgutils"
)

// Repository persists imports and their staged records.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("imports.repo")),
	}
}

func (r *Repository) handle(db bun.IDB) bun.IDB {
	if db != nil {
		return db
	}
	return r.db
}

// CreateImport inserts the import row and its staged records in one shot.
// Callers run it inside a transaction so a half-received batch never lands.
func (r *Repository) CreateImport(ctx context.Context, db bun.IDB, imp *Import, records []*StagedRecord) error {
	h := r.handle(db)

	if _, err := h.NewInsert().Model(imp).Returning("*").Exec(ctx); err != nil {
		if pgutils.IsForeignKeyViolation(err) {
			return apperror.ErrDataSourceNotFound.WithInternal(err)
		}
		return apperror.ErrDatabase.WithMessage("import create failed").WithInternal(err)
	}

	for _, rec := range records {
		rec.ImportID = imp.ID
		rec.DataSourceID = imp.DataSourceID
	}
	if len(records) > 0 {
		if _, err := h.NewInsert().Model(&records).Returning("*").Exec(ctx); err != nil {
			return apperror.ErrDatabase.WithMessage("record staging failed").WithInternal(err)
		}
	}
	return nil
}

// GetImport returns one import by id.
func (r *Repository) GetImport(ctx context.Context, id string) (*Import, error) {
	imp := new(Import)
	err := r.db.NewSelect().Model(imp).Where("i.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrImportNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return imp, nil
}

// ListImports pages through a container's imports, newest first.
func (r *Repository) ListImports(ctx context.Context, containerID string, limit, offset int) ([]*Import, int64, error) {
	var list []*Import
	q := r.db.NewSelect().
		Model(&list).
		Where("i.container_id = ?", containerID).
		Order("i.created_at DESC")

	total, err := q.Count(ctx)
	if err != nil {
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return list, int64(total), nil
}

// PendingRecords returns the staged records of an import that have not been
// promoted yet.
func (r *Repository) PendingRecords(ctx context.Context, importID string) ([]*StagedRecord, error) {
	var records []*StagedRecord
	err := r.db.NewSelect().
		Model(&records).
		Where("dsg.import_id = ?", importID).
		Where("dsg.inserted_at IS NULL").
		Order("dsg.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return records, nil
}

// ListRecords pages through an import's staged records.
func (r *Repository) ListRecords(ctx context.Context, importID string, limit, offset int) ([]*StagedRecord, int64, error) {
	var records []*StagedRecord
	q := r.db.NewSelect().
		Model(&records).
		Where("dsg.import_id = ?", importID).
		Order("dsg.created_at ASC")

	total, err := q.Count(ctx)
	if err != nil {
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return records, int64(total), nil
}

// MarkRecordsInserted stamps inserted_at on the given records.
func (r *Repository) MarkRecordsInserted(ctx context.Context, db bun.IDB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.handle(db).NewUpdate().
		Model((*StagedRecord)(nil)).
		Set("inserted_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetRecordErrors stores per-record failures without failing the import.
func (r *Repository) SetRecordErrors(ctx context.Context, db bun.IDB, id string, errs []string) error {
	raw, err := json.Marshal(errs)
	if err != nil {
		return apperror.ErrInternal.WithInternal(err)
	}
	_, err = r.handle(db).NewUpdate().
		Model((*StagedRecord)(nil)).
		Set("errors = ?::jsonb", string(raw)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// LinkRecordFile associates an uploaded file with a staged record. The link
// carries over to the created nodes and edges after promotion.
func (r *Repository) LinkRecordFile(ctx context.Context, recordID, fileID string) error {
	_, err := r.db.NewRaw(`
		INSERT INTO data_staging_files (data_staging_id, file_id)
		VALUES (?, ?)
		ON CONFLICT (data_staging_id, file_id) DO NOTHING`,
		recordID, fileID).Exec(ctx)
	if err != nil {
		if pgutils.IsForeignKeyViolation(err) {
			return apperror.NewNotFound("staging record or file", recordID)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetStatusMessage updates the import's human-readable progress line.
func (r *Repository) SetStatusMessage(ctx context.Context, db bun.IDB, id, message string) error {
	_, err := r.handle(db).NewUpdate().
		Model((*Import)(nil)).
		Set("status_message = ?", message).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Requeue puts a completed or failed import back on the queue.
func (r *Repository) Requeue(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*Import)(nil)).
		Set("status = 'pending'").
		Set("status_message = ''").
		Set("last_error = NULL").
		Set("scheduled_at = now()").
		Set("completed_at = NULL").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN ('completed', 'failed')").
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apperror.ErrConflict.WithMessage("import is not in a requeueable state")
	}
	return nil
}
