package ontology

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
	"github.com/basalt-works/basalt/pkg/pgutils"
)

// Repository provides access to the container-scoped schema tables.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("ontology.repo")),
	}
}

// CreateContainer inserts a new container.
func (r *Repository) CreateContainer(ctx context.Context, c *Container) error {
	_, err := r.db.NewInsert().Model(c).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetContainer fetches a container by id.
func (r *Repository) GetContainer(ctx context.Context, id string) (*Container, error) {
	c := new(Container)
	err := r.db.NewSelect().Model(c).Where("c.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrContainerNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return c, nil
}

// CreateDataSource inserts a new data source.
func (r *Repository) CreateDataSource(ctx context.Context, ds *DataSource) error {
	_, err := r.db.NewInsert().Model(ds).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsForeignKeyViolation(err) {
			return apperror.ErrContainerNotFound.WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetDataSource fetches a data source by id.
func (r *Repository) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	ds := new(DataSource)
	err := r.db.NewSelect().Model(ds).Where("ds.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDataSourceNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return ds, nil
}

// CreateMetatype inserts a new metatype along with any attached keys.
func (r *Repository) CreateMetatype(ctx context.Context, mt *Metatype) error {
	_, err := r.db.NewInsert().Model(mt).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("metatype name already in use").WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	for _, key := range mt.Keys {
		key.MetatypeID = mt.ID
	}
	if len(mt.Keys) > 0 {
		if _, err := r.db.NewInsert().Model(&mt.Keys).Returning("*").Exec(ctx); err != nil {
			return apperror.ErrDatabase.WithInternal(err)
		}
	}
	return nil
}

// GetMetatype fetches a metatype with its key definitions.
func (r *Repository) GetMetatype(ctx context.Context, id string) (*Metatype, error) {
	mt := new(Metatype)
	err := r.db.NewSelect().
		Model(mt).
		Relation("Keys").
		Where("mt.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMetatypeNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return mt, nil
}

// GetMetatypeByName fetches a metatype by container and name.
func (r *Repository) GetMetatypeByName(ctx context.Context, containerID, name string) (*Metatype, error) {
	mt := new(Metatype)
	err := r.db.NewSelect().
		Model(mt).
		Relation("Keys").
		Where("mt.container_id = ?", containerID).
		Where("mt.name = ?", name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrMetatypeNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return mt, nil
}

// ListMetatypes lists metatypes for a container.
func (r *Repository) ListMetatypes(ctx context.Context, containerID string) ([]*Metatype, error) {
	var mts []*Metatype
	err := r.db.NewSelect().
		Model(&mts).
		Where("mt.container_id = ?", containerID).
		Order("mt.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return mts, nil
}

// CreateRelationship inserts a new relationship along with any attached keys.
func (r *Repository) CreateRelationship(ctx context.Context, rel *Relationship) error {
	_, err := r.db.NewInsert().Model(rel).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("relationship name already in use").WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	for _, key := range rel.Keys {
		key.RelationshipID = rel.ID
	}
	if len(rel.Keys) > 0 {
		if _, err := r.db.NewInsert().Model(&rel.Keys).Returning("*").Exec(ctx); err != nil {
			return apperror.ErrDatabase.WithInternal(err)
		}
	}
	return nil
}

// GetRelationship fetches a relationship with its key definitions.
func (r *Repository) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	rel := new(Relationship)
	err := r.db.NewSelect().
		Model(rel).
		Relation("Keys").
		Where("r.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrNotFound.WithMessage("relationship not found")
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rel, nil
}

// CreatePair inserts a new relationship pair.
func (r *Repository) CreatePair(ctx context.Context, pair *RelationshipPair) error {
	_, err := r.db.NewInsert().Model(pair).Returning("*").Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessage("relationship pair already exists").WithInternal(err)
		}
		if pgutils.IsForeignKeyViolation(err) {
			return apperror.ErrBadRequest.WithMessage("pair references unknown metatype or relationship").WithInternal(err)
		}
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetPair fetches a relationship pair with its relationship and the
// relationship's key definitions.
func (r *Repository) GetPair(ctx context.Context, id string) (*RelationshipPair, error) {
	pair := new(RelationshipPair)
	err := r.db.NewSelect().
		Model(pair).
		Relation("Relationship").
		Relation("Relationship.Keys").
		Where("rp.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrPairNotFound
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return pair, nil
}

// ListPairs lists relationship pairs for a container.
func (r *Repository) ListPairs(ctx context.Context, containerID string) ([]*RelationshipPair, error) {
	var pairs []*RelationshipPair
	err := r.db.NewSelect().
		Model(&pairs).
		Relation("Relationship").
		Where("rp.container_id = ?", containerID).
		Order("rp.name ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return pairs, nil
}
