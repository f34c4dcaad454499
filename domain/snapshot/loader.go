package snapshot

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/pkg/logger"
)

// Loader builds snapshots from the current_nodes view.
type Loader struct {
	db    bun.IDB
	cache *Cache
	log   *slog.Logger
}

func NewLoader(db bun.IDB, cache *Cache, log *slog.Logger) *Loader {
	return &Loader{
		db:    db,
		cache: cache,
		log:   log.With(logger.Scope("snapshot.loader")),
	}
}

type currentNodeRow struct {
	ID             string `bun:"id"`
	MetatypeID     string `bun:"metatype_id"`
	MetatypeName   string `bun:"metatype_name"`
	OriginalDataID string `bun:"original_data_id"`
	DataSourceID   string `bun:"data_source_id"`
}

// Load reads the container's current nodes and caches the resulting snapshot.
func (l *Loader) Load(ctx context.Context, containerID string) (*Snapshot, error) {
	var rows []currentNodeRow
	err := l.db.NewSelect().
		TableExpr("current_nodes").
		Column("id", "metatype_id", "metatype_name", "original_data_id", "data_source_id").
		Where("container_id = ?", containerID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeRef, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, NodeRef{
			ID:             row.ID,
			MetatypeID:     row.MetatypeID,
			MetatypeName:   row.MetatypeName,
			OriginalDataID: row.OriginalDataID,
			DataSourceID:   row.DataSourceID,
		})
	}

	snap := New(containerID, nodes)
	l.cache.Put(snap)

	l.log.Debug("snapshot loaded",
		slog.String("container_id", containerID),
		slog.Int("nodes", snap.Len()),
	)

	return snap, nil
}

// GetOrLoad returns the cached snapshot for a container, loading it when absent.
func (l *Loader) GetOrLoad(ctx context.Context, containerID string) (*Snapshot, error) {
	if snap := l.cache.Get(containerID); snap != nil {
		return snap, nil
	}
	return l.Load(ctx, containerID)
}
