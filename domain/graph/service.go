package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/basalt-works/basalt/domain/ontology"
	"github.com/basalt-works/basalt/domain/snapshot"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/database"
	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
)

// SaveOptions carries the per-request write settings.
type SaveOptions struct {
	// UserID stamps created_by and modified_by.
	UserID string
	// Merge unions incoming properties over the prior revision instead of
	// replacing them.
	Merge bool
}

// Service is the write orchestrator: schema validation, endpoint resolution,
// cardinality enforcement, then the statement layer. Multi-row writes run in
// one transaction, callers composing larger units pass their own handle.
type Service struct {
	cfg       *config.Config
	db        bun.IDB
	repo      *Repository
	staging   *Staging
	resolver  *Resolver
	ontology  *ontology.Repository
	snapshots *snapshot.Cache
	log       *slog.Logger
}

func NewService(
	cfg *config.Config,
	db bun.IDB,
	repo *Repository,
	staging *Staging,
	resolver *Resolver,
	ontologyRepo *ontology.Repository,
	snapshots *snapshot.Cache,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		db:        db,
		repo:      repo,
		staging:   staging,
		resolver:  resolver,
		ontology:  ontologyRepo,
		snapshots: snapshots,
		log:       log.With(logger.Scope("graph.service")),
	}
}

func (s *Service) chunkSize() int {
	if s.cfg.Graph.BulkChunkSize > 0 {
		return s.cfg.Graph.BulkChunkSize
	}
	return 500
}

// metatypeKeys memoizes key definitions per metatype for one bulk pass.
type metatypeKeys struct {
	mu   sync.Mutex
	keys map[string][]ontology.KeyDefinition
}

func (s *Service) keysFor(ctx context.Context, cache *metatypeKeys, metatypeID string) ([]ontology.KeyDefinition, error) {
	cache.mu.Lock()
	if defs, ok := cache.keys[metatypeID]; ok {
		cache.mu.Unlock()
		return defs, nil
	}
	cache.mu.Unlock()

	mt, err := s.ontology.GetMetatype(ctx, metatypeID)
	if err != nil {
		return nil, err
	}
	defs := mt.KeyDefinitions()

	cache.mu.Lock()
	cache.keys[metatypeID] = defs
	cache.mu.Unlock()
	return defs, nil
}

func (s *Service) validateNode(ctx context.Context, cache *metatypeKeys, n *Node) error {
	if n.ContainerID == "" {
		return apperror.NewValidation("node is missing container_id")
	}
	if n.MetatypeID == "" {
		return apperror.NewValidation("node is missing metatype_id")
	}

	defs, err := s.keysFor(ctx, cache, n.MetatypeID)
	if err != nil {
		return err
	}
	props, err := ontology.ValidateAndTransformProperties(defs, n.Properties)
	if err != nil {
		return apperror.NewValidation(err.Error())
	}
	n.Properties = props
	return nil
}

// SaveNode validates a node against its metatype keys and writes it through
// the composite-identity upsert. Nodes without a full composite identity are
// inserted as fresh revision chains.
func (s *Service) SaveNode(ctx context.Context, tx *database.TxHandle, n *Node, opts SaveOptions) (*Node, error) {
	saved, err := s.BulkSaveNodes(ctx, tx, []*Node{n}, opts)
	if err != nil {
		return nil, err
	}
	if len(saved) == 0 {
		// The distinctness guard swallowed the write, return the stored row.
		if n.HasCompositeID() {
			return s.repo.RetrieveNodeByCompositeOriginalID(ctx, nil, n.CompositeID())
		}
		return nil, apperror.ErrInternal.WithMessage("node save produced no rows")
	}
	return saved[0], nil
}

// BulkSaveNodes validates concurrently, then writes in identity-upsert chunks
// on a single transaction.
func (s *Service) BulkSaveNodes(ctx context.Context, tx *database.TxHandle, nodes []*Node, opts SaveOptions) ([]*Node, error) {
	if len(nodes) == 0 {
		return nil, nil
	}

	cache := &metatypeKeys{keys: make(map[string][]ontology.KeyDefinition)}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			return s.validateNode(gctx, cache, n)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Nodes arriving with an id address an existing revision chain and take
	// the revision-keyed statement, the rest go through the identity upsert.
	creates := make([]*Node, 0, len(nodes))
	updates := make([]*Node, 0)
	for _, n := range nodes {
		if n.ID != "" {
			updates = append(updates, n)
			continue
		}
		creates = append(creates, n)
	}

	handle := tx
	if handle == nil {
		owned, err := database.OwnTx(ctx, s.db)
		if err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		defer owned.Rollback()
		handle = owned
	}

	saved := make([]*Node, 0, len(nodes))
	size := s.chunkSize()
	for start := 0; start < len(creates); start += size {
		end := min(start+size, len(creates))
		chunk, err := s.repo.CreateOrUpdateNodes(ctx, handle.DB(), opts.UserID, opts.Merge, creates[start:end])
		if err != nil {
			return nil, err
		}
		saved = append(saved, chunk...)
	}
	if len(updates) > 0 {
		chunk, err := s.repo.UpdateNodes(ctx, handle.DB(), opts.UserID, opts.Merge, updates)
		if err != nil {
			return nil, err
		}
		saved = append(saved, chunk...)
	}

	if handle != tx {
		if err := handle.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
	}

	for _, n := range nodes {
		s.snapshots.Drop(n.ContainerID)
	}
	return saved, nil
}

// UpdateNode writes a revision addressed by revision id, correcting the row
// in place on a timestamp collision.
func (s *Service) UpdateNode(ctx context.Context, n *Node, opts SaveOptions) (*Node, error) {
	cache := &metatypeKeys{keys: make(map[string][]ontology.KeyDefinition)}
	if n.ID == "" {
		return nil, apperror.NewValidation("node update needs an id")
	}
	if err := s.validateNode(ctx, cache, n); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpdateNodes(ctx, nil, opts.UserID, opts.Merge, []*Node{n})
	if err != nil {
		return nil, err
	}
	s.snapshots.Drop(n.ContainerID)
	return saved[0], nil
}

// DeleteNode tombstones a node and every current edge touching it.
func (s *Service) DeleteNode(ctx context.Context, id string) error {
	current, err := s.repo.RetrieveNode(ctx, nil, id)
	if err != nil {
		return err
	}

	handle, err := database.OwnTx(ctx, s.db)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer handle.Rollback()

	if err := s.repo.DeleteNode(ctx, handle.DB(), id); err != nil {
		return err
	}
	if err := handle.Commit(); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.snapshots.Drop(current.ContainerID)
	return nil
}

func (s *Service) GetNode(ctx context.Context, id string) (*Node, error) {
	return s.repo.RetrieveNode(ctx, nil, id)
}

func (s *Service) GetNodeByCompositeID(ctx context.Context, cid CompositeID) (*Node, error) {
	return s.repo.RetrieveNodeByCompositeOriginalID(ctx, nil, cid)
}

func (s *Service) GetNodeHistory(ctx context.Context, id string) ([]*Node, error) {
	return s.repo.RetrieveNodeHistory(ctx, nil, id)
}

func (s *Service) GetNodeRawDataHistory(ctx context.Context, id string) ([]*NodeRawDataEntry, error) {
	return s.repo.RetrieveNodeRawDataHistory(ctx, nil, id)
}

func (s *Service) ListNodes(ctx context.Context, opts ListNodesOptions) ([]*Node, int64, error) {
	nodes, err := s.repo.ListNodes(ctx, nil, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountNodes(ctx, nil, opts)
	if err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

func (s *Service) NodeRowCount(ctx context.Context, containerID string) (int64, error) {
	return s.repo.NodeRowCount(ctx, nil, containerID)
}

func (s *Service) AttachNodeFile(ctx context.Context, nodeID, fileID string) error {
	if _, err := s.repo.RetrieveNode(ctx, nil, nodeID); err != nil {
		return err
	}
	return s.repo.AddNodeFile(ctx, nil, nodeID, fileID)
}

func (s *Service) DetachNodeFile(ctx context.Context, nodeID, fileID string) error {
	return s.repo.RemoveNodeFile(ctx, nil, nodeID, fileID)
}

func (s *Service) ListNodeFiles(ctx context.Context, nodeID string) ([]*NodeFile, error) {
	return s.repo.ListNodeFiles(ctx, nil, nodeID)
}

func (s *Service) RecordNodeTransformation(ctx context.Context, nodeID, transformationID string) error {
	return s.repo.AddNodeTransformation(ctx, nil, nodeID, transformationID)
}

func (s *Service) ListNodeTransformations(ctx context.Context, nodeID string) ([]*NodeTransformation, error) {
	return s.repo.ListNodeTransformations(ctx, nil, nodeID)
}

// SaveEdge resolves a possibly templated edge, validates every concrete edge
// against its relationship pair, and writes them in one transaction. The
// returned slice has one edge per resolved endpoint combination.
func (s *Service) SaveEdge(ctx context.Context, tx *database.TxHandle, e *Edge, opts SaveOptions) ([]*Edge, error) {
	return s.BulkSaveEdges(ctx, tx, []*Edge{e}, opts)
}

// BulkSaveEdges resolves and validates concurrently, then writes chunked on a
// single transaction.
func (s *Service) BulkSaveEdges(ctx context.Context, tx *database.TxHandle, edges []*Edge, opts SaveOptions) ([]*Edge, error) {
	if len(edges) == 0 {
		return nil, nil
	}

	resolved := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e.HasEndpoints() && len(e.Parameters) == 0 {
			resolved = append(resolved, e)
			continue
		}
		expanded, err := s.resolver.PopulateFromParameters(ctx, e)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, expanded...)
	}

	pairs := make(map[string]*ontology.RelationshipPair)
	var pairsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range resolved {
		e := e
		g.Go(func() error {
			return s.validateEdge(gctx, pairs, &pairsMu, e)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	handle := tx
	if handle == nil {
		owned, err := database.OwnTx(ctx, s.db)
		if err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
		defer owned.Rollback()
		handle = owned
	}

	creates := make([]*Edge, 0, len(resolved))
	updates := make([]*Edge, 0)
	for _, e := range resolved {
		if e.ID != "" {
			updates = append(updates, e)
			continue
		}
		creates = append(creates, e)
	}

	saved := make([]*Edge, 0, len(resolved))
	size := s.chunkSize()
	for start := 0; start < len(creates); start += size {
		end := min(start+size, len(creates))
		chunk, err := s.repo.CreateOrUpdateEdges(ctx, handle.DB(), opts.UserID, opts.Merge, creates[start:end])
		if err != nil {
			return nil, err
		}
		saved = append(saved, chunk...)
	}
	if len(updates) > 0 {
		chunk, err := s.repo.UpdateEdges(ctx, handle.DB(), opts.UserID, opts.Merge, updates)
		if err != nil {
			return nil, err
		}
		saved = append(saved, chunk...)
	}

	if handle != tx {
		if err := handle.Commit(); err != nil {
			return nil, apperror.ErrDatabase.WithInternal(err)
		}
	}
	return saved, nil
}

func (s *Service) pairFor(ctx context.Context, pairs map[string]*ontology.RelationshipPair, mu *sync.Mutex, pairID string) (*ontology.RelationshipPair, error) {
	mu.Lock()
	if pair, ok := pairs[pairID]; ok {
		mu.Unlock()
		return pair, nil
	}
	mu.Unlock()

	pair, err := s.ontology.GetPair(ctx, pairID)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	pairs[pairID] = pair
	mu.Unlock()
	return pair, nil
}

func (s *Service) validateEdge(ctx context.Context, pairs map[string]*ontology.RelationshipPair, mu *sync.Mutex, e *Edge) error {
	if e.ContainerID == "" {
		return apperror.NewValidation("edge is missing container_id")
	}
	if e.RelationshipPairID == "" {
		return apperror.NewValidation("edge is missing relationship_pair_id")
	}
	if !e.HasEndpoints() {
		return apperror.NewValidation("edge is missing endpoint ids")
	}

	pair, err := s.pairFor(ctx, pairs, mu, e.RelationshipPairID)
	if err != nil {
		return err
	}

	origin, err := s.repo.RetrieveNode(ctx, nil, e.OriginID)
	if err != nil {
		return apperror.ErrNoRelationship.WithMessage(
			fmt.Sprintf("edge origin %s is not a current node", e.OriginID)).WithInternal(err)
	}
	destination, err := s.repo.RetrieveNode(ctx, nil, e.DestinationID)
	if err != nil {
		return apperror.ErrNoRelationship.WithMessage(
			fmt.Sprintf("edge destination %s is not a current node", e.DestinationID)).WithInternal(err)
	}

	if origin.MetatypeID != pair.OriginMetatypeID {
		return apperror.ErrNoRelationship.WithMessage(fmt.Sprintf(
			"origin metatype %s does not match pair origin %s", origin.MetatypeID, pair.OriginMetatypeID))
	}
	if destination.MetatypeID != pair.DestinationMetatypeID {
		return apperror.ErrNoRelationship.WithMessage(fmt.Sprintf(
			"destination metatype %s does not match pair destination %s", destination.MetatypeID, pair.DestinationMetatypeID))
	}

	if pair.Relationship != nil {
		props, perr := ontology.ValidateAndTransformProperties(pair.Relationship.KeyDefinitions(), e.Properties)
		if perr != nil {
			return apperror.NewValidation(perr.Error())
		}
		e.Properties = props
	}

	if err := s.checkCardinality(ctx, pair, e); err != nil {
		return err
	}

	if s.cfg.Graph.EnforceEdgeTemporalOrder {
		at := e.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		if at.Before(origin.CreatedAt) || at.Before(destination.CreatedAt) {
			return apperror.NewValidation("edge predates one of its endpoint revisions")
		}
	}

	e.OriginMetatypeID = origin.MetatypeID
	e.OriginOriginalID = origin.OriginalDataID
	e.OriginDataSourceID = origin.DataSourceID
	e.DestMetatypeID = destination.MetatypeID
	e.DestOriginalID = destination.OriginalDataID
	e.DestDataSourceID = destination.DataSourceID
	return nil
}

// checkCardinality rejects an edge that would violate the pair's cardinality
// against the current edge set. A rewrite of an existing current edge between
// the same endpoints is allowed.
func (s *Service) checkCardinality(ctx context.Context, pair *ontology.RelationshipPair, e *Edge) error {
	existing, err := s.repo.ListEdges(ctx, nil, ListEdgesOptions{
		ContainerID:        e.ContainerID,
		RelationshipPairID: pair.ID,
		OriginID:           e.OriginID,
		DestinationID:      e.DestinationID,
		Limit:              1,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	switch pair.RelationshipType {
	case ontology.CardinalityOneToOne:
		if err := s.requireNoEdgesFrom(ctx, pair.ID, e.OriginID); err != nil {
			return err
		}
		return s.requireNoEdgesTo(ctx, pair.ID, e.DestinationID)
	case ontology.CardinalityManyToOne:
		return s.requireNoEdgesFrom(ctx, pair.ID, e.OriginID)
	case ontology.CardinalityOneToMany:
		return s.requireNoEdgesTo(ctx, pair.ID, e.DestinationID)
	default:
		return nil
	}
}

func (s *Service) requireNoEdgesFrom(ctx context.Context, pairID, originID string) error {
	count, err := s.repo.CountCurrentEdgesFrom(ctx, nil, pairID, originID)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperror.ErrCardinalityViolation.WithMessage(
			fmt.Sprintf("origin %s already has an edge for this pair", originID))
	}
	return nil
}

func (s *Service) requireNoEdgesTo(ctx context.Context, pairID, destinationID string) error {
	count, err := s.repo.CountCurrentEdgesTo(ctx, nil, pairID, destinationID)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperror.ErrCardinalityViolation.WithMessage(
			fmt.Sprintf("destination %s already has an edge for this pair", destinationID))
	}
	return nil
}

// UpdateEdge writes an edge revision addressed by revision id.
func (s *Service) UpdateEdge(ctx context.Context, e *Edge, opts SaveOptions) (*Edge, error) {
	if e.ID == "" {
		return nil, apperror.NewValidation("edge update needs an id")
	}
	pairs := make(map[string]*ontology.RelationshipPair)
	var mu sync.Mutex
	if err := s.validateEdge(ctx, pairs, &mu, e); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpdateEdges(ctx, nil, opts.UserID, opts.Merge, []*Edge{e})
	if err != nil {
		return nil, err
	}
	return saved[0], nil
}

func (s *Service) DeleteEdge(ctx context.Context, id string) error {
	return s.repo.DeleteEdge(ctx, nil, id)
}

func (s *Service) GetEdge(ctx context.Context, id string) (*Edge, error) {
	return s.repo.RetrieveEdge(ctx, nil, id)
}

func (s *Service) GetEdgeHistory(ctx context.Context, id string) ([]*Edge, error) {
	return s.repo.RetrieveEdgeHistory(ctx, nil, id)
}

func (s *Service) ListEdges(ctx context.Context, opts ListEdgesOptions) ([]*Edge, int64, error) {
	edges, err := s.repo.ListEdges(ctx, nil, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountEdges(ctx, nil, opts)
	if err != nil {
		return nil, 0, err
	}
	return edges, total, nil
}

func (s *Service) EdgeRowCount(ctx context.Context, containerID string) (int64, error) {
	return s.repo.EdgeRowCount(ctx, nil, containerID)
}

func (s *Service) AttachEdgeFile(ctx context.Context, edgeID, fileID string) error {
	if _, err := s.repo.RetrieveEdge(ctx, nil, edgeID); err != nil {
		return err
	}
	return s.repo.AddEdgeFile(ctx, nil, edgeID, fileID)
}

func (s *Service) DetachEdgeFile(ctx context.Context, edgeID, fileID string) error {
	return s.repo.RemoveEdgeFile(ctx, nil, edgeID, fileID)
}

// PromoteImports moves staged rows for the given imports into the primary
// tables in one owned transaction.
func (s *Service) PromoteImports(ctx context.Context, importIDs []string) (PromoteResult, error) {
	handle, err := database.OwnTx(ctx, s.db)
	if err != nil {
		return PromoteResult{}, apperror.ErrDatabase.WithInternal(err)
	}
	defer handle.Rollback()

	result, err := s.staging.PromoteBatch(ctx, handle.DB(), importIDs)
	if err != nil {
		return result, err
	}
	if err := handle.Commit(); err != nil {
		return result, apperror.ErrDatabase.WithInternal(err)
	}
	return result, nil
}

// AttachFilesForImport carries staging file links over to the nodes and
// edges the given imports created. Safe to call repeatedly.
func (s *Service) AttachFilesForImport(ctx context.Context, tx *database.TxHandle, importIDs []string) (int64, error) {
	var db bun.IDB
	if tx != nil {
		db = tx.DB()
	}
	nodes, err := s.repo.AttachNodeFilesForImport(ctx, db, importIDs)
	if err != nil {
		return 0, err
	}
	edges, err := s.repo.AttachEdgeFilesForImport(ctx, db, importIDs)
	if err != nil {
		return nodes, err
	}
	return nodes + edges, nil
}

// InvalidateSnapshot drops the cached current-node index for a container.
func (s *Service) InvalidateSnapshot(containerID string) {
	s.snapshots.Drop(containerID)
}
