package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/domain/graph"
	"github.com/basalt-works/basalt/domain/ontology"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/database"
	"github.com/basalt-works/basalt/internal/jobs"
	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
)

// Service receives import batches and drives staged records through the
// graph staging pipeline.
type Service struct {
	cfg      *config.Config
	db       bun.IDB
	repo     *Repository
	queue    *jobs.Queue
	staging  *graph.Staging
	graphSvc *graph.Service
	ontology *ontology.Repository
	log      *slog.Logger
}

// NewQueue builds the job queue backed by the imports table.
func NewQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *jobs.Queue {
	qc := jobs.DefaultQueueConfig("imports", "id")
	qc.BatchSize = cfg.Imports.WorkerBatchSize
	return jobs.NewQueue(db, qc, log.With(logger.Scope("imports.queue")))
}

func NewService(
	cfg *config.Config,
	db bun.IDB,
	repo *Repository,
	queue *jobs.Queue,
	staging *graph.Staging,
	graphSvc *graph.Service,
	ontologyRepo *ontology.Repository,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:      cfg,
		db:       db,
		repo:     repo,
		queue:    queue,
		staging:  staging,
		graphSvc: graphSvc,
		ontology: ontologyRepo,
		log:      log.With(logger.Scope("imports.service")),
	}
}

// CreateImport receives a batch of raw records. The import row and its
// records land in one transaction, the worker picks the import up from the
// queue afterwards.
func (s *Service) CreateImport(ctx context.Context, containerID, dataSourceID, userID string, payloads []json.RawMessage) (*Import, error) {
	if len(payloads) == 0 {
		return nil, apperror.NewBadRequest("an import needs at least one record")
	}

	ds, err := s.ontology.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	if ds.ContainerID != containerID {
		return nil, apperror.NewBadRequest("data source does not belong to this container")
	}
	if !ds.Active {
		return nil, apperror.ErrConflict.WithMessage("data source is inactive")
	}

	imp := &Import{
		ContainerID:  containerID,
		DataSourceID: dataSourceID,
		CreatedBy:    userID,
	}
	records := make([]*StagedRecord, len(payloads))
	for i, payload := range payloads {
		records[i] = &StagedRecord{Data: payload}
	}

	handle, err := database.OwnTx(ctx, s.db)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer handle.Rollback()

	if err := s.repo.CreateImport(ctx, handle.DB(), imp, records); err != nil {
		return nil, err
	}
	if err := handle.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("import received",
		slog.String("import_id", imp.ID),
		slog.String("container_id", containerID),
		slog.Int("records", len(records)),
	)
	return imp, nil
}

func (s *Service) GetImport(ctx context.Context, id string) (*Import, error) {
	return s.repo.GetImport(ctx, id)
}

func (s *Service) ListImports(ctx context.Context, containerID string, limit, offset int) ([]*Import, int64, error) {
	return s.repo.ListImports(ctx, containerID, limit, offset)
}

func (s *Service) ListRecords(ctx context.Context, importID string, limit, offset int) ([]*StagedRecord, int64, error) {
	if _, err := s.repo.GetImport(ctx, importID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListRecords(ctx, importID, limit, offset)
}

// Requeue puts a finished import back on the queue for reprocessing.
// Promotion is idempotent, so reprocessing an already promoted import is a
// no-op on the graph.
func (s *Service) Requeue(ctx context.Context, id string) error {
	if _, err := s.repo.GetImport(ctx, id); err != nil {
		return err
	}
	return s.repo.Requeue(ctx, id)
}

// LinkRecordFile attaches a file to a staged record ahead of promotion.
func (s *Service) LinkRecordFile(ctx context.Context, importID, recordID, fileID string) error {
	if _, err := s.repo.GetImport(ctx, importID); err != nil {
		return err
	}
	return s.repo.LinkRecordFile(ctx, recordID, fileID)
}

// QueueStats reports the queue depth per status.
func (s *Service) QueueStats(ctx context.Context) (*jobs.Stats, error) {
	return s.queue.GetStats(ctx)
}

// ProcessQueued claims a batch of pending imports and processes each one.
// It is the worker's poll function.
func (s *Service) ProcessQueued(ctx context.Context) error {
	ids, err := s.queue.Dequeue(ctx, s.cfg.Imports.WorkerBatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.processImport(ctx, id); err != nil {
			imp, gerr := s.repo.GetImport(ctx, id)
			attempts := 0
			if gerr == nil {
				attempts = imp.AttemptCount
			}
			s.log.Error("import processing failed",
				slog.String("import_id", id),
				logger.Error(err),
			)
			if merr := s.queue.MarkFailed(ctx, id, attempts, err.Error()); merr != nil {
				s.log.Error("marking import failed", slog.String("import_id", id), logger.Error(merr))
			}
			continue
		}
		if err := s.queue.MarkCompleted(ctx, id); err != nil {
			s.log.Error("marking import completed", slog.String("import_id", id), logger.Error(err))
		}
	}
	return nil
}

// processImport promotes one import: nodes first so edge endpoints can
// resolve against them, then edges. Per-record parse and validation failures
// are recorded on the record, they do not fail the import.
func (s *Service) processImport(ctx context.Context, importID string) error {
	imp, err := s.repo.GetImport(ctx, importID)
	if err != nil {
		return err
	}
	records, err := s.repo.PendingRecords(ctx, importID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return s.repo.SetStatusMessage(ctx, nil, importID, "no pending records")
	}

	keys := newKeyCache(s.ontology)
	var (
		stagedNodes []*graph.StagedNode
		edgeBacklog []*graph.Edge
		doneIDs     []string
	)
	for _, rec := range records {
		var envelope RecordEnvelope
		if err := json.Unmarshal(rec.Data, &envelope); err != nil {
			if serr := s.repo.SetRecordErrors(ctx, nil, rec.ID, []string{fmt.Sprintf("malformed record: %v", err)}); serr != nil {
				return serr
			}
			continue
		}

		var recordErrs []string
		for i := range envelope.Nodes {
			staged, err := s.stageNode(ctx, keys, imp, rec, &envelope.Nodes[i])
			if err != nil {
				recordErrs = append(recordErrs, fmt.Sprintf("node %d: %v", i, err))
				continue
			}
			stagedNodes = append(stagedNodes, staged)
		}
		for i := range envelope.Edges {
			edge := envelope.Edges[i].ToEdge(imp.ContainerID)
			if edge.DataSourceID == "" {
				edge.DataSourceID = imp.DataSourceID
			}
			edge.ImportDataID = imp.ID
			edge.DataStagingID = rec.ID
			edgeBacklog = append(edgeBacklog, edge)
		}

		if len(recordErrs) > 0 {
			if serr := s.repo.SetRecordErrors(ctx, nil, rec.ID, recordErrs); serr != nil {
				return serr
			}
		}
		doneIDs = append(doneIDs, rec.ID)
	}

	// Nodes go through the staging tables and the identity upsert in one
	// transaction together with the record bookkeeping.
	handle, err := database.OwnTx(ctx, s.db)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer handle.Rollback()

	if err := s.staging.StageNodes(ctx, handle.DB(), stagedNodes); err != nil {
		return err
	}
	result, err := s.staging.PromoteBatch(ctx, handle.DB(), []string{importID})
	if err != nil {
		return err
	}
	if err := s.repo.MarkRecordsInserted(ctx, handle.DB(), doneIDs); err != nil {
		return err
	}
	if err := handle.Commit(); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.graphSvc.InvalidateSnapshot(imp.ContainerID)

	// Edges resolve endpoints against the freshly promoted current view and
	// run through the full validation path.
	edgesSaved := 0
	var edgeErrs []string
	for _, edge := range edgeBacklog {
		saved, err := s.graphSvc.SaveEdge(ctx, nil, edge, graph.SaveOptions{UserID: imp.CreatedBy})
		if err != nil {
			edgeErrs = append(edgeErrs, err.Error())
			if edge.DataStagingID != "" {
				if serr := s.repo.SetRecordErrors(ctx, nil, edge.DataStagingID, []string{fmt.Sprintf("edge: %v", err)}); serr != nil {
					return serr
				}
			}
			continue
		}
		edgesSaved += len(saved)
	}

	// Files uploaded against staging records follow their rows into the graph.
	if _, err := s.graphSvc.AttachFilesForImport(ctx, nil, []string{importID}); err != nil {
		return err
	}

	message := fmt.Sprintf("promoted %d nodes, %d edges (%d records, %d edge failures)",
		result.NodesPromoted, edgesSaved, len(doneIDs), len(edgeErrs))
	return s.repo.SetStatusMessage(ctx, nil, importID, message)
}

// keyCache memoizes metatype key definitions for one processing pass.
type keyCache struct {
	repo *ontology.Repository
	mu   sync.Mutex
	keys map[string][]ontology.KeyDefinition
}

func newKeyCache(repo *ontology.Repository) *keyCache {
	return &keyCache{repo: repo, keys: make(map[string][]ontology.KeyDefinition)}
}

func (c *keyCache) get(ctx context.Context, metatypeID string) ([]ontology.KeyDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if defs, ok := c.keys[metatypeID]; ok {
		return defs, nil
	}
	mt, err := c.repo.GetMetatype(ctx, metatypeID)
	if err != nil {
		return nil, err
	}
	defs := mt.KeyDefinitions()
	c.keys[metatypeID] = defs
	return defs, nil
}

func (s *Service) stageNode(ctx context.Context, keys *keyCache, imp *Import, rec *StagedRecord, req *graph.CreateNodeRequest) (*graph.StagedNode, error) {
	if req.MetatypeID == "" {
		return nil, fmt.Errorf("missing metatype_id")
	}
	defs, err := keys.get(ctx, req.MetatypeID)
	if err != nil {
		return nil, err
	}
	props, err := ontology.ValidateAndTransformProperties(defs, req.Properties)
	if err != nil {
		return nil, err
	}

	node := req.ToNode(imp.ContainerID)
	if node.DataSourceID == "" {
		node.DataSourceID = imp.DataSourceID
	}
	staged := &graph.StagedNode{
		ContainerID:    node.ContainerID,
		MetatypeID:     node.MetatypeID,
		DataSourceID:   node.DataSourceID,
		ImportDataID:   imp.ID,
		DataStagingID:  rec.ID,
		OriginalDataID: node.OriginalDataID,
		Properties:     props,
		MetadataProps:  node.MetadataProps,
		Metadata:       node.Metadata,
		CreatedAt:      node.CreatedAt,
		CreatedBy:      imp.CreatedBy,
		ModifiedBy:     imp.CreatedBy,
	}
	return staged, nil
}
