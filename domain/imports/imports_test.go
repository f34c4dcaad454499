package imports

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/basalt-works/basalt/domain/graph"
	"github.com/basalt-works/basalt/domain/ontology"
	"github.com/basalt-works/basalt/domain/snapshot"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/jobs"
	"github.com/basalt-works/basalt/internal/testutil"
)

func TestRecordEnvelopeUnmarshal(t *testing.T) {
	payload := []byte(`{
		"nodes": [
			{"metatype_id": "mt-1", "original_data_id": "r-1", "properties": {"name": "alpha"}}
		],
		"edges": [
			{"relationship_pair_id": "pair-1", "origin_original_id": "r-1", "destination_original_id": "r-2"}
		]
	}`)

	var envelope RecordEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	require.Len(t, envelope.Nodes, 1)
	require.Len(t, envelope.Edges, 1)
	assert.Equal(t, "mt-1", envelope.Nodes[0].MetatypeID)
	assert.Equal(t, "alpha", envelope.Nodes[0].Properties["name"])
	assert.Equal(t, "r-1", envelope.Edges[0].OriginOriginalID)
}

// ImportsSuite drives batches through the full pipeline: receive, queue,
// stage, promote, resolve edges.
type ImportsSuite struct {
	testutil.BaseSuite

	svc      *Service
	graphSvc *graph.Service

	personID string
	knowsID  string
}

func TestImportsSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(ImportsSuite))
}

func (s *ImportsSuite) SetupSuite() {
	s.SetDBSuffix("imports")
	s.BaseSuite.SetupSuite()
}

func (s *ImportsSuite) SetupTest() {
	s.BaseSuite.SetupTest()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := s.DB()
	cfg := &config.Config{}
	cfg.Imports.WorkerBatchSize = 10

	graphRepo := graph.NewRepository(db, log)
	staging := graph.NewStaging(db, log)
	cache := snapshot.NewCache()
	loader := snapshot.NewLoader(db, cache, log)
	resolver := graph.NewResolver(db, loader, log)
	ontoRepo := ontology.NewRepository(db, log)
	s.graphSvc = graph.NewService(cfg, db, graphRepo, staging, resolver, ontoRepo, cache, log)

	repo := NewRepository(db, log)
	queue := jobs.NewQueue(db, jobs.DefaultQueueConfig("imports", "id"), log)
	s.svc = NewService(cfg, db, repo, queue, staging, s.graphSvc, ontoRepo, log)

	var err error
	s.personID, err = testutil.CreateTestMetatype(s.Ctx, db, s.ContainerID, "Person",
		testutil.TestMetatypeKey{Name: "Name", PropertyName: "name", DataType: ontology.DataTypeString, Required: true},
	)
	s.Require().NoError(err)

	knowsRelID, err := testutil.CreateTestRelationship(s.Ctx, db, s.ContainerID, "knows")
	s.Require().NoError(err)
	s.knowsID, err = testutil.CreateTestPair(s.Ctx, db, s.ContainerID, knowsRelID,
		s.personID, s.personID, ontology.CardinalityManyToMany)
	s.Require().NoError(err)
}

func (s *ImportsSuite) nodeRecord(originalID, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"nodes": [{"metatype_id": %q, "original_data_id": %q, "properties": {"name": %q}}]}`,
		s.personID, originalID, name,
	))
}

func (s *ImportsSuite) TestCreateImportQueuesRecords() {
	imp, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{s.nodeRecord("p-1", "alpha")})
	s.Require().NoError(err)
	s.NotEmpty(imp.ID)

	stored, err := s.svc.GetImport(s.Ctx, imp.ID)
	s.Require().NoError(err)
	s.Equal("pending", stored.Status)

	records, total, err := s.svc.ListRecords(s.Ctx, imp.ID, 10, 0)
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Len(records, 1)
}

func (s *ImportsSuite) TestCreateImportRejectsEmptyBatch() {
	_, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester", nil)
	s.Require().Error(err)
}

func (s *ImportsSuite) TestCreateImportRejectsForeignDataSource() {
	otherContainer, err := testutil.CreateTestContainer(s.Ctx, s.DB(), "Other")
	s.Require().NoError(err)
	otherSource, err := testutil.CreateTestDataSource(s.Ctx, s.DB(), otherContainer, "Other Source")
	s.Require().NoError(err)

	_, err = s.svc.CreateImport(s.Ctx, s.ContainerID, otherSource, "tester",
		[]json.RawMessage{s.nodeRecord("p-1", "alpha")})
	s.Require().Error(err)
}

func (s *ImportsSuite) TestProcessQueuedPromotesNodes() {
	imp, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{
			s.nodeRecord("p-1", "alpha"),
			s.nodeRecord("p-2", "beta"),
		})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))

	stored, err := s.svc.GetImport(s.Ctx, imp.ID)
	s.Require().NoError(err)
	s.Equal("completed", stored.Status)

	count, err := s.graphSvc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	node, err := s.graphSvc.GetNodeByCompositeID(s.Ctx, graph.CompositeID{
		ContainerID:    s.ContainerID,
		DataSourceID:   s.DataSourceID,
		OriginalDataID: "p-1",
		MetatypeID:     s.personID,
	})
	s.Require().NoError(err)
	s.Equal("alpha", node.Properties["name"])
	s.Equal(imp.ID, node.ImportDataID)
}

func (s *ImportsSuite) TestProcessQueuedResolvesEdges() {
	record := json.RawMessage(fmt.Sprintf(`{
		"nodes": [
			{"metatype_id": %q, "original_data_id": "p-1", "properties": {"name": "alpha"}},
			{"metatype_id": %q, "original_data_id": "p-2", "properties": {"name": "beta"}}
		],
		"edges": [
			{"relationship_pair_id": %q, "origin_original_id": "p-1", "destination_original_id": "p-2"}
		]
	}`, s.personID, s.personID, s.knowsID))

	_, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{record})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))

	count, err := s.graphSvc.EdgeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *ImportsSuite) TestProcessQueuedRecordsPerRecordErrors() {
	imp, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{
			s.nodeRecord("p-1", "alpha"),
			json.RawMessage(fmt.Sprintf(
				`{"nodes": [{"metatype_id": %q, "original_data_id": "p-2", "properties": {}}]}`,
				s.personID)),
		})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))

	// The valid record promotes, the invalid one carries its error.
	count, err := s.graphSvc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	records, _, err := s.svc.ListRecords(s.Ctx, imp.ID, 10, 0)
	s.Require().NoError(err)
	var withErrors int
	for _, rec := range records {
		if len(rec.Errors) > 0 {
			withErrors++
		}
	}
	s.Equal(1, withErrors)

	stored, err := s.svc.GetImport(s.Ctx, imp.ID)
	s.Require().NoError(err)
	s.Equal("completed", stored.Status)
}

func (s *ImportsSuite) TestReprocessingIsIdempotent() {
	imp, err := s.svc.CreateImport(s.Ctx, s.ContainerID, s.DataSourceID, "tester",
		[]json.RawMessage{s.nodeRecord("p-1", "alpha")})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))
	s.Require().NoError(s.svc.Requeue(s.Ctx, imp.ID))
	s.Require().NoError(s.svc.ProcessQueued(s.Ctx))

	count, err := s.graphSvc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
