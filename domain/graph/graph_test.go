package graph

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/basalt-works/basalt/domain/ontology"
	"github.com/basalt-works/basalt/domain/snapshot"
	"github.com/basalt-works/basalt/internal/config"
	"github.com/basalt-works/basalt/internal/testutil"
)

// GraphSuite exercises the write path end to end against a real database:
// identity upserts, revision history, merge mode, edge validation, and the
// staging pipeline.
type GraphSuite struct {
	testutil.BaseSuite

	svc      *Service
	staging  *Staging
	resolver *Resolver
	loader   *snapshot.Loader

	personID   string
	documentID string
	authoredID string // Person -> Document, many:one
	knowsID    string // Person -> Person, many:many
}

func TestGraphSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(GraphSuite))
}

func (s *GraphSuite) SetupSuite() {
	s.SetDBSuffix("graph")
	s.BaseSuite.SetupSuite()
}

func (s *GraphSuite) SetupTest() {
	s.BaseSuite.SetupTest()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := s.DB()

	repo := NewRepository(db, log)
	staging := NewStaging(db, log)
	cache := snapshot.NewCache()
	loader := snapshot.NewLoader(db, cache, log)
	resolver := NewResolver(db, loader, log)
	ontoRepo := ontology.NewRepository(db, log)

	s.staging = staging
	s.resolver = resolver
	s.loader = loader
	s.svc = NewService(&config.Config{}, db, repo, staging, resolver, ontoRepo, cache, log)

	var err error
	s.personID, err = testutil.CreateTestMetatype(s.Ctx, db, s.ContainerID, "Person",
		testutil.TestMetatypeKey{Name: "Name", PropertyName: "name", DataType: ontology.DataTypeString, Required: true},
		testutil.TestMetatypeKey{Name: "Age", PropertyName: "age", DataType: ontology.DataTypeNumber},
	)
	s.Require().NoError(err)

	s.documentID, err = testutil.CreateTestMetatype(s.Ctx, db, s.ContainerID, "Document",
		testutil.TestMetatypeKey{Name: "Title", PropertyName: "title", DataType: ontology.DataTypeString, Required: true},
	)
	s.Require().NoError(err)

	authoredRelID, err := testutil.CreateTestRelationship(s.Ctx, db, s.ContainerID, "authored")
	s.Require().NoError(err)
	s.authoredID, err = testutil.CreateTestPair(s.Ctx, db, s.ContainerID, authoredRelID,
		s.personID, s.documentID, ontology.CardinalityManyToOne)
	s.Require().NoError(err)

	knowsRelID, err := testutil.CreateTestRelationship(s.Ctx, db, s.ContainerID, "knows")
	s.Require().NoError(err)
	s.knowsID, err = testutil.CreateTestPair(s.Ctx, db, s.ContainerID, knowsRelID,
		s.personID, s.personID, ontology.CardinalityManyToMany)
	s.Require().NoError(err)
}

func (s *GraphSuite) person(originalID string, props map[string]any) *Node {
	return &Node{
		ContainerID:    s.ContainerID,
		MetatypeID:     s.personID,
		DataSourceID:   s.DataSourceID,
		OriginalDataID: originalID,
		Properties:     props,
	}
}

func (s *GraphSuite) document(originalID, title string) *Node {
	return &Node{
		ContainerID:    s.ContainerID,
		MetatypeID:     s.documentID,
		DataSourceID:   s.DataSourceID,
		OriginalDataID: originalID,
		Properties:     map[string]any{"title": title},
	}
}

func (s *GraphSuite) savePerson(originalID string, props map[string]any) *Node {
	saved, err := s.svc.SaveNode(s.Ctx, nil, s.person(originalID, props), SaveOptions{})
	s.Require().NoError(err)
	s.Require().NotEmpty(saved.ID)
	return saved
}

func (s *GraphSuite) TestSaveNodeRejectsMissingRequiredProperty() {
	_, err := s.svc.SaveNode(s.Ctx, nil, s.person("p-1", map[string]any{"age": 30}), SaveOptions{})
	s.Require().Error(err)
	s.Contains(err.Error(), "name")
}

func (s *GraphSuite) TestSaveNodeCoercesPropertyTypes() {
	saved := s.savePerson("p-1", map[string]any{"name": "alpha", "age": "42"})
	s.Equal(float64(42), saved.Properties["age"])
}

func (s *GraphSuite) TestCompositeUpsertCorrectsSameTimestampInPlace() {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	first := s.person("p-1", map[string]any{"name": "alpha"})
	first.CreatedAt = at
	_, err := s.svc.SaveNode(s.Ctx, nil, first, SaveOptions{})
	s.Require().NoError(err)

	second := s.person("p-1", map[string]any{"name": "beta"})
	second.CreatedAt = at
	_, err = s.svc.SaveNode(s.Ctx, nil, second, SaveOptions{})
	s.Require().NoError(err)

	current, err := s.svc.GetNodeByCompositeID(s.Ctx, first.CompositeID())
	s.Require().NoError(err)
	s.Equal("beta", current.Properties["name"])

	count, err := s.svc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *GraphSuite) TestCompositeUpsertIdenticalPayloadIsNoOp() {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	first := s.person("p-1", map[string]any{"name": "alpha"})
	first.CreatedAt = at
	_, err := s.svc.SaveNode(s.Ctx, nil, first, SaveOptions{})
	s.Require().NoError(err)

	second := s.person("p-1", map[string]any{"name": "alpha"})
	second.CreatedAt = at
	saved, err := s.svc.SaveNode(s.Ctx, nil, second, SaveOptions{})
	s.Require().NoError(err)
	s.Equal("alpha", saved.Properties["name"])

	count, err := s.svc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *GraphSuite) TestCompositeUpsertNewTimestampAddsRevision() {
	t1 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	first := s.person("p-1", map[string]any{"name": "alpha"})
	first.CreatedAt = t1
	_, err := s.svc.SaveNode(s.Ctx, nil, first, SaveOptions{})
	s.Require().NoError(err)

	second := s.person("p-1", map[string]any{"name": "beta"})
	second.CreatedAt = t2
	_, err = s.svc.SaveNode(s.Ctx, nil, second, SaveOptions{})
	s.Require().NoError(err)

	count, err := s.svc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	current, err := s.svc.GetNodeByCompositeID(s.Ctx, first.CompositeID())
	s.Require().NoError(err)
	s.Equal("beta", current.Properties["name"])
	s.WithinDuration(t2, current.CreatedAt, time.Second)
}

func (s *GraphSuite) TestMergeModeUnionsOverPriorRevision() {
	t1 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	first := s.person("p-1", map[string]any{"name": "alpha", "age": 30})
	first.CreatedAt = t1
	_, err := s.svc.SaveNode(s.Ctx, nil, first, SaveOptions{})
	s.Require().NoError(err)

	second := s.person("p-1", map[string]any{"name": "beta"})
	second.CreatedAt = t2
	_, err = s.svc.SaveNode(s.Ctx, nil, second, SaveOptions{Merge: true})
	s.Require().NoError(err)

	current, err := s.svc.GetNodeByCompositeID(s.Ctx, first.CompositeID())
	s.Require().NoError(err)
	s.Equal("beta", current.Properties["name"])
	s.Equal(float64(30), current.Properties["age"])
}

func (s *GraphSuite) TestBulkSaveNodes() {
	nodes := []*Node{
		s.person("p-1", map[string]any{"name": "alpha"}),
		s.person("p-2", map[string]any{"name": "beta"}),
		s.person("p-3", map[string]any{"name": "gamma"}),
	}
	saved, err := s.svc.BulkSaveNodes(s.Ctx, nil, nodes, SaveOptions{UserID: "tester"})
	s.Require().NoError(err)
	s.Len(saved, 3)
	s.Equal("tester", saved[0].CreatedBy)

	listed, total, err := s.svc.ListNodes(s.Ctx, ListNodesOptions{ContainerID: s.ContainerID, Limit: 10})
	s.Require().NoError(err)
	s.Equal(int64(3), total)
	s.Len(listed, 3)
}

func (s *GraphSuite) TestUpdateNodeByRevision() {
	saved := s.savePerson("p-1", map[string]any{"name": "alpha"})

	update := s.person("p-1", map[string]any{"name": "alpha prime"})
	update.ID = saved.ID
	update.CreatedAt = saved.CreatedAt.Add(time.Hour)
	_, err := s.svc.UpdateNode(s.Ctx, update, SaveOptions{})
	s.Require().NoError(err)

	history, err := s.svc.GetNodeHistory(s.Ctx, saved.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)

	current, err := s.svc.GetNode(s.Ctx, saved.ID)
	s.Require().NoError(err)
	s.Equal("alpha prime", current.Properties["name"])
}

func (s *GraphSuite) TestListNodesWithPropertyFilter() {
	s.savePerson("p-1", map[string]any{"name": "alpha"})
	s.savePerson("p-2", map[string]any{"name": "beta"})

	listed, total, err := s.svc.ListNodes(s.Ctx, ListNodesOptions{
		ContainerID: s.ContainerID,
		PropertyFilters: []PropertyFilter{
			{Property: "name", Operator: "eq", Value: "alpha"},
		},
		Limit: 10,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(listed, 1)
	s.Equal("alpha", listed[0].Properties["name"])
}

func (s *GraphSuite) TestListNodesWithPropertyComparisonFilter() {
	s.savePerson("p-1", map[string]any{"name": "alpha", "age": 30})
	s.savePerson("p-2", map[string]any{"name": "beta", "age": 18})

	listed, total, err := s.svc.ListNodes(s.Ctx, ListNodesOptions{
		ContainerID: s.ContainerID,
		PropertyFilters: []PropertyFilter{
			{Property: "age", Operator: ">=", Value: 21},
		},
		Limit: 10,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), total)
	s.Require().Len(listed, 1)
	s.Equal("alpha", listed[0].Properties["name"])
}

func (s *GraphSuite) saveEdge(pairID, originID, destinationID string) *Edge {
	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: pairID,
		DataSourceID:       s.DataSourceID,
		OriginID:           originID,
		DestinationID:      destinationID,
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	return edges[0]
}

func (s *GraphSuite) TestSaveEdgeDenormalizesEndpointIdentity() {
	origin := s.savePerson("p-1", map[string]any{"name": "alpha"})
	destination := s.savePerson("p-2", map[string]any{"name": "beta"})

	edge := s.saveEdge(s.knowsID, origin.ID, destination.ID)
	s.Equal("p-1", edge.OriginOriginalID)
	s.Equal("p-2", edge.DestOriginalID)
	s.Equal(s.personID, edge.OriginMetatypeID)
}

func (s *GraphSuite) TestSaveEdgeRejectsMetatypeMismatch() {
	origin := s.savePerson("p-1", map[string]any{"name": "alpha"})
	destination := s.savePerson("p-2", map[string]any{"name": "beta"})

	// authored expects a Document destination
	_, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.authoredID,
		OriginID:           origin.ID,
		DestinationID:      destination.ID,
	}, SaveOptions{})
	s.Require().Error(err)
}

func (s *GraphSuite) TestSaveEdgeEnforcesManyToOne() {
	author := s.savePerson("p-1", map[string]any{"name": "alpha"})

	doc1, err := s.svc.SaveNode(s.Ctx, nil, s.document("d-1", "first"), SaveOptions{})
	s.Require().NoError(err)
	doc2, err := s.svc.SaveNode(s.Ctx, nil, s.document("d-2", "second"), SaveOptions{})
	s.Require().NoError(err)

	s.saveEdge(s.authoredID, author.ID, doc1.ID)

	// A second authored edge from the same origin violates many:one.
	_, err = s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.authoredID,
		OriginID:           author.ID,
		DestinationID:      doc2.ID,
	}, SaveOptions{})
	s.Require().Error(err)

	// Rewriting the existing edge between the same endpoints is allowed.
	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.authoredID,
		DataSourceID:       s.DataSourceID,
		OriginID:           author.ID,
		DestinationID:      doc1.ID,
		Properties:         map[string]any{"role": "editor"},
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Len(edges, 1)
}

func (s *GraphSuite) TestSaveEdgeResolvesCompositeIdentityEndpoints() {
	s.savePerson("p-1", map[string]any{"name": "alpha"})
	s.savePerson("p-2", map[string]any{"name": "beta"})

	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.knowsID,
		DataSourceID:       s.DataSourceID,
		OriginOriginalID:   "p-1",
		OriginDataSourceID: s.DataSourceID,
		DestOriginalID:     "p-2",
		DestDataSourceID:   s.DataSourceID,
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.True(edges[0].HasEndpoints())
}

func (s *GraphSuite) TestSaveEdgeExpandsParameterTemplate() {
	s.savePerson("p-1", map[string]any{"name": "alpha"})
	s.savePerson("p-2", map[string]any{"name": "beta"})
	destination := s.savePerson("p-3", map[string]any{"name": "gamma"})

	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.knowsID,
		DataSourceID:       s.DataSourceID,
		DestinationID:      destination.ID,
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: snapshot.KeyMetatypeName, Operator: snapshot.OperatorEq, Value: "Person"},
			{Endpoint: EndpointOrigin, Key: snapshot.KeyProperty, Property: "name", Operator: snapshot.OperatorIn, Value: []any{"alpha", "beta"}},
		},
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Len(edges, 2)
}

func (s *GraphSuite) TestSaveEdgeParameterMissYieldsNoEdges() {
	destination := s.savePerson("p-1", map[string]any{"name": "alpha"})

	// A selector matching zero current nodes legitimately produces zero
	// edges; the cross product over an empty endpoint set is empty.
	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.knowsID,
		DestinationID:      destination.ID,
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: snapshot.KeyProperty, Property: "name", Operator: snapshot.OperatorEq, Value: "nobody"},
		},
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Empty(edges)

	count, err := s.svc.EdgeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *GraphSuite) TestSaveEdgeParameterMissOnSnapshotPathYieldsNoEdges() {
	destination := s.savePerson("p-1", map[string]any{"name": "alpha"})

	// Same contract on the snapshot fast path: eq on a non-property key
	// that matches nothing is a miss, not an error and not an absent filter.
	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.knowsID,
		DestinationID:      destination.ID,
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: snapshot.KeyOriginalDataID, Operator: snapshot.OperatorEq, Value: "no-such-record"},
		},
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Empty(edges)
}

func (s *GraphSuite) TestSaveEdgeParameterNumericComparison() {
	s.savePerson("p-1", map[string]any{"name": "alpha", "age": 30})
	s.savePerson("p-2", map[string]any{"name": "beta", "age": 18})
	destination := s.savePerson("p-3", map[string]any{"name": "gamma", "age": 50})

	edges, err := s.svc.SaveEdge(s.Ctx, nil, &Edge{
		ContainerID:        s.ContainerID,
		RelationshipPairID: s.knowsID,
		DataSourceID:       s.DataSourceID,
		DestinationID:      destination.ID,
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: snapshot.KeyOriginalDataID, Operator: snapshot.OperatorIn, Value: []any{"p-1", "p-2"}},
			{Endpoint: EndpointOrigin, Key: snapshot.KeyProperty, Property: "age", Operator: ">", Value: 21},
		},
	}, SaveOptions{})
	s.Require().NoError(err)
	s.Require().Len(edges, 1)
	s.Equal("p-1", edges[0].OriginOriginalID)
}

func (s *GraphSuite) TestSnapshotAndScanAgreeOnCandidates() {
	s.savePerson("p-1", map[string]any{"name": "alpha"})
	s.savePerson("p-2", map[string]any{"name": "beta"})
	s.savePerson("p-3", map[string]any{"name": "gamma"})
	_, err := s.svc.SaveNode(s.Ctx, nil, s.document("d-1", "first"), SaveOptions{})
	s.Require().NoError(err)

	params := []EdgeParameter{
		{Key: snapshot.KeyMetatypeName, Operator: snapshot.OperatorEq, Value: "Person"},
		{Key: snapshot.KeyOriginalDataID, Operator: snapshot.OperatorIn, Value: []any{"p-1", "p-3", "d-1"}},
	}

	snap, err := s.loader.GetOrLoad(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	fastIDs, err := snap.FindNodes(toSnapshotFilters(params))
	s.Require().NoError(err)

	refs, err := s.resolver.scanByParameters(s.Ctx, s.ContainerID, nil, params)
	s.Require().NoError(err)
	slowIDs := make([]string, len(refs))
	for i, ref := range refs {
		slowIDs[i] = ref.ID
	}

	s.Require().Len(fastIDs, 2)
	s.ElementsMatch(fastIDs, slowIDs)
}

func (s *GraphSuite) TestDeleteNodeCascadesToEdges() {
	origin := s.savePerson("p-1", map[string]any{"name": "alpha"})
	destination := s.savePerson("p-2", map[string]any{"name": "beta"})
	edge := s.saveEdge(s.knowsID, origin.ID, destination.ID)

	s.Require().NoError(s.svc.DeleteNode(s.Ctx, origin.ID))

	_, err := s.svc.GetNode(s.Ctx, origin.ID)
	s.Require().Error(err)

	_, err = s.svc.GetEdge(s.Ctx, edge.ID)
	s.Require().Error(err)

	// History survives the tombstone.
	history, err := s.svc.GetNodeHistory(s.Ctx, origin.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
}

func (s *GraphSuite) TestDeleteEdgeKeepsEndpoints() {
	origin := s.savePerson("p-1", map[string]any{"name": "alpha"})
	destination := s.savePerson("p-2", map[string]any{"name": "beta"})
	edge := s.saveEdge(s.knowsID, origin.ID, destination.ID)

	s.Require().NoError(s.svc.DeleteEdge(s.Ctx, edge.ID))

	_, err := s.svc.GetEdge(s.Ctx, edge.ID)
	s.Require().Error(err)

	_, err = s.svc.GetNode(s.Ctx, origin.ID)
	s.NoError(err)
}

func (s *GraphSuite) TestPromoteBatchDeduplicatesAndPurges() {
	importID := uuid.New().String()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	staged := []*StagedNode{
		{
			ContainerID:    s.ContainerID,
			MetatypeID:     s.personID,
			DataSourceID:   s.DataSourceID,
			ImportDataID:   importID,
			OriginalDataID: "p-1",
			Properties:     map[string]any{"name": "stale"},
			CreatedAt:      at,
			ModifiedAt:     at,
		},
		{
			ContainerID:    s.ContainerID,
			MetatypeID:     s.personID,
			DataSourceID:   s.DataSourceID,
			ImportDataID:   importID,
			OriginalDataID: "p-1",
			Properties:     map[string]any{"name": "fresh"},
			CreatedAt:      at,
			ModifiedAt:     at.Add(time.Minute),
		},
		{
			ContainerID:    s.ContainerID,
			MetatypeID:     s.personID,
			DataSourceID:   s.DataSourceID,
			ImportDataID:   importID,
			OriginalDataID: "p-2",
			Properties:     map[string]any{"name": "other"},
			CreatedAt:      at,
			ModifiedAt:     at,
		},
	}
	s.Require().NoError(s.staging.StageNodes(s.Ctx, nil, staged))

	result, err := s.svc.PromoteImports(s.Ctx, []string{importID})
	s.Require().NoError(err)
	s.Equal(int64(1), result.NodesDeduplicated)
	s.Equal(int64(2), result.NodesPromoted)

	current, err := s.svc.GetNodeByCompositeID(s.Ctx, CompositeID{
		ContainerID:    s.ContainerID,
		DataSourceID:   s.DataSourceID,
		OriginalDataID: "p-1",
		MetatypeID:     s.personID,
	})
	s.Require().NoError(err)
	s.Equal("fresh", current.Properties["name"])

	nodes, edges, err := s.staging.StagingCounts(s.Ctx, nil, importID)
	s.Require().NoError(err)
	s.Zero(nodes)
	s.Zero(edges)
}

func (s *GraphSuite) TestPromoteBatchIsIdempotent() {
	importID := uuid.New().String()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	staged := &StagedNode{
		ContainerID:    s.ContainerID,
		MetatypeID:     s.personID,
		DataSourceID:   s.DataSourceID,
		ImportDataID:   importID,
		OriginalDataID: "p-1",
		Properties:     map[string]any{"name": "alpha"},
		CreatedAt:      at,
	}
	s.Require().NoError(s.staging.StageNodes(s.Ctx, nil, []*StagedNode{staged}))

	_, err := s.svc.PromoteImports(s.Ctx, []string{importID})
	s.Require().NoError(err)

	// Second pass finds nothing to promote.
	result, err := s.svc.PromoteImports(s.Ctx, []string{importID})
	s.Require().NoError(err)
	s.Zero(result.NodesPromoted)

	count, err := s.svc.NodeRowCount(s.Ctx, s.ContainerID)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}
