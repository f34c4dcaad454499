package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeCompositeID(t *testing.T) {
	n := &Node{
		ContainerID:    "container-1",
		DataSourceID:   "source-1",
		OriginalDataID: "record-42",
		MetatypeID:     "metatype-1",
	}

	cid := n.CompositeID()
	assert.Equal(t, "container-1", cid.ContainerID)
	assert.Equal(t, "source-1", cid.DataSourceID)
	assert.Equal(t, "record-42", cid.OriginalDataID)
	assert.Equal(t, "metatype-1", cid.MetatypeID)
}

func TestNodeHasCompositeID(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want bool
	}{
		{
			name: "full identity",
			node: Node{ContainerID: "c", DataSourceID: "d", OriginalDataID: "o", MetatypeID: "m"},
			want: true,
		},
		{
			name: "missing original data id",
			node: Node{ContainerID: "c", DataSourceID: "d", MetatypeID: "m"},
			want: false,
		},
		{
			name: "missing data source",
			node: Node{ContainerID: "c", OriginalDataID: "o", MetatypeID: "m"},
			want: false,
		},
		{
			name: "empty",
			node: Node{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.node.HasCompositeID())
		})
	}
}

func TestEdgeHasEndpoints(t *testing.T) {
	assert.True(t, (&Edge{OriginID: "a", DestinationID: "b"}).HasEndpoints())
	assert.False(t, (&Edge{OriginID: "a"}).HasEndpoints())
	assert.False(t, (&Edge{DestinationID: "b"}).HasEndpoints())
	assert.False(t, (&Edge{}).HasEndpoints())
}

func TestEdgeEndpointParameters(t *testing.T) {
	e := &Edge{
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: "metatype_name", Operator: "eq", Value: "Person"},
			{Endpoint: EndpointDestination, Key: "id", Operator: "eq", Value: "node-1"},
			{Endpoint: EndpointOrigin, Key: "data_source_id", Operator: "eq", Value: "source-1"},
		},
	}

	origin := e.endpointParameters(EndpointOrigin)
	require.Len(t, origin, 2)
	assert.Equal(t, "metatype_name", origin[0].Key)
	assert.Equal(t, "data_source_id", origin[1].Key)

	destination := e.endpointParameters(EndpointDestination)
	require.Len(t, destination, 1)
	assert.Equal(t, "id", destination[0].Key)

	assert.Empty(t, (&Edge{}).endpointParameters(EndpointOrigin))
}

func TestCreateNodeRequestToNode(t *testing.T) {
	pinned := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	req := CreateNodeRequest{
		MetatypeID:     "metatype-1",
		DataSourceID:   "source-1",
		OriginalDataID: "record-1",
		Properties:     map[string]any{"name": "alpha"},
		CreatedAt:      &pinned,
	}

	n := req.ToNode("container-1")
	assert.Equal(t, "container-1", n.ContainerID)
	assert.Equal(t, "metatype-1", n.MetatypeID)
	assert.Equal(t, "record-1", n.OriginalDataID)
	assert.Equal(t, pinned, n.CreatedAt)
	assert.Equal(t, "alpha", n.Properties["name"])
}

func TestCreateNodeRequestToNodeDefaults(t *testing.T) {
	req := CreateNodeRequest{MetatypeID: "metatype-1"}

	n := req.ToNode("container-1")
	assert.True(t, n.CreatedAt.IsZero())
	require.NotNil(t, n.Properties)
	assert.Empty(t, n.Properties)
}

func TestCreateEdgeRequestToEdge(t *testing.T) {
	req := CreateEdgeRequest{
		RelationshipPairID: "pair-1",
		OriginID:           "node-a",
		DestinationID:      "node-b",
		Parameters: []EdgeParameter{
			{Endpoint: EndpointOrigin, Key: "id", Operator: "eq", Value: "node-a"},
		},
	}

	e := req.ToEdge("container-1")
	assert.Equal(t, "container-1", e.ContainerID)
	assert.Equal(t, "pair-1", e.RelationshipPairID)
	assert.True(t, e.HasEndpoints())
	assert.Len(t, e.Parameters, 1)
	require.NotNil(t, e.Properties)
	assert.Empty(t, e.Properties)
}
