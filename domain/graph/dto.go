package graph

import (
	"time"
)

// CreateNodeRequest is the request body for creating or upserting a node.
type CreateNodeRequest struct {
	MetatypeID     string         `json:"metatype_id" validate:"required"`
	DataSourceID   string         `json:"data_source_id,omitempty"`
	ImportDataID   string         `json:"import_data_id,omitempty"`
	DataStagingID  string         `json:"data_staging_id,omitempty"`
	OriginalDataID string         `json:"original_data_id,omitempty"`
	Properties     map[string]any `json:"properties"`
	MetadataProps  map[string]any `json:"metadata_properties,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// CreatedAt pins the revision timestamp, usually the source system's
	// observation time. Empty means now.
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func (r *CreateNodeRequest) ToNode(containerID string) *Node {
	n := &Node{
		ContainerID:    containerID,
		MetatypeID:     r.MetatypeID,
		DataSourceID:   r.DataSourceID,
		ImportDataID:   r.ImportDataID,
		DataStagingID:  r.DataStagingID,
		OriginalDataID: r.OriginalDataID,
		Properties:     r.Properties,
		MetadataProps:  r.MetadataProps,
		Metadata:       r.Metadata,
	}
	if r.CreatedAt != nil {
		n.CreatedAt = *r.CreatedAt
	}
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}
	return n
}

// BulkCreateNodesRequest is the request body for a bulk node save.
type BulkCreateNodesRequest struct {
	Nodes []CreateNodeRequest `json:"nodes" validate:"required,dive"`
}

// UpdateNodeRequest addresses one revision of a node. Writing to an existing
// (id, created_at) corrects that revision in place.
type UpdateNodeRequest struct {
	MetatypeID    string         `json:"metatype_id" validate:"required"`
	DataSourceID  string         `json:"data_source_id,omitempty"`
	Properties    map[string]any `json:"properties"`
	MetadataProps map[string]any `json:"metadata_properties,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     *time.Time     `json:"created_at,omitempty"`
}

// CreateEdgeRequest is the request body for creating or upserting an edge.
// Endpoints come either as explicit node ids, as composite identity columns,
// or as parameters resolved against current nodes.
type CreateEdgeRequest struct {
	RelationshipPairID string          `json:"relationship_pair_id" validate:"required"`
	DataSourceID       string          `json:"data_source_id,omitempty"`
	ImportDataID       string          `json:"import_data_id,omitempty"`
	DataStagingID      string          `json:"data_staging_id,omitempty"`
	OriginID           string          `json:"origin_id,omitempty"`
	DestinationID      string          `json:"destination_id,omitempty"`
	OriginOriginalID   string          `json:"origin_original_id,omitempty"`
	OriginDataSourceID string          `json:"origin_data_source_id,omitempty"`
	OriginMetatypeID   string          `json:"origin_metatype_id,omitempty"`
	DestOriginalID     string          `json:"destination_original_id,omitempty"`
	DestDataSourceID   string          `json:"destination_data_source_id,omitempty"`
	DestMetatypeID     string          `json:"destination_metatype_id,omitempty"`
	Properties         map[string]any  `json:"properties"`
	MetadataProps      map[string]any  `json:"metadata_properties,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Parameters         []EdgeParameter `json:"parameters,omitempty"`
	CreatedAt          *time.Time      `json:"created_at,omitempty"`
}

func (r *CreateEdgeRequest) ToEdge(containerID string) *Edge {
	e := &Edge{
		ContainerID:        containerID,
		RelationshipPairID: r.RelationshipPairID,
		DataSourceID:       r.DataSourceID,
		ImportDataID:       r.ImportDataID,
		DataStagingID:      r.DataStagingID,
		OriginID:           r.OriginID,
		DestinationID:      r.DestinationID,
		OriginOriginalID:   r.OriginOriginalID,
		OriginDataSourceID: r.OriginDataSourceID,
		OriginMetatypeID:   r.OriginMetatypeID,
		DestOriginalID:     r.DestOriginalID,
		DestDataSourceID:   r.DestDataSourceID,
		DestMetatypeID:     r.DestMetatypeID,
		Properties:         r.Properties,
		MetadataProps:      r.MetadataProps,
		Metadata:           r.Metadata,
		Parameters:         r.Parameters,
	}
	if r.CreatedAt != nil {
		e.CreatedAt = *r.CreatedAt
	}
	if e.Properties == nil {
		e.Properties = map[string]any{}
	}
	return e
}

// BulkCreateEdgesRequest is the request body for a bulk edge save.
type BulkCreateEdgesRequest struct {
	Edges []CreateEdgeRequest `json:"edges" validate:"required,dive"`
}

// UpdateEdgeRequest addresses one revision of an edge. Writing to an existing
// (id, created_at) corrects that revision in place.
type UpdateEdgeRequest struct {
	RelationshipPairID string         `json:"relationship_pair_id" validate:"required"`
	DataSourceID       string         `json:"data_source_id,omitempty"`
	OriginID           string         `json:"origin_id" validate:"required"`
	DestinationID      string         `json:"destination_id" validate:"required"`
	Properties         map[string]any `json:"properties"`
	MetadataProps      map[string]any `json:"metadata_properties,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          *time.Time     `json:"created_at,omitempty"`
}

// SearchRequest carries list filters that do not fit in query strings,
// chiefly property predicates.
type SearchRequest struct {
	MetatypeID         string           `json:"metatype_id,omitempty"`
	RelationshipPairID string           `json:"relationship_pair_id,omitempty"`
	DataSourceID       string           `json:"data_source_id,omitempty"`
	OriginalDataID     string           `json:"original_data_id,omitempty"`
	OriginID           string           `json:"origin_id,omitempty"`
	DestinationID      string           `json:"destination_id,omitempty"`
	PropertyFilters    []PropertyFilter `json:"property_filters,omitempty"`
	Limit              int              `json:"limit,omitempty"`
	Offset             int              `json:"offset,omitempty"`
}

// ListResponse is the paged list envelope.
type ListResponse[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// CountResponse reports a row count.
type CountResponse struct {
	Count int64 `json:"count"`
}
