// Package graph implements the versioned property graph: node and edge
// revision records, the composite-identity write path, the staging pipeline,
// and edge parameter resolution.
package graph

import (
	"time"

	"github.com/uptrace/bun"
)

// Node is one revision of a node. Revisions are never overwritten: the pair
// (id, created_at) is the primary key and the newest non-deleted revision per
// logical identity is the current one.
type Node struct {
	bun.BaseModel `bun:"table:nodes,alias:n"`

	ID             string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID    string         `bun:"container_id,notnull,type:uuid" json:"container_id"`
	MetatypeID     string         `bun:"metatype_id,notnull,type:uuid" json:"metatype_id"`
	DataSourceID   string         `bun:"data_source_id,type:uuid,nullzero" json:"data_source_id,omitempty"`
	ImportDataID   string         `bun:"import_data_id,type:uuid,nullzero" json:"import_data_id,omitempty"`
	DataStagingID  string         `bun:"data_staging_id,type:uuid,nullzero" json:"data_staging_id,omitempty"`
	OriginalDataID string         `bun:"original_data_id,nullzero" json:"original_data_id,omitempty"`
	Properties     map[string]any `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	MetadataProps  map[string]any `bun:"metadata_properties,type:jsonb,nullzero" json:"metadata_properties,omitempty"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	CreatedAt      time.Time      `bun:"created_at,pk,notnull,default:now()" json:"created_at"`
	ModifiedAt     time.Time      `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt      *time.Time     `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
	CreatedBy      string         `bun:"created_by,nullzero" json:"created_by,omitempty"`
	ModifiedBy     string         `bun:"modified_by,nullzero" json:"modified_by,omitempty"`

	// Denormalized from the current view on reads.
	MetatypeName string `bun:"metatype_name,scanonly" json:"metatype_name,omitempty"`
	MetatypeUUID string `bun:"metatype_uuid,scanonly" json:"metatype_uuid,omitempty"`
}

// CompositeID is the logical identity of a node across revisions.
type CompositeID struct {
	ContainerID    string
	DataSourceID   string
	OriginalDataID string
	MetatypeID     string
}

// CompositeID returns the node's logical identity.
func (n *Node) CompositeID() CompositeID {
	return CompositeID{
		ContainerID:    n.ContainerID,
		DataSourceID:   n.DataSourceID,
		OriginalDataID: n.OriginalDataID,
		MetatypeID:     n.MetatypeID,
	}
}

// HasCompositeID reports whether the node carries the full logical identity
// needed for a composite upsert.
func (n *Node) HasCompositeID() bool {
	return n.OriginalDataID != "" && n.DataSourceID != "" && n.ContainerID != "" && n.MetatypeID != ""
}

// Edge is one revision of an edge. Endpoint identity is denormalized so an
// edge row can outlive endpoint re-ingestion and still name its endpoints.
type Edge struct {
	bun.BaseModel `bun:"table:edges,alias:e"`

	ID                 string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID        string         `bun:"container_id,notnull,type:uuid" json:"container_id"`
	RelationshipPairID string         `bun:"relationship_pair_id,notnull,type:uuid" json:"relationship_pair_id"`
	DataSourceID       string         `bun:"data_source_id,type:uuid,nullzero" json:"data_source_id,omitempty"`
	ImportDataID       string         `bun:"import_data_id,type:uuid,nullzero" json:"import_data_id,omitempty"`
	DataStagingID      string         `bun:"data_staging_id,type:uuid,nullzero" json:"data_staging_id,omitempty"`
	OriginID           string         `bun:"origin_id,type:uuid,nullzero" json:"origin_id,omitempty"`
	DestinationID      string         `bun:"destination_id,type:uuid,nullzero" json:"destination_id,omitempty"`
	OriginOriginalID   string         `bun:"origin_original_id,nullzero" json:"origin_original_id,omitempty"`
	OriginDataSourceID string         `bun:"origin_data_source_id,type:uuid,nullzero" json:"origin_data_source_id,omitempty"`
	OriginMetatypeID   string         `bun:"origin_metatype_id,type:uuid,nullzero" json:"origin_metatype_id,omitempty"`
	DestOriginalID     string         `bun:"destination_original_id,nullzero" json:"destination_original_id,omitempty"`
	DestDataSourceID   string         `bun:"destination_data_source_id,type:uuid,nullzero" json:"destination_data_source_id,omitempty"`
	DestMetatypeID     string         `bun:"destination_metatype_id,type:uuid,nullzero" json:"destination_metatype_id,omitempty"`
	Properties         map[string]any `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	MetadataProps      map[string]any `bun:"metadata_properties,type:jsonb,nullzero" json:"metadata_properties,omitempty"`
	Metadata           map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`
	CreatedAt          time.Time      `bun:"created_at,pk,notnull,default:now()" json:"created_at"`
	ModifiedAt         time.Time      `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt          *time.Time     `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
	CreatedBy          string         `bun:"created_by,nullzero" json:"created_by,omitempty"`
	ModifiedBy         string         `bun:"modified_by,nullzero" json:"modified_by,omitempty"`

	// Denormalized from the current view on reads.
	RelationshipID   string `bun:"relationship_id,scanonly" json:"relationship_id,omitempty"`
	RelationshipName string `bun:"relationship_name,scanonly" json:"relationship_name,omitempty"`
	RelationshipUUID string `bun:"relationship_uuid,scanonly" json:"relationship_uuid,omitempty"`

	// Parameters, when set, mark a template edge whose endpoints are
	// resolved against current nodes before writing.
	Parameters []EdgeParameter `bun:"-" json:"parameters,omitempty"`
}

// HasEndpoints reports whether both endpoint ids are set.
func (e *Edge) HasEndpoints() bool {
	return e.OriginID != "" && e.DestinationID != ""
}

// EdgeParameter is one endpoint predicate on a template edge.
type EdgeParameter struct {
	// Endpoint is "origin" or "destination".
	Endpoint string `json:"endpoint"`
	// Key names the node attribute: id, metatype_id, metatype_name,
	// original_data_id, data_source_id, or property.
	Key string `json:"key"`
	// Property carries the jsonb property name when Key is "property".
	Property string `json:"property,omitempty"`
	// Operator is eq, neq, in, or like.
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

const (
	EndpointOrigin      = "origin"
	EndpointDestination = "destination"
)

// NodeFile links a node revision chain to a file by id.
type NodeFile struct {
	bun.BaseModel `bun:"table:node_files,alias:nf"`

	NodeID    string    `bun:"node_id,pk,type:uuid" json:"node_id"`
	FileID    string    `bun:"file_id,pk,type:uuid" json:"file_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// EdgeFile links an edge revision chain to a file by id.
type EdgeFile struct {
	bun.BaseModel `bun:"table:edge_files,alias:ef"`

	EdgeID    string    `bun:"edge_id,pk,type:uuid" json:"edge_id"`
	FileID    string    `bun:"file_id,pk,type:uuid" json:"file_id"`
	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}

// NodeTransformation records which transformation produced a node.
type NodeTransformation struct {
	bun.BaseModel `bun:"table:node_transformations,alias:nt"`

	NodeID           string    `bun:"node_id,pk,type:uuid" json:"node_id"`
	TransformationID string    `bun:"transformation_id,pk,type:uuid" json:"transformation_id"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
}
