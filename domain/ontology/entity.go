// Package ontology holds the container-scoped schema: metatypes with their
// key definitions, relationships, and the pairs that bind two metatypes
// through a relationship with a cardinality.
package ontology

import (
	"time"

	"github.com/uptrace/bun"
)

// Cardinality values carried by RelationshipPair.RelationshipType.
const (
	CardinalityOneToOne   = "one:one"
	CardinalityOneToMany  = "one:many"
	CardinalityManyToOne  = "many:one"
	CardinalityManyToMany = "many:many"
)

// Data types accepted by key definitions.
const (
	DataTypeString  = "string"
	DataTypeNumber  = "number"
	DataTypeBoolean = "boolean"
	DataTypeDate    = "date"
	DataTypeEnum    = "enumeration"
	DataTypeList    = "list"
	DataTypeUnknown = "unknown"
)

// Container is a tenant boundary. Everything else hangs off a container id.
type Container struct {
	bun.BaseModel `bun:"table:containers,alias:c"`

	ID          string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description,notnull,default:''" json:"description"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt  time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt   *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// DataSource identifies where ingested records come from.
type DataSource struct {
	bun.BaseModel `bun:"table:data_sources,alias:ds"`

	ID          string         `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID string         `bun:"container_id,notnull,type:uuid" json:"container_id"`
	Name        string         `bun:"name,notnull" json:"name"`
	AdapterType string         `bun:"adapter_type,notnull,default:'standard'" json:"adapter_type"`
	Active      bool           `bun:"active,notnull,default:true" json:"active"`
	Config      map[string]any `bun:"config,type:jsonb,default:'{}'" json:"config,omitempty"`
	CreatedAt   time.Time      `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt  time.Time      `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt   *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Metatype is a node class within a container.
type Metatype struct {
	bun.BaseModel `bun:"table:metatypes,alias:mt"`

	ID          string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID string     `bun:"container_id,notnull,type:uuid" json:"container_id"`
	UUID        string     `bun:"uuid,notnull,type:uuid,default:gen_random_uuid()" json:"uuid"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description,notnull,default:''" json:"description"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt  time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt   *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Keys []*MetatypeKey `bun:"rel:has-many,join:id=metatype_id" json:"keys,omitempty"`
}

// MetatypeKey defines a single property on a metatype.
type MetatypeKey struct {
	bun.BaseModel `bun:"table:metatype_keys,alias:mtk"`

	ID           string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	MetatypeID   string     `bun:"metatype_id,notnull,type:uuid" json:"metatype_id"`
	Name         string     `bun:"name,notnull" json:"name"`
	PropertyName string     `bun:"property_name,notnull" json:"property_name"`
	Description  string     `bun:"description,notnull,default:''" json:"description"`
	DataType     string     `bun:"data_type,notnull" json:"data_type"`
	Required     bool       `bun:"required,notnull,default:false" json:"required"`
	DefaultValue any        `bun:"default_value,type:jsonb,nullzero" json:"default_value,omitempty"`
	Options      []any      `bun:"options,type:jsonb,nullzero" json:"options,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt   time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt    *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// Relationship names a kind of connection, independent of endpoint types.
type Relationship struct {
	bun.BaseModel `bun:"table:relationships,alias:r"`

	ID          string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID string     `bun:"container_id,notnull,type:uuid" json:"container_id"`
	UUID        string     `bun:"uuid,notnull,type:uuid,default:gen_random_uuid()" json:"uuid"`
	Name        string     `bun:"name,notnull" json:"name"`
	Description string     `bun:"description,notnull,default:''" json:"description"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt  time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt   *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Keys []*RelationshipKey `bun:"rel:has-many,join:id=relationship_id" json:"keys,omitempty"`
}

// RelationshipKey defines a single property on a relationship.
type RelationshipKey struct {
	bun.BaseModel `bun:"table:relationship_keys,alias:rk"`

	ID             string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	RelationshipID string     `bun:"relationship_id,notnull,type:uuid" json:"relationship_id"`
	Name           string     `bun:"name,notnull" json:"name"`
	PropertyName   string     `bun:"property_name,notnull" json:"property_name"`
	Description    string     `bun:"description,notnull,default:''" json:"description"`
	DataType       string     `bun:"data_type,notnull" json:"data_type"`
	Required       bool       `bun:"required,notnull,default:false" json:"required"`
	DefaultValue   any        `bun:"default_value,type:jsonb,nullzero" json:"default_value,omitempty"`
	Options        []any      `bun:"options,type:jsonb,nullzero" json:"options,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt     time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// RelationshipPair binds an origin metatype to a destination metatype
// through a relationship, with a cardinality constraint.
type RelationshipPair struct {
	bun.BaseModel `bun:"table:relationship_pairs,alias:rp"`

	ID                    string     `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	ContainerID           string     `bun:"container_id,notnull,type:uuid" json:"container_id"`
	UUID                  string     `bun:"uuid,notnull,type:uuid,default:gen_random_uuid()" json:"uuid"`
	Name                  string     `bun:"name,notnull" json:"name"`
	RelationshipID        string     `bun:"relationship_id,notnull,type:uuid" json:"relationship_id"`
	OriginMetatypeID      string     `bun:"origin_metatype_id,notnull,type:uuid" json:"origin_metatype_id"`
	DestinationMetatypeID string     `bun:"destination_metatype_id,notnull,type:uuid" json:"destination_metatype_id"`
	RelationshipType      string     `bun:"relationship_type,notnull,default:'many:many'" json:"relationship_type"`
	CreatedAt             time.Time  `bun:"created_at,notnull,default:now()" json:"created_at"`
	ModifiedAt            time.Time  `bun:"modified_at,notnull,default:now()" json:"modified_at"`
	DeletedAt             *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Relationship *Relationship `bun:"rel:belongs-to,join:relationship_id=id" json:"relationship,omitempty"`
}
