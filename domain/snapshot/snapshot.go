// Package snapshot keeps an in-memory index of the current nodes of a
// container. Edge parameter resolution consults it first and only falls back
// to a relational scan when the snapshot cannot answer a predicate.
package snapshot

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnsupportedOperator marks a predicate the snapshot cannot evaluate.
// Callers must treat it as "ask the database", never as an empty result.
var ErrUnsupportedOperator = errors.New("snapshot: unsupported operator")

// Filter keys the snapshot can evaluate.
const (
	KeyID             = "id"
	KeyMetatypeID     = "metatype_id"
	KeyMetatypeName   = "metatype_name"
	KeyOriginalDataID = "original_data_id"
	KeyDataSourceID   = "data_source_id"
	KeyProperty       = "property"
)

// Operators understood by filters. OperatorLike always forces the relational
// path, it is listed here so callers can name it.
const (
	OperatorEq   = "eq"
	OperatorNeq  = "neq"
	OperatorIn   = "in"
	OperatorLike = "like"
)

// Supports reports whether the snapshot can evaluate a predicate on the
// given key with the given operator. Property predicates and like always
// need the database.
func Supports(key, operator string) bool {
	if key == KeyProperty {
		return false
	}
	switch key {
	case KeyID, KeyMetatypeID, KeyMetatypeName, KeyOriginalDataID, KeyDataSourceID:
	default:
		return false
	}
	switch operator {
	case OperatorEq, OperatorNeq, OperatorIn:
		return true
	default:
		return false
	}
}

// SliceValue normalizes a filter value into a string slice, tolerating
// comma separated lists from query strings.
func SliceValue(v any) []string {
	return sliceValue(v)
}

// Filter is a single predicate against the node set.
type Filter struct {
	Key      string
	Operator string
	// Property carries the jsonb property name when Key is KeyProperty.
	Property string
	Value    any
}

// NodeRef is the slim projection of a current node revision the index keeps.
type NodeRef struct {
	ID             string
	MetatypeID     string
	MetatypeName   string
	OriginalDataID string
	DataSourceID   string
	CreatedAt      time.Time
}

// Snapshot is an immutable index over the current nodes of one container.
type Snapshot struct {
	containerID string
	loadedAt    time.Time
	nodes       []NodeRef
}

// New builds a snapshot from a node list.
func New(containerID string, nodes []NodeRef) *Snapshot {
	return &Snapshot{
		containerID: containerID,
		loadedAt:    time.Now(),
		nodes:       nodes,
	}
}

// ContainerID returns the container this snapshot indexes.
func (s *Snapshot) ContainerID() string { return s.containerID }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of indexed nodes.
func (s *Snapshot) Len() int { return len(s.nodes) }

// FindNodes returns the ids of nodes matching every filter. A filter the
// snapshot cannot evaluate returns ErrUnsupportedOperator; an empty id slice
// with a nil error genuinely means no node matched.
func (s *Snapshot) FindNodes(filters []Filter) ([]string, error) {
	for _, f := range filters {
		if f.Operator == OperatorLike {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, f.Operator)
		}
		if f.Key == KeyProperty {
			return nil, fmt.Errorf("%w: property predicates need the database", ErrUnsupportedOperator)
		}
		switch f.Operator {
		case OperatorEq, OperatorNeq, OperatorIn:
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, f.Operator)
		}
	}

	ids := make([]string, 0)
	for i := range s.nodes {
		if matchesAll(&s.nodes[i], filters) {
			ids = append(ids, s.nodes[i].ID)
		}
	}
	return ids, nil
}

func matchesAll(n *NodeRef, filters []Filter) bool {
	for _, f := range filters {
		if !matches(n, f) {
			return false
		}
	}
	return true
}

func matches(n *NodeRef, f Filter) bool {
	field := fieldValue(n, f.Key)

	switch f.Operator {
	case OperatorEq:
		return field == stringValue(f.Value)
	case OperatorNeq:
		return field != stringValue(f.Value)
	case OperatorIn:
		for _, candidate := range sliceValue(f.Value) {
			if field == candidate {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func fieldValue(n *NodeRef, key string) string {
	switch key {
	case KeyID:
		return n.ID
	case KeyMetatypeID:
		return n.MetatypeID
	case KeyMetatypeName:
		return n.MetatypeName
	case KeyOriginalDataID:
		return n.OriginalDataID
	case KeyDataSourceID:
		return n.DataSourceID
	default:
		return ""
	}
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func sliceValue(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, stringValue(item))
		}
		return out
	case string:
		// Tolerate comma separated lists from query strings.
		parts := strings.Split(vals, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return []string{stringValue(v)}
	}
}

// Cache holds the latest snapshot per container.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewCache creates an empty snapshot cache.
func NewCache() *Cache {
	return &Cache{snapshots: make(map[string]*Snapshot)}
}

// Get returns the cached snapshot for a container, or nil.
func (c *Cache) Get(containerID string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[containerID]
}

// Put stores a snapshot, replacing any previous one for the container.
func (c *Cache) Put(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[s.ContainerID()] = s
}

// Drop removes the cached snapshot for a container.
func (c *Cache) Drop(containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, containerID)
}
