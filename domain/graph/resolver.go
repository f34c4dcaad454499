package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/basalt-works/basalt/domain/snapshot"
	"github.com/basalt-works/basalt/pkg/apperror"
	"github.com/basalt-works/basalt/pkg/logger"
)

// Resolver turns template edges into concrete ones. Endpoint predicates are
// evaluated against the in-memory snapshot when possible, predicates the
// snapshot cannot answer (property lookups, like) drop to a relational scan
// narrowed by the snapshot's candidates.
type Resolver struct {
	db     bun.IDB
	loader *snapshot.Loader
	log    *slog.Logger
}

func NewResolver(db bun.IDB, loader *snapshot.Loader, log *slog.Logger) *Resolver {
	return &Resolver{
		db:     db,
		loader: loader,
		log:    log.With(logger.Scope("graph.resolver")),
	}
}

// endpointRef carries the matched node plus the identity columns that are
// denormalized onto the edge row.
type endpointRef struct {
	ID             string `bun:"id"`
	MetatypeID     string `bun:"metatype_id"`
	OriginalDataID string `bun:"original_data_id"`
	DataSourceID   string `bun:"data_source_id"`
}

// PopulateFromParameters resolves the endpoints of a template edge and
// returns one concrete edge per origin and destination combination.
// Resolution per endpoint, first match wins:
//
//  1. an explicit endpoint id on the edge
//  2. endpoint parameters, evaluated against current nodes
//  3. the denormalized composite identity columns on the edge
//
// A selector that matches zero current nodes on either side yields zero
// edges, not an error; the cross product over an empty set is empty. A
// filter that matched zero nodes is still a miss, not an absent filter.
func (r *Resolver) PopulateFromParameters(ctx context.Context, edge *Edge) ([]*Edge, error) {
	origins, err := r.resolveEndpoint(ctx, edge, EndpointOrigin)
	if err != nil {
		return nil, err
	}
	destinations, err := r.resolveEndpoint(ctx, edge, EndpointDestination)
	if err != nil {
		return nil, err
	}

	if len(origins) == 0 || len(destinations) == 0 {
		r.log.Debug("edge template matched no endpoints",
			slog.Int("origins", len(origins)),
			slog.Int("destinations", len(destinations)),
		)
		return []*Edge{}, nil
	}

	resolved := make([]*Edge, 0, len(origins)*len(destinations))
	for _, o := range origins {
		for _, d := range destinations {
			out := *edge
			out.Parameters = nil
			out.OriginID = o.ID
			out.OriginOriginalID = o.OriginalDataID
			out.OriginDataSourceID = o.DataSourceID
			out.OriginMetatypeID = o.MetatypeID
			out.DestinationID = d.ID
			out.DestOriginalID = d.OriginalDataID
			out.DestDataSourceID = d.DataSourceID
			out.DestMetatypeID = d.MetatypeID
			resolved = append(resolved, &out)
		}
	}

	if len(resolved) > 1 {
		r.log.Debug("edge template expanded",
			slog.Int("origins", len(origins)),
			slog.Int("destinations", len(destinations)),
			slog.Int("edges", len(resolved)),
		)
	}
	return resolved, nil
}

func (r *Resolver) resolveEndpoint(ctx context.Context, edge *Edge, endpoint string) ([]endpointRef, error) {
	explicitID := edge.OriginID
	originalID, dataSourceID, metatypeID := edge.OriginOriginalID, edge.OriginDataSourceID, edge.OriginMetatypeID
	if endpoint == EndpointDestination {
		explicitID = edge.DestinationID
		originalID, dataSourceID, metatypeID = edge.DestOriginalID, edge.DestDataSourceID, edge.DestMetatypeID
	}

	if explicitID != "" {
		ref, err := r.lookupByID(ctx, edge.ContainerID, explicitID)
		if err != nil {
			return nil, err
		}
		return []endpointRef{ref}, nil
	}

	params := edge.endpointParameters(endpoint)
	if len(params) > 0 {
		return r.resolveByParameters(ctx, edge.ContainerID, params)
	}

	if originalID != "" && dataSourceID != "" {
		return r.lookupByIdentity(ctx, edge.ContainerID, originalID, dataSourceID, metatypeID)
	}

	return nil, apperror.NewValidation(
		fmt.Sprintf("edge %s endpoint has no id, parameters, or composite identity", endpoint))
}

func (e *Edge) endpointParameters(endpoint string) []EdgeParameter {
	var out []EdgeParameter
	for _, p := range e.Parameters {
		if p.Endpoint == endpoint {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resolver) lookupByID(ctx context.Context, containerID, id string) (endpointRef, error) {
	var ref endpointRef
	err := r.db.NewSelect().
		TableExpr("current_nodes").
		Column("id", "metatype_id", "original_data_id", "data_source_id").
		Where("container_id = ?", containerID).
		Where("id = ?", id).
		Scan(ctx, &ref)
	if err != nil {
		return ref, apperror.NewValidation(fmt.Sprintf("edge endpoint node %s is not a current node", id)).WithInternal(err)
	}
	return ref, nil
}

func (r *Resolver) lookupByIdentity(ctx context.Context, containerID, originalID, dataSourceID, metatypeID string) ([]endpointRef, error) {
	q := r.db.NewSelect().
		TableExpr("current_nodes_by_identity").
		Column("id", "metatype_id", "original_data_id", "data_source_id").
		Where("container_id = ?", containerID).
		Where("original_data_id = ?", originalID).
		Where("data_source_id = ?", dataSourceID)
	if metatypeID != "" {
		q = q.Where("metatype_id = ?", metatypeID)
	}

	var refs []endpointRef
	if err := q.Scan(ctx, &refs); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return refs, nil
}

func toSnapshotFilters(params []EdgeParameter) []snapshot.Filter {
	filters := make([]snapshot.Filter, len(params))
	for i, p := range params {
		filters[i] = snapshot.Filter{
			Key:      p.Key,
			Operator: p.Operator,
			Property: p.Property,
			Value:    p.Value,
		}
	}
	return filters
}

func (r *Resolver) resolveByParameters(ctx context.Context, containerID string, params []EdgeParameter) ([]endpointRef, error) {
	var fast, slow []EdgeParameter
	for _, p := range params {
		if snapshot.Supports(p.Key, p.Operator) {
			fast = append(fast, p)
		} else {
			slow = append(slow, p)
		}
	}

	var candidates []string
	if len(fast) > 0 {
		snap, err := r.loader.GetOrLoad(ctx, containerID)
		if err != nil {
			return nil, apperror.ErrDatabase.WithMessage("snapshot load failed").WithInternal(err)
		}
		candidates, err = snap.FindNodes(toSnapshotFilters(fast))
		if err != nil {
			// The snapshot refused a filter it advertised support for,
			// evaluate everything relationally instead.
			slow = params
			candidates = nil
		} else if len(candidates) == 0 {
			return nil, nil
		}
	}

	if len(slow) == 0 {
		return r.lookupRefs(ctx, containerID, candidates)
	}
	return r.scanByParameters(ctx, containerID, candidates, slow)
}

func (r *Resolver) lookupRefs(ctx context.Context, containerID string, ids []string) ([]endpointRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var refs []endpointRef
	err := r.db.NewSelect().
		TableExpr("current_nodes").
		Column("id", "metatype_id", "original_data_id", "data_source_id").
		Where("container_id = ?", containerID).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &refs)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return refs, nil
}

// scanByParameters evaluates parameters against the current_nodes view,
// narrowed to the snapshot's candidate ids when a fast pass ran first.
func (r *Resolver) scanByParameters(ctx context.Context, containerID string, candidates []string, params []EdgeParameter) ([]endpointRef, error) {
	q := r.db.NewSelect().
		TableExpr("current_nodes").
		Column("id", "metatype_id", "original_data_id", "data_source_id").
		Where("container_id = ?", containerID)
	if candidates != nil {
		q = q.Where("id IN (?)", bun.In(candidates))
	}

	for _, p := range params {
		column, err := parameterColumn(p)
		if err != nil {
			return nil, err
		}

		switch p.Operator {
		case snapshot.OperatorEq, "":
			q = q.Where(column+" = ?", fmt.Sprint(p.Value))
		case snapshot.OperatorNeq:
			q = q.Where(column+" != ?", fmt.Sprint(p.Value))
		case snapshot.OperatorLike:
			q = q.Where(column+" LIKE ?", fmt.Sprint(p.Value))
		case snapshot.OperatorIn:
			values := snapshot.SliceValue(p.Value)
			if len(values) == 0 {
				return nil, nil
			}
			q = q.Where(column+" IN (?)", bun.In(values))
		case "<", ">", "<=", ">=":
			if n, ok := numericValue(p.Value); ok {
				q = q.Where(fmt.Sprintf("(%s)::numeric %s ?", column, p.Operator), n)
			} else {
				q = q.Where(fmt.Sprintf("%s %s ?", column, p.Operator), fmt.Sprint(p.Value))
			}
		default:
			return nil, apperror.NewBadRequest(fmt.Sprintf("unsupported edge parameter operator %q", p.Operator))
		}
	}

	var refs []endpointRef
	if err := q.Scan(ctx, &refs); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return refs, nil
}

func parameterColumn(p EdgeParameter) (string, error) {
	switch p.Key {
	case snapshot.KeyID:
		return "id", nil
	case snapshot.KeyMetatypeID:
		return "metatype_id", nil
	case snapshot.KeyMetatypeName:
		return "metatype_name", nil
	case snapshot.KeyOriginalDataID:
		return "original_data_id", nil
	case snapshot.KeyDataSourceID:
		return "data_source_id", nil
	case snapshot.KeyProperty:
		if p.Property == "" {
			return "", apperror.NewBadRequest("property edge parameter needs a property name")
		}
		return fmt.Sprintf("properties ->> '%s'", sanitizePropertyName(p.Property)), nil
	default:
		return "", apperror.NewBadRequest(fmt.Sprintf("unknown edge parameter key %q", p.Key))
	}
}

// numericValue reports whether a filter value is a number. Comparisons on
// numbers cast the jsonb text through ::numeric so 9 < 10 holds; string
// values compare as text.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// sanitizePropertyName keeps property names safe for inlining into the jsonb
// accessor. Quotes are stripped rather than escaped, a property name with a
// quote in it matches nothing.
func sanitizePropertyName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '\'' || r == '"' || r == '\\' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
