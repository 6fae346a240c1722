// Package query translates caller-supplied filters into store predicates
// with uniform matching semantics across entity types.
package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Engine evaluates filter maps against the entity store.
type Engine struct {
	store storage.EntityStore
	log   *zap.Logger
}

// NewEngine creates a query engine over the given store.
func NewEngine(store storage.EntityStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, log: log}
}

// Wildcard is the marker callers embed in a name filter to request a
// partial match.
const Wildcard = "*"

// rangeSuffixes map filter-key suffixes to comparison operators.
var rangeSuffixes = []struct {
	suffix string
	op     storage.Op
}{
	{"__gte", storage.OpGte},
	{"__lte", storage.OpLte},
}

// Query evaluates filters against the store. The name filter supports
// wildcard and exact matching; an exact name match that yields zero rows
// is retried once as an exact slug match. All other filters AND-combine
// over the type's indexed fields; an unknown field is a validation error.
func (e *Engine) Query(ctx context.Context, entityType types.EntityType, filters map[string]interface{}, limit int) ([]*types.Entity, error) {
	pred, exactName, err := e.BuildPredicate(entityType, filters)
	if err != nil {
		return nil, err
	}

	results, err := e.store.Scan(ctx, entityType, pred, limit)
	if err != nil {
		return nil, err
	}

	// An exact name that matched nothing may actually be a slug the caller
	// pasted from a previous result. Retry transparently.
	if len(results) == 0 && exactName != "" {
		slugPred, _, err := e.buildPredicate(entityType, filters, true)
		if err != nil {
			return nil, err
		}
		results, err = e.store.Scan(ctx, entityType, slugPred, limit)
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

// BuildPredicate translates filters into a store predicate without
// evaluating it. The second return value is the exact-match name filter
// value, if any, for callers that implement the slug fallback themselves.
func (e *Engine) BuildPredicate(entityType types.EntityType, filters map[string]interface{}) (storage.Predicate, string, error) {
	return e.buildPredicate(entityType, filters, false)
}

func (e *Engine) buildPredicate(entityType types.EntityType, filters map[string]interface{}, nameAsSlug bool) (storage.Predicate, string, error) {
	if !types.IsValidEntityType(entityType) {
		return storage.Predicate{}, "", fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	var pred storage.Predicate
	var exactName string

	for key, value := range filters {
		if key == "name" {
			nameValue, ok := value.(string)
			if !ok || nameValue == "" {
				return storage.Predicate{}, "", fmt.Errorf("%w: name filter must be a non-empty string", storage.ErrValidation)
			}
			cond, exact, err := nameCondition(nameValue, nameAsSlug)
			if err != nil {
				return storage.Predicate{}, "", err
			}
			pred.Conditions = append(pred.Conditions, cond)
			exactName = exact
			continue
		}

		field, op := splitRangeKey(key)
		spec, ok := types.IndexedFieldSpec(entityType, field)
		if !ok {
			return storage.Predicate{}, "", fmt.Errorf("%w: unknown filter field %q for entity type %q", storage.ErrValidation, field, entityType)
		}
		if op != storage.OpEq && spec.Kind != types.FieldInt && spec.Kind != types.FieldFloat {
			return storage.Predicate{}, "", fmt.Errorf("%w: range filter %q requires a numeric field", storage.ErrValidation, key)
		}

		pred = pred.And(field, op, value)
	}

	return pred, exactName, nil
}

// nameCondition translates a name filter value into a store condition.
// Wildcards are recognized at the edges only: leading, trailing, or both
// select suffix, prefix, or contains matching; a value without wildcards is
// an exact case-insensitive match. An interior wildcard has no defined
// matching semantics and is rejected. The second return value carries the
// exact value when the slug fallback applies.
func nameCondition(value string, asSlug bool) (storage.Condition, string, error) {
	hasPrefix := strings.HasPrefix(value, Wildcard)
	hasSuffix := strings.HasSuffix(value, Wildcard)
	inner := strings.Trim(value, Wildcard)

	switch {
	case strings.Contains(inner, Wildcard):
		return storage.Condition{}, "", fmt.Errorf("%w: name filter %q: wildcards are supported only at the start or end", storage.ErrValidation, value)
	case hasPrefix && hasSuffix:
		return storage.Condition{Field: "name", Op: storage.OpContains, Value: inner}, "", nil
	case hasSuffix:
		return storage.Condition{Field: "name", Op: storage.OpPrefix, Value: inner}, "", nil
	case hasPrefix:
		return storage.Condition{Field: "name", Op: storage.OpSuffix, Value: inner}, "", nil
	case asSlug:
		return storage.Condition{Field: "slug", Op: storage.OpEq, Value: value}, value, nil
	default:
		return storage.Condition{Field: "name", Op: storage.OpEq, Value: value}, value, nil
	}
}

// splitRangeKey strips a recognized range suffix from a filter key and
// returns the bare field name with its operator.
func splitRangeKey(key string) (string, storage.Op) {
	for _, rs := range rangeSuffixes {
		if strings.HasSuffix(key, rs.suffix) {
			return strings.TrimSuffix(key, rs.suffix), rs.op
		}
	}
	return key, storage.OpEq
}
