package sqlite

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Ensure *EntityStore implements both store interfaces at compile time.
var (
	_ storage.EntityStore    = (*EntityStore)(nil)
	_ storage.VectorProvider = (*EntityStore)(nil)
)

// Scan returns at most limit entities matching the predicate. The LIMIT is
// part of the SQL statement, so the store never over-fetches. Results are
// ordered by name then slug for a stable order.
func (s *EntityStore) Scan(ctx context.Context, entityType types.EntityType, pred storage.Predicate, limit int) ([]*types.Entity, error) {
	if !types.IsValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	where, args, err := buildWhere(entityType, pred)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means unlimited
	}
	args = append(args, limit)

	query := `SELECT ` + entityColumns + ` FROM entities ` + where +
		` ORDER BY name COLLATE NOCASE ASC, slug ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scan entities: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", storage.ErrStoreUnavailable, err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan rows: %v", storage.ErrStoreUnavailable, err)
	}

	return entities, nil
}

// VectorCandidates returns entities matching the predicate that carry an
// embedding, with the embedding decoded. The structural predicate is pushed
// down into SQL rather than materializing the full collection.
func (s *EntityStore) VectorCandidates(ctx context.Context, entityType types.EntityType, pred storage.Predicate, max int) ([]*types.Entity, error) {
	if !types.IsValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	where, args, err := buildWhere(entityType, pred)
	if err != nil {
		return nil, err
	}
	where += " AND embedding IS NOT NULL"

	if max <= 0 {
		max = -1
	}
	args = append(args, max)

	query := `SELECT ` + entityColumns + `, embedding, embedding_dim FROM entities ` + where +
		` ORDER BY name COLLATE NOCASE ASC, slug ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector candidates: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		e, blob, dim, err := scanEntityWithEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: vector candidate row: %v", storage.ErrStoreUnavailable, err)
		}
		emb, err := decodeEmbedding(blob, dim)
		if err != nil {
			// A corrupt embedding should not sink the whole search;
			// the row simply drops out of the candidate set.
			s.log.Warn("skipping entity with undecodable embedding",
				zap.String("entity_type", string(entityType)),
				zap.String("slug", e.Slug),
				zap.Error(err))
			continue
		}
		e.Embedding = emb
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector candidate rows: %v", storage.ErrStoreUnavailable, err)
	}

	return entities, nil
}

// buildWhere translates a predicate into a WHERE clause. Indexed fields are
// addressed via json_extract over the indexed_fields column; name, slug and
// document_key map to real columns. Field names come from the query
// engine's whitelist validation, never raw caller input, but they are still
// interpolated only through jsonPath below.
func buildWhere(entityType types.EntityType, pred storage.Predicate) (string, []interface{}, error) {
	conditions := []string{"entity_type = ?"}
	args := []interface{}{entityType}

	for _, c := range pred.Conditions {
		switch c.Field {
		case "name":
			clause, arg, err := nameCondition(c)
			if err != nil {
				return "", nil, err
			}
			conditions = append(conditions, clause)
			args = append(args, arg)

		case "slug":
			if c.Op != storage.OpEq {
				return "", nil, fmt.Errorf("%w: operator %q not valid for slug", storage.ErrValidation, c.Op)
			}
			conditions = append(conditions, "slug = ? COLLATE NOCASE")
			args = append(args, c.Value)

		case "document_key":
			if c.Op != storage.OpEq {
				return "", nil, fmt.Errorf("%w: operator %q not valid for document_key", storage.ErrValidation, c.Op)
			}
			conditions = append(conditions, "document_key = ?")
			args = append(args, c.Value)

		default:
			op, err := sqlOp(c.Op)
			if err != nil {
				return "", nil, err
			}
			conditions = append(conditions, fmt.Sprintf("json_extract(indexed_fields, '%s') %s ?", jsonPath(c.Field), op))
			args = append(args, normalizeArg(c.Value))
		}
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

// nameCondition builds the match clause for the name pseudo-field. SQLite's
// LIKE is case-insensitive for ASCII, which matches the case-insensitive
// contract for name matching.
func nameCondition(c storage.Condition) (string, interface{}, error) {
	value, ok := c.Value.(string)
	if !ok {
		return "", nil, fmt.Errorf("%w: name filter must be a string", storage.ErrValidation)
	}

	escaped := escapeLike(value)
	switch c.Op {
	case storage.OpEq:
		return "name = ? COLLATE NOCASE", value, nil
	case storage.OpPrefix:
		return `name LIKE ? ESCAPE '\'`, escaped + "%", nil
	case storage.OpSuffix:
		return `name LIKE ? ESCAPE '\'`, "%" + escaped, nil
	case storage.OpContains:
		return `name LIKE ? ESCAPE '\'`, "%" + escaped + "%", nil
	default:
		return "", nil, fmt.Errorf("%w: operator %q not valid for name", storage.ErrValidation, c.Op)
	}
}

// sqlOp maps a predicate operator to its SQL comparison for indexed fields.
func sqlOp(op storage.Op) (string, error) {
	switch op {
	case storage.OpEq:
		return "=", nil
	case storage.OpGte:
		return ">=", nil
	case storage.OpLte:
		return "<=", nil
	default:
		return "", fmt.Errorf("%w: operator %q not valid for indexed fields", storage.ErrValidation, op)
	}
}

// jsonPath builds the json_extract path for an indexed field. Field names
// are whitelisted upstream, but quotes are stripped anyway so a bad name
// cannot break out of the path literal.
func jsonPath(field string) string {
	field = strings.NewReplacer(`"`, ``, `'`, ``, `$`, ``).Replace(field)
	return `$."` + field + `"`
}

// normalizeArg converts bool filter values to the 0/1 integers that
// json_extract yields for JSON booleans.
func normalizeArg(v interface{}) interface{} {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// escapeLike escapes LIKE wildcards in user-supplied match text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
