package storage

import (
	"errors"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entity was not found.
	// A point-lookup miss is not an error condition for callers; they
	// translate it to an empty/optional result.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation indicates an invalid entity type or a filter field
	// that is not part of the type's indexed schema.
	ErrValidation = errors.New("validation error")

	// ErrStoreUnavailable indicates the underlying storage handle cannot
	// be used. Fatal: propagated to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Op is a comparison operator in a scan predicate.
type Op string

const (
	// OpEq is case-sensitive equality for indexed fields and
	// case-insensitive equality for the name and slug pseudo-fields.
	OpEq Op = "eq"

	// OpGte / OpLte are numeric range bounds over indexed fields.
	OpGte Op = "gte"
	OpLte Op = "lte"

	// OpPrefix, OpSuffix and OpContains are case-insensitive partial
	// matches, valid only against the name pseudo-field.
	OpPrefix   Op = "prefix"
	OpSuffix   Op = "suffix"
	OpContains Op = "contains"
)

// Condition is one comparison in a predicate. Field is either an indexed
// field name, "document_key", or one of the pseudo-fields "name" / "slug".
type Condition struct {
	Field string
	Op    Op
	Value interface{}
}

// Predicate is an AND-combination of conditions evaluated by the store
// during a scan. The zero value matches every entity of the scanned type.
type Predicate struct {
	Conditions []Condition
}

// And appends a condition and returns the predicate for chaining.
func (p Predicate) And(field string, op Op, value interface{}) Predicate {
	p.Conditions = append(p.Conditions, Condition{Field: field, Op: op, Value: value})
	return p
}

// Stats summarizes the contents of the store.
type Stats struct {
	// Counts holds the number of entities per type.
	Counts map[types.EntityType]int `json:"counts"`

	// TotalSizeBytes is the on-disk size of the database file.
	TotalSizeBytes int64 `json:"total_size_bytes"`

	// SchemaVersion identifies the store schema in use.
	SchemaVersion int `json:"schema_version"`
}
