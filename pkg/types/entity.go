package types

import "time"

// Entity is the unit of storage: one reference-data record of a fixed type,
// uniquely identified by (Type, Slug).
type Entity struct {
	// Core identification fields
	Type EntityType `json:"entity_type"` // Collection the entity belongs to
	Slug string     `json:"slug"`        // URL-safe primary key, unique within Type
	Name string     `json:"name"`        // Display name; not guaranteed unique

	// RawData is the full, opaque attribute set from the source record.
	// It is a superset of every other field; indexed fields are always
	// re-derived from it on ingestion and never edited independently.
	RawData map[string]interface{} `json:"raw_data"`

	// IndexedFields is the type-specific scalar subset of RawData extracted
	// at ingestion time to support efficient filtering (e.g. spell level,
	// creature challenge rating).
	IndexedFields map[string]interface{} `json:"indexed_fields,omitempty"`

	// Document is the provenance of the source publication.
	Document Document `json:"document"`

	// SourceAPI identifies which upstream integration produced the record.
	SourceAPI SourceAPI `json:"source_api"`

	// CreatedAt is set on first ingestion and preserved across re-ingestion
	// of the same slug. UpdatedAt advances on every upsert.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Embedding is a fixed-dimension vector computed from designated text
	// fields of RawData. Present only when the hybrid search layer is
	// enabled at ingestion time.
	Embedding []float64 `json:"embedding,omitempty"`
}

// ScoredEntity pairs an entity with its similarity score from a semantic
// search. Score is nil when the search degraded to structural-only
// filtering (empty query text, embeddings unavailable).
type ScoredEntity struct {
	Entity *Entity  `json:"entity"`
	Score  *float64 `json:"similarity_score,omitempty"`
}
