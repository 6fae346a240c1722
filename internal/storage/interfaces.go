// Package storage provides composable storage interfaces for the Lorekeeper
// entity cache.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed, allowing alternative
// backends behind the same contracts.
package storage

import (
	"context"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// EntityStore provides durable keyed storage per entity type with point
// lookup and predicate-based scan. Reads are safe to run concurrently;
// writes are serialized per collection by the implementation.
type EntityStore interface {
	// Get retrieves an entity by type and slug.
	// Returns ErrNotFound if the entity doesn't exist and ErrValidation
	// for an unknown entity type.
	Get(ctx context.Context, entityType types.EntityType, slug string) (*types.Entity, error)

	// PutMany upserts a batch of entities of one type and returns the
	// number of records written. On slug conflict the existing row is
	// overwritten, preserving its created_at. Within a batch the last
	// record wins for a duplicated slug. The whole batch is applied in a
	// single transaction; concurrent PutMany calls to the same type are
	// serialized.
	PutMany(ctx context.Context, entityType types.EntityType, entities []*types.Entity) (int, error)

	// Scan returns at most limit entities matching the predicate, in a
	// stable order. The limit is enforced at the storage layer, never by
	// post-filtering in a caller. limit <= 0 means no limit.
	Scan(ctx context.Context, entityType types.EntityType, pred Predicate, limit int) ([]*types.Entity, error)

	// Count returns the number of entities of the given type.
	Count(ctx context.Context, entityType types.EntityType) (int, error)

	// Stats returns per-type counts, the on-disk size, and the schema
	// version.
	Stats(ctx context.Context) (*Stats, error)

	// Purge hard-deletes a single entity. Entities are never deleted
	// automatically; this exists for external operators only.
	Purge(ctx context.Context, entityType types.EntityType, slug string) error

	// Close releases the underlying storage handle.
	Close() error
}

// VectorProvider exposes the stored embeddings needed by the hybrid search
// layer. Implementations may push the structural predicate down to the
// index instead of materializing the full candidate set.
type VectorProvider interface {
	// VectorCandidates returns entities of the given type that match the
	// predicate and carry an embedding, with the embedding decoded. At
	// most max rows are returned; max <= 0 means no cap.
	VectorCandidates(ctx context.Context, entityType types.EntityType, pred Predicate, max int) ([]*types.Entity, error)
}
