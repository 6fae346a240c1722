// Package search ranks structurally filtered entities by semantic
// similarity to a free-text query. The layer is optional: without an
// embedding generator, or when embedding fails, it degrades to plain
// structural filtering.
package search

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/embedding"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/query"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Searcher performs hybrid structural plus semantic search.
type Searcher struct {
	vectors  storage.VectorProvider
	engine   *query.Engine
	embedder embedding.Generator
	log      *zap.Logger
}

// NewSearcher wires the hybrid layer. A nil embedder pins the searcher to
// structural-only results.
func NewSearcher(vectors storage.VectorProvider, engine *query.Engine, embedder embedding.Generator, log *zap.Logger) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{vectors: vectors, engine: engine, embedder: embedder, log: log}
}

// Search applies the structural filters, then ranks candidates by cosine
// similarity to queryText. Scores are normalized into [0,1]. An empty
// query text, a missing embedder, or an embedding failure all yield
// structural results without scores.
func (s *Searcher) Search(ctx context.Context, entityType types.EntityType, queryText string, filters map[string]interface{}, limit int) ([]types.ScoredEntity, error) {
	if queryText == "" || s.embedder == nil {
		return s.structural(ctx, entityType, filters, limit)
	}

	input, truncated := embedding.Truncate(s.embedder, queryText)
	if truncated {
		s.log.Warn("query text truncated for embedding",
			zap.String("entity_type", string(entityType)),
			zap.Int("max_runes", s.embedder.MaxInputRunes()))
	}

	queryVec, err := s.embedder.Embed(ctx, input)
	if err != nil {
		s.log.Warn("query embedding failed, degrading to structural search",
			zap.String("entity_type", string(entityType)),
			zap.Error(err))
		return s.structural(ctx, entityType, filters, limit)
	}

	pred, _, err := s.engine.BuildPredicate(entityType, filters)
	if err != nil {
		return nil, err
	}

	candidates, err := s.vectors.VectorCandidates(ctx, entityType, pred, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		// A store populated before embeddings were enabled has matching
		// rows without vectors; serve them unranked.
		s.log.Debug("no embedded candidates, degrading to structural search",
			zap.String("entity_type", string(entityType)))
		return s.structural(ctx, entityType, filters, limit)
	}

	scored := make([]types.ScoredEntity, 0, len(candidates))
	for _, e := range candidates {
		sim, ok := cosineSimilarity(queryVec, e.Embedding)
		if !ok {
			s.log.Warn("skipping candidate with incompatible embedding",
				zap.String("entity_type", string(entityType)),
				zap.String("slug", e.Slug))
			continue
		}
		score := (sim + 1) / 2
		scored = append(scored, types.ScoredEntity{Entity: e, Score: &score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].Score > *scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// structural runs the plain query engine and wraps results without
// similarity scores.
func (s *Searcher) structural(ctx context.Context, entityType types.EntityType, filters map[string]interface{}, limit int) ([]types.ScoredEntity, error) {
	entities, err := s.engine.Query(ctx, entityType, filters, limit)
	if err != nil {
		return nil, err
	}
	results := make([]types.ScoredEntity, 0, len(entities))
	for _, e := range entities {
		results = append(results, types.ScoredEntity{Entity: e})
	}
	return results, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// Returns false for mismatched dimensions or zero-magnitude vectors.
func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
