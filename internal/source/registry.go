package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Registry routes fetches to upstream clients in priority order. When the
// preferred client for a type fails with a network-classified error, the
// next client that supports the type is tried; API errors stop the chain
// immediately.
type Registry struct {
	fetchers []Fetcher
	log      *zap.Logger
}

// NewRegistry creates a registry over the given fetchers, in priority
// order.
func NewRegistry(log *zap.Logger, fetchers ...Fetcher) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{fetchers: fetchers, log: log}
}

// Source identifies the registry by its highest-priority fetcher.
func (r *Registry) Source() types.SourceAPI {
	if len(r.fetchers) > 0 {
		return r.fetchers[0].Source()
	}
	return ""
}

// Supports reports whether any registered fetcher serves the type.
func (r *Registry) Supports(entityType types.EntityType) bool {
	for _, f := range r.fetchers {
		if f.Supports(entityType) {
			return true
		}
	}
	return false
}

// FetcherFor returns the highest-priority fetcher for the type.
func (r *Registry) FetcherFor(entityType types.EntityType) (Fetcher, bool) {
	for _, f := range r.fetchers {
		if f.Supports(entityType) {
			return f, true
		}
	}
	return nil, false
}

// Fetch tries each fetcher supporting the type in order and reports which
// source produced the records. Network failures advance to the next
// fetcher; any other error propagates.
func (r *Registry) Fetch(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]map[string]interface{}, types.SourceAPI, error) {
	var lastErr error
	tried := 0

	for _, f := range r.fetchers {
		if !f.Supports(entityType) {
			continue
		}
		tried++

		records, err := f.Fetch(ctx, entityType, filters)
		if err == nil {
			return records, f.Source(), nil
		}
		if !IsNetworkError(err) {
			return nil, f.Source(), err
		}

		r.log.Warn("fetcher unreachable, trying next",
			zap.String("source_api", string(f.Source())),
			zap.String("entity_type", string(entityType)),
			zap.Error(err))
		lastErr = err
	}

	if tried == 0 {
		return nil, "", &APIError{Message: fmt.Sprintf("no fetcher supports entity type %q", entityType)}
	}
	return nil, "", lastErr
}
