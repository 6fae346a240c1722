// Package source fetches raw entity records from remote reference APIs.
// Each client normalizes nothing; it returns records as-is for the
// ingestion pipeline to canonicalize.
package source

import (
	"context"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Fetcher retrieves raw records for an entity type from one upstream API.
type Fetcher interface {
	// Fetch returns raw records matching the filters. Filters a source
	// cannot express upstream are ignored; the store-level query applies
	// them after ingestion. Failures are classified as *NetworkError or
	// *APIError.
	Fetch(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]map[string]interface{}, error)

	// Source identifies the upstream API.
	Source() types.SourceAPI

	// Supports reports whether this fetcher serves the given entity type.
	Supports(entityType types.EntityType) bool
}
