package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/api/mcp"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/cache"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/ingest"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/query"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage/sqlite"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// stubFetcher serves canned records keyed by entity type.
type stubFetcher struct {
	records map[types.EntityType][]map[string]interface{}
	err     error
}

func (f *stubFetcher) Fetch(_ context.Context, entityType types.EntityType, _ map[string]interface{}) ([]map[string]interface{}, types.SourceAPI, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.records[entityType], types.SourceOpen5e, nil
}

func newTestServer(t *testing.T, fetcher cache.Fetcher, opts ...mcp.ServerOption) *mcp.Server {
	t.Helper()

	store, err := sqlite.NewEntityStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := query.NewEngine(store, nil)
	pipeline := ingest.NewPipeline(nil, nil)
	if fetcher == nil {
		fetcher = &stubFetcher{}
	}
	orch := cache.NewOrchestrator(store, engine, pipeline, fetcher, cache.Config{}, nil)
	return mcp.NewServer(orch, opts...)
}

func dispatch(t *testing.T, srv *mcp.Server, request string) map[string]interface{} {
	t.Helper()

	resp, err := srv.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	require.NotNil(t, resp)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(resp, &decoded))
	return decoded
}

// callTool dispatches a tools/call request and decodes the text content of
// the result into a map.
func callTool(t *testing.T, srv *mcp.Server, tool string, arguments map[string]interface{}) (map[string]interface{}, bool) {
	t.Helper()

	params := map[string]interface{}{"name": tool, "arguments": arguments}
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)

	req := fmt.Sprintf(`{"jsonrpc":"2.0","method":"tools/call","params":%s,"id":1}`, paramsJSON)
	decoded := dispatch(t, srv, req)
	require.NotContains(t, decoded, "error")

	result := decoded["result"].(map[string]interface{})
	isError, _ := result["isError"].(bool)

	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)

	if isError {
		return map[string]interface{}{"message": text}, true
	}
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload, false
}

func TestInitializeHandshake(t *testing.T) {
	srv := newTestServer(t, nil)

	decoded := dispatch(t, srv, `{"jsonrpc":"2.0","method":"initialize","params":{},"id":1}`)
	require.NotContains(t, decoded, "error")

	result := decoded["result"].(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "lorekeeper", info["name"])
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t, nil)

	decoded := dispatch(t, srv, `{"jsonrpc":"2.0","method":"tools/list","id":2}`)
	result := decoded["result"].(map[string]interface{})
	tools := result["tools"].([]interface{})

	names := make(map[string]bool)
	for _, raw := range tools {
		tool := raw.(map[string]interface{})
		names[tool["name"].(string)] = true
		assert.NotEmpty(t, tool["description"])
		assert.NotNil(t, tool["inputSchema"])
	}
	for _, want := range []string{"lookup_entity", "query_entities", "semantic_search", "store_entities", "get_stats", "refresh_entities"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestParseError(t *testing.T) {
	srv := newTestServer(t, nil)

	decoded := dispatch(t, srv, `{not json`)
	errObj := decoded["error"].(map[string]interface{})
	assert.EqualValues(t, -32700, errObj["code"])
}

func TestInvalidVersion(t *testing.T) {
	srv := newTestServer(t, nil)

	decoded := dispatch(t, srv, `{"jsonrpc":"1.0","method":"tools/list","id":1}`)
	errObj := decoded["error"].(map[string]interface{})
	assert.EqualValues(t, -32600, errObj["code"])
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	decoded := dispatch(t, srv, `{"jsonrpc":"2.0","method":"no/such/method","id":1}`)
	errObj := decoded["error"].(map[string]interface{})
	assert.EqualValues(t, -32601, errObj["code"])
}

func TestUnknownToolIsToolError(t *testing.T) {
	srv := newTestServer(t, nil)

	payload, isErr := callTool(t, srv, "summon_demon", nil)
	assert.True(t, isErr)
	assert.Contains(t, payload["message"], "unknown tool")
}

func TestLookupEntityMissReturnsNotFound(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{})

	payload, isErr := callTool(t, srv, "lookup_entity", map[string]interface{}{
		"entity_type": "spell",
		"slug":        "nonexistent",
	})
	require.False(t, isErr)
	assert.False(t, payload["found"].(bool))
}

func TestLookupEntityFetchesOnMiss(t *testing.T) {
	fetcher := &stubFetcher{records: map[types.EntityType][]map[string]interface{}{
		types.EntityTypeSpell: {
			{"slug": "fireball", "name": "Fireball", "level": 3},
		},
	}}
	srv := newTestServer(t, fetcher)

	payload, isErr := callTool(t, srv, "lookup_entity", map[string]interface{}{
		"entity_type": "spell",
		"slug":        "fireball",
	})
	require.False(t, isErr)
	require.True(t, payload["found"].(bool))

	entity := payload["entity"].(map[string]interface{})
	assert.Equal(t, "fireball", entity["slug"])
	assert.Equal(t, "Fireball", entity["name"])
}

func TestLookupEntityMissingArgs(t *testing.T) {
	srv := newTestServer(t, nil)

	payload, isErr := callTool(t, srv, "lookup_entity", map[string]interface{}{
		"entity_type": "spell",
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["message"], "required")
}

func TestQueryEntitiesWithFilters(t *testing.T) {
	fetcher := &stubFetcher{records: map[types.EntityType][]map[string]interface{}{
		types.EntityTypeSpell: {
			{"slug": "fireball", "name": "Fireball", "level": 3},
			{"slug": "fire-bolt", "name": "Fire Bolt", "level": 0},
			{"slug": "ice-storm", "name": "Ice Storm", "level": 4},
		},
	}}
	srv := newTestServer(t, fetcher)

	payload, isErr := callTool(t, srv, "query_entities", map[string]interface{}{
		"entity_type": "spell",
		"filters":     map[string]interface{}{"name": "fire*"},
	})
	require.False(t, isErr)
	assert.EqualValues(t, 2, payload["total"])
}

func TestQueryEntitiesUnknownFilterIsToolError(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{})

	payload, isErr := callTool(t, srv, "query_entities", map[string]interface{}{
		"entity_type": "spell",
		"filters":     map[string]interface{}{"no_such_field": 1},
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["message"], "no_such_field")
}

func TestQueryEntitiesBadModeIsToolError(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{})

	payload, isErr := callTool(t, srv, "query_entities", map[string]interface{}{
		"entity_type": "spell",
		"mode":        "yolo",
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["message"], "yolo")
}

func TestSemanticSearchDisabled(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{})

	payload, isErr := callTool(t, srv, "semantic_search", map[string]interface{}{
		"entity_type": "spell",
		"query":       "area fire damage",
	})
	assert.True(t, isErr)
	assert.Contains(t, payload["message"], "not enabled")
}

func TestStoreEntitiesAndStats(t *testing.T) {
	srv := newTestServer(t, &stubFetcher{})

	payload, isErr := callTool(t, srv, "store_entities", map[string]interface{}{
		"entity_type": "spell",
		"records": []map[string]interface{}{
			{"slug": "homebrew-blast", "name": "Homebrew Blast", "level": 2},
			{"name": "No Slug Spell"},
		},
	})
	require.False(t, isErr)
	assert.EqualValues(t, 2, payload["stored"])

	stats, isErr := callTool(t, srv, "get_stats", nil)
	require.False(t, isErr)
	counts := stats["counts"].(map[string]interface{})
	assert.EqualValues(t, 2, counts["spell"])
	assert.EqualValues(t, 2, stats["total_entities"])
}

func TestRefreshEntities(t *testing.T) {
	fetcher := &stubFetcher{records: map[types.EntityType][]map[string]interface{}{
		types.EntityTypeCreature: {
			{"slug": "goblin", "name": "Goblin"},
			{"slug": "ogre", "name": "Ogre"},
		},
	}}
	srv := newTestServer(t, fetcher)

	payload, isErr := callTool(t, srv, "refresh_entities", map[string]interface{}{
		"entity_type": "creature",
	})
	require.False(t, isErr)
	assert.EqualValues(t, 2, payload["refreshed"])
}
