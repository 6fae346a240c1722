package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage/sqlite"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := sqlite.NewEntityStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	seed := []*types.Entity{
		{
			Type: types.EntityTypeSpell, Slug: "fireball", Name: "Fireball",
			RawData:       map[string]interface{}{"name": "Fireball"},
			IndexedFields: map[string]interface{}{"level": 3, "school": "evocation"},
			Document:      types.Document{Key: "srd"},
			SourceAPI:     types.SourceOpen5e,
		},
		{
			Type: types.EntityTypeSpell, Slug: "fire-bolt", Name: "Fire Bolt",
			RawData:       map[string]interface{}{"name": "Fire Bolt"},
			IndexedFields: map[string]interface{}{"level": 0, "school": "evocation"},
			Document:      types.Document{Key: "srd"},
			SourceAPI:     types.SourceOpen5e,
		},
		{
			Type: types.EntityTypeSpell, Slug: "melfs-acid-arrow", Name: "Melf's Acid Arrow",
			RawData:       map[string]interface{}{"name": "Melf's Acid Arrow"},
			IndexedFields: map[string]interface{}{"level": 2, "school": "evocation"},
			Document:      types.Document{Key: "srd"},
			SourceAPI:     types.SourceOpen5e,
		},
	}
	_, err = store.PutMany(context.Background(), types.EntityTypeSpell, seed)
	require.NoError(t, err)

	return NewEngine(store, nil)
}

func slugsOf(entities []*types.Entity) []string {
	var slugs []string
	for _, e := range entities {
		slugs = append(slugs, e.Slug)
	}
	return slugs
}

func TestQueryExactNameCaseInsensitive(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "FIREBALL"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fireball"}, slugsOf(got))
}

func TestQueryWildcardPrefix(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "fire*"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fire-bolt", "fireball"}, slugsOf(got))
}

func TestQueryWildcardSuffix(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "*bolt"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fire-bolt"}, slugsOf(got))
}

func TestQueryWildcardContains(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "*acid*"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"melfs-acid-arrow"}, slugsOf(got))
}

func TestQueryInteriorWildcardRejected(t *testing.T) {
	engine := newTestEngine(t)

	for _, name := range []string{"fi*re", "*fi*re*", "a*b*c"} {
		_, err := engine.Query(context.Background(), types.EntityTypeSpell,
			map[string]interface{}{"name": name}, 0)
		assert.ErrorIs(t, err, storage.ErrValidation, "name %q", name)
	}
}

// TestQuerySlugFallback verifies that an exact name filter matching no
// names is transparently retried as a slug match.
func TestQuerySlugFallback(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "melfs-acid-arrow"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"melfs-acid-arrow"}, slugsOf(got))
}

func TestQueryNoSlugFallbackForWildcards(t *testing.T) {
	engine := newTestEngine(t)

	// "melfs-acid-arrow*" matches no name; wildcard filters never fall
	// back to slug matching.
	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"name": "melfs-acid-arrow*"}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryIndexedFieldFilters(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	got, err := engine.Query(ctx, types.EntityTypeSpell,
		map[string]interface{}{"level": 0}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fire-bolt"}, slugsOf(got))

	got, err = engine.Query(ctx, types.EntityTypeSpell,
		map[string]interface{}{"level__gte": 2, "level__lte": 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fireball", "melfs-acid-arrow"}, slugsOf(got))

	got, err = engine.Query(ctx, types.EntityTypeSpell,
		map[string]interface{}{"school": "evocation", "level__gte": 1, "name": "fire*"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fireball"}, slugsOf(got))
}

func TestQueryDocumentKeyFilter(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"document_key": "srd"}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestQueryUnknownFilterField(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"challenge_rating": 3}, 0)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestQueryRangeOnNonNumericField(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{"school__gte": "a"}, 0)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestQueryLimit(t *testing.T) {
	engine := newTestEngine(t)

	got, err := engine.Query(context.Background(), types.EntityTypeSpell,
		map[string]interface{}{}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQueryInvalidEntityType(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Query(context.Background(), "bogus", nil, 0)
	assert.ErrorIs(t, err, storage.ErrValidation)
}
