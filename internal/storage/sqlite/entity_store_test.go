package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing.
func newTestStore(t *testing.T) *EntityStore {
	t.Helper()
	store, err := NewEntityStore(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func spell(slug, name string, level int) *types.Entity {
	return &types.Entity{
		Type: types.EntityTypeSpell,
		Slug: slug,
		Name: name,
		RawData: map[string]interface{}{
			"name":      name,
			"level_int": level,
		},
		IndexedFields: map[string]interface{}{
			"level":  level,
			"school": "evocation",
		},
		Document:  types.Document{Key: "srd", Name: "Systems Reference Document", Source: "open5e"},
		SourceAPI: types.SourceOpen5e,
	}
}

func TestPutManyAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{
		spell("fireball", "Fireball", 3),
		spell("acid-splash", "Acid Splash", 0),
	})
	if err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("PutMany() = %d, want 2", n)
	}

	got, err := store.Get(ctx, types.EntityTypeSpell, "fireball")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Fireball" {
		t.Errorf("Name = %q, want %q", got.Name, "Fireball")
	}
	if got.Document.Key != "srd" {
		t.Errorf("Document.Key = %q, want %q", got.Document.Key, "srd")
	}
	if got.SourceAPI != types.SourceOpen5e {
		t.Errorf("SourceAPI = %q, want %q", got.SourceAPI, types.SourceOpen5e)
	}
	if lvl, ok := got.IndexedFields["level"].(float64); !ok || lvl != 3 {
		t.Errorf("IndexedFields[level] = %v, want 3", got.IndexedFields["level"])
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), types.EntityTypeSpell, "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestInvalidEntityType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "bogus", "fireball"); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Get() error = %v, want ErrValidation", err)
	}
	if _, err := store.PutMany(ctx, "bogus", []*types.Entity{spell("x", "X", 1)}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("PutMany() error = %v, want ErrValidation", err)
	}
	if _, err := store.Scan(ctx, "bogus", storage.Predicate{}, 10); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Scan() error = %v, want ErrValidation", err)
	}
	if _, err := store.Count(ctx, "bogus"); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Count() error = %v, want ErrValidation", err)
	}
}

// TestIdempotentUpsert verifies that re-storing the same slug leaves
// exactly one row, preserves created_at, and advances updated_at.
func TestIdempotentUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{spell("fireball", "Fireball", 3)}); err != nil {
		t.Fatalf("first PutMany() failed: %v", err)
	}

	first, err := store.Get(ctx, types.EntityTypeSpell, "fireball")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	updated := spell("fireball", "Fireball", 3)
	updated.RawData["desc"] = "A bright streak flashes..."
	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{updated}); err != nil {
		t.Fatalf("second PutMany() failed: %v", err)
	}

	count, err := store.Count(ctx, types.EntityTypeSpell)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}

	second, err := store.Get(ctx, types.EntityTypeSpell, "fireball")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed across upsert: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("updated_at did not advance: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
	if _, ok := second.RawData["desc"]; !ok {
		t.Error("raw_data was not replaced on upsert")
	}
}

// TestPutManyLastRecordWins verifies the final state for a slug duplicated
// within one batch reflects the last record in iteration order.
func TestPutManyLastRecordWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := spell("fireball", "Fireball", 3)
	b := spell("fireball", "Fireball (errata)", 3)

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{a, b}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	got, err := store.Get(ctx, types.EntityTypeSpell, "fireball")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Fireball (errata)" {
		t.Errorf("Name = %q, want last record's name", got.Name)
	}
}

// TestScanLimitExactness verifies the store honors limit at the storage
// layer: exactly limit rows, never more.
func TestScanLimitExactness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var batch []*types.Entity
	for i := 0; i < 50; i++ {
		batch = append(batch, spell(fmt.Sprintf("spell-%02d", i), fmt.Sprintf("Spell %02d", i), i%10))
	}
	if _, err := store.PutMany(ctx, types.EntityTypeSpell, batch); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	got, err := store.Scan(ctx, types.EntityTypeSpell, storage.Predicate{}, 10)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("Scan() returned %d rows, want exactly 10", len(got))
	}
}

func TestScanPredicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []*types.Entity{
		spell("fireball", "Fireball", 3),
		spell("fire-bolt", "Fire Bolt", 0),
		spell("acid-splash", "Acid Splash", 0),
	}
	if _, err := store.PutMany(ctx, types.EntityTypeSpell, batch); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	tests := []struct {
		name      string
		pred      storage.Predicate
		wantSlugs []string
	}{
		{
			name:      "indexed field equality",
			pred:      storage.Predicate{}.And("level", storage.OpEq, 0),
			wantSlugs: []string{"acid-splash", "fire-bolt"},
		},
		{
			name:      "indexed field range",
			pred:      storage.Predicate{}.And("level", storage.OpGte, 1),
			wantSlugs: []string{"fireball"},
		},
		{
			name:      "name exact case-insensitive",
			pred:      storage.Predicate{}.And("name", storage.OpEq, "fireball"),
			wantSlugs: []string{"fireball"},
		},
		{
			name:      "name prefix",
			pred:      storage.Predicate{}.And("name", storage.OpPrefix, "fire"),
			wantSlugs: []string{"fire-bolt", "fireball"},
		},
		{
			name:      "slug equality",
			pred:      storage.Predicate{}.And("slug", storage.OpEq, "acid-splash"),
			wantSlugs: []string{"acid-splash"},
		},
		{
			name:      "document key",
			pred:      storage.Predicate{}.And("document_key", storage.OpEq, "srd"),
			wantSlugs: []string{"acid-splash", "fire-bolt", "fireball"},
		},
		{
			name:      "no match",
			pred:      storage.Predicate{}.And("level", storage.OpEq, 9),
			wantSlugs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Scan(ctx, types.EntityTypeSpell, tt.pred, 0)
			if err != nil {
				t.Fatalf("Scan() failed: %v", err)
			}
			var slugs []string
			for _, e := range got {
				slugs = append(slugs, e.Slug)
			}
			if len(slugs) != len(tt.wantSlugs) {
				t.Fatalf("Scan() slugs = %v, want %v", slugs, tt.wantSlugs)
			}
			for i := range slugs {
				if slugs[i] != tt.wantSlugs[i] {
					t.Fatalf("Scan() slugs = %v, want %v", slugs, tt.wantSlugs)
				}
			}
		})
	}
}

func TestScanBoolPredicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conc := spell("hold-person", "Hold Person", 2)
	conc.IndexedFields["concentration"] = true
	plain := spell("fireball", "Fireball", 3)
	plain.IndexedFields["concentration"] = false

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{conc, plain}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	got, err := store.Scan(ctx, types.EntityTypeSpell,
		storage.Predicate{}.And("concentration", storage.OpEq, true), 0)
	if err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}
	if len(got) != 1 || got[0].Slug != "hold-person" {
		t.Fatalf("Scan(concentration=true) = %v, want [hold-person]", got)
	}
}

func TestVectorCandidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	withVec := spell("fireball", "Fireball", 3)
	withVec.Embedding = []float64{0.1, 0.2, 0.3}
	withoutVec := spell("acid-splash", "Acid Splash", 0)

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{withVec, withoutVec}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	got, err := store.VectorCandidates(ctx, types.EntityTypeSpell, storage.Predicate{}, 0)
	if err != nil {
		t.Fatalf("VectorCandidates() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("VectorCandidates() returned %d rows, want 1", len(got))
	}
	if got[0].Slug != "fireball" {
		t.Errorf("slug = %q, want fireball", got[0].Slug)
	}
	if len(got[0].Embedding) != 3 || got[0].Embedding[1] != 0.2 {
		t.Errorf("embedding = %v, want [0.1 0.2 0.3]", got[0].Embedding)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{
		spell("fireball", "Fireball", 3),
		spell("acid-splash", "Acid Splash", 0),
	}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	creature := &types.Entity{
		Type:      types.EntityTypeCreature,
		Slug:      "goblin",
		Name:      "Goblin",
		RawData:   map[string]interface{}{"name": "Goblin"},
		SourceAPI: types.SourceOpen5e,
	}
	if _, err := store.PutMany(ctx, types.EntityTypeCreature, []*types.Entity{creature}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.Counts[types.EntityTypeSpell] != 2 {
		t.Errorf("spell count = %d, want 2", stats.Counts[types.EntityTypeSpell])
	}
	if stats.Counts[types.EntityTypeCreature] != 1 {
		t.Errorf("creature count = %d, want 1", stats.Counts[types.EntityTypeCreature])
	}
	if stats.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %d, want %d", stats.SchemaVersion, SchemaVersion)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Errorf("total size = %d, want > 0", stats.TotalSizeBytes)
	}
}

func TestPurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.PutMany(ctx, types.EntityTypeSpell, []*types.Entity{spell("fireball", "Fireball", 3)}); err != nil {
		t.Fatalf("PutMany() failed: %v", err)
	}

	if err := store.Purge(ctx, types.EntityTypeSpell, "fireball"); err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	if _, err := store.Get(ctx, types.EntityTypeSpell, "fireball"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after purge = %v, want ErrNotFound", err)
	}
	if err := store.Purge(ctx, types.EntityTypeSpell, "fireball"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Purge() = %v, want ErrNotFound", err)
	}
}

// TestConcurrentPutMany exercises the per-collection write serialization
// under concurrent batches to the same and different types.
func TestConcurrentPutMany(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var batch []*types.Entity
			for j := 0; j < 20; j++ {
				batch = append(batch, spell(fmt.Sprintf("spell-%d-%d", i, j), fmt.Sprintf("Spell %d %d", i, j), j%10))
			}
			if _, err := store.PutMany(ctx, types.EntityTypeSpell, batch); err != nil {
				t.Errorf("concurrent PutMany() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	count, err := store.Count(ctx, types.EntityTypeSpell)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 160 {
		t.Errorf("Count() = %d, want 160", count)
	}
}

func TestEmbeddingCodecRoundTrip(t *testing.T) {
	in := []float64{0.25, -1.5, 3.14159, 0}
	buf := encodeEmbedding(in)

	out, err := decodeEmbedding(buf, len(in))
	if err != nil {
		t.Fatalf("decodeEmbedding() failed: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("round trip mismatch at %d: %v != %v", i, out[i], in[i])
		}
	}

	if _, err := decodeEmbedding(buf, 3); err == nil {
		t.Error("decodeEmbedding() with wrong dimension succeeded, want error")
	}
}
