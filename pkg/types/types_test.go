package types

import "testing"

func TestIsValidEntityType(t *testing.T) {
	for _, et := range ValidEntityTypes {
		if !IsValidEntityType(et) {
			t.Errorf("IsValidEntityType(%q) = false, want true", et)
		}
	}

	for _, bad := range []EntityType{"", "spells", "monster", "SPELL"} {
		if IsValidEntityType(bad) {
			t.Errorf("IsValidEntityType(%q) = true, want false", bad)
		}
	}
}

func TestSourceAPIWireValues(t *testing.T) {
	tests := []struct {
		source SourceAPI
		want   string
	}{
		{SourceOpen5e, "open5e"},
		{SourceDnd5eAPI, "dnd5eapi"},
		{SourceArchive, "archive"},
	}
	for _, tt := range tests {
		if string(tt.source) != tt.want {
			t.Errorf("SourceAPI %q, want %q", tt.source, tt.want)
		}
	}
}

func TestSchemaForCoversAllTypes(t *testing.T) {
	for _, et := range ValidEntityTypes {
		if _, ok := SchemaFor(et); !ok {
			t.Errorf("SchemaFor(%q): no schema registered", et)
		}
	}
}

func TestIndexedFieldSpec(t *testing.T) {
	tests := []struct {
		entityType EntityType
		field      string
		wantOK     bool
		wantKind   FieldKind
	}{
		{EntityTypeSpell, "level", true, FieldInt},
		{EntityTypeSpell, "concentration", true, FieldBool},
		{EntityTypeCreature, "challenge_rating", true, FieldFloat},
		{EntityTypeCreature, "size", true, FieldString},
		{EntityTypeSpell, "challenge_rating", false, ""},
		{EntityTypeFeat, "level", false, ""},
		{"bogus", "level", false, ""},
	}

	for _, tt := range tests {
		spec, ok := IndexedFieldSpec(tt.entityType, tt.field)
		if ok != tt.wantOK {
			t.Errorf("IndexedFieldSpec(%q, %q) ok = %v, want %v", tt.entityType, tt.field, ok, tt.wantOK)
			continue
		}
		if ok && spec.Kind != tt.wantKind {
			t.Errorf("IndexedFieldSpec(%q, %q) kind = %q, want %q", tt.entityType, tt.field, spec.Kind, tt.wantKind)
		}
	}
}

func TestDocumentKeyAcceptedForEveryType(t *testing.T) {
	for _, et := range ValidEntityTypes {
		spec, ok := IndexedFieldSpec(et, "document_key")
		if !ok {
			t.Errorf("document_key not accepted for %q", et)
			continue
		}
		if spec.Kind != FieldString {
			t.Errorf("document_key kind for %q = %q, want string", et, spec.Kind)
		}
	}
}
