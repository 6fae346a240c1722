package types

// FieldKind is the scalar type of an indexed field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldInt    FieldKind = "int"
	FieldFloat  FieldKind = "float"
	FieldBool   FieldKind = "bool"
)

// FieldSpec describes one indexed field of an entity type: its canonical
// name, its scalar kind, and the source-record keys it may be extracted
// from (checked in order; the first present key wins).
type FieldSpec struct {
	Name       string
	Kind       FieldKind
	SourceKeys []string
}

// TypeSchema describes the indexed-field schema and the embedding text
// fields for one entity type.
type TypeSchema struct {
	// Fields are the scalar attributes extracted from RawData into
	// IndexedFields at ingestion time.
	Fields []FieldSpec

	// EmbedFields are the RawData keys whose text is concatenated, in this
	// exact order, to form the embedding input when hybrid search is
	// enabled.
	EmbedFields []string
}

// typeSchemas maps each entity type to its schema. document_key is accepted
// as a filter on every type and therefore not listed per type.
var typeSchemas = map[EntityType]TypeSchema{
	EntityTypeSpell: {
		Fields: []FieldSpec{
			{Name: "level", Kind: FieldInt, SourceKeys: []string{"level_int", "level"}},
			{Name: "school", Kind: FieldString, SourceKeys: []string{"school"}},
			{Name: "concentration", Kind: FieldBool, SourceKeys: []string{"requires_concentration", "concentration"}},
			{Name: "ritual", Kind: FieldBool, SourceKeys: []string{"can_be_cast_as_ritual", "ritual"}},
		},
		EmbedFields: []string{"name", "desc", "higher_level"},
	},
	EntityTypeCreature: {
		Fields: []FieldSpec{
			{Name: "challenge_rating", Kind: FieldFloat, SourceKeys: []string{"cr", "challenge_rating"}},
			{Name: "type", Kind: FieldString, SourceKeys: []string{"type"}},
			{Name: "size", Kind: FieldString, SourceKeys: []string{"size"}},
		},
		EmbedFields: []string{"name", "desc", "actions_desc"},
	},
	EntityTypeWeapon: {
		Fields: []FieldSpec{
			{Name: "category", Kind: FieldString, SourceKeys: []string{"category", "weapon_category"}},
			{Name: "damage_dice", Kind: FieldString, SourceKeys: []string{"damage_dice"}},
		},
		EmbedFields: []string{"name", "properties_desc"},
	},
	EntityTypeArmor: {
		Fields: []FieldSpec{
			{Name: "category", Kind: FieldString, SourceKeys: []string{"category", "armor_category"}},
			{Name: "base_ac", Kind: FieldInt, SourceKeys: []string{"ac_base", "base_ac"}},
		},
		EmbedFields: []string{"name", "desc"},
	},
	EntityTypeClass: {
		Fields: []FieldSpec{
			{Name: "hit_die", Kind: FieldInt, SourceKeys: []string{"hit_dice_int", "hit_die"}},
		},
		EmbedFields: []string{"name", "desc"},
	},
	EntityTypeRace: {
		Fields: []FieldSpec{
			{Name: "size", Kind: FieldString, SourceKeys: []string{"size", "size_raw"}},
		},
		EmbedFields: []string{"name", "desc", "traits_desc"},
	},
	EntityTypeBackground: {
		EmbedFields: []string{"name", "desc", "feature_desc"},
	},
	EntityTypeFeat: {
		EmbedFields: []string{"name", "desc"},
	},
	EntityTypeCondition: {
		EmbedFields: []string{"name", "desc"},
	},
	EntityTypeRule: {
		Fields: []FieldSpec{
			{Name: "parent", Kind: FieldString, SourceKeys: []string{"parent", "ruleset"}},
		},
		EmbedFields: []string{"name", "desc"},
	},
}

// SchemaFor returns the schema for the given entity type. The second return
// value is false for unknown types.
func SchemaFor(entityType EntityType) (TypeSchema, bool) {
	s, ok := typeSchemas[entityType]
	return s, ok
}

// IndexedFieldSpec returns the spec for a single indexed field of the given
// type, or false if the field is not part of that type's schema.
// document_key is valid for every type.
func IndexedFieldSpec(entityType EntityType, field string) (FieldSpec, bool) {
	if field == "document_key" {
		return FieldSpec{Name: "document_key", Kind: FieldString}, true
	}
	s, ok := typeSchemas[entityType]
	if !ok {
		return FieldSpec{}, false
	}
	for _, f := range s.Fields {
		if f.Name == field {
			return f, true
		}
	}
	return FieldSpec{}, false
}
