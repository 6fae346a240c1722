// Package types defines the core data structures for the Lorekeeper entity
// cache: game-rules entities, their per-type indexed-field schemas, and the
// document provenance metadata shared by all upstream sources.
package types

// EntityType is a fixed category of reference-data entity. It determines
// which collection an entity is stored in and which indexed-field schema
// applies to it.
type EntityType string

// Entity type constants, one per reference-data category.
const (
	EntityTypeSpell      EntityType = "spell"
	EntityTypeCreature   EntityType = "creature"
	EntityTypeWeapon     EntityType = "weapon"
	EntityTypeArmor      EntityType = "armor"
	EntityTypeClass      EntityType = "class"
	EntityTypeRace       EntityType = "race"
	EntityTypeBackground EntityType = "background"
	EntityTypeFeat       EntityType = "feat"
	EntityTypeCondition  EntityType = "condition"
	EntityTypeRule       EntityType = "rule"
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []EntityType{
	EntityTypeSpell,
	EntityTypeCreature,
	EntityTypeWeapon,
	EntityTypeArmor,
	EntityTypeClass,
	EntityTypeRace,
	EntityTypeBackground,
	EntityTypeFeat,
	EntityTypeCondition,
	EntityTypeRule,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(entityType EntityType) bool {
	for _, validType := range ValidEntityTypes {
		if validType == entityType {
			return true
		}
	}
	return false
}

// SourceAPI identifies the upstream integration that produced a record.
type SourceAPI string

const (
	// SourceOpen5e is the Open5e REST API (https://api.open5e.com).
	SourceOpen5e SourceAPI = "open5e"

	// SourceDnd5eAPI is the D&D 5e SRD API (https://www.dnd5eapi.co).
	SourceDnd5eAPI SourceAPI = "dnd5eapi"

	// SourceArchive is an offline archive imported via lorekeeper-import.
	SourceArchive SourceAPI = "archive"
)

// Document holds the provenance of the source publication an entity came
// from. The ingestion pipeline normalizes source-specific provenance fields
// so that entities from the API and from offline archives expose the same
// shape.
type Document struct {
	Key    string `json:"document_key,omitempty"`    // Stable document identifier (e.g. "srd", "tob")
	Name   string `json:"document_name,omitempty"`   // Display title (e.g. "Systems Reference Document")
	Source string `json:"document_source,omitempty"` // Publisher or upstream collection
}
