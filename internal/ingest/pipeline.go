// Package ingest normalizes heterogeneous source records into canonical
// entities before storage. Field names and shapes differ per upstream API;
// the pipeline maps them onto one schema per entity type so the query
// engine never sees source-specific spellings.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/embedding"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Pipeline transforms raw source records into canonical entities.
type Pipeline struct {
	embedder embedding.Generator
	log      *zap.Logger
}

// NewPipeline creates an ingestion pipeline. A nil embedder disables
// embedding computation; entities are then stored without vectors and
// excluded from semantic ranking.
func NewPipeline(embedder embedding.Generator, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{embedder: embedder, log: log}
}

// Normalize converts a batch of raw records into entities. Records without
// a resolvable slug are skipped and logged; one bad record never aborts
// the batch. The returned slice may be shorter than the input.
func (p *Pipeline) Normalize(ctx context.Context, entityType types.EntityType, sourceAPI types.SourceAPI, records []map[string]interface{}) ([]*types.Entity, error) {
	schema, ok := types.SchemaFor(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	entities := make([]*types.Entity, 0, len(records))
	for i, record := range records {
		if record == nil {
			continue
		}

		name := stringField(record, "name", "title")
		slug := resolveSlug(record, name)
		if slug == "" {
			p.log.Warn("skipping record without resolvable slug",
				zap.String("entity_type", string(entityType)),
				zap.String("source_api", string(sourceAPI)),
				zap.Int("record_index", i))
			continue
		}

		e := &types.Entity{
			Type:          entityType,
			Slug:          slug,
			Name:          name,
			RawData:       record,
			IndexedFields: extractIndexedFields(schema, record),
			Document:      normalizeDocument(sourceAPI, record),
			SourceAPI:     sourceAPI,
		}

		if p.embedder != nil {
			p.attachEmbedding(ctx, e, schema)
		}

		entities = append(entities, e)
	}

	return entities, nil
}

// attachEmbedding computes and sets the entity embedding from its schema's
// text fields. Failures are logged and leave the entity without a vector.
func (p *Pipeline) attachEmbedding(ctx context.Context, e *types.Entity, schema types.TypeSchema) {
	text := embedText(schema, e.RawData)
	if text == "" {
		return
	}

	truncated, wasTruncated := embedding.Truncate(p.embedder, text)
	if wasTruncated {
		p.log.Warn("embedding input truncated",
			zap.String("entity_type", string(e.Type)),
			zap.String("slug", e.Slug))
	}

	vec, err := p.embedder.Embed(ctx, truncated)
	if err != nil {
		p.log.Warn("embedding computation failed, storing without vector",
			zap.String("entity_type", string(e.Type)),
			zap.String("slug", e.Slug),
			zap.Error(err))
		return
	}
	e.Embedding = vec
}

// resolveSlug picks an explicit identifier field if the record has one,
// otherwise derives a slug from the entity name.
func resolveSlug(record map[string]interface{}, name string) string {
	for _, key := range []string{"slug", "index", "key"} {
		if s := stringField(record, key); s != "" {
			return strings.ToLower(s)
		}
	}
	return Slugify(name)
}

// Slugify derives a URL-safe slug from a display name: lowercase, runs of
// non-alphanumeric characters collapsed to single hyphens, no leading or
// trailing hyphen.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// extractIndexedFields pulls the schema's scalar fields out of the raw
// record, trying each source key in order and coercing to the declared
// kind. Fields that are absent or fail coercion are omitted.
func extractIndexedFields(schema types.TypeSchema, record map[string]interface{}) map[string]interface{} {
	if len(schema.Fields) == 0 {
		return nil
	}

	fields := make(map[string]interface{})
	for _, spec := range schema.Fields {
		for _, key := range spec.SourceKeys {
			raw, ok := record[key]
			if !ok || raw == nil {
				continue
			}
			if v, ok := coerceField(spec.Kind, raw); ok {
				fields[spec.Name] = v
				break
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// coerceField converts a raw JSON value to the field's declared kind.
func coerceField(kind types.FieldKind, raw interface{}) (interface{}, bool) {
	switch kind {
	case types.FieldString:
		if s, ok := raw.(string); ok {
			return s, true
		}
	case types.FieldInt:
		switch v := raw.(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		}
	case types.FieldFloat:
		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			return parseFraction(v)
		}
	case types.FieldBool:
		switch v := raw.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "yes", "true":
				return true, true
			case "no", "false":
				return false, true
			}
		}
	}
	return nil, false
}

// parseFraction handles challenge ratings written as fractions ("1/4") as
// well as plain decimal strings.
func parseFraction(s string) (interface{}, bool) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN != nil || errD != nil || d == 0 {
			return nil, false
		}
		return n / d, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return nil, false
}

// normalizeDocument maps source-specific provenance fields onto the
// canonical document triple.
func normalizeDocument(sourceAPI types.SourceAPI, record map[string]interface{}) types.Document {
	switch sourceAPI {
	case types.SourceOpen5e:
		// v1 responses use flattened document__* fields, v2 nests an object.
		doc := types.Document{
			Key:    stringField(record, "document__slug"),
			Name:   stringField(record, "document__title"),
			Source: stringField(record, "document__url"),
		}
		if doc.Key == "" {
			if nested, ok := record["document"].(map[string]interface{}); ok {
				doc.Key = stringField(nested, "key", "slug")
				doc.Name = stringField(nested, "name", "title")
				doc.Source = stringField(nested, "url")
			}
		}
		return doc

	case types.SourceDnd5eAPI:
		// The API serves exactly one document and carries no provenance
		// fields on records.
		return types.Document{
			Key:    "srd",
			Name:   "Systems Reference Document",
			Source: "dnd5eapi",
		}

	case types.SourceArchive:
		if nested, ok := record["document"].(map[string]interface{}); ok {
			return types.Document{
				Key:    stringField(nested, "key"),
				Name:   stringField(nested, "name"),
				Source: stringField(nested, "source"),
			}
		}
	}
	return types.Document{}
}

// embedText concatenates the schema's embedding fields in declaration
// order. String-array fields (multi-paragraph descriptions) are joined
// with newlines.
func embedText(schema types.TypeSchema, record map[string]interface{}) string {
	var parts []string
	for _, key := range schema.EmbedFields {
		if t := textValue(record[key]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// textValue renders a raw field as text. Handles plain strings and arrays
// of strings.
func textValue(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case []interface{}:
		var parts []string
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// stringField returns the first non-empty string among the given keys.
func stringField(record map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := record[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
