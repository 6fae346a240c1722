package sqlite

// SchemaVersion identifies the current entity schema. Reported by Stats so
// external operators can detect incompatible database files.
const SchemaVersion = 1

// Schema is the DDL applied on every open. All statements are idempotent.
//
// One logical collection per entity_type lives in the shared entities
// table; (entity_type, slug) is the primary key. indexed_fields is a JSON
// document queried via json_extract, so new per-type fields never require
// a migration.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	entity_type     TEXT NOT NULL,
	slug            TEXT NOT NULL,
	name            TEXT NOT NULL,
	raw_data        TEXT NOT NULL,
	indexed_fields  TEXT,
	document_key    TEXT,
	document_name   TEXT,
	document_source TEXT,
	source_api      TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	embedding       BLOB,
	embedding_dim   INTEGER,
	PRIMARY KEY (entity_type, slug)
);

CREATE INDEX IF NOT EXISTS idx_entities_type_name
	ON entities(entity_type, name COLLATE NOCASE);

CREATE INDEX IF NOT EXISTS idx_entities_type_document
	ON entities(entity_type, document_key);
`
