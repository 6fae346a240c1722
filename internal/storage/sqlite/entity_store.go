// Package sqlite implements storage.EntityStore on a single SQLite file.
//
// WAL journaling keeps concurrent readers unblocked by in-progress writes.
// The connection pool is capped at one open connection: SQLite supports a
// single concurrent writer, and funnelling every statement through one
// connection avoids SQLITE_BUSY under concurrent load. Batch upserts are
// additionally serialized per entity type so interleaved partial updates
// of one collection are impossible.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// EntityStore implements storage.EntityStore using SQLite.
type EntityStore struct {
	db  *sql.DB
	log *zap.Logger

	// writeMu holds one mutex per entity type so that PutMany batches to
	// the same collection are serialized while batches to different
	// collections proceed independently.
	mu      sync.Mutex
	writeMu map[types.EntityType]*sync.Mutex
}

// NewEntityStore opens a SQLite entity store with WAL self-healing. If the
// initial open fails due to stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewEntityStore(dsn string, log *zap.Logger) (*EntityStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := openEntityStore(dsn, log)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, log)

	store, retryErr := openEntityStore(dsn, log)
	if retryErr != nil {
		return nil, fmt.Errorf("%w: failed after WAL recovery: %v (original: %v)",
			storage.ErrStoreUnavailable, retryErr, err)
	}

	log.Info("recovered from stale WAL files", zap.String("path", dbPath))
	return store, nil
}

// openEntityStore opens the database, configures WAL mode, and applies the
// schema.
func openEntityStore(dsn string, log *zap.Logger) (*EntityStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", storage.ErrStoreUnavailable, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode: readers don't block the writer and vice versa.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL mode: %v", storage.ErrStoreUnavailable, err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set busy timeout: %v", storage.ErrStoreUnavailable, err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", storage.ErrStoreUnavailable, err)
	}

	return &EntityStore{
		db:      db,
		log:     log,
		writeMu: make(map[types.EntityType]*sync.Mutex),
	}, nil
}

// collectionLock returns the write mutex for one entity type, creating it
// on first use.
func (s *EntityStore) collectionLock(entityType types.EntityType) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writeMu[entityType]
	if !ok {
		m = &sync.Mutex{}
		s.writeMu[entityType] = m
	}
	return m
}

// entityColumns is the SELECT column list shared by Get and Scan. The scan
// order in scanEntity must match.
const entityColumns = `
	entity_type, slug, name, raw_data, indexed_fields,
	document_key, document_name, document_source,
	source_api, created_at, updated_at
`

// Get retrieves an entity by type and slug.
func (s *EntityStore) Get(ctx context.Context, entityType types.EntityType, slug string) (*types.Entity, error) {
	if !types.IsValidEntityType(entityType) {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", storage.ErrValidation)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = ? AND slug = ?`,
		entityType, slug,
	)

	entity, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get entity: %v", storage.ErrStoreUnavailable, err)
	}
	return entity, nil
}

// PutMany upserts a batch of entities in one transaction, preserving
// created_at on conflict. Returns the number of records written.
func (s *EntityStore) PutMany(ctx context.Context, entityType types.EntityType, entities []*types.Entity) (int, error) {
	if !types.IsValidEntityType(entityType) {
		return 0, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	lock := s.collectionLock(entityType)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin transaction: %v", storage.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (
			entity_type, slug, name, raw_data, indexed_fields,
			document_key, document_name, document_source,
			source_api, created_at, updated_at,
			embedding, embedding_dim
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, slug) DO UPDATE SET
			name = excluded.name,
			raw_data = excluded.raw_data,
			indexed_fields = excluded.indexed_fields,
			document_key = excluded.document_key,
			document_name = excluded.document_name,
			document_source = excluded.document_source,
			source_api = excluded.source_api,
			updated_at = excluded.updated_at,
			embedding = excluded.embedding,
			embedding_dim = excluded.embedding_dim
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare upsert: %v", storage.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	count := 0

	for _, e := range entities {
		if e == nil || e.Slug == "" {
			continue
		}

		rawJSON, err := json.Marshal(e.RawData)
		if err != nil {
			return count, fmt.Errorf("%w: marshal raw_data for %q: %v", storage.ErrValidation, e.Slug, err)
		}

		var indexedJSON []byte
		if len(e.IndexedFields) > 0 {
			indexedJSON, err = json.Marshal(e.IndexedFields)
			if err != nil {
				return count, fmt.Errorf("%w: marshal indexed_fields for %q: %v", storage.ErrValidation, e.Slug, err)
			}
		}

		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		var embBlob []byte
		var embDim sql.NullInt64
		if len(e.Embedding) > 0 {
			embBlob = encodeEmbedding(e.Embedding)
			embDim = sql.NullInt64{Int64: int64(len(e.Embedding)), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			entityType,
			e.Slug,
			e.Name,
			string(rawJSON),
			nullableBytes(indexedJSON),
			nullableString(e.Document.Key),
			nullableString(e.Document.Name),
			nullableString(e.Document.Source),
			string(e.SourceAPI),
			createdAt,
			now,
			embBlob,
			embDim,
		)
		if err != nil {
			return count, fmt.Errorf("%w: upsert %q: %v", storage.ErrStoreUnavailable, e.Slug, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit batch: %v", storage.ErrStoreUnavailable, err)
	}
	return count, nil
}

// Count returns the number of entities of the given type.
func (s *EntityStore) Count(ctx context.Context, entityType types.EntityType) (int, error) {
	if !types.IsValidEntityType(entityType) {
		return 0, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE entity_type = ?", entityType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count entities: %v", storage.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Stats returns per-type counts, the database size, and the schema version.
func (s *EntityStore) Stats(ctx context.Context) (*storage.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("%w: stats query: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	stats := &storage.Stats{
		Counts:        make(map[types.EntityType]int),
		SchemaVersion: SchemaVersion,
	}

	for rows.Next() {
		var et string
		var n int
		if err := rows.Scan(&et, &n); err != nil {
			return nil, fmt.Errorf("%w: stats scan: %v", storage.ErrStoreUnavailable, err)
		}
		stats.Counts[types.EntityType(et)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: stats rows: %v", storage.ErrStoreUnavailable, err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.TotalSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

// Purge hard-deletes a single entity. Returns ErrNotFound if it does not
// exist.
func (s *EntityStore) Purge(ctx context.Context, entityType types.EntityType, slug string) error {
	if !types.IsValidEntityType(entityType) {
		return fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
	}

	lock := s.collectionLock(entityType)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM entities WHERE entity_type = ? AND slug = ?", entityType, slug)
	if err != nil {
		return fmt.Errorf("%w: purge entity: %v", storage.ErrStoreUnavailable, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", storage.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Close flushes the WAL into the main database file and releases resources.
// The TRUNCATE checkpoint removes the -shm and -wal files so another
// process can open the database without encountering stale WAL state.
func (s *EntityStore) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.log.Warn("WAL checkpoint on close failed", zap.Error(err))
	}

	return s.db.Close()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEntity.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity decodes one row in entityColumns order.
func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var et, sourceAPI string
	var rawJSON string
	var indexedJSON, docKey, docName, docSource sql.NullString

	err := row.Scan(
		&et,
		&e.Slug,
		&e.Name,
		&rawJSON,
		&indexedJSON,
		&docKey,
		&docName,
		&docSource,
		&sourceAPI,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = types.EntityType(et)
	e.SourceAPI = types.SourceAPI(sourceAPI)

	if err := decodeJSONFields(&e, rawJSON, indexedJSON); err != nil {
		return nil, err
	}
	if docKey.Valid {
		e.Document.Key = docKey.String
	}
	if docName.Valid {
		e.Document.Name = docName.String
	}
	if docSource.Valid {
		e.Document.Source = docSource.String
	}

	return &e, nil
}

// decodeJSONFields unmarshals the raw_data and indexed_fields JSON columns
// into the entity.
func decodeJSONFields(e *types.Entity, rawJSON string, indexedJSON sql.NullString) error {
	if err := json.Unmarshal([]byte(rawJSON), &e.RawData); err != nil {
		return fmt.Errorf("unmarshal raw_data: %w", err)
	}
	if indexedJSON.Valid && indexedJSON.String != "" {
		if err := json.Unmarshal([]byte(indexedJSON.String), &e.IndexedFields); err != nil {
			return fmt.Errorf("unmarshal indexed_fields: %w", err)
		}
	}
	return nil
}

// nullableBytes converts a byte slice to sql.NullString.
func nullableBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableString converts a string to sql.NullString. An empty string is
// treated as NULL.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN. Handles
// bare paths and file: URIs. Returns empty string for in-memory databases
// or unparseable DSNs.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused
// by stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database
// path AND no other process currently holds them open (via lsof). Returns
// false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof exits 1 when no process has the files open, i.e. stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string, log *zap.Logger) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove stale WAL file", zap.String("path", path), zap.Error(err))
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
