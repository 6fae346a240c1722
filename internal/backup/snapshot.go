// Package backup creates and manages point-in-time snapshots of the entity
// store. The cache is rebuildable from the remote APIs, but a snapshot
// preserves imported homebrew content and avoids a full re-fetch after data
// loss.
package backup

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manager creates snapshots of a SQLite database file and prunes old ones.
type Manager struct {
	dbPath string
	dir    string
	keep   int
	log    *zap.Logger
}

// NewManager creates a snapshot manager. keep is the number of snapshots
// retained after each Snapshot call; zero means keep everything.
func NewManager(dbPath, dir string, keep int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{dbPath: dbPath, dir: dir, keep: keep, log: log}
}

// Snapshot writes a consistent copy of the database into the snapshot
// directory, verifies it, and prunes snapshots beyond the retention count.
// VACUUM INTO produces a consistent copy even with WAL mode active.
func (m *Manager) Snapshot() (*SnapshotInfo, error) {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	now := time.Now()
	dest := filepath.Join(m.dir, fmt.Sprintf("lorekeeper-%s.db", now.Format("20060102-150405")))

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", m.dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := src.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := src.Exec(fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return nil, fmt.Errorf("vacuum into %q: %w", dest, err)
	}

	if err := Verify(dest); err != nil {
		_ = os.Remove(dest)
		return nil, err
	}

	stat, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	m.log.Info("snapshot created",
		zap.String("path", dest),
		zap.Int64("size_bytes", stat.Size()))

	if err := m.prune(); err != nil {
		m.log.Warn("snapshot prune failed", zap.Error(err))
	}

	return &SnapshotInfo{Path: dest, Timestamp: now, SizeBytes: stat.Size()}, nil
}

// Restore replaces the database file with the given snapshot. The store
// must be closed before calling this.
func (m *Manager) Restore(snapshotPath string) error {
	if err := Verify(snapshotPath); err != nil {
		return err
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(m.dbPath)
	if err != nil {
		return fmt.Errorf("create database file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync database file: %w", err)
	}

	// Stale WAL and SHM files would shadow the restored content.
	_ = os.Remove(m.dbPath + "-wal")
	_ = os.Remove(m.dbPath + "-shm")

	if err := Verify(m.dbPath); err != nil {
		return fmt.Errorf("restored database: %w", err)
	}

	m.log.Info("snapshot restored", zap.String("from", snapshotPath))
	return nil
}

// List returns available snapshots, newest first.
func (m *Manager) List() ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Path:      filepath.Join(m.dir, entry.Name()),
			Timestamp: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// prune removes snapshots beyond the retention count, oldest first.
func (m *Manager) prune() error {
	if m.keep <= 0 {
		return nil
	}

	snapshots, err := m.List()
	if err != nil {
		return err
	}
	for _, old := range snapshots[min(m.keep, len(snapshots)):] {
		if err := os.Remove(old.Path); err != nil {
			return fmt.Errorf("remove %q: %w", old.Path, err)
		}
		m.log.Info("pruned snapshot", zap.String("path", old.Path))
	}
	return nil
}

// Verify opens the file read-only and runs SQLite's integrity check.
func Verify(path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}
