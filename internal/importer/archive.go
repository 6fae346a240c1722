// Package importer loads offline reference archives into the entity
// store. An archive is a directory holding a manifest.yaml that names the
// record files and the document provenance stamped onto every entity. It
// is the ingestion path for content that no remote API serves.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// parseConcurrency bounds parallel record-file parsing.
const parseConcurrency = 4

// Manifest describes an archive directory.
type Manifest struct {
	Name     string `yaml:"name"`
	Document struct {
		Key    string `yaml:"key"`
		Name   string `yaml:"name"`
		Source string `yaml:"source"`
	} `yaml:"document"`
	Files []ManifestFile `yaml:"files"`
}

// ManifestFile names one JSON record file and its entity type.
type ManifestFile struct {
	Path       string `yaml:"path"`
	EntityType string `yaml:"entity_type"`
}

// Result summarizes a completed import.
type Result struct {
	FilesFound     int           `json:"files_found"`
	FilesProcessed int           `json:"files_processed"`
	FilesFailed    int           `json:"files_failed"`
	EntitiesStored int           `json:"entities_stored"`
	Errors         []string      `json:"errors,omitempty"`
	Duration       time.Duration `json:"duration_ms"`
}

// Storer is the ingestion dependency; satisfied by cache.Orchestrator.
type Storer interface {
	StoreEntities(ctx context.Context, entityType types.EntityType, records []map[string]interface{}, sourceAPI types.SourceAPI) (int, error)
}

// ArchiveImporter reads archive directories and stores their records.
type ArchiveImporter struct {
	storer Storer
	log    *zap.Logger
}

// NewArchiveImporter creates an importer that ingests through the given
// storer.
func NewArchiveImporter(storer Storer, log *zap.Logger) *ArchiveImporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveImporter{storer: storer, log: log}
}

// Import loads the archive at dirPath. Record files are parsed in a
// bounded worker group; a file that fails to parse is reported in the
// result and does not abort the rest.
func (imp *ArchiveImporter) Import(ctx context.Context, dirPath string) (*Result, error) {
	start := time.Now()

	manifest, err := LoadManifest(dirPath)
	if err != nil {
		return nil, err
	}

	result := &Result{FilesFound: len(manifest.Files)}
	var mu sync.Mutex

	type parsed struct {
		entityType types.EntityType
		records    []map[string]interface{}
	}
	parsedFiles := make([]*parsed, len(manifest.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parseConcurrency)
	for i, mf := range manifest.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			entityType := types.EntityType(mf.EntityType)
			if !types.IsValidEntityType(entityType) {
				mu.Lock()
				result.FilesFailed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: unknown entity type %q", mf.Path, mf.EntityType))
				mu.Unlock()
				return nil
			}

			records, err := parseRecordFile(filepath.Join(dirPath, mf.Path))
			if err != nil {
				mu.Lock()
				result.FilesFailed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", mf.Path, err))
				mu.Unlock()
				imp.log.Warn("skipping unparseable archive file",
					zap.String("path", mf.Path), zap.Error(err))
				return nil
			}

			stampDocument(records, manifest)
			parsedFiles[i] = &parsed{entityType: entityType, records: records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Store sequentially in manifest order so the per-collection write
	// lock is never contended against ourselves.
	for _, pf := range parsedFiles {
		if pf == nil {
			continue
		}
		n, err := imp.storer.StoreEntities(ctx, pf.entityType, pf.records, types.SourceArchive)
		if err != nil {
			return nil, fmt.Errorf("store %s records: %w", pf.entityType, err)
		}
		result.FilesProcessed++
		result.EntitiesStored += n
	}

	result.Duration = time.Since(start)
	return result, nil
}

// LoadManifest reads and validates manifest.yaml in the archive directory.
func LoadManifest(dirPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dirPath, "manifest.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Document.Key == "" {
		return nil, fmt.Errorf("manifest missing document.key")
	}
	if len(manifest.Files) == 0 {
		return nil, fmt.Errorf("manifest lists no files")
	}
	return &manifest, nil
}

// parseRecordFile reads one JSON file holding an array of raw records.
func parseRecordFile(path string) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse records: %w", err)
	}
	return records, nil
}

// stampDocument attaches the manifest's document triple to records that
// do not carry their own.
func stampDocument(records []map[string]interface{}, manifest *Manifest) {
	doc := map[string]interface{}{
		"key":    manifest.Document.Key,
		"name":   manifest.Document.Name,
		"source": manifest.Document.Source,
	}
	for _, record := range records {
		if record == nil {
			continue
		}
		if _, ok := record["document"]; !ok {
			record["document"] = doc
		}
	}
}
