// Package cache implements the cache-aside orchestration between the
// local entity store and remote reference APIs. Every request selects a
// mode that decides how the store lookup and the remote fetch combine:
//
//   - ModeNormal: store hit returns immediately; a miss fetches
//     synchronously, ingests, and returns the fresh data.
//   - ModeCacheFirst: the store answer returns immediately, even when
//     empty, while a detached background task refreshes the cache.
//   - ModeOfflineFallback: the fetch and the store query run concurrently;
//     a remote success wins, a network-classified remote failure falls
//     back to whatever the store has.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/ingest"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/query"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/source"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

// Mode selects the cache-aside strategy for a single call.
type Mode string

const (
	ModeNormal          Mode = "normal"
	ModeCacheFirst      Mode = "cache_first"
	ModeOfflineFallback Mode = "offline_fallback"
)

// ParseMode converts a string to a Mode, defaulting to ModeNormal for the
// empty string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeNormal:
		return ModeNormal, nil
	case ModeCacheFirst:
		return ModeCacheFirst, nil
	case ModeOfflineFallback:
		return ModeOfflineFallback, nil
	default:
		return "", fmt.Errorf("%w: unknown cache mode %q", storage.ErrValidation, s)
	}
}

// errStoreSkipped marks a raced fetch that succeeded remotely but could
// not write through. Internal to the offline-fallback path.
var errStoreSkipped = errors.New("store write skipped")

// Fetcher is the remote-source dependency; satisfied by source.Registry.
type Fetcher interface {
	Fetch(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]map[string]interface{}, types.SourceAPI, error)
}

// Orchestrator combines the store, query engine, ingestion pipeline, and
// remote fetcher under the per-call mode contract.
type Orchestrator struct {
	store    storage.EntityStore
	engine   *query.Engine
	pipeline *ingest.Pipeline
	fetcher  Fetcher
	log      *zap.Logger

	// group collapses identical concurrent remote fetches into one
	// upstream call.
	group singleflight.Group

	fetchTimeout   time.Duration
	refreshTimeout time.Duration
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// FetchTimeout bounds synchronous and raced remote fetches
	// (default: 15s).
	FetchTimeout time.Duration

	// RefreshTimeout bounds detached background refreshes
	// (default: 60s).
	RefreshTimeout time.Duration
}

// NewOrchestrator wires the orchestrator. All dependencies are required
// except log.
func NewOrchestrator(store storage.EntityStore, engine *query.Engine, pipeline *ingest.Pipeline, fetcher Fetcher, config Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if config.FetchTimeout == 0 {
		config.FetchTimeout = 15 * time.Second
	}
	if config.RefreshTimeout == 0 {
		config.RefreshTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:          store,
		engine:         engine,
		pipeline:       pipeline,
		fetcher:        fetcher,
		log:            log,
		fetchTimeout:   config.FetchTimeout,
		refreshTimeout: config.RefreshTimeout,
	}
}

// GetEntity retrieves one entity by slug under the given mode. A definitive
// miss is (nil, nil), not an error.
func (o *Orchestrator) GetEntity(ctx context.Context, entityType types.EntityType, slug string, mode Mode) (*types.Entity, error) {
	filters := map[string]interface{}{"slug": slug}

	switch mode {
	case ModeCacheFirst:
		cached, err := o.storeGet(ctx, entityType, slug)
		if err != nil {
			return nil, err
		}
		o.refreshDetached(ctx, entityType, filters)
		return cached, nil

	case ModeOfflineFallback:
		// Caller errors surface before the race; degradation covers store
		// and network failures only.
		if !types.IsValidEntityType(entityType) {
			return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrValidation, entityType)
		}
		entities, err := o.raceFetchAgainstStore(ctx, entityType, filters, 1, func(raceCtx context.Context) ([]*types.Entity, error) {
			e, err := o.storeGet(raceCtx, entityType, slug)
			if err != nil || e == nil {
				return nil, err
			}
			return []*types.Entity{e}, nil
		})
		if err != nil {
			return nil, err
		}
		return pickBySlug(entities, slug), nil

	default: // ModeNormal
		cached, err := o.storeGet(ctx, entityType, slug)
		if err != nil || cached != nil {
			return cached, err
		}
		entities, err := o.fetchAndIngest(ctx, entityType, filters)
		if err != nil {
			return nil, err
		}
		if refreshed, err := o.storeGet(ctx, entityType, slug); err == nil && refreshed != nil {
			return refreshed, nil
		}
		return pickBySlug(entities, slug), nil
	}
}

// QueryEntities evaluates filters under the given mode. An empty result is
// never an error.
func (o *Orchestrator) QueryEntities(ctx context.Context, entityType types.EntityType, filters map[string]interface{}, limit int, mode Mode) ([]*types.Entity, error) {
	switch mode {
	case ModeCacheFirst:
		cached, err := o.engine.Query(ctx, entityType, filters, limit)
		if err != nil {
			return nil, err
		}
		o.refreshDetached(ctx, entityType, filters)
		return cached, nil

	case ModeOfflineFallback:
		// Caller errors surface before the race; degradation covers store
		// and network failures only.
		if _, _, err := o.engine.BuildPredicate(entityType, filters); err != nil {
			return nil, err
		}
		return o.raceFetchAgainstStore(ctx, entityType, filters, limit, func(raceCtx context.Context) ([]*types.Entity, error) {
			return o.engine.Query(raceCtx, entityType, filters, limit)
		})

	default: // ModeNormal
		cached, err := o.engine.Query(ctx, entityType, filters, limit)
		if err != nil {
			return nil, err
		}
		if len(cached) > 0 {
			return cached, nil
		}
		if _, err := o.fetchAndIngest(ctx, entityType, filters); err != nil {
			return nil, err
		}
		return o.engine.Query(ctx, entityType, filters, limit)
	}
}

// StoreEntities ingests externally produced raw records (the offline
// import path) and returns the number stored.
func (o *Orchestrator) StoreEntities(ctx context.Context, entityType types.EntityType, records []map[string]interface{}, sourceAPI types.SourceAPI) (int, error) {
	entities, err := o.pipeline.Normalize(ctx, entityType, sourceAPI, records)
	if err != nil {
		return 0, err
	}
	return o.store.PutMany(ctx, entityType, entities)
}

// Stats reports per-type counts and store size.
func (o *Orchestrator) Stats(ctx context.Context) (*storage.Stats, error) {
	return o.store.Stats(ctx)
}

// Refresh forces a synchronous fetch-and-ingest for the type and filters,
// bypassing the cache decision. Used by the explicit refresh tool.
func (o *Orchestrator) Refresh(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) (int, error) {
	entities, err := o.fetchAndIngest(ctx, entityType, filters)
	if err != nil {
		return 0, err
	}
	return len(entities), nil
}

// storeGet adapts the store's sentinel-error miss to (nil, nil).
func (o *Orchestrator) storeGet(ctx context.Context, entityType types.EntityType, slug string) (*types.Entity, error) {
	e, err := o.store.Get(ctx, entityType, slug)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// fetchOutcome separates the remote result from the store write-through
// outcome so each mode can apply its own failure policy.
type fetchOutcome struct {
	entities []*types.Entity
	storeErr error
}

// fetchAndIngest performs the remote fetch, normalizes the records, and
// writes them through. A store write failure propagates; the remote data
// is discarded with it.
func (o *Orchestrator) fetchAndIngest(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) ([]*types.Entity, error) {
	outcome, err := o.fetchIngestOutcome(ctx, entityType, filters)
	if err != nil {
		return nil, err
	}
	if outcome.storeErr != nil {
		return nil, outcome.storeErr
	}
	return outcome.entities, nil
}

// fetchIngestOutcome is the shared fetch path. Identical concurrent calls
// are collapsed; the winning call's context governs the shared fetch. The
// returned error covers fetch and normalization only; a write-through
// failure is reported in the outcome.
func (o *Orchestrator) fetchIngestOutcome(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) (*fetchOutcome, error) {
	key := fetchKey(entityType, filters)
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
		defer cancel()

		records, sourceAPI, err := o.fetcher.Fetch(fetchCtx, entityType, filters)
		if err != nil {
			return nil, err
		}

		entities, err := o.pipeline.Normalize(fetchCtx, entityType, sourceAPI, records)
		if err != nil {
			return nil, err
		}

		outcome := &fetchOutcome{entities: entities}
		if len(entities) > 0 {
			_, outcome.storeErr = o.store.PutMany(ctx, entityType, entities)
		}
		return outcome, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*fetchOutcome), nil
}

// refreshDetached spawns a background fetch-and-ingest that outlives the
// caller's request. The task carries the caller's values but not its
// cancellation, runs under its own timeout, and reports failures to the
// log only.
func (o *Orchestrator) refreshDetached(ctx context.Context, entityType types.EntityType, filters map[string]interface{}) string {
	taskID := uuid.New().String()
	detached := context.WithoutCancel(ctx)

	go func() {
		taskCtx, cancel := context.WithTimeout(detached, o.refreshTimeout)
		defer cancel()

		entities, err := o.fetchAndIngest(taskCtx, entityType, filters)
		if err != nil {
			o.log.Warn("background refresh failed",
				zap.String("task_id", taskID),
				zap.String("entity_type", string(entityType)),
				zap.Error(err))
			return
		}
		o.log.Debug("background refresh complete",
			zap.String("task_id", taskID),
			zap.String("entity_type", string(entityType)),
			zap.Int("entities", len(entities)))
	}()

	return taskID
}

// raceFetchAgainstStore runs the remote fetch and the store query
// concurrently. The remote outcome class decides the winner: success wins
// outright, a network failure defers to the store, anything else
// propagates. A store failure on the fallback path is logged and treated
// as empty.
func (o *Orchestrator) raceFetchAgainstStore(ctx context.Context, entityType types.EntityType, filters map[string]interface{}, limit int, storeQuery func(context.Context) ([]*types.Entity, error)) ([]*types.Entity, error) {
	type result struct {
		entities []*types.Entity
		err      error
	}

	fetchCh := make(chan result, 1)
	storeCh := make(chan result, 1)

	go func() {
		outcome, err := o.fetchIngestOutcome(ctx, entityType, filters)
		if err != nil {
			fetchCh <- result{nil, err}
			return
		}
		if outcome.storeErr != nil {
			// A broken store must not mask the successful fetch here.
			o.log.Warn("write-through failed during offline fallback",
				zap.String("entity_type", string(entityType)),
				zap.Error(outcome.storeErr))
			fetchCh <- result{truncate(outcome.entities, limit), errStoreSkipped}
			return
		}
		fetchCh <- result{outcome.entities, nil}
	}()
	go func() {
		entities, err := storeQuery(ctx)
		storeCh <- result{entities, err}
	}()

	fetched := <-fetchCh
	if fetched.err == nil {
		<-storeCh // raced query may predate the ingest; discard it
		// Re-query so filters the fetcher could not push upstream still
		// apply.
		stored, err := storeQuery(ctx)
		if err == nil {
			return stored, nil
		}
		o.log.Warn("store query failed after remote success, returning fetched data",
			zap.String("entity_type", string(entityType)),
			zap.Error(err))
		return truncate(fetched.entities, limit), nil
	}
	if errors.Is(fetched.err, errStoreSkipped) {
		return fetched.entities, nil
	}

	if !source.IsNetworkError(fetched.err) {
		return nil, fetched.err
	}

	o.log.Warn("remote fetch unreachable, serving from store",
		zap.String("entity_type", string(entityType)),
		zap.Error(fetched.err))

	stored := <-storeCh
	if stored.err != nil {
		o.log.Warn("store query failed during offline fallback",
			zap.String("entity_type", string(entityType)),
			zap.Error(stored.err))
		return nil, nil
	}
	return stored.entities, nil
}

// fetchKey builds a stable singleflight key from the type and filters.
func fetchKey(entityType types.EntityType, filters map[string]interface{}) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(entityType))
	for _, k := range keys {
		v, _ := json.Marshal(filters[k])
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
	}
	return b.String()
}

// pickBySlug finds the entity with the given slug, comparing
// case-insensitively.
func pickBySlug(entities []*types.Entity, slug string) *types.Entity {
	for _, e := range entities {
		if strings.EqualFold(e.Slug, slug) {
			return e
		}
	}
	return nil
}

// truncate caps a slice at limit; non-positive limits mean unlimited.
func truncate(entities []*types.Entity, limit int) []*types.Entity {
	if limit > 0 && len(entities) > limit {
		return entities[:limit]
	}
	return entities
}
