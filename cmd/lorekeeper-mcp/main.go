// cmd/lorekeeper-mcp is the entry point for the lorekeeper MCP (Model
// Context Protocol) server.  It wires the SQLite entity store through the
// cache-aside orchestrator so that every lookup and query flows through the
// ingestion pipeline and the remote reference APIs.
//
// Startup sequence:
//  1. Load configuration (env vars with LOREKEEPER_ prefix, optional
//     config.yaml).
//  2. Open the SQLite database and apply the schema.
//  3. Build the source registry (Open5e primary, D&D 5e API secondary).
//  4. Build the ingestion pipeline, attaching the Ollama embedder when
//     embeddings are enabled.
//  5. Create the MCP server over the orchestrator.
//  6. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout.
//
// CRITICAL: ALL logging MUST go to stderr.  Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/api/mcp"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/cache"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/config"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/embedding"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/ingest"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/logger"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/query"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/search"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/source"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lorekeeper-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := sqlite.NewEntityStore(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("open database at %q: %w", cfg.Database.Path, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("store close", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	var embedder embedding.Generator
	if cfg.Embedding.Enabled {
		embedder = embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL:       cfg.Embedding.OllamaURL,
			Model:         cfg.Embedding.Model,
			Timeout:       cfg.Embedding.Timeout,
			MaxInputRunes: cfg.Embedding.MaxInputRunes,
		})
		log.Info("embeddings enabled",
			zap.String("url", cfg.Embedding.OllamaURL),
			zap.String("model", cfg.Embedding.Model))
	}

	registry := source.NewRegistry(log,
		source.NewOpen5eClient(source.Open5eConfig{
			BaseURL:           cfg.Sources.Open5eURL,
			Timeout:           cfg.Sources.Timeout,
			RequestsPerSecond: cfg.Sources.RequestsPerSecond,
		}),
		source.NewDnd5eAPIClient(source.Dnd5eAPIConfig{
			BaseURL:           cfg.Sources.Dnd5eAPIURL,
			Timeout:           cfg.Sources.Timeout,
			RequestsPerSecond: cfg.Sources.RequestsPerSecond,
		}),
	)

	engine := query.NewEngine(store, log)
	pipeline := ingest.NewPipeline(embedder, log)
	orchestrator := cache.NewOrchestrator(store, engine, pipeline, registry, cache.Config{
		FetchTimeout:   cfg.Cache.FetchTimeout,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
	}, log)

	defaultMode, err := cache.ParseMode(cfg.Cache.DefaultMode)
	if err != nil {
		return fmt.Errorf("cache.default_mode: %w", err)
	}

	opts := []mcp.ServerOption{
		mcp.WithLogger(log),
		mcp.WithDefaultMode(defaultMode),
	}
	if embedder != nil {
		opts = append(opts, mcp.WithSearcher(search.NewSearcher(store, engine, embedder, log)))
	}
	srv := mcp.NewServer(orchestrator, opts...)

	log.Info("lorekeeper MCP server starting",
		zap.String("database", cfg.Database.Path),
		zap.String("default_mode", string(defaultMode)))

	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout, log)
	if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}

	log.Info("lorekeeper MCP server stopped")
	return nil
}
