// Command lorekeeper-import loads local content archives into the entity
// store and forces re-fetches from the remote reference APIs. It shares the
// configuration, store, and ingestion pipeline with the MCP server, so
// imported entities are indexed and queried exactly like fetched ones.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/frap129/lorekeeper-mcp-sub001/internal/backup"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/cache"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/config"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/embedding"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/importer"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/ingest"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/logger"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/query"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/source"
	"github.com/frap129/lorekeeper-mcp-sub001/internal/storage/sqlite"
	"github.com/frap129/lorekeeper-mcp-sub001/pkg/types"
)

var (
	flagDBPath     string
	flagEmbeddings bool
)

func main() {
	root := &cobra.Command{
		Use:           "lorekeeper-import",
		Short:         "Manage the lorekeeper entity store from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDBPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().BoolVar(&flagEmbeddings, "embeddings", false, "compute embeddings during ingestion (requires Ollama)")

	root.AddCommand(newImportCmd(), newWatchCmd(), newRefreshCmd(), newStatsCmd(), newBackupCmd(), newRestoreCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lorekeeper-import: %v\n", err)
		os.Exit(1)
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <archive-dir>",
		Short: "Import a content archive directory into the store",
		Long: `Import reads manifest.yaml from the archive directory, parses each
listed JSON record file, and stores the records under the document the
manifest declares. Files that fail to parse are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			result, err := importer.NewArchiveImporter(env.orchestrator, env.log).Import(signalContext(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("files: %d found, %d processed, %d failed\n",
				result.FilesFound, result.FilesProcessed, result.FilesFailed)
			fmt.Printf("entities stored: %d in %s\n", result.EntitiesStored, result.Duration.Round(time.Millisecond))
			for _, msg := range result.Errors {
				fmt.Fprintf(os.Stderr, "  error: %s\n", msg)
			}
			if result.FilesFailed > 0 {
				return fmt.Errorf("%d file(s) failed to import", result.FilesFailed)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <archive-dir>",
		Short: "Import an archive and re-import whenever its files change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			ctx := signalContext()
			imp := importer.NewArchiveImporter(env.orchestrator, env.log)

			runImport := func(dir string) {
				result, err := imp.Import(ctx, dir)
				if err != nil {
					env.log.Error("import failed", zap.String("dir", dir), zap.Error(err))
					return
				}
				env.log.Info("import complete",
					zap.Int("files_processed", result.FilesProcessed),
					zap.Int("files_failed", result.FilesFailed),
					zap.Int("entities_stored", result.EntitiesStored))
			}

			runImport(args[0])

			watcher := importer.NewWatcher(args[0], runImport, env.log)
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()

			<-ctx.Done()
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	var snapDir string
	var keep int

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a verified snapshot of the entity store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flagDBPath != "" {
				cfg.Database.Path = flagDBPath
			}
			if snapDir == "" {
				snapDir = filepath.Join(filepath.Dir(cfg.Database.Path), "snapshots")
			}

			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			info, err := backup.NewManager(cfg.Database.Path, snapDir, keep, log).Snapshot()
			if err != nil {
				return err
			}
			fmt.Printf("snapshot: %s (%d bytes)\n", info.Path, info.SizeBytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapDir, "dir", "", "snapshot directory (default: snapshots/ next to the database)")
	cmd.Flags().IntVar(&keep, "keep", 5, "snapshots to retain, oldest pruned first (0 keeps all)")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-file>",
		Short: "Replace the entity store with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flagDBPath != "" {
				cfg.Database.Path = flagDBPath
			}

			log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if err := backup.NewManager(cfg.Database.Path, "", 0, log).Restore(args[0]); err != nil {
				return err
			}
			fmt.Printf("restored %s from %s\n", cfg.Database.Path, args[0])
			return nil
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <entity-type>",
		Short: "Re-fetch one entity type from the remote reference APIs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityType := types.EntityType(args[0])
			if !types.IsValidEntityType(entityType) {
				return fmt.Errorf("unknown entity type %q", args[0])
			}

			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			n, err := env.orchestrator.Refresh(signalContext(), entityType, nil)
			if err != nil {
				return err
			}
			fmt.Printf("refreshed %d %s entities\n", n, entityType)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-type entity counts and database size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}
			defer env.close()

			stats, err := env.orchestrator.Stats(signalContext())
			if err != nil {
				return err
			}

			total := 0
			for _, entityType := range types.ValidEntityTypes {
				if n := stats.Counts[entityType]; n > 0 {
					fmt.Printf("%-12s %d\n", entityType, n)
					total += n
				}
			}
			fmt.Printf("%-12s %d\n", "total", total)
			fmt.Printf("%-12s %d bytes (schema v%d)\n", "size", stats.TotalSizeBytes, stats.SchemaVersion)
			return nil
		},
	}
}

// env bundles the wired components shared by all subcommands.
type env struct {
	orchestrator *cache.Orchestrator
	log          *zap.Logger
	closeFns     []func() error
}

func (e *env) close() {
	for i := len(e.closeFns) - 1; i >= 0; i-- {
		_ = e.closeFns[i]()
	}
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagDBPath != "" {
		cfg.Database.Path = flagDBPath
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := sqlite.NewEntityStore(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("open database at %q: %w", cfg.Database.Path, err)
	}

	var embedder embedding.Generator
	if flagEmbeddings || cfg.Embedding.Enabled {
		embedder = embedding.NewOllamaClient(embedding.OllamaConfig{
			BaseURL:       cfg.Embedding.OllamaURL,
			Model:         cfg.Embedding.Model,
			Timeout:       cfg.Embedding.Timeout,
			MaxInputRunes: cfg.Embedding.MaxInputRunes,
		})
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

	orchestrator := cache.NewOrchestrator(
		store,
		query.NewEngine(store, log),
		ingest.NewPipeline(embedder, log),
		registry,
		cache.Config{
			FetchTimeout:   cfg.Cache.FetchTimeout,
			RefreshTimeout: cfg.Cache.RefreshTimeout,
		},
		log,
	)

	return &env{
		orchestrator: orchestrator,
		log:          log,
		closeFns:     []func() error{store.Close, log.Sync},
	}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}
