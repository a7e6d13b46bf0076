package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriaj-nocrala/semcode/internal/chunk"
	"github.com/oriaj-nocrala/semcode/internal/config"
	"github.com/oriaj-nocrala/semcode/internal/embed"
	"github.com/oriaj-nocrala/semcode/internal/index"
	"github.com/oriaj-nocrala/semcode/internal/logging"
	"github.com/oriaj-nocrala/semcode/internal/output"
	"github.com/oriaj-nocrala/semcode/internal/scanner"
	"github.com/oriaj-nocrala/semcode/internal/search"
	"github.com/oriaj-nocrala/semcode/internal/store"
	"github.com/oriaj-nocrala/semcode/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch a directory and keep its index current between 'semcode index' runs",
		Long: `watch supplements the mtime-based freshness check 'semcode index' relies on
with an event-driven fast path: an fsnotify watcher (falling back to polling
where fsnotify is unavailable) feeds file create/modify/delete/rename events
straight to the indexing pipeline, so new and changed files are reflected in
search results without waiting for the next full 'semcode index' pass.

Requires a project already indexed with 'semcode index'. Press Ctrl+C to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(ctx, cmd, path)
		},
	}
	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	dataDir := filepath.Join(root, ".semcode")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'semcode index' first", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25Path := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25Path, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vector, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return fmt.Errorf("create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	engine, err := search.New(bm25, vector, embedder, metadata, engineConfig)
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}

	sc, err := scanner.New()
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		ProjectID:       hashString(root),
		RootPath:        root,
		DataDir:         dataDir,
		Engine:          engine,
		Metadata:        metadata,
		CodeChunker:     chunk.NewCodeChunker(),
		MDChunker:       chunk.NewMarkdownChunker(),
		Scanner:         sc,
		ExcludePatterns: cfg.Paths.Exclude,
	})

	out.Status("", fmt.Sprintf("Reconciling %s before watching...", root))
	if err := coordinator.ReconcileOnStartup(ctx); err != nil {
		slog.Warn("watch_startup_reconcile_failed", slog.String("error", err.Error()))
	}

	save := func() {
		if saveErr := bm25.Save(bm25Path); saveErr != nil {
			slog.Warn("watch_bm25_save_failed", slog.String("error", saveErr.Error()))
		}
		if saveErr := vector.Save(vectorPath); saveErr != nil {
			slog.Warn("watch_vector_save_failed", slog.String("error", saveErr.Error()))
		}
	}
	defer save()

	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx, root); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	out.Status("", fmt.Sprintf("Watching %s (%s) - press Ctrl+C to stop", root, w.WatcherType()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := coordinator.HandleEvents(ctx, events); err != nil {
				slog.Warn("watch_handle_events_failed", slog.String("error", err.Error()))
				continue
			}
			save()
		case werr, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watch_watcher_error", slog.String("error", werr.Error()))
		}
	}
}
