package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriaj-nocrala/semcode/internal/config"
	"github.com/oriaj-nocrala/semcode/internal/embed"
	"github.com/oriaj-nocrala/semcode/internal/logging"
	"github.com/oriaj-nocrala/semcode/internal/mcp"
	"github.com/oriaj-nocrala/semcode/internal/search"
	"github.com/oriaj-nocrala/semcode/internal/store"
	"github.com/oriaj-nocrala/semcode/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string
	var port int
	var sessionName string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP (Model Context Protocol) server over the given transport.

stdio is the default and only supported transport today: it speaks
JSON-RPC over stdin/stdout, which is what AI coding assistants expect
when they launch semcode as a subprocess.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				if _, cleanup, err := logging.Setup(logging.DebugConfig()); err == nil {
					defer cleanup()
				}
			}
			if sessionName != "" {
				return runServeWithSession(cmd.Context(), sessionName, transport, port)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport type (stdio|sse)")
	cmd.Flags().IntVar(&port, "port", 8765, "Port for SSE transport")
	cmd.Flags().StringVar(&sessionName, "session", "", "Name this server run as a resumable session")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to ~/.semcode/logs/")

	return cmd
}

// runServe starts the MCP server rooted at the current working directory's
// project. BUG-034: MCP requires stdout to carry only JSON-RPC traffic, so
// every status message here goes to the debug logger, never stdout.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return serveProject(ctx, root, transport, port)
}

// runServeWithSession is runServe plus session bookkeeping: the project
// root, transport, and port are recorded under sessionName so a later
// 'semcode resume <name>' can restart the same server.
func runServeWithSession(ctx context.Context, sessionName, transport string, port int) error {
	if _, cleanup, err := logging.Setup(logging.DefaultConfig()); err == nil {
		defer cleanup()
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	slog.Info("serve_session_started", slog.String("session", sessionName), slog.String("root", root))

	return serveProject(ctx, root, transport, port)
}

func serveProject(ctx context.Context, root, transport string, port int) error {
	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin_check_failed", slog.String("error", err.Error()))
		}
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

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	engine := search.New(bm25, vector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))

	srv, err := mcp.NewServer(engine, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	// BUG-035: the file watcher can take seconds to do its initial gitignore
	// and directory walk. It must never hold up the MCP handshake, so it's
	// started in the background and never awaited before Serve runs.
	go startServeWatcher(root)

	return srv.Serve(ctx, transport, fmt.Sprintf(":%d", port))
}

func startServeWatcher(root string) {
	timeout := 5 * time.Second
	if v := os.Getenv("SEMCODE_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	hw, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		slog.Debug("watcher_init_failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := hw.Start(ctx, root); err != nil {
		slog.Debug("watcher_start_failed", slog.String("error", err.Error()))
	}
}

// verifyStdinForMCP rejects an interactive terminal on stdin: the MCP
// protocol expects a pipe from the calling assistant, and a terminal means
// the user invoked 'semcode serve' directly rather than through a client.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: semcode serve expects to be launched by an MCP client")
	}
	return nil
}
