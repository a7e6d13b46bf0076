package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriaj-nocrala/semcode/internal/chunk"
	"github.com/oriaj-nocrala/semcode/internal/config"
	"github.com/oriaj-nocrala/semcode/internal/embed"
	"github.com/oriaj-nocrala/semcode/internal/logging"
	"github.com/oriaj-nocrala/semcode/internal/output"
	"github.com/oriaj-nocrala/semcode/internal/search"
	"github.com/oriaj-nocrala/semcode/internal/store"
	"github.com/oriaj-nocrala/semcode/internal/vectordb"
)

// newMLCmd is the parent of the semantic-layer subcommands: context,
// impact, patterns, search, optimize, models. Unlike 'semcode search'
// (BM25 + vector hybrid, RRF fusion), these run the embed -> candidate ->
// rerank semantic pipeline behind internal/search.EnhancedSearchService,
// the same engine the HTTP tool surface (internal/httpapi) exposes.
func newMLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ml",
		Short: "Semantic-pipeline commands (context, impact, patterns, search, optimize, models)",
		Long: `ml exposes the semantic retrieval pipeline directly from the CLI:
embed the query, retrieve LSH candidates, rerank, and either return the
ranked results (search), a token-budgeted packed context (context,
optimize), a per-file report (impact, patterns), or embedder/reranker
info (models).`,
	}

	cmd.AddCommand(newMLSearchCmd())
	cmd.AddCommand(newMLContextCmd())
	cmd.AddCommand(newMLOptimizeCmd())
	cmd.AddCommand(newMLImpactCmd())
	cmd.AddCommand(newMLPatternsCmd())
	cmd.AddCommand(newMLModelsCmd())

	return cmd
}

// mlDeps are the subsystems every ml subcommand (except models) needs.
type mlDeps struct {
	search    *search.EnhancedSearchService
	optimizer *search.ContextOptimizer
	embedder  embed.Embedder
}

func (d *mlDeps) Close() {
	if d.embedder != nil {
		_ = d.embedder.Close()
	}
}

// buildMLDeps opens the project's metadata/BM25 stores read-only to learn
// what's indexed, builds (or loads, if already persisted) a semantic
// vector store from them, and wires the pipeline around it.
func buildMLDeps(ctx context.Context, root string) (*mlDeps, error) {
	dataDir := filepath.Join(root, ".semcode")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return nil, fmt.Errorf("no index found in %s\nRun 'semcode index' first", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	vdbConfig := vectordb.DefaultVectorDBConfig()
	vdbConfig.SimilarityThreshold = float32(cfg.VectorDB.SimilarityThreshold)
	if cfg.VectorDB.LSHBands > 0 {
		vdbConfig.NumTables = cfg.VectorDB.LSHBands
	}
	if cfg.VectorDB.LSHRows > 0 {
		vdbConfig.HashBits = cfg.VectorDB.LSHRows
	}
	semanticDir := filepath.Join(dataDir, "semantic")
	vdbConfig.EnablePersistence = true
	vdbConfig.CacheDir = semanticDir

	vstore := vectordb.NewStore(embedder.Dimensions(), vdbConfig)
	persistence := vectordb.NewPersistence(semanticDir)
	if err := persistence.LoadSingle(vstore); err != nil {
		slog.Debug("semantic_store_load_failed", slog.String("error", err.Error()))
	}

	pipelineConfig := search.PipelineConfig{
		LSHCandidates:   cfg.Semantic.LSHCandidates,
		FinalResults:    cfg.Semantic.FinalResults,
		LSHThreshold:    float32(cfg.Semantic.LSHThreshold),
		RerankThreshold: float32(cfg.Semantic.RerankThreshold),
	}
	// The CLI runs one-shot, offline-friendly commands: a cross-encoder
	// reranker would mean a network round trip (or a loaded model) per
	// invocation just to reorder results the embedding similarity already
	// ranked reasonably. NoOpReranker keeps the embedding order and scores
	// everything at 1.0, same tradeoff status.go's StaticEmbedder makes for
	// --bm25-only search.
	pipeline := search.NewSemanticPipeline(vstore, embedder, &search.NoOpReranker{}, pipelineConfig, nil)
	svc := search.NewEnhancedSearchService(vstore, pipeline, persistence, nil)

	if len(vstore.GetAll()) == 0 {
		if err := populateSemanticStore(ctx, svc, root, dataDir); err != nil {
			slog.Warn("semantic_store_populate_failed", slog.String("error", err.Error()))
		} else if err := persistence.SaveSingle(vstore); err != nil {
			slog.Debug("semantic_store_save_failed", slog.String("error", err.Error()))
		}
	}

	return &mlDeps{search: svc, optimizer: search.NewContextOptimizer(), embedder: embedder}, nil
}

// populateSemanticStore seeds the semantic vector store from chunks the
// BM25/metadata index already parsed, so 'ml' commands work immediately
// after 'semcode index' without a separate embedding pass.
func populateSemanticStore(ctx context.Context, svc *search.EnhancedSearchService, root, dataDir string) error {
	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	paths, err := metadata.GetFilePathsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list project files: %w", err)
	}

	var entries []search.CodeIndexEntry
	for _, path := range paths {
		file, err := metadata.GetFileByPath(ctx, projectID, path)
		if err != nil || file == nil {
			continue
		}
		chunks, err := metadata.GetChunksByFile(ctx, file.ID)
		if err != nil {
			continue
		}
		for _, c := range chunks {
			content := c.Fragment
			if content == "" {
				content = c.RawContent
			}
			var functionName string
			if len(c.Symbols) > 0 {
				functionName = c.Symbols[0].Name
			}
			entries = append(entries, search.CodeIndexEntry{
				FilePath:     c.FilePath,
				FunctionName: functionName,
				LineStart:    c.StartLine,
				LineEnd:      c.EndLine,
				CodeType:     codeTypeFromSymbols(c),
				Language:     c.Language,
				Complexity:   chunk.Complexity(c.RawContent),
				Content:      content,
			})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	_, err = svc.IndexCode(ctx, entries)
	return err
}

func codeTypeFromSymbols(c *store.Chunk) vectordb.CodeType {
	if len(c.Symbols) == 0 {
		return vectordb.CodeTypeModule
	}
	switch string(c.Symbols[0].Type) {
	case "function", "func", "method":
		return vectordb.CodeTypeFunction
	case "class", "struct":
		return vectordb.CodeTypeClass
	case "interface":
		return vectordb.CodeTypeInterface
	default:
		return vectordb.CodeTypeModule
	}
}

func mlProjectRoot() string {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	return root
}

func setupMLLogging() func() {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		return cleanup
	}
	return func() {}
}

func newMLSearchCmd() *cobra.Command {
	var maxResults int
	var format string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the semantic pipeline and explain how results ranked",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer setupMLLogging()()
			query := strings.Join(args, " ")
			deps, err := buildMLDeps(cmd.Context(), mlProjectRoot())
			if err != nil {
				return err
			}
			defer deps.Close()

			resp, err := deps.search.Search(cmd.Context(), search.SearchRequest{
				Query:   query,
				Type:    search.SearchTypeGeneral,
				Options: search.SearchOptions{MaxResults: maxResults, ExplainRanking: true},
			})
			if err != nil {
				return err
			}

			if format == "json" {
				return printJSON(cmd, resp)
			}
			return printMLSearchText(cmd, query, resp)
		},
	}

	cmd.Flags().IntVarP(&maxResults, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func printMLSearchText(cmd *cobra.Command, query string, resp search.SearchResponse) error {
	out := output.New(cmd.OutOrStdout())
	out.Statusf("🔍", "%d candidates, %d results for %q", resp.TotalCandidates, len(resp.Results), query)
	out.Newline()
	for i, r := range resp.Results {
		out.Statusf("", "%d. %s (combined: %.3f, embed: %.3f, rerank: %.3f)",
			i+1, r.Entry.Metadata.FilePath, r.CombinedScore, r.EmbeddingSimilarity, r.RerankScore)
	}
	if resp.Explanation != "" {
		out.Newline()
		out.Status("", resp.Explanation)
	}
	for _, s := range resp.Suggestions {
		out.Status("", "suggestion: "+s)
	}
	return nil
}

func newMLContextCmd() *cobra.Command {
	var maxTokens int
	var includeTests bool

	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Assemble a token-budgeted code context for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer setupMLLogging()()
			query := strings.Join(args, " ")
			deps, err := buildMLDeps(cmd.Context(), mlProjectRoot())
			if err != nil {
				return err
			}
			defer deps.Close()

			resp, err := deps.search.Search(cmd.Context(), search.SearchRequest{
				Query:   query,
				Type:    search.SearchTypeGeneral,
				Options: search.SearchOptions{MaxResults: 20},
			})
			if err != nil {
				return err
			}

			optimized := deps.optimizer.Optimize(resp.Results, maxTokens, includeTests, false)
			fmt.Fprintln(cmd.OutOrStdout(), optimized.Context)
			fmt.Fprintln(cmd.ErrOrStderr(), optimized.Summary)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 4000, "Token budget for the assembled context")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "Include test files in the context")
	return cmd
}

func newMLOptimizeCmd() *cobra.Command {
	var maxTokens int
	var includeTests bool

	cmd := &cobra.Command{
		Use:   "optimize <query>",
		Short: "Report how a context would be packed for a query, without printing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer setupMLLogging()()
			query := strings.Join(args, " ")
			deps, err := buildMLDeps(cmd.Context(), mlProjectRoot())
			if err != nil {
				return err
			}
			defer deps.Close()

			resp, err := deps.search.Search(cmd.Context(), search.SearchRequest{
				Query:   query,
				Type:    search.SearchTypeGeneral,
				Options: search.SearchOptions{MaxResults: 20},
			})
			if err != nil {
				return err
			}

			optimized := deps.optimizer.Optimize(resp.Results, maxTokens, includeTests, false)
			return printJSON(cmd, map[string]any{
				"files":        optimized.Files,
				"total_tokens": optimized.TotalTokens,
				"summary":      optimized.Summary,
			})
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 4000, "Token budget to optimize against")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "Include test files when packing")
	return cmd
}

func newMLImpactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "impact <file>",
		Short: "Report the indexed entries a file contributes to the semantic store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer setupMLLogging()()
			deps, err := buildMLDeps(cmd.Context(), mlProjectRoot())
			if err != nil {
				return err
			}
			defer deps.Close()

			entries := deps.search.EntriesForFile(args[0])
			return printJSON(cmd, map[string]any{
				"file_path":   args[0],
				"entry_count": len(entries),
				"entries":     entries,
			})
		},
	}
	return cmd
}

func newMLPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns <file>",
		Short: "Summarize the code-type and symbol patterns indexed for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer setupMLLogging()()
			deps, err := buildMLDeps(cmd.Context(), mlProjectRoot())
			if err != nil {
				return err
			}
			defer deps.Close()

			entries := deps.search.EntriesForFile(args[0])
			byType := make(map[string]int)
			for _, e := range entries {
				byType[string(e.Metadata.CodeType)]++
			}
			return printJSON(cmd, map[string]any{
				"file_path":   args[0],
				"entry_count": len(entries),
				"by_type":     byType,
			})
		},
	}
	return cmd
}

func newMLModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Report the embedder and reranker this project would use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer setupMLLogging()()
			root := mlProjectRoot()
			cfg, err := config.Load(root)
			if err != nil {
				cfg = config.NewConfig()
			}

			provider := embed.ParseProvider(cfg.Embeddings.Provider)
			embedder, err := embed.NewEmbedder(cmd.Context(), provider, cfg.Embeddings.Model)
			if err != nil {
				return fmt.Errorf("create embedder: %w", err)
			}
			defer func() { _ = embedder.Close() }()

			info := embed.GetInfo(cmd.Context(), embedder)
			return printJSON(cmd, map[string]any{
				"embedder": map[string]any{
					"provider":   info.Provider,
					"model":      info.Model,
					"dimensions": info.Dimensions,
					"available":  info.Available,
				},
				"reranker":        "noop (CLI runs offline-friendly, embedding order only)",
				"valid_providers": embed.ValidProviders(),
			})
		},
	}
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
