package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriaj-nocrala/semcode/internal/config"
	"github.com/oriaj-nocrala/semcode/internal/embed"
	"github.com/oriaj-nocrala/semcode/internal/store"
)

// DebugInfo is a deeper diagnostic snapshot than status, covering each
// storage layer individually (metadata, BM25, vectors) plus embedder
// availability. It's the --json shape for 'semcode debug'.
type DebugInfo struct {
	ProjectRoot string `json:"project_root"`
	IndexPath   string `json:"index_path"`

	FileCount   int       `json:"file_count"`
	ChunkCount  int       `json:"chunk_count"`
	LastIndexed time.Time `json:"last_indexed"`

	MetadataSizeBytes int64 `json:"metadata_size_bytes"`

	BM25DocCount   int   `json:"bm25_doc_count"`
	BM25SizeBytes  int64 `json:"bm25_size_bytes"`
	BM25Backend    string `json:"bm25_backend"`

	VectorCount      int   `json:"vector_count"`
	VectorSizeBytes  int64 `json:"vector_size_bytes"`
	VectorDimensions int   `json:"vector_dimensions"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	EmbedderAvailable bool  `json:"embedder_available"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print detailed per-layer diagnostics for the current index",
		Long: `Report metadata, BM25, vector store, and embedder state individually.

Unlike 'semcode status', which summarizes index health, 'semcode debug'
opens each storage layer and reports its own counters, sizes, and
availability, useful when status looks healthy but search doesn't.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDebug(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDebug(cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".semcode")

	metadataPath := filepath.Join(dataDir, "metadata.db")
	if !fileExists(metadataPath) {
		return fmt.Errorf("no index found in %s\nRun 'semcode index' to create one", root)
	}

	info, err := collectDebugInfo(cmd.Context(), root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect debug info: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	renderDebugInfo(cmd, info)
	return nil
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{ProjectRoot: root, IndexPath: dataDir}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	if project, err := metadata.GetProject(ctx, projectID); err == nil && project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.LastIndexed = project.IndexedAt
	}
	info.MetadataSizeBytes = getFileSize(metadataPath)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	bm25Backend := cfg.Search.BM25Backend
	if bm25Backend == "" {
		bm25Backend = "sqlite"
	}
	info.BM25Backend = bm25Backend
	bm25BasePath := filepath.Join(dataDir, "bm25")
	if bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), bm25Backend); err == nil {
		if ids, err := bm25.AllIDs(); err == nil {
			info.BM25DocCount = len(ids)
		}
		_ = bm25.Close()
	}
	if size := getFileSize(filepath.Join(dataDir, "bm25.db")); size > 0 {
		info.BM25SizeBytes = size
	} else {
		info.BM25SizeBytes = getDirSize(filepath.Join(dataDir, "bm25.bleve"))
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorSizeBytes = getFileSize(vectorPath)
	if dims, err := store.ReadHNSWStoreDimensions(vectorPath); err == nil && dims > 0 {
		info.VectorDimensions = dims
		if vecCfg := store.DefaultVectorStoreConfig(dims); true {
			if vector, err := store.NewHNSWStore(vecCfg); err == nil {
				if loadErr := vector.Load(vectorPath); loadErr == nil {
					info.VectorCount = vector.Count()
				}
				_ = vector.Close()
			}
		}
	}

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	info.EmbedderProvider = provider.String()
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "default"
	}
	if embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model); err == nil {
		info.EmbedderAvailable = embedder.Available(ctx)
		_ = embedder.Close()
	}

	return info, nil
}

func renderDebugInfo(cmd *cobra.Command, info DebugInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "SemCode Debug Info")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "Project root: %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Index path:   %s\n", info.IndexPath)
	fmt.Fprintf(out, "Last indexed: %s (%s)\n\n", info.LastIndexed.Format(time.RFC3339), formatAge(info.LastIndexed))

	fmt.Fprintln(out, "FILES & CHUNKS")
	fmt.Fprintf(out, "  files:  %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  chunks: %s\n\n", formatNumber(info.ChunkCount))

	fmt.Fprintln(out, "BM25 INDEX")
	fmt.Fprintf(out, "  backend:   %s\n", info.BM25Backend)
	fmt.Fprintf(out, "  documents: %s\n", formatNumber(info.BM25DocCount))
	fmt.Fprintf(out, "  size:      %s\n\n", formatBytes(info.BM25SizeBytes))

	fmt.Fprintln(out, "VECTOR STORE")
	fmt.Fprintf(out, "  vectors:   %s\n", formatNumber(info.VectorCount))
	fmt.Fprintf(out, "  dimension: %d\n", info.VectorDimensions)
	fmt.Fprintf(out, "  size:      %s\n\n", formatBytes(info.VectorSizeBytes))

	fmt.Fprintln(out, "EMBEDDER")
	fmt.Fprintf(out, "  provider:  %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  model:     %s\n", info.EmbedderModel)
	fmt.Fprintf(out, "  available: %t\n\n", info.EmbedderAvailable)

	fmt.Fprintln(out, "STORAGE")
	total := info.MetadataSizeBytes + info.BM25SizeBytes + info.VectorSizeBytes
	fmt.Fprintf(out, "  metadata: %s\n", formatBytes(info.MetadataSizeBytes))
	fmt.Fprintf(out, "  bm25:     %s\n", formatBytes(info.BM25SizeBytes))
	fmt.Fprintf(out, "  vectors:  %s\n", formatBytes(info.VectorSizeBytes))
	fmt.Fprintf(out, "  total:    %s\n", formatBytes(total))
}

// formatAge renders a human-readable age for a timestamp, or "unknown" for
// the zero value.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < 30*time.Second:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatNumber renders n with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var groups []string
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)
	out := strings.Join(groups, ",")
	if neg {
		out = "-" + out
	}
	return out
}

// formatBytes renders a byte count using binary (1024-based) units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(n)/float64(div), units[exp])
}

// formatLanguages renders a language -> share breakdown sorted by share
// descending, e.g. "go (50%), ts (30%), md (20%)".
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}
	type pair struct {
		lang  string
		share float64
	}
	pairs := make([]pair, 0, len(langs))
	for l, s := range langs {
		pairs = append(pairs, pair{l, s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].share != pairs[j].share {
			return pairs[i].share > pairs[j].share
		}
		return pairs[i].lang < pairs[j].lang
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", p.lang, p.share*100)
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension folds near-synonymous file extensions onto one
// canonical language tag (tsx -> ts, yml -> yaml, htm -> html, and so on).
func normalizeExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return strings.ToLower(ext)
	}
}
