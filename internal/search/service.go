package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriaj-nocrala/semcode/internal/chunk"
	"github.com/oriaj-nocrala/semcode/internal/vectordb"
	"github.com/oriaj-nocrala/semcode/internal/watcher"
)

// indexParallelism bounds how many entries IndexCode embeds concurrently.
const indexParallelism = 4

// SearchType selects which shape of query buildQuery produces for a request.
type SearchType string

const (
	SearchTypeSimilarCode       SearchType = "similar_code"
	SearchTypeSimilarFunctions  SearchType = "similar_functions"
	SearchTypeSimilarComponents SearchType = "similar_components"
	SearchTypeGeneral           SearchType = "general"
	SearchTypeFileContext       SearchType = "file_context"
)

// SearchFilters narrow a result set after the pipeline has already ranked it.
type SearchFilters struct {
	Languages     []string
	CodeTypes     []vectordb.CodeType
	FilePatterns  []string
	ExcludeFiles  []string
	MinComplexity *float32
	MaxComplexity *float32
}

// SearchOptions controls response shape rather than ranking.
type SearchOptions struct {
	MaxResults      int
	IncludeMetadata bool
	ExplainRanking  bool
	UseCache        bool
}

// DefaultSearchOptions mirrors the production defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{MaxResults: 10, IncludeMetadata: true, ExplainRanking: false, UseCache: true}
}

// SearchRequest is the rich, caller-facing request shape. Language and
// Framework are interpreted according to Type: SimilarCode reads Language,
// SimilarComponents reads Framework, FileContext reads FilePath.
type SearchRequest struct {
	Query     string
	Type      SearchType
	Language  string
	Framework string
	FilePath  string
	Filters   SearchFilters
	Options   SearchOptions
}

// SearchResponse is the enriched, filtered, explained result of a search.
type SearchResponse struct {
	Results         []EnhancedResult
	TotalCandidates int
	SearchTimeMS    int64
	Explanation     string
	Suggestions     []string
}

// CodeIndexEntry is one fragment submitted for indexing.
type CodeIndexEntry struct {
	FilePath     string
	FunctionName string
	LineStart    int
	LineEnd      int
	CodeType     vectordb.CodeType
	Language     string
	Complexity   float32
	Content      string
}

// SearchServiceStats summarizes the service's current index and cache state.
type SearchServiceStats struct {
	TotalIndexedEntries int
	TotalFiles          int
	IndexSizeMB         float64
	Languages           map[string]int
	CodeTypes           map[string]int
}

// EnhancedSearchService composes a vector store, a semantic pipeline, and
// optional persistence into one indexing and search surface. It owns no
// back-reference to its caller: callers hold a *EnhancedSearchService, never
// the reverse.
type EnhancedSearchService struct {
	store       *vectordb.Store
	pipeline    *SemanticPipeline
	persistence *vectordb.Persistence
	// mu serializes index mutation (index/remove/update) against concurrent
	// saves; Store itself is already safe for concurrent reads and writes.
	mu     sync.Mutex
	logger *slog.Logger
}

// NewEnhancedSearchService wires a store, pipeline, and optional persistence
// (nil disables save-to-disk) into a service. A nil logger falls back to
// slog.Default().
func NewEnhancedSearchService(store *vectordb.Store, pipeline *SemanticPipeline, persistence *vectordb.Persistence, logger *slog.Logger) *EnhancedSearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnhancedSearchService{store: store, pipeline: pipeline, persistence: persistence, logger: logger}
}

// Search runs a SearchRequest through the pipeline, then applies
// post-ranking filters and builds a SearchResponse with timing, an optional
// ranking explanation, and follow-up suggestions.
func (s *EnhancedSearchService) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	start := time.Now()

	query := s.buildQuery(req)
	results, err := s.pipeline.Search(ctx, query)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("enhanced search: %w", err)
	}

	filtered := applyFilters(results, req.Filters)

	var explanation string
	if req.Options.ExplainRanking {
		explanation = generateExplanation(filtered)
	}

	return SearchResponse{
		Results:         filtered,
		TotalCandidates: len(filtered),
		SearchTimeMS:    time.Since(start).Milliseconds(),
		Explanation:     explanation,
		Suggestions:     generateSuggestions(req, filtered),
	}, nil
}

// IndexCode embeds each entry (bounded to indexParallelism concurrent
// embeddings), stores the results, then persists the store to disk if
// persistence is configured. An entry that fails to embed or that the store
// rejects is skipped, not fatal: IndexCode logs it and continues with the
// rest, returning the count that actually made it in.
func (s *EnhancedSearchService) IndexCode(ctx context.Context, entries []CodeIndexEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vectorEntries := make([]vectordb.VectorEntry, len(entries))
	ok := make([]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, indexParallelism)

	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return nil
			}

			vectorEntry, err := s.createVectorEntry(gctx, e)
			if err != nil {
				s.logger.Warn("skipping entry that failed to embed", slog.String("file", e.FilePath), slog.Any("error", err))
				return nil
			}
			vectorEntries[i] = vectorEntry
			ok[i] = true
			return nil
		})
	}
	// Embedding failures are logged and skipped above, never returned, so
	// the only possible error here is ctx cancellation.
	if err := g.Wait(); err != nil {
		return 0, err
	}

	indexed := 0
	for i, entry := range vectorEntries {
		if !ok[i] {
			continue
		}
		if err := s.store.Add(entry); err != nil {
			s.logger.Warn("skipping entry rejected by store", slog.String("file", entries[i].FilePath), slog.Any("error", err))
			continue
		}
		indexed++
	}

	if s.persistence != nil {
		if err := s.persistence.SaveBatched(s.store); err != nil {
			return indexed, fmt.Errorf("save index: %w", err)
		}
	}

	s.logger.Info("indexed code entries", slog.Int("count", indexed), slog.Int("requested", len(entries)))
	return indexed, nil
}

// RemoveFromIndex deletes every entry indexed from filePath and persists
// the resulting store.
func (s *EnhancedSearchService) RemoveFromIndex(filePath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.store.GetByFile(filePath)
	for _, e := range entries {
		if _, err := s.store.Delete(e.ID); err != nil {
			return 0, fmt.Errorf("delete %s: %w", e.ID, err)
		}
	}

	if s.persistence != nil {
		if err := s.persistence.SaveBatched(s.store); err != nil {
			return len(entries), fmt.Errorf("save index: %w", err)
		}
	}

	s.logger.Info("removed entries for file", slog.String("file", filePath), slog.Int("count", len(entries)))
	return len(entries), nil
}

// UpdateIndex replaces every entry indexed from filePath with entries.
func (s *EnhancedSearchService) UpdateIndex(ctx context.Context, filePath string, entries []CodeIndexEntry) (int, error) {
	if _, err := s.RemoveFromIndex(filePath); err != nil {
		return 0, err
	}
	return s.IndexCode(ctx, entries)
}

// GetStats reports the store's current size and distribution.
func (s *EnhancedSearchService) GetStats() SearchServiceStats {
	stats := s.store.Stats()
	return SearchServiceStats{
		TotalIndexedEntries: stats.TotalVectors,
		TotalFiles:          stats.TotalFiles,
		IndexSizeMB:         stats.IndexSizeMB,
		Languages:           stats.ByLanguage,
		CodeTypes:           stats.ByCodeType,
	}
}

// EntriesForFile returns every indexed entry belonging to filePath, in no
// particular order.
func (s *EnhancedSearchService) EntriesForFile(filePath string) []vectordb.VectorEntry {
	return s.store.GetByFile(filePath)
}

// FreshnessWatcher marks the index stale as soon as a tracked file changes,
// as a best-effort supplement to the mtime-based freshness check: it catches
// changes faster, but (like the mtime check) never distinguishes a modify
// from a delete, so a full rebuild is still needed to reconcile deletions.
type FreshnessWatcher struct {
	w      watcher.Watcher
	stale  atomic.Bool
	logger *slog.Logger
}

// NewFreshnessWatcher wraps an already-constructed watcher.Watcher (e.g. a
// *watcher.HybridWatcher) so its events flip a stale flag instead of driving
// reindexing directly; the caller decides when to act on staleness.
func NewFreshnessWatcher(w watcher.Watcher, logger *slog.Logger) *FreshnessWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FreshnessWatcher{w: w, logger: logger}
}

// Run starts the underlying watcher against root and consumes its events
// until ctx is cancelled or the watcher stops. It's meant to run in its own
// goroutine.
func (f *FreshnessWatcher) Run(ctx context.Context, root string) error {
	if err := f.w.Start(ctx, root); err != nil {
		return fmt.Errorf("start freshness watcher: %w", err)
	}
	defer f.w.Stop()

	events := f.w.Events()
	errs := f.w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.stale.Store(true)
			f.logger.Debug("index marked stale", slog.String("path", ev.Path), slog.String("op", ev.Operation.String()))
		case err, ok := <-errs:
			if !ok {
				continue
			}
			f.logger.Warn("freshness watcher error", slog.Any("error", err))
		}
	}
}

// Stale reports whether a file change has been observed since the last
// ClearStale call.
func (f *FreshnessWatcher) Stale() bool {
	return f.stale.Load()
}

// ClearStale resets the stale flag, typically right after a reindex.
func (f *FreshnessWatcher) ClearStale() {
	f.stale.Store(false)
}

// buildQuery translates a caller-facing SearchRequest into the pipeline's
// internal Query shape, per request Type.
func (s *EnhancedSearchService) buildQuery(req SearchRequest) Query {
	query := Query{Text: req.Query, MaxResults: req.Options.MaxResults}

	switch req.Type {
	case SearchTypeSimilarCode:
		query.Language = req.Language
	case SearchTypeSimilarFunctions:
		query.CodeType = vectordb.CodeTypeFunction
	case SearchTypeSimilarComponents:
		query.CodeType = vectordb.CodeTypeComponent
		query.Language = req.Framework
	case SearchTypeFileContext:
		query.FileContext = req.FilePath
		query.Language = languageFromPath(req.FilePath)
	case SearchTypeGeneral, "":
		// no extra constraints
	}

	return query
}

// applyFilters narrows results to those matching every non-empty filter.
// Filters compose with AND; within a single filter, values compose with OR
// (e.g. any one of Languages matching is enough).
func applyFilters(results []EnhancedResult, filters SearchFilters) []EnhancedResult {
	kept := results[:0]
	for _, r := range results {
		if len(filters.Languages) > 0 && !containsFold(filters.Languages, r.Entry.Metadata.Language) {
			continue
		}
		if len(filters.CodeTypes) > 0 && !containsCodeType(filters.CodeTypes, r.Entry.Metadata.CodeType) {
			continue
		}
		if len(filters.FilePatterns) > 0 && !anySubstring(filters.FilePatterns, r.Entry.Metadata.FilePath) {
			continue
		}
		if anySubstring(filters.ExcludeFiles, r.Entry.Metadata.FilePath) {
			continue
		}
		if filters.MinComplexity != nil && r.Entry.Metadata.Complexity < *filters.MinComplexity {
			continue
		}
		if filters.MaxComplexity != nil && r.Entry.Metadata.Complexity > *filters.MaxComplexity {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func containsCodeType(haystack []vectordb.CodeType, needle vectordb.CodeType) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func anySubstring(patterns []string, s string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// generateExplanation renders a short human-readable breakdown of the top
// three results' scores.
func generateExplanation(results []EnhancedResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	explanation := "Search results explanation:\n\n"
	for i, r := range results {
		if i >= 3 {
			break
		}
		explanation += fmt.Sprintf("Result #%d: %s\n", i+1, r.Entry.Metadata.FilePath)
		explanation += fmt.Sprintf("  - Embedding similarity: %.3f\n", r.EmbeddingSimilarity)
		explanation += fmt.Sprintf("  - Rerank score: %.3f\n", r.RerankScore)
		explanation += fmt.Sprintf("  - Combined score: %.3f\n", r.CombinedScore)
		explanation += fmt.Sprintf("  - Confidence: %.3f\n\n", r.Confidence)
	}
	return explanation
}

// generateSuggestions offers follow-up queries when results are sparse.
func generateSuggestions(req SearchRequest, results []EnhancedResult) []string {
	var suggestions []string

	switch {
	case len(results) == 0:
		suggestions = append(suggestions,
			"Try using different keywords",
			"Check spelling and syntax",
			"Use more general terms")
	case len(results) < 3:
		suggestions = append(suggestions, "Try broader search terms", "Remove some filters")
	}

	if len(req.Filters.Languages) == 1 {
		suggestions = append(suggestions, fmt.Sprintf("Try searching in other languages besides %s", req.Filters.Languages[0]))
	}

	return suggestions
}

// createVectorEntry embeds content and assembles the metadata a CodeIndexEntry
// needs to become a vectordb.VectorEntry. The entry ID is
// "<file_path>:<line_start>:<line_end>", matching vectordb's convention.
func (s *EnhancedSearchService) createVectorEntry(ctx context.Context, e CodeIndexEntry) (vectordb.VectorEntry, error) {
	embedding, err := s.pipeline.embedder.Embed(ctx, e.Content)
	if err != nil {
		return vectordb.VectorEntry{}, fmt.Errorf("embed content: %w", err)
	}

	metadata := vectordb.CodeMetadata{
		FilePath:     e.FilePath,
		FunctionName: e.FunctionName,
		LineStart:    e.LineStart,
		LineEnd:      e.LineEnd,
		CodeType:     e.CodeType,
		Language:     e.Language,
		Complexity:   e.Complexity,
		Tokens:       chunk.Tokens(e.Content, nil),
		Hash:         contentHash(e.Content),
	}

	now := time.Now()
	return vectordb.VectorEntry{
		ID:        fmt.Sprintf("%s:%d:%d", metadata.FilePath, metadata.LineStart, metadata.LineEnd),
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// languageFromPath guesses a source language from a file extension, for
// FileContext searches where the caller hasn't named a language explicitly.
func languageFromPath(path string) string {
	switch filepath.Ext(path) {
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".java":
		return "java"
	case ".cpp", ".cc", ".cxx":
		return "cpp"
	case ".c":
		return "c"
	case ".rs":
		return "rust"
	default:
		return ""
	}
}
