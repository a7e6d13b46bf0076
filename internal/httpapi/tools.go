package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/oriaj-nocrala/semcode/internal/async"
	"github.com/oriaj-nocrala/semcode/internal/cache"
	"github.com/oriaj-nocrala/semcode/internal/search"
)

// ToolDeps are the subsystems the default tool registry is built on. Three of
// the nine tool names this registry must expose — project_overview,
// changes_analysis, file_summary — have no grounding source in this tree
// beyond their names and a brief mention in the transport layer they're
// reachable from: they're implemented here as thin reports over the search
// index (EntriesForFile, GetStats) rather than the richer project/git
// analysis their names suggest, since the subsystem that would back that
// analysis was never part of this tree.
type ToolDeps struct {
	Search *search.EnhancedSearchService
	Cache  *cache.ResponseCache
	// DataDir is where a generate_cache run's lock file lives.
	DataDir string
}

// NewDefaultRegistry builds the registry of named tools reachable over both
// the HTTP surface and the stdio MCP transport.
func NewDefaultRegistry(deps ToolDeps) *Registry {
	reg := NewRegistry()
	t := &tools{deps: deps, optimizer: search.NewContextOptimizer()}

	reg.Register(Tool{
		Name:        "smart_context",
		Description: "Assemble a token-budgeted code context for a query, ranked by relevance.",
		ParamsType:  reflect.TypeOf(SmartContextInput{}),
		Handle:      t.smartContext,
	})
	reg.Register(Tool{
		Name:        "explore_codebase",
		Description: "Search the codebase and explain why each result ranked where it did.",
		ParamsType:  reflect.TypeOf(ExploreCodebaseInput{}),
		Handle:      t.exploreCodebase,
	})
	reg.Register(Tool{
		Name:        "project_overview",
		Description: "Report index size, language, and code-type distribution for the project.",
		ParamsType:  reflect.TypeOf(ProjectOverviewInput{}),
		Handle:      t.projectOverview,
	})
	reg.Register(Tool{
		Name:        "changes_analysis",
		Description: "Report the currently indexed entries for a file.",
		ParamsType:  reflect.TypeOf(FilePathInput{}),
		Handle:      t.changesAnalysis,
	})
	reg.Register(Tool{
		Name:        "file_summary",
		Description: "Summarize the indexed functions, classes, and components in a file.",
		ParamsType:  reflect.TypeOf(FilePathInput{}),
		Handle:      t.fileSummary,
	})
	reg.Register(Tool{
		Name:        "cache_status",
		Description: "Report response-cache hit rate, size, and eviction counters.",
		ParamsType:  nil,
		Handle:      t.cacheStatus,
	})
	reg.Register(Tool{
		Name:        "generate_cache",
		Description: "Pre-warm the response cache with a batch of prompt/response pairs, in the background.",
		ParamsType:  reflect.TypeOf(GenerateCacheInput{}),
		Handle:      t.generateCache,
	})
	reg.Register(Tool{
		Name:        "cache_generation_status",
		Description: "Report the state of the most recently started generate_cache run.",
		ParamsType:  nil,
		Handle:      t.cacheGenerationStatus,
	})
	reg.Register(Tool{
		Name:        "clear_cache",
		Description: "Empty the response cache and reset its stats.",
		ParamsType:  nil,
		Handle:      t.clearCache,
	})

	return reg
}

type tools struct {
	deps      ToolDeps
	optimizer *search.ContextOptimizer

	genMu  sync.Mutex
	genJob *async.BackgroundIndexer
}

// SmartContextInput requests a token-budgeted context assembly.
type SmartContextInput struct {
	Query               string `json:"query" jsonschema:"the search query to build context around"`
	MaxTokens           int    `json:"max_tokens,omitempty" jsonschema:"token budget, default 4000"`
	IncludeTests        bool   `json:"include_tests,omitempty" jsonschema:"include test files in the context"`
	IncludeDependencies bool   `json:"include_dependencies,omitempty" jsonschema:"include each result's dependencies (not yet implemented)"`
}

func (t *tools) smartContext(ctx *RequestContext, raw json.RawMessage) (any, error) {
	var in SmartContextInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if in.MaxTokens <= 0 {
		in.MaxTokens = 4000
	}

	resp, err := t.deps.Search.Search(ctx, search.SearchRequest{
		Query:   in.Query,
		Type:    search.SearchTypeGeneral,
		Options: search.SearchOptions{MaxResults: 20, UseCache: true},
	})
	if err != nil {
		return nil, err
	}

	return t.optimizer.Optimize(resp.Results, in.MaxTokens, in.IncludeTests, in.IncludeDependencies), nil
}

// ExploreCodebaseInput requests an explained, ranked search.
type ExploreCodebaseInput struct {
	Query      string `json:"query" jsonschema:"the search query"`
	SearchType string `json:"search_type,omitempty" jsonschema:"one of general, similar_code, similar_functions, similar_components, file_context"`
	Language   string `json:"language,omitempty" jsonschema:"restrict similar_code results to this language"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum results to return, default 10"`
}

func (t *tools) exploreCodebase(ctx *RequestContext, raw json.RawMessage) (any, error) {
	var in ExploreCodebaseInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if in.MaxResults <= 0 {
		in.MaxResults = 10
	}
	searchType := search.SearchTypeGeneral
	if in.SearchType != "" {
		searchType = search.SearchType(in.SearchType)
	}

	return t.deps.Search.Search(ctx, search.SearchRequest{
		Query:    in.Query,
		Type:     searchType,
		Language: in.Language,
		Options:  search.SearchOptions{MaxResults: in.MaxResults, ExplainRanking: true, UseCache: true},
	})
}

// ProjectOverviewInput takes no parameters.
type ProjectOverviewInput struct{}

func (t *tools) projectOverview(ctx *RequestContext, raw json.RawMessage) (any, error) {
	return t.deps.Search.GetStats(), nil
}

// FilePathInput names a single indexed file.
type FilePathInput struct {
	FilePath string `json:"file_path" jsonschema:"path of the file to report on, relative to the project root"`
}

func (t *tools) changesAnalysis(ctx *RequestContext, raw json.RawMessage) (any, error) {
	var in FilePathInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	entries := t.deps.Search.EntriesForFile(in.FilePath)
	return map[string]any{
		"file_path":   in.FilePath,
		"entry_count": len(entries),
		"entries":     entries,
	}, nil
}

func (t *tools) fileSummary(ctx *RequestContext, raw json.RawMessage) (any, error) {
	var in FilePathInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	entries := t.deps.Search.EntriesForFile(in.FilePath)

	byType := make(map[string]int)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		byType[string(e.Metadata.CodeType)]++
		if e.Metadata.FunctionName != "" {
			names = append(names, e.Metadata.FunctionName)
		}
	}
	return map[string]any{
		"file_path":   in.FilePath,
		"entry_count": len(entries),
		"by_type":     byType,
		"symbols":     names,
	}, nil
}

func (t *tools) cacheStatus(ctx *RequestContext, raw json.RawMessage) (any, error) {
	stats := t.deps.Cache.Stats()
	return map[string]any{
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
		"size":      t.deps.Cache.Size(),
		"hit_rate":  t.deps.Cache.HitRate(),
	}, nil
}

// GenerateCacheInput is a batch of prompt/response pairs to pre-warm.
type GenerateCacheInput struct {
	Entries []WarmEntryInput `json:"entries" jsonschema:"prompt/response/model triples to pre-warm the cache with"`
}

// WarmEntryInput mirrors cache.WarmEntry for JSON transport.
type WarmEntryInput struct {
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	ModelType string `json:"model_type"`
}

func (t *tools) generateCache(ctx *RequestContext, raw json.RawMessage) (any, error) {
	var in GenerateCacheInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	t.genMu.Lock()
	if t.genJob != nil && t.genJob.IsRunning() {
		t.genMu.Unlock()
		return nil, fmt.Errorf("a generate_cache run is already in progress")
	}
	job := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: t.deps.DataDir})
	entries := make([]cache.WarmEntry, len(in.Entries))
	for i, e := range in.Entries {
		entries[i] = cache.WarmEntry{Prompt: e.Prompt, Response: e.Response, ModelType: e.ModelType}
	}
	job.IndexFunc = func(_ context.Context, progress *async.IndexProgress) error {
		progress.SetStage(async.StageIndexing, len(entries))
		t.deps.Cache.PreWarm(entries)
		progress.UpdateFiles(len(entries))
		return t.deps.Cache.Save()
	}
	t.genJob = job
	t.genMu.Unlock()

	// Runs detached from the request: the HTTP handler returns as soon as
	// the job is scheduled, and r.Context() would be canceled the moment it
	// does, killing the background run before it finishes.
	job.Start(context.Background())
	return map[string]any{"started": true, "entries": len(entries)}, nil
}

func (t *tools) cacheGenerationStatus(ctx *RequestContext, raw json.RawMessage) (any, error) {
	t.genMu.Lock()
	job := t.genJob
	t.genMu.Unlock()

	if job == nil {
		return map[string]any{"status": "idle"}, nil
	}
	snapshot := job.Progress().Snapshot()
	return map[string]any{
		"running":  job.IsRunning(),
		"progress": snapshot,
	}, nil
}

func (t *tools) clearCache(ctx *RequestContext, raw json.RawMessage) (any, error) {
	if err := t.deps.Cache.Clear(); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": true}, nil
}
