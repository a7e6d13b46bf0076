package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oriaj-nocrala/semcode/internal/embed"
	"github.com/oriaj-nocrala/semcode/internal/vectordb"
)

// PipelineConfig configures a SemanticPipeline.
type PipelineConfig struct {
	// LSHCandidates is how many candidates to pull from the vector store
	// before reranking.
	LSHCandidates int
	// FinalResults caps the number of results returned after reranking,
	// when the query doesn't specify its own limit.
	FinalResults int
	// LSHThreshold is the minimum embedding similarity a candidate must
	// clear to survive the first stage.
	LSHThreshold float32
	// RerankThreshold is the minimum cross-encoder score a candidate must
	// clear to survive the final stage. Production default is 0.3 — see
	// DESIGN.md's Open Question resolution for why 0.001 is a debug value.
	RerankThreshold float32
}

// DefaultPipelineConfig returns the documented production defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		LSHCandidates:   100,
		FinalResults:    10,
		LSHThreshold:    0.1,
		RerankThreshold: 0.3,
	}
}

// Query describes one search request.
type Query struct {
	Text        string
	CodeType    vectordb.CodeType // empty means unfiltered
	Language    string            // empty means unfiltered, matched case-insensitively
	FileContext string
	MaxResults  int // 0 means use PipelineConfig.FinalResults
}

// EnhancedResult pairs a vector entry with both the embedding-similarity
// and reranker scores that produced its final ranking.
type EnhancedResult struct {
	Entry               vectordb.VectorEntry
	EmbeddingSimilarity float32
	RerankScore         float32
	CombinedScore       float32
	Confidence          float32
}

// SemanticPipeline runs the embed -> candidate-retrieve -> rerank -> fuse
// two-stage retrieval pipeline over a vectordb.Store.
type SemanticPipeline struct {
	store    *vectordb.Store
	embedder embed.Embedder
	reranker Reranker
	config   PipelineConfig
	logger   *slog.Logger
}

// NewSemanticPipeline wires a store, embedder, and reranker into a pipeline.
// A nil logger falls back to slog.Default().
func NewSemanticPipeline(store *vectordb.Store, embedder embed.Embedder, reranker Reranker, config PipelineConfig, logger *slog.Logger) *SemanticPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &SemanticPipeline{store: store, embedder: embedder, reranker: reranker, config: config, logger: logger}
}

// Search runs the full pipeline for query. An empty candidate pool after
// stage one is not an error: Search returns nil, nil.
func (p *SemanticPipeline) Search(ctx context.Context, query Query) ([]EnhancedResult, error) {
	p.logger.Debug("semantic search starting", slog.String("query", query.Text))

	queryEmbedding, err := p.embedder.Embed(ctx, query.Text)
	if err != nil {
		return nil, fmt.Errorf("generate query embedding: %w", err)
	}

	candidates, err := p.retrieveCandidates(queryEmbedding, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(candidates) == 0 {
		p.logger.Debug("no candidates found", slog.String("query", query.Text))
		return nil, nil
	}

	reranked, err := p.rerankCandidates(ctx, query.Text, candidates)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	final := p.finalize(reranked, query)
	p.logger.Debug("semantic search finished", slog.Int("results", len(final)))
	return final, nil
}

// SearchSimilarCode is a convenience entry point for "find code like this
// snippet" searches.
func (p *SemanticPipeline) SearchSimilarCode(ctx context.Context, code, language string) ([]EnhancedResult, error) {
	return p.Search(ctx, Query{Text: code, Language: language, MaxResults: p.config.FinalResults})
}

// SearchSimilarFunctions is a convenience entry point for "find functions
// like this signature and body" searches.
func (p *SemanticPipeline) SearchSimilarFunctions(ctx context.Context, signature, body string) ([]EnhancedResult, error) {
	text := signature + "\n" + body
	return p.Search(ctx, Query{Text: text, CodeType: vectordb.CodeTypeFunction, MaxResults: p.config.FinalResults})
}

// SearchSimilarComponents is a convenience entry point for "find components
// like this one" searches, scoped to a framework/language.
func (p *SemanticPipeline) SearchSimilarComponents(ctx context.Context, componentCode, framework string) ([]EnhancedResult, error) {
	return p.Search(ctx, Query{Text: componentCode, CodeType: vectordb.CodeTypeComponent, Language: framework, MaxResults: p.config.FinalResults})
}

func (p *SemanticPipeline) retrieveCandidates(queryEmbedding []float32, query Query) ([]vectordb.SearchResult, error) {
	candidates, err := p.store.Search(queryEmbedding, p.config.LSHCandidates)
	if err != nil {
		return nil, err
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if query.CodeType != "" && c.Entry.Metadata.CodeType != query.CodeType {
			continue
		}
		if query.Language != "" && !strings.EqualFold(c.Entry.Metadata.Language, query.Language) {
			continue
		}
		if c.Similarity < p.config.LSHThreshold {
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		return filtered[i].Entry.ID < filtered[j].Entry.ID
	})
	return filtered, nil
}

func (p *SemanticPipeline) rerankCandidates(ctx context.Context, query string, candidates []vectordb.SearchResult) ([]EnhancedResult, error) {
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = prepareDocumentForReranking(c.Entry)
	}

	rerankResults, err := p.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		return nil, err
	}

	enhanced := make([]EnhancedResult, 0, len(rerankResults))
	for _, r := range rerankResults {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		candidate := candidates[r.Index]
		rerankScore := float32(r.Score)
		enhanced = append(enhanced, EnhancedResult{
			Entry:               candidate.Entry,
			EmbeddingSimilarity: candidate.Similarity,
			RerankScore:         rerankScore,
			CombinedScore:       combinedScore(candidate.Similarity, rerankScore),
			Confidence:          confidenceScore(candidate.Similarity, rerankScore),
		})
	}

	sort.SliceStable(enhanced, func(i, j int) bool {
		if enhanced[i].CombinedScore != enhanced[j].CombinedScore {
			return enhanced[i].CombinedScore > enhanced[j].CombinedScore
		}
		return enhanced[i].Entry.ID < enhanced[j].Entry.ID
	})
	return enhanced, nil
}

func (p *SemanticPipeline) finalize(results []EnhancedResult, query Query) []EnhancedResult {
	kept := results[:0]
	for _, r := range results {
		if r.RerankScore >= p.config.RerankThreshold {
			kept = append(kept, r)
		}
	}

	maxResults := query.MaxResults
	if maxResults <= 0 {
		maxResults = p.config.FinalResults
	}
	if maxResults < len(kept) {
		kept = kept[:maxResults]
	}
	return kept
}

// prepareDocumentForReranking builds the textual surrogate the reranker
// scores, combining the entry's function name, location, type, and tokens
// into one document per candidate.
func prepareDocumentForReranking(entry vectordb.VectorEntry) string {
	var b strings.Builder
	if entry.Metadata.FunctionName != "" {
		fmt.Fprintf(&b, "Function: %s\n", entry.Metadata.FunctionName)
	}
	fmt.Fprintf(&b, "File: %s\n", entry.Metadata.FilePath)
	fmt.Fprintf(&b, "Language: %s\n", entry.Metadata.Language)
	fmt.Fprintf(&b, "Type: %s\n", entry.Metadata.CodeType)
	if len(entry.Metadata.Tokens) > 0 {
		b.WriteString("Context: ")
		b.WriteString(strings.Join(entry.Metadata.Tokens, " "))
	}
	return b.String()
}

// combinedScore fuses embedding similarity and rerank score with a slight
// preference for the reranker's judgment.
func combinedScore(embeddingSim, rerankScore float32) float32 {
	const embeddingWeight, rerankWeight = 0.4, 0.6
	return embeddingSim*embeddingWeight + rerankScore*rerankWeight
}

// confidenceScore rewards agreement between the two scoring methods as
// well as their average quality.
func confidenceScore(embeddingSim, rerankScore float32) float32 {
	diff := embeddingSim - rerankScore
	if diff < 0 {
		diff = -diff
	}
	agreement := 1 - diff
	baseQuality := (embeddingSim + rerankScore) / 2
	return agreement*0.3 + baseQuality*0.7
}
