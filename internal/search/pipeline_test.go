package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriaj-nocrala/semcode/internal/vectordb"
)

const pipelineTestDim = 16

// fakeEmbedder returns a deterministic embedding derived from the text's
// length and byte sum, just enough to exercise the pipeline end to end.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, pipelineTestDim)
	var sum float32
	for i := 0; i < len(text); i++ {
		sum += float32(text[i])
	}
	for i := range v {
		v[i] = sum + float32(i)
	}
	vectordb.L2Normalize(v)
	return v, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int             { return pipelineTestDim }
func (fakeEmbedder) ModelName() string           { return "fake" }
func (fakeEmbedder) Available(context.Context) bool { return true }
func (fakeEmbedder) Close() error                { return nil }
func (fakeEmbedder) SetBatchIndex(int)           {}
func (fakeEmbedder) SetFinalBatch(bool)          {}

// fakeReranker scores documents by how many words they share with the
// query, normalized to [0, 1].
type fakeReranker struct{}

func (fakeReranker) Rerank(_ context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	queryWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		queryWords[w] = struct{}{}
	}

	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		words := strings.Fields(strings.ToLower(doc))
		var matches int
		for _, w := range words {
			if _, ok := queryWords[w]; ok {
				matches++
			}
		}
		score := float64(matches) / float64(len(queryWords)+1)
		if score > 1 {
			score = 1
		}
		results[i] = RerankResult{Index: i, Score: score, Document: doc}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (fakeReranker) Available(context.Context) bool { return true }
func (fakeReranker) Close() error                   { return nil }

func newTestEntry(id, filePath, funcName string) vectordb.VectorEntry {
	v := make([]float32, pipelineTestDim)
	for i := range v {
		v[i] = float32(i) + 1
	}
	vectordb.L2Normalize(v)
	return vectordb.VectorEntry{
		ID:        id,
		Embedding: v,
		Metadata: vectordb.CodeMetadata{
			FilePath:     filePath,
			FunctionName: funcName,
			CodeType:     vectordb.CodeTypeFunction,
			Language:     "go",
			Tokens:       []string{funcName, "handler"},
		},
	}
}

func newTestPipeline(t *testing.T) (*SemanticPipeline, *vectordb.Store) {
	t.Helper()
	config := vectordb.DefaultVectorDBConfig()
	config.SimilarityThreshold = -1
	store := vectordb.NewStore(pipelineTestDim, config)

	pipeline := NewSemanticPipeline(store, fakeEmbedder{}, fakeReranker{}, DefaultPipelineConfig(), nil)
	return pipeline, store
}

func TestSemanticPipelineSearchReturnsRankedResults(t *testing.T) {
	pipeline, store := newTestPipeline(t)

	require.NoError(t, store.Add(newTestEntry("a", "handler.go", "handleRequest")))
	require.NoError(t, store.Add(newTestEntry("b", "other.go", "computeSum")))

	results, err := pipeline.Search(context.Background(), Query{Text: "handler handleRequest", MaxResults: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Entry.ID)
}

func TestSemanticPipelineEmptyStoreReturnsNilNotError(t *testing.T) {
	pipeline, _ := newTestPipeline(t)
	results, err := pipeline.Search(context.Background(), Query{Text: "anything"})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestSemanticPipelineFiltersByCodeTypeAndLanguage(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	entry := newTestEntry("a", "f.go", "handleRequest")
	entry.Metadata.Language = "python"
	require.NoError(t, store.Add(entry))

	results, err := pipeline.Search(context.Background(), Query{Text: "handler", Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSemanticPipelineRerankThresholdFiltersWeakMatches(t *testing.T) {
	pipeline, store := newTestPipeline(t)
	pipeline.config.RerankThreshold = 0.9
	require.NoError(t, store.Add(newTestEntry("a", "f.go", "unrelatedName")))

	results, err := pipeline.Search(context.Background(), Query{Text: "totally different query text"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCombinedAndConfidenceScores(t *testing.T) {
	combined := combinedScore(0.8, 0.9)
	assert.Greater(t, combined, float32(0.8))
	assert.Less(t, combined, float32(0.9))

	confidence := confidenceScore(0.8, 0.85)
	assert.Greater(t, confidence, float32(0.8))
}
