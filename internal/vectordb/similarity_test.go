package vectordb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	metric := CosineSimilarity{}

	sim, err := metric.Similarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)

	sim, err = metric.Similarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-6)

	sim, err = metric.Similarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-6)
}

func TestCosineSimilarityZeroNorm(t *testing.T) {
	metric := CosineSimilarity{}
	sim, err := metric.Similarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, float32(0), sim)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	metric := CosineSimilarity{}
	_, err := metric.Similarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
}

func TestEuclideanDistance(t *testing.T) {
	metric := EuclideanDistance{}

	dist, err := metric.Distance([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, dist, 1e-6)

	dist, err = metric.Distance([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, dist, 1e-6)
}

func TestVectorL2Normalize(t *testing.T) {
	v := []float32{3, 4, 0}
	L2Normalize(v)

	var magSq float64
	for _, x := range v {
		magSq += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, magSq, 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 0.0, v[2], 1e-6)
}

func TestL2NormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	L2Normalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestTopKSimilar(t *testing.T) {
	metric := CosineSimilarity{}
	query := []float32{1, 0, 0}

	ids := []string{"a", "b", "c"}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 0},
	}

	results, err := TopKSimilar(metric, query, ids, vectors, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSimilarityMatrixSymmetric(t *testing.T) {
	metric := CosineSimilarity{}
	vectors := [][]float32{{1, 0}, {0, 1}, {1, 1}}

	matrix, err := SimilarityMatrix(metric, vectors)
	require.NoError(t, err)
	for i := range matrix {
		assert.InDelta(t, 1.0, matrix[i][i], 1e-6)
		for j := range matrix {
			assert.InDelta(t, matrix[i][j], matrix[j][i], 1e-6)
		}
	}
}

func TestJaccardAllZeros(t *testing.T) {
	metric := JaccardSimilarity{Threshold: 0.5}
	sim, err := metric.Similarity([]float32{0, 0}, []float32{0, 0})
	require.NoError(t, err)
	assert.Equal(t, float32(1), sim)
}

func TestMinMaxAndZScoreNormalize(t *testing.T) {
	v := []float32{1, 2, 3, 4}
	MinMaxNormalize(v)
	assert.Equal(t, float32(0), v[0])
	assert.Equal(t, float32(1), v[3])

	z := []float32{1, 2, 3, 4, 5}
	ZScoreNormalize(z)
	var sum float64
	for _, x := range z {
		sum += float64(x)
	}
	assert.InDelta(t, 0.0, sum, 1e-5)
}
