// Package vectordb implements the semantic vector index: similarity
// kernels, the LSH candidate index, the in-memory vector store, and its
// on-disk persistence.
package vectordb

import (
	"math"
	"sort"

	"github.com/oriaj-nocrala/semcode/internal/errors"
)

// MetricKind names one of the closed set of supported similarity metrics.
type MetricKind string

const (
	MetricCosine    MetricKind = "cosine"
	MetricEuclidean MetricKind = "euclidean"
	MetricManhattan MetricKind = "manhattan"
	MetricDot       MetricKind = "dot"
	MetricJaccard   MetricKind = "jaccard"
)

// Metric computes similarity and distance between two equal-length vectors.
// similarity is higher-is-better; distance is lower-is-better. Implementations
// never return NaN: a zero-norm input yields 0, and mismatched lengths fail
// with errors.ErrCodeDimensionMismatch.
type Metric interface {
	Similarity(a, b []float32) (float32, error)
	Distance(a, b []float32) (float32, error)
}

// NewMetric resolves a MetricKind to its Metric implementation. Jaccard uses
// the default binarization threshold; use NewJaccard for a custom one.
func NewMetric(kind MetricKind) Metric {
	switch kind {
	case MetricEuclidean:
		return EuclideanDistance{}
	case MetricManhattan:
		return ManhattanDistance{}
	case MetricDot:
		return DotProductSimilarity{}
	case MetricJaccard:
		return JaccardSimilarity{Threshold: 0.0}
	default:
		return CosineSimilarity{}
	}
}

func checkDims(a, b []float32) error {
	if len(a) != len(b) {
		return errors.DimensionMismatchError(len(a), len(b))
	}
	return nil
}

// CosineSimilarity is the default metric.
type CosineSimilarity struct{}

func (CosineSimilarity) Similarity(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	if len(a) == 0 {
		return 0, nil
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	sim := dot / (magA * magB)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return float32(sim), nil
}

func (c CosineSimilarity) Distance(a, b []float32) (float32, error) {
	sim, err := c.Similarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// EuclideanDistance converts distance to similarity via exponential decay.
type EuclideanDistance struct{}

func (EuclideanDistance) Distance(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum)), nil
}

func (e EuclideanDistance) Similarity(a, b []float32) (float32, error) {
	dist, err := e.Distance(a, b)
	if err != nil {
		return 0, err
	}
	return float32(math.Exp(-float64(dist))), nil
}

// ManhattanDistance is the L1 distance metric.
type ManhattanDistance struct{}

func (ManhattanDistance) Distance(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum, nil
}

func (m ManhattanDistance) Similarity(a, b []float32) (float32, error) {
	dist, err := m.Distance(a, b)
	if err != nil {
		return 0, err
	}
	return 1 / (1 + dist), nil
}

// DotProductSimilarity assumes normalized input vectors.
type DotProductSimilarity struct{}

func (DotProductSimilarity) Similarity(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot, nil
}

func (d DotProductSimilarity) Distance(a, b []float32) (float32, error) {
	sim, err := d.Similarity(a, b)
	if err != nil {
		return 0, err
	}
	return 2 - 2*sim, nil
}

// JaccardSimilarity binarizes both vectors at Threshold before computing
// set overlap.
type JaccardSimilarity struct {
	Threshold float32
}

func (j JaccardSimilarity) Similarity(a, b []float32) (float32, error) {
	if err := checkDims(a, b); err != nil {
		return 0, err
	}
	var intersection, union int
	for i := range a {
		aActive := a[i] > j.Threshold
		bActive := b[i] > j.Threshold
		if aActive && bActive {
			intersection++
		}
		if aActive || bActive {
			union++
		}
	}
	if union == 0 {
		return 1, nil
	}
	return float32(intersection) / float32(union), nil
}

func (j JaccardSimilarity) Distance(a, b []float32) (float32, error) {
	sim, err := j.Similarity(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// ScoredID pairs an entry ID with a similarity score.
type ScoredID struct {
	ID    string
	Score float32
}

// BatchSimilarities computes metric.Similarity(query, v) for every vector.
func BatchSimilarities(metric Metric, query []float32, vectors [][]float32) ([]float32, error) {
	out := make([]float32, len(vectors))
	for i, v := range vectors {
		sim, err := metric.Similarity(query, v)
		if err != nil {
			return nil, err
		}
		out[i] = sim
	}
	return out, nil
}

// TopKSimilar ranks vectors by descending similarity to query and keeps the
// first k. Ties are broken by the input order (stable sort).
func TopKSimilar(metric Metric, query []float32, ids []string, vectors [][]float32, k int) ([]ScoredID, error) {
	scored := make([]ScoredID, len(ids))
	for i := range ids {
		sim, err := metric.Similarity(query, vectors[i])
		if err != nil {
			return nil, err
		}
		scored[i] = ScoredID{ID: ids[i], Score: sim}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

// SimilarityMatrix computes the full symmetric pairwise-similarity matrix.
func SimilarityMatrix(metric Metric, vectors [][]float32) ([][]float32, error) {
	n := len(vectors)
	matrix := make([][]float32, n)
	for i := range matrix {
		matrix[i] = make([]float32, n)
		matrix[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sim, err := metric.Similarity(vectors[i], vectors[j])
			if err != nil {
				return nil, err
			}
			matrix[i][j] = sim
			matrix[j][i] = sim
		}
	}
	return matrix, nil
}

// L2Normalize scales v to unit length in place. A zero vector is left
// unchanged (never produces NaN).
func L2Normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	mag := math.Sqrt(sumSq)
	if mag == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
}

// L1Normalize scales v so the sum of absolute values is 1, in place.
func L1Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += math.Abs(float64(x))
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}

// MinMaxNormalize rescales v to [0, 1] in place.
func MinMaxNormalize(v []float32) {
	if len(v) == 0 {
		return
	}
	min, max := v[0], v[0]
	for _, x := range v[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	rng := max - min
	if rng == 0 {
		return
	}
	for i := range v {
		v[i] = (v[i] - min) / rng
	}
}

// ZScoreNormalize rescales v to mean 0, standard deviation 1, in place.
func ZScoreNormalize(v []float32) {
	n := len(v)
	if n == 0 {
		return
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	mean := sum / float64(n)
	var variance float64
	for _, x := range v {
		d := float64(x) - mean
		variance += d * d
	}
	variance /= float64(n)
	std := math.Sqrt(variance)
	if std == 0 {
		return
	}
	for i := range v {
		v[i] = float32((float64(v[i]) - mean) / std)
	}
}
