package vectordb

import (
	"math/rand"

	"github.com/oriaj-nocrala/semcode/internal/errors"
)

// LSHConfig configures a Locality-Sensitive Hashing index.
type LSHConfig struct {
	// NumTables is the number of independent hash tables (T).
	NumTables int
	// HashBits is the number of hyperplanes per table (H), capped at 64.
	HashBits int
	// Seed drives deterministic hyperplane generation: the same seed and
	// dimension always reproduce the same hyperplanes, so the index need
	// not persist them across a save/load cycle.
	Seed int64
}

// DefaultLSHConfig returns the spec's documented defaults.
func DefaultLSHConfig() LSHConfig {
	return LSHConfig{
		NumTables: 8,
		HashBits:  10,
		Seed:      42,
	}
}

// LSHIndex is a multi-table random-hyperplane LSH index over IDs. It does
// not retain the vectors it was built from; callers must supply the
// original vector again when removing an ID.
type LSHIndex struct {
	dimension int
	config    LSHConfig
	// hyperplanes[table][bit] is a unit-length random hyperplane of length
	// dimension, used to compute the sign bit for that table/bit pair.
	hyperplanes [][][]float32
	// tables[table][signature] is the bucket of IDs sharing that signature.
	tables []map[uint64][]string
}

// NewLSHIndex builds a new index for vectors of the given dimension. Bits
// per table are capped at 64 since signatures are packed into a uint64.
func NewLSHIndex(dimension int, config LSHConfig) *LSHIndex {
	if config.HashBits > 64 {
		config.HashBits = 64
	}
	if config.NumTables <= 0 {
		config.NumTables = 1
	}
	if config.HashBits <= 0 {
		config.HashBits = 1
	}

	rng := rand.New(rand.NewSource(config.Seed))

	hyperplanes := make([][][]float32, config.NumTables)
	for t := 0; t < config.NumTables; t++ {
		table := make([][]float32, config.HashBits)
		for h := 0; h < config.HashBits; h++ {
			plane := make([]float32, dimension)
			for d := 0; d < dimension; d++ {
				plane[d] = float32(rng.Float64() - 0.5)
			}
			L2Normalize(plane)
			table[h] = plane
		}
		hyperplanes[t] = table
	}

	tables := make([]map[uint64][]string, config.NumTables)
	for t := range tables {
		tables[t] = make(map[uint64][]string)
	}

	return &LSHIndex{
		dimension:   dimension,
		config:      config,
		hyperplanes: hyperplanes,
		tables:      tables,
	}
}

// Dimension reports the vector length this index was built for.
func (idx *LSHIndex) Dimension() int { return idx.dimension }

func (idx *LSHIndex) signature(vector []float32, table int) uint64 {
	var sig uint64
	for bit, plane := range idx.hyperplanes[table] {
		var dot float32
		for d := range vector {
			dot += vector[d] * plane[d]
		}
		if dot >= 0 {
			sig |= 1 << uint(bit)
		}
	}
	return sig
}

func (idx *LSHIndex) checkDimension(vector []float32) error {
	if len(vector) != idx.dimension {
		return errors.DimensionMismatchError(idx.dimension, len(vector))
	}
	return nil
}

// Add inserts id into the bucket keyed by vector's signature, in every
// table.
func (idx *LSHIndex) Add(id string, vector []float32) error {
	if err := idx.checkDimension(vector); err != nil {
		return err
	}
	for t := range idx.tables {
		sig := idx.signature(vector, t)
		idx.tables[t][sig] = append(idx.tables[t][sig], id)
	}
	return nil
}

// SearchCandidates unions the buckets matching query's signature across
// every table. The returned set carries no ordering.
func (idx *LSHIndex) SearchCandidates(query []float32) ([]string, error) {
	if err := idx.checkDimension(query); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for t, table := range idx.tables {
		sig := idx.signature(query, t)
		for _, id := range table[sig] {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}

// Remove drops id from every table's bucket for vector's signature, and
// removes any bucket left empty.
func (idx *LSHIndex) Remove(id string, vector []float32) error {
	if err := idx.checkDimension(vector); err != nil {
		return err
	}
	for t := range idx.tables {
		sig := idx.signature(vector, t)
		bucket := idx.tables[t][sig]
		filtered := bucket[:0]
		for _, existing := range bucket {
			if existing != id {
				filtered = append(filtered, existing)
			}
		}
		if len(filtered) == 0 {
			delete(idx.tables[t], sig)
		} else {
			idx.tables[t][sig] = filtered
		}
	}
	return nil
}

// Clear empties every table. Hyperplanes are retained so the index can be
// repopulated with the same bucket structure.
func (idx *LSHIndex) Clear() {
	for t := range idx.tables {
		idx.tables[t] = make(map[uint64][]string)
	}
}

// LSHStats describes the current bucket distribution.
type LSHStats struct {
	TotalVectors      int
	NumTables         int
	NumBuckets        int
	NonEmptyBuckets   int
	AverageBucketSize float64
	MedianBucketSize  int
	Dimension         int
	HashBits          int
}

// Stats computes the current bucket distribution across all tables.
func (idx *LSHIndex) Stats() LSHStats {
	unique := make(map[string]struct{})
	var bucketSizes []int
	nonEmpty := 0
	numBuckets := 0

	for _, table := range idx.tables {
		numBuckets += len(table)
		for _, bucket := range table {
			if len(bucket) == 0 {
				continue
			}
			nonEmpty++
			bucketSizes = append(bucketSizes, len(bucket))
			for _, id := range bucket {
				unique[id] = struct{}{}
			}
		}
	}

	var avg float64
	if nonEmpty > 0 {
		var sum int
		for _, s := range bucketSizes {
			sum += s
		}
		avg = float64(sum) / float64(nonEmpty)
	}

	median := 0
	if len(bucketSizes) > 0 {
		sorted := append([]int(nil), bucketSizes...)
		insertionSortInts(sorted)
		median = sorted[len(sorted)/2]
	}

	return LSHStats{
		TotalVectors:      len(unique),
		NumTables:         idx.config.NumTables,
		NumBuckets:        numBuckets,
		NonEmptyBuckets:   nonEmpty,
		AverageBucketSize: avg,
		MedianBucketSize:  median,
		Dimension:         idx.dimension,
		HashBits:          idx.config.HashBits,
	}
}

func insertionSortInts(s []int) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}
