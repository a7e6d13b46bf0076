package vectordb

import (
	"sort"
	"sync"
	"time"
)

// Store is the in-memory vector database: an ID-keyed entry map, a
// file-path index, an LSH candidate index, and derived statistics, behind
// one reader-preferring RWMutex per collection.
//
// Writers that must touch more than one collection always acquire locks in
// the fixed order vectors -> fileIndex -> lsh -> stats, to avoid deadlocks
// between concurrent Add/Delete/Update calls.
type Store struct {
	config VectorDBConfig
	metric Metric

	vectorsMu sync.RWMutex
	vectors   map[string]VectorEntry

	fileIndexMu sync.RWMutex
	fileIndex   map[string][]string

	lshMu sync.RWMutex
	lsh   *LSHIndex

	statsMu sync.RWMutex
	stats   VectorDBStats
}

// NewStore builds an empty Store for vectors of the given dimension.
func NewStore(dimension int, config VectorDBConfig) *Store {
	now := time.Now().UTC()
	return &Store{
		config:    config,
		metric:    NewMetric(config.Metric),
		vectors:   make(map[string]VectorEntry),
		fileIndex: make(map[string][]string),
		lsh:       NewLSHIndex(dimension, config.lshConfig()),
		stats: VectorDBStats{
			ByLanguage:  make(map[string]int),
			ByCodeType:  make(map[string]int),
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
}

// NewStoreWithMetric is NewStore with an explicit similarity metric,
// overriding config.Metric.
func NewStoreWithMetric(dimension int, config VectorDBConfig, metric Metric) *Store {
	s := NewStore(dimension, config)
	s.metric = metric
	return s
}

// Dimension reports the vector length this store's LSH index was built for.
func (s *Store) Dimension() int {
	s.lshMu.RLock()
	defer s.lshMu.RUnlock()
	return s.lsh.Dimension()
}

// Add inserts or replaces entry. If entry.ID already exists, its old
// embedding is first removed from the LSH index so stale buckets never
// accumulate (Add is Update's single code path).
func (s *Store) Add(entry VectorEntry) error {
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	s.vectorsMu.Lock()
	old, existed := s.vectors[entry.ID]
	s.vectors[entry.ID] = entry
	s.vectorsMu.Unlock()

	s.fileIndexMu.Lock()
	if existed && old.Metadata.FilePath != entry.Metadata.FilePath {
		s.removeFromFileIndexLocked(old.Metadata.FilePath, entry.ID)
	}
	if !existed || old.Metadata.FilePath != entry.Metadata.FilePath {
		s.fileIndex[entry.Metadata.FilePath] = append(s.fileIndex[entry.Metadata.FilePath], entry.ID)
	}
	s.fileIndexMu.Unlock()

	s.lshMu.Lock()
	if existed {
		_ = s.lsh.Remove(entry.ID, old.Embedding)
	}
	err := s.lsh.Add(entry.ID, entry.Embedding)
	s.lshMu.Unlock()
	if err != nil {
		return err
	}

	s.updateStats()
	return nil
}

// AddBatch adds every entry in order, stopping at the first error.
func (s *Store) AddBatch(entries []VectorEntry) error {
	for _, entry := range entries {
		if err := s.Add(entry); err != nil {
			return err
		}
	}
	return nil
}

// GetByID returns the entry for id, or (zero, false) if absent.
func (s *Store) GetByID(id string) (VectorEntry, bool) {
	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()
	entry, ok := s.vectors[id]
	return entry, ok
}

// GetByFile returns every entry indexed under filePath, in file-index order.
func (s *Store) GetByFile(filePath string) []VectorEntry {
	s.fileIndexMu.RLock()
	ids := append([]string(nil), s.fileIndex[filePath]...)
	s.fileIndexMu.RUnlock()

	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()
	entries := make([]VectorEntry, 0, len(ids))
	for _, id := range ids {
		if entry, ok := s.vectors[id]; ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Update replaces the entry for entry.ID, removing its previous embedding
// from the LSH index first. It is Add under a name that matches the
// database's public vocabulary.
func (s *Store) Update(entry VectorEntry) error {
	return s.Add(entry)
}

// Delete removes id from every collection, reporting whether it existed.
func (s *Store) Delete(id string) (bool, error) {
	s.vectorsMu.Lock()
	entry, existed := s.vectors[id]
	if existed {
		delete(s.vectors, id)
	}
	s.vectorsMu.Unlock()

	if !existed {
		return false, nil
	}

	s.fileIndexMu.Lock()
	s.removeFromFileIndexLocked(entry.Metadata.FilePath, id)
	s.fileIndexMu.Unlock()

	s.lshMu.Lock()
	err := s.lsh.Remove(id, entry.Embedding)
	s.lshMu.Unlock()
	if err != nil {
		return true, err
	}

	s.updateStats()
	return true, nil
}

func (s *Store) removeFromFileIndexLocked(filePath, id string) {
	ids := s.fileIndex[filePath]
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		delete(s.fileIndex, filePath)
	} else {
		s.fileIndex[filePath] = filtered
	}
}

// Search returns the candidates the LSH index surfaces for query, reranked
// by the store's similarity metric and filtered to config.SimilarityThreshold,
// sorted by descending similarity, truncated to min(limit, config.MaxResults).
func (s *Store) Search(query []float32, limit int) ([]SearchResult, error) {
	s.lshMu.RLock()
	candidates, err := s.lsh.SearchCandidates(query)
	s.lshMu.RUnlock()
	if err != nil {
		return nil, err
	}

	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()

	results := make([]SearchResult, 0, len(candidates))
	for _, id := range candidates {
		entry, ok := s.vectors[id]
		if !ok {
			continue
		}
		sim, err := s.metric.Similarity(query, entry.Embedding)
		if err != nil {
			return nil, err
		}
		if sim < s.config.SimilarityThreshold {
			continue
		}
		dist, err := s.metric.Distance(query, entry.Embedding)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Entry: entry, Similarity: sim, Distance: dist})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	max := limit
	if s.config.MaxResults > 0 && s.config.MaxResults < max {
		max = s.config.MaxResults
	}
	if max < len(results) {
		results = results[:max]
	}
	return results, nil
}

// GetAll returns every entry currently stored, in no particular order.
func (s *Store) GetAll() []VectorEntry {
	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()
	entries := make([]VectorEntry, 0, len(s.vectors))
	for _, entry := range s.vectors {
		entries = append(entries, entry)
	}
	return entries
}

// Clear empties every collection and resets statistics.
func (s *Store) Clear() {
	s.vectorsMu.Lock()
	s.vectors = make(map[string]VectorEntry)
	s.vectorsMu.Unlock()

	s.fileIndexMu.Lock()
	s.fileIndex = make(map[string][]string)
	s.fileIndexMu.Unlock()

	s.lshMu.Lock()
	s.lsh.Clear()
	s.lshMu.Unlock()

	now := time.Now().UTC()
	s.statsMu.Lock()
	s.stats = VectorDBStats{
		ByLanguage:  make(map[string]int),
		ByCodeType:  make(map[string]int),
		CreatedAt:   s.stats.CreatedAt,
		LastUpdated: now,
	}
	s.statsMu.Unlock()
}

// RebuildIndex discards and repopulates the LSH index from the current
// vector set, useful after a bulk load or a dimension-preserving config
// change. It does not require the vectors to change.
func (s *Store) RebuildIndex() error {
	s.vectorsMu.RLock()
	entries := make([]VectorEntry, 0, len(s.vectors))
	for _, entry := range s.vectors {
		entries = append(entries, entry)
	}
	s.vectorsMu.RUnlock()

	s.lshMu.Lock()
	defer s.lshMu.Unlock()
	s.lsh.Clear()
	for _, entry := range entries {
		if err := s.lsh.Add(entry.ID, entry.Embedding); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of database statistics, including a freshly
// computed average pairwise similarity over a bounded sample.
func (s *Store) Stats() VectorDBStats {
	s.statsMu.RLock()
	snapshot := s.stats
	snapshot.ByLanguage = cloneCounts(s.stats.ByLanguage)
	snapshot.ByCodeType = cloneCounts(s.stats.ByCodeType)
	s.statsMu.RUnlock()

	snapshot.AverageSimilarity = s.computeAverageSimilarity()
	return snapshot
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) updateStats() {
	s.vectorsMu.RLock()
	total := len(s.vectors)
	byLanguage := make(map[string]int)
	byCodeType := make(map[string]int)
	for _, entry := range s.vectors {
		byLanguage[entry.Metadata.Language]++
		byCodeType[string(entry.Metadata.CodeType)]++
	}
	dimension := s.Dimension()
	s.vectorsMu.RUnlock()

	s.fileIndexMu.RLock()
	totalFiles := len(s.fileIndex)
	s.fileIndexMu.RUnlock()

	s.statsMu.Lock()
	s.stats.TotalVectors = total
	s.stats.TotalFiles = totalFiles
	s.stats.IndexSizeMB = float64(total*dimension*4) / 1024 / 1024
	s.stats.ByLanguage = byLanguage
	s.stats.ByCodeType = byCodeType
	s.stats.LastUpdated = time.Now().UTC()
	s.statsMu.Unlock()
}

// computeAverageSimilarity samples up to 100 entries and averages pairwise
// similarity across all pairs in the sample, matching the store's
// documented approximation rather than an exhaustive O(n^2) pass.
func (s *Store) computeAverageSimilarity() float32 {
	s.vectorsMu.RLock()
	defer s.vectorsMu.RUnlock()

	if len(s.vectors) < 2 {
		return 0
	}

	entries := make([]VectorEntry, 0, len(s.vectors))
	for _, entry := range s.vectors {
		entries = append(entries, entry)
	}

	sampleSize := len(entries)
	if sampleSize > 100 {
		sampleSize = 100
	}
	if sampleSize < 2 {
		return 0
	}

	var total float32
	var count int
	for i := 0; i < sampleSize; i++ {
		for j := i + 1; j < sampleSize; j++ {
			sim, err := s.metric.Similarity(entries[i].Embedding, entries[j].Embedding)
			if err != nil {
				continue
			}
			total += sim
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float32(count)
}
