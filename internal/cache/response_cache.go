// Package cache implements a content-addressed response cache for ML
// inference calls (embeddings, rerank scores), so repeated prompts against
// the same model configuration skip re-inference entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one cached response, keyed by PromptHash.
type Entry struct {
	PromptHash string    `json:"prompt_hash"`
	Response   string    `json:"response"`
	CachedAt   time.Time `json:"cached_at"`
	ModelType  string    `json:"model_type"`
	HitCount   uint64    `json:"hit_count"`
}

// Stats tracks cache performance over the life of a ResponseCache.
type Stats struct {
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	Evictions      uint64 `json:"evictions"`
	TotalSizeBytes int    `json:"total_size_bytes"`
}

// persisted is the on-disk shape of a ResponseCache.
type persisted struct {
	Entries map[string]Entry `json:"entries"`
	Stats   Stats            `json:"stats"`
}

// ResponseCache caches model responses on disk, evicting by lowest hit
// count when full. This is a cheap recency approximation, not a true LRU:
// an entry's hit count never decays, so a once-popular entry can outlive
// its usefulness and block a newer one from being evicted instead.
type ResponseCache struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	cacheFile string
	maxSize   int
	stats     Stats
}

// New creates a response cache rooted at cacheDir, holding at most maxSize
// entries. The cache is empty until Load is called.
func New(cacheDir string, maxSize int) *ResponseCache {
	return &ResponseCache{
		entries:   make(map[string]*Entry),
		cacheFile: filepath.Join(cacheDir, "ml-response-cache.json"),
		maxSize:   maxSize,
	}
}

// HashPrompt derives a cache key from a prompt, the model it targets, and a
// hash of that model's configuration, so the same prompt against a
// different config misses.
func HashPrompt(prompt, modelType, configHash string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte(modelType))
	h.Write([]byte(configHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Load reads the cache file from disk, if present. A missing file is not an
// error: it leaves the cache empty, as if newly created.
func (c *ResponseCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.cacheFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	c.entries = make(map[string]*Entry, len(p.Entries))
	for k, v := range p.Entries {
		entry := v
		c.entries[k] = &entry
	}
	c.stats = p.Stats
	return nil
}

// Save writes the cache to disk atomically (write to a temp file, then
// rename over the destination).
func (c *ResponseCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *ResponseCache) saveLocked() error {
	dir := filepath.Dir(c.cacheFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	flat := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		flat[k] = *v
	}
	p := persisted{Entries: flat, Stats: c.stats}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ml-response-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, c.cacheFile)
}

// Get returns the cached response for promptHash, if any, bumping its hit
// count and the cache's hit/miss counters.
func (c *ResponseCache) Get(promptHash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[promptHash]
	if !ok {
		c.stats.Misses++
		return "", false
	}
	entry.HitCount++
	c.stats.Hits++
	return entry.Response, true
}

// Put stores response under promptHash, evicting the lowest-hit-count entry
// first if the cache is already at capacity.
func (c *ResponseCache) Put(promptHash, response, modelType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		if _, exists := c.entries[promptHash]; !exists {
			c.evictLocked()
		}
	}

	c.entries[promptHash] = &Entry{
		PromptHash: promptHash,
		Response:   response,
		CachedAt:   time.Now(),
		ModelType:  modelType,
		HitCount:   0,
	}
	c.stats.TotalSizeBytes += len(response)
}

// evictLocked removes the entry with the lowest hit count. Ties break on
// map iteration order, which Go randomizes, so ties are broken arbitrarily.
func (c *ResponseCache) evictLocked() {
	var oldestHash string
	oldestHits := ^uint64(0)

	for hash, entry := range c.entries {
		if entry.HitCount < oldestHits {
			oldestHits = entry.HitCount
			oldestHash = hash
		}
	}

	if oldestHash == "" {
		return
	}
	removed := c.entries[oldestHash]
	delete(c.entries, oldestHash)
	c.stats.Evictions++
	c.stats.TotalSizeBytes -= len(removed.Response)
	if c.stats.TotalSizeBytes < 0 {
		c.stats.TotalSizeBytes = 0
	}
}

// HitRate returns the fraction of Get calls that were hits, or 0 if Get has
// never been called.
func (c *ResponseCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.stats.Hits + c.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(c.stats.Hits) / float64(total)
}

// Stats returns a snapshot of the cache's performance counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Clear empties the cache, resets its stats, and persists the empty state.
func (c *ResponseCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.stats = Stats{}
	return c.saveLocked()
}

// Size returns the number of entries currently cached.
func (c *ResponseCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether promptHash is cached, without affecting hit/miss
// counters.
func (c *ResponseCache) Contains(promptHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[promptHash]
	return ok
}

// Remove deletes promptHash from the cache, if present.
func (c *ResponseCache) Remove(promptHash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[promptHash]
	if !ok {
		return Entry{}, false
	}
	delete(c.entries, promptHash)
	c.stats.TotalSizeBytes -= len(entry.Response)
	if c.stats.TotalSizeBytes < 0 {
		c.stats.TotalSizeBytes = 0
	}
	return *entry, true
}

// EntriesForModel returns every cached entry for modelType.
func (c *ResponseCache) EntriesForModel(modelType string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.entries {
		if e.ModelType == modelType {
			out = append(out, *e)
		}
	}
	return out
}

// WarmEntry is one (prompt, response, modelType) triple used to pre-populate
// a cache before serving traffic.
type WarmEntry struct {
	Prompt    string
	Response  string
	ModelType string
}

// PreWarm inserts a batch of known responses, hashed against "default" as
// their configuration, so common queries hit the cache immediately.
func (c *ResponseCache) PreWarm(entries []WarmEntry) {
	for _, e := range entries {
		hash := HashPrompt(e.Prompt, e.ModelType, "default")
		c.Put(hash, e.Response, e.ModelType)
	}
}
