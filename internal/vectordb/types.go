package vectordb

import "time"

// CodeType names the kind of code fragment a VectorEntry embeds.
type CodeType string

const (
	CodeTypeFunction  CodeType = "function"
	CodeTypeClass     CodeType = "class"
	CodeTypeInterface CodeType = "interface"
	CodeTypeComponent CodeType = "component"
	CodeTypeService   CodeType = "service"
	CodeTypeModule    CodeType = "module"
	CodeTypeTest      CodeType = "test"
	CodeTypeComment   CodeType = "comment"
	CodeTypeImport    CodeType = "import"
	CodeTypeConfig    CodeType = "config"
)

// CodeMetadata describes where a fragment came from and what it is.
type CodeMetadata struct {
	FilePath     string   `json:"file_path"`
	FunctionName string   `json:"function_name,omitempty"`
	LineStart    int      `json:"line_start"`
	LineEnd      int      `json:"line_end"`
	CodeType     CodeType `json:"code_type"`
	Language     string   `json:"language"`
	Complexity   float32  `json:"complexity"`
	Tokens       []string `json:"tokens"`
	Hash         string   `json:"hash"`
}

// VectorEntry is one embedded code fragment in the store. Its ID is always
// "<file_path>:<line_start>:<line_end>".
type VectorEntry struct {
	ID        string       `json:"id"`
	Embedding []float32    `json:"embedding"`
	Metadata  CodeMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// SearchResult pairs a retrieved entry with its similarity and distance to
// the query.
type SearchResult struct {
	Entry      VectorEntry `json:"entry"`
	Similarity float32     `json:"similarity"`
	Distance   float32     `json:"distance"`
}

// VectorDBStats summarizes the current contents of the store.
type VectorDBStats struct {
	TotalVectors      int            `json:"total_vectors"`
	TotalFiles        int            `json:"total_files"`
	IndexSizeMB       float64        `json:"index_size_mb"`
	AverageSimilarity float32        `json:"average_similarity"`
	ByLanguage        map[string]int `json:"by_language"`
	ByCodeType        map[string]int `json:"by_code_type"`
	CreatedAt         time.Time      `json:"created_at"`
	LastUpdated       time.Time      `json:"last_updated"`
}

// VectorDBConfig configures a Store and its LSH index.
type VectorDBConfig struct {
	// NumTables is the number of LSH hash tables (T).
	NumTables int `yaml:"num_tables"`
	// HashBits is the number of hyperplanes per table (H), capped at 64.
	HashBits int `yaml:"hash_bits"`
	// SimilarityThreshold is the minimum embedding similarity a candidate
	// must clear before entering the rerank stage.
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	// MaxResults caps the number of results a single Search call returns.
	MaxResults int `yaml:"max_results"`
	// EnablePersistence turns on save/load against CacheDir.
	EnablePersistence bool `yaml:"enable_persistence"`
	// CacheDir is where the store persists vectors, backups, and its lock file.
	CacheDir string `yaml:"cache_dir"`
	// Metric selects the similarity kernel used for ranking.
	Metric MetricKind `yaml:"metric"`
	// Seed drives deterministic LSH hyperplane generation.
	Seed int64 `yaml:"seed"`
}

// DefaultVectorDBConfig returns the documented defaults.
func DefaultVectorDBConfig() VectorDBConfig {
	return VectorDBConfig{
		NumTables:           8,
		HashBits:            10,
		SimilarityThreshold: 0.7,
		MaxResults:          50,
		EnablePersistence:   true,
		CacheDir:            ".cache/vector-db",
		Metric:              MetricCosine,
		Seed:                42,
	}
}

func (c VectorDBConfig) lshConfig() LSHConfig {
	return LSHConfig{NumTables: c.NumTables, HashBits: c.HashBits, Seed: c.Seed}
}
