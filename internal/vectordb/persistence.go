package vectordb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/oriaj-nocrala/semcode/internal/errors"
)

const vectorBatchSize = 1000

// Persistence saves and loads a Store's contents under a cache directory,
// in one of two interchangeable layouts: a single vectors.json map, or
// batched JSON shards of at most vectorBatchSize entries each. Every write
// goes through a temp-file-then-rename so a crash mid-write never leaves a
// torn file in place.
type Persistence struct {
	baseDir string
	lock    *flock.Flock
}

// NewPersistence builds a Persistence rooted at baseDir. It does not touch
// the filesystem until Save, Load, or Lock is called.
func NewPersistence(baseDir string) *Persistence {
	return &Persistence{
		baseDir: baseDir,
		lock:    flock.New(filepath.Join(baseDir, ".lock")),
	}
}

// Lock acquires the cross-process advisory lock over baseDir without
// blocking. It returns (false, nil) if another process already holds it,
// so a concurrent writer is detected rather than silently raced.
func (p *Persistence) Lock() (bool, error) {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return false, errors.IoFailureError("create cache directory", err)
	}
	ok, err := p.lock.TryLock()
	if err != nil {
		return false, errors.IoFailureError("acquire advisory lock", err)
	}
	return ok, nil
}

// Unlock releases the advisory lock, if held.
func (p *Persistence) Unlock() error {
	if !p.lock.Locked() {
		return nil
	}
	return p.lock.Unlock()
}

func atomicWriteJSON(path string, v any, pretty bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.IoFailureError("create directory for "+path, err)
	}

	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return errors.SerdeFailureError("encode "+path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.IoFailureError("write temp file for "+path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.IoFailureError("rename temp file for "+path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.IoFailureError("read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.SerdeFailureError("decode "+path, err)
	}
	return nil
}

// SaveSingle writes every entry to one vectors.json map, plus stats.json.
// This is the simpler of the two layouts, best for small-to-medium stores.
func (p *Persistence) SaveSingle(s *Store) error {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return errors.IoFailureError("create cache directory", err)
	}

	entries := s.GetAll()
	byID := make(map[string]VectorEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	if err := atomicWriteJSON(filepath.Join(p.baseDir, "vectors.json"), byID, true); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(p.baseDir, "stats.json"), s.Stats(), true)
}

// LoadSingle loads a vectors.json map previously written by SaveSingle and
// adds every entry to s. A missing file is not an error: there is simply
// nothing to load yet.
func (p *Persistence) LoadSingle(s *Store) error {
	path := filepath.Join(p.baseDir, "vectors.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var byID map[string]VectorEntry
	if err := readJSON(path, &byID); err != nil {
		return err
	}

	entries := make([]VectorEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	return s.AddBatch(entries)
}

// batchIndex records how many shards a batched save produced.
type batchIndex struct {
	TotalBatches int       `json:"total_batches"`
	CreatedAt    time.Time `json:"created_at"`
}

// vectorBatch is one shard of a batched save.
type vectorBatch struct {
	ID        int           `json:"id"`
	Vectors   []VectorEntry `json:"vectors"`
	CreatedAt time.Time     `json:"created_at"`
}

// SaveBatched writes entries in shards of at most vectorBatchSize under
// vectors/batch_NNNNNN.json, plus a batch_index.json manifest and
// stats.json. This bounds peak memory for large stores at load time.
func (p *Persistence) SaveBatched(s *Store) error {
	vectorsDir := filepath.Join(p.baseDir, "vectors")
	if err := os.MkdirAll(vectorsDir, 0o755); err != nil {
		return errors.IoFailureError("create vectors directory", err)
	}

	entries := s.GetAll()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	now := time.Now().UTC()
	batchID := 0
	for start := 0; start < len(entries); start += vectorBatchSize {
		end := start + vectorBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		batch := vectorBatch{ID: batchID, Vectors: entries[start:end], CreatedAt: now}
		path := filepath.Join(vectorsDir, fmt.Sprintf("batch_%06d.json", batchID))
		if err := atomicWriteJSON(path, batch, false); err != nil {
			return err
		}
		batchID++
	}

	index := batchIndex{TotalBatches: batchID, CreatedAt: now}
	if err := atomicWriteJSON(filepath.Join(p.baseDir, "batch_index.json"), index, true); err != nil {
		return err
	}
	return atomicWriteJSON(filepath.Join(p.baseDir, "stats.json"), s.Stats(), true)
}

// LoadBatched loads every shard listed in batch_index.json, in order, and
// adds all of their entries to s.
func (p *Persistence) LoadBatched(s *Store) (int, error) {
	vectorsDir := filepath.Join(p.baseDir, "vectors")
	if _, err := os.Stat(vectorsDir); os.IsNotExist(err) {
		return 0, nil
	}

	indexPath := filepath.Join(p.baseDir, "batch_index.json")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		return 0, nil
	}

	var index batchIndex
	if err := readJSON(indexPath, &index); err != nil {
		return 0, err
	}

	total := 0
	for id := 0; id < index.TotalBatches; id++ {
		path := filepath.Join(vectorsDir, fmt.Sprintf("batch_%06d.json", id))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		var batch vectorBatch
		if err := readJSON(path, &batch); err != nil {
			return total, err
		}
		if err := s.AddBatch(batch.Vectors); err != nil {
			return total, err
		}
		total += len(batch.Vectors)
	}
	return total, nil
}

// BackupInfo describes one snapshot taken by CreateBackup.
type BackupInfo struct {
	Name      string        `json:"name"`
	CreatedAt time.Time     `json:"created_at"`
	Stats     VectorDBStats `json:"stats"`
}

// CreateBackup snapshots s into baseDir/backups/<name>/ using the batched
// layout, alongside a sibling <name>.info.json manifest.
func (p *Persistence) CreateBackup(s *Store, name string) error {
	backupDir := filepath.Join(p.baseDir, "backups", name)
	backupPersistence := NewPersistence(backupDir)
	if err := backupPersistence.SaveBatched(s); err != nil {
		return err
	}

	info := BackupInfo{Name: name, CreatedAt: time.Now().UTC(), Stats: s.Stats()}
	infoPath := filepath.Join(p.baseDir, "backups", name+".info.json")
	return atomicWriteJSON(infoPath, info, true)
}

// ListBackups returns every backup's manifest, newest first.
func (p *Persistence) ListBackups() ([]BackupInfo, error) {
	backupsDir := filepath.Join(p.baseDir, "backups")
	if _, err := os.Stat(backupsDir); os.IsNotExist(err) {
		return nil, nil
	}

	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		return nil, errors.IoFailureError("list backups directory", err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".info.json") {
			continue
		}
		var info BackupInfo
		if err := readJSON(filepath.Join(backupsDir, entry.Name()), &info); err != nil {
			continue
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.After(backups[j].CreatedAt) })
	return backups, nil
}

// CleanupOldBackups removes any file or directory directly under baseDir
// whose mtime is older than keepDays.
func (p *Persistence) CleanupOldBackups(keepDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays)

	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.IoFailureError("read cache directory", err)
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().UTC().Before(cutoff) {
			path := filepath.Join(p.baseDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				return errors.IoFailureError("remove stale backup entry "+path, err)
			}
		}
	}
	return nil
}

// IsFresh reports whether the persisted index at baseDir can be trusted as
// up to date: vectors.json (or batch_index.json) must exist, every source
// file's mtime must be no newer than the index's mtime, and the entry
// count must meet minEntries.
func (p *Persistence) IsFresh(sourceFiles []string, minEntries int) (bool, error) {
	indexPath := filepath.Join(p.baseDir, "vectors.json")
	indexInfo, err := os.Stat(indexPath)
	if os.IsNotExist(err) {
		indexPath = filepath.Join(p.baseDir, "batch_index.json")
		indexInfo, err = os.Stat(indexPath)
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.IoFailureError("stat index file", err)
	}

	for _, src := range sourceFiles {
		srcInfo, err := os.Stat(src)
		if err != nil {
			continue
		}
		if srcInfo.ModTime().After(indexInfo.ModTime()) {
			return false, nil
		}
	}

	if minEntries > 0 {
		var stats VectorDBStats
		statsPath := filepath.Join(p.baseDir, "stats.json")
		if err := readJSON(statsPath, &stats); err == nil && stats.TotalVectors < minEntries {
			return false, nil
		}
	}

	return true, nil
}
