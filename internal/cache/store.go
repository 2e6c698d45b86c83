// Package cache persists per-backend vector caches of image embeddings.
//
// One cache file exists per (mode, model) pair; switching backend swaps which
// file is active without touching the others. The file is always read and
// rewritten whole, never appended to.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/models"
)

// Store reads and writes cache files under a directory.
type Store struct {
	dir string
	// legacyImageDir reconstructs file paths for records persisted before the
	// path field existed. Applied once during Load, never afterwards.
	legacyImageDir string
	logger         *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for prune and corruption events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates a cache store rooted at dir. legacyImageDir may be empty
// when no pre-path-field caches exist.
func NewStore(dir, legacyImageDir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, legacyImageDir: legacyImageDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PathFor returns the cache file path for a backend configuration.
func (s *Store) PathFor(mode, modelID string) string {
	name := "embeddings_" + mode
	if modelID != "" {
		name += "_" + modelID
	}
	return filepath.Join(s.dir, name+".json")
}

// Load reads the cache for (mode, modelID). Records whose embedded file no
// longer exists on disk are dropped, and when any were dropped the cache file
// is immediately rewritten with the survivors so it self-heals against
// external deletion. A missing or unreadable (corrupt, truncated) file is
// treated as "no cache present" and returns nil records with no error.
func (s *Store) Load(mode, modelID string) ([]models.EmbeddingRecord, error) {
	path := s.PathFor(mode, modelID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache: %w", err)
	}

	var records []models.EmbeddingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		if s.logger != nil {
			s.logger.Warn("cache file corrupt, treating as empty", zap.String("path", path), zap.Error(err))
		}
		return nil, nil
	}

	valid := make([]models.EmbeddingRecord, 0, len(records))
	for _, rec := range records {
		migrateRecord(&rec, s.legacyImageDir)
		if rec.FilePath == "" {
			continue
		}
		if _, err := os.Stat(rec.FilePath); err != nil {
			continue
		}
		valid = append(valid, rec)
	}

	if len(valid) != len(records) {
		if s.logger != nil {
			s.logger.Info("pruned stale cache records",
				zap.String("path", path),
				zap.Int("dropped", len(records)-len(valid)))
		}
		if err := s.Save(mode, modelID, valid); err != nil && s.logger != nil {
			s.logger.Warn("cache rewrite after prune failed", zap.String("path", path), zap.Error(err))
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	return valid, nil
}

// Save writes the full record set for (mode, modelID), replacing any previous
// contents. The cache directory is created if needed.
func (s *Store) Save(mode, modelID string, records []models.EmbeddingRecord) error {
	path := s.PathFor(mode, modelID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// Exists reports whether a cache file is present for (mode, modelID).
// Presence of the file does not imply it holds valid records.
func (s *Store) Exists(mode, modelID string) bool {
	_, err := os.Stat(s.PathFor(mode, modelID))
	return err == nil
}

// migrateRecord fills fields that older cache versions did not persist:
// the absolute file path (reconstructed from the legacy base image directory)
// and the default category.
func migrateRecord(rec *models.EmbeddingRecord, legacyImageDir string) {
	if rec.FilePath == "" && rec.Filename != "" && legacyImageDir != "" {
		rec.FilePath = filepath.Join(legacyImageDir, rec.Filename)
	}
	if rec.Filename == "" && rec.FilePath != "" {
		rec.Filename = filepath.Base(rec.FilePath)
	}
	if rec.Category == "" {
		rec.Category = models.CategoryUncategorized
	}
}
