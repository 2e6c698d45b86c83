// Package index orchestrates cache construction and ranked semantic search
// over a curated image collection.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/cache"
	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/keyword"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/vector"
)

// ProgressFunc receives fractional build progress in [0,1] and the label of
// the file just processed. Purely observational.
type ProgressFunc func(fraction float64, label string)

// labelRewrite is a compiled per-directory label rewrite rule.
type labelRewrite struct {
	re          *regexp.Regexp
	replacement string
}

// ImageIndex builds and refreshes the vector cache for the active backend
// configuration and answers ranked queries against it.
type ImageIndex struct {
	backend *embedding.Backend
	store   *cache.Store
	dirs    []config.ImageDir
	// rewrites is parallel to dirs; nil entries mean no rewrite rule.
	rewrites []*labelRewrite
	labels   *keyword.LabelIndex
	logger   *zap.Logger

	// buildMu serializes BuildOrRefresh, Reload and SetMode; each of them
	// reads and may rewrite the active cache file.
	buildMu sync.Mutex

	// mu guards records. The server and the watcher call into the index
	// from their own goroutines.
	mu sync.RWMutex
	// records is the active in-memory cache; nil means no cache is loaded.
	// Replaced wholesale, never mutated in place.
	records []models.EmbeddingRecord
}

// Option configures an ImageIndex.
type Option func(*ImageIndex)

// WithLogger sets a logger for build and search events.
func WithLogger(l *zap.Logger) Option {
	return func(ix *ImageIndex) { ix.logger = l }
}

// WithLabelIndex keeps a keyword label index in sync with the vector cache.
func WithLabelIndex(li *keyword.LabelIndex) Option {
	return func(ix *ImageIndex) { ix.labels = li }
}

// New creates an image index over the configured directories and attempts to
// load the cache for the backend's current configuration. A bad rewrite
// pattern is a configuration error and fails construction.
func New(backend *embedding.Backend, store *cache.Store, dirs []config.ImageDir, opts ...Option) (*ImageIndex, error) {
	ix := &ImageIndex{
		backend:  backend,
		store:    store,
		dirs:     dirs,
		rewrites: make([]*labelRewrite, len(dirs)),
	}
	for _, opt := range opts {
		opt(ix)
	}
	for i, dir := range dirs {
		if dir.Rewrite == nil {
			continue
		}
		re, err := regexp.Compile(dir.Rewrite.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rewrite pattern for %s: %w", dir.Path, err)
		}
		ix.rewrites[i] = &labelRewrite{re: re, replacement: dir.Rewrite.Replacement}
	}
	ix.reloadCache()
	return ix, nil
}

// reloadCache loads the cache file for the backend's current (mode, model).
func (ix *ImageIndex) reloadCache() {
	records, err := ix.store.Load(ix.backend.Mode(), ix.backend.SelectedModel())
	if err != nil {
		if ix.logger != nil {
			ix.logger.Warn("cache load failed", zap.Error(err))
		}
		records = nil
	}
	ix.mu.Lock()
	ix.records = records
	ix.mu.Unlock()
	if err != nil {
		return
	}
	if ix.labels != nil && len(records) > 0 {
		if err := ix.labels.Sync(records); err != nil && ix.logger != nil {
			ix.logger.Warn("label index sync failed", zap.Error(err))
		}
	}
}

// Reload re-reads the active cache file, pruning records whose files have
// been deleted externally.
func (ix *ImageIndex) Reload() {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	ix.reloadCache()
}

// SetMode switches the backend strategy and swaps in the cache for the new
// (mode, model) key. Other caches are left untouched on disk.
func (ix *ImageIndex) SetMode(mode, modelID string) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()
	if err := ix.backend.SetMode(mode, modelID); err != nil {
		return err
	}
	ix.reloadCache()
	return nil
}

// Mode returns the backend's current mode.
func (ix *ImageIndex) Mode() string { return ix.backend.Mode() }

// SelectedModel returns the backend's selected local model id, if any.
func (ix *ImageIndex) SelectedModel() string { return ix.backend.SelectedModel() }

// DownloadModel fetches the selected local model's artifacts if missing, then
// loads the model. Requires local mode with a selected model.
func (ix *ImageIndex) DownloadModel(ctx context.Context) error {
	model := ix.backend.SelectedModel()
	if ix.backend.Mode() != config.ModeLocal || model == "" {
		return fmt.Errorf("select local mode and a model first")
	}
	if err := ix.backend.EnsureDownloaded(ctx, model); err != nil {
		return err
	}
	return ix.backend.Load(model)
}

// LoadModel loads the selected local model. Requires local mode with a
// selected model whose artifacts are downloaded.
func (ix *ImageIndex) LoadModel() error {
	model := ix.backend.SelectedModel()
	if ix.backend.Mode() != config.ModeLocal || model == "" {
		return fmt.Errorf("select local mode and a model first")
	}
	return ix.backend.Load(model)
}

// IsModelDownloaded reports whether the model's artifacts exist on disk.
func (ix *ImageIndex) IsModelDownloaded(modelID string) bool {
	return ix.backend.IsDownloaded(modelID)
}

// IsModelLoaded reports whether a local model is loaded.
func (ix *ImageIndex) IsModelLoaded() bool { return ix.backend.IsLoaded() }

// HasCache reports whether a usable cache is loaded for the active backend.
func (ix *ImageIndex) HasCache() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records) > 0
}

// Records returns the active in-memory record set. Callers must not modify it.
func (ix *ImageIndex) Records() []models.EmbeddingRecord {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.records
}

// BuildOrRefresh builds or incrementally refreshes the cache for the active
// backend configuration. Files already present in the cache keep their stored
// vector and label; only new files are embedded. Per-file embedding failures
// do not stop the pass: all successes are persisted first, and the failures
// are then returned together as a *BuildError. progress may be nil.
func (ix *ImageIndex) BuildOrRefresh(ctx context.Context, progress ProgressFunc) (*models.BuildReport, error) {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	start := time.Now()
	report := &models.BuildReport{
		RunID: uuid.New().String(),
		Mode:  ix.backend.Mode(),
		Model: ix.backend.SelectedModel(),
	}

	if ix.backend.Mode() == config.ModeLocal && !ix.backend.IsLoaded() {
		if err := ix.backend.Load(ix.backend.SelectedModel()); err != nil {
			return report, err
		}
	}

	files, err := collectImages(ix.dirs, ix.rewrites)
	if err != nil {
		return report, fmt.Errorf("walk image directories: %w", err)
	}
	report.Total = len(files)

	existing, err := ix.store.Load(ix.backend.Mode(), ix.backend.SelectedModel())
	if err != nil && ix.logger != nil {
		ix.logger.Warn("cache load failed, rebuilding from scratch", zap.Error(err))
	}
	cached := make(map[string]models.EmbeddingRecord, len(existing))
	for _, rec := range existing {
		cached[rec.FilePath] = rec
	}
	report.Pruned = len(existing) - countReusable(cached, files)

	var failures []FileFailure
	merged := make([]models.EmbeddingRecord, 0, len(files))
	for i, f := range files {
		if ctx.Err() != nil {
			break
		}
		if rec, ok := cached[f.path]; ok {
			merged = append(merged, rec)
			report.Reused++
		} else {
			label := deriveLabel(f.path, f.rewrite)
			vec, embedErr := ix.backend.Embed(ctx, label, "")
			if embedErr != nil {
				failures = append(failures, FileFailure{Path: f.path, Reason: embedErr.Error()})
				if ix.logger != nil {
					ix.logger.Warn("embedding failed", zap.String("path", f.path), zap.Error(embedErr))
				}
			} else {
				merged = append(merged, models.EmbeddingRecord{
					FilePath:  f.path,
					Filename:  filepath.Base(f.path),
					Label:     label,
					Embedding: vec,
					Category:  f.category,
				})
				report.Embedded++
			}
		}
		if progress != nil {
			progress(float64(i+1)/float64(len(files)), filepath.Base(f.path))
		}
	}

	if err := ix.store.Save(ix.backend.Mode(), ix.backend.SelectedModel(), merged); err != nil {
		return report, fmt.Errorf("persist cache: %w", err)
	}
	ix.mu.Lock()
	ix.records = merged
	ix.mu.Unlock()
	if ix.labels != nil {
		if err := ix.labels.Sync(merged); err != nil && ix.logger != nil {
			ix.logger.Warn("label index sync failed", zap.Error(err))
		}
	}

	report.Failed = len(failures)
	report.Duration = time.Since(start)
	for _, f := range failures {
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %s", f.Path, f.Reason))
	}
	if ix.logger != nil {
		ix.logger.Info("cache build finished",
			zap.String("run_id", report.RunID),
			zap.Int("total", report.Total),
			zap.Int("embedded", report.Embedded),
			zap.Int("reused", report.Reused),
			zap.Int("failed", report.Failed),
			zap.Duration("duration", report.Duration))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, ctxErr
	}
	if len(failures) > 0 {
		return report, &BuildError{Failures: failures}
	}
	return report, nil
}

// Search embeds the query and returns up to topK results ordered by
// non-increasing cosine similarity (dot product over unit vectors), ties kept
// in cache order. An absent cache yields an empty list; a query embedding
// failure also yields an empty list with degraded set, the error is logged
// rather than propagated.
func (ix *ImageIndex) Search(ctx context.Context, query string, topK int, keyOverride string) (results []*models.SearchResult, degraded bool) {
	ix.mu.RLock()
	records := ix.records
	ix.mu.RUnlock()
	if len(records) == 0 {
		return nil, false
	}
	queryVec, err := ix.backend.Embed(ctx, query, keyOverride)
	if err != nil {
		if ix.logger != nil {
			ix.logger.Warn("query embedding failed", zap.String("query", query), zap.Error(err))
		}
		return nil, true
	}

	scored := make([]*models.SearchResult, 0, len(records))
	for _, rec := range records {
		// Re-validate existence; the file may have vanished since cache load.
		if _, statErr := os.Stat(rec.FilePath); statErr != nil {
			continue
		}
		scored = append(scored, &models.SearchResult{
			FilePath: rec.FilePath,
			Filename: rec.Filename,
			Label:    rec.Label,
			Category: rec.Category,
			Score:    vector.InnerProduct(queryVec, rec.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && topK < len(scored) {
		scored = scored[:topK]
	}
	for i, r := range scored {
		r.Rank = i + 1
	}
	return scored, false
}

// SearchPaths is the minimal caller-facing query surface: the ranked file
// paths of the top topK matches.
func (ix *ImageIndex) SearchPaths(ctx context.Context, query string, topK int, keyOverride string) []string {
	results, _ := ix.Search(ctx, query, topK, keyOverride)
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.FilePath
	}
	return paths
}

// deriveLabel turns a filename into the text that gets embedded: the
// extension is stripped, the owning directory's rewrite rule is applied, and
// underscores and hyphens become spaces.
func deriveLabel(path string, rw *labelRewrite) string {
	base := filepath.Base(path)
	label := strings.TrimSuffix(base, filepath.Ext(base))
	if rw != nil {
		label = rw.re.ReplaceAllString(label, rw.replacement)
	}
	label = strings.ReplaceAll(label, "_", " ")
	label = strings.ReplaceAll(label, "-", " ")
	return strings.TrimSpace(label)
}

// countReusable returns how many cached records refer to a currently
// discovered file.
func countReusable(cached map[string]models.EmbeddingRecord, files []candidate) int {
	n := 0
	for _, f := range files {
		if _, ok := cached[f.path]; ok {
			n++
		}
	}
	return n
}
