package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/vector"
	"github.com/hyperjump/gazou/pkg/utils"
)

// LocalLoader loads a local model from an artifact directory. It exists so
// tests can substitute a deterministic embedder for the ONNX runtime.
type LocalLoader func(artifactDir string, dimensions, maxTokens int) (Embedder, error)

// Backend selects between the remote embedding API and local models, and owns
// the local model lifecycle (download, load, failure cleanup). All returned
// vectors are freshly allocated and L2-normalized to unit length.
type Backend struct {
	mu        sync.Mutex
	cfg       config.BackendConfig
	catalog   config.ModelCatalog
	modelsDir string

	remote  *RemoteClient
	fetcher Fetcher
	loader  LocalLoader

	mode     string
	selected string
	local    Embedder // nil until a local model is successfully loaded

	logger *zap.Logger
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithLogger sets a logger for load/download events.
func WithLogger(l *zap.Logger) BackendOption {
	return func(b *Backend) { b.logger = l }
}

// WithFetcher overrides the artifact fetcher (default: Hugging Face hub).
func WithFetcher(f Fetcher) BackendOption {
	return func(b *Backend) { b.fetcher = f }
}

// WithLocalLoader overrides how local model artifacts are loaded into memory.
func WithLocalLoader(l LocalLoader) BackendOption {
	return func(b *Backend) { b.loader = l }
}

// NewBackend creates a backend in the configured mode. The initial mode is
// applied through SetMode so a configured local model is eagerly loaded when
// its artifacts are already on disk.
func NewBackend(cfg config.BackendConfig, catalog config.ModelCatalog, modelsDir string, opts ...BackendOption) (*Backend, error) {
	b := &Backend{
		cfg:       cfg,
		catalog:   catalog,
		modelsDir: modelsDir,
		remote:    NewRemoteClient(cfg.Endpoint, cfg.APIKey, cfg.RemoteModel, cfg.Dimensions),
		fetcher:   NewHubFetcher(),
		loader: func(dir string, dims, maxTokens int) (Embedder, error) {
			return NewLocalModel(dir, dims, maxTokens)
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	model := ""
	if cfg.Mode == config.ModeLocal {
		model = cfg.DefaultModel
	}
	if err := b.SetMode(cfg.Mode, model); err != nil {
		return nil, err
	}
	return b, nil
}

// Mode returns the current backend mode.
func (b *Backend) Mode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SelectedModel returns the selected local model id, or "" in remote mode.
func (b *Backend) SelectedModel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

// IsLoaded reports whether a local model is loaded and ready for inference.
func (b *Backend) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local != nil
}

// SetMode switches the embedding strategy. For remote mode the local model
// reference is dropped (memory release is left to the GC). For local mode the
// model id is recorded and, when its artifacts are already on disk, a load is
// attempted eagerly; load failure is logged and leaves the backend in a
// "selected but unloaded" state rather than failing the switch, so callers
// must check IsLoaded before relying on local inference.
func (b *Backend) SetMode(mode, modelID string) error {
	switch mode {
	case config.ModeRemote:
		b.mu.Lock()
		b.mode = config.ModeRemote
		b.selected = ""
		b.local = nil
		b.mu.Unlock()
		return nil
	case config.ModeLocal:
		if modelID == "" {
			modelID = b.cfg.DefaultModel
		}
		if _, ok := b.catalog[modelID]; !ok {
			return &UnknownModelError{ID: modelID}
		}
		b.mu.Lock()
		b.mode = config.ModeLocal
		b.selected = modelID
		b.local = nil
		b.mu.Unlock()
		if b.IsDownloaded(modelID) {
			if err := b.Load(modelID); err != nil && b.logger != nil {
				b.logger.Warn("eager model load failed", zap.String("model", modelID), zap.Error(err))
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// artifactDir resolves the on-disk artifact directory for a catalog model id.
func (b *Backend) artifactDir(modelID string) (string, error) {
	info, ok := b.catalog[modelID]
	if !ok {
		return "", &UnknownModelError{ID: modelID}
	}
	return config.ModelArtifactDir(b.modelsDir, info.Repo), nil
}

// IsDownloaded reports whether the model's artifact directory exists.
// It checks existence only; integrity is validated at load time.
func (b *Backend) IsDownloaded(modelID string) bool {
	dir, err := b.artifactDir(modelID)
	if err != nil {
		return false
	}
	_, err = os.Stat(dir)
	return err == nil
}

// EnsureDownloaded fetches the model's artifacts if they are not already
// present. It is idempotent. A failed fetch leaves no partial directory.
func (b *Backend) EnsureDownloaded(ctx context.Context, modelID string) error {
	dir, err := b.artifactDir(modelID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	info := b.catalog[modelID]
	if b.logger != nil {
		b.logger.Info("downloading model", zap.String("model", modelID), zap.String("repo", info.Repo))
	}
	if err := b.fetcher.Fetch(ctx, info.Repo, dir); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("download model %s: %w", modelID, err)
	}
	return nil
}

// Load loads the model's artifacts into memory and makes it the active local
// model. On any failure the in-memory handle is discarded and the on-disk
// artifact directory is removed (treated as corrupt), so the next attempt
// starts from a clean re-download.
func (b *Backend) Load(modelID string) error {
	dir, err := b.artifactDir(modelID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return &ModelLoadError{Model: modelID, Err: fmt.Errorf("artifacts not downloaded")}
	}
	handle, err := b.loader(dir, b.cfg.Dimensions, b.cfg.MaxTokens)
	if err != nil {
		_ = os.RemoveAll(dir)
		b.mu.Lock()
		b.local = nil
		b.mu.Unlock()
		return &ModelLoadError{Model: modelID, Err: err}
	}
	b.mu.Lock()
	b.local = handle
	b.selected = modelID
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Info("model loaded", zap.String("model", modelID))
	}
	return nil
}

// Embed produces a unit-length embedding for text via the current mode.
// keyOverride, when non-empty, replaces the configured remote credential for
// this call only. In local mode with no loaded model, one lazy load attempt
// is made when the selected model's artifacts are present; otherwise
// ErrBackendUnavailable is returned.
func (b *Backend) Embed(ctx context.Context, text, keyOverride string) ([]float32, error) {
	b.mu.Lock()
	mode := b.mode
	local := b.local
	selected := b.selected
	b.mu.Unlock()

	var raw []float32
	var err error
	switch mode {
	case config.ModeRemote:
		raw, err = b.remote.EmbedWithKey(ctx, text, keyOverride)
	case config.ModeLocal:
		if local == nil {
			if selected == "" || !b.IsDownloaded(selected) {
				return nil, ErrBackendUnavailable
			}
			if loadErr := b.Load(selected); loadErr != nil {
				return nil, loadErr
			}
			b.mu.Lock()
			local = b.local
			b.mu.Unlock()
		}
		raw, err = local.Embed(ctx, text)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err != nil {
		return nil, err
	}

	// A zero vector cannot be normalized and would score every candidate 0.
	if vector.L2Norm(raw) == 0 {
		return nil, fmt.Errorf("embedder returned a zero vector for %q", text)
	}

	// Copy before normalizing so the backend's internal buffer is never aliased.
	vec := make([]float32, len(raw))
	copy(vec, raw)
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the embedding dimensionality of the active configuration.
func (b *Backend) Dimensions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local != nil {
		return b.local.Dimensions()
	}
	return b.cfg.Dimensions
}

// Close releases the loaded local model, if any.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.local != nil {
		err := b.local.Close()
		b.local = nil
		return err
	}
	return nil
}
