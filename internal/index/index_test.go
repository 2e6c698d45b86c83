package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/gazou/internal/cache"
	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/models"
)

// stubEmbedder returns hand-crafted vectors per label so similarity ordering
// is controlled by the test, and fails on demand for specific labels.
type stubEmbedder struct {
	vectors map[string][]float32
	fail    map[string]bool
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail[text] {
		return nil, fmt.Errorf("no embedding for %q", text)
	}
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	// Distinct fallback so unlisted labels still embed.
	return []float32{float32(len(text)), 1}, nil
}

func (e *stubEmbedder) Dimensions() int { return 2 }
func (e *stubEmbedder) Close() error    { return nil }

type testEnv struct {
	idx      *ImageIndex
	store    *cache.Store
	embedder *stubEmbedder
	imgDir   string
}

func touchImage(t *testing.T, dir, name string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("png"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEnv(t *testing.T, dirs ...config.ImageDir) *testEnv {
	t.Helper()
	root := t.TempDir()
	imgDir := filepath.Join(root, "imgs")
	if len(dirs) == 0 {
		dirs = []config.ImageDir{{Path: imgDir}}
	}

	modelsDir := filepath.Join(root, "models")
	// Artifacts "present" so the stub loader is invoked eagerly.
	if err := os.MkdirAll(config.ModelArtifactDir(modelsDir, "acme/m"), 0755); err != nil {
		t.Fatal(err)
	}

	embedder := &stubEmbedder{
		vectors: map[string][]float32{
			"black cat": {1, 0},
			"brown dog": {0, 1},
			"cat":       {0.95, 0.05},
		},
		fail: map[string]bool{},
	}
	backend, err := embedding.NewBackend(
		config.BackendConfig{
			Mode:         config.ModeLocal,
			DefaultModel: "m",
			Dimensions:   2,
		},
		config.ModelCatalog{"m": {Repo: "acme/m"}},
		modelsDir,
		embedding.WithLocalLoader(func(dir string, dims, maxTokens int) (embedding.Embedder, error) {
			return embedder, nil
		}),
	)
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}

	store := cache.NewStore(filepath.Join(root, "cache"), "")
	idx, err := New(backend, store, dirs)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testEnv{idx: idx, store: store, embedder: embedder, imgDir: imgDir}
}

func TestBuildOrRefresh_initial(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")
	touchImage(t, env.imgDir, "notes.txt") // not an image, ignored

	report, err := env.idx.BuildOrRefresh(context.Background(), nil)
	if err != nil {
		t.Fatalf("BuildOrRefresh failed: %v", err)
	}
	if report.Total != 2 || report.Embedded != 2 || report.Reused != 0 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.RunID == "" {
		t.Error("report should carry a run id")
	}
	if !env.idx.HasCache() {
		t.Error("cache should be loaded after build")
	}
	if !env.store.Exists(config.ModeLocal, "m") {
		t.Error("cache file should be persisted")
	}

	recs := env.idx.Records()
	byLabel := map[string]models.EmbeddingRecord{}
	for _, r := range recs {
		byLabel[r.Label] = r
	}
	cat, ok := byLabel["black cat"]
	if !ok {
		t.Fatalf("missing black cat record: %+v", recs)
	}
	if cat.Category != models.CategoryUncategorized {
		t.Errorf("category = %s", cat.Category)
	}
	if cat.Filename != "black_cat.png" {
		t.Errorf("filename = %s", cat.Filename)
	}
}

func TestBuildOrRefresh_secondBuildReusesEverything(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")

	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	report, err := env.idx.BuildOrRefresh(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Embedded != 0 || report.Reused != 2 {
		t.Errorf("second build should reuse all records: %+v", report)
	}
}

func TestBuildOrRefresh_incrementalAddAndPrune(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	dog := touchImage(t, env.imgDir, "brown_dog.png")

	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(dog); err != nil {
		t.Fatal(err)
	}
	touchImage(t, env.imgDir, "red_fox.png")

	report, err := env.idx.BuildOrRefresh(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 2 || report.Embedded != 1 || report.Reused != 1 {
		t.Errorf("report = %+v", report)
	}
	for _, rec := range env.idx.Records() {
		if rec.FilePath == dog {
			t.Error("removed file should not survive a rebuild")
		}
	}
}

func TestBuildOrRefresh_partialFailure(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	broken := touchImage(t, env.imgDir, "broken_thing.png")
	env.embedder.fail["broken thing"] = true

	report, err := env.idx.BuildOrRefresh(context.Background(), nil)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildError, got %v", err)
	}
	if len(buildErr.Failures) != 1 || buildErr.Failures[0].Path != broken {
		t.Errorf("failures = %+v", buildErr.Failures)
	}
	if report.Embedded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}

	// Successful records were persisted despite the failure.
	persisted, loadErr := env.store.Load(config.ModeLocal, "m")
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if len(persisted) != 1 || persisted[0].Label != "black cat" {
		t.Errorf("persisted = %+v", persisted)
	}

	// After the cause clears, a retry embeds only the missing file.
	env.embedder.fail = map[string]bool{}
	retry, err := env.idx.BuildOrRefresh(context.Background(), nil)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Embedded != 1 || retry.Reused != 1 || retry.Failed != 0 {
		t.Errorf("retry report = %+v", retry)
	}
}

func TestBuildOrRefresh_progressReported(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")

	var fractions []float64
	_, err := env.idx.BuildOrRefresh(context.Background(), func(fraction float64, label string) {
		fractions = append(fractions, fraction)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fractions) != 2 {
		t.Fatalf("progress calls = %d, want 2", len(fractions))
	}
	if fractions[len(fractions)-1] != 1 {
		t.Errorf("final fraction = %v, want 1", fractions[len(fractions)-1])
	}
}

func TestBuildOrRefresh_contextCancel(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.idx.BuildOrRefresh(ctx, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSearch_rankingAndTopK(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	results, degraded := env.idx.Search(context.Background(), "cat", 0, "")
	if degraded {
		t.Fatal("search should not be degraded")
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Label != "black cat" {
		t.Errorf("top result = %s, want black cat", results[0].Label)
	}
	if results[0].Score < results[1].Score {
		t.Error("results must be ordered by non-increasing score")
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", results[0].Rank, results[1].Rank)
	}

	top1, _ := env.idx.Search(context.Background(), "cat", 1, "")
	if len(top1) != 1 || top1[0].Label != "black cat" {
		t.Errorf("top-1 = %+v", top1)
	}
}

func TestSearch_emptyCache(t *testing.T) {
	env := newTestEnv(t)
	results, degraded := env.idx.Search(context.Background(), "cat", 5, "")
	if results != nil || degraded {
		t.Errorf("empty cache should yield empty non-degraded results: %v, %v", results, degraded)
	}
}

func TestSearch_queryEmbedFailureIsDegraded(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	env.embedder.fail["cat"] = true

	results, degraded := env.idx.Search(context.Background(), "cat", 5, "")
	if results != nil {
		t.Errorf("degraded search should yield no results: %v", results)
	}
	if !degraded {
		t.Error("search should report degraded")
	}
}

func TestSearch_skipsVanishedFiles(t *testing.T) {
	env := newTestEnv(t)
	cat := touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(cat); err != nil {
		t.Fatal(err)
	}

	results, _ := env.idx.Search(context.Background(), "cat", 0, "")
	for _, r := range results {
		if r.FilePath == cat {
			t.Error("vanished file must not be returned")
		}
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
}

func TestSearchPaths(t *testing.T) {
	env := newTestEnv(t)
	cat := touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	paths := env.idx.SearchPaths(context.Background(), "cat", 1, "")
	if len(paths) != 1 || paths[0] != cat {
		t.Errorf("paths = %v, want [%s]", paths, cat)
	}
}

func TestImageDir_categoryAndRewrite(t *testing.T) {
	root := t.TempDir()
	animalDir := filepath.Join(root, "animals")
	env := newTestEnv(t, config.ImageDir{
		Path:     animalDir,
		Category: "animals",
		Rewrite:  &config.RewriteRule{Pattern: `^IMG_\d+_`, Replacement: ""},
	})
	touchImage(t, animalDir, "IMG_0042_black_cat.png")

	report, err := env.idx.BuildOrRefresh(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Embedded != 1 {
		t.Fatalf("report = %+v", report)
	}
	rec := env.idx.Records()[0]
	if rec.Label != "black cat" {
		t.Errorf("rewritten label = %q, want %q", rec.Label, "black cat")
	}
	if rec.Category != "animals" {
		t.Errorf("category = %s", rec.Category)
	}
}

func TestNew_badRewritePattern(t *testing.T) {
	root := t.TempDir()
	backend, err := embedding.NewBackend(
		config.BackendConfig{Mode: config.ModeRemote, Dimensions: 2},
		config.ModelCatalog{},
		root,
	)
	if err != nil {
		t.Fatal(err)
	}
	store := cache.NewStore(filepath.Join(root, "cache"), "")
	_, err = New(backend, store, []config.ImageDir{{
		Path:    root,
		Rewrite: &config.RewriteRule{Pattern: `([`, Replacement: ""},
	}})
	if err == nil {
		t.Fatal("invalid rewrite pattern should fail construction")
	}
}

func TestSetMode_swapsCache(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !env.idx.HasCache() {
		t.Fatal("cache should be loaded")
	}

	// Remote mode has no cache built yet; its cache file is independent.
	if err := env.idx.SetMode(config.ModeRemote, ""); err != nil {
		t.Fatal(err)
	}
	if env.idx.HasCache() {
		t.Error("switching backend must not carry the other backend's cache")
	}

	// Switching back restores the local cache from disk.
	if err := env.idx.SetMode(config.ModeLocal, "m"); err != nil {
		t.Fatal(err)
	}
	if !env.idx.HasCache() {
		t.Error("local cache should be reloaded from disk")
	}
}

func TestDeriveLabel(t *testing.T) {
	if got := deriveLabel("/imgs/black_cat.png", nil); got != "black cat" {
		t.Errorf("deriveLabel = %q", got)
	}
	if got := deriveLabel("/imgs/sunset.jpeg", nil); got != "sunset" {
		t.Errorf("deriveLabel = %q", got)
	}
}

func TestConcurrentBuildAndSearch(t *testing.T) {
	env := newTestEnv(t)
	touchImage(t, env.imgDir, "black_cat.png")
	touchImage(t, env.imgDir, "brown_dog.png")
	if _, err := env.idx.BuildOrRefresh(context.Background(), nil); err != nil {
		t.Fatalf("BuildOrRefresh failed: %v", err)
	}

	// The server and the watcher drive the index from separate goroutines;
	// run builds, reloads and searches in parallel under the race detector.
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := env.idx.BuildOrRefresh(ctx, nil); err != nil {
				t.Errorf("BuildOrRefresh failed: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			env.idx.Reload()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			results, degraded := env.idx.Search(ctx, "cat", 5, "")
			if degraded {
				t.Error("search should not degrade")
				return
			}
			if len(results) > 0 && results[0].Label != "black cat" {
				t.Errorf("top result = %q", results[0].Label)
				return
			}
			_ = env.idx.HasCache()
			_ = env.idx.Records()
		}
	}()
	wg.Wait()
}
