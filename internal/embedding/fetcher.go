package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Fetcher downloads model artifacts for a repository id into a directory.
// Implementations either fully populate the directory or fail; the caller
// removes the directory on failure.
type Fetcher interface {
	Fetch(ctx context.Context, repo, destDir string) error
}

const defaultHubURL = "https://huggingface.co"

// HubFetcher downloads model artifacts from a Hugging Face style hub:
// the repo file tree is listed via the API, then each file is fetched
// through the resolve endpoint.
type HubFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHubFetcher returns a fetcher against the public hub.
func NewHubFetcher() *HubFetcher {
	return &HubFetcher{BaseURL: defaultHubURL, Client: http.DefaultClient}
}

type hubEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Fetch downloads every file of repo's main revision into destDir,
// preserving the repo-relative layout.
func (f *HubFetcher) Fetch(ctx context.Context, repo, destDir string) error {
	entries, err := f.listTree(ctx, repo)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}
		if err := f.fetchFile(ctx, repo, e.Path, destDir); err != nil {
			return fmt.Errorf("fetch %s: %w", e.Path, err)
		}
	}
	return nil
}

func (f *HubFetcher) listTree(ctx context.Context, repo string) ([]hubEntry, error) {
	u := fmt.Sprintf("%s/api/models/%s/tree/main?recursive=true", f.BaseURL, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list repo tree: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("list repo tree: status %d: %s", resp.StatusCode, string(b))
	}
	var entries []hubEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode repo tree: %w", err)
	}
	return entries, nil
}

func (f *HubFetcher) fetchFile(ctx context.Context, repo, relPath, destDir string) error {
	u := fmt.Sprintf("%s/%s/resolve/main/%s", f.BaseURL, repo, relPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	dest := filepath.Join(destDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
