// Package config provides configuration loading and structs for the Gazou engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Backend BackendConfig `yaml:"backend"`
	Models  ModelCatalog  `yaml:"models"`
	Images  []ImageDir    `yaml:"images"`
	Search  SearchConfig  `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for caches, model artifacts, and the history database.
type StorageConfig struct {
	DataDir          string `yaml:"data_dir"`
	CacheDir         string `yaml:"cache_dir"`
	ModelsDir        string `yaml:"models_dir"`
	HistoryPath      string `yaml:"history_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
}

// BackendConfig holds embedding backend settings.
type BackendConfig struct {
	// Mode is "remote" or "local".
	Mode string `yaml:"mode"`
	// DefaultModel is the catalog id used when local mode is selected without a model.
	DefaultModel string `yaml:"default_model"`
	// APIKey is the bearer credential for the remote embedding API.
	APIKey string `yaml:"api_key"`
	// Endpoint is the remote embeddings URL.
	Endpoint string `yaml:"endpoint"`
	// RemoteModel is the model identifier sent with remote requests.
	RemoteModel string `yaml:"remote_model"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
}

// ModelCatalog maps a model id to its descriptor.
type ModelCatalog map[string]ModelInfo

// ModelInfo describes a downloadable local embedding model.
type ModelInfo struct {
	// Repo is the artifact repository identifier (e.g. "BAAI/bge-m3").
	Repo        string `yaml:"repo"`
	Size        string `yaml:"size"`
	Performance string `yaml:"performance"`
	Description string `yaml:"description"`
}

// ImageDir is one image directory to index, with an optional category tag and
// an optional label rewrite rule applied before embedding.
type ImageDir struct {
	Path     string       `yaml:"path"`
	Category string       `yaml:"category"`
	Rewrite  *RewriteRule `yaml:"rewrite,omitempty"`
}

// RewriteRule rewrites a filename-derived label via a regexp pattern and replacement.
// It lets a directory of cryptically named files map to meaningful semantic labels
// without renaming the files.
type RewriteRule struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.CacheDir = expandPath(cfg.Storage.CacheDir, configDir)
	cfg.Storage.ModelsDir = expandPath(cfg.Storage.ModelsDir, configDir)
	cfg.Storage.HistoryPath = expandPath(cfg.Storage.HistoryPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	for i := range cfg.Images {
		cfg.Images[i].Path = expandPath(cfg.Images[i].Path, configDir)
	}

	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("GAZOU_API_KEY")
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting image directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ModelArtifactDir returns the on-disk artifact directory for a model repo id.
// Slashes in the repo id are flattened so the directory stays inside modelsDir.
func ModelArtifactDir(modelsDir, repo string) string {
	return filepath.Join(modelsDir, strings.ReplaceAll(repo, "/", "_"))
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
