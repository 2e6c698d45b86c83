package config

// Backend modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/usr/local/var/gazou/data"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = cfg.Storage.DataDir + "/cache"
	}
	if cfg.Storage.ModelsDir == "" {
		cfg.Storage.ModelsDir = cfg.Storage.DataDir + "/models"
	}
	if cfg.Storage.HistoryPath == "" {
		cfg.Storage.HistoryPath = cfg.Storage.DataDir + "/db/history.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = cfg.Storage.DataDir + "/indices/labels.bleve"
	}
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = ModeRemote
	}
	if cfg.Backend.DefaultModel == "" {
		cfg.Backend.DefaultModel = "bge-large-zh-v1.5"
	}
	if cfg.Backend.Endpoint == "" {
		cfg.Backend.Endpoint = "https://api.siliconflow.com/v1/embeddings"
	}
	if cfg.Backend.RemoteModel == "" {
		cfg.Backend.RemoteModel = "BAAI/bge-m3"
	}
	if cfg.Backend.Dimensions == 0 {
		cfg.Backend.Dimensions = 1024
	}
	if cfg.Backend.MaxTokens == 0 {
		cfg.Backend.MaxTokens = 256
	}
	if cfg.Models == nil {
		cfg.Models = DefaultModelCatalog()
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
}

// DefaultModelCatalog returns the built-in local model catalog.
func DefaultModelCatalog() ModelCatalog {
	return ModelCatalog{
		"bge-m3": {
			Repo:        "BAAI/bge-m3",
			Size:        "1.7GB",
			Performance: "high",
			Description: "High quality multilingual model",
		},
		"bge-large-zh-v1.5": {
			Repo:        "BAAI/bge-large-zh-v1.5",
			Size:        "1.2GB",
			Performance: "medium",
			Description: "Chinese-optimized model",
		},
		"bge-small-zh-v1.5": {
			Repo:        "BAAI/bge-small-zh-v1.5",
			Size:        "400MB",
			Performance: "low",
			Description: "Lightweight Chinese model",
		},
	}
}
