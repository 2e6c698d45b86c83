// Package main is the Gazou CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/cache"
	"github.com/hyperjump/gazou/internal/cli"
	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/history"
	"github.com/hyperjump/gazou/internal/index"
	"github.com/hyperjump/gazou/internal/keyword"
	"github.com/hyperjump/gazou/internal/models"
	"github.com/hyperjump/gazou/internal/server"
	"github.com/hyperjump/gazou/internal/watcher"
	"github.com/hyperjump/gazou/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/gazou/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "build":
		runBuild()
	case "model":
		runModel()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("gazou version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (directory changes, build progress, etc.)")
	watch := fs.Bool("watch", true, "rebuild the cache when image directories change")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	idx := components.Index
	var watchSvc *watcher.Watcher
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if *watch {
		roots := make([]string, 0, len(cfg.Images))
		for _, dir := range cfg.Images {
			roots = append(roots, dir.Path)
		}
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(
			roots,
			func() {
				if _, err := idx.BuildOrRefresh(watchCtx, nil); err != nil {
					logger.Warn("watch rebuild failed", zap.Error(err))
				}
			},
			func(path string) {
				// Load prunes records whose files are gone.
				idx.Reload()
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(idx, components.Labels, components.History, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildSearchQuery joins all positional args with spaces so multi-word
// queries work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the
// query to the front of the slice so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: gazou search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  gazou search black cat
  gazou search "black cat"                # same as above
  gazou search --top-k 10 sunset beach
  gazou search --output paths cat | xargs open
  gazou search --keyword --fuzzy blck cat # label lookup with typo tolerance
`)
}

func runSearch() {
	searchArgs := searchArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search the cache directly)")
	topK := fs.Int("top-k", 0, "number of results (0 = config default)")
	kwEnabled := fs.Bool("keyword", false, "also run a label keyword lookup")
	fuzzyEnabled := fs.Bool("fuzzy", false, "typo tolerance for the keyword lookup")
	outputFormat := fs.String("output", "text", "output format: text, paths, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgs)

	if fs.NArg() < 1 {
		printSearchUsage(fs)
		os.Exit(1)
	}
	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	searchQuery := &models.SearchQuery{
		Query:          queryStr,
		TopK:           *topK,
		KeywordEnabled: *kwEnabled,
		FuzzyEnabled:   *fuzzyEnabled,
	}

	if *serverURL != "" {
		response, err := searchViaHTTP(*serverURL, searchQuery)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if err := searchQuery.Validate(cfg.Search.DefaultLimit, cfg.Search.MaxLimit); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid query: %v\n", err)
		os.Exit(1)
	}

	start := time.Now()
	results, degraded := components.Index.Search(context.Background(), searchQuery.Query, searchQuery.TopK, "")
	response := &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
		Query:     searchQuery.Query,
		Degraded:  degraded,
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runBuild() {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	quiet := fs.Bool("quiet", false, "suppress the progress line")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var progress index.ProgressFunc
	if !*quiet {
		progress = func(fraction float64, label string) {
			fmt.Printf("\r%3.0f%%  %-60s", fraction*100, utils.Truncate(label, 60))
		}
	}
	report, err := components.Index.BuildOrRefresh(ctx, progress)
	if !*quiet {
		fmt.Println()
	}
	if report != nil && components.History != nil {
		_ = components.History.RecordBuild(context.Background(), report)
	}
	if err != nil {
		var buildErr *index.BuildError
		if errors.As(err, &buildErr) {
			cli.WriteBuildReport(os.Stdout, report)
			fmt.Fprintf(os.Stderr, "Build finished with %d failure(s); successful files were cached.\n", len(buildErr.Failures))
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		os.Exit(1)
	}
	cli.WriteBuildReport(os.Stdout, report)
}

func runModel() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: gazou model <list|download|load> [model-id]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("model", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[3:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	idx := components.Index

	switch sub {
	case "list":
		ids := make([]string, 0, len(cfg.Models))
		for id := range cfg.Models {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			info := cfg.Models[id]
			marker := " "
			if idx.IsModelDownloaded(id) {
				marker = "*"
			}
			fmt.Printf("%s %-22s %-8s %-8s %s\n", marker, id, info.Size, info.Performance, info.Description)
		}
	case "download", "load":
		if fs.NArg() < 1 {
			fmt.Printf("Usage: gazou model %s <model-id>\n", sub)
			os.Exit(1)
		}
		id := fs.Arg(0)
		if err := idx.SetMode(config.ModeLocal, id); err != nil {
			fmt.Fprintf(os.Stderr, "Select model failed: %v\n", err)
			os.Exit(1)
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		if sub == "download" {
			if err := idx.DownloadModel(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
				os.Exit(1)
			}
		} else if !idx.IsModelLoaded() {
			if err := idx.LoadModel(); err != nil {
				fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
				os.Exit(1)
			}
		}
		fmt.Printf("Model ready: %s\n", id)
	default:
		fmt.Printf("Unknown model subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local state)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var status map[string]interface{}
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = res
	} else {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		logger, err := utils.NewLogger(cfg.Debug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		idx := components.Index
		status = map[string]interface{}{
			"mode":         idx.Mode(),
			"model":        idx.SelectedModel(),
			"model_loaded": idx.IsModelLoaded(),
			"has_cache":    idx.HasCache(),
			"records":      len(idx.Records()),
		}
		if components.History != nil {
			ctx := context.Background()
			if builds, err := components.History.CountBuilds(ctx); err == nil {
				status["build_runs"] = builds
			}
			if queries, err := components.History.CountQueries(ctx); err == nil {
				status["queries"] = queries
			}
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		keys := make([]string, 0, len(status))
		for k := range status {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-14s %v\n", k+":", status[k])
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (map[string]interface{}, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

// Components holds initialized services.
type Components struct {
	Cache   *cache.Store
	Backend *embedding.Backend
	Labels  *keyword.LabelIndex
	History *history.Store
	Index   *index.ImageIndex
}

func (c *Components) Close() {
	if c.Backend != nil {
		_ = c.Backend.Close()
	}
	if c.Labels != nil {
		_ = c.Labels.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	backend, err := embedding.NewBackend(cfg.Backend, cfg.Models, cfg.Storage.ModelsDir, embedding.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding backend: %w", err)
	}

	// Caches written before the path field carry bare filenames that resolve
	// against the first configured image directory.
	legacyDir := ""
	if len(cfg.Images) > 0 {
		legacyDir = cfg.Images[0].Path
	}
	store := cache.NewStore(cfg.Storage.CacheDir, legacyDir, cache.WithLogger(logger))

	labels, err := keyword.NewLabelIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize label index: %w", err)
	}

	hist, err := history.NewStore(cfg.Storage.HistoryPath)
	if err != nil {
		logger.Warn("history store unavailable, continuing without it", zap.Error(err))
		hist = nil
	}

	idx, err := index.New(backend, store, cfg.Images,
		index.WithLogger(logger),
		index.WithLabelIndex(labels),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image index: %w", err)
	}

	return &Components{
		Cache:   store,
		Backend: backend,
		Labels:  labels,
		History: hist,
		Index:   idx,
	}, nil
}

func printUsage() {
	fmt.Println(`gazou - Semantic image search by filename

Usage:
  gazou server [flags]            Start the HTTP server
  gazou search [flags] <query>    Search images by natural-language query
  gazou build [flags]             Build or refresh the embedding cache
  gazou model <list|download|load> [id]   Manage local embedding models
  gazou status [flags]            Show backend/cache status
  gazou version                   Show version
  gazou help                      Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/gazou/config.yaml)
  --debug            Enable debug logging
  --watch            Rebuild the cache when image directories change (default: true)

Search Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL; empty searches the local cache directly
  --top-k int        Number of results (0 = config default)
  --keyword          Also run a label keyword lookup
  --fuzzy            Typo tolerance for the keyword lookup
  --output string    Output format: text, paths, or json (default: text)

Examples:
  gazou server
  gazou build
  gazou search "black cat"
  gazou search --output paths sunset | xargs open
  gazou model download bge-small-zh-v1.5
  gazou status --output json`)
}
