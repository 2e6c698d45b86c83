package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/embedding"
	"github.com/hyperjump/gazou/internal/index"
	"github.com/hyperjump/gazou/internal/keyword"
	"github.com/hyperjump/gazou/internal/models"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(s.config.Search.DefaultLimit, s.config.Search.MaxLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("top_k", query.TopK))

	start := time.Now()
	results, degraded := s.index.Search(r.Context(), query.Query, query.TopK, query.APIKey)
	response := &models.SearchResponse{
		Results:  results,
		Total:    len(results),
		Query:    query.Query,
		Degraded: degraded,
	}
	if query.KeywordEnabled && s.labels != nil {
		hits, err := s.labels.Search(r.Context(), query.Query, query.TopK, query.FuzzyEnabled)
		if err != nil {
			s.logger.Warn("keyword search failed", zap.Error(err))
		} else {
			response.KeywordResults = s.resolveKeywordHits(hits)
		}
	}
	response.QueryTime = time.Since(start).Milliseconds()

	if s.history != nil {
		if err := s.history.RecordQuery(r.Context(), query.Query, s.index.Mode(), degraded, len(results), time.Since(start)); err != nil {
			s.logger.Warn("query log failed", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, response)
}

// resolveKeywordHits joins label index hits with the cached records so the
// response carries labels and categories, not just paths.
func (s *Server) resolveKeywordHits(hits []*keyword.Result) []*models.SearchResult {
	byPath := make(map[string]*models.EmbeddingRecord)
	records := s.index.Records()
	for i := range records {
		byPath[records[i].FilePath] = &records[i]
	}
	out := make([]*models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec, ok := byPath[hit.ID]
		if !ok {
			continue
		}
		out = append(out, &models.SearchResult{
			FilePath: rec.FilePath,
			Filename: rec.Filename,
			Label:    rec.Label,
			Category: rec.Category,
			Score:    hit.Score,
			Rank:     len(out) + 1,
		})
	}
	return out
}

func (s *Server) handleBuildCache(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("cache build requested")
	report, err := s.index.BuildOrRefresh(r.Context(), func(fraction float64, label string) {
		s.logger.Debug("cache build progress", zap.Float64("fraction", fraction), zap.String("label", label))
	})
	if s.history != nil && report != nil {
		if histErr := s.history.RecordBuild(r.Context(), report); histErr != nil {
			s.logger.Warn("build history record failed", zap.Error(histErr))
		}
	}
	if err != nil {
		var buildErr *index.BuildError
		if errors.As(err, &buildErr) {
			// Successful files are already persisted; report the partial failure.
			s.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":  "cache build completed with failures",
				"report": report,
			})
			return
		}
		s.logger.Error("cache build failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	records := s.index.Records()
	categories := make(map[string]int)
	for _, rec := range records {
		categories[rec.Category]++
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"has_cache":  s.index.HasCache(),
		"records":    len(records),
		"categories": categories,
		"mode":       s.index.Mode(),
		"model":      s.index.SelectedModel(),
	})
}

type modelStatus struct {
	ID          string `json:"id"`
	Repo        string `json:"repo"`
	Size        string `json:"size"`
	Performance string `json:"performance"`
	Description string `json:"description"`
	Downloaded  bool   `json:"downloaded"`
	Selected    bool   `json:"selected"`
	Loaded      bool   `json:"loaded"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	selected := s.index.SelectedModel()
	out := make([]modelStatus, 0, len(s.config.Models))
	for id, info := range s.config.Models {
		out = append(out, modelStatus{
			ID:          id,
			Repo:        info.Repo,
			Size:        info.Size,
			Performance: info.Performance,
			Description: info.Description,
			Downloaded:  s.index.IsModelDownloaded(id),
			Selected:    id == selected,
			Loaded:      id == selected && s.index.IsModelLoaded(),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":   s.index.Mode(),
		"models": out,
	})
}

type backendRequest struct {
	Mode  string `json:"mode"`
	Model string `json:"model,omitempty"`
}

func (s *Server) handleSetBackend(w http.ResponseWriter, r *http.Request) {
	var req backendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.index.SetMode(req.Mode, req.Model); err != nil {
		var unknown *embedding.UnknownModelError
		if errors.Is(err, embedding.ErrInvalidMode) || errors.As(err, &unknown) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":      s.index.Mode(),
		"model":     s.index.SelectedModel(),
		"loaded":    s.index.IsModelLoaded(),
		"has_cache": s.index.HasCache(),
	})
}

// handleModelDownload selects the model in local mode, downloads its
// artifacts if missing, and loads it (mirrors the select-then-download flow
// of the UI front-end).
func (s *Server) handleModelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.index.SetMode(config.ModeLocal, id); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.index.DownloadModel(r.Context()); err != nil {
		s.logger.Error("model download failed", zap.String("model", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"model": id, "status": "loaded"})
}

func (s *Server) handleModelLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.index.SetMode(config.ModeLocal, id); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.index.IsModelLoaded() {
		s.respondJSON(w, http.StatusOK, map[string]string{"model": id, "status": "loaded"})
		return
	}
	if err := s.index.LoadModel(); err != nil {
		s.logger.Error("model load failed", zap.String("model", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"model": id, "status": "loaded"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"mode":         s.index.Mode(),
		"model":        s.index.SelectedModel(),
		"model_loaded": s.index.IsModelLoaded(),
		"has_cache":    s.index.HasCache(),
		"records":      len(s.index.Records()),
	}
	if s.history != nil {
		if builds, err := s.history.CountBuilds(ctx); err == nil {
			resp["build_runs"] = builds
		}
		if queries, err := s.history.CountQueries(ctx); err == nil {
			resp["queries"] = queries
		}
		if last, err := s.history.LastBuild(ctx); err == nil && last != nil {
			resp["last_build"] = last
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
