package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/registry"
	"github.com/kumocrawler/kumocrawler/internal/scraper"
)

type enumerateRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type scrapeRequest struct {
	URL      string            `json:"url"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Channels []scraper.Channel `json:"channels"`
	Depth    string            `json:"depth"`
}

func (r enumerateRequest) credentials() scraper.Credentials {
	return scraper.Credentials{URL: r.URL, Username: r.Username, Password: r.Password}
}

func (r scrapeRequest) credentials() scraper.Credentials {
	return scraper.Credentials{URL: r.URL, Username: r.Username, Password: r.Password}
}

// connectAndEnumerate validates the credentials, creates an enumeration task,
// starts it in the background, and returns the task id immediately.
func (s *Server) connectAndEnumerate(w http.ResponseWriter, r *http.Request) {
	var req enumerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	creds := req.credentials()
	if err := creds.Validate(); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "Missing data.")
		return
	}

	task, err := s.registry.Create(registry.KindEnumerate)
	if err != nil {
		s.logger.Error("create enumerate task failed", zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "could not create task")
		return
	}
	if err := s.runner.RunEnumerate(task.ID, creds); err != nil {
		s.logger.Error("start enumerate task failed", zap.String("task_id", task.ID), zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "could not start task")
		return
	}
	s.logger.Info("enumerate task accepted",
		zap.String("task_id", task.ID),
		zap.String("instance", creds.URL),
		zap.String("username", creds.Username),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "task_id": task.ID})
}

// scrape validates the credentials and the depth/channel-count invariant
// before any task exists; violations return 400 and no task id.
func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	creds := req.credentials()
	if err := creds.Validate(); err != nil {
		s.writeFailure(w, http.StatusBadRequest, "Missing data for scraping.")
		return
	}
	depth, err := scraper.ParseDepth(req.Depth)
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	sel := scraper.Selection{Channels: req.Channels, Depth: depth}
	if err := sel.Validate(); err != nil {
		s.writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.registry.Create(registry.KindScrape)
	if err != nil {
		s.logger.Error("create scrape task failed", zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "could not create task")
		return
	}
	if err := s.runner.RunScrape(task.ID, creds, sel); err != nil {
		s.logger.Error("start scrape task failed", zap.String("task_id", task.ID), zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "could not start task")
		return
	}
	s.logger.Info("scrape task accepted",
		zap.String("task_id", task.ID),
		zap.Int("channels", len(sel.Channels)),
		zap.String("depth", string(sel.Depth)),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "task_id": task.ID})
}

// download hands off a completed task's artifact exactly as stored.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	artifact, err := s.registry.Artifact(taskID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		http.Error(w, "Results not found or expired.", http.StatusNotFound)
		return
	case errors.Is(err, registry.ErrNotReady):
		http.Error(w, "Results are not ready for this task.", http.StatusConflict)
		return
	case err != nil:
		s.logger.Error("fetch artifact failed", zap.String("task_id", taskID), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(artifact.Data)))
	if _, err := w.Write(artifact.Data); err != nil {
		s.logger.Error("write artifact failed", zap.String("task_id", taskID), zap.Error(err))
	}
}
