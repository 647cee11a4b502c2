package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/services/scheduler"
)

// requireMethod validates the request method, writing a 405 on mismatch.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// healthzHandler reports process liveness.
func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusHandler returns the scheduler snapshot: pass state, the sites
// being crawled right now and the outcome of recent jobs.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.app.Scheduler.Status())
}

// triggerHandler starts an indexing pass outside the cron cadence.
func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.app.Scheduler.TriggerNow(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrPassRunning) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Indexing pass started",
	})
}

// versionHandler returns version information
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// notFoundHandler handles 404s under /api with a JSON response.
func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": "Not Found",
		"path":  r.URL.Path,
	})
}
