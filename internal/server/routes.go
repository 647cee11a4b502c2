package server

import "net/http"

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.healthzHandler)

	// API routes - scheduler
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/trigger", s.triggerHandler)

	// API routes - system
	mux.HandleFunc("/api/version", s.versionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}
