// Package admin provides a lightweight HTTP API for runtime inspection of
// a running qached instance.
//
// Endpoints:
//
//	GET /status   - process health, configured model/capacity, resident count
//	GET /metrics  - metrics.Snapshot() as JSON
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/h2owater425/qached/internal/cache"
	"github.com/h2owater425/qached/internal/config"
	"github.com/h2owater425/qached/internal/logger"
	"github.com/h2owater425/qached/internal/metrics"
)

// Server is the admin API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	cache     *cache.Cache
	token     string // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics
	log       *logger.Logger
}

// New creates an admin server.
func New(cfg *config.Config, c *cache.Cache, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		cache:     c,
		token:     cfg.AdminToken,
		metrics:   m,
		log:       log,
	}
	if s.token != "" {
		log.Infof("init", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Model     string `json:"model"`
		Capacity  int    `json:"capacity"`
		Resident  int    `json:"resident"`
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Directory string `json:"directory"`
		Version   string `json:"version"`
		Platform  string `json:"platform"`
	}

	resp := response{
		Status:    "running",
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Model:     string(s.cfg.Model),
		Capacity:  s.cfg.Capacity,
		Resident:  s.cache.Len(),
		Host:      s.cfg.Host,
		Port:      s.cfg.Port,
		Directory: s.cfg.Directory,
		Version:   s.cfg.Version.String(),
		Platform:  s.cfg.Platform,
	}

	writeJSON(s, w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(s, w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(s *Server, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode", "json encode error: %v", err)
	}
}

// ListenAndServe starts the admin HTTP server on 127.0.0.1:port.
func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.log.Infof("init", "listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
