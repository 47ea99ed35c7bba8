// Package status serves the read-only operational API: last
// aggregated result, per-source circuit and health state, and the
// healing report.
package status

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/internal/heal"
	"github.com/oddsgrid/oddsgrid/internal/source"
	"github.com/oddsgrid/oddsgrid/racing"
)

// Server exposes the status API. It is read-only: aggregation happens
// elsewhere and publishes results here via SetResult.
type Server struct {
	client  *source.Client
	report  *heal.Report
	sources []config.SourceConfig
	logger  *slog.Logger
	started time.Time

	mu     sync.RWMutex
	latest *racing.AggregatedResult
	runs   int

	httpServer *http.Server
}

// NewServer creates a status Server. report may be nil.
func NewServer(client *source.Client, report *heal.Report, sources []config.SourceConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		client:  client,
		report:  report,
		sources: sources,
		logger:  logger,
		started: time.Now(),
	}
}

// SetResult publishes the latest aggregation result.
func (s *Server) SetResult(res *racing.AggregatedResult) {
	s.mu.Lock()
	s.latest = res
	s.runs++
	s.mu.Unlock()
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/result", s.handleResult)
		r.Get("/sources", s.handleSources)
		r.Get("/healing-report", s.handleHealingReport)
	})

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Serve runs the API until ctx is cancelled, then shuts down cleanly.
func (s *Server) Serve(ctx context.Context, addr string, allowedOrigins []string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(allowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("status api listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	runs := s.runs
	var lastDate string
	var stale bool
	if s.latest != nil {
		lastDate = s.latest.Date
		stale = s.latest.Stale
	}
	s.mu.RUnlock()

	type sourceState struct {
		Name    string        `json:"name"`
		Circuit string        `json:"circuit"`
		Health  float64       `json:"health"`
		Delay   time.Duration `json:"current_delay"`
	}
	states := make([]sourceState, 0, len(s.sources))
	for i := range s.sources {
		src := &s.sources[i]
		states = append(states, sourceState{
			Name:    src.Name,
			Circuit: s.client.Breaker(src.Name).State().String(),
			Health:  s.client.Health().Best(src.Name),
			Delay:   s.client.Limiter(src).Delay(),
		})
	}

	s.writeJSON(w, map[string]any{
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"cycles_run":     runs,
		"last_date":      lastDate,
		"last_stale":     stale,
		"sources":        states,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()
	if latest == nil {
		http.Error(w, `{"error":"no result yet"}`, http.StatusNotFound)
		return
	}
	s.writeJSON(w, latest)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	type sourceView struct {
		Name      string `json:"name"`
		BaseURL   string `json:"base_url,omitempty"`
		Transport string `json:"transport"`
		API       bool   `json:"api"`
	}
	views := make([]sourceView, 0, len(s.sources))
	for _, src := range s.sources {
		views = append(views, sourceView{
			Name:      src.Name,
			BaseURL:   src.BaseURL,
			Transport: src.Transport,
			API:       src.APIEndpoint != "",
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleHealingReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		s.writeJSON(w, map[string]any{})
		return
	}
	s.writeJSON(w, s.report.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Error("status response marshal failed", "error", err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}
