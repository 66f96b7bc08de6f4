// Package server exposes the read endpoints, the leaderboard submission
// endpoint, and the websocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"fear-greed-watch/internal/config"
	"fear-greed-watch/internal/hub"
	"fear-greed-watch/internal/service"
)

// Server serves JSON reads backed by the service's atomic snapshots.
type Server struct {
	cfg    config.ServerConfig
	svc    *service.Service
	hub    *hub.Hub
	logger zerolog.Logger
	http   *http.Server
}

// New wires the HTTP layer.
func New(cfg config.ServerConfig, svc *service.Service, h *hub.Hub, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		hub:    h,
		logger: logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chart1", s.handleChart("basket1"))
	mux.HandleFunc("GET /api/chart2", s.handleChart("basket2"))
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("/", s.handleStatic)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleChart(basket string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sr := s.svc.Store().Get(basket)
		writeJSON(w, http.StatusOK, sr.Snapshot())
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.State())
}

type leaderboardRequest struct {
	UserID *string `json:"userId"`
	Clicks *int64  `json:"clicks"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req leaderboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == nil || req.Clicks == nil {
		writeError(w, http.StatusBadRequest, "userId and clicks are required")
		return
	}

	if err := s.svc.SubmitClicks(*req.UserID, *req.Clicks); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"leaderboard": s.svc.Leaderboard(),
	})
}

// handleStatic serves the front-end bundle with an index.html fallback for
// client-side routes.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StaticDir == "" {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.cfg.StaticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
