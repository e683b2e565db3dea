package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/playtimed/internal/quota"
	"github.com/goodtune/playtimed/internal/storage"
	"github.com/goodtune/playtimed/internal/tracker"
)

const defaultRecentLimit = 20

// Engine is the tracker surface the API exposes to the presentation layer.
type Engine interface {
	Start(game string) error
	Stop() (float64, error)
	State() tracker.State
	TodayStatus() (quota.Status, error)
	Recent(n int) ([]storage.Session, error)
}

// GameChecker validates a game label against the configured list.
type GameChecker interface {
	KnownGame(label string) bool
}

// Server is the local HTTP server fronting the engine for whatever UI layer
// drives it. It renders nothing; it only moves engine data.
type Server struct {
	engine Engine
	games  GameChecker
	server *http.Server
	router *mux.Router
	logger zerolog.Logger
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, engine Engine, games GameChecker, logger zerolog.Logger) *Server {
	s := &Server{
		engine: engine,
		games:  games,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.router.HandleFunc("/api/session/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/session/stop", s.handleStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

type startRequest struct {
	Game string `json:"game"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Game == "" {
		writeError(w, http.StatusBadRequest, "Game label is required")
		return
	}
	if s.games != nil && !s.games.KnownGame(req.Game) {
		writeError(w, http.StatusBadRequest, "Unknown game label")
		return
	}

	if err := s.engine.Start(req.Game); err != nil {
		if errors.Is(err, tracker.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "A session is already running")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to start session")
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, s.engine.State())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()

	duration, err := s.engine.Stop()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to stop session")
		writeError(w, http.StatusInternalServerError, "Failed to persist session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stopped":          state.Running,
		"duration_minutes": duration,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.TodayStatus()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute today status")
		writeError(w, http.StatusInternalServerError, "Failed to read session log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": s.engine.State(),
		"today":   status,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.engine.Recent(limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to read session log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
