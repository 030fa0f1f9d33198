package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-bot-manager/internal/domain"
	"telegram-bot-manager/internal/domain/model"
	"telegram-bot-manager/internal/domain/ports/repository"
)

// SessionReader is the read side of the session registry.
type SessionReader interface {
	ActiveCount() int
	ListActiveSessions() []model.SessionSummary
	GetSessionInfo(botID string) (*model.SessionInfo, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, botID, userID string, authorized bool) error
}

// BotReader looks up bot registrations. Results may lag the store by the
// cache TTL.
type BotReader interface {
	FindByID(ctx context.Context, tx repository.Tx, id string) (*model.BotRegistration, error)
}

type ControlStatus interface {
	Connected() bool
}

// Server exposes health, metrics and a small operator API.
type Server struct {
	sessions SessionReader
	ledger   Authorizer
	bots     BotReader
	control  ControlStatus
	apiKey   string
	log      *zerolog.Logger
	http     *http.Server
}

func NewServer(port int, sessions SessionReader, ledger Authorizer, bots BotReader, control ControlStatus, apiKey string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "OpsHTTP").Logger()
	s := &Server{
		sessions: sessions,
		ledger:   ledger,
		bots:     bots,
		control:  control,
		apiKey:   apiKey,
		log:      &l,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(10 * time.Second))
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{botID}", s.handleGetSession)
		r.With(BearerKey(s.apiKey)).Get("/bots/{botID}", s.handleGetBot)
		r.With(BearerKey(s.apiKey)).Put("/bots/{botID}/users/{userID}/authorization", s.handleAuthorize)
	})
	return r
}

// Start serves in the background. Listener failures other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("ops http listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("ops http server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type healthResponse struct {
	Status           string `json:"status"`
	ActiveSessions   int    `json:"active_sessions"`
	ControlConnected bool   `json:"control_connected"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", ActiveSessions: s.sessions.ActiveCount()}
	if s.control != nil {
		resp.ControlConnected = s.control.Connected()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.ListActiveSessions())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.GetSessionInfo(chi.URLParam(r, "botID"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type botResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"bot_name"`
	DeveloperID  string     `json:"developer_id"`
	Status       string     `json:"status"`
	IsAuthorized bool       `json:"is_authorized"`
	ExpiresAt    *time.Time `json:"expiry_date,omitempty"`
	Runnable     bool       `json:"runnable"`
	Running      bool       `json:"running"`
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	botID := strings.TrimSpace(chi.URLParam(r, "botID"))
	b, err := s.bots.FindByID(r.Context(), repository.NoTX, botID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bot not found")
		return
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	case err != nil:
		s.log.Error().Err(err).Str("bot_id", botID).Msg("bot lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_, serr := s.sessions.GetSessionInfo(botID)
	writeJSON(w, http.StatusOK, botResponse{
		ID:           b.ID,
		Name:         b.Name,
		DeveloperID:  b.DeveloperID,
		Status:       string(b.Status),
		IsAuthorized: b.IsAuthorized,
		ExpiresAt:    b.ExpiresAt,
		Runnable:     b.Runnable(time.Now()),
		Running:      serr == nil,
	})
}

type authorizeRequest struct {
	Authorized *bool `json:"authorized"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	botID := strings.TrimSpace(chi.URLParam(r, "botID"))
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Authorized == nil {
		writeError(w, http.StatusBadRequest, `body must be {"authorized": true|false}`)
		return
	}
	err := s.ledger.Authorize(r.Context(), botID, userID, *req.Authorized)
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	case err != nil:
		s.log.Error().Err(err).Str("bot_id", botID).Str("tg_user_id", userID).Msg("authorize failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
