package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/models"
	"github.com/peterje/ptybridge/internal/pty"
	"github.com/peterje/ptybridge/internal/store"
	"github.com/peterje/ptybridge/internal/ws"
)

// maxBody bounds request bodies on the command endpoints.
const maxBody = 1 << 20

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Journal is the read side of the session journal.
type Journal interface {
	Get(ctx context.Context, id string) (models.SessionRecord, error)
	List(ctx context.Context, limit int) ([]models.SessionRecord, error)
}

type Server struct {
	mux     *http.ServeMux
	log     *zap.Logger
	session pty.Handle
	hub     *ws.Hub
	child   models.ChildStatus
	journal Journal
}

// New builds the UI server. journal may be nil when the journal is disabled.
func New(log *zap.Logger, session pty.Handle, hub *ws.Hub, child models.ChildStatus, journal Journal, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		log:     log,
		session: session,
		hub:     hub,
		child:   child,
		journal: journal,
	}
	s.routes(gatherer)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handler returns the server wrapped in logging and recovery middleware.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.log, recoveryMiddleware(s.log, s))
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Command surface
	s.mux.HandleFunc("POST /api/pty/init", s.handleInit)
	s.mux.HandleFunc("POST /api/pty/write", s.handleWrite)
	s.mux.HandleFunc("POST /api/pty/resize", s.handleResize)

	// Journal
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)

	// Events
	s.mux.Handle("GET /ws", ws.NewHandler(s.session, s.hub, s.log))

	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Session:   s.session.ID(),
		PID:       s.session.PID(),
		Streaming: s.session.Streaming(),
		Child:     s.child,
	})
}

func (s *Server) handleInit(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, models.InitResponse{Data: s.session.Initialize()})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var body models.WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.session.Write(body.Data)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var body models.ResizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.session.Resize(body.Rows, body.Cols)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteError(w, http.StatusNotFound, "session journal disabled")
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	records, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.log.Error("list sessions", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	WriteJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteError(w, http.StatusNotFound, "session journal disabled")
		return
	}
	rec, err := s.journal.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.log.Error("get session", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}
