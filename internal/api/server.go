package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/devlens-io/devlens/internal/audit"
	"github.com/devlens-io/devlens/internal/auth"
	"github.com/devlens-io/devlens/internal/telemetry"
)

// maxBodyBytes bounds a submission body. The event-level attribute cap is
// enforced again by the builder.
const maxBodyBytes = 128 * 1024

// Server is the ingest surface in front of the audit pipeline.
type Server struct {
	service *audit.Service
	auth    *auth.Authenticator
	logger  zerolog.Logger
}

// NewServer wires the ingest API over a running pipeline.
func NewServer(service *audit.Service, authenticator *auth.Authenticator, logger zerolog.Logger) *Server {
	return &Server{
		service: service,
		auth:    authenticator,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.Middleware)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.With(httprate.LimitByIP(1000, time.Minute)).
			Post("/events", s.handleSubmit)
		r.Get("/audit/stats", s.handleStats)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSubmit authenticates the producer, builds the event and submits it.
// Rejections map to 429 (queue full) and 503 (shutting down); both are
// observability losses for the caller, not correctness failures.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.auth.Authenticate(r)
	if !ok {
		s.auditAuthFailure(r)
		writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing bearer token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidJSON, err.Error())
		return
	}

	event, err := req.build(actor, auth.GetIPAddress(r), r.UserAgent(), middleware.GetReqID(r.Context()))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, audit.ErrEventTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, status, ErrCodeInvalidEvent, err.Error())
		return
	}

	switch s.service.Submit(event) {
	case audit.Accepted:
		writeJSON(w, http.StatusAccepted, submitResponse{ID: event.ID, Accepted: true})
	case audit.RejectedQueueFull:
		writeError(w, r, http.StatusTooManyRequests, ErrCodeQueueFull, "audit queue at capacity")
	case audit.RejectedShutdown:
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeShuttingDown, "service is draining")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

// auditAuthFailure records a failed ingest authentication as its own event.
func (s *Server) auditAuthFailure(r *http.Request) {
	event, err := audit.NewEvent(audit.EventAuthnFailure).
		WithSeverity(audit.SeverityWarning).
		WithOutcome(audit.OutcomeDenied).
		WithActor(audit.Actor{Kind: audit.ActorAnonymous}).
		WithSource(auth.GetIPAddress(r), r.UserAgent()).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithMessage("ingest authentication failed").
		Build()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build authn failure event")
		return
	}
	s.service.Submit(event)
}
