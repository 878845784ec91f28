// Package server provides the operator-facing HTTP API for the control
// plane.
//
// Endpoints:
//
//	GET  /healthz              — liveness probe
//	GET  /sessions             — list known sessions
//	GET  /sessions/{id}        — fetch one session's current state
//	POST /sessions/{id}/stop   — request early termination of a session
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaypilot/agentbridge/internal/session"
)

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	store   session.Store
	manager SessionStopper
	mux     *http.ServeMux
}

// SessionStopper stops a running session by ID. internal/cmd's session
// manager satisfies this by cancelling the session's agent loop, whose
// cleanup then runs session.Controller.Stop.
type SessionStopper interface {
	StopSession(sessionID, reason string) error
}

// New creates a Server wired to the given session store and stopper.
func New(store session.Store, manager SessionStopper) *Server {
	s := &Server{store: store, manager: manager}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /sessions/{id}/stop", s.handleStopSession)

	return s
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type stopSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.Get(id); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return
	}

	var req stopSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator_requested"
	}

	if err := s.manager.StopSession(id, req.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop session: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
