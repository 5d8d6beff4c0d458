// Package api exposes a tiny JSON‑over‑HTTP API for the Warden daemon.
// It listens on a Unix domain socket and delegates all business logic to
// internal/engine.Engine and the config store. No third‑party HTTP
// framework is used—just net/http + encoding/json—keeping the binary small.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mjs/warden/internal/buildinfo"
	"github.com/mjs/warden/internal/clients"
	"github.com/mjs/warden/internal/config"
	"github.com/mjs/warden/internal/engine"
	"github.com/mjs/warden/internal/socket"
)

// RegisterRequest asks the daemon to supervise a process.
type RegisterRequest struct {
	PID int `json:"pid"`
}

// UnregisterRequest asks the daemon to drop a process.
type UnregisterRequest struct {
	PID int `json:"pid"`
}

// StatusResponse represents the daemon status.
type StatusResponse struct {
	Clients         int64         `json:"clients"`
	Loads           int64         `json:"loads"`
	ReaperFrequency time.Duration `json:"reaper_frequency"`
	Uptime          time.Duration `json:"uptime"`
	Version         string        `json:"version"`
	Commit          string        `json:"commit"`
}

// ConfigResponse is a snapshot of the loaded configuration.
type ConfigResponse struct {
	Whitelist       []string      `json:"whitelist"`
	Blacklist       []string      `json:"blacklist"`
	StartScripts    []string      `json:"start_scripts"`
	EndScripts      []string      `json:"end_scripts"`
	ReaperFrequency time.Duration `json:"reaper_frequency"`
}

// CheckResponse reports how the filter lists treat a client name.
type CheckResponse struct {
	Client      string `json:"client"`
	Whitelisted bool   `json:"whitelisted"`
	Blacklisted bool   `json:"blacklisted"`
}

// -------- server -----------------------------------------------------

// Server handles HTTP API requests over a Unix domain socket.
type Server struct {
	eng   *engine.Engine
	store *config.Store
	start time.Time
	mux   *http.ServeMux
	srv   *http.Server
}

// New creates a new API server with the given engine and store.
// It sets up the HTTP routes and returns a server ready to listen.
func New(eng *engine.Engine, store *config.Store) *Server {
	s := &Server{
		eng:   eng,
		store: store,
		start: time.Now(),
		mux:   http.NewServeMux(),
	}

	s.mux.HandleFunc("/v1/register", s.handleRegister)
	s.mux.HandleFunc("/v1/unregister", s.handleUnregister)
	s.mux.HandleFunc("/v1/reload", s.handleReload)
	s.mux.HandleFunc("/v1/status", s.handleStatus)
	s.mux.HandleFunc("/v1/clients", s.handleClients)
	s.mux.HandleFunc("/v1/config", s.handleConfig)
	s.mux.HandleFunc("/v1/check", s.handleCheck)

	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the Unix‑socket HTTP server.
func (s *Server) ListenAndServe(path string) error {
	ln, err := socket.Listen(path)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// handleRegister admits a process into supervision.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PID <= 0 {
		http.Error(w, "pid required", http.StatusBadRequest)
		return
	}

	client, err := s.eng.Register(r.Context(), req.PID)
	switch {
	case errors.Is(err, engine.ErrFiltered):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, engine.ErrAlreadyRegistered):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, client)
}

// handleUnregister drops a process from supervision.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req UnregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PID <= 0 {
		http.Error(w, "pid required", http.StatusBadRequest)
		return
	}

	if err := s.eng.Unregister(r.Context(), req.PID); err != nil {
		if errors.Is(err, engine.ErrNotRegistered) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReload queues a config reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.eng.TriggerReload()
	w.WriteHeader(http.StatusAccepted)
}

// handleStatus returns the daemon status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, StatusResponse{
		Clients:         s.eng.ClientCount(),
		Loads:           s.store.Loads(),
		ReaperFrequency: s.store.ReaperFrequency(),
		Uptime:          time.Since(s.start),
		Version:         buildinfo.Version,
		Commit:          buildinfo.Commit,
	})
}

// handleClients returns the currently registered clients.
func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.eng.Snapshot()
	if snapshot == nil {
		snapshot = []clients.Client{}
	}
	writeJSON(w, snapshot)
}

// handleConfig returns a snapshot of the loaded configuration.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, ConfigResponse{
		Whitelist:       s.store.Whitelist(),
		Blacklist:       s.store.Blacklist(),
		StartScripts:    s.store.StartScripts(),
		EndScripts:      s.store.EndScripts(),
		ReaperFrequency: s.store.ReaperFrequency(),
	})
}

// handleCheck reports how the filter lists treat a client name.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	client := r.URL.Query().Get("client")
	if client == "" {
		http.Error(w, "client required", http.StatusBadRequest)
		return
	}
	writeJSON(w, CheckResponse{
		Client:      client,
		Whitelisted: s.store.IsWhitelisted(client),
		Blacklisted: s.store.IsBlacklisted(client),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}
