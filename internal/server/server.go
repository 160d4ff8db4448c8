// Package server exposes the registration API: a synchronous JSON
// façade over the registry, plus the metrics endpoint and a websocket
// feed of board snapshots.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-central/central/internal/registry"
)

type Server struct {
	listen string
	reg    *registry.Registry
	hub    *Hub
	server *http.Server
}

func New(listen string, reg *registry.Registry) *Server {
	return &Server{
		listen: listen,
		reg:    reg,
		hub:    newHub(reg),
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.listen,
		Handler: s.Handler(),
	}

	go s.hub.run(ctx)
	go func() {
		log.Printf("api: listening on %s", s.listen)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler returns the request mux without starting a listener. Tests
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /task", s.handleCreate)
	mux.HandleFunc("PATCH /task/{id}", s.handleUpdate)
	mux.HandleFunc("GET /tasks", s.handleList)
	mux.HandleFunc("GET /ws", s.hub.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type createRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ShellPID int    `json:"shell_pid,omitempty"`
	CWD      string `json:"cwd,omitempty"`
}

type updateRequest struct {
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

type result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// sessionView is the wire shape of one session snapshot.
type sessionView struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	ShellPID       int     `json:"shell_pid,omitempty"`
	AgentPID       int     `json:"agent_pid,omitempty"`
	CWD            string  `json:"cwd,omitempty"`
	Group          string  `json:"group"`
	CreatedAt      int64   `json:"created_at"`
	WorkStartedAt  int64   `json:"work_started_at,omitempty"`
	FinishedAt     int64   `json:"finished_at,omitempty"`
	ExitCode       *int    `json:"exit_code,omitempty"`
	LastCPUPercent float64 `json:"last_cpu_percent"`
}

func viewOf(s registry.Session) sessionView {
	v := sessionView{
		ID:             s.ID,
		Name:           s.Name,
		Status:         string(s.Status),
		ShellPID:       s.ShellPID,
		AgentPID:       s.AgentPID,
		CWD:            s.WorkingDir,
		Group:          s.Group,
		CreatedAt:      s.CreatedAt.Unix(),
		ExitCode:       s.ExitCode,
		LastCPUPercent: s.LastCPUPercent,
	}
	if !s.WorkStartedAt.IsZero() {
		v.WorkStartedAt = s.WorkStartedAt.Unix()
	}
	if !s.FinishedAt.IsZero() {
		v.FinishedAt = s.FinishedAt.Unix()
	}
	return v
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, result{OK: false, Error: "invalid json"})
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, result{OK: false, Error: "id is required"})
		return
	}

	s.reg.Register(req.ID, req.Name, req.ShellPID, req.CWD)
	writeJSON(w, http.StatusOK, result{OK: true})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, result{OK: false, Error: "invalid json"})
		return
	}
	status := registry.Status(req.Status)
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, result{OK: false, Error: "unknown status"})
		return
	}

	if err := s.reg.UpdateStatus(id, status, req.ExitCode); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeJSON(w, http.StatusOK, result{OK: false, Error: "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, result{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result{OK: true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := s.reg.Snapshot()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, viewOf(sess))
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
