// Package gateway exposes the run API: submitting plans, inspecting run
// state, answering input-gate questions and streaming run events over a
// websocket.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/events"
	"github.com/relayloop/relayloop/core/executor"
	"github.com/relayloop/relayloop/core/infra/buildinfo"
	"github.com/relayloop/relayloop/core/infra/logging"
	"github.com/relayloop/relayloop/core/infra/metrics"
	"github.com/relayloop/relayloop/core/plan"
)

const component = "gateway"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the run API over HTTP.
type Server struct {
	exec  *executor.Executor
	store *executor.RedisStore
	hub   events.Hub
}

// NewServer wires the run API over an executor, its store and the event hub.
func NewServer(exec *executor.Executor, store *executor.RedisStore, hub events.Hub) *Server {
	return &Server{exec: exec, store: store, hub: hub}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Fields()})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/runs", s.handleSubmitRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/v1/runs/{id}/answers", s.handleSubmitAnswers)
	mux.HandleFunc("GET /api/v1/runs/{id}/events", s.handleRunEvents)
	return mux
}

type submitRunRequest struct {
	Goal    string           `json:"goal,omitempty"`
	Steps   []*plan.PlanStep `json:"steps"`
	Intent  *executor.Intent `json:"intent,omitempty"`
	Answers map[string]any   `json:"answers,omitempty"`
	Actor   actor.Context    `json:"actor,omitempty"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "steps required")
		return
	}
	ac := actor.Prefer(r.Context(), req.Actor)
	run := &executor.PlanRun{
		ID:      uuid.NewString(),
		Goal:    req.Goal,
		Steps:   req.Steps,
		Intent:  req.Intent,
		Answers: req.Answers,
		Actor:   ac,
		Status:  executor.RunStatusPending,
	}
	if err := s.store.SaveRun(r.Context(), run); err != nil {
		logging.Error(component, "save run", "run_id", run.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "persist run")
		return
	}
	go func() {
		if err := s.exec.Execute(context.Background(), run); err != nil {
			logging.Error(component, "execute run", "run_id", run.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": run.ID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ac, _ := actor.FromContext(r.Context())
	runs, err := s.store.ListRuns(r.Context(), ac.UserID, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSubmitAnswers(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if run.Status != executor.RunStatusAwaitingInput {
		writeError(w, http.StatusConflict, "run is not awaiting input")
		return
	}
	var answers map[string]any
	if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	go func() {
		if err := s.exec.SubmitAnswers(context.Background(), run, answers); err != nil {
			logging.Error(component, "resume run", "run_id", run.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": run.ID})
}

// handleRunEvents streams the run's event channel over a websocket until the
// client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	ch, cancel, err := s.hub.Subscribe(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe run events")
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
