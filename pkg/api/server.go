package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vjranagit/minigraph/pkg/engine"
	"github.com/vjranagit/minigraph/pkg/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Engine is the part of the engine the API serves
type Engine interface {
	Frame() *types.Frame
	SetStates(states ...types.EntityState) []string
	SetTooltip(entity, bucket int) (*types.Frame, error)
	ClearTooltip() *types.Frame
	Refresh()
	SchedulerState() engine.SchedulerState
}

// Server implements the HTTP API server
type Server struct {
	engine    Engine
	metrics   http.Handler
	accessLog io.Writer
	server    *http.Server
}

// NewServer creates a new API server. metrics may be nil; accessLog receives
// one combined log line per request.
func NewServer(addr string, eng Engine, metrics http.Handler, accessLog io.Writer) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	if accessLog == nil {
		accessLog = io.Discard
	}
	s := &Server{
		engine:    eng,
		metrics:   metrics,
		accessLog: accessLog,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the routed and logged handler
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/frame", s.handleFrame).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/states", s.handleStates).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tooltip", s.handleTooltip).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/tooltip", s.handleClearTooltip).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics).Methods(http.MethodGet)

	return handlers.CombinedLoggingHandler(s.accessLog, r)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server. It is safe to call from another goroutine
// than Start, and before Start.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleFrame returns the latest frame
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Frame())
}

// StatesRequest carries upstream entity states
type StatesRequest struct {
	States []types.EntityState `json:"states"`
}

// handleStates records upstream states and reports which entities were queued
func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	var req StatesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}
	for i, st := range req.States {
		if st.EntityID == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("states[%d]: entity_id is required", i))
			return
		}
	}

	queued := s.engine.SetStates(req.States...)
	if queued == nil {
		queued = []string{}
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"queued": queued})
}

// TooltipRequest selects the hovered bucket; a negative bucket shows the
// current state
type TooltipRequest struct {
	Entity int `json:"entity"`
	Bucket int `json:"bucket"`
}

func (s *Server) handleTooltip(w http.ResponseWriter, r *http.Request) {
	var req TooltipRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	frame, err := s.engine.SetTooltip(req.Entity, req.Bucket)
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, frame)
	}
}

func (s *Server) handleClearTooltip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ClearTooltip())
}

// handleRefresh queues a full refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.engine.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"scheduler": s.engine.SchedulerState().String(),
	})
}
