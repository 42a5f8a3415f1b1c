package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/relay"
	"github.com/alfredjeanlab/relay/internal/windows"
)

// maxEmitBody bounds POST /v1/events request bodies.
const maxEmitBody = 1 << 20

// NewHTTPHandler returns an http.Handler with all routes registered.
func (s *AdminServer) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/connections", s.handleConnections)
	mux.HandleFunc("GET /v1/windows", s.handleWindows)
	mux.HandleFunc("POST /v1/events", s.handleEmit)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	return mux
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Listeners   int    `json:"listeners"`
	Uptime      string `json:"uptime"`
}

// handleHealth handles GET /v1/health.
func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Listeners: s.bus.Listeners(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.conns != nil {
		resp.Connections = len(s.conns.Active())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConnections handles GET /v1/connections.
func (s *AdminServer) handleConnections(w http.ResponseWriter, _ *http.Request) {
	conns := []relay.Info{}
	if s.conns != nil {
		conns = append(conns, s.conns.Active()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

type windowView struct {
	windows.Info
	Status string `json:"status"`
}

// handleWindows handles GET /v1/windows.
func (s *AdminServer) handleWindows(w http.ResponseWriter, _ *http.Request) {
	views := []windowView{}
	if s.windows != nil {
		for _, info := range s.windows.Windows() {
			views = append(views, windowView{Info: info, Status: info.Status()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": views})
}

type emitRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source"`
}

// handleEmit handles POST /v1/events.
func (s *AdminServer) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Source == "" {
		req.Source = model.SourceHTTP
	}

	e, err := model.NewEvent(req.Name, req.Payload, req.Source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Emit(e)
	s.logger.Debug("event emitted via http", "name", e.Name, "id", e.ID, "source", e.Source)
	writeJSON(w, http.StatusAccepted, e)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
