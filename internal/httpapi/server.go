package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oriaj-nocrala/semcode/pkg/version"
)

// RequestContext is passed to every Handler, carrying the inbound request's
// context and a scoped logger. It exists so handlers never reach for the
// *http.Request directly, keeping tool logic transport-agnostic (the same
// handlers are reachable, unmodified, from the stdio MCP transport).
type RequestContext struct {
	context.Context
	Logger *slog.Logger
}

// Server serves the tool-call surface: GET /, GET /tools, POST /tools/{name}.
type Server struct {
	registry *Registry
	logger   *slog.Logger
	mux      *http.ServeMux
}

// NewServer wires a registry into an http.Handler. A nil logger falls back
// to slog.Default().
func NewServer(registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /", s.handleStatus)
	s.mux.HandleFunc("GET /tools", s.handleListTools)
	s.mux.HandleFunc("POST /tools/{name}", s.handleCallTool)
}

type statusResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "ok",
		Service:   "semcode",
		Version:   version.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

type toolCallRequest struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

type toolCallResponse struct {
	Success  bool           `json:"success"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool, ok := s.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, toolCallResponse{
			Success: false,
			Error:   "unknown tool: " + name,
		})
		return
	}

	var req toolCallRequest
	params := json.RawMessage("{}")
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusOK, toolCallResponse{
				Success: false,
				Error:   "invalid request body: " + err.Error(),
			})
			return
		}
		if len(req.Parameters) > 0 {
			params = req.Parameters
		}
	}

	start := time.Now()
	rctx := &RequestContext{Context: r.Context(), Logger: s.logger.With(slog.String("tool", name))}
	result, err := tool.Handle(rctx, params)
	duration := time.Since(start)

	metadata := map[string]any{"duration_ms": duration.Milliseconds()}
	if err != nil {
		s.logger.Warn("tool call failed", slog.String("tool", name), slog.Any("error", err))
		writeJSON(w, http.StatusOK, toolCallResponse{Success: false, Error: err.Error(), Metadata: metadata})
		return
	}

	writeJSON(w, http.StatusOK, toolCallResponse{Success: true, Result: result, Metadata: metadata})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
