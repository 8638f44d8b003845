package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"climacore/internal/coordinator"
	"climacore/internal/scenario"
)

// Manual triggers allowed per client and minute.
const TriggerRateLimit = 10

// Coordinator is the part of the coordinator the API exposes.
type Coordinator interface {
	Status() coordinator.Status
	BuildPayload(triggerEntityID string) (*coordinator.Payload, error)
	TriggerAsync(t coordinator.Trigger) (string, error)
}

// ScenarioSource provides the last reported scenario.
type ScenarioSource interface {
	Snapshot() scenario.Update
}

// Server provides the HTTP status API
type Server struct {
	coord     Coordinator
	scenarios ScenarioSource
	logger    *zap.Logger
	router    chi.Router
	server    *http.Server
}

// NewServer creates a new API server listening on port
func NewServer(coord Coordinator, scenarios ScenarioSource, logger *zap.Logger, port int) *Server {
	s := &Server{
		coord:     coord,
		scenarios: scenarios,
		logger:    logger.Named("api"),
	}
	s.router = s.newRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/payload", s.handlePayload)
		r.With(httprate.Limit(
			TriggerRateLimit,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate_limit_exceeded"})
			}),
		)).Post("/trigger", s.handleTrigger)
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// StatusResponse combines the coordinator state with the current scenario.
type StatusResponse struct {
	coordinator.Status
	Scenario scenario.Update `json:"scenario"`
}

// TriggerRequest is the optional body of POST /api/trigger.
type TriggerRequest struct {
	EntityID string `json:"entity_id"`
}

// TriggerResponse is returned when a manual cycle was accepted.
type TriggerResponse struct {
	CycleID string `json:"cycle_id"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   s.coord.Status(),
		Scenario: s.scenarios.Snapshot(),
	})
}

// handlePayload returns the payload a cycle would send right now.
func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	payload, err := s.coord.BuildPayload(r.URL.Query().Get("entity_id"))
	if err != nil {
		s.logger.Error("Failed to build payload preview", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "home_assistant_unavailable", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_body", Detail: err.Error()})
		return
	}

	id, err := s.coord.TriggerAsync(coordinator.Trigger{
		Source:   coordinator.SourceManual,
		EntityID: req.EntityID,
	})
	if errors.Is(err, coordinator.ErrBusy) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "busy", Detail: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("Manual trigger failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "trigger_failed", Detail: err.Error()})
		return
	}

	s.logger.Info("Manual trigger accepted",
		zap.String("cycle_id", id),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, TriggerResponse{CycleID: id})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/api/status", Method: "GET", Description: "Coordinator state: running flag, boost window, last cycle, scenario"},
	{Path: "/api/payload", Method: "GET", Description: "Preview of the payload the next decision cycle would send"},
	{Path: "/api/trigger", Method: "POST", Description: "Start a decision cycle now (202 accepted, 409 when one is running)"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
}

// handleSitemap lists all endpoints, as HTML for browsers and plain text otherwise
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>ClimaCore API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        h2 { color: #569cd6; margin-top: 30px; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>ClimaCore API</h1>
    <h2>Available Endpoints</h2>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprint(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ClimaCore API\n")
		fmt.Fprintf(w, "=============\n\n")
		fmt.Fprintf(w, "Available endpoints:\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-14s %s\n", ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "\nExamples:\n\n")
		fmt.Fprintf(w, "  Trigger a cycle:\n")
		fmt.Fprintf(w, "    curl -X POST http://localhost:8081/api/trigger\n\n")
		fmt.Fprintf(w, "  Inspect the payload:\n")
		fmt.Fprintf(w, "    curl http://localhost:8081/api/payload | jq\n\n")
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Run serves HTTP requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("Starting HTTP API server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping HTTP API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
