package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// Pinger reports whether the event bus is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusServer exposes health and issue snapshots over HTTP:
//
//	GET /healthz        bus reachability and admission counters
//	GET /issues         tracked issue ids
//	GET /issues/{id}    the issue's current manifest
//
// Snapshots are eventually consistent with the manifest files.
type StatusServer struct {
	coord  *Coordinator
	bus    Pinger // Nil reports the bus as "local"
	addr   string
	server *http.Server
	ln     net.Listener
}

// NewStatusServer creates a status server for coord listening on addr.
func NewStatusServer(coord *Coordinator, bus Pinger, addr string) *StatusServer {
	return &StatusServer{
		coord: coord,
		bus:   bus,
		addr:  addr,
	}
}

// Handler returns the server's routes.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	mux.HandleFunc("/issues", s.listHandler)
	mux.HandleFunc("/issues/", s.issueHandler)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *StatusServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[Status] [ERROR] Server error: %v", err)
		}
	}()

	log.Printf("[Status] Listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *StatusServer) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully shuts down the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Bus    string `json:"bus,omitempty"`
	Error  string `json:"error,omitempty"`
	Stats  Stats  `json:"stats"`
}

// healthCheckHandler returns 200 if the bus is reachable, 503 otherwise.
func (s *StatusServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status: "healthy",
		Bus:    "local",
		Stats:  s.coord.Stats(),
	}

	select {
	case <-s.coord.Done():
		response.Status = "unhealthy"
		response.Error = ErrNotRunning.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	default:
	}

	if s.bus != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.bus.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Bus = "disconnected"
			response.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		response.Bus = "connected"
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *StatusServer) listHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"issues": s.coord.IssueIDs()})
}

func (s *StatusServer) issueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/issues/"), "/")
	if id == "" {
		s.listHandler(w, r)
		return
	}

	m, ok := s.coord.Snapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrUnknownIssue.Error() + ": " + id})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Status] [WARN] Failed to encode response: %v", err)
	}
}
