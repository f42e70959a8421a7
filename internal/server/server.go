// Package server exposes the pairing service over HTTP: session
// creation, link submission, the SSE notification channel, and an
// operations dashboard.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/skaric/qrdrop/internal/activity"
	"github.com/skaric/qrdrop/internal/clock"
	"github.com/skaric/qrdrop/internal/notify"
	"github.com/skaric/qrdrop/internal/session"
)

// Options holds optional server collaborators.
type Options struct {
	// Hub receives a broadcast for every recorded activity event.
	Hub *Hub
	// Activity records pairing lifecycle events.
	Activity *activity.Log
}

// Server is the qrdrop HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	manager    *session.Manager
	watcher    *notify.Watcher
	clock      clock.Clock
	baseURL    string
	hub        *Hub
	activity   *activity.Log
}

// New creates a qrdrop server. baseURL is the public origin used to
// build the submission URL embedded in the QR payload.
func New(addr, baseURL string, mgr *session.Manager, w *notify.Watcher, clk clock.Clock, opts Options) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		manager:  mgr,
		watcher:  w,
		clock:    clk,
		baseURL:  baseURL,
		hub:      opts.Hub,
		activity: opts.Activity,
	}
	s.routes()

	// The mobile submission page may be served from a different origin
	// than the API.
	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.mux)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /session", s.handleCreateSession)
	s.mux.HandleFunc("POST /submit/{id}", s.handleSubmit)
	s.mux.HandleFunc("GET /listen/{id}", s.handleListen)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /dashboard/", s.handleDashboard)
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	}
}

// handleRoot serves service info.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "qrdrop",
		"status":  "running",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns activity counters for the dashboard.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Stats     activity.Stats `json:"stats"`
		WSClients int            `json:"ws_clients"`
	}{}
	if s.activity != nil {
		out.Stats = s.activity.Stats()
	}
	if s.hub != nil {
		out.WSClients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, out)
}

// record logs an activity event and pushes it to dashboard clients.
func (s *Server) record(typ activity.Type, sessionID, detail string) {
	ev := activity.Event{
		Time:      s.clock.Now(),
		Type:      typ,
		SessionID: sessionID,
		Detail:    detail,
	}
	if s.activity != nil {
		if err := s.activity.Record(ev); err != nil {
			log.Printf("activity record error: %v", err)
		}
	}
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response error: %v", err)
	}
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("qrdrop server listening on %s", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	log.Printf("qrdrop server listening on %s", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
