// Package api exposes the orchestrator over HTTP: job submission and
// inspection, ticket progress, checkpoints, and a live event stream
// over SSE and WebSocket.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/boardflow/orchestrator/internal/checkpoint"
	"github.com/boardflow/orchestrator/internal/events"
	"github.com/boardflow/orchestrator/internal/progress"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

// Server is the HTTP API server
type Server struct {
	scheduler   *scheduler.Scheduler
	tracker     *progress.Tracker
	checkpoints *checkpoint.Manager
	addr        string
	mux         *http.ServeMux
	sseHub      *SSEHub
	wsHub       *WSHub
	profiles    map[string][]progress.StageDef

	unsubscribe func()
}

// SetStageProfiles installs named stage sets that progress
// initialization requests may reference
func (s *Server) SetStageProfiles(profiles map[string][]progress.StageDef) {
	s.profiles = profiles
}

// NewServer creates an API server wired to the orchestrator components.
// Any of scheduler, tracker, or checkpoints may be nil; the matching
// endpoints then report unavailable.
func NewServer(sched *scheduler.Scheduler, tracker *progress.Tracker, checkpoints *checkpoint.Manager, bus *events.Bus, addr string) *Server {
	s := &Server{
		scheduler:   sched,
		tracker:     tracker,
		checkpoints: checkpoints,
		addr:        addr,
		mux:         http.NewServeMux(),
		sseHub:      NewSSEHub(),
		wsHub:       NewWSHub(),
	}
	s.setupRoutes()

	if bus != nil {
		s.unsubscribe = bus.SubscribeAll(func(e events.Event) {
			s.Broadcast(SSEEvent{Type: string(e.Type), Data: e.Payload})
		})
	}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/jobs", s.jobsHandler())
	s.mux.HandleFunc("/api/jobs/", s.jobHandler())
	s.mux.HandleFunc("/api/tickets/", s.ticketHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// ServeHTTP makes the server mountable and testable without a listener
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the SSE hub and blocks serving HTTP
func (s *Server) Start() error {
	go s.sseHub.Run()
	return http.ListenAndServe(s.addr, s.mux)
}

// RunHubs starts the broadcast hubs without binding a listener. Used
// when the server is mounted on an externally managed http.Server.
func (s *Server) RunHubs() {
	go s.sseHub.Run()
}

// Close drops the bus subscription and disconnects streaming clients
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.wsHub.CloseAll()
}

// Broadcast sends an event to all SSE and WebSocket clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
	s.wsHub.Broadcast(event)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
