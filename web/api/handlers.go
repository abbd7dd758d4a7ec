package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/boardflow/orchestrator/internal/checkpoint"
	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/progress"
	"github.com/boardflow/orchestrator/internal/scheduler"
)

// SubmitJobRequest is the POST body for job submission
type SubmitJobRequest struct {
	Command        string   `json:"command"`
	Args           []string `json:"args,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
}

// StatusResponse is the API response for overall orchestrator status
type StatusResponse struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
}

// CheckpointResponse summarizes a stored checkpoint
type CheckpointResponse struct {
	ID        string `json:"id"`
	TicketID  string `json:"ticket_id"`
	Version   int    `json:"version"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Context   string `json:"context,omitempty"`
	Percent   int    `json:"percent_complete"`
}

func checkpointToResponse(cp *domain.Checkpoint) CheckpointResponse {
	return CheckpointResponse{
		ID:        cp.ID,
		TicketID:  cp.TicketID,
		Version:   cp.Version,
		Type:      string(cp.Type),
		CreatedAt: cp.CreatedAt.Format(time.RFC3339),
		Context:   cp.Data.Context,
		Percent:   cp.Data.PercentComplete,
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.scheduler == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler not available")
			return
		}

		writeJSON(w, StatusResponse{
			Queued:  s.scheduler.QueueLength(),
			Running: s.scheduler.RunningCount(),
		})
	}
}

func (s *Server) jobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.scheduler == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler not available")
			return
		}

		var req SubmitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Command == "" {
			writeError(w, http.StatusBadRequest, "command is required")
			return
		}

		var opts command.Options
		if req.TimeoutSeconds > 0 {
			opts.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
		}

		jobID := s.scheduler.Submit(scheduler.JobConfig{
			Command:  req.Command,
			Args:     req.Args,
			Priority: domain.Priority(req.Priority),
			Options:  opts,
		})

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"id": jobID})
	}
}

func (s *Server) jobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.scheduler == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler not available")
			return
		}

		// /api/jobs/{id} or /api/jobs/{id}/cancel
		path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if path == "" {
			writeError(w, http.StatusBadRequest, "job ID required")
			return
		}

		if jobID, ok := strings.CutSuffix(path, "/cancel"); ok {
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			if !s.scheduler.Cancel(jobID) {
				writeError(w, http.StatusConflict, "job is not cancellable")
				return
			}
			writeJSON(w, map[string]string{"status": "cancelled"})
			return
		}

		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		job := s.scheduler.Job(path)
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, job)
	}
}

func (s *Server) ticketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// /api/tickets/{id}/progress | /checkpoints | /restore
		path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
		idx := strings.LastIndex(path, "/")
		if idx <= 0 {
			writeError(w, http.StatusBadRequest, "ticket ID and resource required")
			return
		}
		ticketID, resource := path[:idx], path[idx+1:]

		switch resource {
		case "progress":
			s.handleProgress(w, r, ticketID)
		case "checkpoints":
			s.handleCheckpoints(w, r, ticketID)
		case "restore":
			s.handleRestore(w, r, ticketID)
		default:
			writeError(w, http.StatusNotFound, "unknown resource")
		}
	}
}

// InitProgressRequest is the POST body for starting ticket tracking.
// Explicit stages win over a named profile; with neither, the default
// stage library applies.
type InitProgressRequest struct {
	ProjectID string              `json:"project_id"`
	Profile   string              `json:"profile,omitempty"`
	Stages    []progress.StageDef `json:"stages,omitempty"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, ticketID string) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tracking not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		prog := s.tracker.Get(ticketID)
		if prog == nil {
			writeError(w, http.StatusNotFound, "ticket not tracked")
			return
		}
		writeJSON(w, prog)

	case http.MethodPost:
		var req InitProgressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		stages := req.Stages
		if stages == nil && req.Profile != "" {
			var ok bool
			if stages, ok = s.profiles[req.Profile]; !ok {
				writeError(w, http.StatusBadRequest, "unknown stage profile: "+req.Profile)
				return
			}
		}

		prog, err := s.tracker.Initialize(ticketID, req.ProjectID, stages)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, prog)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request, ticketID string) {
	if s.checkpoints == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoints not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		checkpoints, err := s.checkpoints.ListCheckpoints(ticketID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]CheckpointResponse, 0, len(checkpoints))
		for _, cp := range checkpoints {
			resp = append(resp, checkpointToResponse(cp))
		}
		writeJSON(w, resp)

	case http.MethodPost:
		if s.tracker == nil {
			writeError(w, http.StatusServiceUnavailable, "progress tracking not available")
			return
		}
		progress := s.tracker.Get(ticketID)
		if progress == nil {
			writeError(w, http.StatusNotFound, "ticket not tracked")
			return
		}

		var body struct {
			Context string `json:"context"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		cp, err := s.checkpoints.CreateCheckpoint(progress, domain.CheckpointManual, body.Context)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, checkpointToResponse(cp))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request, ticketID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.checkpoints == nil || s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "restore not available")
		return
	}

	cp, err := s.checkpoints.GetLatestCheckpoint(ticketID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no checkpoint for ticket")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	restored := s.checkpoints.RestoreFromCheckpoint(cp)
	s.tracker.Adopt(restored)
	writeJSON(w, restored)
}
