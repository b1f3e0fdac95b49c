package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/history"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/service/request"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

const maxRunsLimit = 500

// StatusResponse is the JSON response for /api/v1/status
type StatusResponse struct {
	Status    any       `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueAddRequest is the body of POST /api/v1/queue
type QueueAddRequest struct {
	OwnerID     string              `json:"owner_id"`
	OwnerName   string              `json:"owner_name"`
	Params      map[string]any      `json:"params"`
	DatasetPath string              `json:"dataset_path"`
	Conditions  *sysinfo.Conditions `json:"conditions,omitempty"`
}

// EventsResponse reports how many events were accepted by POST /api/v1/events
type EventsResponse struct {
	Accepted int `json:"accepted"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: s.orch.Status(), Version: s.version, Timestamp: time.Now()})
}

func (s *Server) handleGeneration(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Generation())
}

func (s *Server) handleGenerationLog(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"lines": s.orch.GenerationLog()})
}

// handleTraining returns training state without log lines
func (s *Server) handleTraining(w http.ResponseWriter, _ *http.Request) {
	tr := s.orch.Training()
	tr.Metrics.Lines = nil
	s.writeJSON(w, http.StatusOK, tr)
}

// handleTrainingMetrics returns loss series and buffered lines
func (s *Server) handleTrainingMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.orch.Training().Metrics
	if m.Lines == nil {
		m.Lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleStartGeneration(w http.ResponseWriter, r *http.Request) {
	var req request.Generation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.orch.StartGeneration(r.Context(), req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.orch.Generation())
}

func (s *Server) handleStopGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopGeneration(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.orch.Generation())
}

func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	var req request.Training
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.orch.StartTraining(r.Context(), req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	tr := s.orch.Training()
	tr.Metrics.Lines = nil
	s.writeJSON(w, http.StatusAccepted, tr)
}

func (s *Server) handleStopTraining(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StopTraining(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetTraining(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.ResetTraining(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueList(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.List())
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	job, ok := s.queue.Get(r.PathValue("id"))
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "queued job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// handleQueueAdd appends a training job and kicks dispatch
func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	var req QueueAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" || req.DatasetPath == "" {
		s.writeJSONError(w, http.StatusBadRequest, "owner_id and dataset_path are required")
		return
	}
	job := s.queue.Add(req.OwnerID, req.OwnerName, queue.Payload{Params: req.Params, DatasetPath: req.DatasetPath,
		Conditions: req.Conditions})
	s.queue.Kick()
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Remove(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueClear(w http.ResponseWriter, _ *http.Request) {
	s.queue.Clear()
	s.writeJSON(w, http.StatusOK, s.queue.List())
}

// handleRuns lists journal records, filtered by owner and kind query params
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSONError(w, http.StatusNotFound, "run journal disabled")
		return
	}
	f := history.ListFilter{OwnerID: r.URL.Query().Get("owner"), Limit: 50}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind, err := enums.ParseKind(v)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Kind = kind
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = min(limit, maxRunsLimit)
	}

	runs, err := s.journal.List(r.Context(), f)
	if err != nil {
		log.Printf("[ERROR] failed to list runs: %v", err)
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSONError(w, http.StatusNotFound, "run journal disabled")
		return
	}
	run, err := s.journal.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	if s.system == nil {
		s.writeJSONError(w, http.StatusNotFound, "system info disabled")
		return
	}
	snap, err := s.system.Snapshot(s.diskPath)
	if err != nil {
		// partial data is still useful
		log.Printf("[WARN] incomplete system snapshot, %v", err)
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleEvents publishes runner events. A JSON body is a single event envelope or an array of them,
// a text body is decoded line by line the same way the runner stdout is.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		s.writeJSONError(w, http.StatusNotFound, "event ingest disabled")
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		cnt := &countingPublisher{Publisher: s.publisher}
		if err := events.ReadStream(r.Context(), r.Body, cnt); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusAccepted, EventsResponse{Accepted: cnt.n})
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var evs []events.Event
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &evs); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid events list")
			return
		}
	} else {
		var ev events.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid event")
			return
		}
		evs = append(evs, ev)
	}

	for _, ev := range evs {
		if !slices.Contains(events.Names, ev.Name) {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown event %q", ev.Name))
			return
		}
	}
	for _, ev := range evs {
		s.publisher.Publish(ev)
	}
	s.writeJSON(w, http.StatusAccepted, EventsResponse{Accepted: len(evs)})
}

type countingPublisher struct {
	Publisher
	n int
}

func (c *countingPublisher) Publish(ev events.Event) {
	c.n++
	c.Publisher.Publish(ev)
}
