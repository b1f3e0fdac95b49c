// Package api implements the JSON HTTP API used by UI collaborators to drive and observe
// the orchestrator: start and stop work, manage the training queue, read progress, metrics,
// logs and the run journal, and push runner events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/history"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/service"
	"github.com/courtyard/yardmaster/app/service/request"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

// Orchestrator is the subset of service.Service used by the API
type Orchestrator interface {
	Status() service.Status
	StartGeneration(ctx context.Context, req request.Generation) error
	StopGeneration(ctx context.Context) error
	Generation() service.GenerationSnapshot
	GenerationLog() []string
	StartTraining(ctx context.Context, req request.Training) error
	StopTraining(ctx context.Context) error
	ResetTraining() error
	Training() service.TrainingSnapshot
}

// JobQueue is the subset of queue.Queue used by the API
type JobQueue interface {
	Add(ownerID, ownerName string, payload queue.Payload) queue.QueuedJob
	Remove(id string) error
	Clear()
	List() []queue.QueuedJob
	Get(id string) (queue.QueuedJob, bool)
	Kick()
}

// Journal lists recorded runs
type Journal interface {
	List(ctx context.Context, f history.ListFilter) ([]history.Run, error)
	Get(ctx context.Context, id string) (history.Run, error)
}

// SystemInfo reports host resources
type SystemInfo interface {
	Snapshot(diskPath string) (sysinfo.Snapshot, error)
}

// Publisher accepts runner events
type Publisher interface {
	Publish(ev events.Event)
}

// Config holds server configuration
type Config struct {
	Orchestrator Orchestrator
	Queue        JobQueue
	Journal      Journal    // optional, runs endpoints return 404 without it
	System       SystemInfo // optional
	Publisher    Publisher  // optional, event ingest is disabled without it
	PasswordHash string     // bcrypt hash for basic auth, empty to disable
	Version      string
	DiskPath     string  // path reported by the system endpoint
	ControlRate  float64 // control requests per second per client, 0 means default
}

// Server is the HTTP API server
type Server struct {
	orch         Orchestrator
	queue        JobQueue
	journal      Journal
	system       SystemInfo
	publisher    Publisher
	passwordHash string
	version      string
	diskPath     string
	limiter      *limiter.Limiter
}

const defaultControlRate = 5

// New makes the server
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil || cfg.Queue == nil {
		return nil, errors.New("api server initialization failed: orchestrator and queue are required")
	}
	rate := cfg.ControlRate
	if rate <= 0 {
		rate = defaultControlRate
	}
	lmt := tollbooth.NewLimiter(rate, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessage(`{"error":"too many requests"}`)
	lmt.SetMessageContentType("application/json")

	return &Server{
		orch:         cfg.Orchestrator,
		queue:        cfg.Queue,
		journal:      cfg.Journal,
		system:       cfg.System,
		publisher:    cfg.Publisher,
		passwordHash: cfg.PasswordHash,
		version:      cfg.Version,
		diskPath:     cfg.DiskPath,
		limiter:      lmt,
	}, nil
}

// Run starts the http server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown api server: %v", err)
		}
	}()

	log.Printf("[INFO] starting api server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("yardmaster", "courtyard", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(1024*1024),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)
	if s.passwordHash != "" {
		log.Printf("[INFO] authentication enabled for api")
		router.Use(s.authMiddleware)
	}

	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /generation", s.handleGeneration)
		api.HandleFunc("GET /generation/log", s.handleGenerationLog)
		api.HandleFunc("GET /training", s.handleTraining)
		api.HandleFunc("GET /training/metrics", s.handleTrainingMetrics)
		api.HandleFunc("GET /queue", s.handleQueueList)
		api.HandleFunc("GET /queue/{id}", s.handleQueueGet)
		api.HandleFunc("GET /runs", s.handleRuns)
		api.HandleFunc("GET /runs/{id}", s.handleRun)
		api.HandleFunc("GET /system", s.handleSystem)

		// control endpoints are rate limited
		api.Group().Route(func(ctl *routegroup.Bundle) {
			ctl.Use(tollbooth.HTTPMiddleware(s.limiter))
			ctl.HandleFunc("POST /generation/start", s.handleStartGeneration)
			ctl.HandleFunc("POST /generation/stop", s.handleStopGeneration)
			ctl.HandleFunc("POST /training/start", s.handleStartTraining)
			ctl.HandleFunc("POST /training/stop", s.handleStopTraining)
			ctl.HandleFunc("POST /training/reset", s.handleResetTraining)
			ctl.HandleFunc("POST /queue", s.handleQueueAdd)
			ctl.HandleFunc("DELETE /queue/{id}", s.handleQueueRemove)
			ctl.HandleFunc("DELETE /queue", s.handleQueueClear)
		})

		// event ingest is called by the runner host, not rate limited
		api.HandleFunc("POST /events", s.handleEvents)
	})
	return router
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// denialResponse is returned when the task slot is taken
type denialResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// writeServiceError maps orchestrator and queue errors to http statuses
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var denied *service.LockDeniedError
	switch {
	case errors.As(err, &denied):
		s.writeJSON(w, http.StatusConflict, denialResponse{Error: "locked", Reason: denied.Decision.Reason,
			Message: denied.Decision.Message()})
	case errors.Is(err, service.ErrInvalidRequest):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrConditions):
		s.writeJSONError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, service.ErrNotRunning), errors.Is(err, service.ErrBusy), errors.Is(err, queue.ErrRunning):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, history.ErrNotFound):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("[WARN] request failed, %v", err)
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
	}
}
