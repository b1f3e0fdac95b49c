// Package service provides the orchestrator. It combines the task lock, the training queue,
// generation progress and training log interpretation, and drives the runner host.
// State changes come from two directions: user actions (start, stop, reset) and events
// delivered by the router.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/lock"
	"github.com/courtyard/yardmaster/app/progress"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/runner"
	"github.com/courtyard/yardmaster/app/service/request"
	"github.com/courtyard/yardmaster/app/sysinfo"
	"github.com/courtyard/yardmaster/app/trainlog"
)

//go:generate moq -out mocks/runner.go -pkg mocks -skip-ensure -fmt goimports . Runner
//go:generate moq -out mocks/run_event_handler.go -pkg mocks -skip-ensure -fmt goimports . RunEventHandler
//go:generate moq -out mocks/reloader.go -pkg mocks -skip-ensure -fmt goimports . Reloader
//go:generate moq -out mocks/condition_checker.go -pkg mocks -skip-ensure -fmt goimports . ConditionChecker
//go:generate moq -out mocks/notifier.go -pkg mocks -skip-ensure -fmt goimports . Notifier
//go:generate moq -out mocks/journal.go -pkg mocks -skip-ensure -fmt goimports . Journal

// errors of user actions
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotRunning     = errors.New("nothing is running")
	ErrBusy           = errors.New("job is still running")
	ErrConditions     = errors.New("start conditions not met")
)

// DefaultStoppedMessage is appended to the generation log when generation is stopped
const DefaultStoppedMessage = "Generation stopped, incomplete data cleaned up"

// Locker defines the single task slot
type Locker interface {
	CanStart(ownerID string, kind enums.Kind) lock.Decision
	TryAcquire(ownerID, ownerName string, kind enums.Kind) (token uint64, ok bool)
	ReleaseToken(token uint64) bool
	Current() (lock.Task, bool)
}

// Queue is a subset of queue.Queue used by the orchestrator
type Queue interface {
	Kick()
	MarkCompleted(id string)
	MarkFailed(id, reason string)
	List() []queue.QueuedJob
}

// Runner starts and stops external processes
type Runner interface {
	StartTraining(ctx context.Context, ownerID string, params map[string]any, datasetPath string) (string, error)
	StopTraining(ctx context.Context, jobID string) error
	StartGeneration(ctx context.Context, p runner.GenerationParams) error
	StopGeneration(ctx context.Context) error
}

// Reloader refreshes the owner's file list after generation ends
type Reloader interface {
	ReloadFiles(ownerID string)
}

// RunEventHandler defines interface for handling run start and completion
type RunEventHandler interface {
	OnRunStart(req request.OnRunStart)
	OnRunComplete(req request.OnRunComplete)
}

// ConditionChecker checks host resources before training start
type ConditionChecker interface {
	Check(cond sysinfo.Conditions) (bool, string)
}

// LockDeniedError returned when the task slot is taken
type LockDeniedError struct {
	Decision lock.Decision
}

func (e *LockDeniedError) Error() string {
	return "can't start, " + e.Decision.Message()
}

// Params for New
type Params struct {
	Locker          Locker
	Queue           Queue
	Runner          Runner
	Reloader        Reloader        // optional
	RunEventHandler RunEventHandler // optional
	Checker         ConditionChecker
	LogCapacity     int       // lines kept for generation and training logs
	Echo            io.Writer // optional, receives training lines prefixed with job id
}

// Service is the orchestrator, all methods are thread safe
type Service struct {
	locker   Locker
	queue    Queue
	runner   Runner
	reloader Reloader
	events   RunEventHandler
	checker  ConditionChecker
	echo     io.Writer

	genMu    sync.Mutex
	gen      generationState
	progress *progress.Tracker
	genLog   *trainlog.Buffer

	trainMu sync.Mutex
	train   trainingState
	interp  *trainlog.Interpreter
}

// New makes the orchestrator
func New(p Params) *Service {
	res := &Service{
		locker:   p.Locker,
		queue:    p.Queue,
		runner:   p.Runner,
		reloader: p.Reloader,
		events:   p.RunEventHandler,
		checker:  p.Checker,
		echo:     p.Echo,
		progress: progress.NewTracker(),
		genLog:   trainlog.NewBuffer(p.LogCapacity),
		interp:   trainlog.New(p.LogCapacity),
	}
	res.gen.status = enums.GenerationStatusIdle
	res.train.status = enums.TrainingStatusIdle
	return res
}

// Status is a snapshot of everything the orchestrator knows
type Status struct {
	Lock       *lock.Task         `json:"lock,omitempty"`
	Queue      []queue.QueuedJob  `json:"queue"`
	Generation GenerationSnapshot `json:"generation"`
	Training   TrainingSnapshot   `json:"training"`
}

// Status returns lock, queue, generation and training state. Log lines are not included.
func (s *Service) Status() Status {
	res := Status{Queue: []queue.QueuedJob{}}
	if task, ok := s.locker.Current(); ok {
		res.Lock = &task
	}
	if s.queue != nil {
		res.Queue = s.queue.List()
	}
	res.Generation = s.Generation()
	res.Training = s.Training()
	res.Training.Metrics.Lines = nil
	return res
}

// release frees the task slot only if it is still held by the acquisition with the token
func (s *Service) release(token uint64) {
	if token == 0 {
		return
	}
	if !s.locker.ReleaseToken(token) {
		log.Printf("[DEBUG] slot of acquisition %d was freed already", token)
	}
}

// acquire takes the slot and returns its token, or LockDeniedError
func (s *Service) acquire(ownerID, ownerName string, kind enums.Kind) (uint64, error) {
	if d := s.locker.CanStart(ownerID, kind); !d.Allowed {
		log.Printf("[INFO] %s for %s denied, %s", kind, ownerID, d.Reason)
		return 0, &LockDeniedError{Decision: d}
	}
	token, ok := s.locker.TryAcquire(ownerID, ownerName, kind)
	if !ok {
		d := s.locker.CanStart(ownerID, kind)
		if d.Allowed {
			d = lock.Decision{Reason: "busy"}
		}
		return 0, &LockDeniedError{Decision: d}
	}
	return token, nil
}

func (s *Service) kick() {
	if s.queue != nil {
		s.queue.Kick()
	}
}

func (s *Service) runStarted(req request.OnRunStart) {
	if s.events != nil {
		s.events.OnRunStart(req)
	}
}

func (s *Service) runCompleted(req request.OnRunComplete) {
	if req.EndTime.IsZero() {
		req.EndTime = time.Now()
	}
	if s.events != nil {
		s.events.OnRunComplete(req)
	}
}

func (s *Service) reload(ownerID string) {
	if s.reloader != nil && ownerID != "" {
		s.reloader.ReloadFiles(ownerID)
	}
}

func invalid(msg string) error {
	return fmt.Errorf("%s: %w", msg, ErrInvalidRequest)
}
