// Package queue keeps the ordered list of pending training jobs and dispatches them one by one
// through the task lock. Dispatch is speculative and idempotent, callers may invoke ProcessNext
// any time; it does nothing unless the first queued job is allowed to start.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/lock"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

// default delays for scheduled dispatch
const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultRetryDelay  = time.Second
)

// errors returned by Remove
var (
	ErrNotFound = errors.New("queued job not found")
	ErrRunning  = errors.New("queued job is running")
)

// Locker is a subset of lock.TaskLock used by the queue
type Locker interface {
	CanStart(ownerID string, kind enums.Kind) lock.Decision
	TryAcquire(ownerID, ownerName string, kind enums.Kind) (token uint64, ok bool)
	ReleaseToken(token uint64) bool
}

// Starter launches the external training for a dispatched job. Returning an error means the
// start failed synchronously, success means terminal events will follow. The job carries the
// token of the slot taken for it. On error the queue frees that slot itself, unless it was freed
// and taken again meanwhile; on success the starter owns the slot.
type Starter interface {
	StartQueued(ctx context.Context, job QueuedJob) error
}

// Payload is an opaque set of training parameters and the dataset reference
type Payload struct {
	Params      map[string]any      `json:"params,omitempty"`
	DatasetPath string              `json:"dataset_path"`
	Conditions  *sysinfo.Conditions `json:"conditions,omitempty"` // host resources required to start
}

// QueuedJob is a pending training request
type QueuedJob struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	OwnerName  string          `json:"owner_name"`
	Payload    Payload         `json:"payload"`
	Status     enums.JobStatus `json:"status"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  time.Time       `json:"started_at,omitzero"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	Error      string          `json:"error,omitempty"`
	LockToken  uint64          `json:"-"` // slot acquisition of the running job
}

// Params for New
type Params struct {
	Locker      Locker
	Starter     Starter
	SettleDelay time.Duration // delay before dispatch after a terminal mark
	RetryDelay  time.Duration // delay before dispatch after a failed start
}

// Queue is a thread safe FIFO of training jobs
type Queue struct {
	locker      Locker
	settleDelay time.Duration
	retryDelay  time.Duration

	mu      sync.Mutex
	starter Starter
	jobs    []*QueuedJob
	closed  bool
}

// New makes an empty queue. Starter can be set later with SetStarter.
func New(p Params) *Queue {
	res := &Queue{locker: p.Locker, starter: p.Starter, settleDelay: p.SettleDelay, retryDelay: p.RetryDelay}
	if res.settleDelay <= 0 {
		res.settleDelay = DefaultSettleDelay
	}
	if res.retryDelay <= 0 {
		res.retryDelay = DefaultRetryDelay
	}
	return res
}

// SetStarter sets the starter used for dispatch
func (q *Queue) SetStarter(s Starter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.starter = s
}

// Add appends a new queued job. No deduplication.
func (q *Queue) Add(ownerID, ownerName string, payload Payload) QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := &QueuedJob{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		OwnerName:  ownerName,
		Payload:    payload,
		Status:     enums.JobStatusQueued,
		EnqueuedAt: time.Now(),
	}
	q.jobs = append(q.jobs, job)
	log.Printf("[INFO] queued training %s for %s (%s), %d in queue", job.ID, ownerName, ownerID, len(q.jobs))
	return *job
}

// Remove deletes job by id. Running jobs can't be removed, stop them first.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, job := range q.jobs {
		if job.ID != id {
			continue
		}
		if job.Status == enums.JobStatusRunning {
			return fmt.Errorf("can't remove %s: %w", id, ErrRunning)
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		log.Printf("[INFO] removed %s job %s from queue", job.Status, id)
		return nil
	}
	return fmt.Errorf("can't remove %s: %w", id, ErrNotFound)
}

// Clear removes all jobs except running ones
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := make([]*QueuedJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.Status == enums.JobStatusRunning {
			kept = append(kept, job)
		}
	}
	log.Printf("[INFO] queue cleared, removed %d, kept %d running", len(q.jobs)-len(kept), len(kept))
	q.jobs = kept
}

// List returns a copy of all jobs in insertion order
func (q *Queue) List() []QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := make([]QueuedJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		res = append(res, *job)
	}
	return res
}

// Get returns a copy of the job by id
func (q *Queue) Get(id string) (QueuedJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job := q.find(id); job != nil {
		return *job, true
	}
	return QueuedJob{}, false
}

// ProcessNext dispatches the first queued job if the lock allows it. Safe to call speculatively.
func (q *Queue) ProcessNext(ctx context.Context) {
	q.mu.Lock()
	if q.closed || q.starter == nil {
		q.mu.Unlock()
		return
	}

	var next *QueuedJob
	for _, job := range q.jobs {
		if job.Status == enums.JobStatusQueued {
			next = job
			break
		}
	}
	if next == nil {
		q.mu.Unlock()
		return
	}

	if d := q.locker.CanStart(next.OwnerID, enums.KindTraining); !d.Allowed {
		log.Printf("[DEBUG] queued job %s waits, %s", next.ID, d.Reason)
		q.mu.Unlock()
		return
	}
	token, ok := q.locker.TryAcquire(next.OwnerID, next.OwnerName, enums.KindTraining)
	if !ok {
		q.mu.Unlock()
		return
	}
	next.Status = enums.JobStatusRunning
	next.StartedAt = time.Now()
	next.LockToken = token
	job, starter := *next, q.starter
	q.mu.Unlock()

	log.Printf("[INFO] dispatching queued training %s for %s", job.ID, job.OwnerName)
	err := starter.StartQueued(ctx, job)
	if err == nil {
		return
	}

	log.Printf("[WARN] failed to start queued training %s, %v", job.ID, err)
	q.mu.Lock()
	if j := q.find(job.ID); j != nil && j.Status == enums.JobStatusRunning {
		j.Status = enums.JobStatusFailed
		j.FinishedAt = time.Now()
		j.Error = err.Error()
	}
	q.mu.Unlock()
	if !q.locker.ReleaseToken(job.LockToken) {
		log.Printf("[DEBUG] slot of %s was freed already", job.ID)
	}
	q.schedule(q.retryDelay)
}

// MarkCompleted sets completed status for the running job and schedules the next dispatch.
// The slot is not touched, the holder frees it before marking.
func (q *Queue) MarkCompleted(id string) {
	q.finish(id, enums.JobStatusCompleted, "")
}

// MarkFailed sets failed status for the running job and schedules the next dispatch
func (q *Queue) MarkFailed(id, reason string) {
	q.finish(id, enums.JobStatusFailed, reason)
}

// Kick schedules a speculative dispatch after the settle delay
func (q *Queue) Kick() {
	q.schedule(q.settleDelay)
}

// Close prevents any further dispatch, pending scheduled calls become no-op
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) finish(id string, status enums.JobStatus, reason string) {
	q.mu.Lock()
	job := q.find(id)
	if job == nil || !job.Status.CanMoveTo(status) {
		log.Printf("[DEBUG] ignore %s mark for job %s", status, id)
		q.mu.Unlock()
		return
	}
	job.Status = status
	job.FinishedAt = time.Now()
	job.Error = reason
	q.mu.Unlock()

	log.Printf("[INFO] queued training %s %s", id, status)
	q.schedule(q.settleDelay)
}

func (q *Queue) schedule(delay time.Duration) {
	time.AfterFunc(delay, func() {
		q.ProcessNext(context.Background())
	})
}

// find returns job by id, must be called under lock
func (q *Queue) find(id string) *QueuedJob {
	for _, job := range q.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}
