package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/service/request"
	"github.com/courtyard/yardmaster/app/sysinfo"
	"github.com/courtyard/yardmaster/app/trainlog"
)

const (
	maxStaleJobs   = 32
	maxPendingHeld = 1000
)

type trainingState struct {
	status      enums.TrainingStatus
	seq         int // start attempt counter
	jobID       string
	lockToken   uint64
	ownerID     string
	ownerName   string
	queuedID    string // queue entry, empty for direct starts
	params      map[string]any
	datasetPath string
	errMsg      string
	startedAt   time.Time
	finishedAt  time.Time

	stale   []string // stopped job ids, their late events are ignored
	pending []heldEvent
	gate    *startGate
}

// heldEvent is a training event which arrived before the runner returned the job id
type heldEvent struct {
	name     string
	jobID    string
	line     *events.TrainingLogPayload
	complete *events.TrainingCompletePayload
	fail     *events.TrainingErrorPayload
}

// startGate keeps the end of a job until its start is reported, so the run journal and
// notifications see the start first
type startGate struct {
	reported bool
	deferred []func()
}

// trainFinish is everything needed to report a finished job outside of trainMu
type trainFinish struct {
	done     request.OnRunComplete
	token    uint64
	queuedID string
	success  bool
}

// TrainingSnapshot is the training state for display
type TrainingSnapshot struct {
	Status      enums.TrainingStatus `json:"status"`
	JobID       string               `json:"job_id,omitempty"`
	OwnerID     string               `json:"owner_id,omitempty"`
	OwnerName   string               `json:"owner_name,omitempty"`
	QueuedID    string               `json:"queued_id,omitempty"`
	Params      map[string]any       `json:"params,omitempty"`
	DatasetPath string               `json:"dataset_path,omitempty"`
	Error       string               `json:"error,omitempty"`
	StartedAt   time.Time            `json:"started_at,omitzero"`
	FinishedAt  time.Time            `json:"finished_at,omitzero"`
	Duration    time.Duration        `json:"duration"`
	Metrics     trainlog.Metrics     `json:"metrics"`
}

// StartTraining takes the task slot and starts a training job directly, bypassing the queue
func (s *Service) StartTraining(ctx context.Context, req request.Training) error {
	if req.OwnerID == "" {
		return invalid("owner id is required")
	}
	if req.DatasetPath == "" {
		return invalid("dataset path is required")
	}
	if err := s.checkConditions(req.Conditions); err != nil {
		return err
	}
	token, err := s.acquire(req.OwnerID, req.OwnerName, enums.KindTraining)
	if err != nil {
		return err
	}
	if err := s.beginTraining(ctx, req, "", token); err != nil {
		s.release(token)
		s.kick()
		return err
	}
	return nil
}

// StartQueued starts a job dispatched by the queue. The queue holds the slot already and
// frees it itself when this returns an error.
func (s *Service) StartQueued(ctx context.Context, job queue.QueuedJob) error {
	if err := s.checkConditions(job.Payload.Conditions); err != nil {
		return err
	}
	return s.beginTraining(ctx, request.Training{OwnerID: job.OwnerID, OwnerName: job.OwnerName,
		Params: job.Payload.Params, DatasetPath: job.Payload.DatasetPath}, job.ID, job.LockToken)
}

// StopTraining stops the running job optimistically: the state goes idle and the slot is freed
// right away, late events of the job are ignored. A queued job is marked failed so the queue moves on.
func (s *Service) StopTraining(ctx context.Context) error {
	s.trainMu.Lock()
	if s.train.status != enums.TrainingStatusRunning {
		s.trainMu.Unlock()
		return fmt.Errorf("can't stop training: %w", ErrNotRunning)
	}
	s.train.status = enums.TrainingStatusIdle
	s.train.finishedAt = time.Now()
	s.markStale(s.train.jobID)
	done := s.trainCompletion(enums.RunStatusStopped)
	jobID, queuedID, token := s.train.jobID, s.train.queuedID, s.train.lockToken
	report := s.afterStartReported(func() {
		if jobID != "" {
			s.runCompleted(done)
		}
		s.finishQueued(queuedID, false, "stopped by user")
	})
	s.trainMu.Unlock()

	s.release(token)
	if jobID != "" {
		if err := s.runner.StopTraining(ctx, jobID); err != nil {
			log.Printf("[WARN] stop request for training %s failed, %v", jobID, err)
		}
	}
	log.Printf("[INFO] training %s of %s stopped", jobID, done.OwnerID)
	report()
	return nil
}

// ResetTraining moves a finished training back to idle and clears its metrics. The slot is not touched.
func (s *Service) ResetTraining() error {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	if s.train.status == enums.TrainingStatusRunning {
		return fmt.Errorf("can't reset training %s: %w", s.train.jobID, ErrBusy)
	}
	s.train = trainingState{status: enums.TrainingStatusIdle, seq: s.train.seq, stale: s.train.stale}
	s.interp.Reset()
	return nil
}

// Training returns the training state with metrics
func (s *Service) Training() TrainingSnapshot {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	res := TrainingSnapshot{
		Status:      s.train.status,
		JobID:       s.train.jobID,
		OwnerID:     s.train.ownerID,
		OwnerName:   s.train.ownerName,
		QueuedID:    s.train.queuedID,
		Params:      maps.Clone(s.train.params),
		DatasetPath: s.train.datasetPath,
		Error:       s.train.errMsg,
		StartedAt:   s.train.startedAt,
		FinishedAt:  s.train.finishedAt,
		Metrics:     s.interp.Snapshot(),
	}
	switch {
	case !s.train.finishedAt.IsZero():
		res.Duration = s.train.finishedAt.Sub(s.train.startedAt)
	case !s.train.startedAt.IsZero():
		res.Duration = time.Since(s.train.startedAt)
	}
	return res
}

// OnTrainingLog feeds a line of the current job to the interpreter
func (s *Service) OnTrainingLog(p events.TrainingLogPayload) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	if s.holdPending(heldEvent{name: events.TrainingLog, jobID: p.JobID, line: &p}) ||
		!s.acceptTraining(events.TrainingLog, p.JobID) {
		return
	}
	s.feedLine(p)
}

// OnTrainingComplete finishes the current job, success defaults to true when not reported
func (s *Service) OnTrainingComplete(p events.TrainingCompletePayload) {
	s.trainMu.Lock()
	if s.holdPending(heldEvent{name: events.TrainingComplete, jobID: p.JobID, complete: &p}) ||
		!s.acceptTraining(events.TrainingComplete, p.JobID) {
		s.trainMu.Unlock()
		return
	}
	fin := s.completeTraining(p)
	report := s.afterStartReported(func() { s.finishTraining(fin) })
	s.trainMu.Unlock()
	report()
}

// OnTrainingError fails the current job
func (s *Service) OnTrainingError(p events.TrainingErrorPayload) {
	s.trainMu.Lock()
	if s.holdPending(heldEvent{name: events.TrainingError, jobID: p.JobID, fail: &p}) ||
		!s.acceptTraining(events.TrainingError, p.JobID) {
		s.trainMu.Unlock()
		return
	}
	fin := s.failTraining(p)
	report := s.afterStartReported(func() { s.finishTraining(fin) })
	s.trainMu.Unlock()
	report()
}

// beginTraining resets training state, calls the runner and records the job id.
// The caller holds the slot with token and frees it on error.
func (s *Service) beginTraining(ctx context.Context, req request.Training, queuedID string, token uint64) error {
	startedAt := time.Now()
	gate := &startGate{}
	s.trainMu.Lock()
	if s.train.status == enums.TrainingStatusRunning {
		// slot is held by the caller, so this is a leftover of an unfinished stop
		log.Printf("[WARN] training %s still marked running, replaced", s.train.jobID)
		s.markStale(s.train.jobID)
	}
	seq := s.train.seq + 1
	s.train = trainingState{status: enums.TrainingStatusRunning, seq: seq, lockToken: token, ownerID: req.OwnerID,
		ownerName: req.OwnerName, queuedID: queuedID, params: maps.Clone(req.Params), datasetPath: req.DatasetPath,
		startedAt: startedAt, stale: s.train.stale, gate: gate}
	s.interp.Reset()
	s.interp.SetEcho(nil)
	s.trainMu.Unlock()

	jobID, err := s.runner.StartTraining(ctx, req.OwnerID, req.Params, req.DatasetPath)

	s.trainMu.Lock()
	current := s.train.seq == seq && s.train.status == enums.TrainingStatusRunning
	if err != nil {
		if s.train.seq == seq {
			s.train.status = enums.TrainingStatusIdle
			s.train.errMsg = err.Error()
			s.train.pending = nil
		}
		s.trainMu.Unlock()
		return fmt.Errorf("can't start training for %s: %w", req.OwnerID, err)
	}
	if !current {
		// stopped while the runner was starting it
		s.markStale(jobID)
		s.trainMu.Unlock()
		log.Printf("[INFO] training %s was stopped during start", jobID)
		if serr := s.runner.StopTraining(context.WithoutCancel(ctx), jobID); serr != nil {
			log.Printf("[WARN] stop request for training %s failed, %v", jobID, serr)
		}
		return nil
	}
	s.train.jobID = jobID
	if s.echo != nil {
		s.interp.SetEcho(trainlog.NewPrefixer(s.echo, jobID))
	}
	s.replayHeld(jobID)
	s.trainMu.Unlock()

	log.Printf("[INFO] training %s started for %s (%s)", jobID, req.OwnerName, req.OwnerID)
	s.runStarted(request.OnRunStart{RunID: jobID, Kind: enums.KindTraining, OwnerID: req.OwnerID,
		OwnerName: req.OwnerName, Params: req.Params, DatasetPath: req.DatasetPath, StartTime: startedAt})

	s.trainMu.Lock()
	gate.reported = true
	deferred := gate.deferred
	gate.deferred = nil
	s.trainMu.Unlock()
	for _, fn := range deferred {
		fn()
	}
	return nil
}

// replayHeld applies events held during start in arrival order, must be called under trainMu
// once the job id is known. A terminal event among them ends the job, later ones are dropped.
func (s *Service) replayHeld(jobID string) {
	held := s.train.pending
	s.train.pending = nil
	for _, h := range held {
		if h.jobID != jobID || !s.acceptTraining(h.name, h.jobID) {
			continue
		}
		switch {
		case h.line != nil:
			s.feedLine(*h.line)
		case h.complete != nil:
			fin := s.completeTraining(*h.complete)
			s.train.gate.deferred = append(s.train.gate.deferred, func() { s.finishTraining(fin) })
		case h.fail != nil:
			fin := s.failTraining(*h.fail)
			s.train.gate.deferred = append(s.train.gate.deferred, func() { s.finishTraining(fin) })
		}
	}
}

// afterStartReported returns fn to be called after unlock, or keeps it in the start gate if the
// job start is not reported yet. Must be called under trainMu.
func (s *Service) afterStartReported(fn func()) func() {
	if g := s.train.gate; g != nil && s.train.jobID != "" && !g.reported {
		g.deferred = append(g.deferred, fn)
		return func() {}
	}
	return fn
}

// holdPending keeps an event arriving while the runner has not returned the job id yet,
// must be called under trainMu
func (s *Service) holdPending(ev heldEvent) bool {
	if s.train.status != enums.TrainingStatusRunning || s.train.jobID != "" || ev.jobID == "" {
		return false
	}
	if slices.Contains(s.train.stale, ev.jobID) {
		return false
	}
	if len(s.train.pending) < maxPendingHeld {
		s.train.pending = append(s.train.pending, ev)
	}
	return true
}

// feedLine passes the log line to the interpreter, must be called under trainMu
func (s *Service) feedLine(p events.TrainingLogPayload) {
	if p.Line != nil {
		s.interp.Feed(*p.Line)
	}
}

// completeTraining moves the running job to completed or failed, must be called under trainMu
func (s *Service) completeTraining(p events.TrainingCompletePayload) trainFinish {
	success := p.Success == nil || *p.Success
	status := enums.RunStatusCompleted
	s.train.status = enums.TrainingStatusCompleted
	if !success {
		status = enums.RunStatusFailed
		s.train.status = enums.TrainingStatusFailed
		s.train.errMsg = "training finished unsuccessfully"
	}
	s.train.finishedAt = time.Now()
	fin := trainFinish{done: s.trainCompletion(status), token: s.train.lockToken, queuedID: s.train.queuedID,
		success: success}
	log.Printf("[INFO] training %s of %s %s", fin.done.RunID, fin.done.OwnerID, status)
	return fin
}

// failTraining moves the running job to failed, must be called under trainMu
func (s *Service) failTraining(p events.TrainingErrorPayload) trainFinish {
	s.train.status = enums.TrainingStatusFailed
	s.train.finishedAt = time.Now()
	s.train.errMsg = "training failed"
	if p.Error != nil && *p.Error != "" {
		s.train.errMsg = *p.Error
	}
	fin := trainFinish{done: s.trainCompletion(enums.RunStatusFailed), token: s.train.lockToken,
		queuedID: s.train.queuedID}
	log.Printf("[WARN] training %s of %s failed, %s", fin.done.RunID, fin.done.OwnerID, fin.done.Error)
	return fin
}

// finishTraining runs the side effects of a finished job
func (s *Service) finishTraining(fin trainFinish) {
	s.release(fin.token)
	s.runCompleted(fin.done)
	s.finishQueued(fin.queuedID, fin.success, fin.done.Error)
}

// acceptTraining drops events of other, stopped or finished jobs, must be called under trainMu
func (s *Service) acceptTraining(name, jobID string) bool {
	if s.train.status != enums.TrainingStatusRunning {
		log.Printf("[DEBUG] drop %s of %s, training is %s", name, jobID, s.train.status)
		return false
	}
	if jobID == "" || jobID != s.train.jobID {
		log.Printf("[DEBUG] drop %s of %s, current job %s", name, jobID, s.train.jobID)
		return false
	}
	return true
}

func (s *Service) markStale(jobID string) {
	if jobID == "" || slices.Contains(s.train.stale, jobID) {
		return
	}
	s.train.stale = append(s.train.stale, jobID)
	if len(s.train.stale) > maxStaleJobs {
		s.train.stale = slices.Delete(s.train.stale, 0, len(s.train.stale)-maxStaleJobs)
	}
}

// trainCompletion makes the completion request from the current state, must be called under trainMu
func (s *Service) trainCompletion(status enums.RunStatus) request.OnRunComplete {
	m := s.interp.Snapshot()
	res := request.OnRunComplete{RunID: s.train.jobID, Kind: enums.KindTraining, OwnerID: s.train.ownerID,
		OwnerName: s.train.ownerName, Status: status, AdapterPath: m.AdapterPath, StartTime: s.train.startedAt,
		EndTime: s.train.finishedAt}
	if loss, ok := m.FinalLoss(); ok {
		res.FinalLoss = &loss
	}
	if status == enums.RunStatusFailed {
		res.Error = s.train.errMsg
	}
	return res
}

// finishQueued marks the queue entry or, for direct starts, kicks the queue
func (s *Service) finishQueued(queuedID string, success bool, reason string) {
	if s.queue == nil {
		return
	}
	switch {
	case queuedID == "":
		s.queue.Kick()
	case success:
		s.queue.MarkCompleted(queuedID)
	default:
		s.queue.MarkFailed(queuedID, reason)
	}
}

func (s *Service) checkConditions(cond *sysinfo.Conditions) error {
	if cond == nil || s.checker == nil {
		return nil
	}
	if ok, reason := s.checker.Check(*cond); !ok {
		return fmt.Errorf("%s: %w", reason, ErrConditions)
	}
	return nil
}
