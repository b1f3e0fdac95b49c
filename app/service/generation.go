package service

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/progress"
	"github.com/courtyard/yardmaster/app/runner"
	"github.com/courtyard/yardmaster/app/service/request"
)

type generationState struct {
	status         enums.GenerationStatus
	runID          string
	lockToken      uint64
	ownerID        string
	ownerName      string
	outcome        enums.GenerationOutcome
	version        string
	errMsg         string
	isPathMismatch bool
	startedAt      time.Time
	finishedAt     time.Time
}

// GenerationSnapshot is the generation state for display
type GenerationSnapshot struct {
	Status         enums.GenerationStatus  `json:"status"`
	OwnerID        string                  `json:"owner_id,omitempty"`
	OwnerName      string                  `json:"owner_name,omitempty"`
	Outcome        enums.GenerationOutcome `json:"outcome,omitempty"`
	Version        string                  `json:"version,omitempty"`
	Error          string                  `json:"error,omitempty"`
	IsPathMismatch bool                    `json:"is_path_mismatch,omitempty"`
	StartedAt      time.Time               `json:"started_at,omitzero"`
	FinishedAt     time.Time               `json:"finished_at,omitzero"`
	Progress       progress.Snapshot       `json:"progress"`
}

// StartGeneration takes the task slot and starts dataset generation. Progress is reset with the
// request's file list. If the runner fails, the slot is released and the state goes back to idle.
func (s *Service) StartGeneration(ctx context.Context, req request.Generation) error {
	if req.OwnerID == "" {
		return invalid("owner id is required")
	}
	token, err := s.acquire(req.OwnerID, req.OwnerName, enums.KindGenerating)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	runID := uuid.NewString()
	s.genMu.Lock()
	s.gen = generationState{status: enums.GenerationStatusGenerating, runID: runID, lockToken: token,
		ownerID: req.OwnerID, ownerName: req.OwnerName, startedAt: startedAt}
	s.progress.Reset(req.Files)
	s.genLog.Reset()
	s.genMu.Unlock()

	err = s.runner.StartGeneration(ctx, runner.GenerationParams{OwnerID: req.OwnerID, Model: req.Model, Mode: req.Mode,
		Source: req.Source, Resume: req.Resume})
	if err != nil {
		s.genMu.Lock()
		if s.gen.runID == runID && s.gen.status == enums.GenerationStatusGenerating {
			s.gen.status = enums.GenerationStatusIdle
			s.gen.outcome = enums.GenerationOutcomeFailed
			s.gen.errMsg = err.Error()
			s.gen.finishedAt = time.Now()
		}
		s.genMu.Unlock()
		s.release(token)
		s.kick()
		return fmt.Errorf("can't start generation for %s: %w", req.OwnerID, err)
	}

	log.Printf("[INFO] generation %s started for %s (%s), %d files", runID, req.OwnerName, req.OwnerID, len(req.Files))
	s.runStarted(request.OnRunStart{RunID: runID, Kind: enums.KindGenerating, OwnerID: req.OwnerID,
		OwnerName: req.OwnerName, DatasetPath: req.Source, StartTime: startedAt,
		Params: map[string]any{"model": req.Model, "mode": req.Mode, "resume": req.Resume}})
	return nil
}

// StopGeneration asks the runner to stop and goes idle right away, without waiting for the process.
// The stopped event which follows only adds the cancellation notice and reloads files.
func (s *Service) StopGeneration(ctx context.Context) error {
	s.genMu.Lock()
	if s.gen.status != enums.GenerationStatusGenerating {
		s.genMu.Unlock()
		return fmt.Errorf("can't stop generation: %w", ErrNotRunning)
	}
	s.gen.status = enums.GenerationStatusIdle
	s.gen.outcome = enums.GenerationOutcomeStopped
	s.gen.finishedAt = time.Now()
	done := s.genCompletion(enums.RunStatusStopped)
	token := s.gen.lockToken
	s.genMu.Unlock()

	s.release(token)
	if err := s.runner.StopGeneration(ctx); err != nil {
		log.Printf("[WARN] stop request for generation of %s failed, %v", done.OwnerID, err)
	}
	log.Printf("[INFO] generation %s of %s stopped", done.RunID, done.OwnerID)
	s.runCompleted(done)
	s.kick()
	return nil
}

// Generation returns the generation state
func (s *Service) Generation() GenerationSnapshot {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return GenerationSnapshot{
		Status:         s.gen.status,
		OwnerID:        s.gen.ownerID,
		OwnerName:      s.gen.ownerName,
		Outcome:        s.gen.outcome,
		Version:        s.gen.version,
		Error:          s.gen.errMsg,
		IsPathMismatch: s.gen.isPathMismatch,
		StartedAt:      s.gen.startedAt,
		FinishedAt:     s.gen.finishedAt,
		Progress:       s.progress.Snapshot(),
	}
}

// GenerationLog returns buffered generation output, oldest first
func (s *Service) GenerationLog() []string {
	return s.genLog.Lines()
}

// OnProgress updates progress of the running generation
func (s *Service) OnProgress(p events.ProgressPayload) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if !s.acceptGeneration(events.Progress, p.OwnerID, true) {
		return
	}
	s.progress.Update(progress.Update{Step: p.Step, Total: p.Total, Desc: p.Desc, Success: p.Success, Failed: p.Failed})
}

// OnGenerationLog appends a line to the generation log. Late lines after the end are kept too.
func (s *Service) OnGenerationLog(p events.LogPayload) {
	txt, ok := p.Text()
	if !ok {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if !s.acceptGeneration(events.GenerationLog, p.OwnerID, false) {
		return
	}
	s.genLog.Append(txt)
}

// OnVersion records the produced dataset version
func (s *Service) OnVersion(p events.VersionPayload) {
	if p.Version == nil {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if !s.acceptGeneration(events.Version, p.OwnerID, false) {
		return
	}
	s.gen.version = *p.Version
}

// OnComplete ends the running generation successfully
func (s *Service) OnComplete(p events.CompletePayload) {
	s.genMu.Lock()
	if !s.acceptGeneration(events.Complete, p.OwnerID, true) {
		s.genMu.Unlock()
		return
	}
	if p.Success != nil || p.Failed != nil {
		s.progress.Update(progress.Update{Success: p.Success, Failed: p.Failed})
	}
	s.gen.status = enums.GenerationStatusIdle
	s.gen.outcome = enums.GenerationOutcomeCompleted
	s.gen.finishedAt = time.Now()
	done := s.genCompletion(enums.RunStatusCompleted)
	token := s.gen.lockToken
	s.genMu.Unlock()

	log.Printf("[INFO] generation %s of %s completed, version %q", done.RunID, done.OwnerID, done.Version)
	s.finishGeneration(done, token)
}

// OnGenerationError ends the running generation with error
func (s *Service) OnGenerationError(p events.ErrorPayload) {
	s.genMu.Lock()
	if !s.acceptGeneration(events.GenerationError, p.OwnerID, true) {
		s.genMu.Unlock()
		return
	}
	s.gen.status = enums.GenerationStatusIdle
	s.gen.outcome = enums.GenerationOutcomeFailed
	s.gen.finishedAt = time.Now()
	s.gen.errMsg = "generation failed"
	if p.Message != nil && *p.Message != "" {
		s.gen.errMsg = *p.Message
	}
	if p.IsPathMismatch != nil {
		s.gen.isPathMismatch = *p.IsPathMismatch
	}
	done := s.genCompletion(enums.RunStatusFailed)
	token := s.gen.lockToken
	s.genMu.Unlock()

	log.Printf("[WARN] generation %s of %s failed, %s", done.RunID, done.OwnerID, done.Error)
	s.finishGeneration(done, token)
}

// OnStopped appends the cancellation notice and reloads files. If generation is still running,
// which happens when it was stopped outside of this service, it also ends it.
func (s *Service) OnStopped(p events.StoppedPayload) {
	msg := DefaultStoppedMessage
	if p.Message != nil && *p.Message != "" {
		msg = *p.Message
	}

	s.genMu.Lock()
	if !s.acceptGeneration(events.Stopped, p.OwnerID, false) {
		s.genMu.Unlock()
		return
	}
	s.genLog.Append(msg)
	ownerID := s.gen.ownerID
	if s.gen.status != enums.GenerationStatusGenerating {
		s.genMu.Unlock()
		s.reload(ownerID)
		return
	}
	s.gen.status = enums.GenerationStatusIdle
	s.gen.outcome = enums.GenerationOutcomeStopped
	s.gen.finishedAt = time.Now()
	done := s.genCompletion(enums.RunStatusStopped)
	token := s.gen.lockToken
	s.genMu.Unlock()

	log.Printf("[INFO] generation %s of %s stopped by runner", done.RunID, done.OwnerID)
	s.finishGeneration(done, token)
}

// acceptGeneration checks event ownership, must be called under genMu.
// A generation event may name its owner; events of another owner are dropped.
func (s *Service) acceptGeneration(name, ownerID string, needRunning bool) bool {
	if ownerID != "" && s.gen.ownerID != "" && ownerID != s.gen.ownerID {
		log.Printf("[DEBUG] drop %s of %s, generation belongs to %s", name, ownerID, s.gen.ownerID)
		return false
	}
	if needRunning && s.gen.status != enums.GenerationStatusGenerating {
		log.Printf("[DEBUG] drop %s, no generation running", name)
		return false
	}
	return true
}

// genCompletion makes the completion request from the current state, must be called under genMu
func (s *Service) genCompletion(status enums.RunStatus) request.OnRunComplete {
	res := request.OnRunComplete{RunID: s.gen.runID, Kind: enums.KindGenerating, OwnerID: s.gen.ownerID,
		OwnerName: s.gen.ownerName, Status: status, Version: s.gen.version, StartTime: s.gen.startedAt,
		EndTime: s.gen.finishedAt}
	if status == enums.RunStatusFailed {
		res.Error = s.gen.errMsg
	}
	return res
}

// finishGeneration runs the side effects of a terminal generation event
func (s *Service) finishGeneration(done request.OnRunComplete, token uint64) {
	s.release(token)
	s.reload(done.OwnerID)
	s.runCompleted(done)
	s.kick()
}
