package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/events"
	"github.com/courtyard/yardmaster/app/lock"
	"github.com/courtyard/yardmaster/app/progress"
	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/runner"
	"github.com/courtyard/yardmaster/app/service/mocks"
	"github.com/courtyard/yardmaster/app/service/request"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }
func boolp(v bool) *bool    { return &v }

// trainRunner returns a runner mock giving out job ids in order
func trainRunner(ids ...string) *mocks.RunnerMock {
	var mu sync.Mutex
	return &mocks.RunnerMock{
		StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(ids) == 0 {
				return "", errors.New("unexpected start")
			}
			id := ids[0]
			ids = ids[1:]
			return id, nil
		},
		StopTrainingFunc: func(context.Context, string) error { return nil },
	}
}

// eventRecorder collects run events in the order they were reported
type eventRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *eventRecorder) handler() *mocks.RunEventHandlerMock {
	return &mocks.RunEventHandlerMock{
		OnRunStartFunc: func(req request.OnRunStart) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.order = append(r.order, "start:"+req.RunID)
		},
		OnRunCompleteFunc: func(req request.OnRunComplete) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.order = append(r.order, fmt.Sprintf("%s:%s", req.Status, req.RunID))
		},
	}
}

func (r *eventRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

func noReload() *mocks.ReloaderMock {
	return &mocks.ReloaderMock{ReloadFilesFunc: func(string) {}}
}

func TestService_CrossOwnerDenial(t *testing.T) {
	run := &mocks.RunnerMock{StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil }}
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run})
	require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1", OwnerName: "Alpha"}))

	err := svc.StartTraining(context.Background(), request.Training{OwnerID: "p2", OwnerName: "Beta", DatasetPath: "/d"})
	require.Error(t, err)
	var denied *LockDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "otherOwner:Alpha:generating", denied.Decision.Reason)
	assert.Equal(t, `can't start, project "Alpha" is generating, wait for it to finish`, err.Error())

	err = svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1", OwnerName: "Alpha"})
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "already:generating", denied.Decision.Reason)

	task, ok := lk.Current()
	require.True(t, ok)
	assert.Equal(t, "p1", task.OwnerID)
	assert.Equal(t, enums.TrainingStatusIdle, svc.Training().Status)
	require.Len(t, run.StartGenerationCalls(), 1)
	assert.Equal(t, "p1", run.StartGenerationCalls()[0].P.OwnerID)
	assert.Empty(t, run.StartTrainingCalls())
}

func TestService_InvalidRequest(t *testing.T) {
	svc := New(Params{Locker: lock.New(), Runner: &mocks.RunnerMock{}})
	assert.ErrorIs(t, svc.StartGeneration(context.Background(), request.Generation{}), ErrInvalidRequest)
	assert.ErrorIs(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1"}), ErrInvalidRequest)
	assert.ErrorIs(t, svc.StopGeneration(context.Background()), ErrNotRunning)
	assert.ErrorIs(t, svc.StopTraining(context.Background()), ErrNotRunning)
}

func TestService_GenerationLifecycle(t *testing.T) {
	run := &mocks.RunnerMock{StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil }}
	rel := noReload()
	var starts []request.OnRunStart
	var completes []request.OnRunComplete
	hnd := &mocks.RunEventHandlerMock{
		OnRunStartFunc:    func(r request.OnRunStart) { starts = append(starts, r) },
		OnRunCompleteFunc: func(r request.OnRunComplete) { completes = append(completes, r) },
	}

	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, Reloader: rel, RunEventHandler: hnd})
	files := []progress.FileMeta{{Name: "a.txt", SizeBytes: 30}, {Name: "b.txt", SizeBytes: 70}}
	err := svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1", OwnerName: "Alpha",
		Model: "m", Mode: "qa", Source: "/src", Files: files})
	require.NoError(t, err)
	assert.Equal(t, enums.GenerationStatusGenerating, svc.Generation().Status)
	require.Len(t, run.StartGenerationCalls(), 1)
	assert.Equal(t, runner.GenerationParams{OwnerID: "p1", Model: "m", Mode: "qa", Source: "/src"},
		run.StartGenerationCalls()[0].P)
	require.Len(t, starts, 1)
	assert.Equal(t, enums.KindGenerating, starts[0].Kind)
	assert.NotEmpty(t, starts[0].RunID)

	svc.OnProgress(events.ProgressPayload{Step: intp(0), Total: intp(100), Desc: strp("Loading model...")})
	assert.Equal(t, 0, svc.Generation().Progress.CurrentFileIndex)
	svc.OnProgress(events.ProgressPayload{Step: intp(50), Total: intp(100), Desc: strp("Generated 40 samples (10 failed)")})
	gen := svc.Generation()
	assert.Equal(t, 1, gen.Progress.CurrentFileIndex)
	assert.Equal(t, 40, gen.Progress.SuccessCount)
	assert.Equal(t, 10, gen.Progress.FailCount)

	svc.OnProgress(events.ProgressPayload{OwnerID: "p2", Step: intp(99)}) // other owner, dropped
	assert.Equal(t, 50, svc.Generation().Progress.Step)

	svc.OnGenerationLog(events.LogPayload{Message: strp("chunk 1 done")})
	svc.OnGenerationLog(events.LogPayload{Line: strp("chunk 2 done")})
	svc.OnGenerationLog(events.LogPayload{})
	svc.OnVersion(events.VersionPayload{Version: strp("v3")})
	svc.OnComplete(events.CompletePayload{Success: intp(42), Failed: intp(10)})

	gen = svc.Generation()
	assert.Equal(t, enums.GenerationStatusIdle, gen.Status)
	assert.Equal(t, enums.GenerationOutcomeCompleted, gen.Outcome)
	assert.Equal(t, "v3", gen.Version)
	assert.Equal(t, 42, gen.Progress.SuccessCount)
	assert.Equal(t, []string{"chunk 1 done", "chunk 2 done"}, svc.GenerationLog())
	_, held := lk.Current()
	assert.False(t, held)
	require.Len(t, rel.ReloadFilesCalls(), 1)
	assert.Equal(t, "p1", rel.ReloadFilesCalls()[0].OwnerID)
	require.Len(t, completes, 1)
	assert.Equal(t, enums.RunStatusCompleted, completes[0].Status)
	assert.Equal(t, "v3", completes[0].Version)
	assert.False(t, completes[0].EndTime.IsZero())

	// late progress after completion is ignored
	svc.OnProgress(events.ProgressPayload{Step: intp(100)})
	assert.Equal(t, 50, svc.Generation().Progress.Step)
}

func TestService_GenerationRunnerFailure(t *testing.T) {
	run := &mocks.RunnerMock{StartGenerationFunc: func(context.Context, runner.GenerationParams) error {
		return errors.New("connection refused")
	}}
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run})

	err := svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	gen := svc.Generation()
	assert.Equal(t, enums.GenerationStatusIdle, gen.Status)
	assert.Equal(t, enums.GenerationOutcomeFailed, gen.Outcome)
	_, held := lk.Current()
	assert.False(t, held)
}

func TestService_GenerationError(t *testing.T) {
	run := &mocks.RunnerMock{StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil }}
	rel := noReload()
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, Reloader: rel})

	require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1"}))
	svc.OnGenerationError(events.ErrorPayload{Message: strp("source dir moved"), IsPathMismatch: boolp(true)})
	gen := svc.Generation()
	assert.Equal(t, enums.GenerationOutcomeFailed, gen.Outcome)
	assert.Equal(t, "source dir moved", gen.Error)
	assert.True(t, gen.IsPathMismatch)
	_, held := lk.Current()
	assert.False(t, held)

	svc.OnGenerationError(events.ErrorPayload{Message: strp("again")}) // not running, dropped
	assert.Equal(t, "source dir moved", svc.Generation().Error)
	assert.Len(t, rel.ReloadFilesCalls(), 1)
}

func TestService_StopGeneration(t *testing.T) {
	run := &mocks.RunnerMock{
		StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil },
		StopGenerationFunc:  func(context.Context) error { return errors.New("already gone") },
	}
	rel := noReload()
	rec := &eventRecorder{}

	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, Reloader: rel, RunEventHandler: rec.handler()})
	require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1"}))
	require.NoError(t, svc.StopGeneration(context.Background()), "runner error is not returned")

	gen := svc.Generation()
	assert.Equal(t, enums.GenerationStatusIdle, gen.Status)
	assert.Equal(t, enums.GenerationOutcomeStopped, gen.Outcome)
	_, held := lk.Current()
	assert.False(t, held)
	assert.Len(t, run.StopGenerationCalls(), 1)

	svc.OnStopped(events.StoppedPayload{})
	assert.Equal(t, []string{DefaultStoppedMessage}, svc.GenerationLog())
	assert.Len(t, rel.ReloadFilesCalls(), 1)
	reported := rec.list()
	require.Len(t, reported, 2)
	assert.Contains(t, reported[1], string(enums.RunStatusStopped))
}

func TestService_StopGenerationKeepsNewHolder(t *testing.T) {
	lk := lock.New()
	run := &mocks.RunnerMock{
		StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil },
		StopGenerationFunc: func(context.Context) error {
			// the slot is free while the stop request is retried, other work takes it
			require.True(t, lk.Acquire("p2", "Beta", enums.KindTraining))
			return nil
		},
	}
	svc := New(Params{Locker: lk, Runner: run, Reloader: noReload()})
	require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1"}))
	require.NoError(t, svc.StopGeneration(context.Background()))
	svc.OnStopped(events.StoppedPayload{})

	task, held := lk.Current()
	require.True(t, held)
	assert.Equal(t, "p2", task.OwnerID)
}

func TestService_StoppedByRunner(t *testing.T) {
	run := &mocks.RunnerMock{StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil }}
	rel := noReload()
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, Reloader: rel})

	require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p1"}))
	svc.OnStopped(events.StoppedPayload{Message: strp("cancelled from tray")})
	assert.Equal(t, enums.GenerationOutcomeStopped, svc.Generation().Outcome)
	assert.Equal(t, []string{"cancelled from tray"}, svc.GenerationLog())
	_, held := lk.Current()
	assert.False(t, held)
	assert.Len(t, rel.ReloadFilesCalls(), 1)
}

func TestService_TrainingLifecycle(t *testing.T) {
	run := trainRunner("job-1")
	var starts []request.OnRunStart
	var completes []request.OnRunComplete
	hnd := &mocks.RunEventHandlerMock{
		OnRunStartFunc:    func(r request.OnRunStart) { starts = append(starts, r) },
		OnRunCompleteFunc: func(r request.OnRunComplete) { completes = append(completes, r) },
	}

	echo := &bytes.Buffer{}
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, RunEventHandler: hnd, Echo: echo})
	err := svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", OwnerName: "Alpha",
		DatasetPath: "/data/ds1", Params: map[string]any{"iters": 100}})
	require.NoError(t, err)
	require.Len(t, run.StartTrainingCalls(), 1)
	assert.Equal(t, "p1", run.StartTrainingCalls()[0].OwnerID)
	assert.Equal(t, "/data/ds1", run.StartTrainingCalls()[0].DatasetPath)
	require.Len(t, starts, 1)
	assert.Equal(t, "job-1", starts[0].RunID)
	assert.Equal(t, enums.KindTraining, starts[0].Kind)

	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusRunning, tr.Status)
	assert.Equal(t, "job-1", tr.JobID)

	for _, line := range []string{
		"Loading pretrained model",
		"Iter 10: Train loss 2.345, Learning Rate 1.000e-05, It/sec 0.52",
		"Iter 10: Val loss 2.101, Val took 3.2s",
		"Iter 20: Train loss 1.500, Learning Rate 1.000e-05",
		"Iter 20: Saved adapter weights to /out/adapters/adapters.safetensors and /out/adapters/0000020_adapters.safetensors.",
	} {
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp(line)})
	}
	svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-other", Line: strp("Iter 99: Train loss 9.0")})

	m := svc.Training().Metrics
	require.Len(t, m.Train, 2)
	assert.Equal(t, 20, m.CurrentIteration)
	require.Len(t, m.Val, 1)
	assert.Equal(t, "/out/adapters", m.AdapterPath)
	assert.Len(t, m.Lines, 5)
	assert.Contains(t, echo.String(), "{job-1} Loading pretrained model\n")

	svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-1"})
	tr = svc.Training()
	assert.Equal(t, enums.TrainingStatusCompleted, tr.Status)
	assert.False(t, tr.FinishedAt.IsZero())
	_, held := lk.Current()
	assert.False(t, held)
	require.Len(t, completes, 1)
	assert.Equal(t, enums.RunStatusCompleted, completes[0].Status)
	require.NotNil(t, completes[0].FinalLoss)
	assert.InDelta(t, 1.5, *completes[0].FinalLoss, 1e-9)
	assert.Equal(t, "/out/adapters", completes[0].AdapterPath)

	require.NoError(t, svc.ResetTraining())
	tr = svc.Training()
	assert.Equal(t, enums.TrainingStatusIdle, tr.Status)
	assert.Empty(t, tr.Metrics.Train)
	assert.Empty(t, tr.Metrics.Lines)
	assert.Empty(t, tr.JobID)
}

func TestService_TrainingFailure(t *testing.T) {
	var completes []request.OnRunComplete
	hnd := &mocks.RunEventHandlerMock{
		OnRunStartFunc:    func(request.OnRunStart) {},
		OnRunCompleteFunc: func(r request.OnRunComplete) { completes = append(completes, r) },
	}

	svc := New(Params{Locker: lock.New(), Runner: trainRunner("job-1", "job-2"), RunEventHandler: hnd})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	assert.ErrorIs(t, svc.ResetTraining(), ErrBusy)
	svc.OnTrainingError(events.TrainingErrorPayload{JobID: "job-1", Error: strp("out of memory")})
	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusFailed, tr.Status)
	assert.Equal(t, "out of memory", tr.Error)

	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-2", Success: boolp(false)})
	assert.Equal(t, enums.TrainingStatusFailed, svc.Training().Status)

	require.Len(t, completes, 2)
	assert.Equal(t, enums.RunStatusFailed, completes[0].Status)
	assert.Equal(t, "out of memory", completes[0].Error)
	assert.Equal(t, enums.RunStatusFailed, completes[1].Status)
	assert.Equal(t, "training finished unsuccessfully", completes[1].Error)
}

func TestService_TrainingRunnerFailure(t *testing.T) {
	run := &mocks.RunnerMock{StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
		return "", errors.New("no gpu")
	}}
	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run})

	err := svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gpu")
	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusIdle, tr.Status)
	assert.Equal(t, "no gpu", tr.Error)
	_, held := lk.Current()
	assert.False(t, held)
}

func TestService_StaleTerminalEvent(t *testing.T) {
	run := trainRunner("job-1", "job-2")
	rec := &eventRecorder{}

	lk := lock.New()
	svc := New(Params{Locker: lk, Runner: run, RunEventHandler: rec.handler()})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	require.NoError(t, svc.StopTraining(context.Background()))
	assert.Equal(t, enums.TrainingStatusIdle, svc.Training().Status)
	_, held := lk.Current()
	assert.False(t, held)
	require.Len(t, run.StopTrainingCalls(), 1)
	assert.Equal(t, "job-1", run.StopTrainingCalls()[0].JobID)

	// late completion of the stopped job changes nothing
	svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-1", Success: boolp(true)})
	assert.Equal(t, enums.TrainingStatusIdle, svc.Training().Status)

	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	svc.OnTrainingError(events.TrainingErrorPayload{JobID: "job-1", Error: strp("killed")})
	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusRunning, tr.Status, "event of the stopped job ignored")
	assert.Equal(t, "job-2", tr.JobID)
	task, held := lk.Current()
	require.True(t, held)
	assert.Equal(t, enums.KindTraining, task.Kind)
	assert.Equal(t, []string{"start:job-1", "stopped:job-1", "start:job-2"}, rec.list())
}

func TestService_EventsDuringStart(t *testing.T) {
	var svc *Service
	run := &mocks.RunnerMock{StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
		// the runner emits before it responds with the id
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 1: Train loss 3.0")})
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 2: Train loss 2.0")})
		return "job-1", nil
	}}

	svc = New(Params{Locker: lock.New(), Runner: run})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	m := svc.Training().Metrics
	require.Len(t, m.Train, 2)
	assert.Equal(t, 2, m.CurrentIteration)
	assert.InDelta(t, 2.0, m.Train[1].Loss, 1e-9)
}

func TestService_TerminalEventDuringStart(t *testing.T) {
	var svc *Service
	run := &mocks.RunnerMock{StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 1: Train loss 3.0")})
		svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-1"})
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 2: Train loss 2.0")})
		return "job-1", nil
	}}
	var completes []request.OnRunComplete
	rec := &eventRecorder{}
	hnd := rec.handler()
	recComplete := hnd.OnRunCompleteFunc
	hnd.OnRunCompleteFunc = func(r request.OnRunComplete) {
		completes = append(completes, r)
		recComplete(r)
	}

	lk := lock.New()
	svc = New(Params{Locker: lk, Runner: run, RunEventHandler: hnd})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))

	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusCompleted, tr.Status)
	require.Len(t, tr.Metrics.Train, 1, "lines after the completion are dropped")
	assert.InDelta(t, 3.0, tr.Metrics.Train[0].Loss, 1e-9)
	_, held := lk.Current()
	assert.False(t, held)
	assert.Equal(t, []string{"start:job-1", "completed:job-1"}, rec.list())
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].FinalLoss)
	assert.InDelta(t, 3.0, *completes[0].FinalLoss, 1e-9)
}

func TestService_CompletionWhileStartReported(t *testing.T) {
	var svc *Service
	run := &mocks.RunnerMock{StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
		svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 1: Train loss 3.0")})
		return "job-1", nil
	}}
	rec := &eventRecorder{}
	hnd := rec.handler()
	recStart := hnd.OnRunStartFunc
	var completes []request.OnRunComplete
	hnd.OnRunStartFunc = func(r request.OnRunStart) {
		recStart(r)
		// the job ends while its start is being journaled
		svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-1"})
	}
	recComplete := hnd.OnRunCompleteFunc
	hnd.OnRunCompleteFunc = func(r request.OnRunComplete) {
		completes = append(completes, r)
		recComplete(r)
	}

	lk := lock.New()
	svc = New(Params{Locker: lk, Runner: run, RunEventHandler: hnd})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))

	tr := svc.Training()
	assert.Equal(t, enums.TrainingStatusCompleted, tr.Status)
	require.Len(t, tr.Metrics.Train, 1, "held line applied before the completion")
	assert.Equal(t, []string{"start:job-1", "completed:job-1"}, rec.list())
	require.Len(t, completes, 1)
	require.NotNil(t, completes[0].FinalLoss)
	assert.InDelta(t, 3.0, *completes[0].FinalLoss, 1e-9)
	_, held := lk.Current()
	assert.False(t, held)
}

func TestService_StopDuringStart(t *testing.T) {
	var svc *Service
	run := trainRunner("job-1")
	run.StartTrainingFunc = func(context.Context, string, map[string]any, string) (string, error) {
		require.NoError(t, svc.StopTraining(context.Background()))
		return "job-1", nil
	}

	lk := lock.New()
	svc = New(Params{Locker: lk, Runner: run})
	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d"}))
	assert.Equal(t, enums.TrainingStatusIdle, svc.Training().Status)
	_, held := lk.Current()
	assert.False(t, held)
	require.Len(t, run.StopTrainingCalls(), 1)
	assert.Equal(t, "job-1", run.StopTrainingCalls()[0].JobID)

	svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-1"})
	assert.Equal(t, enums.TrainingStatusIdle, svc.Training().Status)
}

func TestService_StopDuringQueuedStartThenStartFails(t *testing.T) {
	var svc *Service
	run := &mocks.RunnerMock{
		StartTrainingFunc: func(context.Context, string, map[string]any, string) (string, error) {
			// user stops the job and another project starts generating before the runner fails
			require.NoError(t, svc.StopTraining(context.Background()))
			require.NoError(t, svc.StartGeneration(context.Background(), request.Generation{OwnerID: "p2", OwnerName: "Beta"}))
			return "", errors.New("runner crashed")
		},
		StartGenerationFunc: func(context.Context, runner.GenerationParams) error { return nil },
	}
	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: time.Hour, RetryDelay: time.Hour})
	defer q.Close()
	svc = New(Params{Locker: lk, Queue: q, Runner: run})
	q.SetStarter(svc)

	job := q.Add("p1", "Alpha", queue.Payload{DatasetPath: "/d"})
	q.ProcessNext(context.Background())

	got, _ := q.Get(job.ID)
	assert.Equal(t, enums.JobStatusFailed, got.Status)
	assert.Equal(t, "stopped by user", got.Error)
	assert.Equal(t, enums.GenerationStatusGenerating, svc.Generation().Status)
	task, held := lk.Current()
	require.True(t, held, "generation keeps its slot")
	assert.Equal(t, "p2", task.OwnerID)
	assert.Equal(t, enums.KindGenerating, task.Kind)
}

func TestService_StopWindowOverlapsNewStart(t *testing.T) {
	var svc *Service
	run := trainRunner("job-q", "job-d")
	run.StopTrainingFunc = func(_ context.Context, jobID string) error {
		if jobID == "job-q" {
			// the same project starts a direct training while the stop request is in flight
			require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", OwnerName: "Alpha",
				DatasetPath: "/d2"}))
		}
		return nil
	}
	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: time.Hour, RetryDelay: time.Hour})
	defer q.Close()
	svc = New(Params{Locker: lk, Queue: q, Runner: run})
	q.SetStarter(svc)

	job := q.Add("p1", "Alpha", queue.Payload{DatasetPath: "/d1"})
	q.ProcessNext(context.Background())
	require.Equal(t, "job-q", svc.Training().JobID)

	require.NoError(t, svc.StopTraining(context.Background()))

	got, _ := q.Get(job.ID)
	assert.Equal(t, enums.JobStatusFailed, got.Status)
	tr := svc.Training()
	assert.Equal(t, "job-d", tr.JobID)
	assert.Equal(t, enums.TrainingStatusRunning, tr.Status)
	task, held := lk.Current()
	require.True(t, held, "direct training keeps its slot")
	assert.Equal(t, "p1", task.OwnerID)
	assert.Equal(t, enums.KindTraining, task.Kind)
}

func TestService_Conditions(t *testing.T) {
	chk := &mocks.ConditionCheckerMock{CheckFunc: func(sysinfo.Conditions) (bool, string) {
		return false, "cpu usage 90% >= 50%"
	}}
	lk := lock.New()
	run := &mocks.RunnerMock{}
	svc := New(Params{Locker: lk, Runner: run, Checker: chk})

	err := svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", DatasetPath: "/d",
		Conditions: &sysinfo.Conditions{CPUBelow: intp(50)}})
	require.ErrorIs(t, err, ErrConditions)
	assert.Contains(t, err.Error(), "cpu usage 90%")
	_, held := lk.Current()
	assert.False(t, held)
	require.Len(t, chk.CheckCalls(), 1)
	assert.Equal(t, sysinfo.Conditions{CPUBelow: intp(50)}, chk.CheckCalls()[0].Cond)
	assert.Empty(t, run.StartTrainingCalls())
}

func TestService_QueueHandoff(t *testing.T) {
	run := &mocks.RunnerMock{
		StartTrainingFunc: func(_ context.Context, ownerID string, _ map[string]any, _ string) (string, error) {
			return map[string]string{"p1": "job-a", "p2": "job-b"}[ownerID], nil
		},
		StopTrainingFunc: func(context.Context, string) error { return nil },
	}

	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: 10 * time.Millisecond, RetryDelay: 10 * time.Millisecond})
	defer q.Close()
	svc := New(Params{Locker: lk, Queue: q, Runner: run})
	q.SetStarter(svc)

	ja := q.Add("p1", "Alpha", queue.Payload{DatasetPath: "/d1"})
	jb := q.Add("p2", "Beta", queue.Payload{DatasetPath: "/d2"})
	q.ProcessNext(context.Background())

	tr := svc.Training()
	assert.Equal(t, "job-a", tr.JobID)
	assert.Equal(t, ja.ID, tr.QueuedID)
	task, ok := lk.Current()
	require.True(t, ok)
	assert.Equal(t, "p1", task.OwnerID)

	svc.OnTrainingComplete(events.TrainingCompletePayload{JobID: "job-a", Success: boolp(true)})
	require.Eventually(t, func() bool { return svc.Training().JobID == "job-b" }, time.Second, 5*time.Millisecond)

	got, ok := q.Get(ja.ID)
	require.True(t, ok)
	assert.Equal(t, enums.JobStatusCompleted, got.Status)
	got, ok = q.Get(jb.ID)
	require.True(t, ok)
	assert.Equal(t, enums.JobStatusRunning, got.Status)
	task, ok = lk.Current()
	require.True(t, ok)
	assert.Equal(t, "p2", task.OwnerID)

	// stop marks the queued job failed
	require.NoError(t, svc.StopTraining(context.Background()))
	got, _ = q.Get(jb.ID)
	assert.Equal(t, enums.JobStatusFailed, got.Status)
	assert.Equal(t, "stopped by user", got.Error)
	_, ok = lk.Current()
	assert.False(t, ok)
	require.Len(t, run.StopTrainingCalls(), 1)
	assert.Equal(t, "job-b", run.StopTrainingCalls()[0].JobID)
}

func TestService_QueuedConditionsNotMet(t *testing.T) {
	chk := &mocks.ConditionCheckerMock{CheckFunc: func(sysinfo.Conditions) (bool, string) {
		return false, "memory usage 95% >= 80%"
	}}
	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: time.Hour, RetryDelay: time.Hour})
	defer q.Close()
	svc := New(Params{Locker: lk, Queue: q, Runner: &mocks.RunnerMock{}, Checker: chk})
	q.SetStarter(svc)

	job := q.Add("p1", "Alpha", queue.Payload{DatasetPath: "/d", Conditions: &sysinfo.Conditions{MemoryBelow: intp(80)}})
	q.ProcessNext(context.Background())
	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, enums.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "memory usage")
	_, held := lk.Current()
	assert.False(t, held)
	assert.Len(t, chk.CheckCalls(), 1)
}

func TestService_Status(t *testing.T) {
	lk := lock.New()
	q := queue.New(queue.Params{Locker: lk, SettleDelay: time.Hour})
	defer q.Close()
	svc := New(Params{Locker: lk, Queue: q, Runner: trainRunner("job-1")})

	st := svc.Status()
	assert.Nil(t, st.Lock)
	assert.Empty(t, st.Queue)
	assert.Equal(t, enums.GenerationStatusIdle, st.Generation.Status)
	assert.Equal(t, enums.TrainingStatusIdle, st.Training.Status)

	require.NoError(t, svc.StartTraining(context.Background(), request.Training{OwnerID: "p1", OwnerName: "Alpha", DatasetPath: "/d"}))
	q.Add("p2", "Beta", queue.Payload{DatasetPath: "/d2"})
	svc.OnTrainingLog(events.TrainingLogPayload{JobID: "job-1", Line: strp("Iter 1: Train loss 3.0")})

	st = svc.Status()
	require.NotNil(t, st.Lock)
	assert.Equal(t, "Alpha", st.Lock.OwnerName)
	assert.Len(t, st.Queue, 1)
	assert.Len(t, st.Training.Metrics.Train, 1)
	assert.Nil(t, st.Training.Metrics.Lines)
	assert.Len(t, svc.Training().Metrics.Lines, 1)
}
