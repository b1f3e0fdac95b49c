package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/history"
	"github.com/courtyard/yardmaster/app/notify"
	"github.com/courtyard/yardmaster/app/service/request"
)

// Journal records runs
type Journal interface {
	RecordStart(ctx context.Context, r history.Run) error
	RecordFinish(ctx context.Context, id string, f history.Finish) error
}

// Notifier interface defines notification delivery on finished runs
type Notifier interface {
	Send(ctx context.Context, subj, text string) error
	IsOnError() bool
	IsOnCompletion() bool
	MakeErrorHTML(r notify.Report) (string, error)
	MakeCompletionHTML(r notify.Report) (string, error)
}

// Reporter is a RunEventHandler writing the run journal and sending notifications.
// Journal writes are synchronous, notifications are sent in background.
type Reporter struct {
	Journal       Journal  // optional
	Notifier      Notifier // optional
	NotifyTimeout time.Duration

	wg sync.WaitGroup
}

// OnRunStart records the started run
func (r *Reporter) OnRunStart(req request.OnRunStart) {
	if r.Journal == nil {
		return
	}
	run := history.Run{ID: req.RunID, Kind: req.Kind, OwnerID: req.OwnerID, OwnerName: req.OwnerName,
		Params: req.Params, DatasetPath: req.DatasetPath, Status: enums.RunStatusRunning, StartedAt: req.StartTime}
	if err := r.Journal.RecordStart(context.Background(), run); err != nil {
		log.Printf("[WARN] can't record start of %s %s, %v", req.Kind, req.RunID, err)
	}
}

// OnRunComplete records the outcome and notifies about it. Stopped runs are not notified.
func (r *Reporter) OnRunComplete(req request.OnRunComplete) {
	if r.Journal != nil {
		fin := history.Finish{Status: req.Status, FinalLoss: req.FinalLoss, AdapterPath: req.AdapterPath,
			Version: req.Version, Error: req.Error, At: req.EndTime}
		if err := r.Journal.RecordFinish(context.Background(), req.RunID, fin); err != nil {
			log.Printf("[WARN] can't record finish of %s %s, %v", req.Kind, req.RunID, err)
		}
	}

	if r.Notifier == nil || req.Status == enums.RunStatusStopped {
		return
	}
	rep := notify.Report{Kind: req.Kind, OwnerID: req.OwnerID, OwnerName: req.OwnerName, JobID: req.RunID,
		Status: req.Status, FinalLoss: req.FinalLoss, AdapterPath: req.AdapterPath, Version: req.Version,
		Error: req.Error, TS: req.EndTime}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() {
		rep.Duration = req.EndTime.Sub(req.StartTime)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		timeout := r.NotifyTimeout
		if timeout <= 0 {
			timeout = time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.notify(ctx, rep); err != nil {
			log.Printf("[WARN] can't send notification for %s %s, %v", rep.Kind, rep.JobID, err)
		}
	}()
}

// Wait blocks until all pending notifications are sent
func (r *Reporter) Wait() {
	r.wg.Wait()
}

func (r *Reporter) notify(ctx context.Context, rep notify.Report) error {
	if rep.Status == enums.RunStatusFailed && r.Notifier.IsOnError() {
		msg, err := r.Notifier.MakeErrorHTML(rep)
		if err != nil {
			return fmt.Errorf("can't make html email: %w", err)
		}
		if err := r.Notifier.Send(ctx, notify.Subject(rep), msg); err != nil {
			return fmt.Errorf("failed to send error notification: %w", err)
		}
		return nil
	}

	if rep.Status == enums.RunStatusCompleted && r.Notifier.IsOnCompletion() {
		msg, err := r.Notifier.MakeCompletionHTML(rep)
		if err != nil {
			return fmt.Errorf("can't make html email: %w", err)
		}
		if err := r.Notifier.Send(ctx, notify.Subject(rep), msg); err != nil {
			return fmt.Errorf("failed to send completion notification: %w", err)
		}
	}
	return nil
}
