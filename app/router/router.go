// Package router subscribes to the named events of the event source once and dispatches their
// decoded payloads to the generation and training handlers.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/events"
)

// Source is an event source delivering events by name
type Source interface {
	Subscribe(name string, h func(events.Event)) (unsubscribe func())
}

// GenerationHandler receives dataset generation events
type GenerationHandler interface {
	OnProgress(p events.ProgressPayload)
	OnGenerationLog(p events.LogPayload)
	OnVersion(p events.VersionPayload)
	OnComplete(p events.CompletePayload)
	OnGenerationError(p events.ErrorPayload)
	OnStopped(p events.StoppedPayload)
}

// TrainingHandler receives training job events
type TrainingHandler interface {
	OnTrainingLog(p events.TrainingLogPayload)
	OnTrainingComplete(p events.TrainingCompletePayload)
	OnTrainingError(p events.TrainingErrorPayload)
}

// Router registers handlers on Source. Start is idempotent, safe to call concurrently.
type Router struct {
	src   Source
	gen   GenerationHandler
	train TrainingHandler

	mu      sync.Mutex
	started bool
	unsubs  []func()
	done    chan struct{} // closed by Stop, ends the ctx watcher of the current start
}

// New makes a Router
func New(src Source, gen GenerationHandler, train TrainingHandler) *Router {
	return &Router{src: src, gen: gen, train: train}
}

// Start subscribes every event exactly once. Repeated calls are no-ops while started.
// Subscriptions are removed on Stop or when ctx is done.
func (r *Router) Start(ctx context.Context) error {
	if r.src == nil || r.gen == nil || r.train == nil {
		return errors.New("router needs source and both handlers")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true // set before subscribing, a concurrent caller sees it under the same lock

	sub := func(name string, h func(events.Event)) {
		r.unsubs = append(r.unsubs, r.src.Subscribe(name, h))
	}
	sub(events.Progress, dispatch(events.Progress, r.gen.OnProgress))
	sub(events.GenerationLog, dispatch(events.GenerationLog, r.gen.OnGenerationLog))
	sub(events.Version, dispatch(events.Version, r.gen.OnVersion))
	sub(events.Complete, dispatch(events.Complete, r.gen.OnComplete))
	sub(events.GenerationError, dispatch(events.GenerationError, r.gen.OnGenerationError))
	sub(events.Stopped, dispatch(events.Stopped, r.gen.OnStopped))
	sub(events.TrainingLog, dispatch(events.TrainingLog, r.train.OnTrainingLog))
	sub(events.TrainingComplete, dispatch(events.TrainingComplete, r.train.OnTrainingComplete))
	sub(events.TrainingError, dispatch(events.TrainingError, r.train.OnTrainingError))
	log.Printf("[DEBUG] router subscribed to %d events", len(r.unsubs))

	done := make(chan struct{})
	r.done = done
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				r.stop(done)
			case <-done:
			}
		}()
	}
	return nil
}

// Stop removes all subscriptions, Start can be called again after it
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribe()
}

// stop removes subscriptions made by the start owning done, a later start is left alone
func (r *Router) stop(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != done {
		return
	}
	r.unsubscribe()
}

func (r *Router) unsubscribe() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	r.started = false
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
}

// Started reports whether subscriptions are active
func (r *Router) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// dispatch decodes payload into T and calls fn. A malformed payload is logged and whatever
// fields were decoded are passed on, nil fields mean "keep the previous value".
// A panic in fn is recovered and logged.
func dispatch[T any](name string, fn func(T)) func(events.Event) {
	return func(ev events.Event) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[ERROR] handler of %s panicked, %v", name, rec)
			}
		}()

		var payload T
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				log.Printf("[WARN] malformed payload of %s, %v", name, err)
			}
		}
		fn(payload)
	}
}
