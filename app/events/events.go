// Package events defines the named events consumed by the orchestrator, their JSON payloads and an
// in-process bus delivering them. It also turns raw generator/trainer output and event files into events.
package events

import (
	"encoding/json"
	"slices"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// event names, the set is fixed
const (
	Progress         = "dataset:progress"
	GenerationLog    = "dataset:log"
	Version          = "dataset:version"
	Complete         = "dataset:complete"
	GenerationError  = "dataset:error"
	Stopped          = "dataset:stopped"
	TrainingLog      = "training-log"
	TrainingComplete = "training-complete"
	TrainingError    = "training-error"
)

// Names lists all consumed event names
var Names = []string{
	Progress, GenerationLog, Version, Complete, GenerationError, Stopped,
	TrainingLog, TrainingComplete, TrainingError,
}

// Event is a named event with a JSON payload
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressPayload of dataset:progress, step and total are cumulative over the batch
type ProgressPayload struct {
	OwnerID string  `json:"ownerId,omitempty"`
	Step    *int    `json:"step,omitempty"`
	Total   *int    `json:"total,omitempty"`
	Desc    *string `json:"desc,omitempty"`
	Success *int    `json:"success,omitempty"`
	Failed  *int    `json:"failed,omitempty"`
}

// LogPayload of dataset:log, line is accepted as an alias of message
type LogPayload struct {
	OwnerID string  `json:"ownerId,omitempty"`
	Message *string `json:"message,omitempty"`
	Line    *string `json:"line,omitempty"`
}

// Text returns message or line, whichever is set
func (p LogPayload) Text() (string, bool) {
	if p.Message != nil {
		return *p.Message, true
	}
	if p.Line != nil {
		return *p.Line, true
	}
	return "", false
}

// VersionPayload of dataset:version
type VersionPayload struct {
	OwnerID string  `json:"ownerId,omitempty"`
	Version *string `json:"version,omitempty"`
}

// CompletePayload of dataset:complete
type CompletePayload struct {
	OwnerID string `json:"ownerId,omitempty"`
	Success *int   `json:"success,omitempty"`
	Failed  *int   `json:"failed,omitempty"`
}

// ErrorPayload of dataset:error
type ErrorPayload struct {
	OwnerID        string  `json:"ownerId,omitempty"`
	Message        *string `json:"message,omitempty"`
	IsPathMismatch *bool   `json:"isPathMismatch,omitempty"`
}

// StoppedPayload of dataset:stopped
type StoppedPayload struct {
	OwnerID string  `json:"ownerId,omitempty"`
	Message *string `json:"message,omitempty"`
}

// TrainingLogPayload of training-log
type TrainingLogPayload struct {
	JobID string  `json:"jobId"`
	Line  *string `json:"line,omitempty"`
}

// TrainingCompletePayload of training-complete
type TrainingCompletePayload struct {
	JobID   string `json:"jobId"`
	Success *bool  `json:"success,omitempty"`
}

// TrainingErrorPayload of training-error
type TrainingErrorPayload struct {
	JobID string  `json:"jobId"`
	Error *string `json:"error,omitempty"`
}

// New makes an event with payload marshaled to JSON. Marshal errors are logged and give an empty payload.
func New(name string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[WARN] can't marshal payload of %s, %v", name, err)
		data = []byte("{}")
	}
	return Event{Name: name, Payload: data}
}

// Bus delivers published events to subscribers of the event name. Delivery is serialized:
// handlers run one at a time in publish order, so a handler must not publish to the same bus.
type Bus struct {
	mu      sync.Mutex // guards subs and lastID
	deliver sync.Mutex // serializes delivery
	subs    map[string]map[int]func(Event)
	lastID  int
}

// NewBus makes an empty bus
func NewBus() *Bus {
	return &Bus{subs: map[string]map[int]func(Event){}}
}

// Subscribe registers handler for the event name, the returned func removes it
func (b *Bus) Subscribe(name string, h func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastID++
	id := b.lastID
	if b.subs[name] == nil {
		b.subs[name] = map[int]func(Event){}
	}
	b.subs[name][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[name], id)
	}
}

// Publish delivers the event to all current subscribers of its name
func (b *Bus) Publish(ev Event) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	ids := make([]int, 0, len(b.subs[ev.Name]))
	for id := range b.subs[ev.Name] {
		ids = append(ids, id)
	}
	handlers := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[ev.Name][id])
	}
	b.mu.Unlock()

	if len(handlers) == 0 {
		log.Printf("[DEBUG] no subscribers for %s", ev.Name)
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns number of handlers for the event name
func (b *Bus) Subscribers(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
