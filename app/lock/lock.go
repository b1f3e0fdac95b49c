// Package lock implements the single process-wide task slot shared by all kinds of
// long-running work and all owners. There is no lease or timeout, a held slot is freed
// only by an explicit Release.
package lock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/courtyard/yardmaster/app/enums"
)

// Task is the currently held slot
type Task struct {
	OwnerID   string     `json:"owner_id"`
	OwnerName string     `json:"owner_name"`
	Kind      enums.Kind `json:"kind"`
	Since     time.Time  `json:"since"`
	Token     uint64     `json:"-"` // identifies the acquisition, see ReleaseToken
}

// Decision is the result of CanStart query
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Conflict is a parsed, structured form of Decision.Reason
type Conflict struct {
	SameOwner bool
	OwnerName string
	Kind      enums.Kind
}

// TaskLock is a thread safe single-slot lock. Zero value is usable and idle.
type TaskLock struct {
	mu     sync.Mutex
	task   *Task
	tokens uint64
}

// New makes an idle TaskLock
func New() *TaskLock {
	return &TaskLock{}
}

// Acquire takes the slot if idle. Not reentrant, a second Acquire by the same owner fails too.
// Failing is the expected concurrency outcome, not an error.
func (l *TaskLock) Acquire(ownerID, ownerName string, kind enums.Kind) bool {
	_, ok := l.TryAcquire(ownerID, ownerName, kind)
	return ok
}

// TryAcquire is Acquire returning the token of the acquisition. The token is never zero.
func (l *TaskLock) TryAcquire(ownerID, ownerName string, kind enums.Kind) (token uint64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task != nil {
		log.Printf("[DEBUG] lock busy, %s (%s) denied %s, held by %s for %s",
			ownerName, ownerID, kind, l.task.OwnerName, l.task.Kind)
		return 0, false
	}
	l.tokens++
	l.task = &Task{OwnerID: ownerID, OwnerName: ownerName, Kind: kind, Since: time.Now(), Token: l.tokens}
	log.Printf("[INFO] lock acquired by %s (%s) for %s", ownerName, ownerID, kind)
	return l.tokens, true
}

// Release clears the slot. Safe to call multiple times.
func (l *TaskLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.release()
}

// ReleaseToken clears the slot only if it is still held by the acquisition with this token.
// A slot freed and taken again in between is left alone.
func (l *TaskLock) ReleaseToken(token uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil || token == 0 || l.task.Token != token {
		return false
	}
	l.release()
	return true
}

func (l *TaskLock) release() {
	if l.task == nil {
		return
	}
	log.Printf("[INFO] lock released by %s (%s), %s", l.task.OwnerName, l.task.OwnerID, l.task.Kind)
	l.task = nil
}

// CanStart reports whether ownerID may start work of the given kind. No side effects.
func (l *TaskLock) CanStart(ownerID string, kind enums.Kind) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil {
		return Decision{Allowed: true}
	}
	if l.task.OwnerID == ownerID {
		return Decision{Reason: "already:" + string(l.task.Kind)}
	}
	return Decision{Reason: fmt.Sprintf("otherOwner:%s:%s", l.task.OwnerName, l.task.Kind)}
}

// Current returns a copy of the held task, false if idle
func (l *TaskLock) Current() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.task == nil {
		return Task{}, false
	}
	return *l.task, true
}

// ParseReason converts a denial reason back into a Conflict
func ParseReason(reason string) (Conflict, error) {
	if kind, ok := strings.CutPrefix(reason, "already:"); ok {
		k, err := enums.ParseKind(kind)
		if err != nil {
			return Conflict{}, fmt.Errorf("bad reason %q: %w", reason, err)
		}
		return Conflict{SameOwner: true, Kind: k}, nil
	}

	rest, ok := strings.CutPrefix(reason, "otherOwner:")
	if !ok {
		return Conflict{}, fmt.Errorf("unknown reason %q", reason)
	}
	// owner name may contain colons, kind is always the last element
	idx := strings.LastIndex(rest, ":")
	if idx < 0 {
		return Conflict{}, fmt.Errorf("bad reason %q", reason)
	}
	k, err := enums.ParseKind(rest[idx+1:])
	if err != nil {
		return Conflict{}, fmt.Errorf("bad reason %q: %w", reason, err)
	}
	return Conflict{OwnerName: rest[:idx], Kind: k}, nil
}

// Message renders the decision as a human readable sentence, empty if allowed
func (d Decision) Message() string {
	if d.Allowed {
		return ""
	}
	c, err := ParseReason(d.Reason)
	if err != nil {
		return d.Reason
	}
	if c.SameOwner {
		return fmt.Sprintf("this project is already %s", c.Kind)
	}
	return fmt.Sprintf("project %q is %s, wait for it to finish", c.OwnerName, c.Kind)
}
