// Package enums provides the typed enumerations shared by the orchestration packages.
//
// All types are string based so they render directly in logs, JSON responses and
// the run journal without extra conversion.
//
// Usage:
//
//	kind := enums.KindTraining
//	fmt.Println(kind) // "training"
//
//	parsed, err := enums.ParseKind("generating")
//	if err != nil {
//	    // handle invalid input
//	}
package enums

import "fmt"

// Kind is the kind of long-running work holding the task slot
type Kind string

// kinds of work
const (
	KindGenerating Kind = "generating"
	KindTraining   Kind = "training"
)

// JobStatus is the status of a queued training job. Transitions only move forward:
// queued -> running -> completed|failed
type JobStatus string

// queued job statuses
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// TrainingStatus is the status of the current training job
type TrainingStatus string

// training statuses
const (
	TrainingStatusIdle      TrainingStatus = "idle"
	TrainingStatusRunning   TrainingStatus = "running"
	TrainingStatusCompleted TrainingStatus = "completed"
	TrainingStatusFailed    TrainingStatus = "failed"
)

// GenerationStatus is the status of the current dataset generation
type GenerationStatus string

// generation statuses
const (
	GenerationStatusIdle       GenerationStatus = "idle"
	GenerationStatusGenerating GenerationStatus = "generating"
)

// GenerationOutcome records how the last generation ended
type GenerationOutcome string

// generation outcomes, empty while nothing finished yet
const (
	GenerationOutcomeNone      GenerationOutcome = ""
	GenerationOutcomeCompleted GenerationOutcome = "completed"
	GenerationOutcomeFailed    GenerationOutcome = "failed"
	GenerationOutcomeStopped   GenerationOutcome = "stopped"
)

// RunStatus is the status of a run recorded in the journal
type RunStatus string

// run statuses
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

func (k Kind) String() string { return string(k) }

func (s RunStatus) String() string { return string(s) }

func (s JobStatus) String() string { return string(s) }

func (s TrainingStatus) String() string { return string(s) }

func (s GenerationStatus) String() string { return string(s) }

// Terminal reports whether the job status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// rank gives the position of the status in the forward-only lifecycle
func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// CanMoveTo reports whether the transition from s to next keeps the lifecycle moving forward
func (s JobStatus) CanMoveTo(next JobStatus) bool {
	return s.rank() >= 0 && next.rank() == s.rank()+1
}

// ParseKind converts string to Kind
func ParseKind(v string) (Kind, error) {
	switch Kind(v) {
	case KindGenerating, KindTraining:
		return Kind(v), nil
	}
	return "", fmt.Errorf("invalid kind %q", v)
}

// ParseJobStatus converts string to JobStatus
func ParseJobStatus(v string) (JobStatus, error) {
	switch JobStatus(v) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return JobStatus(v), nil
	}
	return "", fmt.Errorf("invalid job status %q", v)
}

// ParseRunStatus converts string to RunStatus
func ParseRunStatus(v string) (RunStatus, error) {
	switch RunStatus(v) {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusStopped:
		return RunStatus(v), nil
	}
	return "", fmt.Errorf("invalid run status %q", v)
}
