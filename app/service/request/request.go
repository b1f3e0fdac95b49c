// Package request contains request types of the orchestrator and its run event handlers
package request

import (
	"time"

	"github.com/courtyard/yardmaster/app/enums"
	"github.com/courtyard/yardmaster/app/progress"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

// Generation is a request to start dataset generation
type Generation struct {
	OwnerID   string              `json:"owner_id"`
	OwnerName string              `json:"owner_name"`
	Model     string              `json:"model"`
	Mode      string              `json:"mode"`
	Source    string              `json:"source"`
	Resume    bool                `json:"resume"`
	Files     []progress.FileMeta `json:"files"`
}

// Training is a request to start a training job
type Training struct {
	OwnerID     string              `json:"owner_id"`
	OwnerName   string              `json:"owner_name"`
	Params      map[string]any      `json:"params"`
	DatasetPath string              `json:"dataset_path"`
	Conditions  *sysinfo.Conditions `json:"conditions,omitempty"`
}

// OnRunStart contains parameters of a started run
type OnRunStart struct {
	RunID       string
	Kind        enums.Kind
	OwnerID     string
	OwnerName   string
	Params      map[string]any
	DatasetPath string
	StartTime   time.Time
}

// OnRunComplete contains parameters of a finished run
type OnRunComplete struct {
	RunID       string
	Kind        enums.Kind
	OwnerID     string
	OwnerName   string
	Status      enums.RunStatus
	FinalLoss   *float64
	AdapterPath string
	Version     string
	Error       string
	StartTime   time.Time
	EndTime     time.Time
}
