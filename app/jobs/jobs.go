// Package jobs loads a YAML file of training jobs to be enqueued at startup.
//
// Example:
//
//	jobs:
//	  - owner_id: poems
//	    owner_name: Poems
//	    dataset_path: /data/poems/v3
//	    params:
//	      iters: 600
//	      learning_rate: 1e-5
//	    conditions:
//	      memory_below: 80
package jobs

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/courtyard/yardmaster/app/queue"
	"github.com/courtyard/yardmaster/app/sysinfo"
)

// File is the jobs file
type File struct {
	Jobs []Job `yaml:"jobs" json:"jobs" jsonschema:"required,minItems=1"`
}

// Job is a training job to enqueue
type Job struct {
	OwnerID     string              `yaml:"owner_id" json:"owner_id" jsonschema:"required,minLength=1"`
	OwnerName   string              `yaml:"owner_name,omitempty" json:"owner_name,omitempty"`
	DatasetPath string              `yaml:"dataset_path" json:"dataset_path" jsonschema:"required,minLength=1"`
	Params      map[string]any      `yaml:"params,omitempty" json:"params,omitempty"`
	Conditions  *sysinfo.Conditions `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// Payload converts the job to the queue payload
func (j Job) Payload() queue.Payload {
	return queue.Payload{Params: j.Params, DatasetPath: j.DatasetPath, Conditions: j.Conditions}
}

// Name returns owner name, falling back to owner id
func (j Job) Name() string {
	if j.OwnerName != "" {
		return j.OwnerName
	}
	return j.OwnerID
}

// Load reads and validates the jobs file. Unknown fields are rejected.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from the operator
	if err != nil {
		return File{}, fmt.Errorf("can't read jobs file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates jobs from YAML
func Parse(data []byte) (File, error) {
	var res File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&res); err != nil {
		return File{}, fmt.Errorf("can't parse jobs: %w", err)
	}
	if err := Validate(res); err != nil {
		return File{}, err
	}
	return res, nil
}

// Validate checks required fields and condition ranges
func Validate(f File) error {
	if len(f.Jobs) == 0 {
		return errors.New("at least one job is required")
	}
	for i, job := range f.Jobs {
		if job.OwnerID == "" {
			return fmt.Errorf("job %d: owner_id is required", i+1)
		}
		if job.DatasetPath == "" {
			return fmt.Errorf("job %d: dataset_path is required", i+1)
		}
		for k := range job.Params {
			if k == "" {
				return fmt.Errorf("job %d: empty param name", i+1)
			}
		}
		if job.Conditions != nil {
			if err := validateConditions(*job.Conditions, i+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateConditions(c sysinfo.Conditions, jobNum int) error {
	percent := func(name string, v *int, minVal int) error {
		if v != nil && (*v < minVal || *v > 100) {
			return fmt.Errorf("job %d: conditions.%s must be between %d and 100", jobNum, name, minVal)
		}
		return nil
	}
	if err := percent("cpu_below", c.CPUBelow, 1); err != nil {
		return err
	}
	if err := percent("memory_below", c.MemoryBelow, 1); err != nil {
		return err
	}
	if err := percent("disk_free_above", c.DiskFreeAbove, 0); err != nil {
		return err
	}
	if c.LoadAvgBelow != nil && *c.LoadAvgBelow <= 0 {
		return fmt.Errorf("job %d: conditions.load_avg_below must be positive", jobNum)
	}
	return nil
}

// GenerateSchema generates a JSON schema for the jobs file
func GenerateSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&File{})
}
