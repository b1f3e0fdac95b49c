// Package sysinfo reports host resources and checks resource conditions before a job starts.
// Training is memory and disk hungry, a start can be refused when the host is short on either.
package sysinfo

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Conditions to be met before start, nil fields are not checked
type Conditions struct {
	CPUBelow      *int     `yaml:"cpu_below,omitempty" json:"cpu_below,omitempty" jsonschema:"minimum=1,maximum=100"`
	MemoryBelow   *int     `yaml:"memory_below,omitempty" json:"memory_below,omitempty" jsonschema:"minimum=1,maximum=100"`
	LoadAvgBelow  *float64 `yaml:"load_avg_below,omitempty" json:"load_avg_below,omitempty" jsonschema:"minimum=0"`
	DiskFreeAbove *int     `yaml:"disk_free_above,omitempty" json:"disk_free_above,omitempty" jsonschema:"minimum=0,maximum=100"`
	DiskFreePath  string   `yaml:"disk_free_path,omitempty" json:"disk_free_path,omitempty"`
}

// Empty reports whether no condition is set
func (c Conditions) Empty() bool {
	return c.CPUBelow == nil && c.MemoryBelow == nil && c.LoadAvgBelow == nil && c.DiskFreeAbove == nil
}

// Snapshot is the current host resource usage
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryTotal   uint64    `json:"memory_total"`
	MemoryUsed    uint64    `json:"memory_used"`
	Load1         float64   `json:"load1"`
	DiskPath      string    `json:"disk_path"`
	DiskFree      uint64    `json:"disk_free"`
	DiskPercent   float64   `json:"disk_used_percent"`
	TS            time.Time `json:"ts"`
}

// Checker checks conditions, limiting the number of concurrent checks
type Checker struct {
	maxConcurrent int
	semaphore     chan struct{}
	cpuInterval   time.Duration
}

const defaultMaxConcurrent = 4

// NewChecker makes Checker, non-positive maxConcurrent means the default
func NewChecker(maxConcurrent int) *Checker {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &Checker{maxConcurrent: maxConcurrent, semaphore: make(chan struct{}, maxConcurrent), cpuInterval: time.Second}
}

// Check verifies all conditions, returns false with the reason of the first unmet one
func (c *Checker) Check(cond Conditions) (ok bool, reason string) {
	if cond.Empty() {
		return true, ""
	}
	c.semaphore <- struct{}{}
	defer func() { <-c.semaphore }()

	if cond.CPUBelow != nil {
		if ok, reason := c.checkCPU(*cond.CPUBelow); !ok {
			return false, reason
		}
	}
	if cond.MemoryBelow != nil {
		if ok, reason := c.checkMemory(*cond.MemoryBelow); !ok {
			return false, reason
		}
	}
	if cond.LoadAvgBelow != nil {
		if ok, reason := c.checkLoadAvg(*cond.LoadAvgBelow); !ok {
			return false, reason
		}
	}
	if cond.DiskFreeAbove != nil {
		path := cond.DiskFreePath
		if path == "" {
			path = "/"
		}
		if ok, reason := c.checkDiskFree(*cond.DiskFreeAbove, path); !ok {
			return false, reason
		}
	}
	return true, ""
}

// Snapshot collects resource usage, diskPath defaults to root. Partial data is returned with the first error.
func (c *Checker) Snapshot(diskPath string) (Snapshot, error) {
	if diskPath == "" {
		diskPath = "/"
	}
	res := Snapshot{DiskPath: diskPath, TS: time.Now()}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// zero interval compares with the previous call, does not block
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		res.CPUPercent = pct[0]
	} else {
		keep(err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		res.MemoryPercent, res.MemoryTotal, res.MemoryUsed = v.UsedPercent, v.Total, v.Used
	} else {
		keep(fmt.Errorf("failed to get memory: %w", err))
	}
	if l, err := load.Avg(); err == nil {
		res.Load1 = l.Load1
	} else {
		keep(fmt.Errorf("failed to get load average: %w", err))
	}
	if u, err := disk.Usage(diskPath); err == nil {
		res.DiskFree, res.DiskPercent = u.Free, u.UsedPercent
	} else {
		keep(fmt.Errorf("failed to get disk usage for %s: %w", diskPath, err))
	}
	return res, firstErr
}

func (c *Checker) checkCPU(threshold int) (bool, string) {
	cpuPercent, err := cpu.Percent(c.cpuInterval, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	if current := int(cpuPercent[0]); current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkMemory(threshold int) (bool, string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	if current := int(v.UsedPercent); current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func (c *Checker) checkLoadAvg(threshold float64) (bool, string) {
	loads, err := load.Avg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}

func (c *Checker) checkDiskFree(minFreePercent int, path string) (bool, string) {
	usage, err := disk.Usage(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	if freePercent := 100 - int(usage.UsedPercent); freePercent < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", freePercent, minFreePercent, path)
	}
	return true, ""
}
