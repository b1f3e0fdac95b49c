// Package progress reconstructs per-file progress of a dataset generation batch from
// cumulative step/total events and free-text descriptions.
//
// The current file is estimated from byte sizes: processing cost is assumed proportional to
// file size, which is an approximation and not an exact measure. Counts are taken from
// structured fields when the producer sends them, otherwise parsed from the description text.
package progress

import (
	"regexp"
	"strconv"
	"sync"
)

// FileMeta describes one input file of the batch
type FileMeta struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// Snapshot is a copy of the tracker state
type Snapshot struct {
	Step             int        `json:"step"`
	Total            int        `json:"total"`
	CurrentFileIndex int        `json:"current_file_index"`
	SuccessCount     int        `json:"success_count"`
	FailCount        int        `json:"fail_count"`
	Desc             string     `json:"desc,omitempty"`
	Files            []FileMeta `json:"files"`
}

// Update is a progress event, nil fields keep the previous value
type Update struct {
	Step    *int
	Total   *int
	Desc    *string
	Success *int
	Failed  *int
}

// Tracker keeps progress of the current generation. Thread safe.
type Tracker struct {
	mu    sync.Mutex
	state Snapshot
}

var (
	// "Generated 12 samples (3 failed)", "已生成 12 条（3 失败）"
	reSuccess = regexp.MustCompile(`(?i)(?:generated|已生成)\s*(\d+)`)
	reFailed  = regexp.MustCompile(`(?i)[(（]\s*(\d+)\s*(?:failed|失败)`)
)

// NewTracker makes an empty tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// Reset clears the state and sets the file list of the new batch
func (t *Tracker) Reset(files []FileMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Snapshot{Files: append([]FileMeta(nil), files...)}
}

// Update applies a progress event
func (t *Tracker) Update(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.Step != nil {
		t.state.Step = *u.Step
	}
	if u.Total != nil {
		t.state.Total = *u.Total
	}
	if u.Desc != nil {
		t.state.Desc = *u.Desc
		success, failed := ParseCounts(*u.Desc)
		if success != nil {
			t.state.SuccessCount = *success
		}
		if failed != nil {
			t.state.FailCount = *failed
		}
	}
	// structured counts take precedence over the text
	if u.Success != nil {
		t.state.SuccessCount = *u.Success
	}
	if u.Failed != nil {
		t.state.FailCount = *u.Failed
	}
	t.state.CurrentFileIndex = FileIndex(t.state.Step, t.state.Total, t.state.Files)
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := t.state
	res.Files = append([]FileMeta(nil), t.state.Files...)
	return res
}

// FileIndex estimates which file is being processed. It returns the smallest i with
// step/total <= (s_0+..+s_i)/totalBytes, clamped to the last file when no such i exists.
func FileIndex(step, total int, files []FileMeta) int {
	if len(files) == 0 {
		return 0
	}
	last := len(files) - 1
	if total <= 0 {
		return last
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += f.SizeBytes
	}
	if totalBytes <= 0 {
		return last
	}

	ratio := float64(step) / float64(total)
	var cum int64
	for i, f := range files {
		cum += f.SizeBytes
		if ratio <= float64(cum)/float64(totalBytes) {
			return i
		}
	}
	return last
}

// ParseCounts extracts success and failure counts from a progress description.
// Nil result means the count is not present in the text.
func ParseCounts(desc string) (success, failed *int) {
	if m := reSuccess.FindStringSubmatch(desc); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			success = &v
		}
	}
	if m := reFailed.FindStringSubmatch(desc); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			failed = &v
		}
	}
	return success, failed
}
