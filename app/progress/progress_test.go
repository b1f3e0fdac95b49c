package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func files(sizes ...int64) []FileMeta {
	res := make([]FileMeta, 0, len(sizes))
	for i, s := range sizes {
		res = append(res, FileMeta{Name: string(rune('a' + i)), SizeBytes: s})
	}
	return res
}

func TestFileIndex(t *testing.T) {
	tbl := []struct {
		name        string
		step, total int
		files       []FileMeta
		res         int
	}{
		{"half of 30/70", 50, 100, files(30, 70), 1},
		{"inside first", 20, 100, files(30, 70), 0},
		{"exact boundary", 30, 100, files(30, 70), 0},
		{"start", 0, 100, files(30, 70), 0},
		{"end", 100, 100, files(30, 70), 1},
		{"zero total", 5, 0, files(30, 70), 1},
		{"single file", 1, 10, files(100), 0},
		{"no files", 1, 10, nil, 0},
		{"zero bytes", 1, 10, files(0, 0, 0), 2},
		{"overshoot", 15, 10, files(10, 10), 1},
		{"three files", 55, 100, files(25, 25, 50), 2},
		{"zero sized first", 0, 10, files(0, 10), 0},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.res, FileIndex(tt.step, tt.total, tt.files))
		})
	}
}

func TestFileIndex_Monotonic(t *testing.T) {
	fs := files(13, 1, 400, 7, 90, 0, 55)
	prev := 0
	for step := 0; step <= 1000; step++ {
		idx := FileIndex(step, 1000, fs)
		require.GreaterOrEqual(t, idx, prev, "step %d", step)
		prev = idx
	}
	assert.Equal(t, len(fs)-1, prev)
}

func TestParseCounts(t *testing.T) {
	tbl := []struct {
		desc            string
		success, failed *int
	}{
		{"Generated 12 samples (3 failed)", intp(12), intp(3)},
		{"Generated 7 samples", intp(7), nil},
		{"generated 5 items (0 failed)", intp(5), intp(0)},
		{"已生成 8 条（2 失败）", intp(8), intp(2)},
		{"已生成 8 条（2 失败，1 相似度过高）", intp(8), intp(2)},
		{"Loading model...", nil, nil},
		{"", nil, nil},
	}
	for _, tt := range tbl {
		t.Run(tt.desc, func(t *testing.T) {
			s, f := ParseCounts(tt.desc)
			assert.Equal(t, tt.success, s)
			assert.Equal(t, tt.failed, f)
		})
	}
}

func TestTracker_Update(t *testing.T) {
	tr := NewTracker()
	tr.Reset(files(30, 70))

	tr.Update(Update{Step: intp(0), Total: intp(100), Desc: strp("Loading model...")})
	s := tr.Snapshot()
	assert.Equal(t, 0, s.CurrentFileIndex)
	assert.Equal(t, 0, s.SuccessCount)

	tr.Update(Update{Step: intp(50), Total: intp(100), Desc: strp("Generated 40 samples (10 failed)")})
	s = tr.Snapshot()
	assert.Equal(t, 50, s.Step)
	assert.Equal(t, 100, s.Total)
	assert.Equal(t, 1, s.CurrentFileIndex)
	assert.Equal(t, 40, s.SuccessCount)
	assert.Equal(t, 10, s.FailCount)

	// non-matching description keeps counts
	tr.Update(Update{Step: intp(60), Desc: strp("still working")})
	s = tr.Snapshot()
	assert.Equal(t, 60, s.Step)
	assert.Equal(t, 100, s.Total, "missing total keeps previous value")
	assert.Equal(t, 40, s.SuccessCount)
	assert.Equal(t, 10, s.FailCount)
	assert.Equal(t, "still working", s.Desc)

	// structured counts win over text
	tr.Update(Update{Desc: strp("Generated 41 samples (10 failed)"), Success: intp(45), Failed: intp(11)})
	s = tr.Snapshot()
	assert.Equal(t, 45, s.SuccessCount)
	assert.Equal(t, 11, s.FailCount)

	// empty update changes nothing
	tr.Update(Update{})
	assert.Equal(t, s, tr.Snapshot())

	tr.Reset(files(1))
	s = tr.Snapshot()
	assert.Equal(t, Snapshot{Files: files(1)}, s)
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	fs := files(1, 2)
	tr.Reset(fs)
	fs[0].Name = "changed"
	s := tr.Snapshot()
	s.Files[1].Name = "changed too"
	assert.Equal(t, "a", tr.Snapshot().Files[0].Name)
	assert.Equal(t, "b", tr.Snapshot().Files[1].Name)
}
