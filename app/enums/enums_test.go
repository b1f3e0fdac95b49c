package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanMoveTo(t *testing.T) {
	tbl := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusRunning, JobStatusCompleted, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusQueued, JobStatusCompleted, false},
		{JobStatusQueued, JobStatusFailed, false},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusCompleted, JobStatusRunning, false},
		{JobStatusFailed, JobStatusCompleted, false},
		{JobStatus("bad"), JobStatusRunning, false},
	}
	for _, tt := range tbl {
		assert.Equal(t, tt.ok, tt.from.CanMoveTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestParse(t *testing.T) {
	k, err := ParseKind("training")
	require.NoError(t, err)
	assert.Equal(t, KindTraining, k)
	_, err = ParseKind("exporting")
	assert.Error(t, err)

	s, err := ParseJobStatus("failed")
	require.NoError(t, err)
	assert.True(t, s.Terminal())
	_, err = ParseJobStatus("done")
	assert.Error(t, err)
}

func TestParseRunStatus(t *testing.T) {
	for _, v := range []string{"running", "completed", "failed", "stopped"} {
		s, err := ParseRunStatus(v)
		require.NoError(t, err)
		assert.Equal(t, v, s.String())
	}
	_, err := ParseRunStatus("queued")
	assert.Error(t, err)
}
