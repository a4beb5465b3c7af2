package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusStrings(t *testing.T) {
	assert.Equal(t, "waiting", StatusWaiting.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "aborted", StatusAborted.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "unknown", JobStatus(42).String())
}

func TestTerminalStates(t *testing.T) {
	assert.False(t, StatusWaiting.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusAborted.Terminal())
	assert.False(t, StatusUnknown.Terminal())
}

func TestStatusRecordFor(t *testing.T) {
	started := time.Now().UTC()
	job := &Job{
		ID:           7,
		UserID:       3,
		HandlerType:  "dijkstra",
		JobName:      "my job",
		Status:       StatusRunning,
		TimeReceived: started.Add(-time.Second),
		StartingTime: &started,
		OGDFRuntime:  1234,
	}

	record := StatusRecordFor(job)
	assert.Equal(t, int64(7), record.JobID)
	assert.Equal(t, "my job", record.JobName)
	assert.Equal(t, "dijkstra", record.HandlerType)
	assert.Equal(t, "running", record.Status)
	assert.Equal(t, &started, record.StartingTime)
	assert.Nil(t, record.EndTime)
	assert.Equal(t, int64(1234), record.OGDFRuntime)
}

func TestRoleStrings(t *testing.T) {
	assert.Equal(t, "user", RoleUser.String())
	assert.Equal(t, "admin", RoleAdmin.String())
}
