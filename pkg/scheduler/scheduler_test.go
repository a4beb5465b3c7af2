package scheduler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	os.Exit(m.Run())
}

// writeScript drops an executable shell script standing in for the worker
// binary. The scheduler only looks at the exit code and stderr.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newQueuedJob(t *testing.T, s *storage.MemStore) (userID, jobID int64) {
	t.Helper()
	ctx := context.Background()
	userID, err := s.CreateUser(ctx, &types.User{Name: "alice", PWHash: []byte("h"), Salt: []byte("s")})
	if err != nil {
		// Reuse the account across multiple jobs in one test
		user, getErr := s.GetUserByName(ctx, "alice")
		require.NoError(t, getErr)
		userID = user.ID
	}
	jobID, err = s.AddJob(ctx, userID, "bfs", "test job", types.PayloadJobRequest, nil)
	require.NoError(t, err)
	return userID, jobID
}

func statusOf(t *testing.T, s *storage.MemStore, jobID, userID int64) *types.StatusRecord {
	t.Helper()
	record, err := s.GetStatusData(context.Background(), jobID, userID)
	require.NoError(t, err)
	return record
}

func waitForStatus(t *testing.T, s *storage.MemStore, jobID, userID int64, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return statusOf(t, s, jobID, userID).Status == want
	}, 5*time.Second, 10*time.Millisecond, "job never reached %s", want)
}

func TestRunsJobToSuccess(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath: writeScript(t, "exit 0"),
		Sleep:    10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop(true)

	waitForStatus(t, store, jobID, userID, "success")
	record := statusOf(t, store, jobID, userID)
	assert.NotNil(t, record.StartingTime)
	assert.NotNil(t, record.EndTime)
}

func TestClassifiesFailureExitCodes(t *testing.T) {
	t.Run("generic failure keeps stderr", func(t *testing.T) {
		store := storage.NewMemStore()
		userID, jobID := newQueuedJob(t, store)

		sched := New(store, nil, Config{
			ExecPath: writeScript(t, `echo "boom" >&2; exit 3`),
			Sleep:    10 * time.Millisecond,
		})
		sched.Start()
		defer sched.Stop(true)

		waitForStatus(t, store, jobID, userID, "failed")
		assert.Contains(t, statusOf(t, store, jobID, userID).ErrorMsg, "boom")
	})

	t.Run("segfault code", func(t *testing.T) {
		store := storage.NewMemStore()
		userID, jobID := newQueuedJob(t, store)

		sched := New(store, nil, Config{
			ExecPath: writeScript(t, "exit 11"),
			Sleep:    10 * time.Millisecond,
		})
		sched.Start()
		defer sched.Stop(true)

		waitForStatus(t, store, jobID, userID, "failed")
		assert.Equal(t, "Segfault", statusOf(t, store, jobID, userID).ErrorMsg)
	})
}

func TestTimeLimitAbortsJob(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath:  writeScript(t, "sleep 30"),
		TimeLimit: 50 * time.Millisecond,
		Sleep:     10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop(true)

	waitForStatus(t, store, jobID, userID, "aborted")
	assert.Equal(t, "Timeout", statusOf(t, store, jobID, userID).ErrorMsg)
}

func TestCancelRunningJob(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath: writeScript(t, "sleep 30"),
		Sleep:    10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop(true)

	waitForStatus(t, store, jobID, userID, "running")
	require.NoError(t, sched.CancelJob(jobID, userID))

	record := statusOf(t, store, jobID, userID)
	assert.Equal(t, "aborted", record.Status)
	assert.Equal(t, "Aborted by Request", record.ErrorMsg)
	assert.Zero(t, sched.LiveCount())
}

func TestCancelWaitingJob(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	// Never started: cancellation goes straight to the store
	sched := New(store, nil, Config{ExecPath: "/bin/false"})
	require.NoError(t, sched.CancelJob(jobID, userID))

	record := statusOf(t, store, jobID, userID)
	assert.Equal(t, "aborted", record.Status)
	assert.Equal(t, "Preemptive abort", record.ErrorMsg)
}

func TestProcessLimitCapsDispatch(t *testing.T) {
	store := storage.NewMemStore()
	userID, first := newQueuedJob(t, store)
	_, second := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath:     writeScript(t, "sleep 30"),
		ProcessLimit: 1,
		Sleep:        10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop(true)

	waitForStatus(t, store, first, userID, "running")

	// Give the loop a few more ticks; the second job must stay queued
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sched.LiveCount())
	assert.Equal(t, "waiting", statusOf(t, store, second, userID).Status)
}

func TestForceStopAbortsLiveWorkers(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath: writeScript(t, "sleep 30"),
		Sleep:    10 * time.Millisecond,
	})
	sched.Start()

	waitForStatus(t, store, jobID, userID, "running")
	sched.Stop(true)

	record := statusOf(t, store, jobID, userID)
	assert.Equal(t, "aborted", record.Status)
	assert.Equal(t, "Global scheduler stop", record.ErrorMsg)
	assert.Zero(t, sched.LiveCount())
}

func TestGracefulStopDrainsWorkers(t *testing.T) {
	store := storage.NewMemStore()
	userID, jobID := newQueuedJob(t, store)

	sched := New(store, nil, Config{
		ExecPath: writeScript(t, "sleep 0.1"),
		Sleep:    10 * time.Millisecond,
	})
	sched.Start()

	waitForStatus(t, store, jobID, userID, "running")
	sched.Stop(false)

	// Stop returned only after the worker finished on its own
	assert.Equal(t, "success", statusOf(t, store, jobID, userID).Status)
}

func TestCancelUserJobsKillsOnlyThatUser(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	alice, err := store.CreateUser(ctx, &types.User{Name: "alice", PWHash: []byte("h"), Salt: []byte("s")})
	require.NoError(t, err)
	bob, err := store.CreateUser(ctx, &types.User{Name: "bob", PWHash: []byte("h"), Salt: []byte("s")})
	require.NoError(t, err)

	aliceJob, err := store.AddJob(ctx, alice, "bfs", "a", types.PayloadJobRequest, nil)
	require.NoError(t, err)
	bobJob, err := store.AddJob(ctx, bob, "bfs", "b", types.PayloadJobRequest, nil)
	require.NoError(t, err)

	sched := New(store, nil, Config{
		ExecPath: writeScript(t, "sleep 30"),
		Sleep:    10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop(true)

	waitForStatus(t, store, aliceJob, alice, "running")
	waitForStatus(t, store, bobJob, bob, "running")

	sched.CancelUserJobs(alice)

	// Alice's worker is gone; her row stays running for the deletion
	// cascade to clean up. Bob's worker lives on.
	assert.Equal(t, 1, sched.LiveCount())
	assert.Equal(t, "running", statusOf(t, store, bobJob, bob).Status)
}

func TestSchedulerSetters(t *testing.T) {
	sched := New(storage.NewMemStore(), nil, Config{ExecPath: "/bin/false"})

	sched.SetTimeLimit(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, sched.TimeLimit())

	sched.SetResourceLimit(1 << 20)
	assert.Equal(t, int64(1<<20), sched.ResourceLimit())

	sched.SetProcessLimit(8)
	assert.Equal(t, 8, sched.ProcessLimit())

	sched.SetSleep(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, sched.Sleep())
}
