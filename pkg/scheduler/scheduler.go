package scheduler

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/graphworks/spanners/pkg/events"
	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/metrics"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

// Exit codes the scheduler interprets when reaping a worker
const (
	exitSuccess  = 0
	exitSegfault = 11
)

// Abort reasons written to the job row
const (
	reasonTimeout    = "Timeout"
	reasonRequest    = "Aborted by Request"
	reasonPreemptive = "Preemptive abort"
	reasonGlobalStop = "Global scheduler stop"
)

const dbTimeout = 10 * time.Second

// Config holds the initial scheduler limits
type Config struct {
	ExecPath      string
	DBConnString  string
	ProcessLimit  int
	TimeLimit     time.Duration // 0 = disabled
	ResourceLimit int64         // bytes, 0 = disabled
	Sleep         time.Duration
}

// workerProc tracks one live worker child. Stdout/stderr buffers are only
// read after the wait goroutine has closed done.
type workerProc struct {
	jobID     int64
	userID    int64
	cmd       *exec.Cmd
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	startedAt time.Time
	done      chan struct{}
}

func (w *workerProc) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Scheduler supervises worker processes for queued jobs. It is a process
// singleton owned by main: exactly one background loop reaps finished
// children, enforces the wall-clock limit and dispatches waiting jobs up
// to the process limit.
type Scheduler struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	mu            sync.Mutex
	execPath      string
	dbConnString  string
	processLimit  int
	timeLimit     time.Duration
	resourceLimit int64
	sleep         time.Duration
	live          map[int64]*workerProc
	stopFlag      bool
	stopForceFlag bool
	started       bool

	doneCh chan struct{}
}

// New creates a scheduler. The broker may be nil.
func New(store storage.Store, broker *events.Broker, cfg Config) *Scheduler {
	if cfg.ProcessLimit <= 0 {
		cfg.ProcessLimit = 4
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = time.Second
	}
	return &Scheduler{
		store:         store,
		broker:        broker,
		logger:        log.WithComponent("scheduler"),
		execPath:      cfg.ExecPath,
		dbConnString:  cfg.DBConnString,
		processLimit:  cfg.ProcessLimit,
		timeLimit:     cfg.TimeLimit,
		resourceLimit: cfg.ResourceLimit,
		sleep:         cfg.Sleep,
		live:          make(map[int64]*workerProc),
		doneCh:        make(chan struct{}),
	}
}

// Start spawns the background loop. Calling it twice is a programming
// error and panics.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("scheduler: Start called twice")
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	s.logger.Info().Msg("Scheduler started")
}

// Stop asks the loop to exit and blocks until it has. With force=false no
// new jobs are dispatched but live workers drain; with force=true live
// workers are terminated and marked aborted within one tick.
func (s *Scheduler) Stop(force bool) {
	s.mu.Lock()
	s.stopFlag = true
	if force {
		s.stopForceFlag = true
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.doneCh
	}
}

// run is the background loop: reap, dispatch, sleep. It exits once stop is
// requested and no live workers remain.
func (s *Scheduler) run() {
	defer close(s.doneCh)

	for {
		s.mu.Lock()
		s.reapLocked()
		if s.stopForceFlag {
			s.killAllLocked()
		}
		if !s.stopFlag {
			s.dispatchLocked()
		}
		exit := s.stopFlag && len(s.live) == 0
		metrics.WorkersLive.Set(float64(len(s.live)))
		sleep := s.sleep
		s.mu.Unlock()

		if exit {
			s.logger.Info().Msg("Scheduler loop exiting")
			return
		}
		time.Sleep(sleep)
	}
}

// reapLocked drains finished children and enforces the wall-clock limit
func (s *Scheduler) reapLocked() {
	now := time.Now()
	for jobID, w := range s.live {
		if w.exited() {
			s.finishExitedLocked(w)
			delete(s.live, jobID)
			continue
		}
		if s.timeLimit > 0 && now.Sub(w.startedAt) > s.timeLimit {
			s.killLocked(w)
			s.writeFinished(w.jobID, types.StatusAborted, "", reasonTimeout)
			s.publish(events.EventJobTimeout, w.jobID, w.userID, reasonTimeout)
			metrics.WorkersReaped.WithLabelValues("timeout").Inc()
			delete(s.live, jobID)
		}
	}
}

// finishExitedLocked classifies a finished child by exit code and writes
// its terminal status.
func (s *Scheduler) finishExitedLocked(w *workerProc) {
	stdout := w.stdout.String()
	stderr := w.stderr.String()
	code := -1
	if w.cmd.ProcessState != nil {
		code = w.cmd.ProcessState.ExitCode()
	}

	switch code {
	case exitSuccess:
		s.writeFinished(w.jobID, types.StatusSuccess, stdout, stderr)
		s.publish(events.EventJobSucceeded, w.jobID, w.userID, "")
		metrics.WorkersReaped.WithLabelValues("success").Inc()
	case exitSegfault:
		s.writeFinished(w.jobID, types.StatusFailed, stdout, "Segfault")
		s.publish(events.EventJobFailed, w.jobID, w.userID, "Segfault")
		metrics.WorkersReaped.WithLabelValues("failed").Inc()
	default:
		s.writeFinished(w.jobID, types.StatusFailed, stdout, stderr)
		s.publish(events.EventJobFailed, w.jobID, w.userID, stderr)
		metrics.WorkersReaped.WithLabelValues("failed").Inc()
	}

	s.logger.Debug().Int64("job_id", w.jobID).Int("exit_code", code).Msg("Reaped worker")
}

// killAllLocked terminates every live worker during a forced stop
func (s *Scheduler) killAllLocked() {
	for jobID, w := range s.live {
		s.killLocked(w)
		s.writeFinished(w.jobID, types.StatusAborted, "", reasonGlobalStop)
		s.publish(events.EventJobAborted, w.jobID, w.userID, reasonGlobalStop)
		metrics.WorkersReaped.WithLabelValues("aborted").Inc()
		delete(s.live, jobID)
	}
}

// dispatchLocked pulls waiting jobs and spawns a worker per job
func (s *Scheduler) dispatchLocked() {
	free := s.processLimit - len(s.live)
	if free <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	entries, err := s.store.GetNextJobs(ctx, free)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch waiting jobs")
		return
	}

	for _, entry := range entries {
		if err := s.store.SetStarted(ctx, entry.JobID); err != nil {
			// Cancelled or deleted between fetch and dispatch; skip
			s.logger.Warn().Err(err).Int64("job_id", entry.JobID).Msg("Skipping job")
			continue
		}
		if err := s.spawnLocked(entry); err != nil {
			s.logger.Error().Err(err).Int64("job_id", entry.JobID).Msg("Failed to spawn worker")
			s.writeFinished(entry.JobID, types.StatusFailed, "", err.Error())
			continue
		}
		s.publish(events.EventJobStarted, entry.JobID, entry.UserID, "")
	}
}

// spawnLocked starts the worker child for one job. Stdin stays closed;
// stdout and stderr are captured and read back only after the child exits.
func (s *Scheduler) spawnLocked(entry storage.QueueEntry) error {
	w := &workerProc{
		jobID:     entry.JobID,
		userID:    entry.UserID,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	w.cmd = exec.Command(s.execPath,
		strconv.FormatInt(entry.JobID, 10),
		strconv.FormatInt(entry.UserID, 10),
		s.dbConnString,
		strconv.FormatInt(s.resourceLimit, 10),
	)
	w.cmd.Stdout = &w.stdout
	w.cmd.Stderr = &w.stderr

	if err := w.cmd.Start(); err != nil {
		return err
	}

	go func() {
		_ = w.cmd.Wait()
		close(w.done)
	}()

	s.live[entry.JobID] = w
	metrics.WorkersSpawned.Inc()
	s.logger.Info().Int64("job_id", entry.JobID).Int64("user_id", entry.UserID).
		Int("pid", w.cmd.Process.Pid).Msg("Spawned worker")
	return nil
}

// killLocked terminates a child and waits for the OS to reap it
func (s *Scheduler) killLocked(w *workerProc) {
	if w.exited() {
		return
	}
	if err := w.cmd.Process.Kill(); err != nil {
		s.logger.Warn().Err(err).Int64("job_id", w.jobID).Msg("Failed to kill worker")
	}
	<-w.done
}

// CancelJob aborts one job. A live worker is terminated and marked
// "Aborted by Request"; a job with no live worker is marked with a
// preemptive abort so the loop never dispatches it.
func (s *Scheduler) CancelJob(jobID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.live[jobID]; ok && w.userID == userID {
		if !w.exited() {
			s.killLocked(w)
			s.writeFinished(jobID, types.StatusAborted, "", reasonRequest)
			s.publish(events.EventJobAborted, jobID, userID, reasonRequest)
			metrics.WorkersReaped.WithLabelValues("aborted").Inc()
			delete(s.live, jobID)
			return nil
		}
		// Already exited; the next reap pass classifies it normally
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := s.store.SetFinished(ctx, jobID, types.StatusAborted, "", reasonPreemptive); err != nil {
		return err
	}
	s.publish(events.EventJobAborted, jobID, userID, reasonPreemptive)
	return nil
}

// CancelUserJobs terminates every live worker of one user. Database rows
// are left alone; the user-deletion cascade has already updated them.
func (s *Scheduler) CancelUserJobs(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for jobID, w := range s.live {
		if w.userID != userID {
			continue
		}
		s.killLocked(w)
		delete(s.live, jobID)
		s.logger.Info().Int64("job_id", jobID).Int64("user_id", userID).Msg("Cancelled worker for deleted user")
	}
}

// writeFinished records a terminal state, logging rather than propagating
// failures: the loop must never die on a database hiccup.
func (s *Scheduler) writeFinished(jobID int64, status types.JobStatus, stdout, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := s.store.SetFinished(ctx, jobID, status, stdout, errMsg); err != nil {
		s.logger.Error().Err(err).Int64("job_id", jobID).Msg("Failed to write terminal status")
	}
}

func (s *Scheduler) publish(eventType events.EventType, jobID, userID int64, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, JobID: jobID, UserID: userID, Message: msg})
}

// Setters and getters. Changes take effect on the next loop iteration;
// resource and process limits never apply retroactively to live children.

func (s *Scheduler) SetTimeLimit(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeLimit = d
}

func (s *Scheduler) TimeLimit() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLimit
}

func (s *Scheduler) SetResourceLimit(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceLimit = bytes
}

func (s *Scheduler) ResourceLimit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resourceLimit
}

func (s *Scheduler) SetProcessLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processLimit = n
}

func (s *Scheduler) ProcessLimit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processLimit
}

func (s *Scheduler) SetSleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleep = d
}

func (s *Scheduler) Sleep() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleep
}

// LiveCount reports the current number of live workers
func (s *Scheduler) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
