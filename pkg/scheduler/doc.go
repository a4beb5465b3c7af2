/*
Package scheduler dispatches queued jobs into worker processes and reaps
their results.

The scheduler is the only component that writes terminal job states. It
runs as a single polling loop: each cycle it reaps exited workers, kills
workers over their wall clock limit, and fills free process slots from the
head of the waiting queue. Workers are plain child processes; all job data
flows through the shared database, never through pipes.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Loop                          │
	│              (every scheduler-sleep, default 1s)           │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Reap exited workers                                    │
	│     • exit 0  -> SUCCESS (response row already written)    │
	│     • exit 11 -> FAILED  "Segfault"                        │
	│     • other   -> FAILED  with captured stderr              │
	│  2. Kill workers over the time limit -> ABORTED "Timeout"  │
	│  3. If stopping with force: kill everything,               │
	│     ABORTED "Global scheduler stop"                        │
	│  4. Dispatch: dequeue up to (process-limit - live) jobs,   │
	│     mark RUNNING, spawn one worker per job                 │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	       exec: <exec-path> <job-id> <user-id> <db-conn> <mem-limit>

Each spawned worker gets a companion goroutine that blocks in Wait and
closes a done channel; the loop itself never blocks on a child. Stdout and
stderr are captured into buffers and stored with the job on exit, so a
crash message survives in the job record.

# Limits

Three limits are adjustable at runtime through the management plane:

  - process-limit: maximum concurrent workers. Lowering it never kills
    running workers; the loop just stops dispatching until attrition
    brings the count under the new ceiling.
  - time-limit: per-job wall clock budget. Zero means unlimited. Checked
    every cycle, so enforcement granularity is the sleep interval.
  - resource-limit: address space cap in bytes, passed to the worker on
    its command line and applied there via setrlimit before the job runs.

# Cancellation

CancelJob handles both queue states. A live worker is killed and its job
finished as ABORTED "Aborted by Request"; a waiting job is moved straight
to ABORTED "Preemptive abort" without ever starting. CancelUserJobs kills
a user's live workers only, leaving record updates to the caller, which is
how user deletion avoids racing the cascade.

# Shutdown

Stop(false) lets live workers drain: no new dispatches, loop exits once
the last worker is reaped. Stop(true) kills every live worker first. Both
block until the loop goroutine has exited, so the caller can close the
store afterwards.

# Usage

	sched := scheduler.New(store, broker, scheduler.Config{
		ExecPath:     "/usr/libexec/spanners-worker",
		DBConnString: connString,
		ProcessLimit: 4,
		Sleep:        time.Second,
	})
	sched.Start()
	defer sched.Stop(true)

Start panics when called twice; there is exactly one scheduler per server
process.

# Failure handling

Database writes from the reap path are logged and dropped rather than
propagated: a job whose terminal write fails stays RUNNING in the record
and is cleaned up on the next restart. Killing an already-exited process
is not an error; the reap path tolerates both orders.

# See Also

  - pkg/worker - the process on the other side of the argv contract
  - pkg/storage - queue operations GetNextJobs, SetStarted, SetFinished
  - pkg/mgmt - runtime tuning of the three limits
*/
package scheduler
