/*
Package storage persists users, jobs and job payloads behind a single
Store interface.

Two implementations share the contract: PostgresStore, the production
backend over a pgx connection pool, and MemStore, an in-process map store
for development and tests. Both enforce the job status state machine, so
callers never need to re-check transitions.

# Schema

Three tables, enums as small integers, timestamps in UTC:

	users  (id, name UNIQUE, pw_hash, salt, role, blocked)
	jobs   (id, user_id -> users, handler_type, job_name, status,
	        request_type, request_id -> data, response_id -> data,
	        time_received, starting_time, end_time, ogdf_runtime,
	        stdout_msg, error_msg)
	data   (id, user_id -> users, payload)

Foreign keys cascade on delete: removing a user removes their jobs and
payloads in one statement, removing a job removes its payload rows.
Payloads are stored as opaque byte blobs; the store never inspects them.

# Status state machine

	WAITING ──> RUNNING ──> SUCCESS
	   │           ├──────> FAILED
	   │           └──────> ABORTED
	   └──────────────────> ABORTED

Every status write goes through a conditional update that names the legal
predecessor states. A write that matches no row is classified: if the job
exists the caller gets ErrInvalidTransition, otherwise ErrNotFound. The
postgres implementation does this inside the UPDATE itself, so concurrent
writers cannot race a job into two terminal states.

# Queue semantics

GetNextJobs returns up to n WAITING jobs ordered by time received, oldest
first, with the job id as tiebreaker. It does not mark them; the scheduler
calls SetStarted for each dispatched job, and a job whose SetStarted fails
is simply picked up again next cycle.

# Errors

The package exports three sentinel errors and every method maps its
backend failures onto them where applicable:

  - ErrNotFound: no row for the given id or name
  - ErrDuplicate: unique violation, in practice a taken user name
  - ErrInvalidTransition: status write refused by the state machine

Anything else comes back wrapped with operation context.

# Usage

	store, err := storage.Open(ctx, connString)
	if err != nil {
		return err
	}
	defer store.Close()

Open creates the schema idempotently, so first run and restart are the
same code path. MemStore needs no setup:

	store := storage.NewMemStore()

MemStore clones on read; mutating a returned job never touches stored
state. Tests rely on that.

# See Also

  - pkg/scheduler - the only writer of terminal statuses
  - pkg/worker - writes responses through AddResponse from a separate
    OS process, which is why the production store must be out-of-process
*/
package storage
