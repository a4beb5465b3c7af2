/*
Package types defines the core domain types shared across the server.

The central type is Job: one queued algorithm execution, owned by a User,
moving through the status state machine

	WAITING -> RUNNING -> SUCCESS | FAILED | ABORTED

with WAITING -> ABORTED as the only shortcut. JobStatus values are small
integers because they are persisted; their order is part of the stored
format and must not change. Terminal() answers whether a status can still
move.

StatusRecord is the client-facing projection of a Job: the fields the
STATUS and RESULT messages serialize, with timestamps formatted and
internal ids omitted. Payload bodies never appear here; they travel in
containers, addressed by the request and response data ids on the Job.

OGDFRuntime is the handler's measured wall clock time in microseconds. A
value of zero means the job never ran; every recorded runtime is at least
one.
*/
package types
