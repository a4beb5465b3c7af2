/*
Package mgmt is the local management plane: a unix datagram socket for
operators, separate from the client I/O port.

The transport is deliberately primitive. One datagram in, one JSON
request; one datagram out, one JSON reply. No framing, no streaming, no
authentication beyond filesystem permissions on the socket path. The
spannersctl binary is the intended client.

# Protocol

Request:

	{"type": "user"|"job"|"scheduler", "cmd": "...", "arg": ...}

Reply:

	{"status": "ok", "message": ...}
	{"status": "malformed-request-error", "error": "..."}
	{"status": "invalid-argument-error",  "error": "..."}
	{"status": "internal-error",          "error": "..."}

Malformed means the request itself was unintelligible: bad JSON, unknown
type or cmd. Invalid argument means the request was understood but the
argument does not resolve: unknown user, unknown job, negative limit.
Internal is a store or scheduler failure.

# Commands

	user  list | info ARG | delete ARG | block ARG | unblock ARG
	job   list | info ARG | stop ARG | delete ARG
	scheduler  time-limit [MS] | resource-limit [BYTES]
	           | process-limit [N] | sleep [MS]

User and job arguments accept a numeric id or a name; names are tried
after the decimal parse fails. Scheduler commands read the current value
when the argument is absent and set it first when present; the reply
always carries the value now in effect, e.g. {"time-limit": 500}.

Deleting a user is ordered to avoid orphans: waiting jobs are aborted
first, live workers killed second, and only then does the user row
cascade through jobs and payloads.

Job views returned here (JobInfo) include stored payload sizes but never
payload bodies; an operator sizing the database does not need megabytes
of graph data in a datagram.

# Usage

	srv := mgmt.NewServer(store, sched, broker)
	go srv.Start(mgmt.DefaultServerPath)
	...
	srv.Stop()

The server removes a stale socket file on start, so a crashed predecessor
does not block rebinding.
*/
package mgmt
