/*
Package server implements the client-facing TCP listener.

One accepted connection carries exactly one request/response exchange.
The accept loop hands each connection to its own goroutine; a connection
level deadline of five minutes bounds the whole exchange, so a stalled
peer costs one goroutine for at most that long.

# Request flow

	accept
	  └─> read MetaData
	        ├─ CREATE_USER ──────────────> create account (no auth)
	        └─ everything else
	             └─> authenticate (name + password from meta)
	                   ├─ fail ──────────> ERROR UNAUTHORIZED
	                   └─ ok
	                        └─> route on message type
	                              ├─ bodyless: AUTH, AVAILABLE_HANDLERS,
	                              │            STATUS
	                              ├─ body:     RESULT, ABORT_JOB,
	                              │            DELETE_JOB, ORIGIN_GRAPH
	                              └─ default:  NEW_JOB

Authentication happens on every connection; there are no sessions. A
blocked user fails authentication for every message type including AUTH
itself.

# Error replies

Handlers reply with typed ERROR frames (see pkg/protocol). Store errors
map uniformly: ErrNotFound to NOT_FOUND, ErrInvalidTransition to
INVALID_REQUEST, anything else to DB_ERROR. A panic in a handler is
recovered, logged with the connection id, and answered with INTERNAL, so
one poisoned request cannot take the listener down.

Framing failures on the read path get no reply when the stream is broken
(ErrFraming) and a PARSE reply when the bytes arrived but did not decode.

# Ownership

Jobs are scoped to their owner. STATUS lists only the authenticated
user's jobs, and RESULT, ABORT_JOB, DELETE_JOB and ORIGIN_GRAPH resolve
the job id within the user's jobs, so probing another user's job ids
yields NOT_FOUND rather than a hint that the job exists.

# TLS

The listener is plaintext unless a tls.Config is supplied, in which case
the same accept loop runs behind tls.NewListener. Certificate loading
lives in pkg/security; the server takes the finished config.

# Usage

	srv := server.NewServer(store, sched, broker, tlsConfig)
	go srv.Start(":4711")
	...
	srv.Stop()

Stop closes the listener and waits for in-flight exchanges to finish.
The scheduler must be started before the server so abort requests always
reach a live instance.
*/
package server
