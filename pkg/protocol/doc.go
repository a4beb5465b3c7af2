/*
Package protocol implements the wire format spoken between clients and the
job server.

Every message is one frame:

	┌──────────────┬──────────────────┬──────────────────────────┐
	│ 8 bytes      │ MetaData         │ container                │
	│ big endian   │ JSON, exactly    │ gzip-compressed JSON,    │
	│ meta length  │ that many bytes  │ meta.containersize bytes │
	└──────────────┴──────────────────┴──────────────────────────┘

MetaData carries the message type, the compressed container size, and for
job submissions the handler type and job name. The container carries the
actual payload: credentials ride in the meta's user field, graphs and
results ride in the container.

# Message types

Requests:

	AUTH                 credentials check, empty container
	CREATE_USER          the only unauthenticated type
	AVAILABLE_HANDLERS   list registered algorithm handlers
	STATUS               all jobs of the authenticated user
	RESULT               fetch one finished job's response payload
	ABORT_JOB            cancel a waiting or running job
	DELETE_JOB           remove a job and its payloads
	ORIGIN_GRAPH         fetch the request payload back
	NEW_JOB              submit a job

Replies:

	NEW_JOB_RESPONSE     the assigned job id
	ERROR                typed error, see messages.go

An unrecognized request type is treated as NEW_JOB. Old clients predate
the type field on submissions, and a job request is the only message
whose handling is safe to attempt blindly.

# Limits

Meta is capped at 1 MiB and containers at 256 MiB, checked before any
allocation. A length prefix over the cap fails the frame as FRAMING
before a single payload byte is read, which keeps a hostile peer from
ballooning server memory with one header.

# Reading and writing

ReadMeta and ReadContainer split the receive path so the server can react
to the meta (authenticate, route) before deciding whether to consume the
body. WriteFrame is the single send path: it compresses the container,
fills in ContainerSize, and writes the three parts in order.

	meta, err := protocol.ReadMeta(conn)
	...
	payload, err := protocol.ReadContainer(conn, meta)

Error classification matters to callers: ErrFraming means the connection
is broken mid-frame and must be dropped, ErrParse means the bytes arrived
but did not decode, which deserves an error reply on the still-usable
connection.

# Containers

EncodeContainer and DecodeContainer handle the JSON layer for typed
container structs (ResponseContainer, StatusResponse, ResultResponse and
friends in messages.go). Compression is gzip; a container is compressed
exactly once, on send.
*/
package protocol
