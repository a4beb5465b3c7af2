/*
Package worker is the job execution side of the scheduler's process
contract.

A worker is a short-lived child process: it receives everything it needs
on the command line, reads the job payload from the shared database, runs
the algorithm handler, writes the response row, and exits. Terminal job
status is never written here; the scheduler derives it from the exit
code.

# Process contract

	spanners-worker <job-id> <user-id> <db-conn-string> <mem-limit-bytes>

Exit codes:

	0  success, response row written
	1  usage error (bad argv, rlimit failure)
	2  execution failure, diagnostics on stderr

A memory limit above zero is applied with setrlimit(RLIMIT_AS) before
the store is opened, so allocation in the algorithm itself is what trips
the limit. A worker killed by the kernel for exceeding it surfaces to the
scheduler as an abnormal exit and the job fails with the captured stderr.

# Execution

Execute is the testable core: fetch the job's meta and request payload,
look up the handler by type, decode the graph, invoke, encode, store the
response. The handler's wall clock time is measured around the invoke
call only and recorded in microseconds, with a floor of one so a recorded
runtime of zero always means "never ran".

The stderr diagnostics deliberately skip the connection string, which
carries the database password.
*/
package worker
