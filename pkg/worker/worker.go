package worker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/graphworks/spanners/pkg/handlers"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

// Exit codes reported back to the scheduler
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitFailure = 2
)

// Args is the parsed worker invocation:
// <exec> <job_id> <user_id> <db_conn> <mem_limit_bytes>
type Args struct {
	JobID    int64
	UserID   int64
	DBConn   string
	MemLimit int64
}

// ParseArgs validates the argv contract. argv excludes the program name
// and must hold exactly four tokens with decimal integers.
func ParseArgs(argv []string) (*Args, error) {
	if len(argv) != 4 {
		return nil, fmt.Errorf("expected 4 arguments, got %d", len(argv))
	}
	jobID, err := strconv.ParseInt(argv[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q", argv[0])
	}
	userID, err := strconv.ParseInt(argv[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q", argv[1])
	}
	memLimit, err := strconv.ParseInt(argv[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid memory limit %q", argv[3])
	}
	return &Args{JobID: jobID, UserID: userID, DBConn: argv[2], MemLimit: memLimit}, nil
}

// applyMemoryLimit caps this process's address space. Exceeding the cap
// later shows up as the OS killing the process, which the scheduler reads
// from the exit status.
func applyMemoryLimit(limit int64) error {
	if limit <= 0 {
		return nil
	}
	rlim := &unix.Rlimit{Cur: uint64(limit), Max: uint64(limit)}
	if err := unix.Setrlimit(unix.RLIMIT_AS, rlim); err != nil {
		return fmt.Errorf("failed to set address-space limit: %w", err)
	}
	return nil
}

// Run executes exactly one job and returns the process exit code. All
// diagnostics go to stderr, which the scheduler captures into error_msg.
func Run(argv []string) int {
	args, err := ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
		return ExitUsage
	}
	if err := applyMemoryLimit(args.MemLimit); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitUsage
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, args.DBConn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}
	defer store.Close()

	if err := Execute(ctx, store, args.JobID, args.UserID); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return ExitFailure
	}
	return ExitOK
}

// Execute fetches the job's request, dispatches it to the named handler
// and stores the response. The terminal status is written by the
// scheduler, never here.
func Execute(ctx context.Context, store storage.Store, jobID, userID int64) error {
	meta, err := store.GetMetaData(ctx, jobID, userID)
	if err != nil {
		return fmt.Errorf("failed to load job meta: %w", err)
	}
	_, blob, err := store.GetRequestData(ctx, jobID, userID)
	if err != nil {
		return fmt.Errorf("failed to load request data: %w", err)
	}

	descriptor, ok := handlers.Get(meta.HandlerType)
	if !ok {
		return fmt.Errorf("unknown handler %q", meta.HandlerType)
	}

	req, err := handlers.DecodeRequest(blob)
	if err != nil {
		return err
	}

	started := time.Now()
	resp, err := descriptor.Invoke(req)
	elapsed := time.Since(started).Microseconds()
	if elapsed == 0 {
		elapsed = 1
	}
	if err != nil {
		return fmt.Errorf("handler %q failed: %w", meta.HandlerType, err)
	}

	encoded, err := resp.Encode()
	if err != nil {
		return err
	}
	if err := store.AddResponse(ctx, jobID, types.PayloadJobResponse, encoded, elapsed); err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}
	return nil
}
