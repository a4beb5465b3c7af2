package storage

import (
	"context"
	"errors"

	"github.com/graphworks/spanners/pkg/types"
)

var (
	// ErrNotFound is returned when a row does not exist or is not
	// visible to the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("already exists")

	// ErrInvalidTransition is returned when a status write would move a
	// job backwards along the lifecycle DAG.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// QueueEntry identifies a dispatchable job. The scheduler holds these as
// weak references to live workers; the job row stays the source of truth.
type QueueEntry struct {
	JobID  int64
	UserID int64
}

// Store is the single choke-point over the relational state. Every method
// is one transaction: it commits or returns an error.
//
// Status transitions are monotone along
// WAITING -> {RUNNING -> {SUCCESS, FAILED, ABORTED}, ABORTED}; writes that
// would violate this fail with ErrInvalidTransition.
type Store interface {
	// Jobs
	AddJob(ctx context.Context, userID int64, handlerType, jobName string, requestType types.PayloadType, blob []byte) (int64, error)
	SetStarted(ctx context.Context, jobID int64) error
	SetFinished(ctx context.Context, jobID int64, status types.JobStatus, stdout, errMsg string) error
	AddResponse(ctx context.Context, jobID int64, responseType types.PayloadType, blob []byte, runtimeMicros int64) error
	GetNextJobs(ctx context.Context, n int) ([]QueueEntry, error)
	GetRequestData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error)
	GetResponseData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error)
	GetMetaData(ctx context.Context, jobID, userID int64) (*types.JobMeta, error)
	GetStatusData(ctx context.Context, jobID, userID int64) (*types.StatusRecord, error)
	GetJobEntries(ctx context.Context, userID int64) ([]*types.Job, error)
	GetAllJobEntries(ctx context.Context) ([]*types.Job, error)
	ResolveJobEntry(ctx context.Context, nameOrID string) (*types.Job, error)
	GetDataSizes(ctx context.Context, jobID int64) (*types.DataSizes, error)
	DeleteJob(ctx context.Context, jobID int64) error
	AbortWaitingJobs(ctx context.Context, userID int64, reason string) error

	// Users
	CreateUser(ctx context.Context, user *types.User) (int64, error)
	GetUserByName(ctx context.Context, name string) (*types.User, error)
	GetUserByID(ctx context.Context, id int64) (*types.User, error)
	ResolveUser(ctx context.Context, nameOrID string) (*types.User, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
	SetUserBlocked(ctx context.Context, userID int64, blocked bool) error
	ChangeUserRole(ctx context.Context, userID int64, role types.Role) error
	ChangeUserAuth(ctx context.Context, userID int64, hash, salt []byte) error
	DeleteUser(ctx context.Context, userID int64) error

	// Utility
	Close() error
}
