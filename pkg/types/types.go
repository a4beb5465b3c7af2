package types

import (
	"time"
)

// Role defines the privilege level of a user account
type Role int

const (
	RoleUser  Role = 0
	RoleAdmin Role = 1
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// User represents an authenticated account. Password material never leaves
// the persistence layer except for verification.
type User struct {
	ID      int64
	Name    string
	PWHash  []byte
	Salt    []byte
	Role    Role
	Blocked bool
}

// JobStatus represents the lifecycle state of a job
type JobStatus int

const (
	StatusWaiting JobStatus = 0
	StatusRunning JobStatus = 1
	StatusSuccess JobStatus = 2
	StatusFailed  JobStatus = 3
	StatusAborted JobStatus = 4
	StatusUnknown JobStatus = 5
)

func (s JobStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is a terminal state
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusAborted
}

// PayloadType tags the shape of a data blob. Stored as a small integer so
// the schema never couples to payload naming.
type PayloadType int

const (
	PayloadJobRequest  PayloadType = 0
	PayloadJobResponse PayloadType = 1
	PayloadOriginGraph PayloadType = 2
)

// Job represents a user's request for one algorithm run against one input
// graph. The database row is the source of truth; Job values are
// short-lived views of it.
type Job struct {
	ID           int64
	UserID       int64
	HandlerType  string
	JobName      string
	Status       JobStatus
	RequestType  PayloadType
	RequestID    *int64
	ResponseID   *int64
	TimeReceived time.Time
	StartingTime *time.Time
	EndTime      *time.Time
	// OGDFRuntime is the wall-clock time spent inside the algorithm
	// handler, in microseconds.
	OGDFRuntime int64
	StdoutMsg   string
	ErrorMsg    string
}

// JobMeta is the subset of a job row the worker needs to dispatch
type JobMeta struct {
	JobID       int64
	UserID      int64
	HandlerType string
	JobName     string
	RequestType PayloadType
}

// StatusRecord is the client-visible view of a job's progress
type StatusRecord struct {
	JobID        int64      `json:"jobid"`
	JobName      string     `json:"jobname"`
	HandlerType  string     `json:"handlertype"`
	Status       string     `json:"status"`
	TimeReceived time.Time  `json:"time_received"`
	StartingTime *time.Time `json:"starting_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	OGDFRuntime  int64      `json:"ogdf_runtime"`
	ErrorMsg     string     `json:"error_msg,omitempty"`
}

// StatusRecordFor builds the client-visible view of a job
func StatusRecordFor(job *Job) *StatusRecord {
	return &StatusRecord{
		JobID:        job.ID,
		JobName:      job.JobName,
		HandlerType:  job.HandlerType,
		Status:       job.Status.String(),
		TimeReceived: job.TimeReceived,
		StartingTime: job.StartingTime,
		EndTime:      job.EndTime,
		OGDFRuntime:  job.OGDFRuntime,
		ErrorMsg:     job.ErrorMsg,
	}
}

// DataSizes reports the stored payload sizes of a job, used by the
// management plane's job listings.
type DataSizes struct {
	RequestBytes  int64 `json:"request_bytes"`
	ResponseBytes int64 `json:"response_bytes"`
}
