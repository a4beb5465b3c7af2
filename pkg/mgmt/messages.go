package mgmt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/graphworks/spanners/pkg/types"
)

// Reply statuses
const (
	StatusOK               = "ok"
	StatusMalformedRequest = "malformed-request-error"
	StatusInvalidArgument  = "invalid-argument-error"
	StatusInternalError    = "internal-error"
)

// Request is one management datagram: {type, cmd, arg?}. Arg is a string
// (name-or-id) for user and job commands and an integer for scheduler
// commands; it stays raw until the route knows which.
type Request struct {
	Type string          `json:"type"`
	Cmd  string          `json:"cmd"`
	Arg  json.RawMessage `json:"arg,omitempty"`
}

// ArgString coerces the argument to a name-or-id string
func (r *Request) ArgString() (string, error) {
	if len(r.Arg) == 0 {
		return "", fmt.Errorf("missing argument")
	}
	var s string
	if err := json.Unmarshal(r.Arg, &s); err == nil {
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(r.Arg, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("argument must be a string or integer")
}

// ArgInt coerces the argument to an integer; ok is false when absent
func (r *Request) ArgInt() (value int64, ok bool, err error) {
	if len(r.Arg) == 0 {
		return 0, false, nil
	}
	var n int64
	if err := json.Unmarshal(r.Arg, &n); err == nil {
		return n, true, nil
	}
	var s string
	if err := json.Unmarshal(r.Arg, &s); err == nil {
		n, convErr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if convErr != nil {
			return 0, false, fmt.Errorf("argument must be an integer")
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("argument must be an integer")
}

// Reply is the response datagram
type Reply struct {
	Status  string `json:"status"`
	Message any    `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UserInfo is the management view of a user account
type UserInfo struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Blocked bool   `json:"blocked"`
}

// JobInfo is the management view of a job: no stdout/stderr bodies, but
// with stored payload sizes.
type JobInfo struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	HandlerType   string `json:"handler_type"`
	Status        string `json:"status"`
	TimeReceived  string `json:"time_received"`
	StartingTime  string `json:"starting_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	RuntimeMicros int64  `json:"ogdf_runtime"`
	RequestBytes  int64  `json:"request_bytes"`
	ResponseBytes int64  `json:"response_bytes"`
}

func userInfoFor(user *types.User) *UserInfo {
	return &UserInfo{ID: user.ID, Name: user.Name, Role: user.Role.String(), Blocked: user.Blocked}
}

func jobInfoFor(job *types.Job, sizes *types.DataSizes) *JobInfo {
	info := &JobInfo{
		ID:            job.ID,
		UserID:        job.UserID,
		Name:          job.JobName,
		HandlerType:   job.HandlerType,
		Status:        job.Status.String(),
		TimeReceived:  job.TimeReceived.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		RuntimeMicros: job.OGDFRuntime,
	}
	if job.StartingTime != nil {
		info.StartingTime = job.StartingTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if job.EndTime != nil {
		info.EndTime = job.EndTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if sizes != nil {
		info.RequestBytes = sizes.RequestBytes
		info.ResponseBytes = sizes.ResponseBytes
	}
	return info
}
