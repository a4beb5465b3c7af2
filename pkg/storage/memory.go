package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/graphworks/spanners/pkg/types"
)

// MemStore is an in-memory Store with the same transition and ownership
// rules as the Postgres gateway. It backs tests and the development
// db-driver=memory mode; it cannot be shared with worker processes, so the
// scheduler only pairs it with in-process test doubles.
type MemStore struct {
	mu sync.Mutex

	users map[int64]*types.User
	jobs  map[int64]*types.Job
	data  map[int64]*dataRow

	nextUserID int64
	nextJobID  int64
	nextDataID int64
}

type dataRow struct {
	id    int64
	jobID int64
	typ   types.PayloadType
	blob  []byte
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[int64]*types.User),
		jobs:       make(map[int64]*types.Job),
		data:       make(map[int64]*dataRow),
		nextUserID: 1,
		nextJobID:  1,
		nextDataID: 1,
	}
}

// Close is a no-op for the in-memory store
func (s *MemStore) Close() error { return nil }

func cloneJob(job *types.Job) *types.Job {
	c := *job
	if job.RequestID != nil {
		v := *job.RequestID
		c.RequestID = &v
	}
	if job.ResponseID != nil {
		v := *job.ResponseID
		c.ResponseID = &v
	}
	if job.StartingTime != nil {
		v := *job.StartingTime
		c.StartingTime = &v
	}
	if job.EndTime != nil {
		v := *job.EndTime
		c.EndTime = &v
	}
	return &c
}

func cloneUser(user *types.User) *types.User {
	c := *user
	c.PWHash = append([]byte(nil), user.PWHash...)
	c.Salt = append([]byte(nil), user.Salt...)
	return &c
}

// AddJob inserts the job and its request data row
func (s *MemStore) AddJob(ctx context.Context, userID int64, handlerType, jobName string, requestType types.PayloadType, blob []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return 0, ErrNotFound
	}

	jobID := s.nextJobID
	s.nextJobID++
	dataID := s.nextDataID
	s.nextDataID++

	s.data[dataID] = &dataRow{id: dataID, jobID: jobID, typ: requestType, blob: append([]byte(nil), blob...)}
	s.jobs[jobID] = &types.Job{
		ID:           jobID,
		UserID:       userID,
		HandlerType:  handlerType,
		JobName:      jobName,
		Status:       types.StatusWaiting,
		RequestType:  requestType,
		RequestID:    &dataID,
		TimeReceived: time.Now().UTC(),
	}
	return jobID, nil
}

// SetStarted marks a waiting job as running
func (s *MemStore) SetStarted(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != types.StatusWaiting {
		return fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, jobID, job.Status)
	}
	now := time.Now().UTC()
	job.Status = types.StatusRunning
	job.StartingTime = &now
	return nil
}

// SetFinished moves a job to a terminal state
func (s *MemStore) SetFinished(ctx context.Context, jobID int64, status types.JobStatus, stdout, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	switch job.Status {
	case types.StatusRunning:
	case types.StatusWaiting:
		if status != types.StatusAborted {
			return fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, jobID, job.Status)
		}
	default:
		return fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, jobID, job.Status)
	}

	now := time.Now().UTC()
	job.Status = status
	job.EndTime = &now
	job.StdoutMsg = stdout
	job.ErrorMsg = errMsg
	return nil
}

// AddResponse stores the response blob and links it to the job
func (s *MemStore) AddResponse(ctx context.Context, jobID int64, responseType types.PayloadType, blob []byte, runtimeMicros int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	dataID := s.nextDataID
	s.nextDataID++
	s.data[dataID] = &dataRow{id: dataID, jobID: jobID, typ: responseType, blob: append([]byte(nil), blob...)}
	job.ResponseID = &dataID
	job.OGDFRuntime = runtimeMicros
	return nil
}

// GetNextJobs returns up to n waiting jobs ordered by arrival
func (s *MemStore) GetNextJobs(ctx context.Context, n int) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var waiting []*types.Job
	for _, job := range s.jobs {
		if job.Status == types.StatusWaiting {
			waiting = append(waiting, job)
		}
	}
	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].TimeReceived.Equal(waiting[j].TimeReceived) {
			return waiting[i].ID < waiting[j].ID
		}
		return waiting[i].TimeReceived.Before(waiting[j].TimeReceived)
	})

	if len(waiting) > n {
		waiting = waiting[:n]
	}
	entries := make([]QueueEntry, 0, len(waiting))
	for _, job := range waiting {
		entries = append(entries, QueueEntry{JobID: job.ID, UserID: job.UserID})
	}
	return entries, nil
}

func (s *MemStore) getData(jobID, userID int64, dataID *int64) (types.PayloadType, []byte, error) {
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID || dataID == nil {
		return 0, nil, ErrNotFound
	}
	row, ok := s.data[*dataID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return row.typ, append([]byte(nil), row.blob...), nil
}

// GetRequestData returns the stored request blob for a job owned by userID
func (s *MemStore) GetRequestData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return s.getData(jobID, userID, job.RequestID)
}

// GetResponseData returns the stored response blob for a job owned by userID
func (s *MemStore) GetResponseData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, nil, ErrNotFound
	}
	return s.getData(jobID, userID, job.ResponseID)
}

// GetMetaData returns the dispatch metadata of a job owned by userID
func (s *MemStore) GetMetaData(ctx context.Context, jobID, userID int64) (*types.JobMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, ErrNotFound
	}
	return &types.JobMeta{
		JobID:       job.ID,
		UserID:      job.UserID,
		HandlerType: job.HandlerType,
		JobName:     job.JobName,
		RequestType: job.RequestType,
	}, nil
}

// GetStatusData returns the client-visible status record of a job
func (s *MemStore) GetStatusData(ctx context.Context, jobID, userID int64) (*types.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, ErrNotFound
	}
	return types.StatusRecordFor(cloneJob(job)), nil
}

func (s *MemStore) sortedJobs(filter func(*types.Job) bool) []*types.Job {
	var jobs []*types.Job
	for _, job := range s.jobs {
		if filter == nil || filter(job) {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].TimeReceived.Equal(jobs[j].TimeReceived) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].TimeReceived.Before(jobs[j].TimeReceived)
	})
	return jobs
}

// GetJobEntries returns all jobs of one user, oldest first
func (s *MemStore) GetJobEntries(ctx context.Context, userID int64) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobs(func(j *types.Job) bool { return j.UserID == userID }), nil
}

// GetAllJobEntries returns every job, oldest first
func (s *MemStore) GetAllJobEntries(ctx context.Context) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedJobs(nil), nil
}

// ResolveJobEntry finds a job by decimal id or by name
func (s *MemStore) ResolveJobEntry(ctx context.Context, nameOrID string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		if job, ok := s.jobs[id]; ok {
			return cloneJob(job), nil
		}
	}
	for _, job := range s.sortedJobs(nil) {
		if job.JobName == nameOrID {
			return job, nil
		}
	}
	return nil, ErrNotFound
}

// GetDataSizes reports stored request/response blob sizes for one job
func (s *MemStore) GetDataSizes(ctx context.Context, jobID int64) (*types.DataSizes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	sizes := &types.DataSizes{}
	if job.RequestID != nil {
		if row, ok := s.data[*job.RequestID]; ok {
			sizes.RequestBytes = int64(len(row.blob))
		}
	}
	if job.ResponseID != nil {
		if row, ok := s.data[*job.ResponseID]; ok {
			sizes.ResponseBytes = int64(len(row.blob))
		}
	}
	return sizes, nil
}

// DeleteJob removes a job and its data rows
func (s *MemStore) DeleteJob(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, jobID)
	for id, row := range s.data {
		if row.jobID == jobID {
			delete(s.data, id)
		}
	}
	return nil
}

// AbortWaitingJobs marks every waiting job of a user as aborted
func (s *MemStore) AbortWaitingJobs(ctx context.Context, userID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, job := range s.jobs {
		if job.UserID == userID && job.Status == types.StatusWaiting {
			job.Status = types.StatusAborted
			job.EndTime = &now
			job.ErrorMsg = reason
		}
	}
	return nil
}

// CreateUser inserts a new user and returns its id
func (s *MemStore) CreateUser(ctx context.Context, user *types.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Name == user.Name {
			return 0, ErrDuplicate
		}
	}
	id := s.nextUserID
	s.nextUserID++
	stored := cloneUser(user)
	stored.ID = id
	s.users[id] = stored
	return id, nil
}

// GetUserByName looks up a user by unique name
func (s *MemStore) GetUserByName(ctx context.Context, name string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Name == name {
			return cloneUser(user), nil
		}
	}
	return nil, ErrNotFound
}

// GetUserByID looks up a user by id
func (s *MemStore) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(user), nil
}

// ResolveUser finds a user by decimal id or by name
func (s *MemStore) ResolveUser(ctx context.Context, nameOrID string) (*types.User, error) {
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		if user, err := s.GetUserByID(ctx, id); err == nil {
			return user, nil
		}
	}
	return s.GetUserByName(ctx, nameOrID)
}

// ListUsers returns every user ordered by id
func (s *MemStore) ListUsers(ctx context.Context) ([]*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*types.User
	for _, user := range s.users {
		users = append(users, cloneUser(user))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemStore) withUser(userID int64, fn func(*types.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(user)
	return nil
}

// SetUserBlocked toggles the blocked flag
func (s *MemStore) SetUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	return s.withUser(userID, func(u *types.User) { u.Blocked = blocked })
}

// ChangeUserRole updates a user's role
func (s *MemStore) ChangeUserRole(ctx context.Context, userID int64, role types.Role) error {
	return s.withUser(userID, func(u *types.User) { u.Role = role })
}

// ChangeUserAuth replaces a user's password hash and salt
func (s *MemStore) ChangeUserAuth(ctx context.Context, userID int64, hash, salt []byte) error {
	return s.withUser(userID, func(u *types.User) {
		u.PWHash = append([]byte(nil), hash...)
		u.Salt = append([]byte(nil), salt...)
	})
}

// DeleteUser removes the user and cascades to their jobs and data
func (s *MemStore) DeleteUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	delete(s.users, userID)
	for jobID, job := range s.jobs {
		if job.UserID == userID {
			delete(s.jobs, jobID)
			for id, row := range s.data {
				if row.jobID == jobID {
					delete(s.data, id)
				}
			}
		}
	}
	return nil
}
