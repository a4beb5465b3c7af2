package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/graphworks/spanners/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id   BIGSERIAL PRIMARY KEY,
	name      TEXT NOT NULL UNIQUE,
	pw_hash   BYTEA NOT NULL,
	salt      BYTEA NOT NULL,
	role      SMALLINT NOT NULL DEFAULT 0,
	blocked   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id        BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
	handler_type  TEXT NOT NULL,
	job_name      TEXT NOT NULL,
	status        SMALLINT NOT NULL DEFAULT 0,
	request_type  SMALLINT NOT NULL DEFAULT 0,
	request_id    BIGINT,
	response_id   BIGINT,
	time_received TIMESTAMPTZ NOT NULL DEFAULT now(),
	starting_time TIMESTAMPTZ,
	end_time      TIMESTAMPTZ,
	ogdf_runtime  BIGINT NOT NULL DEFAULT 0,
	stdout_msg    TEXT NOT NULL DEFAULT '',
	error_msg     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS data (
	data_id     BIGSERIAL PRIMARY KEY,
	job_id      BIGINT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	type        SMALLINT NOT NULL,
	binary_data BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS jobs_dispatch_idx ON jobs (status, time_received);
CREATE INDEX IF NOT EXISTS jobs_user_idx ON jobs (user_id);
CREATE INDEX IF NOT EXISTS data_job_idx ON data (job_id);
`

const jobColumns = `job_id, user_id, handler_type, job_name, status, request_type,
	request_id, response_id, time_received, starting_time, end_time,
	ogdf_runtime, stdout_msg, error_msg`

// PostgresStore implements Store on top of PostgreSQL via pgx. The pool
// re-establishes dropped connections before the next transaction starts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects to the database named by the pgx connection string and
// creates the schema if it does not exist yet.
func Open(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AddJob inserts the job row and its request data row in one transaction
func (s *PostgresStore) AddJob(ctx context.Context, userID int64, handlerType, jobName string, requestType types.PayloadType, blob []byte) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var jobID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO jobs (user_id, handler_type, job_name, status, request_type)
		 VALUES ($1, $2, $3, $4, $5) RETURNING job_id`,
		userID, handlerType, jobName, types.StatusWaiting, requestType).Scan(&jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	var dataID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO data (job_id, type, binary_data) VALUES ($1, $2, $3) RETURNING data_id`,
		jobID, requestType, blob).Scan(&dataID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert request data: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE jobs SET request_id = $1 WHERE job_id = $2`, dataID, jobID); err != nil {
		return 0, fmt.Errorf("failed to link request data: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return jobID, nil
}

// SetStarted marks a waiting job as running and stamps starting_time
func (s *PostgresStore) SetStarted(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, starting_time = now() WHERE job_id = $2 AND status = $3`,
		types.StatusRunning, jobID, types.StatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to set started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// SetFinished moves a job to a terminal state and stamps end_time.
// WAITING -> ABORTED is the only permitted skip (preemptive cancel).
func (s *PostgresStore) SetFinished(ctx context.Context, jobID int64, status types.JobStatus, stdout, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}

	from := []types.JobStatus{types.StatusRunning}
	if status == types.StatusAborted {
		from = append(from, types.StatusWaiting)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, end_time = now(), stdout_msg = $2, error_msg = $3
		 WHERE job_id = $4 AND status = ANY($5)`,
		status, stdout, errMsg, jobID, from)
	if err != nil {
		return fmt.Errorf("failed to set finished: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// classifyMissedUpdate distinguishes a vanished row from a refused transition
func (s *PostgresStore) classifyMissedUpdate(ctx context.Context, jobID int64) error {
	var status types.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	return fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, jobID, status)
}

// AddResponse stores the response blob and links it to the job. Must be
// called before SetFinished(SUCCESS).
func (s *PostgresStore) AddResponse(ctx context.Context, jobID int64, responseType types.PayloadType, blob []byte, runtimeMicros int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var dataID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO data (job_id, type, binary_data) VALUES ($1, $2, $3) RETURNING data_id`,
		jobID, responseType, blob).Scan(&dataID)
	if err != nil {
		return fmt.Errorf("failed to insert response data: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET response_id = $1, ogdf_runtime = $2 WHERE job_id = $3`,
		dataID, runtimeMicros, jobID)
	if err != nil {
		return fmt.Errorf("failed to link response data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetNextJobs returns up to n waiting jobs ordered by arrival. Statuses are
// left untouched; the caller follows up with SetStarted. Racy with a second
// scheduler on the same database, which the design rules out.
func (s *PostgresStore) GetNextJobs(ctx context.Context, n int) ([]QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, user_id FROM jobs WHERE status = $1 ORDER BY time_received ASC LIMIT $2`,
		types.StatusWaiting, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting jobs: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.JobID, &e.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) getData(ctx context.Context, jobID, userID int64, column string) (types.PayloadType, []byte, error) {
	var payloadType types.PayloadType
	var blob []byte
	err := s.pool.QueryRow(ctx,
		`SELECT d.type, d.binary_data FROM data d
		 JOIN jobs j ON j.`+column+` = d.data_id
		 WHERE j.job_id = $1 AND j.user_id = $2`,
		jobID, userID).Scan(&payloadType, &blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s: %w", column, err)
	}
	return payloadType, blob, nil
}

// GetRequestData returns the stored request blob for a job owned by userID
func (s *PostgresStore) GetRequestData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error) {
	return s.getData(ctx, jobID, userID, "request_id")
}

// GetResponseData returns the stored response blob for a job owned by userID
func (s *PostgresStore) GetResponseData(ctx context.Context, jobID, userID int64) (types.PayloadType, []byte, error) {
	return s.getData(ctx, jobID, userID, "response_id")
}

// GetMetaData returns the dispatch metadata of a job owned by userID
func (s *PostgresStore) GetMetaData(ctx context.Context, jobID, userID int64) (*types.JobMeta, error) {
	meta := &types.JobMeta{}
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, user_id, handler_type, job_name, request_type
		 FROM jobs WHERE job_id = $1 AND user_id = $2`,
		jobID, userID).Scan(&meta.JobID, &meta.UserID, &meta.HandlerType, &meta.JobName, &meta.RequestType)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job meta: %w", err)
	}
	return meta, nil
}

// GetStatusData returns the client-visible status record of a job
func (s *PostgresStore) GetStatusData(ctx context.Context, jobID, userID int64) (*types.StatusRecord, error) {
	job, err := s.scanJobRow(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 AND user_id = $2`, jobID, userID))
	if err != nil {
		return nil, err
	}
	return types.StatusRecordFor(job), nil
}

func (s *PostgresStore) scanJobRow(row pgx.Row) (*types.Job, error) {
	job := &types.Job{}
	err := row.Scan(&job.ID, &job.UserID, &job.HandlerType, &job.JobName, &job.Status,
		&job.RequestType, &job.RequestID, &job.ResponseID, &job.TimeReceived,
		&job.StartingTime, &job.EndTime, &job.OGDFRuntime, &job.StdoutMsg, &job.ErrorMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) queryJobs(ctx context.Context, query string, args ...any) ([]*types.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job := &types.Job{}
		err := rows.Scan(&job.ID, &job.UserID, &job.HandlerType, &job.JobName, &job.Status,
			&job.RequestType, &job.RequestID, &job.ResponseID, &job.TimeReceived,
			&job.StartingTime, &job.EndTime, &job.OGDFRuntime, &job.StdoutMsg, &job.ErrorMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetJobEntries returns all jobs of one user, oldest first
func (s *PostgresStore) GetJobEntries(ctx context.Context, userID int64) ([]*types.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY time_received ASC`, userID)
}

// GetAllJobEntries returns every job in the system, oldest first
func (s *PostgresStore) GetAllJobEntries(ctx context.Context) ([]*types.Job, error) {
	return s.queryJobs(ctx, `SELECT ` + jobColumns + ` FROM jobs ORDER BY time_received ASC`)
}

// ResolveJobEntry finds a job by decimal id or by name
func (s *PostgresStore) ResolveJobEntry(ctx context.Context, nameOrID string) (*types.Job, error) {
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		job, err := s.scanJobRow(s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id))
		if err == nil || !errors.Is(err, ErrNotFound) {
			return job, err
		}
	}
	return s.scanJobRow(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_name = $1 ORDER BY time_received ASC LIMIT 1`, nameOrID))
}

// GetDataSizes reports stored request/response blob sizes for one job
func (s *PostgresStore) GetDataSizes(ctx context.Context, jobID int64) (*types.DataSizes, error) {
	sizes := &types.DataSizes{}
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(octet_length(req.binary_data), 0), COALESCE(octet_length(resp.binary_data), 0)
		 FROM jobs j
		 LEFT JOIN data req ON req.data_id = j.request_id
		 LEFT JOIN data resp ON resp.data_id = j.response_id
		 WHERE j.job_id = $1`,
		jobID).Scan(&sizes.RequestBytes, &sizes.ResponseBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data sizes: %w", err)
	}
	return sizes, nil
}

// DeleteJob removes a job and its data rows
func (s *PostgresStore) DeleteJob(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AbortWaitingJobs marks every waiting job of a user as aborted. Used by
// the user deletion cascade before live workers are cancelled.
func (s *PostgresStore) AbortWaitingJobs(ctx context.Context, userID int64, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, end_time = now(), error_msg = $2
		 WHERE user_id = $3 AND status = $4`,
		types.StatusAborted, reason, userID, types.StatusWaiting)
	if err != nil {
		return fmt.Errorf("failed to abort waiting jobs: %w", err)
	}
	return nil
}

// CreateUser inserts a new user and returns its id
func (s *PostgresStore) CreateUser(ctx context.Context, user *types.User) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (name, pw_hash, salt, role, blocked)
		 VALUES ($1, $2, $3, $4, $5) RETURNING user_id`,
		user.Name, user.PWHash, user.Salt, user.Role, user.Blocked).Scan(&id)
	if isUniqueViolation(err) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) scanUserRow(row pgx.Row) (*types.User, error) {
	user := &types.User{}
	err := row.Scan(&user.ID, &user.Name, &user.PWHash, &user.Salt, &user.Role, &user.Blocked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetUserByName looks up a user by unique name
func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*types.User, error) {
	return s.scanUserRow(s.pool.QueryRow(ctx,
		`SELECT user_id, name, pw_hash, salt, role, blocked FROM users WHERE name = $1`, name))
}

// GetUserByID looks up a user by id
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	return s.scanUserRow(s.pool.QueryRow(ctx,
		`SELECT user_id, name, pw_hash, salt, role, blocked FROM users WHERE user_id = $1`, id))
}

// ResolveUser finds a user by decimal id or by name
func (s *PostgresStore) ResolveUser(ctx context.Context, nameOrID string) (*types.User, error) {
	if id, err := strconv.ParseInt(nameOrID, 10, 64); err == nil {
		user, err := s.GetUserByID(ctx, id)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return user, err
		}
	}
	return s.GetUserByName(ctx, nameOrID)
}

// ListUsers returns every user
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, name, pw_hash, salt, role, blocked FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*types.User
	for rows.Next() {
		user := &types.User{}
		if err := rows.Scan(&user.ID, &user.Name, &user.PWHash, &user.Salt, &user.Role, &user.Blocked); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) updateUser(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserBlocked toggles the blocked flag
func (s *PostgresStore) SetUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	return s.updateUser(ctx, `UPDATE users SET blocked = $1 WHERE user_id = $2`, blocked, userID)
}

// ChangeUserRole updates a user's role
func (s *PostgresStore) ChangeUserRole(ctx context.Context, userID int64, role types.Role) error {
	return s.updateUser(ctx, `UPDATE users SET role = $1 WHERE user_id = $2`, role, userID)
}

// ChangeUserAuth replaces a user's password hash and salt
func (s *PostgresStore) ChangeUserAuth(ctx context.Context, userID int64, hash, salt []byte) error {
	return s.updateUser(ctx, `UPDATE users SET pw_hash = $1, salt = $2 WHERE user_id = $3`, hash, salt, userID)
}

// DeleteUser removes the user row; jobs and data cascade at the schema
// level. Callers are expected to have aborted waiting jobs and cancelled
// live workers first.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
}
