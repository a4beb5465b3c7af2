package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/graphworks/spanners/pkg/auth"
	"github.com/graphworks/spanners/pkg/events"
	"github.com/graphworks/spanners/pkg/handlers"
	"github.com/graphworks/spanners/pkg/metrics"
	"github.com/graphworks/spanners/pkg/protocol"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

// errReplied marks failures whose error frame was already written by the
// handler itself.
var errReplied = errors.New("error frame already written")

// dispatchEntry maps a message type to its handler. Body-bearing types
// read a compressed container of meta.ContainerSize bytes first.
type dispatchEntry struct {
	needsBody bool
	handle    func(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error
}

// handleConn drives the per-connection state machine:
// READ_META -> AUTH -> DISPATCH -> reply -> END. Every failure is
// translated into an error frame before the socket closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	logger := s.logger.With().Str("conn_id", uuid.New().String()[:8]).
		Str("remote", conn.RemoteAddr().String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Any("panic", r).Msg("Connection handler panicked")
			s.writeError(conn, protocol.ErrTypeInternal, "internal error")
		}
	}()

	meta, err := protocol.ReadMeta(conn)
	if err != nil {
		logger.Debug().Err(err).Msg("Bad frame")
		if errors.Is(err, protocol.ErrParse) {
			s.writeError(conn, protocol.ErrTypeParse, "malformed metadata")
		} else {
			s.writeError(conn, protocol.ErrTypeFraming, "malformed frame")
		}
		return
	}

	started := time.Now()
	status := s.serve(conn, meta, logger)
	metrics.RequestsTotal.WithLabelValues(typeLabel(meta.Type), status).Inc()
	metrics.RequestDuration.WithLabelValues(typeLabel(meta.Type)).Observe(time.Since(started).Seconds())
}

func typeLabel(t protocol.MessageType) string {
	switch t {
	case protocol.TypeAuth:
		return "auth"
	case protocol.TypeCreateUser:
		return "create_user"
	case protocol.TypeAvailableHandlers:
		return "available_handlers"
	case protocol.TypeStatus:
		return "status"
	case protocol.TypeResult:
		return "result"
	case protocol.TypeAbortJob:
		return "abort_job"
	case protocol.TypeDeleteJob:
		return "delete_job"
	case protocol.TypeOriginGraph:
		return "origin_graph"
	default:
		return "new_job"
	}
}

// serve authenticates and dispatches one request, returning "ok" or
// "error" for the request counter.
func (s *Server) serve(conn net.Conn, meta *protocol.MetaData, logger zerolog.Logger) string {
	ctx, cancel := context.WithTimeout(context.Background(), connTimeout)
	defer cancel()

	// Account creation is the one unauthenticated path, and only for
	// names not yet taken.
	if meta.Type == protocol.TypeCreateUser {
		if err := s.handleCreateUser(ctx, conn, meta); err != nil {
			logger.Warn().Err(err).Msg("User creation failed")
			return "error"
		}
		return "ok"
	}

	user, err := s.authenticate(ctx, meta)
	if err != nil {
		logger.Debug().Str("user", meta.User.Name).Msg("Authentication refused")
		s.writeError(conn, protocol.ErrTypeUnauthorized, "authentication failed")
		return "error"
	}

	entry := s.dispatchEntry(meta.Type)
	var body []byte
	if entry.needsBody {
		body, err = protocol.ReadContainer(conn, meta.ContainerSize)
		if err != nil {
			if errors.Is(err, protocol.ErrParse) {
				s.writeError(conn, protocol.ErrTypeParse, "malformed container")
			} else {
				s.writeError(conn, protocol.ErrTypeFraming, "malformed frame")
			}
			return "error"
		}
	}

	if err := entry.handle(ctx, conn, user, meta, body); err != nil {
		logger.Warn().Err(err).Str("user", user.Name).Msg("Request failed")
		s.writeStoreError(conn, err)
		return "error"
	}
	return "ok"
}

// authenticate resolves and verifies the credentials on the frame.
// Blocked users fail closed regardless of password.
func (s *Server) authenticate(ctx context.Context, meta *protocol.MetaData) (*types.User, error) {
	user, err := s.store.GetUserByName(ctx, meta.User.Name)
	if err != nil {
		return nil, err
	}
	if user.Blocked {
		return nil, errors.New("user is blocked")
	}
	if !auth.Verify(meta.User.Password, user.Salt, user.PWHash) {
		return nil, errors.New("wrong password")
	}
	return user, nil
}

func (s *Server) dispatchEntry(t protocol.MessageType) dispatchEntry {
	switch t {
	case protocol.TypeAuth:
		return dispatchEntry{handle: s.handleAuth}
	case protocol.TypeAvailableHandlers:
		return dispatchEntry{handle: s.handleAvailableHandlers}
	case protocol.TypeStatus:
		return dispatchEntry{handle: s.handleStatus}
	case protocol.TypeResult:
		return dispatchEntry{needsBody: true, handle: s.handleResult}
	case protocol.TypeAbortJob:
		return dispatchEntry{needsBody: true, handle: s.handleAbortJob}
	case protocol.TypeDeleteJob:
		return dispatchEntry{needsBody: true, handle: s.handleDeleteJob}
	case protocol.TypeOriginGraph:
		return dispatchEntry{needsBody: true, handle: s.handleOriginGraph}
	default:
		// Unrecognised types are job submissions; older clients never
		// send an explicit NEW_JOB tag.
		return dispatchEntry{needsBody: true, handle: s.handleNewJob}
	}
}

func (s *Server) handleCreateUser(ctx context.Context, conn net.Conn, meta *protocol.MetaData) error {
	hash, salt, err := auth.Hash(meta.User.Password)
	if err != nil {
		s.writeError(conn, protocol.ErrTypeKDF, "failed to hash password")
		return err
	}

	user := &types.User{Name: meta.User.Name, PWHash: hash, Salt: salt, Role: types.RoleUser}
	id, err := s.store.CreateUser(ctx, user)
	if errors.Is(err, storage.ErrDuplicate) {
		s.writeError(conn, protocol.ErrTypeUserCreation, "User already exists.")
		return err
	}
	if err != nil {
		s.writeError(conn, protocol.ErrTypeDB, "failed to create user")
		return err
	}

	s.publish(events.EventUserCreated, 0, id, meta.User.Name)
	return s.writeOK(conn, meta.Type)
}

func (s *Server) handleAuth(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	return s.writeOK(conn, meta.Type)
}

func (s *Server) handleAvailableHandlers(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	container, err := protocol.EncodeContainer(&protocol.HandlersResponse{Handlers: handlers.Capabilities()})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: meta.Type}, container)
}

func (s *Server) handleStatus(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	jobs, err := s.store.GetJobEntries(ctx, user.ID)
	if err != nil {
		return err
	}
	records := make([]*types.StatusRecord, 0, len(jobs))
	for _, job := range jobs {
		records = append(records, types.StatusRecordFor(job))
	}
	container, err := protocol.EncodeContainer(&protocol.StatusResponse{Jobs: records})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: meta.Type}, container)
}

func (s *Server) decodeJobRef(body []byte) (int64, error) {
	ref := &protocol.ResultRequest{}
	if err := protocol.DecodeContainer(body, ref); err != nil {
		return 0, err
	}
	return ref.JobID, nil
}

func (s *Server) handleResult(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	jobID, err := s.decodeJobRef(body)
	if err != nil {
		return err
	}

	record, err := s.store.GetStatusData(ctx, jobID, user.ID)
	if err != nil {
		return err
	}
	_, blob, err := s.store.GetResponseData(ctx, jobID, user.ID)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(conn, protocol.ErrTypeInvalidRequest, "job has no result yet")
		return errReplied
	}
	if err != nil {
		return err
	}

	container, err := protocol.EncodeContainer(&protocol.ResultResponse{Payload: blob, Status: record})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: meta.Type}, container)
}

func (s *Server) handleOriginGraph(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	jobID, err := s.decodeJobRef(body)
	if err != nil {
		return err
	}

	record, err := s.store.GetStatusData(ctx, jobID, user.ID)
	if err != nil {
		return err
	}
	_, blob, err := s.store.GetRequestData(ctx, jobID, user.ID)
	if err != nil {
		return err
	}

	container, err := protocol.EncodeContainer(&protocol.ResultResponse{Payload: blob, Status: record})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: meta.Type}, container)
}

func (s *Server) handleNewJob(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	if _, ok := handlers.Get(meta.HandlerType); !ok {
		s.writeError(conn, protocol.ErrTypeInvalidRequest, "unknown handler type")
		return errReplied
	}

	jobID, err := s.store.AddJob(ctx, user.ID, meta.HandlerType, meta.JobName, types.PayloadJobRequest, body)
	if err != nil {
		return err
	}
	s.publish(events.EventJobEnqueued, jobID, user.ID, meta.HandlerType)

	container, err := protocol.EncodeContainer(&protocol.NewJobResponse{JobID: jobID})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: protocol.TypeNewJobResponse}, container)
}

func (s *Server) handleAbortJob(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	jobID, err := s.decodeJobRef(body)
	if err != nil {
		return err
	}

	// Ownership check before touching the scheduler
	if _, err := s.store.GetStatusData(ctx, jobID, user.ID); err != nil {
		return err
	}
	if err := s.scheduler.CancelJob(jobID, user.ID); err != nil {
		return err
	}
	return s.writeOK(conn, meta.Type)
}

func (s *Server) handleDeleteJob(ctx context.Context, conn net.Conn, user *types.User, meta *protocol.MetaData, body []byte) error {
	jobID, err := s.decodeJobRef(body)
	if err != nil {
		return err
	}

	record, err := s.store.GetStatusData(ctx, jobID, user.ID)
	if err != nil {
		return err
	}
	if record.Status == types.StatusRunning.String() {
		// Stop the live worker before the row disappears
		if err := s.scheduler.CancelJob(jobID, user.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.publish(events.EventJobDeleted, jobID, user.ID, "")
	return s.writeOK(conn, meta.Type)
}

func (s *Server) writeOK(conn net.Conn, t protocol.MessageType) error {
	container, err := protocol.EncodeContainer(&protocol.ResponseContainer{Status: protocol.StatusOK})
	if err != nil {
		return err
	}
	return protocol.WriteFrame(conn, &protocol.MetaData{Type: t}, container)
}

// writeError sends an error frame; failures here are ignored since the
// socket is about to close anyway.
func (s *Server) writeError(conn net.Conn, errType protocol.ErrorType, msg string) {
	container, err := protocol.EncodeContainer(&protocol.ErrorMessage{Type: errType, Message: msg})
	if err != nil {
		return
	}
	_ = protocol.WriteFrame(conn, &protocol.MetaData{Type: protocol.TypeError}, container)
}

// writeStoreError maps storage failures onto the wire taxonomy
func (s *Server) writeStoreError(conn net.Conn, err error) {
	switch {
	case errors.Is(err, errReplied):
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(conn, protocol.ErrTypeNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidTransition):
		s.writeError(conn, protocol.ErrTypeInvalidRequest, "job is not in a cancellable state")
	case errors.Is(err, protocol.ErrParse):
		s.writeError(conn, protocol.ErrTypeParse, "malformed container")
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, protocol.ErrFraming):
		// Already reported by the specific handler
	default:
		s.writeError(conn, protocol.ErrTypeDB, "persistence failure")
	}
}

func (s *Server) publish(eventType events.EventType, jobID, userID int64, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, JobID: jobID, UserID: userID, Message: msg})
}
