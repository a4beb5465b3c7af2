package mgmt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/graphworks/spanners/pkg/events"
	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/scheduler"
	"github.com/graphworks/spanners/pkg/storage"
	"github.com/graphworks/spanners/pkg/types"
)

const (
	// DefaultServerPath is the well-known server socket path
	DefaultServerPath = "/tmp/spanners-mgmt.sock"

	// DefaultClientPath is the well-known CLI socket path
	DefaultClientPath = "/tmp/spanners-cli.sock"

	maxDatagram = 64 << 10

	reasonUserDeleted = "User deleted"
)

// Server is the out-of-band management plane: a local datagram socket
// taking one JSON request per datagram and answering with one JSON reply.
type Server struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	logger    zerolog.Logger

	mu     sync.Mutex
	conn   *net.UnixConn
	path   string
	closed bool
}

// NewServer creates a management server. The broker may be nil.
func NewServer(store storage.Store, sched *scheduler.Scheduler, broker *events.Broker) *Server {
	return &Server{
		store:     store,
		scheduler: sched,
		broker:    broker,
		logger:    log.WithComponent("mgmt"),
	}
}

// Start binds the datagram socket at path and serves until Stop. Blocks;
// run in a goroutine. A stale socket file from a dead process is removed.
func (s *Server) Start(path string) error {
	if path == "" {
		path = DefaultServerPath
	}
	_ = os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("failed to bind management socket: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return errors.New("management server already stopped")
	}
	s.conn = conn
	s.path = path
	s.mu.Unlock()

	s.logger.Info().Str("path", path).Msg("Management plane listening")

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUnix(buf)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Datagram read failed")
			continue
		}

		reply := s.handle(buf[:n])
		payload, err := json.Marshal(reply)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode reply")
			continue
		}
		if from == nil {
			s.logger.Warn().Msg("Datagram sender unbound, dropping reply")
			continue
		}
		if _, err := conn.WriteToUnix(payload, from); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to send reply")
		}
	}
}

// Stop closes the socket and removes its path
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		_ = os.Remove(s.path)
	}
}

// handle routes one request. Every failure class maps to its reply status:
// bad JSON -> malformed-request-error, bad arg -> invalid-argument-error,
// anything else -> internal-error.
func (s *Server) handle(payload []byte) *Reply {
	req := &Request{}
	if err := json.Unmarshal(payload, req); err != nil {
		return &Reply{Status: StatusMalformedRequest, Error: "invalid JSON"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var reply *Reply
	switch req.Type {
	case "user":
		reply = s.handleUser(ctx, req)
	case "job":
		reply = s.handleJob(ctx, req)
	case "scheduler":
		reply = s.handleScheduler(req)
	default:
		reply = &Reply{Status: StatusMalformedRequest, Error: fmt.Sprintf("unknown type %q", req.Type)}
	}
	return reply
}

func (s *Server) handleUser(ctx context.Context, req *Request) *Reply {
	switch req.Cmd {
	case "list":
		users, err := s.store.ListUsers(ctx)
		if err != nil {
			return internalError(err)
		}
		infos := make([]*UserInfo, 0, len(users))
		for _, user := range users {
			infos = append(infos, userInfoFor(user))
		}
		return &Reply{Status: StatusOK, Message: infos}

	case "info":
		user, reply := s.resolveUser(ctx, req)
		if reply != nil {
			return reply
		}
		jobs, err := s.store.GetJobEntries(ctx, user.ID)
		if err != nil {
			return internalError(err)
		}
		jobInfos := make([]*JobInfo, 0, len(jobs))
		for _, job := range jobs {
			sizes, _ := s.store.GetDataSizes(ctx, job.ID)
			jobInfos = append(jobInfos, jobInfoFor(job, sizes))
		}
		return &Reply{Status: StatusOK, Message: map[string]any{
			"user": userInfoFor(user),
			"jobs": jobInfos,
		}}

	case "delete":
		user, reply := s.resolveUser(ctx, req)
		if reply != nil {
			return reply
		}
		// Ordering matters: park the queue, stop live workers, then let
		// the row cascade.
		if err := s.store.AbortWaitingJobs(ctx, user.ID, reasonUserDeleted); err != nil {
			return internalError(err)
		}
		s.scheduler.CancelUserJobs(user.ID)
		if err := s.store.DeleteUser(ctx, user.ID); err != nil {
			return internalError(err)
		}
		s.publish(events.EventUserDeleted, user.ID, user.Name)
		return &Reply{Status: StatusOK, Message: fmt.Sprintf("user %s deleted", user.Name)}

	case "block", "unblock":
		user, reply := s.resolveUser(ctx, req)
		if reply != nil {
			return reply
		}
		if err := s.store.SetUserBlocked(ctx, user.ID, req.Cmd == "block"); err != nil {
			return internalError(err)
		}
		if req.Cmd == "block" {
			s.publish(events.EventUserBlocked, user.ID, user.Name)
		}
		return &Reply{Status: StatusOK, Message: fmt.Sprintf("user %s %sed", user.Name, req.Cmd)}

	default:
		return &Reply{Status: StatusMalformedRequest, Error: fmt.Sprintf("unknown user command %q", req.Cmd)}
	}
}

func (s *Server) handleJob(ctx context.Context, req *Request) *Reply {
	switch req.Cmd {
	case "list":
		jobs, err := s.store.GetAllJobEntries(ctx)
		if err != nil {
			return internalError(err)
		}
		infos := make([]*JobInfo, 0, len(jobs))
		for _, job := range jobs {
			sizes, _ := s.store.GetDataSizes(ctx, job.ID)
			infos = append(infos, jobInfoFor(job, sizes))
		}
		return &Reply{Status: StatusOK, Message: infos}

	case "info":
		job, reply := s.resolveJob(ctx, req)
		if reply != nil {
			return reply
		}
		sizes, _ := s.store.GetDataSizes(ctx, job.ID)
		return &Reply{Status: StatusOK, Message: jobInfoFor(job, sizes)}

	case "delete":
		job, reply := s.resolveJob(ctx, req)
		if reply != nil {
			return reply
		}
		if job.Status == types.StatusRunning {
			if err := s.scheduler.CancelJob(job.ID, job.UserID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return internalError(err)
			}
		}
		if err := s.store.DeleteJob(ctx, job.ID); err != nil {
			return internalError(err)
		}
		s.publish(events.EventJobDeleted, job.UserID, job.JobName)
		return &Reply{Status: StatusOK, Message: fmt.Sprintf("job %d deleted", job.ID)}

	case "stop":
		job, reply := s.resolveJob(ctx, req)
		if reply != nil {
			return reply
		}
		if err := s.scheduler.CancelJob(job.ID, job.UserID); err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) {
				return &Reply{Status: StatusInvalidArgument, Error: "job is not in a cancellable state"}
			}
			return internalError(err)
		}
		return &Reply{Status: StatusOK, Message: fmt.Sprintf("job %d stopped", job.ID)}

	default:
		return &Reply{Status: StatusMalformedRequest, Error: fmt.Sprintf("unknown job command %q", req.Cmd)}
	}
}

// handleScheduler sets a limit when an argument is present and always
// answers with the current value.
func (s *Server) handleScheduler(req *Request) *Reply {
	value, ok, err := req.ArgInt()
	if err != nil {
		return &Reply{Status: StatusInvalidArgument, Error: err.Error()}
	}
	if ok && value < 0 {
		return &Reply{Status: StatusInvalidArgument, Error: "value must be non-negative"}
	}

	switch req.Cmd {
	case "time-limit":
		if ok {
			s.scheduler.SetTimeLimit(time.Duration(value) * time.Millisecond)
		}
		return &Reply{Status: StatusOK, Message: map[string]int64{"time-limit": s.scheduler.TimeLimit().Milliseconds()}}
	case "resource-limit":
		if ok {
			s.scheduler.SetResourceLimit(value)
		}
		return &Reply{Status: StatusOK, Message: map[string]int64{"resource-limit": s.scheduler.ResourceLimit()}}
	case "process-limit":
		if ok {
			if value == 0 {
				return &Reply{Status: StatusInvalidArgument, Error: "process limit must be positive"}
			}
			s.scheduler.SetProcessLimit(int(value))
		}
		return &Reply{Status: StatusOK, Message: map[string]int64{"process-limit": int64(s.scheduler.ProcessLimit())}}
	case "sleep":
		if ok {
			if value == 0 {
				return &Reply{Status: StatusInvalidArgument, Error: "sleep must be positive"}
			}
			s.scheduler.SetSleep(time.Duration(value) * time.Millisecond)
		}
		return &Reply{Status: StatusOK, Message: map[string]int64{"sleep": s.scheduler.Sleep().Milliseconds()}}
	default:
		return &Reply{Status: StatusMalformedRequest, Error: fmt.Sprintf("unknown scheduler command %q", req.Cmd)}
	}
}

func (s *Server) resolveUser(ctx context.Context, req *Request) (*types.User, *Reply) {
	arg, err := req.ArgString()
	if err != nil {
		return nil, &Reply{Status: StatusInvalidArgument, Error: err.Error()}
	}
	user, err := s.store.ResolveUser(ctx, arg)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &Reply{Status: StatusInvalidArgument, Error: fmt.Sprintf("no such user %q", arg)}
	}
	if err != nil {
		return nil, internalError(err)
	}
	return user, nil
}

func (s *Server) resolveJob(ctx context.Context, req *Request) (*types.Job, *Reply) {
	arg, err := req.ArgString()
	if err != nil {
		return nil, &Reply{Status: StatusInvalidArgument, Error: err.Error()}
	}
	job, err := s.store.ResolveJobEntry(ctx, arg)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &Reply{Status: StatusInvalidArgument, Error: fmt.Sprintf("no such job %q", arg)}
	}
	if err != nil {
		return nil, internalError(err)
	}
	return job, nil
}

func internalError(err error) *Reply {
	return &Reply{Status: StatusInternalError, Error: err.Error()}
}

func (s *Server) publish(eventType events.EventType, userID int64, msg string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, UserID: userID, Message: msg})
}
