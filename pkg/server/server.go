package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/graphworks/spanners/pkg/events"
	"github.com/graphworks/spanners/pkg/log"
	"github.com/graphworks/spanners/pkg/scheduler"
	"github.com/graphworks/spanners/pkg/storage"
)

// connTimeout bounds one whole request/response exchange
const connTimeout = 5 * time.Minute

// Server is the client-facing listener. Every accepted connection carries
// exactly one authenticated request/response pair; each connection runs in
// its own goroutine so a stalled peer never blocks the accept loop.
type Server struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	broker    *events.Broker
	tlsConfig *tls.Config
	logger    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a client I/O server. tlsConfig may be nil for
// plaintext operation; the broker may be nil.
func NewServer(store storage.Store, sched *scheduler.Scheduler, broker *events.Broker, tlsConfig *tls.Config) *Server {
	return &Server{
		store:     store,
		scheduler: sched,
		broker:    broker,
		tlsConfig: tlsConfig,
		logger:    log.WithComponent("server"),
	}
}

// Start listens on addr and serves until Stop is called. Blocks; run in a
// goroutine next to the scheduler, which must already be started so abort
// requests reach a live instance.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if s.tlsConfig != nil {
		listener = tls.NewListener(listener, s.tlsConfig)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return errors.New("server already stopped")
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Bool("tls", s.tlsConfig != nil).Msg("Client I/O listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
