package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// Handler executes one decoded call and returns its payload. The server
// turns a taxonomy error into an ERROR message and anything else into
// an internal taxonomy error before answering.
type Handler func(ctx context.Context, call cluster.Call) (any, error)

// ServerConfig contains server configuration options.
type ServerConfig struct {
	// ListenAddress is the TCP address to accept peer connections on.
	ListenAddress string
	// Handler executes decoded calls. Required.
	Handler Handler
	// ReadTimeout bounds how long the server waits for the CALL message
	// on a fresh connection. Defaults to 30s when zero.
	ReadTimeout time.Duration
	// Logger for connection-level events. Defaults to a no-op logger.
	Logger *telemetry.Logger
}

// Server accepts peer connections and answers their calls.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	logger   *telemetry.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer creates a server for the given configuration.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.ListenAddress == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Addr returns the bound listen address, or empty before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve binds the listen address and accepts connections until the
// context is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is closed")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.WithField("address", ln.Addr().String()).Info("Peer server listening")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops the listener and waits for in-flight calls to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

	call, err := NewDecoder(conn).DecodeCall()
	if err != nil {
		s.logger.WithError(err).
			WithField("remote", conn.RemoteAddr().String()).
			Warn("Failed to decode call")
		return
	}
	// Response time is governed by the handler, not the read timeout.
	conn.SetReadDeadline(time.Time{})

	logger := s.logger.WithRequestID(call.RequestID)
	logger.WithFields(map[string]interface{}{
		"function": call.Function,
		"policy":   call.Policy,
		"remote":   conn.RemoteAddr().String(),
	}).Debug("Call received")

	payload, err := s.cfg.Handler(ctx, call)

	enc := NewEncoder(conn)
	if err != nil {
		var taxErr *apierror.Error
		if !errors.As(err, &taxErr) {
			taxErr = apierror.NewInternal(apierror.CodeInternal).WithMessage(err.Error())
		}
		if encErr := enc.EncodeError(call.RequestID, taxErr); encErr != nil {
			logger.WithError(encErr).Warn("Failed to send error response")
		}
		return
	}

	if err := enc.EncodeResult(call.RequestID, payload); err != nil {
		logger.WithError(err).Warn("Failed to send result")
	}
}
