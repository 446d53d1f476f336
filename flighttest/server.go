// Package flighttest provides an in-process Arrow Flight server that speaks
// the Dremio dialect of the protocol: basic-auth handshake returning a bearer
// token, session cookies, command descriptors and single-use tickets.
// It is meant for tests of Flight clients.
package flighttest

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Config configures a test server.
type Config struct {
	// Source resolves queries.
	// REQUIRED.
	Source Source

	// Passwords checks handshake credentials.
	// OPTIONAL: every username/password pair is accepted if nil.
	Passwords func(username, password string) bool

	// Tokens maps pre-issued bearer tokens to identities, for clients that
	// skip the handshake.
	// OPTIONAL.
	Tokens map[string]string

	// OmitAuthorization makes Handshake reply without an authorization
	// header, as a misbehaving server would.
	OmitAuthorization bool

	// Cookies are sent as set-cookie headers by Handshake.
	// OPTIONAL.
	Cookies []string

	// ResponseCookies are sent as set-cookie headers by every GetFlightInfo.
	// OPTIONAL.
	ResponseCookies []string

	// AllowAnonymous disables bearer validation.
	AllowAnonymous bool

	// NoEndpoints makes GetFlightInfo return a FlightInfo without endpoints.
	NoEndpoints bool

	// FailAfterBatches makes DoGet fail once that many batches are sent.
	// OPTIONAL: 0 disables the failure.
	FailAfterBatches int

	// TLS serves over TLS when set.
	// OPTIONAL.
	TLS *tls.Config

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator

	// Logger for server events.
	// OPTIONAL: discards everything if nil.
	Logger *slog.Logger
}

// Server is a running test server.
type Server struct {
	flight.BaseFlightServer

	cfg       Config
	allocator memory.Allocator
	logger    *slog.Logger

	listener net.Listener
	grpc     *grpc.Server

	mu             sync.Mutex
	issued         map[string]string  // bearer token -> identity
	pending        map[string]*Result // ticket id -> resolved result
	calls          []Call
	sessionOptions map[string]string
	closedSessions int

	closeOnce sync.Once
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("flighttest: source is required")
	}

	s := &Server{
		cfg:            cfg,
		allocator:      cfg.Allocator,
		logger:         cfg.Logger,
		issued:         make(map[string]string),
		pending:        make(map[string]*Result),
		sessionOptions: make(map[string]string),
	}
	if s.allocator == nil {
		s.allocator = memory.DefaultAllocator
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("flighttest: failed to listen: %w", err)
	}
	s.listener = lis

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
		grpc.ChainStreamInterceptor(s.streamInterceptor),
	}
	if cfg.TLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(cfg.TLS)))
	}
	s.grpc = grpc.NewServer(opts...)
	flight.RegisterFlightServiceServer(s.grpc, s)

	go func() {
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("Server stopped", "error", err)
		}
	}()

	s.logger.Debug("Test server started", "address", lis.Addr().String(), "tls", cfg.TLS != nil)
	return s, nil
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Close stops the server and releases results that were never fetched.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.grpc.Stop()

		s.mu.Lock()
		defer s.mu.Unlock()
		for id, res := range s.pending {
			res.Release()
			delete(s.pending, id)
		}
	})
}

// SessionOptions returns the session options set by clients.
func (s *Server) SessionOptions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.sessionOptions))
	for k, v := range s.sessionOptions {
		out[k] = v
	}
	return out
}

// ClosedSessions returns the number of CloseSession actions received.
func (s *Server) ClosedSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedSessions
}

// PendingTickets returns the number of resolved results not yet fetched.
func (s *Server) PendingTickets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
