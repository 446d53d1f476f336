package dremio

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/metadata"

	"github.com/hugr-lab/dremio-flight-go/middleware"
)

// closeSessionTimeout bounds the CloseSession call issued by Session.Close.
const closeSessionTimeout = 5 * time.Second

// Session is an authenticated connection to a Flight endpoint.
//
// A Session owns its transport and its middleware chain. The base headers
// are fixed once Establish returns; the cookie middleware adds its header per
// call. Execute may be called concurrently. Close releases the transport.
type Session struct {
	client   flight.Client
	chain    *middleware.Chain
	bearer   *middleware.Bearer // nil for the token strategy
	cookies  *middleware.Cookie
	base     Headers
	scheme   Scheme
	location string
	strategy AuthStrategyKind

	projectID string

	alloc   memory.Allocator
	logger  *slog.Logger
	metrics *Metrics

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Location returns the endpoint as scheme://hostname:port.
func (s *Session) Location() string {
	return s.location
}

// Scheme returns the transport scheme.
func (s *Session) Scheme() Scheme {
	return s.scheme
}

// Strategy returns the authentication strategy used by the session.
func (s *Session) Strategy() AuthStrategyKind {
	return s.strategy
}

// State returns StateReady until the session is closed.
func (s *Session) State() State {
	if s.closed.Load() {
		return StateClosed
	}
	return StateReady
}

// Headers returns a copy of the base headers: session properties, routing
// hints and the bearer pair, in composition order.
func (s *Session) Headers() Headers {
	return s.base.Clone()
}

// CallHeaders returns the headers the next call would carry: the base
// headers followed by the middleware contributions.
func (s *Session) CallHeaders() Headers {
	return append(s.base.Clone(), s.chain.Outgoing(s.base)...)
}

// Cookies returns a snapshot of the session cookie jar.
func (s *Session) Cookies() Headers {
	return s.cookies.Cookies()
}

// callContext attaches the base headers to ctx. The middleware contributions
// are added by the transport interceptors.
func (s *Session) callContext(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, s.base.Pairs()...)
}

// setProjectID sets the project_id session option on the server.
func (s *Session) setProjectID(ctx context.Context) error {
	value, err := flight.NewSessionOptionValue(s.projectID)
	if err != nil {
		return configError("set session options", "project_id", "invalid project id", err)
	}

	req := &flight.SetSessionOptionsRequest{
		SessionOptions: map[string]*flight.SessionOptionValue{
			"project_id": &value,
		},
	}
	res, err := s.client.SetSessionOptions(s.callContext(ctx), req)
	if err != nil {
		return transportError("set session options", ErrConnection, err)
	}
	if errs := res.GetErrors(); len(errs) > 0 {
		details := make([]string, 0, len(errs))
		for name, e := range errs {
			details = append(details, name+": "+e.GetValue().String())
		}
		sort.Strings(details)
		return &Error{
			Kind:   ErrConnection,
			Op:     "set session options",
			Field:  "project_id",
			Detail: strings.Join(details, ", "),
		}
	}

	s.logger.Info("Session options set", "project_id", s.projectID)
	return nil
}

// Close releases the transport. When a project id was set, the server
// session is closed first on a best-effort basis. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)

		if s.projectID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), closeSessionTimeout)
			if _, err := s.client.CloseSession(s.callContext(ctx), &flight.CloseSessionRequest{}); err != nil {
				s.logger.Warn("Failed to close server session", "error", err)
			}
			cancel()
		}

		s.closeErr = s.client.Close()
		s.metrics.observeClose()
		s.logger.Debug("Session closed", "location", s.location)
	})
	return s.closeErr
}
