package dremio

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/hugr-lab/dremio-flight-go/middleware"
)

// State is a step of session negotiation.
type State int

const (
	StateUnconfigured State = iota
	StateSchemeResolved
	StateTLSResolved
	StateHandshakePending
	StateAuthenticated
	StateTokenAttached
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateSchemeResolved:
		return "scheme_resolved"
	case StateTLSResolved:
		return "tls_resolved"
	case StateHandshakePending:
		return "handshake_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateTokenAttached:
		return "token_attached"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Negotiator turns a ConnectionConfig into a Session.
// A Negotiator is safe for concurrent use; every Establish builds an
// independent Session.
type Negotiator struct {
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
}

// NewNegotiator creates a Negotiator.
func NewNegotiator(opts Options) *Negotiator {
	return &Negotiator{
		opts:    opts,
		logger:  opts.logger(),
		metrics: opts.Metrics,
	}
}

// Connect establishes a Session with a Negotiator built from opts.
//
// Example:
//
//	sess, err := dremio.Connect(ctx, dremio.NewConnectionConfig("localhost", 32010,
//	    dremio.UsernamePassword{Username: "dremio", Secret: "dremio123"}), dremio.Options{})
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
func Connect(ctx context.Context, cfg ConnectionConfig, opts Options) (*Session, error) {
	return NewNegotiator(opts).Establish(ctx, cfg)
}

// negotiation tracks the state of one Establish call for logging.
type negotiation struct {
	logger *slog.Logger
	state  State
}

func (n *negotiation) to(state State) {
	n.logger.Debug("Negotiation state", "from", n.state, "to", state)
	n.state = state
}

func (n *negotiation) fail(err error) error {
	n.logger.Debug("Negotiation failed", "state", n.state, "error", err)
	n.state = StateFailed
	return err
}

// Establish builds a Session from cfg.
//
// Configuration problems (credential, TLS trust material) are reported as
// ErrConfig before any network I/O. For a username/password credential a
// single handshake is performed and the bearer pair returned by the server
// is folded into the base headers; a missing pair fails with
// ErrAuthProtocol. A token credential needs no round trip. On failure the
// transport is released before returning.
func (n *Negotiator) Establish(ctx context.Context, cfg ConnectionConfig) (sess *Session, err error) {
	logger := n.logger.With("hostname", cfg.Hostname, "port", cfg.Port)
	neg := &negotiation{logger: logger, state: StateUnconfigured}

	if err := cfg.Validate(); err != nil {
		return nil, neg.fail(err)
	}

	scheme := ResolveScheme(cfg.TLS.Enabled)
	neg.to(StateSchemeResolved)

	tlsParams, err := BuildTLSParams(cfg.TLS, n.opts.readFile())
	if err != nil {
		return nil, neg.fail(err)
	}
	neg.to(StateTLSResolved)

	strategy, err := SelectAuthStrategy(cfg.Credential)
	if err != nil {
		return nil, neg.fail(err)
	}
	logger = logger.With("scheme", scheme, "strategy", strategy.Kind)
	neg.logger = logger

	defer func() {
		n.metrics.observeEstablish(strategy.Kind, err)
	}()

	// Chain order is fixed: bearer capture first, cookies always last.
	var (
		bearer *middleware.Bearer
		mws    []middleware.Middleware
	)
	if strategy.NeedsHandshake() {
		bearer = middleware.NewBearer()
		mws = append(mws, bearer)
	}
	cookies := middleware.NewCookie()
	mws = append(mws, cookies)
	chain := middleware.NewChain(mws...)

	addr := net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port))
	client, err := flight.NewClientWithMiddleware(addr, nil,
		[]flight.ClientMiddleware{chain.ClientMiddleware()},
		n.dialOptions(tlsParams)...,
	)
	if err != nil {
		return nil, neg.fail(&Error{Kind: ErrConnection, Op: "dial", Detail: addr, Err: err})
	}

	sess = &Session{
		client:    client,
		chain:     chain,
		bearer:    bearer,
		cookies:   cookies,
		base:      cfg.BaseHeaders(),
		scheme:    scheme,
		location:  string(scheme) + "://" + addr,
		strategy:  strategy.Kind,
		alloc:     n.opts.allocator(),
		logger:    logger,
		metrics:   n.metrics,
		projectID: cfg.ProjectID,
	}
	defer func() {
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("Failed to release transport", "error", closeErr)
			}
			sess = nil
		}
	}()

	switch strategy.Kind {
	case AuthHandshake:
		neg.to(StateHandshakePending)
		if err := sess.handshake(ctx, strategy); err != nil {
			return nil, neg.fail(err)
		}
		neg.to(StateAuthenticated)
		logger.Info("Authentication was successful")
	case AuthToken:
		sess.base = append(sess.base, strategy.BearerHeader())
		neg.to(StateTokenAttached)
		logger.Info("Authentication skipped until first request")
	}

	if cfg.ProjectID != "" {
		if err := sess.setProjectID(ctx); err != nil {
			return nil, neg.fail(err)
		}
	}

	neg.to(StateReady)
	return sess, nil
}

func (n *Negotiator) dialOptions(tlsParams TLSParams) []grpc.DialOption {
	size := n.opts.maxMessageSize()
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(tlsParams.Credentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(size),
			grpc.MaxCallSendMsgSize(size),
		),
	}
	if n.opts.Tracing {
		opts = append(opts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}
	return append(opts, n.opts.DialOptions...)
}

// handshake performs the basic-auth Handshake call carrying the base
// headers. The bearer middleware captures the authorization pair from the
// response, which is then appended to the base headers.
func (s *Session) handshake(ctx context.Context, strategy AuthStrategy) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	basic := base64.StdEncoding.EncodeToString([]byte(strategy.Username + ":" + strategy.Secret))
	ctx = metadata.AppendToOutgoingContext(s.callContext(ctx), middleware.HeaderAuthorization, "Basic "+basic)

	stream, err := s.client.Handshake(ctx)
	if err != nil {
		return transportError("handshake", ErrConnection, err)
	}
	if err := stream.CloseSend(); err != nil {
		return transportError("handshake", ErrConnection, err)
	}

	for {
		_, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if errors.Is(err, middleware.ErrNoAuthorization) {
			return &Error{Kind: ErrAuthProtocol, Op: "handshake", Field: middleware.HeaderAuthorization, Err: err}
		}
		if err != nil {
			return transportError("handshake", ErrConnection, err)
		}
	}

	pair, ok := s.bearer.Captured()
	if !ok {
		return &Error{Kind: ErrAuthProtocol, Op: "handshake", Field: middleware.HeaderAuthorization, Err: middleware.ErrNoAuthorization}
	}
	s.base = append(s.base, pair)
	return nil
}
