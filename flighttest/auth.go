package flighttest

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	basicPrefix  = "Basic "
	bearerPrefix = "Bearer "

	handshakeMethod = "/arrow.flight.protocol.FlightService/Handshake"
)

var (
	// ErrInvalidAuthHeader is returned when the authorization header is malformed.
	ErrInvalidAuthHeader = errors.New("authorization header must use Bearer scheme")

	// ErrTokenIsEmpty is returned when the bearer token is empty.
	ErrTokenIsEmpty = errors.New("authorization token is empty")
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey int

const (
	identityKey contextKey = iota
)

// WithIdentity adds the authenticated user identity to the context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the authenticated user identity from context.
// Returns empty string if no identity is set.
func IdentityFromContext(ctx context.Context) string {
	identity, ok := ctx.Value(identityKey).(string)
	if !ok {
		return ""
	}
	return identity
}

func authorizationFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get("authorization"); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// tokenFromAuthorizationHeader extracts the token of a "Bearer <token>" header.
func tokenFromAuthorizationHeader(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrInvalidAuthHeader
	}
	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return "", ErrTokenIsEmpty
	}
	return token, nil
}

// basicCredentials decodes a "Basic base64(user:password)" header.
// Padded and unpadded encodings are both accepted.
func basicCredentials(header string) (username, password string, err error) {
	if !strings.HasPrefix(header, basicPrefix) {
		return "", "", errors.New("authorization header must use Basic scheme")
	}
	encoded := strings.TrimPrefix(header, basicPrefix)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return "", "", errors.New("invalid basic credentials encoding")
	}

	username, password, ok := strings.Cut(string(raw), ":")
	if !ok || username == "" {
		return "", "", errors.New("basic credentials must be user:password")
	}
	return username, password, nil
}

// authenticate validates the bearer token of ctx and returns a context
// carrying the identity. Handshake calls are not checked.
func (s *Server) authenticate(ctx context.Context, method string) (context.Context, error) {
	if s.cfg.AllowAnonymous || method == handshakeMethod {
		return ctx, nil
	}

	token, err := tokenFromAuthorizationHeader(authorizationFromContext(ctx))
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}

	identity, ok := s.identity(token)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}
	return WithIdentity(ctx, identity), nil
}

// identity resolves a token issued by Handshake or configured in Config.Tokens.
func (s *Server) identity(token string) (string, bool) {
	if identity, ok := s.cfg.Tokens[token]; ok {
		return identity, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.issued[token]
	return identity, ok
}

func (s *Server) unaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	s.record(ctx, info.FullMethod)

	ctx, err := s.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) streamInterceptor(
	srv any,
	ss grpc.ServerStream,
	info *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	s.record(ss.Context(), info.FullMethod)

	ctx, err := s.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
}

// wrappedServerStream wraps grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapper's custom context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
