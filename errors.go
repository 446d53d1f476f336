package dremio

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrConfig indicates missing or contradictory configuration. It is
	// reported before any network I/O and never retried.
	ErrConfig = errors.New("config error")

	// ErrAuthProtocol indicates the handshake response lacked the
	// authorization header. Terminal for the session.
	ErrAuthProtocol = errors.New("auth protocol error")

	// ErrAuthentication indicates the server rejected the credentials.
	ErrAuthentication = errors.New("authentication error")

	// ErrConnection indicates the transport is unreachable, refused the
	// connection or failed TLS negotiation.
	ErrConnection = errors.New("connection error")

	// ErrStream indicates a failure while resolving or fetching a query
	// result on an otherwise healthy session.
	ErrStream = errors.New("stream error")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("session closed")
)

// Error describes a failed operation. Kind is one of the error kinds above;
// Err is the underlying cause, if any.
type Error struct {
	Kind   error
	Op     string // operation, e.g. "handshake", "resolve"
	Field  string // offending config field or response header, if known
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Kind != nil {
		sb.WriteString(e.Kind.Error())
	}
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Field != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Field)
		sb.WriteString("]")
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func configError(op, field, detail string, cause error) error {
	return &Error{Kind: ErrConfig, Op: op, Field: field, Detail: detail, Err: cause}
}

// transportError classifies a failed RPC. Unavailable means the endpoint
// could not be reached, anything else is reported as fallback.
func transportError(op string, fallback, err error) error {
	kind := fallback
	switch status.Code(err) {
	case codes.Unavailable:
		kind = ErrConnection
	case codes.Unauthenticated, codes.PermissionDenied:
		if fallback == ErrConnection {
			kind = ErrAuthentication
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
