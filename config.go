package dremio

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/hugr-lab/dremio-flight-go/middleware"
)

// Connection defaults.
const (
	DefaultHostname = "localhost"
	DefaultPort     = 32010

	// DefaultRoutingTag and DefaultRoutingQueue are the workload management
	// hints sent on every session.
	DefaultRoutingTag   = "test-routing-tag"
	DefaultRoutingQueue = "Low Cost User Queries"

	// DefaultMaxMessageSize is the maximum gRPC message size accepted for
	// result batches.
	DefaultMaxMessageSize = 64 << 20
)

// Routing and session header keys.
const (
	HeaderRoutingEngine = "routing_engine"
	HeaderRoutingTag    = "routing_tag"
	HeaderRoutingQueue  = "routing_queue"
)

// Header is a single call header. Re-exported from the middleware package.
type Header = middleware.Header

// Headers is an ordered list of call headers. Re-exported from the
// middleware package.
type Headers = middleware.Headers

// ConnectionConfig describes one Dremio Flight endpoint and how to
// authenticate against it. Treat it as immutable once built.
type ConnectionConfig struct {
	// Hostname of the coordinator.
	// REQUIRED.
	Hostname string

	// Port of the Flight endpoint.
	// REQUIRED: 1..65535.
	Port int

	// Credential selects the authentication strategy.
	// REQUIRED.
	Credential Credential

	// TLS configures the encrypted transport.
	// OPTIONAL: plaintext when TLS.Enabled is false.
	TLS TLSConfig

	// SessionProperties are sent first on every call, in order.
	// OPTIONAL.
	SessionProperties Headers

	// Engine routes queries to a specific engine.
	// OPTIONAL: omitted when empty.
	Engine string

	// RoutingTag and RoutingQueue are always sent.
	// OPTIONAL: DefaultRoutingTag and DefaultRoutingQueue when empty.
	RoutingTag   string
	RoutingQueue string

	// ProjectID is set as the project_id session option after
	// authentication; the server session is closed with the Session.
	// OPTIONAL.
	ProjectID string
}

// TLSConfig describes the trust material of an encrypted connection.
type TLSConfig struct {
	// Enabled switches to the grpc+tls scheme.
	Enabled bool

	// Verify enables server certificate verification.
	// When false the server certificate is not checked at all.
	Verify bool

	// RootCerts holds PEM encoded trusted roots. Takes precedence over CertPath.
	RootCerts []byte

	// CertPath points to a PEM bundle of trusted roots.
	CertPath string
}

// NewConnectionConfig returns a config for hostname:port with the default
// routing hints, plaintext transport and the given credential.
func NewConnectionConfig(hostname string, port int, cred Credential) ConnectionConfig {
	return ConnectionConfig{
		Hostname:     hostname,
		Port:         port,
		Credential:   cred,
		RoutingTag:   DefaultRoutingTag,
		RoutingQueue: DefaultRoutingQueue,
	}
}

// Validate checks the fields that can be checked without any I/O.
// Errors are of kind ErrConfig.
func (c ConnectionConfig) Validate() error {
	if c.Hostname == "" {
		return configError("validate", "hostname", "hostname is required", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return configError("validate", "port", fmt.Sprintf("port %d out of range", c.Port), nil)
	}
	if c.Credential == nil {
		return configError("validate", "credential", "credential required", nil)
	}
	for _, hdr := range c.SessionProperties {
		if err := validateHeader(hdr); err != nil {
			return configError("validate", "session_properties", "invalid header "+hdr.String(), err)
		}
	}
	hints := []struct {
		field string
		hdr   Header
	}{
		{"engine", Header{Key: HeaderRoutingEngine, Value: c.Engine}},
		{"routing_tag", Header{Key: HeaderRoutingTag, Value: c.RoutingTag}},
		{"routing_queue", Header{Key: HeaderRoutingQueue, Value: c.RoutingQueue}},
	}
	for _, h := range hints {
		if err := validateHeader(h.hdr); err != nil {
			return configError("validate", h.field, "invalid header value", err)
		}
	}
	return nil
}

// validateHeader applies the grpc metadata rules to a header as it will be
// sent, with the key lower-cased.
func validateHeader(hdr Header) error {
	return metadata.ValidatePair(strings.ToLower(hdr.Key), hdr.Value)
}

// BaseHeaders composes the headers sent before authentication:
// session properties, then the optional engine, then the routing tag and
// queue. The order is fixed.
func (c ConnectionConfig) BaseHeaders() Headers {
	headers := c.SessionProperties.Clone()
	if c.Engine != "" {
		headers = headers.Append(HeaderRoutingEngine, c.Engine)
	}

	tag := c.RoutingTag
	if tag == "" {
		tag = DefaultRoutingTag
	}
	queue := c.RoutingQueue
	if queue == "" {
		queue = DefaultRoutingQueue
	}
	return headers.Append(HeaderRoutingTag, tag, HeaderRoutingQueue, queue)
}

// Options configures a Negotiator.
type Options struct {
	// Logger for connection and query events.
	// OPTIONAL: discards everything if nil.
	// Note: If LogLevel is specified, a text logger writing to stderr at that
	// level is created instead.
	Logger *slog.Logger

	// LogLevel sets the logging level of the created logger.
	// OPTIONAL: ignored when Logger is provided.
	LogLevel *slog.Level

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator

	// Metrics records handshakes, queries and streamed batches.
	// OPTIONAL: nothing is recorded if nil.
	Metrics *Metrics

	// MaxMessageSize sets the maximum gRPC message size in bytes.
	// OPTIONAL: DefaultMaxMessageSize if 0.
	MaxMessageSize int

	// Tracing installs the OpenTelemetry gRPC client stats handler.
	// OPTIONAL.
	Tracing bool

	// DialOptions are appended to the options used to open the transport.
	// OPTIONAL.
	DialOptions []grpc.DialOption

	// ReadFile reads the certificate bundle named by TLSConfig.CertPath.
	// OPTIONAL: os.ReadFile if nil.
	ReadFile func(path string) ([]byte, error)
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if o.LogLevel != nil {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: *o.LogLevel}))
	}
	return slog.New(slog.DiscardHandler)
}

func (o Options) allocator() memory.Allocator {
	if o.Allocator != nil {
		return o.Allocator
	}
	return memory.DefaultAllocator
}

func (o Options) readFile() func(string) ([]byte, error) {
	if o.ReadFile != nil {
		return o.ReadFile
	}
	return os.ReadFile
}

func (o Options) maxMessageSize() int {
	if o.MaxMessageSize > 0 {
		return o.MaxMessageSize
	}
	return DefaultMaxMessageSize
}
