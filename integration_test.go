package dremio_test

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"

	dremio "github.com/hugr-lab/dremio-flight-go"
	"github.com/hugr-lab/dremio-flight-go/flighttest"
)

const (
	testUser     = "dremio"
	testPassword = "dremio123"
	numbersQuery = "select n from numbers"
)

// newTestServer starts a flighttest server that accepts testUser/testPassword
// and serves numbersQuery as three batches: [1 2] [3] [4 5 6].
func newTestServer(t *testing.T, cfg flighttest.Config) *flighttest.Server {
	t.Helper()

	if cfg.Source == nil {
		src := flighttest.NewStaticSource()
		alloc := memory.NewGoAllocator()
		for _, vals := range [][]int64{{1, 2}, {3}, {4, 5, 6}} {
			rec := int64Batch(t, alloc, vals...)
			src.Add(numbersQuery, nil, rec)
			rec.Release()
		}
		t.Cleanup(src.Release)
		cfg.Source = src
	}
	if cfg.Passwords == nil {
		cfg.Passwords = func(u, p string) bool { return u == testUser && p == testPassword }
	}

	srv, err := flighttest.NewServer(cfg)
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

// testWriter routes log output through t.Log.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func int64Batch(t *testing.T, alloc memory.Allocator, values ...int64) arrow.RecordBatch {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{{Name: "n", Type: arrow.PrimitiveTypes.Int64}}, nil)
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()
	builder.Field(0).(*array.Int64Builder).AppendValues(values, nil)
	return builder.NewRecordBatch()
}

// configFor returns a plaintext config pointing at srv.
func configFor(srv *flighttest.Server, cred dremio.Credential) dremio.ConnectionConfig {
	return dremio.NewConnectionConfig(srv.Host(), srv.Port(), cred)
}

func testOptions(t *testing.T) dremio.Options {
	t.Helper()
	return dremio.Options{
		Logger: slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

// connect establishes a session with the test credentials and closes it at cleanup.
func connect(t *testing.T, cfg dremio.ConnectionConfig, opts dremio.Options) *dremio.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := dremio.Connect(ctx, cfg, opts)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// dialCounter counts transport dials made through its dial option and the
// connections closed afterwards.
type dialCounter struct {
	dials  atomic.Int32
	closed atomic.Int32
}

func (c *dialCounter) option() grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		c.dials.Add(1)
		return &countedConn{Conn: conn, counter: c}, nil
	})
}

// waitClosed waits until every dialed connection has been closed.
func (c *dialCounter) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.closed.Load() < c.dials.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d closed connections, got %d", c.dials.Load(), c.closed.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// countedConn reports its first Close to the dialCounter.
type countedConn struct {
	net.Conn
	counter *dialCounter
	once    sync.Once
}

func (c *countedConn) Close() error {
	c.once.Do(func() { c.counter.closed.Add(1) })
	return c.Conn.Close()
}

func int64Values(t *testing.T, rec arrow.RecordBatch) []int64 {
	t.Helper()
	col, ok := rec.Column(0).(*array.Int64)
	if !ok {
		t.Fatalf("Expected Int64 column, got %T", rec.Column(0))
	}
	return append([]int64(nil), col.Int64Values()...)
}
