package dremio_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	dremio "github.com/hugr-lab/dremio-flight-go"
	"github.com/hugr-lab/dremio-flight-go/flighttest"
	"github.com/hugr-lab/dremio-flight-go/middleware"
)

// TestEstablishWithoutCredential verifies configuration is rejected before any dial.
func TestEstablishWithoutCredential(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{})

	var counter dialCounter
	opts := testOptions(t)
	opts.DialOptions = append(opts.DialOptions, counter.option())

	cfg := configFor(srv, nil)
	_, err := dremio.Connect(context.Background(), cfg, opts)
	if !errors.Is(err, dremio.ErrConfig) {
		t.Fatalf("Expected ErrConfig, got %v", err)
	}
	if n := counter.dials.Load(); n != 0 {
		t.Errorf("Expected no dial, got %d", n)
	}
	if n := len(srv.Calls()); n != 0 {
		t.Errorf("Expected no call to reach the server, got %d", n)
	}
}

// TestEstablishInvalidSessionProperty verifies headers grpc would refuse to
// send are reported as configuration errors before any dial.
func TestEstablishInvalidSessionProperty(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{Tokens: map[string]string{"pat-123": "alice"}})

	tests := []struct {
		name string
		cred dremio.Credential
		prop dremio.Header
	}{
		{"handshake with illegal key", dremio.UsernamePassword{Username: testUser, Secret: testPassword}, dremio.Header{Key: "bad key", Value: "x"}},
		{"handshake with non-ascii value", dremio.UsernamePassword{Username: testUser, Secret: testPassword}, dremio.Header{Key: "schema", Value: "données"}},
		{"token with illegal key", dremio.Token{Value: "pat-123"}, dremio.Header{Key: "bad key", Value: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var counter dialCounter
			opts := testOptions(t)
			opts.DialOptions = append(opts.DialOptions, counter.option())

			cfg := configFor(srv, tt.cred)
			cfg.SessionProperties = dremio.Headers{tt.prop}
			_, err := dremio.Connect(context.Background(), cfg, opts)
			if !errors.Is(err, dremio.ErrConfig) {
				t.Fatalf("Expected ErrConfig, got %v", err)
			}
			var derr *dremio.Error
			if !errors.As(err, &derr) || derr.Field != "session_properties" {
				t.Errorf("Expected error naming session_properties, got %v", err)
			}
			if n := counter.dials.Load(); n != 0 {
				t.Errorf("Expected no dial, got %d", n)
			}
		})
	}
	if n := len(srv.Calls()); n != 0 {
		t.Errorf("Expected no call to reach the server, got %d", n)
	}
}

// TestEstablishFailureReleasesTransport verifies the connection opened for a
// failed handshake is closed before Connect returns.
func TestEstablishFailureReleasesTransport(t *testing.T) {
	tests := []struct {
		name   string
		cfg    flighttest.Config
		secret string
		want   error
	}{
		{"missing authorization", flighttest.Config{OmitAuthorization: true}, testPassword, dremio.ErrAuthProtocol},
		{"rejected password", flighttest.Config{}, "wrong", dremio.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.cfg)

			var counter dialCounter
			opts := testOptions(t)
			opts.DialOptions = append(opts.DialOptions, counter.option())

			cfg := configFor(srv, dremio.UsernamePassword{Username: testUser, Secret: tt.secret})
			sess, err := dremio.Connect(context.Background(), cfg, opts)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if sess != nil {
				t.Error("Expected no session on failure")
			}
			if n := counter.dials.Load(); n == 0 {
				t.Fatal("Expected the handshake to dial")
			}
			counter.waitClosed(t)
		})
	}
}

func TestEstablishUnreadableCertificate(t *testing.T) {
	var counter dialCounter
	opts := testOptions(t)
	opts.DialOptions = append(opts.DialOptions, counter.option())

	cfg := dremio.NewConnectionConfig("localhost", 32010, dremio.UsernamePassword{Username: testUser, Secret: testPassword})
	cfg.TLS = dremio.TLSConfig{Enabled: true, Verify: true, CertPath: filepath.Join(t.TempDir(), "missing.pem")}

	_, err := dremio.Connect(context.Background(), cfg, opts)
	if !errors.Is(err, dremio.ErrConfig) {
		t.Fatalf("Expected ErrConfig, got %v", err)
	}
	if n := counter.dials.Load(); n != 0 {
		t.Errorf("Expected no dial, got %d", n)
	}
}

func TestHandshakeAuthentication(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{})
	cfg := configFor(srv, dremio.UsernamePassword{Username: testUser, Secret: testPassword})
	cfg.SessionProperties = dremio.Headers{{Key: "schema", Value: "demo"}}
	cfg.Engine = "preview"

	sess := connect(t, cfg, testOptions(t))

	if sess.Strategy() != dremio.AuthHandshake {
		t.Errorf("Expected handshake strategy, got %s", sess.Strategy())
	}
	if sess.State() != dremio.StateReady {
		t.Errorf("Expected ready session, got %s", sess.State())
	}
	if want := "grpc+tcp://" + net.JoinHostPort(srv.Host(), strconv.Itoa(srv.Port())); sess.Location() != want {
		t.Errorf("Expected location %s, got %s", want, sess.Location())
	}

	headers := sess.Headers()
	wantKeys := []string{"schema", dremio.HeaderRoutingEngine, dremio.HeaderRoutingTag, dremio.HeaderRoutingQueue, middleware.HeaderAuthorization}
	if len(headers) != len(wantKeys) {
		t.Fatalf("Expected %d headers, got %v", len(wantKeys), headers)
	}
	for i, key := range wantKeys {
		if headers[i].Key != key {
			t.Errorf("Header %d: expected %s, got %s", i, key, headers[i].Key)
		}
	}

	handshakes := srv.CallsTo("Handshake")
	if len(handshakes) != 1 {
		t.Fatalf("Expected exactly one handshake, got %d", len(handshakes))
	}
	if got := handshakes[0].Get(dremio.HeaderRoutingQueue); len(got) != 1 || got[0] != dremio.DefaultRoutingQueue {
		t.Errorf("Expected handshake to carry routing queue, got %v", got)
	}
	if got := handshakes[0].Get("schema"); len(got) != 1 || got[0] != "demo" {
		t.Errorf("Expected handshake to carry session property, got %v", got)
	}
}

func TestHandshakeRejected(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{})
	cfg := configFor(srv, dremio.UsernamePassword{Username: testUser, Secret: "wrong"})

	_, err := dremio.Connect(context.Background(), cfg, testOptions(t))
	if !errors.Is(err, dremio.ErrAuthentication) {
		t.Fatalf("Expected ErrAuthentication, got %v", err)
	}
}

func TestHandshakeWithoutAuthorization(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{OmitAuthorization: true})
	cfg := configFor(srv, dremio.UsernamePassword{Username: testUser, Secret: testPassword})

	_, err := dremio.Connect(context.Background(), cfg, testOptions(t))
	if !errors.Is(err, dremio.ErrAuthProtocol) {
		t.Fatalf("Expected ErrAuthProtocol, got %v", err)
	}
	var derr *dremio.Error
	if !errors.As(err, &derr) || derr.Field != middleware.HeaderAuthorization {
		t.Errorf("Expected error naming the authorization header, got %v", err)
	}
}

func TestTokenAuthentication(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{Tokens: map[string]string{"pat-123": "alice"}})

	var counter dialCounter
	opts := testOptions(t)
	opts.DialOptions = append(opts.DialOptions, counter.option())

	sess := connect(t, configFor(srv, dremio.Token{Value: "pat-123"}), opts)

	if sess.Strategy() != dremio.AuthToken {
		t.Errorf("Expected token strategy, got %s", sess.Strategy())
	}
	if n := len(srv.Calls()); n != 0 {
		t.Errorf("Expected no round trip during establish, got %d calls", n)
	}
	if got := sess.Headers().Get(middleware.HeaderAuthorization); len(got) != 1 || got[0] != "Bearer pat-123" {
		t.Errorf("Expected bearer header, got %v", got)
	}

	stream, err := sess.Execute(context.Background(), numbersQuery)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	defer stream.Close()
	for stream.Next() {
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if stream.Rows() != 6 {
		t.Errorf("Expected 6 rows, got %d", stream.Rows())
	}
	if len(srv.CallsTo("Handshake")) != 0 {
		t.Error("Expected token strategy to skip the handshake")
	}
}

func TestEstablishUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := dremio.NewConnectionConfig("127.0.0.1", port, dremio.UsernamePassword{Username: testUser, Secret: testPassword})
	_, err = dremio.Connect(ctx, cfg, testOptions(t))
	if !errors.Is(err, dremio.ErrConnection) {
		t.Fatalf("Expected ErrConnection, got %v", err)
	}
}

func TestTLSHandshake(t *testing.T) {
	certPEM, cert, err := flighttest.SelfSignedCert()
	if err != nil {
		t.Fatalf("SelfSignedCert failed: %v", err)
	}
	srv := newTestServer(t, flighttest.Config{
		TLS: &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
	})
	cred := dremio.UsernamePassword{Username: testUser, Secret: testPassword}

	t.Run("root certs", func(t *testing.T) {
		cfg := configFor(srv, cred)
		cfg.TLS = dremio.TLSConfig{Enabled: true, Verify: true, RootCerts: certPEM}
		sess := connect(t, cfg, testOptions(t))
		if sess.Scheme() != dremio.SchemeTLS {
			t.Errorf("Expected %s, got %s", dremio.SchemeTLS, sess.Scheme())
		}
	})

	t.Run("cert path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "root.pem")
		if err := os.WriteFile(path, certPEM, 0o600); err != nil {
			t.Fatalf("Failed to write bundle: %v", err)
		}
		cfg := configFor(srv, cred)
		cfg.TLS = dremio.TLSConfig{Enabled: true, Verify: true, CertPath: path}
		connect(t, cfg, testOptions(t))
	})

	t.Run("verification disabled", func(t *testing.T) {
		cfg := configFor(srv, cred)
		cfg.TLS = dremio.TLSConfig{Enabled: true, Verify: false}
		connect(t, cfg, testOptions(t))
	})

	t.Run("untrusted", func(t *testing.T) {
		otherPEM, _, err := flighttest.SelfSignedCert()
		if err != nil {
			t.Fatalf("SelfSignedCert failed: %v", err)
		}
		cfg := configFor(srv, cred)
		cfg.TLS = dremio.TLSConfig{Enabled: true, Verify: true, RootCerts: otherPEM}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err = dremio.Connect(ctx, cfg, testOptions(t))
		if !errors.Is(err, dremio.ErrConnection) {
			t.Fatalf("Expected ErrConnection, got %v", err)
		}
	})
}

func TestProjectSessionOptions(t *testing.T) {
	srv := newTestServer(t, flighttest.Config{})
	cfg := configFor(srv, dremio.UsernamePassword{Username: testUser, Secret: testPassword})
	cfg.ProjectID = "project-42"

	sess, err := dremio.Connect(context.Background(), cfg, testOptions(t))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if got := srv.SessionOptions()["project_id"]; got != "project-42" {
		t.Errorf("Expected project_id project-42, got %q", got)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if n := srv.ClosedSessions(); n != 1 {
		t.Errorf("Expected 1 CloseSession, got %d", n)
	}
	if sess.State() != dremio.StateClosed {
		t.Errorf("Expected closed state, got %s", sess.State())
	}
}
