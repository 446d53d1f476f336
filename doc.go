// Package dremio provides an Arrow Flight client for running SQL queries
// against Dremio.
//
// The dremio package covers the client side of a query:
//   - Negotiating a session: plaintext or TLS transport, basic-auth handshake
//     or a known bearer token, routing and session property headers
//   - Propagating the captured bearer token and server cookies on every call
//     through a middleware chain
//   - Executing a query as a CMD descriptor and streaming the result batches
//   - Draining a stream into a sink (in-memory collection or an Arrow IPC file)
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/hugr-lab/dremio-flight-go"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    cfg := dremio.NewConnectionConfig("localhost", dremio.DefaultPort,
//	        dremio.UsernamePassword{Username: "dremio", Secret: "dremio123"})
//
//	    sess, err := dremio.Connect(ctx, cfg, dremio.Options{})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer sess.Close()
//
//	    stream, err := sess.Execute(ctx, "select * from (VALUES(1,2,3))")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    result, err := dremio.Collect(ctx, stream)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer result.Release()
//	    fmt.Println(result.NumRows())
//	}
//
// # Authentication
//
// A UsernamePassword credential runs the Flight handshake with HTTP basic
// credentials. The bearer pair returned in the response headers is captured
// by the middleware chain and attached to every later call. A Token
// credential skips the handshake and sends "authorization: Bearer <token>"
// directly. CredentialFrom picks the strategy from the usual command line
// inputs.
//
// # Headers
//
// Every call carries, in order: the configured session properties, the
// routing_engine header when an engine is set, routing_tag, routing_queue,
// the bearer pair, and a single cookie header built from all cookies the
// server has set so far.
//
// # Errors
//
// Connection, session and query errors (Connect, Establish, Execute, Schema
// and RecordBatchStream.Err) are *Error values. Use errors.Is with
// ErrConfig, ErrAuthProtocol, ErrAuthentication, ErrConnection, ErrStream or
// ErrSessionClosed to check the kind. The underlying gRPC status is kept in
// the chain and can be retrieved with status.FromError.
//
// Drain returns stream failures as RecordBatchStream.Err does, passes
// context errors through unchanged and wraps sink failures with
// the number of batches already delivered, so errors.Is matches the sink's
// own error. Sink constructors and writers return the Arrow or compression
// error as is.
//
// # Memory Management
//
// Batches yielded by RecordBatchStream are valid until the next call to Next
// or Close. Retain a batch to keep it longer. CollectSink retains every batch
// it receives; call Release when done.
//
// # Testing
//
// The flighttest package runs an in-process Flight server that behaves like a
// Dremio coordinator. Its duckdbsource subpackage answers queries by running
// them in an embedded DuckDB.
package dremio
