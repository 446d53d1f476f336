package dremio

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

func commandDescriptor(query string) *flight.FlightDescriptor {
	return &flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(query),
	}
}

// Execute resolves query into a ticket and opens the result stream of the
// first endpoint. The query text is passed through unchanged.
//
// Failures are of kind ErrStream, except an unreachable endpoint which is
// reported as ErrConnection.
func (s *Session) Execute(ctx context.Context, query string) (*RecordBatchStream, error) {
	if s.closed.Load() {
		return nil, &Error{Kind: ErrStream, Op: "execute", Err: ErrSessionClosed}
	}
	logger := s.logger.With("query_len", len(query))

	start := time.Now()
	info, err := s.client.GetFlightInfo(s.callContext(ctx), commandDescriptor(query))
	s.metrics.observeResolve(time.Since(start))
	if err != nil {
		err = transportError("resolve", ErrStream, err)
		s.metrics.observeQuery(err)
		logger.Debug("Failed to resolve query", "error", err)
		return nil, err
	}

	endpoints := info.GetEndpoint()
	if len(endpoints) == 0 {
		err := &Error{Kind: ErrStream, Op: "resolve", Detail: "no endpoints in flight info"}
		s.metrics.observeQuery(err)
		return nil, err
	}
	if len(endpoints) > 1 {
		logger.Debug("Fetching the first endpoint only", "endpoints", len(endpoints))
	}
	ticket := endpoints[0].GetTicket()
	if ticket == nil {
		err := &Error{Kind: ErrStream, Op: "resolve", Detail: "endpoint has no ticket"}
		s.metrics.observeQuery(err)
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.client.DoGet(s.callContext(streamCtx), ticket)
	if err != nil {
		cancel()
		err = transportError("fetch", ErrStream, err)
		s.metrics.observeQuery(err)
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		cancel()
		err = transportError("fetch", ErrStream, err)
		s.metrics.observeQuery(err)
		logger.Debug("Failed to open result stream", "error", err)
		return nil, err
	}

	logger.Debug("Result stream opened", "fields", reader.Schema().NumFields())
	return newRecordBatchStream(reader, cancel, logger, s.metrics), nil
}

// Schema resolves the result schema of query without executing it.
func (s *Session) Schema(ctx context.Context, query string) (*arrow.Schema, error) {
	if s.closed.Load() {
		return nil, &Error{Kind: ErrStream, Op: "schema", Err: ErrSessionClosed}
	}

	res, err := s.client.GetSchema(s.callContext(ctx), commandDescriptor(query))
	if err != nil {
		return nil, transportError("schema", ErrStream, err)
	}
	schema, err := flight.DeserializeSchema(res.GetSchema(), s.alloc)
	if err != nil {
		return nil, &Error{Kind: ErrStream, Op: "schema", Detail: "invalid schema payload", Err: err}
	}
	return schema, nil
}
