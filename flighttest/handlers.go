package flighttest

import (
	"context"
	"errors"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/hugr-lab/dremio-flight-go/internal/recovery"
)

// Session option action types.
const (
	actionSetSessionOptions = "SetSessionOptions"
	actionCloseSession      = "CloseSession"
)

// Handshake checks HTTP Basic credentials and replies with a bearer token
// and the configured cookies in the response headers.
func (s *Server) Handshake(stream flight.FlightService_HandshakeServer) error {
	username, password, err := basicCredentials(authorizationFromContext(stream.Context()))
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	if s.cfg.Passwords != nil && !s.cfg.Passwords(username, password) {
		s.logger.Debug("Handshake rejected", "username", username)
		return status.Error(codes.Unauthenticated, "invalid username or password")
	}

	header := metadata.MD{}
	if !s.cfg.OmitAuthorization {
		token := uuid.NewString()
		s.mu.Lock()
		s.issued[token] = username
		s.mu.Unlock()
		header.Append("authorization", bearerPrefix+token)
	}
	for _, c := range s.cfg.Cookies {
		header.Append("set-cookie", c)
	}
	if len(header) > 0 {
		if err := stream.SendHeader(header); err != nil {
			return err
		}
	}

	s.logger.Debug("Handshake accepted", "username", username)
	return stream.Send(&flight.HandshakeResponse{})
}

func (s *Server) resolve(ctx context.Context, desc *flight.FlightDescriptor) (*Result, error) {
	if desc.GetType() != flight.DescriptorCMD {
		return nil, status.Error(codes.InvalidArgument, "descriptor must be CMD type")
	}
	query := string(desc.GetCmd())

	res, err := recovery.RecoverToValue(s.logger, "source query", func() (*Result, error) {
		return s.cfg.Source.Query(ctx, query)
	})
	switch {
	case errors.Is(err, ErrUnknownQuery):
		return nil, status.Errorf(codes.NotFound, "unknown query: %q", query)
	case err != nil:
		s.logger.Error("Failed to resolve query", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to resolve query: %v", err)
	case res == nil || res.Schema == nil:
		return nil, status.Error(codes.Internal, "source returned no schema")
	}
	return res, nil
}

// GetFlightInfo resolves a command descriptor and returns a single endpoint
// whose ticket can be fetched once with DoGet.
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	s.logger.Debug("GetFlightInfo called", "type", desc.GetType(), "cmd_size", len(desc.GetCmd()))

	res, err := s.resolve(ctx, desc)
	if err != nil {
		return nil, err
	}

	if len(s.cfg.ResponseCookies) > 0 {
		header := metadata.MD{}
		for _, c := range s.cfg.ResponseCookies {
			header.Append("set-cookie", c)
		}
		if err := grpc.SetHeader(ctx, header); err != nil {
			res.Release()
			return nil, err
		}
	}

	info := &flight.FlightInfo{
		Schema:           flight.SerializeSchema(res.Schema, s.allocator),
		FlightDescriptor: desc,
		TotalRecords:     res.NumRows(),
		TotalBytes:       -1,
	}
	if s.cfg.NoEndpoints {
		res.Release()
		return info, nil
	}

	id := uuid.NewString()
	ticket, err := encodeTicket(id, string(desc.GetCmd()))
	if err != nil {
		res.Release()
		return nil, status.Errorf(codes.Internal, "failed to encode ticket: %v", err)
	}

	s.mu.Lock()
	s.pending[id] = res
	s.mu.Unlock()

	info.Endpoint = []*flight.FlightEndpoint{
		{Ticket: &flight.Ticket{Ticket: ticket}},
	}
	s.logger.Debug("GetFlightInfo successful",
		"identity", IdentityFromContext(ctx),
		"num_fields", res.Schema.NumFields(),
		"batches", len(res.Batches),
	)
	return info, nil
}

// GetSchema resolves a command descriptor and returns its result schema.
func (s *Server) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	res, err := s.resolve(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	return &flight.SchemaResult{Schema: flight.SerializeSchema(res.Schema, s.allocator)}, nil
}

// DoGet streams the result a ticket refers to. The ticket is consumed.
func (s *Server) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()

	td, err := decodeTicket(ticket.GetTicket())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	s.mu.Lock()
	res, ok := s.pending[td.ID]
	delete(s.pending, td.ID)
	s.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "ticket %s expired or already fetched", td.ID)
	}
	defer res.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(res.Schema), ipc.WithAllocator(s.allocator))

	var rows int64
	for i, rec := range res.Batches {
		if s.cfg.FailAfterBatches > 0 && i == s.cfg.FailAfterBatches {
			s.logger.Debug("Injected stream failure", "batches_sent", i)
			return status.Errorf(codes.Internal, "stream failed after %d batches", i)
		}

		select {
		case <-ctx.Done():
			return status.Error(codes.Canceled, "request cancelled")
		default:
		}

		if err := writer.Write(rec); err != nil {
			return status.Errorf(codes.Internal, "failed to write batch %d: %v", i+1, err)
		}
		rows += rec.NumRows()
	}

	if err := writer.Close(); err != nil {
		return status.Errorf(codes.Internal, "failed to finish stream: %v", err)
	}

	s.logger.Debug("DoGet completed", "query", td.Query, "batches", len(res.Batches), "rows", rows)
	return nil
}

// DoAction handles the session option actions.
func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	var (
		result proto.Message
		err    error
	)
	switch action.GetType() {
	case actionSetSessionOptions:
		result, err = s.setSessionOptions(action.GetBody())
	case actionCloseSession:
		result = s.closeSession()
	default:
		return status.Errorf(codes.Unimplemented, "unknown action: %s", action.GetType())
	}
	if err != nil {
		return err
	}

	body, err := proto.Marshal(result)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode action result: %v", err)
	}
	return stream.Send(&flight.Result{Body: body})
}

func (s *Server) setSessionOptions(body []byte) (proto.Message, error) {
	var req flight.SetSessionOptionsRequest
	if err := proto.Unmarshal(body, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid SetSessionOptions request: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, value := range req.GetSessionOptions() {
		s.sessionOptions[name] = value.GetStringValue()
	}
	return &flight.SetSessionOptionsResult{}, nil
}

func (s *Server) closeSession() proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedSessions++
	clear(s.sessionOptions)
	return &flight.CloseSessionResult{}
}
