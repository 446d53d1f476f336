package flighttest

import (
	"context"
	"path"

	"google.golang.org/grpc/metadata"
)

// Call is one RPC received by the server.
type Call struct {
	// Method is the short RPC name, e.g. "Handshake" or "DoGet".
	Method string

	// Metadata holds the request headers as received.
	Metadata metadata.MD
}

// Get returns the values of a request header.
func (c Call) Get(key string) []string {
	return c.Metadata.Get(key)
}

func (s *Server) record(ctx context.Context, fullMethod string) {
	md, _ := metadata.FromIncomingContext(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: path.Base(fullMethod), Metadata: md.Copy()})
}

// Calls returns every RPC received so far, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the received calls of one method.
func (s *Server) CallsTo(method string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
