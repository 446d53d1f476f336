package middleware

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ClientMiddleware installs the chain on a Flight client.
//
// Before every call the chain's outgoing contribution is appended to the
// outgoing metadata. Response headers and trailers are fed to the chain when
// a unary call returns, or when a stream delivers its first message and when
// it terminates. A failing hook fails the call.
func (c *Chain) ClientMiddleware() flight.ClientMiddleware {
	return flight.ClientMiddleware{
		Unary:  c.UnaryClientInterceptor(),
		Stream: c.StreamClientInterceptor(),
	}
}

// UnaryClientInterceptor creates a grpc unary client interceptor running the chain.
func (c *Chain) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx = c.outgoingContext(ctx)

		var header, trailer metadata.MD
		opts = append(opts, grpc.Header(&header), grpc.Trailer(&trailer))

		err := invoker(ctx, method, req, reply, cc, opts...)
		hookErr := c.Incoming(metadata.Join(header, trailer))
		if err != nil {
			// the call status wins over hook failures
			return err
		}
		return hookErr
	}
}

// StreamClientInterceptor creates a grpc stream client interceptor running the chain.
func (c *Chain) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx = c.outgoingContext(ctx)

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			return nil, err
		}
		return &observedClientStream{ClientStream: cs, chain: c}, nil
	}
}

// outgoingContext appends the chain's contribution for this call.
func (c *Chain) outgoingContext(ctx context.Context) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	extra := c.Outgoing(headersFromMD(md))
	if len(extra) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, extra.Pairs()...)
}

// observedClientStream wraps grpc.ClientStream to feed response metadata to
// the chain.
type observedClientStream struct {
	grpc.ClientStream
	chain *Chain

	headerOnce  sync.Once
	trailerOnce sync.Once
	hookErr     error
}

// RecvMsg receives a message and runs the incoming hooks on the first call
// and on termination. A hook failure is returned by this and every
// following RecvMsg.
func (s *observedClientStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)

	s.headerOnce.Do(func() {
		md, hdrErr := s.ClientStream.Header()
		if hdrErr != nil {
			return
		}
		s.hookErr = s.chain.Incoming(md)
	})

	if err != nil {
		s.trailerOnce.Do(func() {
			trailer := s.ClientStream.Trailer()
			if len(trailer) == 0 {
				return
			}
			if hookErr := s.chain.Incoming(trailer); hookErr != nil && s.hookErr == nil {
				s.hookErr = hookErr
			}
		})
		if err != io.EOF {
			return err
		}
	}

	if s.hookErr != nil {
		return s.hookErr
	}
	return err
}

func headersFromMD(md metadata.MD) Headers {
	if len(md) == 0 {
		return nil
	}
	out := make(Headers, 0, md.Len())
	for k, values := range md {
		for _, v := range values {
			out = append(out, Header{Key: k, Value: v})
		}
	}
	return out
}
