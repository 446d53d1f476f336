package middleware

import (
	"sync"

	"google.golang.org/grpc/metadata"
)

// Bearer captures the bearer pair returned by the handshake call.
//
// The pair is captured exactly once and never refreshed. After capture the
// session folds it into its base headers, so Outgoing contributes nothing
// and further responses are ignored.
type Bearer struct {
	mu       sync.Mutex
	pair     Header
	captured bool
}

// NewBearer creates a Bearer with no captured pair.
func NewBearer() *Bearer {
	return &Bearer{}
}

// Outgoing implements Middleware. The bearer pair travels in the base
// headers, never as a per-call addition.
func (b *Bearer) Outgoing(Headers) Headers {
	return nil
}

// Incoming implements Middleware.
// Before capture, the first authorization value (key matched
// case-insensitively) is stored raw; a response without one yields
// ErrNoAuthorization. After capture this is a no-op.
func (b *Bearer) Incoming(md metadata.MD) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.captured {
		return nil
	}

	values := lookup(md, HeaderAuthorization)
	if len(values) == 0 {
		return ErrNoAuthorization
	}

	b.pair = Header{Key: HeaderAuthorization, Value: values[0]}
	b.captured = true
	return nil
}

// Captured returns the captured bearer pair and whether one is present.
func (b *Bearer) Captured() (Header, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pair, b.captured
}
