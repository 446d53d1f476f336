package middleware

import (
	"errors"

	"google.golang.org/grpc/metadata"
)

// Chain is an ordered, fixed list of middlewares.
// The composition is decided when the session is built and never changes.
type Chain struct {
	mws []Middleware
}

// NewChain creates a chain invoking mws in the given order. Nil entries are
// dropped.
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{mws: make([]Middleware, 0, len(mws))}
	for _, mw := range mws {
		if mw != nil {
			c.mws = append(c.mws, mw)
		}
	}
	return c
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.mws)
}

// Middlewares returns the chain members in order.
func (c *Chain) Middlewares() []Middleware {
	out := make([]Middleware, len(c.mws))
	copy(out, c.mws)
	return out
}

// Outgoing concatenates the contributions of every middleware, in chain
// order. base is passed through unchanged.
func (c *Chain) Outgoing(base Headers) Headers {
	var out Headers
	for _, mw := range c.mws {
		out = append(out, mw.Outgoing(base)...)
	}
	return out
}

// Incoming feeds md to every middleware. All middlewares see the headers
// even if an earlier one fails; the failures are joined.
func (c *Chain) Incoming(md metadata.MD) error {
	var errs []error
	for _, mw := range c.mws {
		if err := mw.Incoming(md); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
