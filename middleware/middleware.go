// Package middleware provides the per-call interceptors used by a Dremio
// Flight session: bearer-token capture and cookie propagation.
//
// Every interceptor implements Middleware. A Chain holds them in a fixed order
// and is installed on the Flight client as grpc client interceptors, so the
// hooks run around every call in both directions:
//
//   - Outgoing is asked for additional headers before the call is sent.
//     Its output applies to that call only.
//   - Incoming receives the response headers once they arrive and may update
//     the middleware state.
package middleware

import (
	"errors"
	"sort"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Header keys used by the middlewares.
const (
	// HeaderAuthorization carries the bearer pair.
	HeaderAuthorization = "authorization"
	// HeaderCookie carries the cookies replayed to the server.
	HeaderCookie = "cookie"
	// HeaderSetCookie is the response header that updates the cookie jar.
	HeaderSetCookie = "set-cookie"
)

// ErrNoAuthorization is returned by Bearer.Incoming when the handshake
// response carries no authorization header.
var ErrNoAuthorization = errors.New("no authorization header in handshake response")

// Middleware is the capability shared by all per-call interceptors.
// Implementations MUST be goroutine-safe.
type Middleware interface {
	// Outgoing returns the headers to append after base for the next call.
	// It must not modify base and must not persist anything into it.
	Outgoing(base Headers) Headers

	// Incoming receives the response headers of a completed call.
	Incoming(md metadata.MD) error
}

// Header is a single key/value pair of call metadata.
type Header struct {
	Key   string
	Value string
}

// String returns the header in key=value form.
func (h Header) String() string {
	return h.Key + "=" + h.Value
}

// Headers is an ordered list of call headers. Duplicate keys are legal and
// accumulate, mirroring wire metadata.
type Headers []Header

// Append returns h extended with kv, which alternates keys and values.
// A trailing key without value is ignored.
func (h Headers) Append(kv ...string) Headers {
	for i := 0; i+1 < len(kv); i += 2 {
		h = append(h, Header{Key: kv[i], Value: kv[i+1]})
	}
	return h
}

// Clone returns a copy that shares no backing array with h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Get returns all values stored under key, compared case-insensitively,
// in insertion order.
func (h Headers) Get(key string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Key, key) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Pairs flattens the headers into the key/value list expected by
// metadata.AppendToOutgoingContext. Keys are lower-cased as grpc requires.
func (h Headers) Pairs() []string {
	kv := make([]string, 0, len(h)*2)
	for _, hdr := range h {
		kv = append(kv, strings.ToLower(hdr.Key), hdr.Value)
	}
	return kv
}

// ParseHeader parses a "key=value" pair. The value may itself contain '='.
func ParseHeader(s string) (Header, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return Header{}, errors.New("header must use key=value form: " + s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Header{}, errors.New("header key is empty: " + s)
	}
	return Header{Key: key, Value: value}, nil
}

// lookup returns the values of md stored under key, compared
// case-insensitively. Keys differing only in case are visited in sorted order.
func lookup(md metadata.MD, key string) []string {
	var keys []string
	for k := range md {
		if strings.EqualFold(k, key) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var values []string
	for _, k := range keys {
		values = append(values, md[k]...)
	}
	return values
}
