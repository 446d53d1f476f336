package middleware

import (
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc/metadata"
)

// Cookie receives cookies from set-cookie response headers and replays them
// on every following call.
//
// Only the name=value pair of each cookie is kept; attributes such as Path or
// Expires are discarded and entries never expire. The jar keeps the latest
// value per name and the order in which names were first seen.
type Cookie struct {
	mu     sync.Mutex
	names  []string
	values map[string]string
}

// NewCookie creates a Cookie with an empty jar.
func NewCookie() *Cookie {
	return &Cookie{values: make(map[string]string)}
}

// Outgoing implements Middleware. It yields a single cookie header joining
// the jar as "name=value" pairs separated by "; ", or nothing when the jar
// is empty.
func (c *Cookie) Outgoing(Headers) Headers {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.names) == 0 {
		return nil
	}

	var sb strings.Builder
	for i, name := range c.names {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(c.values[name])
	}
	return Headers{{Key: HeaderCookie, Value: sb.String()}}
}

// Incoming implements Middleware. Values that do not parse as a cookie
// are skipped.
func (c *Cookie) Incoming(md metadata.MD) error {
	lines := lookup(md, HeaderSetCookie)
	if len(lines) == 0 {
		return nil
	}

	parsed := make([]*http.Cookie, 0, len(lines))
	for _, line := range lines {
		ck, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		parsed = append(parsed, ck)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range parsed {
		if _, seen := c.values[ck.Name]; !seen {
			c.names = append(c.names, ck.Name)
		}
		c.values[ck.Name] = ck.Value
	}
	return nil
}

// Cookies returns a snapshot of the jar in first-seen order.
func (c *Cookie) Cookies() Headers {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(Headers, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, Header{Key: name, Value: c.values[name]})
	}
	return out
}
