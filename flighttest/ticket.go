package flighttest

import (
	"errors"
	"fmt"

	"github.com/hugr-lab/dremio-flight-go/internal/msgpack"
)

// ticketData is the decoded content of a Flight ticket. A ticket refers to
// a result resolved by GetFlightInfo and can be fetched once.
type ticketData struct {
	// ID identifies the pending result.
	ID string `msgpack:"id"`

	// Query is the query text the result was resolved from.
	Query string `msgpack:"query"`
}

func encodeTicket(id, query string) ([]byte, error) {
	if id == "" {
		return nil, errors.New("ticket id cannot be empty")
	}
	return msgpack.Encode(ticketData{ID: id, Query: query})
}

func decodeTicket(data []byte) (*ticketData, error) {
	var t ticketData
	if err := msgpack.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	if t.ID == "" {
		return nil, errors.New("decoded ticket has empty id")
	}
	return &t, nil
}
