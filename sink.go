package dremio

import (
	"errors"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/hugr-lab/dremio-flight-go/internal/compress"
)

// Sink consumes record batches drained from a stream. A batch passed to
// Write is only valid during the call; retain it to keep it.
type Sink interface {
	Write(rec arrow.RecordBatch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec arrow.RecordBatch) error

// Write calls f(rec).
func (f SinkFunc) Write(rec arrow.RecordBatch) error {
	return f(rec)
}

// CollectSink keeps every batch in memory, in arrival order.
// Call Release when done with the batches.
type CollectSink struct {
	mu      sync.Mutex
	batches []arrow.RecordBatch
}

// Write retains rec and appends it to the collected batches. It never fails.
func (s *CollectSink) Write(rec arrow.RecordBatch) error {
	rec.Retain()
	s.mu.Lock()
	s.batches = append(s.batches, rec)
	s.mu.Unlock()
	return nil
}

// Batches returns the collected batches.
func (s *CollectSink) Batches() []arrow.RecordBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]arrow.RecordBatch(nil), s.batches...)
}

// NumRows returns the total number of collected rows.
func (s *CollectSink) NumRows() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.batches {
		n += rec.NumRows()
	}
	return n
}

// Release releases every collected batch and empties the sink.
func (s *CollectSink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.batches {
		rec.Release()
	}
	s.batches = nil
}

// IPCSinkOptions configures an IPCSink.
type IPCSinkOptions struct {
	// Zstd compresses the whole IPC stream with ZStandard.
	// OPTIONAL.
	Zstd bool

	// Allocator for the IPC writer.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator
}

// IPCSink writes batches as an Arrow IPC stream.
type IPCSink struct {
	writer *ipc.Writer
	zw     *compress.Writer
	closed bool
}

// NewIPCSink creates a sink writing an IPC stream with the given schema to w.
// Close must be called to write the end-of-stream marker; it does not close w.
func NewIPCSink(w io.Writer, schema *arrow.Schema, opts IPCSinkOptions) (*IPCSink, error) {
	alloc := opts.Allocator
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}

	sink := &IPCSink{}
	if opts.Zstd {
		zw, err := compress.NewWriter(w)
		if err != nil {
			return nil, err
		}
		sink.zw = zw
		w = zw
	}
	sink.writer = ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	return sink, nil
}

// Write appends rec to the IPC stream. rec must match the sink schema.
func (s *IPCSink) Write(rec arrow.RecordBatch) error {
	return s.writer.Write(rec)
}

// Close finishes the IPC stream and flushes the compressor. Idempotent.
func (s *IPCSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.writer.Close()
	if s.zw != nil {
		err = errors.Join(err, s.zw.Close())
	}
	return err
}
