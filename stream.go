package dremio

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
)

// RecordBatchStream is a finite, ordered sequence of record batches read
// from one endpoint.
//
// Iterate with Next and RecordBatch, then check Err:
//
//	for stream.Next() {
//	    rec := stream.RecordBatch()
//	    ...
//	}
//	if err := stream.Err(); err != nil {
//	    return err
//	}
//
// Once Next has returned false it keeps returning false; batches are never
// replayed. A RecordBatchStream is not safe for concurrent use.
type RecordBatchStream struct {
	reader  *flight.Reader
	cancel  context.CancelFunc
	schema  *arrow.Schema
	logger  *slog.Logger
	metrics *Metrics

	current arrow.RecordBatch
	done    bool
	err     error

	batches int
	rows    int64
}

func newRecordBatchStream(reader *flight.Reader, cancel context.CancelFunc, logger *slog.Logger, metrics *Metrics) *RecordBatchStream {
	return &RecordBatchStream{
		reader:  reader,
		cancel:  cancel,
		schema:  reader.Schema(),
		logger:  logger,
		metrics: metrics,
	}
}

// Schema returns the schema shared by every batch of the stream.
func (r *RecordBatchStream) Schema() *arrow.Schema {
	return r.schema
}

// Next advances to the next batch. It returns false at the end of the
// stream or on failure; Err tells them apart.
func (r *RecordBatchStream) Next() bool {
	if r.done {
		return false
	}

	if r.reader.Next() {
		r.current = r.reader.RecordBatch()
		r.batches++
		r.rows += r.current.NumRows()
		r.metrics.observeBatch(r.current.NumRows())
		return true
	}

	r.current = nil
	if err := r.reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		r.err = transportError("fetch", ErrStream, err)
	}
	r.finish(r.err)
	return false
}

// RecordBatch returns the current batch. It is valid until the next call to
// Next or Close; call Retain to keep it longer.
func (r *RecordBatchStream) RecordBatch() arrow.RecordBatch {
	return r.current
}

// Err returns the failure that ended the stream, or nil after a clean end.
func (r *RecordBatchStream) Err() error {
	return r.err
}

// Batches returns the number of batches delivered so far.
func (r *RecordBatchStream) Batches() int {
	return r.batches
}

// Rows returns the number of rows delivered so far.
func (r *RecordBatchStream) Rows() int64 {
	return r.rows
}

// Close cancels the underlying call and releases the reader. Close is
// idempotent and does not change Err.
func (r *RecordBatchStream) Close() error {
	if r.done {
		return nil
	}
	r.current = nil
	r.finish(context.Canceled)
	return nil
}

func (r *RecordBatchStream) finish(result error) {
	r.done = true
	r.reader.Release()
	r.cancel()
	r.metrics.observeQuery(result)

	if result != nil && !errors.Is(result, context.Canceled) {
		r.logger.Warn("Result stream failed", "batches", r.batches, "rows", r.rows, "error", result)
		return
	}
	r.logger.Debug("Result stream finished", "batches", r.batches, "rows", r.rows, "result", resultLabel(result))
}
