package dremio

import (
	"context"
	"fmt"

	"github.com/hugr-lab/dremio-flight-go/internal/recovery"
)

// DrainStats counts what Drain delivered to the sink.
type DrainStats struct {
	Batches int
	Rows    int64
}

// Drain pulls every batch from stream into sink, in order, and closes the
// stream. It stops at the first sink failure, stream failure or context
// cancellation. A panic in the sink is returned as an error.
func Drain(ctx context.Context, stream *RecordBatchStream, sink Sink) (DrainStats, error) {
	defer stream.Close()

	var stats DrainStats
	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec := stream.RecordBatch()
		err := recovery.RecoverToError(stream.logger, "sink write", func() error {
			return sink.Write(rec)
		})
		if err != nil {
			return stats, fmt.Errorf("sink write after %d batches: %w", stats.Batches, err)
		}
		stats.Batches++
		stats.Rows += rec.NumRows()
	}

	return stats, stream.Err()
}

// Collect drains stream into a CollectSink. The caller releases the
// returned sink; on error it is already released.
func Collect(ctx context.Context, stream *RecordBatchStream) (*CollectSink, error) {
	sink := &CollectSink{}
	if _, err := Drain(ctx, stream, sink); err != nil {
		sink.Release()
		return nil, err
	}
	return sink, nil
}
