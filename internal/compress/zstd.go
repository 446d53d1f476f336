// Package compress wraps ZStandard streaming compression for result files.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Writer compresses everything written to it into the underlying writer.
// Close must be called to flush the final frame; it does not close the
// underlying writer.
type Writer struct {
	encoder *zstd.Encoder
}

// NewWriter creates a compressing writer.
// Uses SpeedDefault (level 3) for balanced compression ratio and speed.
func NewWriter(w io.Writer) (*Writer, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Writer{encoder: encoder}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.encoder.Write(p)
}

// Close flushes pending data and releases the encoder.
func (w *Writer) Close() error {
	if err := w.encoder.Close(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

// Reader decompresses a stream produced by Writer.
type Reader struct {
	decoder *zstd.Decoder
}

// NewReader creates a decompressing reader over r.
// Caller must call Close() when done to release resources.
func NewReader(r io.Reader) (*Reader, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder}, nil
}

func (r *Reader) Read(p []byte) (int, error) {
	return r.decoder.Read(p)
}

// Close releases decoder resources.
func (r *Reader) Close() {
	r.decoder.Close()
}
