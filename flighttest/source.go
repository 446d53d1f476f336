package flighttest

import (
	"context"
	"errors"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrUnknownQuery is returned by a Source that has no result for a query.
// The server reports it as NotFound.
var ErrUnknownQuery = errors.New("unknown query")

// Source produces the result of a query.
// Implementations MUST be goroutine-safe.
type Source interface {
	// Query returns the result of query. The returned Result is owned by
	// the caller, which releases it.
	Query(ctx context.Context, query string) (*Result, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, query string) (*Result, error)

func (f SourceFunc) Query(ctx context.Context, query string) (*Result, error) {
	return f(ctx, query)
}

// Result is a materialized query result.
type Result struct {
	Schema  *arrow.Schema
	Batches []arrow.RecordBatch
}

// NumRows returns the total number of rows of r.
func (r *Result) NumRows() int64 {
	var n int64
	for _, rec := range r.Batches {
		n += rec.NumRows()
	}
	return n
}

// Release releases every batch of r.
func (r *Result) Release() {
	for _, rec := range r.Batches {
		rec.Release()
	}
	r.Batches = nil
}

// StaticSource serves registered results by exact query text.
type StaticSource struct {
	mu      sync.RWMutex
	results map[string]*Result
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{results: make(map[string]*Result)}
}

// Add registers the batches returned for query. The source takes a
// reference to each batch; schema is taken from the first batch when nil.
func (s *StaticSource) Add(query string, schema *arrow.Schema, batches ...arrow.RecordBatch) {
	if schema == nil && len(batches) > 0 {
		schema = batches[0].Schema()
	}
	for _, rec := range batches {
		rec.Retain()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.results[query]; ok {
		old.Release()
	}
	s.results[query] = &Result{Schema: schema, Batches: batches}
}

// Query implements Source. Each call returns its own references.
func (s *StaticSource) Query(_ context.Context, query string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[query]
	if !ok {
		return nil, ErrUnknownQuery
	}
	batches := make([]arrow.RecordBatch, len(res.Batches))
	for i, rec := range res.Batches {
		rec.Retain()
		batches[i] = rec
	}
	return &Result{Schema: res.Schema, Batches: batches}, nil
}

// Release releases every registered result.
func (s *StaticSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q, res := range s.results {
		res.Release()
		delete(s.results, q)
	}
}
