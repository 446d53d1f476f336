// Package duckdbsource executes test queries in an embedded DuckDB database
// and converts the rows to Arrow record batches.
package duckdbsource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/hugr-lab/dremio-flight-go/flighttest"
)

// DefaultBatchSize is the number of rows per record batch.
const DefaultBatchSize = 1024

// Source runs queries against a DuckDB database.
type Source struct {
	db        *sql.DB
	alloc     memory.Allocator
	batchSize int
}

// Options configures a Source.
type Options struct {
	// DSN of the DuckDB database.
	// OPTIONAL: in-memory database if empty.
	DSN string

	// BatchSize is the maximum number of rows per batch.
	// OPTIONAL: DefaultBatchSize if 0.
	BatchSize int

	// Allocator for Arrow memory management.
	// OPTIONAL: Uses memory.DefaultAllocator if nil.
	Allocator memory.Allocator
}

// Open opens the database described by opts.
func Open(opts Options) (*Source, error) {
	db, err := sql.Open("duckdb", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}

	s := &Source{db: db, alloc: opts.Allocator, batchSize: opts.BatchSize}
	if s.alloc == nil {
		s.alloc = memory.DefaultAllocator
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	return s, nil
}

// Exec runs a statement without results, e.g. to create fixtures.
func (s *Source) Exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Close closes the database.
func (s *Source) Close() error {
	return s.db.Close()
}

// Query implements flighttest.Source.
func (s *Source) Query(ctx context.Context, query string) (*flighttest.Result, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(colTypes))
	for i, ct := range colTypes {
		fields[i] = arrow.Field{Name: ct.Name(), Type: TypeToArrow(ct.DatabaseTypeName()), Nullable: true}
	}

	res := &flighttest.Result{Schema: arrow.NewSchema(fields, nil)}
	for {
		rec, err := s.nextBatch(rows, res.Schema)
		if err != nil {
			res.Release()
			return nil, err
		}
		if rec == nil {
			break
		}
		res.Batches = append(res.Batches, rec)
	}
	return res, nil
}

// nextBatch converts up to batchSize rows. Returns nil when rows is exhausted.
func (s *Source) nextBatch(rows *sql.Rows, schema *arrow.Schema) (arrow.RecordBatch, error) {
	builder := array.NewRecordBuilder(s.alloc, schema)
	defer builder.Release()

	numFields := schema.NumFields()
	values := make([]any, numFields)
	ptrs := make([]any, numFields)
	for i := range values {
		ptrs[i] = &values[i]
	}

	count := 0
	for count < s.batchSize && rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, val := range values {
			appendValue(builder.Field(i), val)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return builder.NewRecordBatch(), nil
}

// TypeToArrow maps a DuckDB type name to an Arrow DataType. Types without
// a direct mapping are rendered as strings.
func TypeToArrow(dbType string) arrow.DataType {
	switch strings.ToUpper(strings.TrimSpace(dbType)) {
	case "TINYINT":
		return arrow.PrimitiveTypes.Int8
	case "SMALLINT":
		return arrow.PrimitiveTypes.Int16
	case "INTEGER", "INT":
		return arrow.PrimitiveTypes.Int32
	case "BIGINT":
		return arrow.PrimitiveTypes.Int64
	case "UTINYINT":
		return arrow.PrimitiveTypes.Uint8
	case "USMALLINT":
		return arrow.PrimitiveTypes.Uint16
	case "UINTEGER":
		return arrow.PrimitiveTypes.Uint32
	case "UBIGINT":
		return arrow.PrimitiveTypes.Uint64
	case "FLOAT", "REAL":
		return arrow.PrimitiveTypes.Float32
	case "DOUBLE":
		return arrow.PrimitiveTypes.Float64
	case "BOOLEAN", "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case "BLOB", "BYTEA":
		return arrow.BinaryTypes.Binary
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIMESTAMP":
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case "TIMESTAMPTZ":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

func appendValue(builder array.Builder, val any) {
	if val == nil {
		builder.AppendNull()
		return
	}

	switch b := builder.(type) {
	case *array.Int8Builder:
		if v, ok := val.(int8); ok {
			b.Append(v)
			return
		}
	case *array.Int16Builder:
		if v, ok := val.(int16); ok {
			b.Append(v)
			return
		}
	case *array.Int32Builder:
		if v, ok := val.(int32); ok {
			b.Append(v)
			return
		}
	case *array.Int64Builder:
		if v, ok := val.(int64); ok {
			b.Append(v)
			return
		}
	case *array.Uint8Builder:
		if v, ok := val.(uint8); ok {
			b.Append(v)
			return
		}
	case *array.Uint16Builder:
		if v, ok := val.(uint16); ok {
			b.Append(v)
			return
		}
	case *array.Uint32Builder:
		if v, ok := val.(uint32); ok {
			b.Append(v)
			return
		}
	case *array.Uint64Builder:
		if v, ok := val.(uint64); ok {
			b.Append(v)
			return
		}
	case *array.Float32Builder:
		if v, ok := val.(float32); ok {
			b.Append(v)
			return
		}
	case *array.Float64Builder:
		if v, ok := val.(float64); ok {
			b.Append(v)
			return
		}
	case *array.BooleanBuilder:
		if v, ok := val.(bool); ok {
			b.Append(v)
			return
		}
	case *array.BinaryBuilder:
		if v, ok := val.([]byte); ok {
			b.Append(v)
			return
		}
	case *array.Date32Builder:
		if v, ok := val.(time.Time); ok {
			b.Append(arrow.Date32FromTime(v))
			return
		}
	case *array.TimestampBuilder:
		if v, ok := val.(time.Time); ok {
			b.Append(arrow.Timestamp(v.UnixMicro()))
			return
		}
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		default:
			b.Append(fmt.Sprint(v))
		}
		return
	}
	builder.AppendNull()
}
