// Package warehouse defines what the chunk reader and writer need from a
// remote tabular store, and the errors every backend reports through.
//
// Backends never create or drop tables. Scan is a pure read and is safe to
// call concurrently. Put applies a whole batch or nothing; concurrent Put
// calls against one table must be serialized by the caller.
package warehouse

import (
	"context"

	"taxifare-data/schema"
)

// Query selects Limit rows starting at row Offset of the ordered table.
// A negative Limit selects every remaining row.
type Query struct {
	Table   string
	Columns []string
	OrderBy []string
	Offset  int64
	Limit   int64
}

// Rows is a row-major result with Go-native cell values.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Batch is a row-major set of rows to persist. Cell values are string,
// float64, int64, time.Time, bool or nil.
type Batch struct {
	Columns []string
	Rows    [][]any
}

type Warehouse interface {
	// Name identifies the backend in log lines.
	Name() string

	// Describe returns the schema of table, or TableNotFound.
	Describe(ctx context.Context, table string) (*schema.TableSchema, error)

	// Scan runs q. Offsets at or past the end yield no rows.
	Scan(ctx context.Context, q Query) (*Rows, error)

	// Put appends b to table. When replace is true the prior contents are
	// discarded in the same unit of work. It returns the number of rows written.
	Put(ctx context.Context, table string, b *Batch, replace bool) (int64, error)

	Close() error
}

// Catalog lists what a warehouse holds, for deployment checks.
type Catalog interface {
	// Project is the cloud project the credentials resolve to, if any.
	Project() string
	Datasets(ctx context.Context) ([]string, error)
	Tables(ctx context.Context) ([]string, error)
	RowCount(ctx context.Context, table string) (int64, error)
}
