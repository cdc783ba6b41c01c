// Package duckdb serves chunks from a DuckDB database file or an in-memory
// database, mostly for local development and tests.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goduckdb "github.com/marcboeker/go-duckdb"

	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

type Warehouse struct {
	db     *sql.DB
	schema string
}

var (
	_ warehouse.Warehouse = (*Warehouse)(nil)
	_ warehouse.Catalog   = (*Warehouse)(nil)
)

// Open opens the DuckDB database at path; an empty path is in-memory.
func Open(path, schemaName string) (*Warehouse, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging duckdb: %w", err)
	}
	return New(db, schemaName), nil
}

// New wraps an open database handle. Tables are looked up in schemaName.
func New(db *sql.DB, schemaName string) *Warehouse {
	if schemaName == "" {
		schemaName = "main"
	}
	return &Warehouse{db: db, schema: schemaName}
}

func (w *Warehouse) Name() string {
	return "duckdb"
}

func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) Project() string {
	return ""
}

func (w *Warehouse) qualified(table string) string {
	return warehouse.QuoteIdent(w.schema) + "." + warehouse.QuoteIdent(table)
}

func (w *Warehouse) Describe(ctx context.Context, table string) (*schema.TableSchema, error) {
	if err := warehouse.ValidateIdentifier(table); err != nil {
		return nil, warehouse.TableNotFound{Table: table, Err: err}
	}

	rows, err := w.db.QueryContext(ctx, `
        SELECT column_name, data_type, is_nullable
        FROM information_schema.columns
        WHERE table_schema = ? AND table_name = ?
        ORDER BY ordinal_position
    `, w.schema, table)
	if err != nil {
		return nil, classify(table, false, fmt.Errorf("querying schema: %w", err))
	}
	defer rows.Close()

	ts := &schema.TableSchema{
		Dataset: w.schema,
		Name:    table,
		Columns: make([]schema.Column, 0),
	}

	for rows.Next() {
		var col schema.Column
		var nullable string
		if err := rows.Scan(&col.Name, &col.Native, &nullable); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		typ, err := schema.ParseType(col.Native)
		if err != nil {
			return nil, warehouse.SchemaMismatch{Table: table, Column: col.Name, Err: err}
		}
		col.Type = typ
		col.Nullable = nullable == "YES"
		ts.Columns = append(ts.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(table, false, fmt.Errorf("reading rows: %w", err))
	}
	if len(ts.Columns) == 0 {
		return nil, warehouse.TableNotFound{Table: table}
	}

	return ts, nil
}

func (w *Warehouse) Scan(ctx context.Context, q warehouse.Query) (*warehouse.Rows, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s%s",
		warehouse.SelectList(q.Columns, warehouse.QuoteIdent),
		w.qualified(q.Table),
		warehouse.OrderClause(q.OrderBy, warehouse.QuoteIdent),
	)
	if q.Limit >= 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	query += fmt.Sprintf(" OFFSET %d", q.Offset)

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(q.Table, false, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(q.Table, false, err)
	}

	result := &warehouse.Rows{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range values {
			values[i] = normalize(v)
		}
		result.Values = append(result.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(q.Table, false, err)
	}

	return result, nil
}

func (w *Warehouse) Put(ctx context.Context, table string, b *warehouse.Batch, replace bool) (int64, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(table, true, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+w.qualified(table)); err != nil {
			return 0, classify(table, true, fmt.Errorf("truncating: %w", err))
		}
	}

	if len(b.Rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(b.Columns)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s)",
			w.qualified(table),
			warehouse.SelectList(b.Columns, warehouse.QuoteIdent),
			placeholders,
		))
		if err != nil {
			return 0, classify(table, true, fmt.Errorf("preparing insert: %w", err))
		}
		defer stmt.Close()

		for i, row := range b.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return 0, classify(table, true, fmt.Errorf("inserting row %d: %w", i, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(table, true, fmt.Errorf("committing: %w", err))
	}
	return int64(len(b.Rows)), nil
}

func (w *Warehouse) Datasets(ctx context.Context) ([]string, error) {
	return w.strings(ctx, `SELECT DISTINCT schema_name FROM information_schema.schemata ORDER BY schema_name`)
}

func (w *Warehouse) Tables(ctx context.Context) ([]string, error) {
	return w.strings(ctx, `
        SELECT table_name FROM information_schema.tables
        WHERE table_schema = ?
        ORDER BY table_name
    `, w.schema)
}

func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	if err := warehouse.ValidateIdentifier(table); err != nil {
		return 0, warehouse.TableNotFound{Table: table, Err: err}
	}
	var n int64
	if err := w.db.QueryRowContext(ctx, "SELECT count(*) FROM "+w.qualified(table)).Scan(&n); err != nil {
		return 0, classify(table, false, err)
	}
	return n, nil
}

func (w *Warehouse) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// normalize turns driver-specific values into plain Go values.
func normalize(v any) any {
	switch x := v.(type) {
	case goduckdb.Decimal:
		return x.Float64()
	case *goduckdb.Decimal:
		if x == nil {
			return nil
		}
		return x.Float64()
	default:
		return v
	}
}

func classify(table string, sink bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var de *goduckdb.Error
	if errors.As(err, &de) {
		switch de.Type {
		case goduckdb.ErrorTypeCatalog:
			return warehouse.TableNotFound{Table: table, Err: err}
		case goduckdb.ErrorTypeConversion, goduckdb.ErrorTypeMismatchType, goduckdb.ErrorTypeBinder,
			goduckdb.ErrorTypeConstraint, goduckdb.ErrorTypeOutOfRange:
			if sink {
				return warehouse.SchemaMismatch{Table: table, Err: err}
			}
		case goduckdb.ErrorTypeIO, goduckdb.ErrorTypeConnection, goduckdb.ErrorTypeNetwork,
			goduckdb.ErrorTypeInterrupt, goduckdb.ErrorTypeTransaction:
			if sink {
				return warehouse.SinkError(table, err)
			}
			return warehouse.SourceError(table, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		if sink {
			return warehouse.SinkError(table, err)
		}
		return warehouse.SourceError(table, err)
	}
	return err
}
