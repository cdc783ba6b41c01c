package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

type Warehouse struct {
	pool   *pgxpool.Pool
	schema string
}

var (
	_ warehouse.Warehouse = (*Warehouse)(nil)
	_ warehouse.Catalog   = (*Warehouse)(nil)
)

func Connect(ctx context.Context, url, schemaName string) (*Warehouse, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if schemaName == "" {
		schemaName = "public"
	}
	return &Warehouse{pool: pool, schema: schemaName}, nil
}

func (w *Warehouse) Name() string {
	return "postgres"
}

func (w *Warehouse) Project() string {
	return ""
}

func (w *Warehouse) Close() error {
	w.pool.Close()
	return nil
}

func (w *Warehouse) ident(table string) pgx.Identifier {
	return pgx.Identifier{w.schema, table}
}

func (w *Warehouse) Describe(ctx context.Context, table string) (*schema.TableSchema, error) {
	if err := warehouse.ValidateIdentifier(table); err != nil {
		return nil, warehouse.TableNotFound{Table: table, Err: err}
	}

	query := `
        SELECT
            c.column_name,
            c.is_nullable,
            t.typname AS data_type
        FROM information_schema.columns c
        JOIN pg_catalog.pg_type t ON c.udt_name = t.typname
        WHERE c.table_schema = $1 AND c.table_name = $2
        ORDER BY c.ordinal_position;
    `

	rows, err := w.pool.Query(ctx, query, w.schema, table)
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
		if err := rows.Scan(&col.Name, &nullable, &col.Native); err != nil {
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
	sql, args := scanQuery(w.ident(q.Table), q)

	rows, err := w.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(q.Table, false, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &warehouse.Rows{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
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

func scanQuery(table pgx.Identifier, q warehouse.Query) (string, []any) {
	quote := func(c string) string { return pgx.Identifier{c}.Sanitize() }

	sql := fmt.Sprintf(
		"SELECT %s FROM %s%s",
		warehouse.SelectList(q.Columns, quote),
		table.Sanitize(),
		warehouse.OrderClause(q.OrderBy, quote),
	)
	args := []any{}
	if q.Limit >= 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, q.Offset)
	sql += fmt.Sprintf(" OFFSET $%d", len(args))
	return sql, args
}

// Put truncates (when replacing) and copies the batch in one transaction, so
// readers see either the old contents or the new ones.
func (w *Warehouse) Put(ctx context.Context, table string, b *warehouse.Batch, replace bool) (int64, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, classify(table, true, fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback(context.Background())

	if replace {
		if _, err := tx.Exec(ctx, "TRUNCATE "+w.ident(table).Sanitize()); err != nil {
			return 0, classify(table, true, fmt.Errorf("truncating: %w", err))
		}
	}

	n, err := tx.CopyFrom(ctx, w.ident(table), b.Columns, pgx.CopyFromRows(b.Rows))
	if err != nil {
		return 0, classify(table, true, fmt.Errorf("copying rows: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(table, true, fmt.Errorf("committing: %w", err))
	}
	return n, nil
}

func (w *Warehouse) Datasets(ctx context.Context) ([]string, error) {
	return w.strings(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
}

func (w *Warehouse) Tables(ctx context.Context) ([]string, error) {
	return w.strings(ctx, `
        SELECT table_name FROM information_schema.tables
        WHERE table_schema = $1
        ORDER BY table_name
    `, w.schema)
}

func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	if err := warehouse.ValidateIdentifier(table); err != nil {
		return 0, warehouse.TableNotFound{Table: table, Err: err}
	}
	var n int64
	if err := w.pool.QueryRow(ctx, "SELECT count(*) FROM "+w.ident(table).Sanitize()).Scan(&n); err != nil {
		return 0, classify(table, false, err)
	}
	return n, nil
}

func (w *Warehouse) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// normalize turns pgx composite values into plain Go values.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return x
		}
		return f.Float64
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

	transient := func() error {
		if sink {
			return warehouse.SinkError(table, err)
		}
		return warehouse.SourceError(table, err)
	}

	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) {
		switch {
		case pgerr.Code == pgerrcode.UndefinedTable, pgerr.Code == pgerrcode.InvalidSchemaName:
			return warehouse.TableNotFound{Table: table, Err: err}
		case pgerr.Code == pgerrcode.UndefinedColumn, pgerr.Code == pgerrcode.DatatypeMismatch,
			pgerrcode.IsDataException(pgerr.Code), pgerrcode.IsIntegrityConstraintViolation(pgerr.Code):
			if sink {
				return warehouse.SchemaMismatch{Table: table, Column: pgerr.ColumnName, Err: err}
			}
			return err
		case pgerrcode.IsConnectionException(pgerr.Code),
			pgerrcode.IsInsufficientResources(pgerr.Code),
			pgerrcode.IsOperatorIntervention(pgerr.Code),
			pgerr.Code == pgerrcode.SerializationFailure,
			pgerr.Code == pgerrcode.DeadlockDetected:
			return transient()
		}
		return err
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return transient()
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return transient()
	}
	return err
}
