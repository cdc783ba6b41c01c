package chunk

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/labstack/gommon/color"

	"taxifare-data/columnar"
	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

// Writer saves records to the tables of one warehouse.
type Writer struct {
	wh      warehouse.Warehouse
	schemas *schema.Manager
	opts    options
}

// NewWriter builds a Writer over wh.
func NewWriter(wh warehouse.Warehouse, opts ...Option) *Writer {
	return &Writer{
		wh:      wh,
		schemas: schema.NewSchemaManager(wh),
		opts:    newOptions(opts),
	}
}

// Save appends rec to table, or replaces the table contents with rec when
// replace is true. Either every row lands or none does. The record must
// carry exactly the table's columns; values are converted to the column
// types of the table and any that do not fit fail the whole save.
func (w *Writer) Save(ctx context.Context, table string, rec arrow.Record, replace bool) (int64, error) {
	if w.opts.verbose {
		w.opts.logger.Info(color.Blue(fmt.Sprintf("Save data to %s %s:", w.wh.Name(), table)))
	}
	if table == "" {
		return 0, warehouse.TableNotFound{Table: table}
	}
	if rec == nil {
		return 0, warehouse.SchemaMismatch{Table: table, Reason: "no data"}
	}

	ts, err := w.schemas.GetSchema(ctx, table)
	if err != nil {
		return 0, err
	}

	batch, err := toBatch(ts, rec)
	if err != nil {
		return 0, err
	}

	n, err := w.wh.Put(ctx, table, batch, replace)
	if err != nil {
		return 0, fmt.Errorf("saving %s: %w", table, err)
	}
	w.opts.logger.Debugf("saved %d rows to %s (replace=%t)", n, table, replace)
	return n, nil
}

// toBatch lays rec out in table column order with values converted to the
// table's column types.
func toBatch(ts *schema.TableSchema, rec arrow.Record) (*warehouse.Batch, error) {
	fields := rec.Schema().Fields()
	position := make(map[string]int, len(fields))
	for i, f := range fields {
		position[f.Name] = i
	}
	for _, f := range fields {
		if _, ok := ts.Column(f.Name); !ok {
			return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: f.Name, Reason: "not in table"}
		}
	}
	if len(position) != len(fields) {
		return nil, warehouse.SchemaMismatch{Table: ts.Name, Reason: "duplicate column names"}
	}

	batch := &warehouse.Batch{
		Columns: ts.Names(),
		Rows:    make([][]any, rec.NumRows()),
	}
	for r := range batch.Rows {
		batch.Rows[r] = make([]any, len(ts.Columns))
	}

	for c, col := range ts.Columns {
		pos, ok := position[col.Name]
		if !ok {
			return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: col.Name, Reason: "missing from data"}
		}
		target := schema.NativeDType(col.Type)
		arr := rec.Column(pos)

		for r := range batch.Rows {
			v, err := columnar.Value(arr, r)
			if err != nil {
				return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: col.Name, Err: err}
			}
			if v == nil {
				if !col.Nullable {
					return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: col.Name, Reason: fmt.Sprintf("null in required column at row %d", r)}
				}
				continue
			}
			cv, err := convert(v, target)
			if err != nil {
				return nil, warehouse.SchemaMismatch{
					Table:  ts.Name,
					Column: col.Name,
					Err:    warehouse.DataTypeMismatch{Column: col.Name, Value: v, Target: col.Type.String(), Err: err},
				}
			}
			batch.Rows[r][c] = cv
		}
	}
	return batch, nil
}
