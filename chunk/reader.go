// Package chunk reads ordered, type-coerced chunks of warehouse tables and
// writes record batches back to them.
package chunk

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/labstack/gommon/color"

	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

// Reader serves ordered, coerced chunks of the tables of one warehouse.
type Reader struct {
	wh      warehouse.Warehouse
	schemas *schema.Manager
	opts    options
}

// NewReader builds a Reader over wh. Schemas are described once per table.
func NewReader(wh warehouse.Warehouse, opts ...Option) *Reader {
	return &Reader{
		wh:      wh,
		schemas: schema.NewSchemaManager(wh),
		opts:    newOptions(opts),
	}
}

// Chunk returns up to size rows of table starting at row index, in a
// stable order. Columns named in dtypes are coerced to their dtype; the
// others keep their warehouse type. Naming a column the table lacks is a
// SchemaMismatch. An index at or past the end yields an empty record.
//
// The caller owns the returned record and must release it.
func (r *Reader) Chunk(ctx context.Context, table string, index int64, size Size, dtypes schema.DTypes) (arrow.Record, error) {
	if index < 0 || (!size.Unbounded() && size.Limit() < 0) {
		return nil, warehouse.InvalidRange{Index: index, Size: size.Limit()}
	}
	if table == "" {
		return nil, warehouse.TableNotFound{Table: table}
	}

	if r.opts.verbose {
		r.opts.logger.Info(color.Magenta(fmt.Sprintf(
			"Source data from %s %s: %s rows (from row %d)", r.wh.Name(), table, size, index,
		)))
	}

	ts, err := r.schemas.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	dtypes, err = resolve(ts, dtypes)
	if err != nil {
		return nil, err
	}

	fields := make([]arrow.Field, len(ts.Columns))
	for i, col := range ts.Columns {
		fields[i] = arrow.Field{Name: col.Name, Type: dtypes[col.Name].ArrowType(), Nullable: col.Nullable}
	}

	result := &warehouse.Rows{Columns: ts.Names()}
	if size.Limit() != 0 {
		result, err = r.wh.Scan(ctx, warehouse.Query{
			Table:   table,
			Columns: ts.Names(),
			OrderBy: r.orderBy(ts),
			Offset:  index,
			Limit:   size.Limit(),
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
	}

	return r.build(ts, fields, dtypes, result)
}

// Schema returns the warehouse schema of table.
func (r *Reader) Schema(ctx context.Context, table string) (*schema.TableSchema, error) {
	if table == "" {
		return nil, warehouse.TableNotFound{Table: table}
	}
	return r.schemas.GetSchema(ctx, table)
}

// Backend names the warehouse the reader pulls from.
func (r *Reader) Backend() string {
	return r.wh.Name()
}

// orderBy puts the configured key first when the table has it, then every
// other column in table order to break ties.
func (r *Reader) orderBy(ts *schema.TableSchema) []string {
	if _, ok := ts.Column(r.opts.orderBy); !ok {
		return ts.Names()
	}
	order := []string{r.opts.orderBy}
	for _, name := range ts.Names() {
		if name != r.opts.orderBy {
			order = append(order, name)
		}
	}
	return order
}

func (r *Reader) build(ts *schema.TableSchema, fields []arrow.Field, dtypes schema.DTypes, rows *warehouse.Rows) (arrow.Record, error) {
	position := make(map[string]int, len(rows.Columns))
	for i, name := range rows.Columns {
		position[name] = i
	}

	columns := make([]arrow.Array, len(fields))
	for c, col := range ts.Columns {
		pos, ok := position[col.Name]
		if !ok {
			releaseAll(columns)
			return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: col.Name, Reason: "missing from scan result"}
		}
		arr, err := coerceColumn(r.opts.mem, col.Name, dtypes[col.Name], len(rows.Values), func(i int) (any, error) {
			return rows.Values[i][pos], nil
		})
		if err != nil {
			releaseAll(columns)
			return nil, err
		}
		columns[c] = arr
	}

	return newRecord(fields, columns, int64(len(rows.Values))), nil
}

// resolve completes dtypes with the warehouse type of every unnamed column.
func resolve(ts *schema.TableSchema, dtypes schema.DTypes) (schema.DTypes, error) {
	for _, name := range dtypes.Names() {
		if _, ok := ts.Column(name); !ok {
			return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: name, Reason: "not in table"}
		}
	}
	resolved := schema.Native(ts)
	for name, d := range dtypes {
		resolved[name] = d
	}
	return resolved, nil
}

// Stream reads table from row 0 in consecutive chunks of size rows and
// hands each non-empty chunk to fn, stopping after the first short one.
// Records are released once fn returns; fn must retain any it keeps.
func (r *Reader) Stream(ctx context.Context, table string, size int64, dtypes schema.DTypes, fn func(index int64, rec arrow.Record) error) error {
	if size <= 0 {
		return warehouse.InvalidRange{Size: size}
	}

	for index := int64(0); ; index += size {
		rec, err := r.Chunk(ctx, table, index, Rows(size), dtypes)
		if err != nil {
			return err
		}
		n := rec.NumRows()
		if n == 0 {
			rec.Release()
			return nil
		}

		err = fn(index, rec)
		rec.Release()
		if err != nil {
			return err
		}
		if n < size {
			return nil
		}
	}
}
