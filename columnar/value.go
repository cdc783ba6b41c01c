// Package columnar moves cells between arrow records, plain Go values and
// Parquet files.
package columnar

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"taxifare-data/schema"
)

// Value returns the cell at row i of col as string, float64, int64,
// time.Time, bool or nil.
func Value(col arrow.Array, i int) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}

	switch c := col.(type) {
	case *array.String:
		return c.Value(i), nil
	case *array.LargeString:
		return c.Value(i), nil
	case *array.Boolean:
		return c.Value(i), nil
	case *array.Int8:
		return int64(c.Value(i)), nil
	case *array.Int16:
		return int64(c.Value(i)), nil
	case *array.Int32:
		return int64(c.Value(i)), nil
	case *array.Int64:
		return c.Value(i), nil
	case *array.Uint8:
		return int64(c.Value(i)), nil
	case *array.Uint16:
		return int64(c.Value(i)), nil
	case *array.Uint32:
		return int64(c.Value(i)), nil
	case *array.Float32:
		return float64(c.Value(i)), nil
	case *array.Float64:
		return c.Value(i), nil
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(i).ToTime(unit).UTC(), nil
	case *array.Date32:
		return c.Value(i).ToTime().UTC(), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", col.DataType())
	}
}

// Rows flattens rec into row-major Go values.
func Rows(rec arrow.Record) ([][]any, error) {
	rows := make([][]any, rec.NumRows())
	for r := range rows {
		rows[r] = make([]any, rec.NumCols())
	}
	for c, col := range rec.Columns() {
		for r := range rows {
			v, err := Value(col, r)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", rec.ColumnName(c), err)
			}
			rows[r][c] = v
		}
	}
	return rows, nil
}

// SemanticType reports the warehouse type an arrow column maps to.
func SemanticType(dt arrow.DataType) (schema.Type, bool) {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING:
		return schema.String, true
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return schema.Float, true
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return schema.Integer, true
	case arrow.TIMESTAMP, arrow.DATE32:
		return schema.Timestamp, true
	case arrow.BOOL:
		return schema.Boolean, true
	default:
		return 0, false
	}
}

// Columns describes the fields of an arrow schema as warehouse columns.
func Columns(s *arrow.Schema) ([]schema.Column, error) {
	cols := make([]schema.Column, s.NumFields())
	for i, f := range s.Fields() {
		typ, ok := SemanticType(f.Type)
		if !ok {
			return nil, fmt.Errorf("column %s: unsupported arrow type %s", f.Name, f.Type)
		}
		cols[i] = schema.Column{Name: f.Name, Type: typ, Nullable: f.Nullable, Native: f.Type.String()}
	}
	return cols, nil
}
