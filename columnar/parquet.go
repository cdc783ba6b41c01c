package columnar

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"taxifare-data/schema"
)

// ParquetSchema builds a flat Parquet schema with one leaf per column.
func ParquetSchema(columns []schema.Column) (*parquet.Schema, error) {
	root := make(parquet.Group)

	for _, col := range columns {
		var node parquet.Node

		switch col.Type {
		case schema.String:
			node = parquet.String()
		case schema.Float:
			node = parquet.Leaf(parquet.DoubleType)
		case schema.Integer:
			node = parquet.Int(64)
		case schema.Timestamp:
			node = parquet.Timestamp(parquet.Microsecond)
		case schema.Boolean:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			return nil, fmt.Errorf("unsupported type %s for column %s", col.Type, col.Name)
		}

		if col.Nullable {
			node = parquet.Optional(node)
		}
		root[col.Name] = node
	}

	return parquet.NewSchema("schema", root), nil
}

// WriteParquet writes rows, laid out like columns, as a single Parquet file.
func WriteParquet(w io.Writer, columns []schema.Column, rows [][]any) error {
	parquetSchema, err := ParquetSchema(columns)
	if err != nil {
		return fmt.Errorf("creating parquet schema: %w", err)
	}

	pw := parquet.NewGenericWriter[map[string]any](w, parquetSchema)

	records := make([]map[string]any, 0, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d has %d values, want %d", r, len(row), len(columns))
		}
		record := make(map[string]any, len(columns))
		for c, col := range columns {
			v, err := parquetValue(col, row[c])
			if err != nil {
				return fmt.Errorf("row %d: %w", r, err)
			}
			record[col.Name] = v
		}
		records = append(records, record)
	}

	if _, err := pw.Write(records); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func parquetValue(col schema.Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("column %s: null in required column", col.Name)
		}
		return nil, nil
	}

	switch col.Type {
	case schema.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.Float:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	case schema.Integer:
		if i, ok := v.(int64); ok {
			return i, nil
		}
	case schema.Timestamp:
		if t, ok := v.(time.Time); ok {
			return t.UnixMicro(), nil
		}
	case schema.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("column %s: %T does not fit %s", col.Name, v, col.Type)
}
