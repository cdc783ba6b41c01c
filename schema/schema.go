package schema

import (
	"fmt"
	"strings"
)

// Type is the semantic type of a warehouse column.
type Type int

const (
	String Type = iota
	Float
	Integer
	Timestamp
	Boolean
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Float:
		return "float"
	case Integer:
		return "integer"
	case Timestamp:
		return "timestamp"
	case Boolean:
		return "boolean"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseType maps a warehouse native type name onto a semantic type.
// Names from BigQuery, PostgreSQL and DuckDB are understood.
func ParseType(native string) (Type, error) {
	name := strings.ToUpper(strings.TrimSpace(native))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}

	switch name {
	case "STRING", "TEXT", "VARCHAR", "CHARACTER VARYING", "CHARACTER", "CHAR", "BPCHAR", "UUID":
		return String, nil
	case "FLOAT", "FLOAT64", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL",
		"NUMERIC", "BIGNUMERIC", "DECIMAL":
		return Float, nil
	case "INTEGER", "INT", "INT64", "INT2", "INT4", "INT8", "SMALLINT", "BIGINT", "TINYINT",
		"HUGEINT", "UTINYINT", "USMALLINT", "UINTEGER":
		return Integer, nil
	case "TIMESTAMP", "DATETIME", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE",
		"TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return Timestamp, nil
	case "BOOL", "BOOLEAN":
		return Boolean, nil
	default:
		return 0, fmt.Errorf("unsupported column type %q", native)
	}
}

type Column struct {
	Name     string
	Type     Type
	Nullable bool
	// Native is the type name reported by the warehouse.
	Native string
}

type TableSchema struct {
	Dataset string
	Name    string
	Columns []Column
}

// Names returns column names in schema order.
func (s *TableSchema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

func (s *TableSchema) Column(name string) (Column, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return Column{}, false
}

// Layout maps each column name to its lower-case semantic type name.
func (s *TableSchema) Layout() map[string]string {
	layout := make(map[string]string, len(s.Columns))
	for _, col := range s.Columns {
		layout[col.Name] = col.Type.String()
	}
	return layout
}
