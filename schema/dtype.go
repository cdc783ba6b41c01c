package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// DType is a coercion target for a column, spelled the way pandas spells it.
type DType string

const (
	Object   DType = "O"
	Float32  DType = "float32"
	Float64  DType = "float64"
	Int8     DType = "int8"
	Int16    DType = "int16"
	Int32    DType = "int32"
	Int64    DType = "int64"
	DateTime DType = "datetime64[ns]"
	Bool     DType = "bool"
)

// TimestampType is the arrow type of every timestamp column this module produces.
var TimestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "o", "object", "str", "string":
		return Object, nil
	case "float32", "f4":
		return Float32, nil
	case "float64", "float", "f8":
		return Float64, nil
	case "int8", "i1":
		return Int8, nil
	case "int16", "i2":
		return Int16, nil
	case "int32", "i4":
		return Int32, nil
	case "int64", "int", "i8":
		return Int64, nil
	case "datetime64[ns]", "datetime64[ns, utc]", "datetime", "timestamp":
		return DateTime, nil
	case "bool", "boolean":
		return Bool, nil
	default:
		return "", fmt.Errorf("unknown dtype %q", s)
	}
}

// ArrowType is the in-memory type a column coerced to d carries.
func (d DType) ArrowType() arrow.DataType {
	switch d {
	case Float32:
		return arrow.PrimitiveTypes.Float32
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case Int8:
		return arrow.PrimitiveTypes.Int8
	case Int16:
		return arrow.PrimitiveTypes.Int16
	case Int32:
		return arrow.PrimitiveTypes.Int32
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case DateTime:
		return TimestampType
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// Semantic is the warehouse type a column of dtype d round-trips to.
func (d DType) Semantic() Type {
	switch d {
	case Float32, Float64:
		return Float
	case Int8, Int16, Int32, Int64:
		return Integer
	case DateTime:
		return Timestamp
	case Bool:
		return Boolean
	default:
		return String
	}
}

// BitSize is the width of fixed-size numeric dtypes, zero otherwise.
func (d DType) BitSize() int {
	switch d {
	case Int8:
		return 8
	case Int16:
		return 16
	case Float32, Int32:
		return 32
	case Float64, Int64:
		return 64
	default:
		return 0
	}
}

// NativeDType is the dtype a column of type t keeps when no coercion map is given.
func NativeDType(t Type) DType {
	switch t {
	case Float:
		return Float64
	case Integer:
		return Int64
	case Timestamp:
		return DateTime
	case Boolean:
		return Bool
	default:
		return Object
	}
}

// DTypes maps column names to coercion targets.
type DTypes map[string]DType

// ParseDTypes reads "name:dtype,name:dtype".
func ParseDTypes(s string) (DTypes, error) {
	dtypes := DTypes{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed dtype entry %q", part)
		}
		d, err := ParseDType(typ)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		dtypes[strings.TrimSpace(name)] = d
	}
	return dtypes, nil
}

// Native builds the coercion map that keeps every column at its warehouse type.
func Native(s *TableSchema) DTypes {
	dtypes := make(DTypes, len(s.Columns))
	for _, col := range s.Columns {
		dtypes[col.Name] = NativeDType(col.Type)
	}
	return dtypes
}

// Names returns the mapped column names, sorted.
func (m DTypes) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
