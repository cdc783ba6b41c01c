package chunk

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

// TimeLayout renders timestamps coerced to strings.
const TimeLayout = "2006-01-02 15:04:05.999999 UTC"

// Accepted when parsing strings into timestamps. Zone-less values are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 UTC",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

var (
	errOutOfRange  = errors.New("out of range")
	errNotIntegral = errors.New("not an integral value")
	errUnsupported = errors.New("no conversion")
)

// convert returns v as the Go type backing target: string, float32,
// float64, int8 to int64, time.Time or bool. v must not be nil.
func convert(v any, target schema.DType) (any, error) {
	switch target {
	case schema.Object:
		return toString(v)
	case schema.Float32, schema.Float64:
		return toFloat(v, target.BitSize())
	case schema.Int8, schema.Int16, schema.Int32, schema.Int64:
		return toInt(v, target.BitSize())
	case schema.DateTime:
		return toTime(v)
	case schema.Bool:
		return toBool(v)
	default:
		return nil, fmt.Errorf("unknown dtype %q", target)
	}
}

// integer reports whether v is of an integer kind, and its value.
func integer(v any) (int64, bool, error) {
	switch x := v.(type) {
	case int:
		return int64(x), true, nil
	case int8:
		return int64(x), true, nil
	case int16:
		return int64(x), true, nil
	case int32:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case uint8:
		return int64(x), true, nil
	case uint16:
		return int64(x), true, nil
	case uint32:
		return int64(x), true, nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, true, errOutOfRange
		}
		return int64(x), true, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, true, errOutOfRange
		}
		return int64(x), true, nil
	}
	return 0, false, nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.UTC().Format(TimeLayout), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	}
	i, ok, _ := integer(v)
	if !ok {
		return "", errUnsupported
	}
	return strconv.FormatInt(i, 10), nil
}

func toFloat(v any, bits int) (any, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(x, bits)
		if err != nil {
			return nil, err
		}
		f = parsed
	default:
		i, ok, err := integer(v)
		if !ok {
			return nil, errUnsupported
		}
		if err != nil {
			return nil, err
		}
		f = float64(i)
	}

	if bits == 32 {
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, errOutOfRange
		}
		return float32(f), nil
	}
	return f, nil
}

func toInt(v any, bits int) (any, error) {
	var i int64
	switch x := v.(type) {
	case float32:
		return floatToInt(float64(x), bits)
	case float64:
		return floatToInt(x, bits)
	case string:
		parsed, err := strconv.ParseInt(x, 10, bits)
		if err != nil {
			return nil, err
		}
		i = parsed
	default:
		n, ok, err := integer(v)
		if !ok {
			return nil, errUnsupported
		}
		if err != nil {
			return nil, err
		}
		i = n
	}

	lo, hi := intBounds(bits)
	if i < lo || i > hi {
		return nil, errOutOfRange
	}
	return sized(i, bits), nil
}

func floatToInt(f float64, bits int) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, errNotIntegral
	}
	limit := math.Ldexp(1, bits-1)
	if f < -limit || f >= limit {
		return nil, errOutOfRange
	}
	return sized(int64(f), bits), nil
}

func intBounds(bits int) (int64, int64) {
	if bits == 64 {
		return math.MinInt64, math.MaxInt64
	}
	hi := int64(1)<<(bits-1) - 1
	return -hi - 1, hi
}

func sized(i int64, bits int) any {
	switch bits {
	case 8:
		return int8(i)
	case 16:
		return int16(i)
	case 32:
		return int32(i)
	default:
		return i
	}
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errors.New("unrecognized timestamp format")
	}
	return time.Time{}, errUnsupported
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	}
	return false, errUnsupported
}

func appendValue(b array.Builder, v any) {
	switch b := b.(type) {
	case *array.StringBuilder:
		b.Append(v.(string))
	case *array.Float32Builder:
		b.Append(v.(float32))
	case *array.Float64Builder:
		b.Append(v.(float64))
	case *array.Int8Builder:
		b.Append(v.(int8))
	case *array.Int16Builder:
		b.Append(v.(int16))
	case *array.Int32Builder:
		b.Append(v.(int32))
	case *array.Int64Builder:
		b.Append(v.(int64))
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.(time.Time).UnixMicro()))
	case *array.BooleanBuilder:
		b.Append(v.(bool))
	default:
		panic(fmt.Sprintf("chunk: unexpected builder %T", b))
	}
}

// coerceColumn converts n values to target, keeping nulls null. The first
// value that does not convert fails the whole column.
func coerceColumn(mem memory.Allocator, column string, target schema.DType, n int, value func(int) (any, error)) (arrow.Array, error) {
	b := array.NewBuilder(mem, target.ArrowType())
	defer b.Release()
	b.Reserve(n)

	for i := 0; i < n; i++ {
		v, err := value(i)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		if v == nil {
			b.AppendNull()
			continue
		}
		c, err := convert(v, target)
		if err != nil {
			return nil, warehouse.DataTypeMismatch{Column: column, Value: v, Target: string(target), Err: err}
		}
		appendValue(b, c)
	}
	return b.NewArray(), nil
}

// newRecord assembles columns into a record and releases the caller's
// references to them.
func newRecord(fields []arrow.Field, columns []arrow.Array, rows int64) arrow.Record {
	rec := array.NewRecord(arrow.NewSchema(fields, nil), columns, rows)
	for _, col := range columns {
		col.Release()
	}
	return rec
}

func releaseAll(columns []arrow.Array) {
	for _, col := range columns {
		if col != nil {
			col.Release()
		}
	}
}
