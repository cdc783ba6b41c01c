package columnar

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"taxifare-data/schema"
)

func testRecord(t *testing.T) arrow.Record {
	t.Helper()

	s := arrow.NewSchema([]arrow.Field{
		{Name: "key", Type: arrow.BinaryTypes.String},
		{Name: "fare_amount", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
		{Name: "passenger_count", Type: arrow.PrimitiveTypes.Int8},
		{Name: "pickup_datetime", Type: schema.TimestampType},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, s)
	defer b.Release()

	at := time.Date(2013, 7, 2, 19, 54, 0, 0, time.UTC)
	b.Field(0).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	b.Field(1).(*array.Float32Builder).Append(7.5)
	b.Field(1).(*array.Float32Builder).AppendNull()
	b.Field(2).(*array.Int8Builder).AppendValues([]int8{1, 6}, nil)
	b.Field(3).(*array.TimestampBuilder).Append(arrow.Timestamp(at.UnixMicro()))
	b.Field(3).(*array.TimestampBuilder).Append(arrow.Timestamp(at.Add(time.Hour).UnixMicro()))

	rec := b.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func TestRows(t *testing.T) {
	rec := testRecord(t)
	at := time.Date(2013, 7, 2, 19, 54, 0, 0, time.UTC)

	rows, err := Rows(rec)
	require.NoError(t, err)
	require.Equal(t, [][]any{
		{"a", 7.5, int64(1), at},
		{"b", nil, int64(6), at.Add(time.Hour)},
	}, rows)
}

func TestColumns(t *testing.T) {
	cols, err := Columns(testRecord(t).Schema())
	require.NoError(t, err)
	require.Len(t, cols, 4)
	require.Equal(t, schema.String, cols[0].Type)
	require.Equal(t, schema.Float, cols[1].Type)
	require.True(t, cols[1].Nullable)
	require.Equal(t, schema.Integer, cols[2].Type)
	require.Equal(t, schema.Timestamp, cols[3].Type)

	_, err = Columns(arrow.NewSchema([]arrow.Field{{Name: "blob", Type: arrow.BinaryTypes.Binary}}, nil))
	require.ErrorContains(t, err, "blob")
}

func TestWriteParquet(t *testing.T) {
	cols := []schema.Column{
		{Name: "key", Type: schema.String},
		{Name: "fare_amount", Type: schema.Float, Nullable: true},
		{Name: "passenger_count", Type: schema.Integer},
		{Name: "pickup_datetime", Type: schema.Timestamp},
	}

	t.Run("it writes every row", func(t *testing.T) {
		rows, err := Rows(testRecord(t))
		require.NoError(t, err)

		buf := &bytes.Buffer{}
		require.NoError(t, WriteParquet(buf, cols, rows))

		f, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		require.NoError(t, err)
		require.EqualValues(t, 2, f.NumRows())

		_, ok := f.Schema().Lookup("fare_amount")
		require.True(t, ok)
	})

	t.Run("it refuses nulls in required columns", func(t *testing.T) {
		err := WriteParquet(&bytes.Buffer{}, cols, [][]any{{nil, 1.0, int64(1), time.Now()}})
		require.ErrorContains(t, err, "key")
	})

	t.Run("it refuses values of the wrong kind", func(t *testing.T) {
		err := WriteParquet(&bytes.Buffer{}, cols, [][]any{{"k", "cheap", int64(1), time.Now()}})
		require.ErrorContains(t, err, "fare_amount")
	})
}
