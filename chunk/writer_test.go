package chunk

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/require"

	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

func TestSave(t *testing.T) {
	ctx := context.Background()
	wh, db := testWarehouse(t)
	r := NewReader(wh, WithVerbose(false))
	w := NewWriter(wh, WithVerbose(false))

	first, err := r.Chunk(ctx, "train_10k", 0, Rows(5), schema.DTypesRawOptimized())
	require.NoError(t, err)
	defer first.Release()
	second, err := r.Chunk(ctx, "train_10k", 5, Rows(5), schema.DTypesRawOptimized())
	require.NoError(t, err)
	defer second.Release()

	t.Run("replace leaves exactly the batch", func(t *testing.T) {
		n, err := w.Save(ctx, "train_copy", first, true)
		require.NoError(t, err)
		require.EqualValues(t, 5, n)
		require.EqualValues(t, 5, count(t, db, "train_copy"))

		n, err = w.Save(ctx, "train_copy", first, true)
		require.NoError(t, err)
		require.EqualValues(t, 5, n)
		require.EqualValues(t, 5, count(t, db, "train_copy"))
	})

	t.Run("append adds the batch", func(t *testing.T) {
		_, err := w.Save(ctx, "train_copy", second, false)
		require.NoError(t, err)
		require.EqualValues(t, 10, count(t, db, "train_copy"))
	})

	t.Run("saved rows read back in the same order", func(t *testing.T) {
		dtypes := schema.DTypesRawOptimized()
		src, err := r.Chunk(ctx, "train_10k", 0, Rows(10), dtypes)
		require.NoError(t, err)
		defer src.Release()
		dst, err := r.Chunk(ctx, "train_copy", 0, Rows(10), dtypes)
		require.NoError(t, err)
		defer dst.Release()

		require.Equal(t, rowsOf(t, src), rowsOf(t, dst))
	})

	t.Run("an empty replace empties the table", func(t *testing.T) {
		empty, err := r.Chunk(ctx, "train_10k", 100, Rows(5), schema.DTypesRawOptimized())
		require.NoError(t, err)
		defer empty.Release()

		n, err := w.Save(ctx, "train_copy", empty, true)
		require.NoError(t, err)
		require.Zero(t, n)
		require.Zero(t, count(t, db, "train_copy"))
	})

	t.Run("missing tables are TableNotFound", func(t *testing.T) {
		_, err := w.Save(ctx, "test_10k", first, true)
		require.ErrorIs(t, err, warehouse.ErrTableNotFound)

		_, err = w.Save(ctx, "", first, true)
		require.ErrorIs(t, err, warehouse.ErrTableNotFound)
	})
}

func TestSaveSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	wh, db := testWarehouse(t)
	w := NewWriter(wh, WithVerbose(false))

	_, err := db.Exec("INSERT INTO train_copy SELECT * FROM train_10k")
	require.NoError(t, err)

	mem := memory.NewGoAllocator()
	build := func(fields []arrow.Field, fill func(b *array.RecordBuilder)) arrow.Record {
		b := array.NewRecordBuilder(mem, arrow.NewSchema(fields, nil))
		defer b.Release()
		fill(b)
		rec := b.NewRecord()
		t.Cleanup(rec.Release)
		return rec
	}

	t.Run("missing columns are refused", func(t *testing.T) {
		rec := build([]arrow.Field{{Name: "key", Type: arrow.BinaryTypes.String}}, func(b *array.RecordBuilder) {
			b.Field(0).(*array.StringBuilder).Append("2014-01-01 00:00:00 UTC")
		})
		_, err := w.Save(ctx, "train_copy", rec, true)
		require.ErrorIs(t, err, warehouse.ErrSchemaMismatch)
		require.EqualValues(t, 12, count(t, db, "train_copy"))
	})

	t.Run("unknown columns are refused", func(t *testing.T) {
		fields := taxiFields()
		fields = append(fields, arrow.Field{Name: "tip_amount", Type: arrow.PrimitiveTypes.Float64})
		rec := build(fields, func(b *array.RecordBuilder) { appendTaxiRow(b, "2014-01-01 00:00:00 UTC", 1) })
		_, err := w.Save(ctx, "train_copy", rec, true)
		require.ErrorIs(t, err, warehouse.ErrSchemaMismatch)
		require.EqualValues(t, 12, count(t, db, "train_copy"))
	})

	t.Run("values that do not fit the column are refused", func(t *testing.T) {
		rec := build(taxiFields(), func(b *array.RecordBuilder) {
			appendTaxiRow(b, "2014-01-01 00:00:00 UTC", 1)
			appendTaxiRow(b, "yesterday", 2)
		})
		_, err := w.Save(ctx, "train_copy", rec, false)
		require.ErrorIs(t, err, warehouse.ErrSchemaMismatch)
		require.ErrorIs(t, err, warehouse.ErrDataTypeMismatch)
		require.EqualValues(t, 12, count(t, db, "train_copy"))
	})

	t.Run("column order does not matter", func(t *testing.T) {
		fields := taxiFields()
		fields[0], fields[7] = fields[7], fields[0]
		rec := build(fields, func(b *array.RecordBuilder) {
			b.Field(0).(*array.Int8Builder).Append(3)
			b.Field(1).(*array.Float32Builder).Append(9.5)
			b.Field(2).(*array.StringBuilder).Append("2014-01-02 00:00:00 UTC")
			for i := 3; i < 7; i++ {
				b.Field(i).(*array.Float32Builder).Append(40.5)
			}
			b.Field(7).(*array.StringBuilder).Append("2014-01-02 00:00:00 UTC")
		})
		n, err := w.Save(ctx, "train_copy", rec, false)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		require.EqualValues(t, 13, count(t, db, "train_copy"))

		var fare float64
		var passengers int64
		var key time.Time
		require.NoError(t, db.QueryRow(
			"SELECT fare_amount, passenger_count, key FROM train_copy ORDER BY key DESC LIMIT 1",
		).Scan(&fare, &passengers, &key))
		require.Equal(t, 9.5, fare)
		require.EqualValues(t, 3, passengers)
		require.True(t, key.Equal(time.Date(2014, 1, 2, 0, 0, 0, 0, time.UTC)))
	})
}

func TestSaveBanner(t *testing.T) {
	ctx := context.Background()
	wh, _ := testWarehouse(t)

	buf := &bytes.Buffer{}
	logger := log.New("chunk")
	logger.SetOutput(buf)

	r := NewReader(wh, WithVerbose(false))
	rec, err := r.Chunk(ctx, "train_10k", 0, Rows(1), nil)
	require.NoError(t, err)
	defer rec.Release()

	_, err = NewWriter(wh, WithLogger(logger)).Save(ctx, "train_copy", rec, true)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "Save data to duckdb train_copy:")
}

func taxiFields() []arrow.Field {
	return []arrow.Field{
		{Name: "key", Type: arrow.BinaryTypes.String},
		{Name: "fare_amount", Type: arrow.PrimitiveTypes.Float32},
		{Name: "pickup_datetime", Type: arrow.BinaryTypes.String},
		{Name: "pickup_longitude", Type: arrow.PrimitiveTypes.Float32},
		{Name: "pickup_latitude", Type: arrow.PrimitiveTypes.Float32},
		{Name: "dropoff_longitude", Type: arrow.PrimitiveTypes.Float32},
		{Name: "dropoff_latitude", Type: arrow.PrimitiveTypes.Float32},
		{Name: "passenger_count", Type: arrow.PrimitiveTypes.Int8},
	}
}

func appendTaxiRow(b *array.RecordBuilder, key string, passengers int8) {
	b.Field(0).(*array.StringBuilder).Append(key)
	b.Field(1).(*array.Float32Builder).Append(7.5)
	b.Field(2).(*array.StringBuilder).Append(key)
	for i := 3; i < 7; i++ {
		b.Field(i).(*array.Float32Builder).Append(40.5)
	}
	b.Field(7).(*array.Int8Builder).Append(passengers)
	for i := 8; i < len(b.Fields()); i++ {
		b.Field(i).AppendNull()
	}
}
