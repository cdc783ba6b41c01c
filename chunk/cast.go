package chunk

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"taxifare-data/columnar"
	"taxifare-data/schema"
	"taxifare-data/warehouse"
)

// Cast converts the columns of rec named in dtypes with the same strict
// rules Chunk applies. Unnamed columns are carried over as they are.
// The caller owns the returned record.
func Cast(mem memory.Allocator, rec arrow.Record, dtypes schema.DTypes) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	for _, name := range dtypes.Names() {
		if len(rec.Schema().FieldIndices(name)) == 0 {
			return nil, warehouse.SchemaMismatch{Table: "record", Column: name, Reason: "not in data"}
		}
	}

	fields := make([]arrow.Field, rec.NumCols())
	columns := make([]arrow.Array, rec.NumCols())
	for c, f := range rec.Schema().Fields() {
		src := rec.Column(c)
		target, ok := dtypes[f.Name]
		if !ok {
			src.Retain()
			fields[c], columns[c] = f, src
			continue
		}

		arr, err := coerceColumn(mem, f.Name, target, src.Len(), func(i int) (any, error) {
			return columnar.Value(src, i)
		})
		if err != nil {
			releaseAll(columns)
			return nil, err
		}
		fields[c] = arrow.Field{Name: f.Name, Type: target.ArrowType(), Nullable: f.Nullable}
		columns[c] = arr
	}

	return newRecord(fields, columns, rec.NumRows()), nil
}
