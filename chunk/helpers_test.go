package chunk

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/require"

	"taxifare-data/columnar"
	"taxifare-data/warehouse/duckdb"
)

var baseTime = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

const taxiColumns = `
    key TIMESTAMP,
    fare_amount DOUBLE,
    pickup_datetime TIMESTAMP,
    pickup_longitude DOUBLE,
    pickup_latitude DOUBLE,
    dropoff_longitude DOUBLE,
    dropoff_latitude DOUBLE,
    passenger_count BIGINT
`

// testWarehouse is an in-memory DuckDB with a 12-row train_10k table,
// inserted out of key order, and an empty train_copy table of the same layout.
func testWarehouse(t *testing.T) (*duckdb.Warehouse, *sql.DB) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	wh := duckdb.New(db, "main")
	t.Cleanup(func() { wh.Close() })

	for _, table := range []string{"train_10k", "train_copy"} {
		_, err := db.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", table, taxiColumns))
		require.NoError(t, err)
	}

	for _, i := range []int{7, 2, 11, 0, 5, 9, 1, 4, 10, 3, 8, 6} {
		_, err := db.Exec(
			"INSERT INTO train_10k VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			baseTime.Add(time.Duration(i)*time.Minute),
			5.0+float64(i)*0.5,
			baseTime.Add(time.Duration(i)*time.Minute),
			-73.98, 40.75, -73.96, 40.77,
			int64(i%6+1),
		)
		require.NoError(t, err)
	}
	return wh, db
}

func rowsOf(t *testing.T, rec arrow.Record) [][]any {
	t.Helper()
	rows, err := columnar.Rows(rec)
	require.NoError(t, err)
	return rows
}

func count(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT count(*) FROM "+table).Scan(&n))
	return n
}
