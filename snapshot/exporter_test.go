package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"taxifare-data/chunk"
	"taxifare-data/storage"
	"taxifare-data/warehouse"
	"taxifare-data/warehouse/duckdb"
)

func testReader(t *testing.T) (*chunk.Reader, *sql.DB) {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	wh := duckdb.New(db, "main")
	t.Cleanup(func() { wh.Close() })

	_, err = db.Exec(`CREATE TABLE val_10k (key TIMESTAMP NOT NULL, fare_amount DOUBLE, passenger_count BIGINT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE empty_10k (key TIMESTAMP NOT NULL, fare_amount DOUBLE, passenger_count BIGINT)`)
	require.NoError(t, err)

	at := time.Date(2015, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		_, err := db.Exec("INSERT INTO val_10k VALUES (?, ?, ?)", at.Add(time.Duration(i)*time.Second), 4.5+float64(i), int64(i%4+1))
		require.NoError(t, err)
	}
	return chunk.NewReader(wh, chunk.WithVerbose(false)), db
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	reader, _ := testReader(t)
	store := storage.NewLocalStorage(t.TempDir())
	exporter := NewExporter(reader, store, "main", nil)

	m, err := exporter.Export(ctx, "val_10k", 5)
	require.NoError(t, err)

	t.Run("it splits the table into chunk-sized files", func(t *testing.T) {
		require.Len(t, m.DataFiles, 3)
		require.EqualValues(t, 12, m.Records())
		require.Equal(t, "12", m.Summary["total-records"])
		require.Equal(t, "3", m.Summary["total-data-files"])

		for i, want := range []int64{5, 5, 2} {
			f := m.DataFiles[i]
			require.Equal(t, want, f.RecordCount)
			require.EqualValues(t, i*5, f.FirstRow)

			r, err := store.Read(ctx, f.FilePath)
			require.NoError(t, err)
			data, err := io.ReadAll(r)
			r.Close()
			require.NoError(t, err)
			require.EqualValues(t, f.FileSizeBytes, len(data))

			pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			require.Equal(t, want, pf.NumRows())
		}
	})

	t.Run("the manifest records the layout", func(t *testing.T) {
		require.Equal(t, []Field{
			{ID: 1, Name: "key", Type: "timestamp", Required: true},
			{ID: 2, Name: "fare_amount", Type: "double"},
			{ID: 3, Name: "passenger_count", Type: "integer"},
		}, m.Schema.Fields)
		require.Equal(t, "duckdb", m.Source)
		require.Equal(t, TableUUID("duckdb", "main", "val_10k"), m.TableUUID)
	})

	t.Run("it loads back", func(t *testing.T) {
		loaded, err := Load(ctx, store, "val_10k", m.SnapshotID)
		require.NoError(t, err)
		require.Equal(t, m, loaded)
	})

	t.Run("it lists complete snapshots", func(t *testing.T) {
		again, err := exporter.Export(ctx, "val_10k", 100)
		require.NoError(t, err)
		require.Len(t, again.DataFiles, 1)
		require.Equal(t, m.TableUUID, again.TableUUID)

		ids, err := List(ctx, store, "val_10k")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{m.SnapshotID, again.SnapshotID}, ids)
	})

	t.Run("an empty table still gets a manifest", func(t *testing.T) {
		empty, err := exporter.Export(ctx, "empty_10k", 5)
		require.NoError(t, err)
		require.Empty(t, empty.DataFiles)

		ids, err := List(ctx, store, "empty_10k")
		require.NoError(t, err)
		require.Equal(t, []string{empty.SnapshotID}, ids)
	})

	t.Run("missing tables are TableNotFound", func(t *testing.T) {
		_, err := exporter.Export(ctx, "test_10k", 5)
		require.ErrorIs(t, err, warehouse.ErrTableNotFound)
	})
}

type failingStorage struct {
	storage.Storage
	mu      sync.Mutex
	written []string
}

func (f *failingStorage) Write(ctx context.Context, name string, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, name)
	if strings.HasSuffix(name, "00001.parquet") {
		return errors.New("bucket unavailable")
	}
	return nil
}

func TestExportUploadFailure(t *testing.T) {
	ctx := context.Background()
	reader, _ := testReader(t)
	store := &failingStorage{}

	_, err := NewExporter(reader, store, "main", nil).Export(ctx, "val_10k", 5)
	require.ErrorContains(t, err, "bucket unavailable")

	for _, name := range store.written {
		require.False(t, strings.HasSuffix(name, manifestName), "manifest written after failed upload")
	}
}
