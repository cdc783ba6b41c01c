package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taxifare-data/config"
	"taxifare-data/warehouse/duckdb"
)

type closeRecorder struct {
	*duckdb.Warehouse
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return c.Warehouse.Close()
}

func testRun(t *testing.T) *closeRecorder {
	t.Helper()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE train_10k (key TIMESTAMP, fare_amount DOUBLE)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO train_10k VALUES ('2014-01-01 00:00:00', 7.5)")
	require.NoError(t, err)

	wh := &closeRecorder{Warehouse: duckdb.New(db, "main")}
	prev := openBackend
	openBackend = func(context.Context, *config.Config) (backend, error) { return wh, nil }
	t.Cleanup(func() { openBackend = prev })
	return wh
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("warehouse:\n  driver: duckdb\nchunk:\n  verbose: false\nlog:\n  level: off\n"), 0o644))
	return path
}

func TestRun(t *testing.T) {
	t.Run("a successful command closes the warehouse", func(t *testing.T) {
		wh := testRun(t)
		code := run([]string{"-config", writeConfig(t), "chunk", "-table", "train_10k", "-format", "csv"})
		require.Equal(t, 0, code)
		require.Equal(t, 1, wh.closed)
	})

	t.Run("a failing command still closes the warehouse", func(t *testing.T) {
		wh := testRun(t)
		code := run([]string{"-config", writeConfig(t), "chunk", "-table", "val_10k"})
		require.Equal(t, 1, code)
		require.Equal(t, 1, wh.closed)
	})

	t.Run("an unknown command is a usage error", func(t *testing.T) {
		wh := testRun(t)
		code := run([]string{"-config", writeConfig(t), "train"})
		require.Equal(t, 2, code)
		require.Equal(t, 1, wh.closed)
	})

	t.Run("no command never opens the warehouse", func(t *testing.T) {
		wh := testRun(t)
		require.Equal(t, 2, run([]string{"-config", writeConfig(t)}))
		require.Zero(t, wh.closed)
		require.NoError(t, wh.Warehouse.Close())
	})

	t.Run("a missing config file fails", func(t *testing.T) {
		wh := testRun(t)
		require.Equal(t, 1, run([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "chunk"}))
		require.Zero(t, wh.closed)
		require.NoError(t, wh.Warehouse.Close())
	})
}
