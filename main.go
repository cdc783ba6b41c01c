package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"
	glog "github.com/labstack/gommon/log"
	"github.com/olekukonko/tablewriter"

	"taxifare-data/chunk"
	"taxifare-data/columnar"
	"taxifare-data/config"
	"taxifare-data/preflight"
	"taxifare-data/schema"
	"taxifare-data/snapshot"
	"taxifare-data/storage"
	"taxifare-data/warehouse"
	"taxifare-data/warehouse/bigquery"
	"taxifare-data/warehouse/duckdb"
	"taxifare-data/warehouse/postgres"
)

const usage = `usage: taxifare-data [-config config.yaml] <command> [flags]

commands:
  chunk   print a chunk of a table
  save    load a CSV file into a table
  export  snapshot a table to storage as Parquet
  check   verify the deployment`

// backend is a warehouse that can also list what it holds.
type backend interface {
	warehouse.Warehouse
	warehouse.Catalog
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// openBackend is replaced in tests.
var openBackend = openWarehouse

// run executes one command and returns the process exit code. The warehouse
// is closed before run returns, whatever the outcome.
func run(args []string) int {
	fs := flag.NewFlagSet("taxifare-data", flag.ContinueOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	fs.Usage = func() { fmt.Fprintln(fs.Output(), usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wh, err := openBackend(ctx, cfg)
	if err != nil {
		log.Printf("Failed to open warehouse: %v", err)
		return 1
	}
	defer wh.Close()

	return dispatch(ctx, cfg, wh, fs.Args())
}

// dispatch runs the command named by args[0] and maps its outcome to an exit code.
func dispatch(ctx context.Context, cfg *config.Config, wh backend, args []string) int {
	var err error
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "chunk":
		err = runChunk(ctx, cfg, wh, rest)
	case "save":
		err = runSave(ctx, cfg, wh, rest)
	case "export":
		err = runExport(ctx, cfg, wh, rest)
	case "check":
		err = runCheck(ctx, cfg, wh, rest)
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	if err != nil {
		log.Printf("%s: %v", cmd, err)
		return 1
	}
	return 0
}

func openWarehouse(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Warehouse.Driver {
	case config.DriverBigQuery:
		bq := cfg.Warehouse.BigQuery
		return bigquery.Connect(ctx, bigquery.Options{
			Project:         bq.Project,
			Dataset:         bq.Dataset,
			Location:        bq.Location,
			CredentialsFile: bq.CredentialsFile,
		})
	case config.DriverPostgres:
		return postgres.Connect(ctx, cfg.PostgresURL(), cfg.Warehouse.Postgres.Schema)
	case config.DriverDuckDB:
		return duckdb.Open(cfg.Warehouse.DuckDB.Path, cfg.Warehouse.DuckDB.Schema)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Warehouse.Driver)
	}
}

func newLogger(cfg *config.Config, prefix string) *glog.Logger {
	logger := glog.New(prefix)
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logger.SetLevel(glog.DEBUG)
	case "info":
		logger.SetLevel(glog.INFO)
	case "warn":
		logger.SetLevel(glog.WARN)
	case "error":
		logger.SetLevel(glog.ERROR)
	case "off":
		logger.SetLevel(glog.OFF)
	default:
		logger.SetLevel(glog.INFO)
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}
	return logger
}

func chunkOptions(cfg *config.Config) []chunk.Option {
	return []chunk.Option{
		chunk.WithOrderBy(cfg.Chunk.OrderBy),
		chunk.WithVerbose(cfg.Verbose()),
		chunk.WithLogger(newLogger(cfg, "chunk")),
	}
}

func parseDTypes(s string) (schema.DTypes, error) {
	switch s {
	case "", "native":
		return nil, nil
	case "raw":
		return schema.DTypesRawOptimized(), nil
	default:
		return schema.ParseDTypes(s)
	}
}

func runChunk(ctx context.Context, cfg *config.Config, wh backend, args []string) error {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	table := fs.String("table", "", "Table to read")
	index := fs.Int64("index", 0, "First row of the chunk")
	size := fs.String("size", "10", "Rows in the chunk, or all")
	dtypesFlag := fs.String("dtypes", "native", "raw, native or name:dtype,...")
	format := fs.String("format", "table", "Output format: table or csv")
	fs.Parse(args)

	chunkSize, err := chunk.ParseSize(*size)
	if err != nil {
		return err
	}
	dtypes, err := parseDTypes(*dtypesFlag)
	if err != nil {
		return err
	}

	reader := chunk.NewReader(wh, chunkOptions(cfg)...)
	rec, err := reader.Chunk(ctx, *table, *index, chunkSize, dtypes)
	if err != nil {
		return err
	}
	defer rec.Release()

	switch *format {
	case "csv":
		return writeCSV(os.Stdout, rec)
	case "table":
		return writeTable(os.Stdout, rec)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func writeCSV(w io.Writer, rec arrow.Record) error {
	cw := csv.NewWriter(w, rec.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := cw.Write(rec); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return cw.Flush()
}

func writeTable(w io.Writer, rec arrow.Record) error {
	rows, err := columnar.Rows(rec)
	if err != nil {
		return err
	}

	header := make([]string, rec.NumCols())
	for i := range header {
		header[i] = rec.ColumnName(i)
	}

	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoFormatHeaders(false)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		tw.Append(cells)
	}
	tw.SetFooter(append([]string{fmt.Sprintf("%d rows", len(rows))}, make([]string, len(header)-1)...))
	tw.Render()
	return nil
}

func runSave(ctx context.Context, cfg *config.Config, wh backend, args []string) error {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	table := fs.String("table", "", "Destination table")
	file := fs.String("file", "", "CSV file with a header row")
	replace := fs.Bool("replace", false, "Replace the table contents instead of appending")
	fs.Parse(args)

	if *file == "" {
		return errors.New("-file is required")
	}

	reader := chunk.NewReader(wh, chunk.WithVerbose(false))
	ts, err := reader.Schema(ctx, *table)
	if err != nil {
		return err
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	rec, err := readCSV(f, ts)
	if err != nil {
		return err
	}
	defer rec.Release()

	dtypes := schema.DTypes{}
	for _, field := range rec.Schema().Fields() {
		if col, ok := ts.Column(field.Name); ok {
			dtypes[field.Name] = schema.NativeDType(col.Type)
		}
	}
	typed, err := chunk.Cast(memory.DefaultAllocator, rec, dtypes)
	if err != nil {
		return err
	}
	defer typed.Release()

	n, err := chunk.NewWriter(wh, chunkOptions(cfg)...).Save(ctx, *table, typed, *replace)
	if err != nil {
		return err
	}
	fmt.Printf("%d rows saved to %s\n", n, *table)
	return nil
}

// readCSV reads a whole CSV file as one record of string columns.
func readCSV(r io.Reader, ts *schema.TableSchema) (arrow.Record, error) {
	types := make(map[string]arrow.DataType, len(ts.Columns))
	for _, col := range ts.Columns {
		types[col.Name] = arrow.BinaryTypes.String
	}

	cr := csv.NewInferringReader(r,
		csv.WithHeader(true),
		csv.WithChunk(-1),
		csv.WithColumnTypes(types),
		csv.WithNullReader(true, ""),
	)
	defer cr.Release()

	if !cr.Next() {
		if err := cr.Err(); err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		return nil, errors.New("reading csv: no rows")
	}
	rec := cr.Record()
	rec.Retain()
	return rec, nil
}

func runExport(ctx context.Context, cfg *config.Config, wh backend, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	table := fs.String("table", "", "Table to export")
	size := fs.Int64("size", 10000, "Rows per data file")
	list := fs.Bool("list", false, "List the table's snapshots instead of exporting")
	fs.Parse(args)

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	if *list {
		ids, err := snapshot.List(ctx, store, *table)
		if err != nil {
			return err
		}
		for _, id := range ids {
			m, err := snapshot.Load(ctx, store, *table, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d rows\t%d files\n", id, m.Records(), len(m.DataFiles))
		}
		return nil
	}

	reader := chunk.NewReader(wh, chunkOptions(cfg)...)
	exporter := snapshot.NewExporter(reader, store, cfg.Dataset(), newLogger(cfg, "snapshot"))
	m, err := exporter.Export(ctx, *table, *size)
	if err != nil {
		return err
	}
	fmt.Println(m.SnapshotID)
	return nil
}

func runCheck(ctx context.Context, cfg *config.Config, wh backend, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.Parse(args)

	expect := preflight.Expectations{
		Dataset: cfg.Dataset(),
		Tables:  cfg.Expect.Tables,
		Layout:  schema.TaxiFareLayout(),
		Rows:    cfg.Expect.Rows,
	}
	if cfg.Warehouse.Driver == config.DriverBigQuery {
		expect.Env = []string{config.EnvProject, config.EnvDataset, config.EnvBucket, config.EnvCredentials}
		expect.CredentialsFile = cfg.Warehouse.BigQuery.CredentialsFile
		expect.Project = cfg.Warehouse.BigQuery.Project
	}

	var buckets storage.Bucketer
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Printf("Storage unavailable, skipping bucket checks: %v", err)
	} else {
		if c, ok := store.(io.Closer); ok {
			defer c.Close()
		}
		if b, ok := store.(storage.Bucketer); ok {
			buckets = b
			expect.Bucket = cfg.Storage.Bucket
		}
	}

	report := preflight.NewChecker(expect, wh, wh, buckets, preflight.WithLogger(newLogger(cfg, "preflight"))).Run(ctx)
	return report.Err()
}
