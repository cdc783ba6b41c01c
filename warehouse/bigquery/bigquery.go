// Package bigquery reads ordered chunks from, and loads batches into,
// BigQuery tables of one dataset.
package bigquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	bq "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"taxifare-data/columnar"
	"taxifare-data/schema"
	"taxifare-data/storage"
	"taxifare-data/warehouse"
)

type Warehouse struct {
	client  *bq.Client
	project string
	dataset string
	// active is the project the environment resolves to, independent of
	// the configured one.
	active string
}

var (
	_ warehouse.Warehouse = (*Warehouse)(nil)
	_ warehouse.Catalog   = (*Warehouse)(nil)
)

type Options struct {
	Project         string
	Dataset         string
	Location        string
	CredentialsFile string
}

func Connect(ctx context.Context, opts Options) (*Warehouse, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	project := opts.Project
	if project == "" {
		project = bq.DetectProjectID
	}

	client, err := bq.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	if opts.Location != "" {
		client.Location = opts.Location
	}

	return &Warehouse{
		client:  client,
		project: client.Project(),
		dataset: opts.Dataset,
		active:  detectProject(ctx, opts.CredentialsFile, clientOpts),
	}, nil
}

// detectProject resolves the project the credentials belong to: the
// project_id of the credentials file, else the one application default
// credentials detect. It is empty when neither resolves.
func detectProject(ctx context.Context, credentialsFile string, clientOpts []option.ClientOption) string {
	if credentialsFile != "" {
		if project, err := credentialsProject(credentialsFile); err == nil && project != "" {
			return project
		}
	}

	client, err := bq.NewClient(ctx, bq.DetectProjectID, clientOpts...)
	if err != nil {
		return ""
	}
	defer client.Close()
	return client.Project()
}

func credentialsProject(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var creds struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return creds.ProjectID, nil
}

func (w *Warehouse) Name() string {
	return "big query"
}

// Project is the project the credentials resolve to, which may differ from
// the configured project queries are billed to.
func (w *Warehouse) Project() string {
	return w.active
}

func (w *Warehouse) Close() error {
	return w.client.Close()
}

func (w *Warehouse) table(table string) *bq.Table {
	return w.client.Dataset(w.dataset).Table(table)
}

func (w *Warehouse) Describe(ctx context.Context, table string) (*schema.TableSchema, error) {
	if err := warehouse.ValidateIdentifier(table); err != nil {
		return nil, warehouse.TableNotFound{Table: table, Err: err}
	}

	md, err := w.table(table).Metadata(ctx)
	if err != nil {
		return nil, classify(table, false, fmt.Errorf("getting table metadata: %w", err))
	}
	return tableSchema(w.dataset, table, md.Schema)
}

func tableSchema(dataset, table string, fields bq.Schema) (*schema.TableSchema, error) {
	ts := &schema.TableSchema{
		Dataset: dataset,
		Name:    table,
		Columns: make([]schema.Column, 0, len(fields)),
	}
	for _, f := range fields {
		if f.Repeated || f.Type == bq.RecordFieldType {
			return nil, warehouse.SchemaMismatch{Table: table, Column: f.Name, Reason: "nested and repeated fields are not supported"}
		}
		typ, err := schema.ParseType(string(f.Type))
		if err != nil {
			return nil, warehouse.SchemaMismatch{Table: table, Column: f.Name, Err: err}
		}
		ts.Columns = append(ts.Columns, schema.Column{
			Name:     f.Name,
			Type:     typ,
			Nullable: !f.Required,
			Native:   string(f.Type),
		})
	}
	return ts, nil
}

func (w *Warehouse) ref(table string) string {
	return fmt.Sprintf("`%s.%s.%s`", w.project, w.dataset, table)
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

func scanQuery(ref string, q warehouse.Query) string {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s%s",
		warehouse.SelectList(q.Columns, quote),
		ref,
		warehouse.OrderClause(q.OrderBy, quote),
	)
	if q.Limit >= 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			sql += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	} else if q.Offset > 0 {
		// OFFSET needs a LIMIT in GoogleSQL.
		sql += fmt.Sprintf(" LIMIT 9223372036854775807 OFFSET %d", q.Offset)
	}
	return sql
}

func (w *Warehouse) Scan(ctx context.Context, q warehouse.Query) (*warehouse.Rows, error) {
	if err := warehouse.ValidateIdentifier(q.Table); err != nil {
		return nil, warehouse.TableNotFound{Table: q.Table, Err: err}
	}

	query := w.client.Query(scanQuery(w.ref(q.Table), q))
	it, err := query.Read(ctx)
	if err != nil {
		return nil, classify(q.Table, false, fmt.Errorf("running query: %w", err))
	}

	result := &warehouse.Rows{}
	for {
		var row []bq.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(q.Table, false, fmt.Errorf("reading rows: %w", err))
		}
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = normalize(v)
		}
		result.Values = append(result.Values, values)
	}

	for _, f := range it.Schema {
		result.Columns = append(result.Columns, f.Name)
	}
	if len(result.Columns) == 0 {
		result.Columns = q.Columns
	}
	return result, nil
}

// Put stages the batch as one Parquet file and runs a single load job. A
// load job commits all of its rows or none, and WRITE_TRUNCATE swaps the
// table contents in the same job.
func (w *Warehouse) Put(ctx context.Context, table string, b *warehouse.Batch, replace bool) (int64, error) {
	ts, err := w.Describe(ctx, table)
	if err != nil {
		return 0, err
	}

	rows, err := reorder(ts, b)
	if err != nil {
		return 0, err
	}

	buf := storage.NewBuffer()
	if err := columnar.WriteParquet(buf, ts.Columns, rows); err != nil {
		return 0, warehouse.SchemaMismatch{Table: table, Err: err}
	}

	src := bq.NewReaderSource(buf.Reader())
	src.SourceFormat = bq.Parquet

	loader := w.table(table).LoaderFrom(src)
	loader.CreateDisposition = bq.CreateNever
	loader.WriteDisposition = bq.WriteAppend
	if replace {
		loader.WriteDisposition = bq.WriteTruncate
	}
	loader.JobID = "taxifare_save_" + uuid.NewString()

	job, err := loader.Run(ctx)
	if err != nil {
		return 0, classify(table, true, fmt.Errorf("starting load job: %w", err))
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, classify(table, true, fmt.Errorf("waiting for load job %s: %w", job.ID(), err))
	}
	if err := status.Err(); err != nil {
		return 0, classify(table, true, fmt.Errorf("load job %s: %w", job.ID(), err))
	}

	return int64(len(rows)), nil
}

// reorder lays out batch rows in destination column order.
func reorder(ts *schema.TableSchema, b *warehouse.Batch) ([][]any, error) {
	index := make(map[string]int, len(b.Columns))
	for i, name := range b.Columns {
		index[name] = i
	}
	if len(index) != len(ts.Columns) {
		return nil, warehouse.SchemaMismatch{
			Table:  ts.Name,
			Reason: fmt.Sprintf("batch has %d columns, table has %d", len(index), len(ts.Columns)),
		}
	}

	positions := make([]int, len(ts.Columns))
	for i, col := range ts.Columns {
		pos, ok := index[col.Name]
		if !ok {
			return nil, warehouse.SchemaMismatch{Table: ts.Name, Column: col.Name, Reason: "missing from batch"}
		}
		positions[i] = pos
	}

	rows := make([][]any, len(b.Rows))
	for r, src := range b.Rows {
		row := make([]any, len(positions))
		for i, pos := range positions {
			row[i] = src[pos]
		}
		rows[r] = row
	}
	return rows, nil
}

func (w *Warehouse) Datasets(ctx context.Context) ([]string, error) {
	var out []string
	it := w.client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing datasets: %w", err)
		}
		out = append(out, ds.DatasetID)
	}
	return out, nil
}

func (w *Warehouse) Tables(ctx context.Context) ([]string, error) {
	var out []string
	it := w.client.Dataset(w.dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing tables: %w", err)
		}
		out = append(out, t.TableID)
	}
	return out, nil
}

func (w *Warehouse) RowCount(ctx context.Context, table string) (int64, error) {
	md, err := w.table(table).Metadata(ctx)
	if err != nil {
		return 0, classify(table, false, fmt.Errorf("getting table metadata: %w", err))
	}
	return int64(md.NumRows), nil
}

// normalize turns BigQuery values into plain Go values.
func normalize(v bq.Value) any {
	switch x := v.(type) {
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return f
	case civil.DateTime:
		return x.In(time.UTC)
	case civil.Date:
		return x.In(time.UTC)
	default:
		return v
	}
}

func classify(table string, sink bool, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	transient := func() error {
		if sink {
			return warehouse.SinkError(table, err)
		}
		return warehouse.SourceError(table, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusNotFound:
			return warehouse.TableNotFound{Table: table, Err: err}
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			return transient()
		case apiErr.Code == http.StatusBadRequest && sink:
			return warehouse.SchemaMismatch{Table: table, Err: err}
		}
		return err
	}

	var jobErr *bq.Error
	if errors.As(err, &jobErr) {
		switch jobErr.Reason {
		case "notFound":
			return warehouse.TableNotFound{Table: table, Err: err}
		case "backendError", "internalError", "rateLimitExceeded", "jobBackendError":
			return transient()
		case "invalid", "invalidQuery":
			if sink {
				return warehouse.SchemaMismatch{Table: table, Err: err}
			}
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient()
	}
	return err
}
