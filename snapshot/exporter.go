// Package snapshot exports warehouse tables to Parquet files in object
// storage, chunk by chunk, with a JSON manifest per export.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"

	"taxifare-data/chunk"
	"taxifare-data/columnar"
	"taxifare-data/schema"
	"taxifare-data/storage"
)

const (
	root         = "snapshots"
	manifestName = "manifest.json"

	// uploads in flight while the next chunk is read
	maxUploads = 4
)

type Exporter struct {
	reader  *chunk.Reader
	store   storage.Storage
	dataset string
	logger  *log.Logger
}

func NewExporter(reader *chunk.Reader, store storage.Storage, dataset string, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New("snapshot")
	}
	return &Exporter{
		reader:  reader,
		store:   store,
		dataset: dataset,
		logger:  logger,
	}
}

// Location is the storage directory of one snapshot.
func Location(table, snapshotID string) string {
	return path.Join(root, table, snapshotID)
}

// TableUUID is stable for a table across snapshots.
func TableUUID(source, dataset, table string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"/"+dataset+"/"+table)).String()
}

// Export writes every row of table as Parquet data files of at most size
// rows each, then the manifest.
func (e *Exporter) Export(ctx context.Context, table string, size int64) (*Manifest, error) {
	ts, err := e.reader.Schema(ctx, table)
	if err != nil {
		return nil, err
	}

	snapshotID := uuid.NewString()
	m := &Manifest{
		FormatVersion: FormatVersion,
		SnapshotID:    snapshotID,
		TableUUID:     TableUUID(e.reader.Backend(), e.dataset, table),
		Source:        e.reader.Backend(),
		Dataset:       e.dataset,
		Table:         table,
		Location:      Location(table, snapshotID),
		ChunkSize:     size,
		Schema:        manifestSchema(ts),
		DataFiles:     []DataFile{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxUploads)

	err = e.reader.Stream(gctx, table, size, nil, func(index int64, rec arrow.Record) error {
		rows, err := columnar.Rows(rec)
		if err != nil {
			return fmt.Errorf("reading chunk at row %d: %w", index, err)
		}

		buf := storage.NewBuffer()
		if err := columnar.WriteParquet(buf, ts.Columns, rows); err != nil {
			return fmt.Errorf("encoding chunk at row %d: %w", index, err)
		}

		file := DataFile{
			FilePath:      path.Join(m.Location, "data", fmt.Sprintf("%05d.parquet", len(m.DataFiles))),
			FileFormat:    "PARQUET",
			FirstRow:      index,
			RecordCount:   rec.NumRows(),
			FileSizeBytes: buf.Size(),
		}
		m.DataFiles = append(m.DataFiles, file)

		g.Go(func() error {
			if err := e.store.Write(gctx, file.FilePath, buf.Reader()); err != nil {
				return fmt.Errorf("uploading %s: %w", file.FilePath, err)
			}
			return nil
		})
		return nil
	})
	// A failed upload cancels gctx, so its error is the cause of any read error.
	if waitErr := g.Wait(); waitErr != nil {
		err = waitErr
	}
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", table, err)
	}

	m.TimestampMs = time.Now().UnixMilli()
	m.Summary = map[string]string{
		"total-data-files": strconv.Itoa(len(m.DataFiles)),
		"total-records":    strconv.FormatInt(m.Records(), 10),
	}
	if err := e.writeManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	e.logger.Infof("exported %s: %d rows in %d files to %s", table, m.Records(), len(m.DataFiles), m.Location)
	return m, nil
}

func manifestSchema(ts *schema.TableSchema) Schema {
	s := Schema{Fields: make([]Field, 0, len(ts.Columns))}
	for i, col := range ts.Columns {
		typ := col.Type.String()
		if col.Type == schema.Float {
			typ = "double"
		}
		s.Fields = append(s.Fields, Field{
			ID:       i + 1,
			Name:     col.Name,
			Type:     typ,
			Required: !col.Nullable,
		})
	}
	return s
}

func (e *Exporter) writeManifest(ctx context.Context, m *Manifest) error {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return e.store.Write(ctx, path.Join(m.Location, manifestName), bytes.NewReader(buf.Bytes()))
}

// Load reads the manifest of one snapshot.
func Load(ctx context.Context, store storage.Storage, table, snapshotID string) (*Manifest, error) {
	r, err := store.Read(ctx, path.Join(Location(table, snapshotID), manifestName))
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	defer r.Close()

	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return &m, nil
}

// List returns the IDs of the complete snapshots of table.
func List(ctx context.Context, store storage.Storage, table string) ([]string, error) {
	prefix := path.Join(root, table) + "/"
	files, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var ids []string
	for _, f := range files {
		rest := strings.TrimPrefix(f, prefix)
		id, name, ok := strings.Cut(rest, "/")
		if ok && name == manifestName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
