package snapshot

const FormatVersion = 1

// Manifest describes one export of a table. It is written after every data
// file, so a snapshot without a manifest is incomplete.
type Manifest struct {
	FormatVersion int               `json:"format-version"`
	SnapshotID    string            `json:"snapshot-id"`
	TableUUID     string            `json:"table-uuid"`
	Source        string            `json:"source"`
	Dataset       string            `json:"dataset"`
	Table         string            `json:"table"`
	Location      string            `json:"location"`
	TimestampMs   int64             `json:"timestamp-ms"`
	ChunkSize     int64             `json:"chunk-size"`
	Schema        Schema            `json:"schema"`
	DataFiles     []DataFile        `json:"data-files"`
	Summary       map[string]string `json:"summary"`
}

type Schema struct {
	Fields []Field `json:"fields"`
}

type Field struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type DataFile struct {
	FilePath      string `json:"file-path"`
	FileFormat    string `json:"file-format"`
	FirstRow      int64  `json:"first-row"`
	RecordCount   int64  `json:"record-count"`
	FileSizeBytes int64  `json:"file-size-bytes"`
}

// Records is the total row count over all data files.
func (m *Manifest) Records() int64 {
	var n int64
	for _, f := range m.DataFiles {
		n += f.RecordCount
	}
	return n
}
