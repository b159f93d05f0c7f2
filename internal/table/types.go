// Package table implements a transactional table on top of an object store.
//
// Each commit writes a complete snapshot of the table state to
// <location>/_log/<version>.json. Snapshot files are created exclusively, so
// two writers racing for the same version cannot both succeed. Data files are
// immutable and laid out Hive-style under <location>/<col>=<value>/.
package table

import "github.com/Garsdal/timelake/internal/frame"

// Mode selects how Write combines new rows with existing ones.
type Mode string

// Write modes.
const (
	ModeAppend    Mode = "append"
	ModeOverwrite Mode = "overwrite"
)

// Valid reports whether m is a known write mode.
func (m Mode) Valid() bool {
	return m == ModeAppend || m == ModeOverwrite
}

// Operation names recorded in snapshots.
const (
	OperationCreate    = "create"
	OperationAppend    = "append"
	OperationOverwrite = "overwrite"
	OperationMerge     = "merge"
)

// DataFile describes one immutable data file of a snapshot.
type DataFile struct {
	// Path is the file location relative to the table location.
	Path string `json:"path"`

	// Format is the codec format that wrote the file.
	Format string `json:"format"`

	// Partition holds the encoded partition values shared by every row.
	Partition map[string]string `json:"partition,omitempty"`

	// RecordCount is the number of rows in the file.
	RecordCount int64 `json:"record-count"`

	// FileSizeInBytes is the file size.
	FileSizeInBytes int64 `json:"file-size-in-bytes"`
}

// Snapshot is the complete table state at one version.
type Snapshot struct {
	// Version is the monotonically increasing commit number, starting at 0.
	Version int64 `json:"version"`

	// TableID identifies the table across versions.
	TableID string `json:"table-id"`

	// TimestampMs is the commit time.
	TimestampMs int64 `json:"timestamp-ms"`

	// Operation is the kind of commit that produced this snapshot.
	Operation string `json:"operation"`

	// Schema is the table schema.
	Schema frame.Schema `json:"schema"`

	// PartitionColumns lists the partition columns in order.
	PartitionColumns []string `json:"partition-columns"`

	// Files lists the live data files.
	Files []DataFile `json:"files"`

	// Summary contains commit statistics.
	Summary map[string]string `json:"summary,omitempty"`
}

// RecordCount returns the number of live rows.
func (s *Snapshot) RecordCount() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.RecordCount
	}
	return n
}

// CommitInfo summarizes one entry of the table history.
type CommitInfo struct {
	Version     int64
	TimestampMs int64
	Operation   string
	Files       int
	Records     int64
	Summary     map[string]string
}

// MergeResult reports what a merge changed.
type MergeResult struct {
	RowsUpdated  int
	RowsInserted int
	FilesAdded   int
	FilesRemoved int
}
