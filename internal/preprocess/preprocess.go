// Package preprocess prepares incoming frames for a dataset write: it
// validates them against the timestamp column, derives the day partition
// column and stamps an insertion time.
package preprocess

import (
	"fmt"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
)

const (
	// KindDefault identifies the Default preprocessor.
	KindDefault = "default"

	// InsertedAtColumn holds the time a row was written.
	InsertedAtColumn = "inserted_at"

	// DaySuffix is appended to the timestamp column name to form the day
	// partition column.
	DaySuffix = "_day"

	// DayLayout formats day partition values.
	DayLayout = "2006-01-02"
)

// Rejection reasons used as the check label.
const (
	checkEmpty      = "empty"
	checkTimestamp  = "timestamp"
	checkPartitions = "partitions"
)

// Preprocessor turns a caller's frame into the frame stored in a dataset.
type Preprocessor interface {
	// Kind names the implementation; it is recorded in the config entry.
	Kind() string

	// Validate checks that f is non-empty and carries the timestamp column.
	Validate(f *frame.Frame, timestampColumn string) error

	// ValidatePartitions checks that partitionBy is non-empty, unique and
	// present in f.
	ValidatePartitions(f *frame.Frame, partitionBy []string) error

	// TimestampPartitionColumn names the derived day column.
	TimestampPartitionColumn(timestampColumn string) string

	// DefaultPartitions returns the partitions every dataset gets.
	DefaultPartitions(timestampColumn string) []string

	// ResolvePartitions puts the day column first and appends the user
	// partitions that are not already present.
	ResolvePartitions(timestampColumn string, partitionBy []string) []string

	// EnrichPartitions adds the day column derived from the timestamp.
	EnrichPartitions(f *frame.Frame, timestampColumn string) (*frame.Frame, error)

	// AddInsertionTimestamp adds the insertion time column.
	AddInsertionTimestamp(f *frame.Frame) (*frame.Frame, error)

	// Run validates, enriches and stamps f, then checks the default
	// partitions against the result.
	Run(f *frame.Frame, timestampColumn string) (*frame.Frame, error)
}

// Default is the day-partitioning preprocessor.
type Default struct {
	// Clock returns the insertion time. Defaults to time.Now.
	Clock func() time.Time
}

// New returns a Default preprocessor using the wall clock.
func New() *Default {
	return &Default{}
}

// ForKind returns the preprocessor recorded under kind.
func ForKind(kind string) (Preprocessor, error) {
	switch kind {
	case "", KindDefault:
		return New(), nil
	default:
		return nil, &lakeerr.ConfigurationError{Setting: "preprocessor", Reason: fmt.Sprintf("unsupported preprocessor kind %q", kind)}
	}
}

func (p *Default) Kind() string { return KindDefault }

func (p *Default) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Default) Validate(f *frame.Frame, timestampColumn string) error {
	if f == nil || f.NumRows() == 0 {
		return reject(checkEmpty, &lakeerr.ValidationError{Reason: "table is empty"})
	}
	if !f.Has(timestampColumn) {
		return reject(checkTimestamp, &lakeerr.ValidationError{
			Field:  timestampColumn,
			Reason: fmt.Sprintf("timestamp column '%s' is missing", timestampColumn),
		})
	}
	return nil
}

func (p *Default) ValidatePartitions(f *frame.Frame, partitionBy []string) error {
	if len(partitionBy) == 0 {
		return reject(checkPartitions, &lakeerr.ValidationError{Field: "partition_by", Reason: "partition columns are empty"})
	}
	seen := make(map[string]struct{}, len(partitionBy))
	for _, c := range partitionBy {
		if _, dup := seen[c]; dup {
			return reject(checkPartitions, &lakeerr.ValidationError{Field: "partition_by", Reason: "partition columns must be unique"})
		}
		seen[c] = struct{}{}
	}
	for _, c := range partitionBy {
		if f == nil || !f.Has(c) {
			return reject(checkPartitions, &lakeerr.ValidationError{
				Field:  "partition_by",
				Reason: fmt.Sprintf("partition column '%s' is missing", c),
			})
		}
	}
	return nil
}

func (p *Default) TimestampPartitionColumn(timestampColumn string) string {
	return timestampColumn + DaySuffix
}

func (p *Default) DefaultPartitions(timestampColumn string) []string {
	return []string{p.TimestampPartitionColumn(timestampColumn)}
}

func (p *Default) ResolvePartitions(timestampColumn string, partitionBy []string) []string {
	out := p.DefaultPartitions(timestampColumn)
	seen := make(map[string]struct{}, len(out)+len(partitionBy))
	for _, c := range out {
		seen[c] = struct{}{}
	}
	for _, c := range partitionBy {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// EnrichPartitions replaces any existing day column. The timestamp column
// must be of timestamp type with no nulls.
func (p *Default) EnrichPartitions(f *frame.Frame, timestampColumn string) (*frame.Frame, error) {
	typ, ok := f.Type(timestampColumn)
	if !ok {
		return nil, reject(checkTimestamp, &lakeerr.ValidationError{
			Field:  timestampColumn,
			Reason: fmt.Sprintf("timestamp column '%s' is missing", timestampColumn),
		})
	}
	if typ != frame.TypeTimestamp {
		return nil, reject(checkTimestamp, &lakeerr.ValidationError{
			Field:  timestampColumn,
			Reason: fmt.Sprintf("timestamp column '%s' has type %s, want %s", timestampColumn, typ, frame.TypeTimestamp),
		})
	}

	ts := f.Values(timestampColumn)
	days := make([]any, len(ts))
	for i, v := range ts {
		t, ok := v.(time.Time)
		if !ok {
			return nil, reject(checkTimestamp, &lakeerr.ValidationError{
				Field:  timestampColumn,
				Reason: fmt.Sprintf("timestamp column '%s' is null at row %d", timestampColumn, i),
			})
		}
		days[i] = t.UTC().Format(DayLayout)
	}
	return f.WithColumn(p.TimestampPartitionColumn(timestampColumn), frame.TypeString, days)
}

// AddInsertionTimestamp stamps every row with the same insertion time.
func (p *Default) AddInsertionTimestamp(f *frame.Frame) (*frame.Frame, error) {
	return f.WithConstant(InsertedAtColumn, frame.TypeTimestamp, p.now())
}

func (p *Default) Run(f *frame.Frame, timestampColumn string) (*frame.Frame, error) {
	if err := p.Validate(f, timestampColumn); err != nil {
		return nil, err
	}
	out, err := p.EnrichPartitions(f, timestampColumn)
	if err != nil {
		return nil, err
	}
	out, err = p.AddInsertionTimestamp(out)
	if err != nil {
		return nil, err
	}
	if err := p.ValidatePartitions(out, p.DefaultPartitions(timestampColumn)); err != nil {
		return nil, err
	}
	metrics.PreprocessRowsTotal.Add(float64(out.NumRows()))
	return out, nil
}

func reject(check string, err error) error {
	metrics.PreprocessRejectionsTotal.WithLabelValues(check).Inc()
	return err
}

var _ Preprocessor = (*Default)(nil)
