package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
	"github.com/Garsdal/timelake/internal/objstore"
)

// DefaultScanConcurrency bounds parallel data file reads.
const DefaultScanConcurrency = 8

// Options configures table access.
type Options struct {
	// Codec encodes data files. Defaults to ParquetCodec.
	Codec Codec

	// ScanConcurrency bounds parallel data file reads.
	ScanConcurrency int

	// Logger is the logger to use.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = ParquetCodec{}
	}
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = DefaultScanConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Table is a handle on a committed table. It caches the snapshot it last
// loaded; writes refresh it first.
type Table struct {
	store    objstore.Store
	location string
	opts     Options
	logger   *slog.Logger
	snap     *Snapshot
}

// Exists reports whether a table has been committed at location.
func Exists(ctx context.Context, store objstore.Store, location string) (bool, error) {
	v, err := latestVersion(ctx, store, location)
	if err != nil {
		return false, err
	}
	return v >= 0, nil
}

// Open loads the latest snapshot of the table at location.
func Open(ctx context.Context, store objstore.Store, location string, opts Options) (*Table, error) {
	opts = opts.withDefaults()
	t := &Table{
		store:    store,
		location: location,
		opts:     opts,
		logger:   opts.Logger.With("component", "table", "location", location),
	}
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Write creates the table at location from f, or writes f into the existing
// table with the given mode. partitionBy applies when the table is created or
// overwritten; nil keeps the current partitioning.
func Write(ctx context.Context, store objstore.Store, location string, f *frame.Frame, mode Mode, partitionBy []string, opts Options) (*Table, error) {
	t, err := Open(ctx, store, location, opts)
	if err == nil {
		if err := t.write(ctx, f, mode, partitionBy); err != nil {
			return nil, err
		}
		return t, nil
	}
	if !errors.Is(err, lakeerr.ErrNotFound) {
		return nil, err
	}

	opts = opts.withDefaults()
	t = &Table{
		store:    store,
		location: location,
		opts:     opts,
		logger:   opts.Logger.With("component", "table", "location", location),
	}
	if err := t.create(ctx, f, partitionBy); err != nil {
		return nil, err
	}
	return t, nil
}

// Location returns the table location.
func (t *Table) Location() string { return t.location }

// Version returns the loaded snapshot version.
func (t *Table) Version() int64 { return t.snap.Version }

// Schema returns the table schema.
func (t *Table) Schema() frame.Schema { return append(frame.Schema(nil), t.snap.Schema...) }

// PartitionColumns returns the partition columns.
func (t *Table) PartitionColumns() []string { return slices.Clone(t.snap.PartitionColumns) }

// Snapshot returns a copy of the loaded snapshot.
func (t *Table) Snapshot() Snapshot {
	s := *t.snap
	s.Files = slices.Clone(t.snap.Files)
	return s
}

// Refresh reloads the latest snapshot.
func (t *Table) Refresh(ctx context.Context) error {
	v, err := latestVersion(ctx, t.store, t.location)
	if err != nil {
		return fmt.Errorf("find latest version of %s: %w", t.location, err)
	}
	if v < 0 {
		return &lakeerr.NotFoundError{Kind: "table", Name: t.location}
	}
	snap, err := readSnapshot(ctx, t.store, t.location, v)
	if err != nil {
		return err
	}
	t.snap = snap
	return nil
}

func (t *Table) create(ctx context.Context, f *frame.Frame, partitionBy []string) error {
	if err := checkPartitionColumns(f.Schema(), partitionBy); err != nil {
		return err
	}
	base := &Snapshot{
		Version: -1,
		TableID: uuid.NewString(),
	}
	return t.commitFrame(ctx, base, OperationCreate, f, partitionBy, nil)
}

// Write appends f to the table or replaces its contents.
func (t *Table) Write(ctx context.Context, f *frame.Frame, mode Mode) error {
	return t.write(ctx, f, mode, nil)
}

// WritePartitioned is Write with an explicit partitioning for overwrites.
func (t *Table) WritePartitioned(ctx context.Context, f *frame.Frame, mode Mode, partitionBy []string) error {
	return t.write(ctx, f, mode, partitionBy)
}

func (t *Table) write(ctx context.Context, f *frame.Frame, mode Mode, partitionBy []string) error {
	if !mode.Valid() {
		return lakeerr.Validationf("unknown write mode %q", mode)
	}
	if err := t.Refresh(ctx); err != nil {
		return err
	}
	base := t.snap

	switch mode {
	case ModeAppend:
		if partitionBy != nil && !slices.Equal(partitionBy, base.PartitionColumns) {
			return &lakeerr.ValidationError{
				Field:  "partition_by",
				Reason: fmt.Sprintf("append cannot change partitioning from %v to %v", base.PartitionColumns, partitionBy),
			}
		}
		aligned, err := alignToSchema(f, base.Schema)
		if err != nil {
			return err
		}
		return t.commitFrame(ctx, base, OperationAppend, aligned, base.PartitionColumns, base.Files)

	default:
		if partitionBy == nil {
			partitionBy = base.PartitionColumns
		}
		if err := checkPartitionColumns(f.Schema(), partitionBy); err != nil {
			return err
		}
		return t.commitFrame(ctx, base, OperationOverwrite, f, partitionBy, nil)
	}
}

// commitFrame writes f as new data files and commits base.Version+1 with
// keep plus the new files.
func (t *Table) commitFrame(ctx context.Context, base *Snapshot, op string, f *frame.Frame, partitionBy []string, keep []DataFile) error {
	start := time.Now()

	added, err := t.writeFiles(ctx, op, f, partitionBy)
	if err != nil {
		return err
	}

	files := append(slices.Clone(keep), added...)
	snap := &Snapshot{
		Version:          base.Version + 1,
		TableID:          base.TableID,
		TimestampMs:      time.Now().UnixMilli(),
		Operation:        op,
		Schema:           f.Schema(),
		PartitionColumns: slices.Clone(partitionBy),
		Files:            files,
		Summary: map[string]string{
			"added-files":   strconv.Itoa(len(added)),
			"added-records": strconv.Itoa(f.NumRows()),
			"total-files":   strconv.Itoa(len(files)),
		},
	}
	if err := t.commit(ctx, snap, added); err != nil {
		return err
	}

	metrics.TableCommitDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	t.logger.Debug("table committed",
		"version", snap.Version,
		"operation", op,
		"rows", f.NumRows(),
		"files_added", len(added),
	)
	return nil
}

// commit publishes snap and removes the uncommitted files if that fails.
func (t *Table) commit(ctx context.Context, snap *Snapshot, added []DataFile) error {
	if err := commitSnapshot(ctx, t.store, t.location, snap); err != nil {
		t.logger.Warn("snapshot commit failed, cleaning up files",
			"error", err,
			"version", snap.Version,
			"files", len(added),
		)
		for _, df := range added {
			_ = t.store.Delete(ctx, objstore.Join(t.location, df.Path))
		}
		return fmt.Errorf("commit table %s: %w", t.location, err)
	}
	metrics.TableCommitsTotal.WithLabelValues(snap.Operation).Inc()
	t.snap = snap
	return nil
}

// writeFiles encodes f into one data file per partition group.
func (t *Table) writeFiles(ctx context.Context, op string, f *frame.Frame, partitionBy []string) ([]DataFile, error) {
	groups := groupByPartition(f, partitionBy)
	files := make([]DataFile, 0, len(groups))
	for i, g := range groups {
		data, err := t.opts.Codec.Encode(f.Take(g.rows))
		if err != nil {
			t.cleanup(ctx, files)
			return nil, fmt.Errorf("encode data file: %w", err)
		}

		name := fmt.Sprintf("part-%05d-%s.%s", i, uuid.NewString(), t.opts.Codec.Format())
		rel := name
		if dir := partitionDir(partitionBy, g.values); dir != "" {
			rel = dir + "/" + name
		}
		if err := t.store.Write(ctx, objstore.Join(t.location, rel), data); err != nil {
			t.cleanup(ctx, files)
			return nil, fmt.Errorf("upload data file: %w", err)
		}

		files = append(files, DataFile{
			Path:            rel,
			Format:          t.opts.Codec.Format(),
			Partition:       g.values,
			RecordCount:     int64(len(g.rows)),
			FileSizeInBytes: int64(len(data)),
		})
		metrics.TableFilesWrittenTotal.WithLabelValues(op).Inc()
		metrics.TableBytesWrittenTotal.WithLabelValues(op).Add(float64(len(data)))
	}
	return files, nil
}

func (t *Table) cleanup(ctx context.Context, files []DataFile) {
	for _, df := range files {
		_ = t.store.Delete(ctx, objstore.Join(t.location, df.Path))
	}
}

// Scan returns the rows matching every filter, in data file order. Filters
// on partition columns skip whole files.
func (t *Table) Scan(ctx context.Context, filters ...Filter) (*frame.Frame, error) {
	if err := t.Refresh(ctx); err != nil {
		return nil, err
	}
	schema := t.snap.Schema

	normalized := make([]Filter, len(filters))
	for i, f := range filters {
		nf, err := f.normalize(schema)
		if err != nil {
			return nil, err
		}
		normalized[i] = nf
	}

	var files []DataFile
	for _, df := range t.snap.Files {
		if keepFile(df, schema, normalized) {
			files = append(files, df)
		}
	}
	metrics.TableFilesPrunedTotal.Add(float64(len(t.snap.Files) - len(files)))

	frames, err := t.readFiles(ctx, files)
	if err != nil {
		return nil, err
	}

	parts := make([]*frame.Frame, 0, len(frames)+1)
	parts = append(parts, frame.Empty(schema))
	for _, fr := range frames {
		if len(normalized) > 0 {
			src := fr
			fr = src.Filter(func(r int) bool { return matchRow(src, r, normalized) })
		}
		parts = append(parts, fr)
	}
	return frame.Concat(parts...)
}

// readFiles decodes data files concurrently, keeping their order.
func (t *Table) readFiles(ctx context.Context, files []DataFile) ([]*frame.Frame, error) {
	out := make([]*frame.Frame, len(files))
	schema := t.snap.Schema

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.ScanConcurrency)
	for i, df := range files {
		g.Go(func() error {
			data, err := t.store.Read(gctx, objstore.Join(t.location, df.Path))
			if err != nil {
				return fmt.Errorf("read data file %s: %w", df.Path, err)
			}
			fr, err := t.opts.Codec.Decode(data, schema)
			if err != nil {
				return fmt.Errorf("decode data file %s: %w", df.Path, err)
			}
			out[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	metrics.TableFilesScannedTotal.Add(float64(len(files)))
	return out, nil
}

// History lists every committed version, oldest first.
func (t *Table) History(ctx context.Context) ([]CommitInfo, error) {
	versions, err := listVersions(ctx, t.store, t.location)
	if err != nil {
		return nil, err
	}
	out := make([]CommitInfo, 0, len(versions))
	for _, v := range versions {
		snap, err := readSnapshot(ctx, t.store, t.location, v)
		if err != nil {
			return nil, err
		}
		out = append(out, CommitInfo{
			Version:     snap.Version,
			TimestampMs: snap.TimestampMs,
			Operation:   snap.Operation,
			Files:       len(snap.Files),
			Records:     snap.RecordCount(),
			Summary:     snap.Summary,
		})
	}
	return out, nil
}

func checkPartitionColumns(schema frame.Schema, partitionBy []string) error {
	seen := make(map[string]struct{}, len(partitionBy))
	for _, c := range partitionBy {
		if schema.Index(c) < 0 {
			return lakeerr.Validationf("partition column '%s' is missing", c)
		}
		if _, dup := seen[c]; dup {
			return lakeerr.Validationf("partition columns must be unique")
		}
		seen[c] = struct{}{}
	}
	return nil
}

// alignToSchema reorders f to the table schema. Integer columns stored as
// floats are widened; any other difference is a SchemaMismatchError.
func alignToSchema(f *frame.Frame, schema frame.Schema) (*frame.Frame, error) {
	missing, extra, changed := schema.Diff(f.Schema())
	var incompatible []string
	for _, name := range changed {
		want, _ := schema.Lookup(name)
		have, _ := f.Type(name)
		if have != frame.TypeInt || want.Type != frame.TypeFloat {
			incompatible = append(incompatible, name)
			continue
		}
		widened, err := f.WithColumn(name, frame.TypeFloat, f.Values(name))
		if err != nil {
			return nil, err
		}
		f = widened
	}
	if len(missing)+len(extra)+len(incompatible) > 0 {
		return nil, &lakeerr.SchemaMismatchError{Missing: missing, Extra: extra, Changed: incompatible}
	}
	return f.Select(schema.Names()...)
}
