// Package lake manages named time-series datasets stored under one root.
//
// A lake keeps a catalog of datasets and a directory of feature definitions
// next to the dataset tables. Writes run the incoming frame through the
// preprocessor, create the dataset on first use and then append, overwrite or
// merge into its table. Reads prune on the day partition column and can add
// registered features to the result.
package lake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/Garsdal/timelake/internal/catalog"
	"github.com/Garsdal/timelake/internal/feature"
	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
	"github.com/Garsdal/timelake/internal/objstore"
	"github.com/Garsdal/timelake/internal/preprocess"
	"github.com/Garsdal/timelake/internal/storage"
	"github.com/Garsdal/timelake/internal/table"
)

// Options configures Create and Open.
type Options struct {
	// TimestampColumn is the time column of every dataset. Required by
	// Create when the lake has no config yet; ignored otherwise.
	TimestampColumn string

	// PartitionBy lists extra partition columns after the day column.
	PartitionBy []string

	// Backend locates the lake. Defaults to a backend picked from the path
	// scheme with credentials from the environment.
	Backend storage.Backend

	// Preprocessor defaults to the kind recorded in the config.
	Preprocessor preprocess.Preprocessor

	// ScanConcurrency bounds parallel data file reads.
	ScanConcurrency int

	// Logger is the logger to use.
	Logger *slog.Logger
}

// ReadOptions selects rows returned by Read.
type ReadOptions struct {
	// Start is the first day to include. Zero means unbounded.
	Start time.Time

	// End is the last day to include. Zero means unbounded.
	End time.Time

	// Filters are applied to the rows after day pruning.
	Filters []table.Filter

	// Features lists feature columns to include. A name that is already a
	// dataset column is returned as stored.
	Features []string

	// ComputeIfMissing computes requested features that are not dataset
	// columns. When false they are skipped.
	ComputeIfMissing bool

	// Horizon drops rows inserted later than End minus Horizon, or now minus
	// Horizon when End is zero. Zero disables the cutoff.
	Horizon time.Duration
}

// Lake is an opened time-series lake.
type Lake struct {
	path      string
	backend   storage.Backend
	store     objstore.Store
	catalog   *catalog.Store
	features  *feature.Registry
	config    *catalog.ConfigEntry
	pre       preprocess.Preprocessor
	tableOpts table.Options
	logger    *slog.Logger
	now       func() time.Time
}

// Create initializes a lake at path, or opens it when it already exists.
// The config of an existing lake wins over opts.
func Create(ctx context.Context, path string, opts Options) (*Lake, error) {
	l, err := newLake(path, opts)
	if err != nil {
		return nil, err
	}

	if err := l.backend.EnsureDirectories(ctx); err != nil {
		return nil, fmt.Errorf("prepare lake location: %w", err)
	}
	if l.store, err = storage.Open(ctx, l.backend, l.logger); err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	if l.catalog, err = catalog.Create(ctx, l.store, l.path, l.logger); err != nil {
		return nil, err
	}
	l.features = feature.NewRegistry(l.store, objstore.Join(l.path, storage.FeaturesDir), l.logger)

	pre := opts.Preprocessor
	if pre == nil {
		pre = preprocess.New()
	}
	_, cfg, err := l.catalog.GetOrCreateConfig(ctx, opts.TimestampColumn, pre, string(l.backend.Kind()), opts.PartitionBy)
	if err != nil {
		return nil, err
	}
	if opts.TimestampColumn != "" && opts.TimestampColumn != cfg.TimestampColumn {
		l.logger.Warn("lake already configured with a different timestamp column",
			"requested", opts.TimestampColumn,
			"configured", cfg.TimestampColumn,
		)
	}
	if err := l.configure(cfg, opts.Preprocessor); err != nil {
		return nil, err
	}

	md := storage.Metadata{
		StoreID:          cfg.StoreID,
		TimestampColumn:  cfg.TimestampColumn,
		PartitionBy:      cfg.PartitionBy,
		InsertedAtColumn: preprocess.InsertedAtColumn,
		BackendKind:      storage.Kind(cfg.BackendKind),
		PreprocessorKind: cfg.PreprocessorKind,
		CreatedAt:        cfg.CreatedAt,
	}
	if err := storage.SaveMetadata(ctx, l.store, l.path, md); err != nil {
		return nil, err
	}

	l.logger.Info("lake ready",
		"path", l.path,
		"store_id", cfg.StoreID,
		"timestamp_column", cfg.TimestampColumn,
		"partition_by", cfg.PartitionBy,
	)
	return l, nil
}

// Open loads an existing lake.
func Open(ctx context.Context, path string, opts Options) (*Lake, error) {
	l, err := newLake(path, opts)
	if err != nil {
		return nil, err
	}

	if l.store, err = storage.Open(ctx, l.backend, l.logger); err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	if l.catalog, err = catalog.Open(ctx, l.store, l.path, l.logger); err != nil {
		return nil, err
	}
	l.features = feature.NewRegistry(l.store, objstore.Join(l.path, storage.FeaturesDir), l.logger)
	cfg, ok, err := l.catalog.Config(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lakeerr.NotFoundError{Kind: "config entry", Name: l.path}
	}
	if err := l.configure(cfg, opts.Preprocessor); err != nil {
		return nil, err
	}
	return l, nil
}

func newLake(path string, opts Options) (*Lake, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend := opts.Backend
	if backend == nil {
		var err error
		if backend, err = storage.ForPath(path, storage.CredentialsFromEnv(), logger); err != nil {
			return nil, err
		}
	}
	if local, ok := backend.(*storage.LocalBackend); ok {
		backend = local.WithSubpaths(storage.FeaturesDir)
	}

	return &Lake{
		path:    backend.Path(),
		backend: backend,
		tableOpts: table.Options{
			ScanConcurrency: opts.ScanConcurrency,
			Logger:          logger,
		},
		logger: logger.With("component", "lake"),
		now:    time.Now,
	}, nil
}

func (l *Lake) configure(cfg *catalog.ConfigEntry, pre preprocess.Preprocessor) error {
	if pre == nil {
		var err error
		if pre, err = preprocess.ForKind(cfg.PreprocessorKind); err != nil {
			return err
		}
	}
	if len(cfg.PartitionBy) == 0 {
		return &lakeerr.ConfigurationError{Setting: "partition_by", Reason: "config entry has no partition columns"}
	}
	l.config = cfg
	l.pre = pre
	return nil
}

// Path returns the lake root location.
func (l *Lake) Path() string { return l.path }

// Config returns the lake configuration.
func (l *Lake) Config() *catalog.ConfigEntry {
	cp := *l.config
	cp.PartitionBy = append([]string(nil), l.config.PartitionBy...)
	return &cp
}

// Catalog returns the lake catalog.
func (l *Lake) Catalog() *catalog.Store { return l.catalog }

// Datasets lists the registered datasets.
func (l *Lake) Datasets(ctx context.Context) ([]*catalog.DatasetEntry, error) {
	return l.catalog.Datasets(ctx)
}

// Dataset returns the named dataset entry.
func (l *Lake) Dataset(ctx context.Context, name string) (*catalog.DatasetEntry, bool, error) {
	return l.catalog.Dataset(ctx, name)
}

// DatasetPath returns where the named dataset's table lives.
func (l *Lake) DatasetPath(name string) string {
	return objstore.Join(l.path, name)
}

// GetOrCreateDataset returns the named dataset, creating it from f when it
// is not registered. f must already carry the partition columns, as produced
// by the preprocessor.
func (l *Lake) GetOrCreateDataset(ctx context.Context, name string, f *frame.Frame) (*catalog.DatasetEntry, error) {
	entry, _, err := l.getOrCreateDataset(ctx, name, f)
	return entry, err
}

func (l *Lake) getOrCreateDataset(ctx context.Context, name string, f *frame.Frame) (*catalog.DatasetEntry, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}

	entry, ok, err := l.catalog.Dataset(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return entry, false, nil
	}

	if f == nil || f.NumRows() == 0 {
		return nil, false, &lakeerr.ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("dataset %q does not exist and cannot be created from an empty table", name),
		}
	}
	entry, err = l.catalog.CreateDataset(ctx, name, l.DatasetPath(name), f, catalog.DatasetOptions{
		PartitionColumns: l.config.PartitionBy,
		Table:            l.tableOpts,
	})
	if err != nil {
		return nil, false, err
	}
	metrics.LakeDatasetsCreatedTotal.Inc()
	return entry, true, nil
}

// Write preprocesses f and appends it to the named dataset or replaces the
// dataset contents. The first write to an unknown name creates the dataset
// from f.
func (l *Lake) Write(ctx context.Context, name string, f *frame.Frame, mode table.Mode) (err error) {
	start := time.Now()
	defer func() {
		metrics.LakeWritesTotal.WithLabelValues(name, string(mode), metrics.Status(err)).Inc()
		metrics.LakeOperationDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
	}()

	if !mode.Valid() {
		return lakeerr.Validationf("unknown write mode %q", mode)
	}
	processed, err := l.prepare(f)
	if err != nil {
		return err
	}

	entry, created, err := l.getOrCreateDataset(ctx, name, processed)
	if err != nil {
		return err
	}
	if !created {
		tbl, err := l.openTable(ctx, entry)
		if err != nil {
			return err
		}
		if err := tbl.WritePartitioned(ctx, processed, mode, entry.PartitionColumns); err != nil {
			return fmt.Errorf("write dataset %q: %w", name, err)
		}
		if mode == table.ModeOverwrite {
			if err := l.refreshSchema(ctx, entry, processed); err != nil {
				return err
			}
		}
	}

	metrics.LakeRowsWrittenTotal.WithLabelValues(name).Add(float64(processed.NumRows()))
	l.logger.Info("dataset written",
		"dataset", name,
		"mode", mode,
		"rows", processed.NumRows(),
		"created", created,
	)
	return nil
}

// refreshSchema records the columns of an overwritten dataset in its entry.
func (l *Lake) refreshSchema(ctx context.Context, entry *catalog.DatasetEntry, f *frame.Frame) error {
	schema := catalog.SchemaOf(f)
	if maps.Equal(schema, entry.Schema) {
		return nil
	}
	ok, err := l.catalog.Update(ctx, entry.ID, map[string]any{"schema": schema})
	if err != nil {
		return fmt.Errorf("update schema of dataset %q: %w", entry.Name, err)
	}
	if !ok {
		return &lakeerr.ConsistencyError{
			Dataset: entry.Name,
			Path:    entry.Path,
			Err:     &lakeerr.NotFoundError{Kind: "catalog entry", Name: entry.ID},
		}
	}
	l.logger.Info("dataset schema changed", "dataset", entry.Name, "columns", len(schema))
	return nil
}

// Upsert preprocesses f and merges it into the named dataset keyed on the
// timestamp column. Matched rows are replaced, the rest inserted; when f
// repeats a timestamp the last row wins.
func (l *Lake) Upsert(ctx context.Context, name string, f *frame.Frame) (res *table.MergeResult, err error) {
	start := time.Now()
	defer func() {
		metrics.LakeWritesTotal.WithLabelValues(name, "upsert", metrics.Status(err)).Inc()
		metrics.LakeOperationDuration.WithLabelValues("upsert").Observe(time.Since(start).Seconds())
	}()

	processed, err := l.prepare(f)
	if err != nil {
		return nil, err
	}

	entry, created, err := l.getOrCreateDataset(ctx, name, processed)
	if err != nil {
		return nil, err
	}
	if created {
		res = &table.MergeResult{RowsInserted: processed.NumRows()}
	} else {
		tbl, err := l.openTable(ctx, entry)
		if err != nil {
			return nil, err
		}
		res, err = tbl.Merge(ctx, processed, []string{l.config.TimestampColumn})
		if err != nil {
			return nil, fmt.Errorf("upsert dataset %q: %w", name, err)
		}
	}

	metrics.LakeRowsWrittenTotal.WithLabelValues(name).Add(float64(res.RowsUpdated + res.RowsInserted))
	l.logger.Info("dataset upserted",
		"dataset", name,
		"rows_updated", res.RowsUpdated,
		"rows_inserted", res.RowsInserted,
		"created", created,
	)
	return res, nil
}

// Read returns the rows of the named dataset whose day partition falls in
// [opts.Start, opts.End]. Only the day of each bound is used, so callers
// needing finer ranges filter the result themselves. Requested features that
// have to be computed sort the result by the timestamp column.
func (l *Lake) Read(ctx context.Context, name string, opts ReadOptions) (out *frame.Frame, err error) {
	start := time.Now()
	defer func() {
		metrics.LakeOperationDuration.WithLabelValues("read").Observe(time.Since(start).Seconds())
	}()

	entry, ok, err := l.catalog.Dataset(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lakeerr.NotFoundError{Kind: "dataset", Name: name}
	}
	tbl, err := l.openTable(ctx, entry)
	if err != nil {
		return nil, err
	}

	day := l.config.TimestampPartitionColumn
	filters := make([]table.Filter, 0, len(opts.Filters)+2)
	if !opts.Start.IsZero() {
		filters = append(filters, table.Ge(day, opts.Start.UTC().Format(preprocess.DayLayout)))
	}
	if !opts.End.IsZero() {
		filters = append(filters, table.Le(day, opts.End.UTC().Format(preprocess.DayLayout)))
	}
	if opts.Horizon > 0 {
		ref := opts.End
		if ref.IsZero() {
			ref = l.now()
		}
		filters = append(filters, table.Le(preprocess.InsertedAtColumn, ref.Add(-opts.Horizon).UTC()))
	}
	filters = append(filters, opts.Filters...)

	out, err = tbl.Scan(ctx, filters...)
	if err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}
	if out, err = l.addFeatures(ctx, out, opts); err != nil {
		return nil, fmt.Errorf("read dataset %q: %w", name, err)
	}
	metrics.LakeRowsReadTotal.WithLabelValues(name).Add(float64(out.NumRows()))
	return out, nil
}

func (l *Lake) addFeatures(ctx context.Context, f *frame.Frame, opts ReadOptions) (*frame.Frame, error) {
	for _, name := range opts.Features {
		if f.Has(name) || !opts.ComputeIfMissing {
			continue
		}
		def, ok, err := l.features.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &lakeerr.NotFoundError{Kind: "feature", Name: name}
		}
		if f, err = def.Compute(f, l.config.TimestampColumn); err != nil {
			return nil, err
		}
		metrics.LakeFeaturesComputedTotal.WithLabelValues(name).Inc()
	}
	return f, nil
}

// AddFeature registers a feature definition.
func (l *Lake) AddFeature(ctx context.Context, f *feature.Feature) error {
	if f != nil && f.Name == l.config.TimestampColumn {
		return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("feature %q would replace the timestamp column", f.Name)}
	}
	if err := l.features.Add(ctx, f); err != nil {
		return err
	}
	l.logger.Info("feature added", "feature", f.Name, "type", f.Kind, "source_column", f.SourceColumn)
	return nil
}

// Features lists the registered feature names.
func (l *Lake) Features(ctx context.Context) ([]string, error) {
	return l.features.List(ctx)
}

// Feature returns the named feature definition.
func (l *Lake) Feature(ctx context.Context, name string) (*feature.Feature, bool, error) {
	return l.features.Get(ctx, name)
}

// UpdateFeature changes attributes of a feature definition.
func (l *Lake) UpdateFeature(ctx context.Context, name string, props map[string]any) (*feature.Feature, error) {
	return l.features.Update(ctx, name, props)
}

// RemoveFeature deletes a feature definition. Stored data is not touched.
func (l *Lake) RemoveFeature(ctx context.Context, name string) error {
	if err := l.features.Remove(ctx, name); err != nil {
		return err
	}
	l.logger.Info("feature removed", "feature", name)
	return nil
}

// ParseHorizon parses a horizon such as "1d", "3h" or "30m". Other Go
// duration strings are accepted too.
func ParseHorizon(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days < 0 {
			return 0, &lakeerr.ValidationError{Field: "horizon", Reason: fmt.Sprintf("invalid horizon %q", s)}
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, &lakeerr.ValidationError{Field: "horizon", Reason: fmt.Sprintf("invalid horizon %q (expected e.g. 1d, 3h, 30m)", s)}
	}
	return d, nil
}

// History lists the commits of the named dataset's table.
func (l *Lake) History(ctx context.Context, name string) ([]table.CommitInfo, error) {
	entry, ok, err := l.catalog.Dataset(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lakeerr.NotFoundError{Kind: "dataset", Name: name}
	}
	tbl, err := l.openTable(ctx, entry)
	if err != nil {
		return nil, err
	}
	return tbl.History(ctx)
}

// prepare runs the preprocessor and checks the configured partitions.
func (l *Lake) prepare(f *frame.Frame) (*frame.Frame, error) {
	processed, err := l.pre.Run(f, l.config.TimestampColumn)
	if err != nil {
		return nil, err
	}
	if err := l.pre.ValidatePartitions(processed, l.config.PartitionBy); err != nil {
		return nil, err
	}
	return processed, nil
}

// openTable opens a registered dataset's table. A missing table means the
// catalog and storage disagree.
func (l *Lake) openTable(ctx context.Context, entry *catalog.DatasetEntry) (*table.Table, error) {
	tbl, err := table.Open(ctx, l.store, entry.Path, l.tableOpts)
	if err != nil {
		if errors.Is(err, lakeerr.ErrNotFound) {
			return nil, &lakeerr.ConsistencyError{Dataset: entry.Name, Path: entry.Path, Err: err}
		}
		return nil, err
	}
	return tbl, nil
}

// ValidateName checks that name can be used as a dataset directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &lakeerr.ValidationError{Field: "name", Reason: "dataset name is empty"}
	case strings.ContainsAny(name, `/\`):
		return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("dataset name %q contains a path separator", name)}
	case strings.HasPrefix(name, "_"), strings.HasPrefix(name, "."):
		return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("dataset name %q must not start with '_' or '.'", name)}
	}
	return nil
}
