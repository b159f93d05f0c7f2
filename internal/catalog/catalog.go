// Package catalog stores typed metadata entries describing a lake in a
// transactional table.
//
// Add and Delete rewrite the whole catalog table; Update merges a single row
// keyed on id. Operations on one Store are serialized by a mutex, but two
// processes adding or deleting at the same time can still lose one of the
// changes: each reads the table, modifies it in memory and overwrites it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/metrics"
	"github.com/Garsdal/timelake/internal/objstore"
	"github.com/Garsdal/timelake/internal/table"
)

// TableName is the catalog table directory under the lake root.
const TableName = "_timelake_catalog"

// PartitionRule derives partition columns from the timestamp column.
type PartitionRule interface {
	Kind() string
	TimestampPartitionColumn(timestampColumn string) string
	ResolvePartitions(timestampColumn string, partitionBy []string) []string
}

// Store is the catalog of one lake.
type Store struct {
	store    objstore.Store
	lakePath string
	location string
	opts     table.Options
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// Location returns the catalog table location for a lake root.
func Location(lakePath string) string {
	return objstore.Join(lakePath, TableName)
}

func newStore(store objstore.Store, lakePath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		store:    store,
		lakePath: lakePath,
		location: Location(lakePath),
		opts:     table.Options{Codec: newRecordCodec(), Logger: logger},
		logger:   logger.With("component", "catalog"),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Create initializes an empty catalog table under lakePath. It is a no-op
// when the catalog already exists.
func Create(ctx context.Context, store objstore.Store, lakePath string, logger *slog.Logger) (*Store, error) {
	s := newStore(store, lakePath, logger)

	exists, err := table.Exists(ctx, store, s.location)
	if err != nil {
		return nil, fmt.Errorf("check catalog: %w", err)
	}
	if exists {
		s.logger.Debug("catalog already exists", "location", s.location)
		return s, nil
	}

	if _, err := table.Write(ctx, store, s.location, frame.Empty(Schema), table.ModeOverwrite, nil, s.opts); err != nil {
		return nil, fmt.Errorf("create catalog table: %w", err)
	}
	s.logger.Info("catalog created", "location", s.location)
	return s, nil
}

// Open loads an existing catalog.
func Open(ctx context.Context, store objstore.Store, lakePath string, logger *slog.Logger) (*Store, error) {
	s := newStore(store, lakePath, logger)

	exists, err := table.Exists(ctx, store, s.location)
	if err != nil {
		return nil, fmt.Errorf("check catalog: %w", err)
	}
	if !exists {
		return nil, &lakeerr.NotFoundError{Kind: "catalog", Name: s.location}
	}
	return s, nil
}

// Location returns the catalog table location.
func (s *Store) Location() string { return s.location }

// ObjectStore returns the object store holding the catalog.
func (s *Store) ObjectStore() objstore.Store { return s.store }

func (s *Store) table(ctx context.Context) (*table.Table, error) {
	return table.Open(ctx, s.store, s.location, s.opts)
}

// History lists the catalog table commits.
func (s *Store) History(ctx context.Context) ([]table.CommitInfo, error) {
	tbl, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	return tbl.History(ctx)
}

// Add stores e and returns its id. An empty id is replaced by a new UUID
// and zero timestamps by the current time; both are written back into e once
// the entry passes validation and is stored.
func (s *Store) Add(ctx context.Context, e Entry) (id string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("add", start, err) }()

	if e == nil {
		return "", lakeerr.Validationf("entry is nil")
	}
	if !KnownType(e.Type()) {
		return "", lakeerr.Validationf("unknown entry type %q", e.Type())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, err := s.table(ctx)
	if err != nil {
		return "", err
	}
	current, err := tbl.Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("read catalog: %w", err)
	}
	existing, err := decodeFrame(current)
	if err != nil {
		return "", err
	}

	h := e.EntryHeader()
	id = h.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := checkUnique(existing, e, id, ""); err != nil {
		return "", err
	}

	// The caller's entry is only touched once it is known to be valid.
	orig := *h
	now := s.now()
	h.ID = id
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = now
	}
	h.CreatedAt = h.CreatedAt.UTC().Truncate(time.Microsecond)
	h.UpdatedAt = h.UpdatedAt.UTC().Truncate(time.Microsecond)
	defer func() {
		if err != nil {
			*h = orig
		}
	}()

	row, err := entryFrame(e)
	if err != nil {
		return "", err
	}
	all, err := frame.Concat(current, row)
	if err != nil {
		return "", err
	}
	if err := tbl.Write(ctx, all, table.ModeOverwrite); err != nil {
		return "", fmt.Errorf("write catalog: %w", err)
	}

	metrics.CatalogEntriesAddedTotal.WithLabelValues(string(e.Type())).Inc()
	s.logger.Debug("entry added", "id", h.ID, "name", h.Name, "entry_type", e.Type())
	return h.ID, nil
}

// checkUnique enforces the uniqueness rules for e stored under id, ignoring
// the entry with id self.
func checkUnique(existing []Entry, e Entry, id, self string) error {
	for _, other := range existing {
		oid := other.EntryHeader().ID
		if self != "" && oid == self {
			continue
		}
		if oid == id {
			return &lakeerr.ValidationError{Field: "id", Reason: fmt.Sprintf("entry %s already exists", id)}
		}
		if other.Type() != e.Type() {
			continue
		}
		switch cur := e.(type) {
		case *ConfigEntry:
			return lakeerr.Validationf("catalog already holds config entry %s", oid)
		case *DatasetEntry:
			ds := other.(*DatasetEntry)
			if ds.Name == cur.Name {
				return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("dataset %q already exists", cur.Name)}
			}
			if cur.Path != "" && ds.Path == cur.Path {
				return &lakeerr.ValidationError{Field: "path", Reason: fmt.Sprintf("path %s is already used by dataset %q", cur.Path, ds.Name)}
			}
		}
	}
	return nil
}

// Get returns the entry with the given id.
func (s *Store) Get(ctx context.Context, id string) (e Entry, found bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("get", start, err) }()

	entries, err := s.scan(ctx, table.Eq(ColumnID, id))
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return entries[0], true, nil
}

// GetByName returns the first entry of type t with the given name.
func (s *Store) GetByName(ctx context.Context, name string, t EntryType) (e Entry, found bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("get_by_name", start, err) }()

	entries, err := s.scan(ctx, table.Eq(ColumnName, name), table.Eq(ColumnEntryType, string(t)))
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return entries[0], true, nil
}

// List returns all entries of type t in table order, or every entry when t
// is empty.
func (s *Store) List(ctx context.Context, t EntryType) (entries []Entry, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("list", start, err) }()

	if t == "" {
		return s.scan(ctx)
	}
	return s.scan(ctx, table.Eq(ColumnEntryType, string(t)))
}

func (s *Store) scan(ctx context.Context, filters ...table.Filter) ([]Entry, error) {
	tbl, err := s.table(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tbl.Scan(ctx, filters...)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return decodeFrame(rows)
}

// Update merges props into the entry payload and reports whether the entry
// existed. The "name" key renames the entry; id, entry_type, created_at and
// updated_at cannot be changed. Typed fields are validated by decoding the
// merged payload.
func (s *Store) Update(ctx context.Context, id string, props map[string]any) (updated bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("update", start, err) }()

	for k := range props {
		if reservedKeys[k] {
			return false, &lakeerr.ValidationError{Field: k, Reason: "cannot be updated"}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.scan(ctx)
	if err != nil {
		return false, err
	}
	var current Entry
	for _, e := range entries {
		if e.EntryHeader().ID == id {
			current = e
			break
		}
	}
	if current == nil {
		return false, nil
	}
	h := *current.EntryHeader()

	merged, err := propertiesMap(current)
	if err != nil {
		return false, err
	}
	for k, v := range props {
		if k == ColumnName {
			name, ok := v.(string)
			if !ok {
				return false, &lakeerr.ValidationError{Field: ColumnName, Reason: fmt.Sprintf("must be a string, got %T", v)}
			}
			h.Name = name
			continue
		}
		merged[k] = v
	}
	h.UpdatedAt = s.now()

	payload, err := encodeJSON(merged)
	if err != nil {
		return false, err
	}
	next, err := decodeEntry(h, current.Type(), payload)
	if err != nil {
		return false, err
	}
	if err := checkUnique(entries, next, id, id); err != nil {
		return false, err
	}
	if ds, ok := next.(*DatasetEntry); ok {
		if err := checkPartitionList(ds.PartitionColumns); err != nil {
			return false, err
		}
	}
	row, err := entryFrame(next)
	if err != nil {
		return false, err
	}

	tbl, err := s.table(ctx)
	if err != nil {
		return false, err
	}
	if _, err := tbl.Merge(ctx, row, []string{ColumnID}); err != nil {
		return false, fmt.Errorf("merge catalog entry %s: %w", id, err)
	}

	s.logger.Debug("entry updated", "id", id, "keys", len(props))
	return true, nil
}

// Delete removes the entry with the given id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (deleted bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("delete", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, err := s.table(ctx)
	if err != nil {
		return false, err
	}
	current, err := tbl.Scan(ctx)
	if err != nil {
		return false, fmt.Errorf("read catalog: %w", err)
	}
	kept := current.Filter(func(r int) bool { return current.Value(r, ColumnID) != id })
	if kept.NumRows() == current.NumRows() {
		return false, nil
	}
	if err := tbl.Write(ctx, kept, table.ModeOverwrite); err != nil {
		return false, fmt.Errorf("write catalog: %w", err)
	}

	s.logger.Debug("entry deleted", "id", id)
	return true, nil
}

// Config returns the config entry.
func (s *Store) Config(ctx context.Context) (*ConfigEntry, bool, error) {
	entries, err := s.List(ctx, EntryTypeConfig)
	if err != nil || len(entries) == 0 {
		return nil, false, err
	}
	return entries[0].(*ConfigEntry), true, nil
}

// GetOrCreateConfig returns the config entry, creating it from the given
// settings when the catalog has none. The config name is the last element of
// the lake path.
func (s *Store) GetOrCreateConfig(ctx context.Context, timestampColumn string, rule PartitionRule, backendKind string, partitionBy []string) (string, *ConfigEntry, error) {
	if cfg, ok, err := s.Config(ctx); err != nil {
		return "", nil, err
	} else if ok {
		return cfg.ID, cfg, nil
	}

	if timestampColumn == "" {
		return "", nil, lakeerr.Validationf("timestamp column is required")
	}
	cfg := &ConfigEntry{
		Header:                   Header{Name: objstore.Base(s.lakePath)},
		TimestampColumn:          timestampColumn,
		TimestampPartitionColumn: rule.TimestampPartitionColumn(timestampColumn),
		PartitionBy:              rule.ResolvePartitions(timestampColumn, partitionBy),
		StoreID:                  uuid.NewString(),
		BackendKind:              backendKind,
		PreprocessorKind:         rule.Kind(),
	}
	id, err := s.Add(ctx, cfg)
	if err != nil {
		return "", nil, fmt.Errorf("add config entry: %w", err)
	}
	s.logger.Info("config entry created",
		"id", id,
		"timestamp_column", cfg.TimestampColumn,
		"partition_by", cfg.PartitionBy,
	)
	return id, cfg, nil
}

// DatasetOptions configures CreateDataset.
type DatasetOptions struct {
	// PartitionColumns must be non-empty, unique and present in the frame.
	PartitionColumns []string

	// PrimaryKey is an optional key column.
	PrimaryKey string

	// Table configures the dataset table.
	Table table.Options
}

// CreateDataset registers a dataset and materializes its table at path from
// f. When the table cannot be written the entry is removed again.
func (s *Store) CreateDataset(ctx context.Context, name, path string, f *frame.Frame, opts DatasetOptions) (entry *DatasetEntry, err error) {
	start := time.Now()
	defer func() { metrics.ObserveCatalog("create_dataset", start, err) }()

	if name == "" {
		return nil, &lakeerr.ValidationError{Field: "name", Reason: "dataset name is empty"}
	}
	if err := validatePartitionColumns(f.Schema(), opts.PartitionColumns); err != nil {
		return nil, err
	}
	if opts.PrimaryKey != "" && !f.Has(opts.PrimaryKey) {
		return nil, &lakeerr.ValidationError{Field: "primary_key", Reason: fmt.Sprintf("column '%s' is missing", opts.PrimaryKey)}
	}

	entry = &DatasetEntry{
		Header:           Header{Name: name},
		Path:             path,
		Schema:           SchemaOf(f),
		PartitionColumns: slices.Clone(opts.PartitionColumns),
		PrimaryKey:       opts.PrimaryKey,
	}
	if _, err := s.Add(ctx, entry); err != nil {
		return nil, err
	}

	if _, err := table.Write(ctx, s.store, path, f, table.ModeOverwrite, entry.PartitionColumns, opts.Table); err != nil {
		if _, derr := s.Delete(ctx, entry.ID); derr != nil {
			s.logger.Error("failed to roll back dataset entry",
				"id", entry.ID,
				"dataset", name,
				"error", derr,
			)
		}
		return nil, fmt.Errorf("materialize dataset %q: %w", name, err)
	}

	s.logger.Info("dataset created",
		"dataset", name,
		"path", path,
		"rows", f.NumRows(),
		"partition_columns", entry.PartitionColumns,
	)
	return entry, nil
}

// SchemaOf maps the columns of f to their type names, the form stored in
// DatasetEntry.Schema.
func SchemaOf(f *frame.Frame) map[string]string {
	schema := make(map[string]string, f.NumColumns())
	for _, field := range f.Schema() {
		schema[field.Name] = string(field.Type)
	}
	return schema
}

// Datasets returns every dataset entry.
func (s *Store) Datasets(ctx context.Context) ([]*DatasetEntry, error) {
	entries, err := s.List(ctx, EntryTypeDataset)
	if err != nil {
		return nil, err
	}
	out := make([]*DatasetEntry, len(entries))
	for i, e := range entries {
		out[i] = e.(*DatasetEntry)
	}
	return out, nil
}

// Dataset returns the dataset entry with the given name.
func (s *Store) Dataset(ctx context.Context, name string) (*DatasetEntry, bool, error) {
	e, ok, err := s.GetByName(ctx, name, EntryTypeDataset)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.(*DatasetEntry), true, nil
}

func validatePartitionColumns(schema frame.Schema, columns []string) error {
	if err := checkPartitionList(columns); err != nil {
		return err
	}
	for _, c := range columns {
		if schema.Index(c) < 0 {
			return &lakeerr.ValidationError{Field: "partition_columns", Reason: fmt.Sprintf("partition column '%s' is missing", c)}
		}
	}
	return nil
}

// checkPartitionList requires a non-empty list without duplicates.
func checkPartitionList(columns []string) error {
	if len(columns) == 0 {
		return &lakeerr.ValidationError{Field: "partition_columns", Reason: "partition columns are empty"}
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, dup := seen[c]; dup {
			return &lakeerr.ValidationError{Field: "partition_columns", Reason: "partition columns must be unique"}
		}
		seen[c] = struct{}{}
	}
	return nil
}

func entryFrame(e Entry) (*frame.Frame, error) {
	props, err := encodeProperties(e)
	if err != nil {
		return nil, err
	}
	h := e.EntryHeader()
	return frame.New(Schema, [][]any{
		{h.ID},
		{h.Name},
		{string(e.Type())},
		{h.CreatedAt},
		{h.UpdatedAt},
		{props},
	})
}

func decodeFrame(f *frame.Frame) ([]Entry, error) {
	out := make([]Entry, 0, f.NumRows())
	for r := 0; r < f.NumRows(); r++ {
		h := Header{}
		h.ID, _ = f.Value(r, ColumnID).(string)
		h.Name, _ = f.Value(r, ColumnName).(string)
		h.CreatedAt, _ = f.Value(r, ColumnCreatedAt).(time.Time)
		h.UpdatedAt, _ = f.Value(r, ColumnUpdatedAt).(time.Time)
		t, _ := f.Value(r, ColumnEntryType).(string)
		props, _ := f.Value(r, ColumnProperties).(string)

		e, err := decodeEntry(h, EntryType(t), props)
		if err != nil {
			return nil, fmt.Errorf("decode catalog row %s: %w", h.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}
