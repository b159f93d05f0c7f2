package table

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/objstore"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func pricesFrame(t *testing.T, start, n int, asset string, value float64) *frame.Frame {
	t.Helper()
	ts := make([]any, n)
	assets := make([]any, n)
	values := make([]any, n)
	for i := 0; i < n; i++ {
		ts[i] = day0.Add(time.Duration(start+i) * time.Hour)
		assets[i] = asset
		values[i] = value
	}
	f, err := frame.FromColumns(
		frame.Column{Name: "ts", Type: frame.TypeTimestamp, Values: ts},
		frame.Column{Name: "asset", Type: frame.TypeString, Values: assets},
		frame.Column{Name: "value", Type: frame.TypeFloat, Values: values},
	)
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	return f
}

func newStore(t *testing.T) (objstore.Store, string) {
	t.Helper()
	return objstore.NewLocalStore(nil), filepath.Join(t.TempDir(), "prices")
}

func TestOpenMissingTable(t *testing.T) {
	store, loc := newStore(t)
	_, err := Open(context.Background(), store, loc, Options{})
	if !errors.Is(err, lakeerr.ErrNotFound) {
		t.Fatalf("Open() error = %v, want not found", err)
	}
	ok, err := Exists(context.Background(), store, loc)
	if err != nil || ok {
		t.Errorf("Exists() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestWriteAndScanRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	f, err := frame.FromColumns(
		frame.Column{Name: "ts", Type: frame.TypeTimestamp, Values: []any{day0, day0.Add(time.Microsecond), nil}},
		frame.Column{Name: "asset", Type: frame.TypeString, Values: []any{"BTC", "ETH", "BTC"}},
		frame.Column{Name: "qty", Type: frame.TypeInt, Values: []any{int64(1), nil, int64(-3)}},
		frame.Column{Name: "price", Type: frame.TypeFloat, Values: []any{1.5, 2.25, nil}},
		frame.Column{Name: "live", Type: frame.TypeBool, Values: []any{true, false, nil}},
	)
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}

	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, []string{"asset"}, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if tbl.Version() != 0 {
		t.Errorf("Version() = %d, want 0", tbl.Version())
	}
	snap := tbl.Snapshot()
	if len(snap.Files) != 2 {
		t.Fatalf("files = %d, want one per asset", len(snap.Files))
	}
	for _, df := range snap.Files {
		if !strings.HasPrefix(df.Path, "asset=") {
			t.Errorf("data file %q not under a partition directory", df.Path)
		}
	}

	got, err := tbl.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !got.Schema().Equal(f.Schema()) {
		t.Errorf("Scan() schema = %v, want %v", got.Schema(), f.Schema())
	}
	// Rows come back grouped by partition in first-seen order.
	want := f.Take([]int{0, 2, 1})
	if !got.Equal(want) {
		t.Errorf("Scan() = %v, want %v", got.Records(), want.Records())
	}
}

func TestAppendAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	f := pricesFrame(t, 0, 10, "BTC", 1)
	tbl, err := Write(ctx, store, loc, f, ModeAppend, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := tbl.Write(ctx, f, ModeAppend); err != nil {
		t.Fatalf("append error = %v", err)
	}
	got, err := tbl.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got.NumRows() != 20 {
		t.Errorf("rows after append = %d, want 20", got.NumRows())
	}

	if err := tbl.Write(ctx, f, ModeOverwrite); err != nil {
		t.Fatalf("overwrite error = %v", err)
	}
	got, err = tbl.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got.NumRows() != 10 {
		t.Errorf("rows after overwrite = %d, want 10", got.NumRows())
	}

	history, err := tbl.History(ctx)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	ops := make([]string, len(history))
	for i, h := range history {
		ops[i] = h.Operation
	}
	if strings.Join(ops, ",") != "create,append,overwrite" {
		t.Errorf("History() operations = %v", ops)
	}
	if history[1].Records != 20 {
		t.Errorf("History()[1].Records = %d, want 20", history[1].Records)
	}
}

func TestAppendReordersColumns(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	f := pricesFrame(t, 0, 2, "BTC", 1)
	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	reordered, _ := f.Select("value", "ts", "asset")
	if err := tbl.Write(ctx, reordered, ModeAppend); err != nil {
		t.Fatalf("append reordered error = %v", err)
	}
	if !tbl.Schema().Equal(f.Schema()) {
		t.Errorf("Schema() = %v, want %v", tbl.Schema(), f.Schema())
	}
}

func TestAppendWidensIntegers(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	f := pricesFrame(t, 0, 2, "BTC", 1)
	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	ints, err := f.WithConstant("value", frame.TypeInt, int64(3))
	if err != nil {
		t.Fatalf("WithConstant() error = %v", err)
	}
	if err := tbl.Write(ctx, ints, ModeAppend); err != nil {
		t.Fatalf("append int column error = %v", err)
	}

	out, err := tbl.Scan(ctx, Eq("value", 3.0))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if out.NumRows() != 2 {
		t.Errorf("Scan() returned %d rows, want 2", out.NumRows())
	}

	// Narrowing is still rejected.
	strs, _ := f.WithConstant("value", frame.TypeString, "x")
	if err := tbl.Write(ctx, strs, ModeAppend); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("append string column error = %v, want validation error", err)
	}
}

func TestAppendSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	f := pricesFrame(t, 0, 2, "BTC", 1)
	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	extra, _ := f.WithConstant("source", frame.TypeString, "x")
	err = tbl.Write(ctx, extra, ModeAppend)
	if !errors.Is(err, lakeerr.ErrValidation) {
		t.Fatalf("append error = %v, want validation error", err)
	}
	var mismatch *lakeerr.SchemaMismatchError
	if !errors.As(err, &mismatch) || len(mismatch.Extra) != 1 || mismatch.Extra[0] != "source" {
		t.Errorf("error = %#v, want extra column source", err)
	}

	if err := tbl.Write(ctx, f, "upsert"); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("unknown mode error = %v, want validation error", err)
	}
}

func TestWriteRejectsBadPartitions(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)
	f := pricesFrame(t, 0, 2, "BTC", 1)

	tests := []struct {
		name      string
		partition []string
	}{
		{"missing column", []string{"nope"}},
		{"duplicate column", []string{"asset", "asset"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Write(ctx, store, loc, f, ModeOverwrite, tt.partition, Options{})
			if !errors.Is(err, lakeerr.ErrValidation) {
				t.Errorf("Write() error = %v, want validation error", err)
			}
		})
	}
}

func TestEmptyFrameCreatesSchemaOnlyTable(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)
	schema := frame.Schema{{Name: "id", Type: frame.TypeString}, {Name: "n", Type: frame.TypeInt}}

	tbl, err := Write(ctx, store, loc, frame.Empty(schema), ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if len(tbl.Snapshot().Files) != 0 {
		t.Errorf("files = %d, want 0", len(tbl.Snapshot().Files))
	}

	reopened, err := Open(ctx, store, loc, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, err := reopened.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got.NumRows() != 0 || !got.Schema().Equal(schema) {
		t.Errorf("Scan() = %d rows with schema %v", got.NumRows(), got.Schema())
	}
}

func TestScanFiltersAndPruning(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	btc := pricesFrame(t, 0, 48, "BTC", 1)
	eth := pricesFrame(t, 0, 48, "ETH", 2)
	all, _ := frame.Concat(btc, eth)
	tbl, err := Write(ctx, store, loc, all, ModeOverwrite, []string{"asset"}, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	tests := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{"no filters", nil, 96},
		{"partition equality", []Filter{Eq("asset", "ETH")}, 48},
		{"partition in", []Filter{In("asset", "BTC", "DOGE")}, 48},
		{"row range", []Filter{Ge("ts", day0.Add(24 * time.Hour)), Le("ts", day0.Add(25 * time.Hour))}, 4},
		{"combined", []Filter{Eq("asset", "BTC"), {Column: "ts", Op: OpLt, Value: day0.Add(2 * time.Hour)}}, 2},
		{"not equal", []Filter{{Column: "asset", Op: OpNe, Value: "BTC"}}, 48},
		{"nothing", []Filter{Eq("asset", "DOGE")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tbl.Scan(ctx, tt.filters...)
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if got.NumRows() != tt.want {
				t.Errorf("Scan() rows = %d, want %d", got.NumRows(), tt.want)
			}
		})
	}

	if _, err := tbl.Scan(ctx, Eq("missing", 1)); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("Scan(missing column) error = %v, want validation error", err)
	}
	if _, err := tbl.Scan(ctx, Eq("value", "not a number")); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("Scan(bad operand) error = %v, want validation error", err)
	}
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)

	btc := pricesFrame(t, 0, 4, "BTC", 1)
	eth := pricesFrame(t, 0, 4, "ETH", 1)
	all, _ := frame.Concat(btc, eth)
	tbl, err := Write(ctx, store, loc, all, ModeOverwrite, []string{"asset"}, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Two updates to BTC hour 1 (last wins), one update to hour 2, one insert.
	source, err := frame.FromColumns(
		frame.Column{Name: "asset", Type: frame.TypeString, Values: []any{"BTC", "BTC", "BTC", "BTC"}},
		frame.Column{Name: "ts", Type: frame.TypeTimestamp, Values: []any{
			day0.Add(1 * time.Hour), day0.Add(2 * time.Hour), day0.Add(1 * time.Hour), day0.Add(10 * time.Hour),
		}},
		frame.Column{Name: "value", Type: frame.TypeFloat, Values: []any{5.0, 6.0, 7.0, 8.0}},
	)
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}

	res, err := tbl.Merge(ctx, source, []string{"asset", "ts"})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	want := MergeResult{RowsUpdated: 2, RowsInserted: 1, FilesAdded: 1, FilesRemoved: 1}
	if *res != want {
		t.Errorf("Merge() = %+v, want %+v", *res, want)
	}

	got, err := tbl.Scan(ctx, Eq("asset", "BTC"))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	got, _ = got.SortBy("ts")
	values := got.Values("value")
	wantValues := []any{1.0, 7.0, 6.0, 1.0, 8.0}
	if len(values) != len(wantValues) {
		t.Fatalf("BTC values = %v, want %v", values, wantValues)
	}
	for i := range wantValues {
		if values[i] != wantValues[i] {
			t.Errorf("BTC value[%d] = %v, want %v", i, values[i], wantValues[i])
		}
	}

	eths, err := tbl.Scan(ctx, Eq("asset", "ETH"))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if eths.NumRows() != 4 {
		t.Errorf("ETH rows = %d, want untouched 4", eths.NumRows())
	}
}

func TestMergeValidation(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)
	f := pricesFrame(t, 0, 2, "BTC", 1)
	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if _, err := tbl.Merge(ctx, f, nil); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("Merge(no keys) error = %v, want validation error", err)
	}
	if _, err := tbl.Merge(ctx, f, []string{"nope"}); !errors.Is(err, lakeerr.ErrValidation) {
		t.Errorf("Merge(unknown key) error = %v, want validation error", err)
	}
	res, err := tbl.Merge(ctx, frame.Empty(f.Schema()), []string{"ts"})
	if err != nil || *res != (MergeResult{}) {
		t.Errorf("Merge(empty) = (%+v, %v), want no-op", res, err)
	}
	if tbl.Version() != 0 {
		t.Errorf("Version() = %d, want no commit for empty merge", tbl.Version())
	}
}

func TestCommitConflict(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)
	snap := &Snapshot{Version: 0, TableID: "t", Operation: OperationCreate}

	if err := commitSnapshot(ctx, store, loc, snap); err != nil {
		t.Fatalf("commitSnapshot() error = %v", err)
	}
	err := commitSnapshot(ctx, store, loc, snap)
	if !errors.Is(err, lakeerr.ErrCommitConflict) {
		t.Fatalf("second commitSnapshot() error = %v, want commit conflict", err)
	}
}

func TestLatestVersionWithoutHint(t *testing.T) {
	ctx := context.Background()
	store, loc := newStore(t)
	f := pricesFrame(t, 0, 2, "BTC", 1)

	tbl, err := Write(ctx, store, loc, f, ModeOverwrite, nil, Options{})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := tbl.Write(ctx, f, ModeAppend); err != nil {
			t.Fatalf("append error = %v", err)
		}
	}

	// A stale hint is corrected by probing.
	if err := store.Write(ctx, objstore.Join(loc, logDirName, hintFileName), []byte("0")); err != nil {
		t.Fatalf("write hint: %v", err)
	}
	if v, err := latestVersion(ctx, store, loc); err != nil || v != 2 {
		t.Errorf("latestVersion(stale hint) = (%d, %v), want 2", v, err)
	}

	// A missing hint falls back to listing.
	if err := store.Delete(ctx, objstore.Join(loc, logDirName, hintFileName)); err != nil {
		t.Fatalf("delete hint: %v", err)
	}
	if v, err := latestVersion(ctx, store, loc); err != nil || v != 2 {
		t.Errorf("latestVersion(no hint) = (%d, %v), want 2", v, err)
	}
}

func TestPartitionValueRoundTrip(t *testing.T) {
	tests := []struct {
		typ frame.Type
		v   any
	}{
		{frame.TypeString, "2024-01-01"},
		{frame.TypeInt, int64(-7)},
		{frame.TypeFloat, 0.1},
		{frame.TypeBool, true},
		{frame.TypeTimestamp, day0.Add(1500 * time.Microsecond)},
		{frame.TypeString, nil},
	}
	for _, tt := range tests {
		s := FormatPartitionValue(tt.v)
		got, err := ParsePartitionValue(s, tt.typ)
		if err != nil {
			t.Errorf("ParsePartitionValue(%q) error = %v", s, err)
			continue
		}
		if frame.KeyString(got) != frame.KeyString(tt.v) {
			t.Errorf("round trip of %v = %v", tt.v, got)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name string
		f    Filter
		v    any
		want bool
	}{
		{"eq", Eq("a", int64(1)), int64(1), true},
		{"eq nil", Eq("a", int64(1)), nil, false},
		{"ge", Ge("a", 2.0), int64(2), true},
		{"le", Le("a", "b"), "c", false},
		{"in", In("a", "x", "y"), "y", true},
		{"type mismatch", Eq("a", "1"), int64(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(tt.v); got != tt.want {
				t.Errorf("%v.Match(%v) = %v, want %v", tt.f, tt.v, got, tt.want)
			}
		})
	}
}
