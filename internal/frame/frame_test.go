package frame

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func testFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := FromColumns(
		Column{Name: "ts", Type: TypeTimestamp, Values: []any{
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			nil,
		}},
		Column{Name: "value", Type: TypeFloat, Values: []any{1.5, 2, int64(3)}},
		Column{Name: "asset", Type: TypeString, Values: []any{"a", "b", "a"}},
	)
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	return f
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		columns [][]any
	}{
		{
			name:    "column count mismatch",
			schema:  Schema{{Name: "a", Type: TypeInt}},
			columns: nil,
		},
		{
			name:    "duplicate column",
			schema:  Schema{{Name: "a", Type: TypeInt}, {Name: "a", Type: TypeInt}},
			columns: [][]any{{1}, {2}},
		},
		{
			name:    "ragged columns",
			schema:  Schema{{Name: "a", Type: TypeInt}, {Name: "b", Type: TypeInt}},
			columns: [][]any{{1, 2}, {3}},
		},
		{
			name:    "wrong value type",
			schema:  Schema{{Name: "a", Type: TypeInt}},
			columns: [][]any{{"x"}},
		},
		{
			name:    "unsupported type",
			schema:  Schema{{Name: "a", Type: "decimal"}},
			columns: [][]any{{1}},
		},
		{
			name:    "empty name",
			schema:  Schema{{Name: "", Type: TypeInt}},
			columns: [][]any{{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.schema, tt.columns); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestNormalizesValues(t *testing.T) {
	f := testFrame(t)
	if got := f.Value(1, "value"); got != float64(2) {
		t.Errorf("Value(1, value) = %#v, want float64(2)", got)
	}
	local := time.FixedZone("x", 3600)
	g, err := FromColumns(Column{Name: "ts", Type: TypeTimestamp, Values: []any{time.Date(2024, 1, 1, 1, 0, 0, 1500, local)}})
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	ts := g.Value(0, "ts").(time.Time)
	if ts.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", ts.Location())
	}
	if ts.Nanosecond() != 1000 {
		t.Errorf("nanoseconds = %d, want truncation to 1000", ts.Nanosecond())
	}
}

func TestWithColumn(t *testing.T) {
	f := testFrame(t)

	added, err := f.WithConstant("source", TypeString, "feed")
	if err != nil {
		t.Fatalf("WithConstant() error = %v", err)
	}
	if got := added.Columns(); len(got) != 4 || got[3] != "source" {
		t.Errorf("Columns() = %v, want source appended", got)
	}
	if f.Has("source") {
		t.Error("WithConstant() modified the receiver")
	}

	replaced, err := f.WithColumn("asset", TypeInt, []any{1, 2, 3})
	if err != nil {
		t.Fatalf("WithColumn() error = %v", err)
	}
	if typ, _ := replaced.Type("asset"); typ != TypeInt {
		t.Errorf("Type(asset) = %v, want int64", typ)
	}
	if got := replaced.Columns(); got[2] != "asset" {
		t.Errorf("replaced column moved: %v", got)
	}

	if _, err := f.WithColumn("x", TypeInt, []any{1}); err == nil {
		t.Error("WithColumn() expected length error")
	}
}

func TestSelectTakeFilter(t *testing.T) {
	f := testFrame(t)

	sel, err := f.Select("asset", "ts")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := sel.Columns(); got[0] != "asset" || got[1] != "ts" {
		t.Errorf("Select() columns = %v", got)
	}
	if _, err := f.Select("missing"); err == nil {
		t.Error("Select() expected error for missing column")
	}

	filtered := f.Filter(func(r int) bool { return f.Value(r, "asset") == "a" })
	if filtered.NumRows() != 2 {
		t.Errorf("Filter() rows = %d, want 2", filtered.NumRows())
	}

	taken := f.Take([]int{2, 0})
	if taken.Value(0, "value") != float64(3) || taken.Value(1, "value") != 1.5 {
		t.Errorf("Take() values = %v", taken.Values("value"))
	}
}

func TestSortBy(t *testing.T) {
	sorted, err := testFrame(t).SortBy("ts")
	if err != nil {
		t.Fatalf("SortBy() error = %v", err)
	}
	got := sorted.Values("value")
	want := []any{float64(2), 1.5, float64(3)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortBy() values = %v, want %v", got, want)
		}
	}
}

func TestConcat(t *testing.T) {
	f := testFrame(t)
	reordered, err := f.Select("asset", "value", "ts")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	out, err := Concat(f, reordered)
	if err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if out.NumRows() != 6 {
		t.Errorf("NumRows() = %d, want 6", out.NumRows())
	}
	if !out.Schema().Equal(f.Schema()) {
		t.Errorf("Concat() schema = %v, want %v", out.Schema(), f.Schema())
	}
	if out.Value(3, "asset") != "a" {
		t.Errorf("Value(3, asset) = %v, want a", out.Value(3, "asset"))
	}

	other, _ := f.Select("asset")
	if _, err := Concat(f, other); err == nil {
		t.Error("Concat() expected schema error")
	}
}

func TestEqual(t *testing.T) {
	a := testFrame(t)
	b := testFrame(t)
	if !a.Equal(b) {
		t.Error("Equal() = false for identical frames")
	}
	c, _ := b.WithConstant("value", TypeFloat, 0.0)
	if a.Equal(c) {
		t.Error("Equal() = true for different values")
	}
}

func TestRecords(t *testing.T) {
	f := testFrame(t)
	recs := f.Records()
	if len(recs) != 3 {
		t.Fatalf("Records() len = %d, want 3", len(recs))
	}
	if recs[2]["ts"] != nil {
		t.Errorf("Records()[2][ts] = %v, want nil", recs[2]["ts"])
	}

	back, err := FromRecords(f.Schema(), recs)
	if err != nil {
		t.Fatalf("FromRecords() error = %v", err)
	}
	if !back.Equal(f) {
		t.Error("FromRecords(Records()) differs from source")
	}
}

func TestArrowRecord(t *testing.T) {
	f := testFrame(t)
	rec := f.Arrow()
	if rec.NumRows() != 3 || rec.NumCols() != 3 {
		t.Fatalf("record shape = %dx%d, want 3x3", rec.NumRows(), rec.NumCols())
	}
	if got := rec.Schema().Field(0).Type; !arrow.TypeEqual(got, ArrowType(TypeTimestamp)) {
		t.Errorf("ts arrow type = %s, want timestamp[us, tz=UTC]", got)
	}
	if !rec.Column(0).IsNull(2) {
		t.Error("null timestamp was not stored as an arrow null")
	}

	back, err := FromArrow(rec)
	if err != nil {
		t.Fatalf("FromArrow() error = %v", err)
	}
	if !back.Equal(f) {
		t.Error("FromArrow(Arrow()) differs from source")
	}

	nanos := arrow.NewSchema([]arrow.Field{{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Nanosecond}}}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, nanos)
	defer b.Release()
	b.Field(0).(*array.TimestampBuilder).Append(1)
	if _, err := FromArrow(b.NewRecord()); err == nil {
		t.Error("FromArrow() accepted nanosecond timestamps")
	}
}

func TestTypeArrowMapping(t *testing.T) {
	for _, typ := range []Type{TypeString, TypeInt, TypeFloat, TypeBool, TypeTimestamp} {
		got, ok := TypeFromArrow(ArrowType(typ))
		if !ok || got != typ {
			t.Errorf("TypeFromArrow(ArrowType(%s)) = (%s, %v)", typ, got, ok)
		}
	}
	if _, ok := TypeFromArrow(arrow.PrimitiveTypes.Int32); ok {
		t.Error("TypeFromArrow(int32) = ok, want unsupported")
	}
}
