package preprocess

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
)

func sampleFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f, err := frame.FromColumns(
		frame.Column{Name: "date", Type: frame.TypeTimestamp, Values: []any{
			time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC),
			time.Date(2024, 1, 2, 0, 15, 0, 0, time.UTC),
		}},
		frame.Column{Name: "asset_id", Type: frame.TypeString, Values: []any{"AAPL", "MSFT"}},
		frame.Column{Name: "price", Type: frame.TypeInt, Values: []any{int64(150), int64(300)}},
	)
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	return f
}

func TestValidate(t *testing.T) {
	p := New()
	empty := frame.Empty(frame.Schema{{Name: "date", Type: frame.TypeTimestamp}})

	tests := []struct {
		name    string
		f       *frame.Frame
		ts      string
		wantErr string
	}{
		{name: "valid", f: sampleFrame(t), ts: "date"},
		{name: "empty", f: empty, ts: "date", wantErr: "table is empty"},
		{name: "nil", f: nil, ts: "date", wantErr: "table is empty"},
		{name: "missing timestamp", f: sampleFrame(t), ts: "missing_ts", wantErr: "timestamp column 'missing_ts' is missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(tt.f, tt.ts)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, lakeerr.ErrValidation) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePartitions(t *testing.T) {
	p := New()
	f := sampleFrame(t)

	tests := []struct {
		name        string
		partitionBy []string
		wantErr     string
	}{
		{name: "valid", partitionBy: []string{"date", "asset_id"}},
		{name: "missing column", partitionBy: []string{"date", "missing_col"}, wantErr: "partition column 'missing_col' is missing"},
		{name: "empty", partitionBy: nil, wantErr: "partition columns are empty"},
		{name: "duplicates", partitionBy: []string{"date", "date"}, wantErr: "partition columns must be unique"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.ValidatePartitions(f, tt.partitionBy)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidatePartitions() error = %v", err)
				}
				return
			}
			if !errors.Is(err, lakeerr.ErrValidation) || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidatePartitions() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolvePartitions(t *testing.T) {
	p := New()

	tests := []struct {
		name string
		user []string
		want []string
	}{
		{name: "none", user: nil, want: []string{"date_day"}},
		{name: "user columns", user: []string{"asset_id"}, want: []string{"date_day", "asset_id"}},
		{name: "duplicates", user: []string{"a", "a"}, want: []string{"date_day", "a"}},
		{name: "day column repeated", user: []string{"b", "date_day", "a"}, want: []string{"date_day", "b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ResolvePartitions("date", tt.user); !slices.Equal(got, tt.want) {
				t.Errorf("ResolvePartitions() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnrichPartitions(t *testing.T) {
	p := New()

	out, err := p.EnrichPartitions(sampleFrame(t), "date")
	if err != nil {
		t.Fatalf("EnrichPartitions() error = %v", err)
	}
	got := out.Values("date_day")
	if !slices.Equal(got, []any{"2024-01-01", "2024-01-02"}) {
		t.Errorf("date_day = %v", got)
	}
	if typ, _ := out.Type("date_day"); typ != frame.TypeString {
		t.Errorf("date_day type = %v, want string", typ)
	}

	// A second pass replaces the column instead of adding another.
	again, err := p.EnrichPartitions(out, "date")
	if err != nil {
		t.Fatalf("second EnrichPartitions() error = %v", err)
	}
	if again.NumColumns() != out.NumColumns() {
		t.Errorf("NumColumns() = %d, want %d", again.NumColumns(), out.NumColumns())
	}
}

func TestEnrichPartitionsConvertsToUTC(t *testing.T) {
	p := New()
	zone := time.FixedZone("UTC+2", 2*60*60)
	f, err := frame.FromColumns(frame.Column{
		Name:   "ts",
		Type:   frame.TypeTimestamp,
		Values: []any{time.Date(2024, 3, 1, 1, 0, 0, 0, zone)},
	})
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	out, err := p.EnrichPartitions(f, "ts")
	if err != nil {
		t.Fatalf("EnrichPartitions() error = %v", err)
	}
	if got := out.Value(0, "ts_day"); got != "2024-02-29" {
		t.Errorf("ts_day = %v, want 2024-02-29", got)
	}
}

func TestEnrichPartitionsRejects(t *testing.T) {
	p := New()

	strTS, err := frame.FromColumns(frame.Column{Name: "ts", Type: frame.TypeString, Values: []any{"2024-01-01"}})
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}
	nullTS, err := frame.FromColumns(frame.Column{Name: "ts", Type: frame.TypeTimestamp, Values: []any{nil}})
	if err != nil {
		t.Fatalf("FromColumns() error = %v", err)
	}

	tests := []struct {
		name string
		f    *frame.Frame
	}{
		{"string timestamp", strTS},
		{"null timestamp", nullTS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.EnrichPartitions(tt.f, "ts"); !errors.Is(err, lakeerr.ErrValidation) {
				t.Errorf("EnrichPartitions() error = %v, want validation error", err)
			}
		})
	}
}

func TestAddInsertionTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &Default{Clock: func() time.Time { return now }}

	out, err := p.AddInsertionTimestamp(sampleFrame(t))
	if err != nil {
		t.Fatalf("AddInsertionTimestamp() error = %v", err)
	}
	for r := 0; r < out.NumRows(); r++ {
		got, ok := out.Value(r, InsertedAtColumn).(time.Time)
		if !ok || !got.Equal(now) {
			t.Errorf("row %d inserted_at = %v, want %v", r, out.Value(r, InsertedAtColumn), now)
		}
	}
}

func TestRun(t *testing.T) {
	p := New()

	out, err := p.Run(sampleFrame(t), "date")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []string{"date", "asset_id", "price", "date_day", InsertedAtColumn}
	if !slices.Equal(out.Columns(), want) {
		t.Errorf("Columns() = %v, want %v", out.Columns(), want)
	}

	empty := frame.Empty(frame.Schema{{Name: "date", Type: frame.TypeTimestamp}})
	if _, err := p.Run(empty, "date"); err == nil || !strings.Contains(err.Error(), "table is empty") {
		t.Errorf("Run(empty) error = %v", err)
	}
	if _, err := p.Run(sampleFrame(t), "missing_ts"); err == nil || !strings.Contains(err.Error(), "timestamp column 'missing_ts' is missing") {
		t.Errorf("Run(missing_ts) error = %v", err)
	}
}

func TestForKind(t *testing.T) {
	if p, err := ForKind(KindDefault); err != nil || p.Kind() != KindDefault {
		t.Errorf("ForKind(default) = (%v, %v)", p, err)
	}
	if _, err := ForKind("hourly"); !errors.Is(err, lakeerr.ErrConfiguration) {
		t.Errorf("ForKind(hourly) error = %v, want configuration error", err)
	}
}
