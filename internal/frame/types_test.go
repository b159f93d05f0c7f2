package frame

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		in       string
		wantType Type
		want     any
	}{
		{"", "", nil},
		{"42", TypeInt, int64(42)},
		{"-1.25", TypeFloat, -1.25},
		{"true", TypeBool, true},
		{"2024-01-02", TypeTimestamp, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2024-01-02T03:04:05Z", TypeTimestamp, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"BTC", TypeString, "BTC"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, typ := ParseString(tt.in)
			if typ != tt.wantType {
				t.Errorf("ParseString(%q) type = %v, want %v", tt.in, typ, tt.wantType)
			}
			if KeyString(got) != KeyString(tt.want) {
				t.Errorf("ParseString(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnify(t *testing.T) {
	tests := []struct {
		a, b, want Type
	}{
		{"", TypeInt, TypeInt},
		{TypeInt, "", TypeInt},
		{TypeInt, TypeFloat, TypeFloat},
		{TypeFloat, TypeInt, TypeFloat},
		{TypeInt, TypeBool, TypeString},
		{TypeTimestamp, TypeTimestamp, TypeTimestamp},
	}
	for _, tt := range tests {
		if got := Unify(tt.a, tt.b); got != tt.want {
			t.Errorf("Unify(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		a, b   any
		want   int
		wantOK bool
	}{
		{"ints", int64(1), int64(2), -1, true},
		{"int and float", int64(2), 1.5, 1, true},
		{"strings", "b", "b", 0, true},
		{"bools", true, false, 1, true},
		{"times", jan.Add(time.Hour), jan, 1, true},
		{"nil", nil, int64(1), 0, false},
		{"mismatch", "1", int64(1), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compare(tt.a, tt.b)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Compare(%v, %v) = (%d, %v), want (%d, %v)", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSchemaDiff(t *testing.T) {
	a := Schema{{Name: "x", Type: TypeInt}, {Name: "y", Type: TypeString}}
	b := Schema{{Name: "y", Type: TypeInt}, {Name: "z", Type: TypeBool}}

	missing, extra, changed := a.Diff(b)
	if len(missing) != 1 || missing[0] != "x" {
		t.Errorf("missing = %v, want [x]", missing)
	}
	if len(extra) != 1 || extra[0] != "z" {
		t.Errorf("extra = %v, want [z]", extra)
	}
	if len(changed) != 1 || changed[0] != "y" {
		t.Errorf("changed = %v, want [y]", changed)
	}
}

func TestFromStrings(t *testing.T) {
	f, err := FromStrings(
		[]string{"ts", "price", "asset", "mixed"},
		[][]string{
			{"2024-01-01", "1", "BTC", "1"},
			{"2024-01-02", "2.5", "ETH", "x"},
			{"2024-01-03", "", "BTC", ""},
		},
	)
	if err != nil {
		t.Fatalf("FromStrings() error = %v", err)
	}

	want := Schema{
		{Name: "ts", Type: TypeTimestamp},
		{Name: "price", Type: TypeFloat},
		{Name: "asset", Type: TypeString},
		{Name: "mixed", Type: TypeString},
	}
	if !f.Schema().Equal(want) {
		t.Errorf("Schema() = %v, want %v", f.Schema(), want)
	}
	if f.Value(0, "price") != float64(1) {
		t.Errorf("price[0] = %#v, want float64(1)", f.Value(0, "price"))
	}
	if f.Value(0, "mixed") != "1" {
		t.Errorf("mixed[0] = %#v, want raw text", f.Value(0, "mixed"))
	}
	if f.Value(2, "price") != nil {
		t.Errorf("price[2] = %#v, want nil", f.Value(2, "price"))
	}

	if _, err := FromStrings([]string{"a"}, [][]string{{"1", "2"}}); err == nil {
		t.Error("FromStrings() expected ragged row error")
	}
}

func TestFromJSONRecords(t *testing.T) {
	records := []map[string]any{
		{"n": json.Number("1"), "tags": []any{"a"}, "ok": true},
		{"n": json.Number("2.5"), "ok": false},
	}
	f, err := FromJSONRecords([]string{"n", "tags", "ok"}, records)
	if err != nil {
		t.Fatalf("FromJSONRecords() error = %v", err)
	}
	if typ, _ := f.Type("n"); typ != TypeFloat {
		t.Errorf("Type(n) = %v, want float64", typ)
	}
	if f.Value(0, "tags") != `["a"]` {
		t.Errorf("tags[0] = %#v, want JSON text", f.Value(0, "tags"))
	}
	if typ, _ := f.Type("ok"); typ != TypeBool {
		t.Errorf("Type(ok) = %v, want bool", typ)
	}
}
