package frame

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Column is a named, typed slice of values used to build frames.
type Column struct {
	Name   string
	Type   Type
	Values []any
}

// Frame is an immutable columnar table backed by an Arrow record. Operations
// return new frames and never modify the receiver; unchanged columns share
// their Arrow arrays.
type Frame struct {
	schema Schema
	rec    arrow.Record
}

func validateSchema(schema Schema) error {
	seen := make(map[string]struct{}, len(schema))
	for _, f := range schema {
		if f.Name == "" {
			return errors.New("frame: empty column name")
		}
		if !f.Type.Valid() {
			return fmt.Errorf("frame: column %q has unsupported type %q", f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("frame: duplicate column %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// New builds a frame from a schema and one value slice per field. Values are
// normalized to the field types.
func New(schema Schema, columns [][]any) (*Frame, error) {
	if len(columns) != len(schema) {
		return nil, fmt.Errorf("frame: %d columns for %d fields", len(columns), len(schema))
	}
	if err := validateSchema(schema); err != nil {
		return nil, err
	}

	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	arrs := make([]arrow.Array, len(columns))
	for i, values := range columns {
		if len(values) != rows {
			return nil, fmt.Errorf("frame: column %q has %d values, want %d", schema[i].Name, len(values), rows)
		}
		arr, err := buildArray(schema[i].Type, values)
		if err != nil {
			return nil, fmt.Errorf("frame: column %q %w", schema[i].Name, err)
		}
		arrs[i] = arr
	}
	return newFrame(schema, arrs, rows), nil
}

func newFrame(schema Schema, arrs []arrow.Array, rows int) *Frame {
	schema = append(Schema(nil), schema...)
	return &Frame{schema: schema, rec: array.NewRecord(ArrowSchema(schema), arrs, int64(rows))}
}

// FromColumns builds a frame from columns.
func FromColumns(cols ...Column) (*Frame, error) {
	schema := make(Schema, len(cols))
	values := make([][]any, len(cols))
	for i, c := range cols {
		schema[i] = Field{Name: c.Name, Type: c.Type}
		values[i] = c.Values
	}
	return New(schema, values)
}

// FromRecords builds a frame from row maps. Keys absent from a record are null;
// keys not in the schema are ignored.
func FromRecords(schema Schema, records []map[string]any) (*Frame, error) {
	values := make([][]any, len(schema))
	for i, f := range schema {
		col := make([]any, len(records))
		for r, rec := range records {
			col[r] = rec[f.Name]
		}
		values[i] = col
	}
	return New(schema, values)
}

// Empty returns a zero-row frame with the given schema.
func Empty(schema Schema) *Frame {
	arrs := make([]arrow.Array, len(schema))
	for i, f := range schema {
		arrs[i] = array.MakeArrayOfNull(mem, ArrowType(f.Type), 0)
	}
	return newFrame(schema, arrs, 0)
}

// Arrow returns the underlying record.
func (f *Frame) Arrow() arrow.Record { return f.rec }

// Schema returns a copy of the frame schema.
func (f *Frame) Schema() Schema {
	return append(Schema(nil), f.schema...)
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int { return int(f.rec.NumRows()) }

// NumColumns returns the number of columns.
func (f *Frame) NumColumns() int { return len(f.schema) }

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return f.schema.Names() }

// Has reports whether the frame has the named column.
func (f *Frame) Has(name string) bool { return f.schema.Index(name) >= 0 }

// Type returns the type of the named column.
func (f *Frame) Type(name string) (Type, bool) {
	field, ok := f.schema.Lookup(name)
	return field.Type, ok
}

// Values returns the named column, or nil if it does not exist.
func (f *Frame) Values(name string) []any {
	i := f.schema.Index(name)
	if i < 0 {
		return nil
	}
	return cells(f.rec.Column(i))
}

// Value returns a single cell. It returns nil for unknown columns.
func (f *Frame) Value(row int, name string) any {
	i := f.schema.Index(name)
	if i < 0 {
		return nil
	}
	return cell(f.rec.Column(i), row)
}

// Row returns the values of one row in schema order.
func (f *Frame) Row(row int) []any {
	out := make([]any, len(f.schema))
	for i := range out {
		out[i] = cell(f.rec.Column(i), row)
	}
	return out
}

// Record returns one row as a map keyed by column name.
func (f *Frame) Record(row int) map[string]any {
	out := make(map[string]any, len(f.schema))
	for i, field := range f.schema {
		out[field.Name] = cell(f.rec.Column(i), row)
	}
	return out
}

// Records returns every row as a map.
func (f *Frame) Records() []map[string]any {
	out := make([]map[string]any, f.NumRows())
	for r := range out {
		out[r] = f.Record(r)
	}
	return out
}

// WithColumn returns a frame with the named column set to values. An existing
// column is replaced in place; a new one is appended.
func (f *Frame) WithColumn(name string, typ Type, values []any) (*Frame, error) {
	if len(values) != f.NumRows() {
		return nil, fmt.Errorf("frame: column %q has %d values, want %d", name, len(values), f.NumRows())
	}
	schema := f.Schema()
	if !typ.Valid() {
		return nil, fmt.Errorf("frame: column %q has unsupported type %q", name, typ)
	}
	arr, err := buildArray(typ, values)
	if err != nil {
		return nil, fmt.Errorf("frame: column %q %w", name, err)
	}
	arrs := append([]arrow.Array(nil), f.rec.Columns()...)
	if i := schema.Index(name); i >= 0 {
		schema[i].Type = typ
		arrs[i] = arr
	} else {
		if name == "" {
			return nil, errors.New("frame: empty column name")
		}
		schema = append(schema, Field{Name: name, Type: typ})
		arrs = append(arrs, arr)
	}
	return newFrame(schema, arrs, f.NumRows()), nil
}

// WithConstant returns a frame with the named column set to v on every row.
func (f *Frame) WithConstant(name string, typ Type, v any) (*Frame, error) {
	values := make([]any, f.NumRows())
	for i := range values {
		values[i] = v
	}
	return f.WithColumn(name, typ, values)
}

// Select returns a frame with only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	schema := make(Schema, 0, len(names))
	arrs := make([]arrow.Array, 0, len(names))
	for _, name := range names {
		i := f.schema.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("frame: column %q not found", name)
		}
		schema = append(schema, f.schema[i])
		arrs = append(arrs, f.rec.Column(i))
	}
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	return newFrame(schema, arrs, f.NumRows()), nil
}

// Take returns the given rows in the given order.
func (f *Frame) Take(rows []int) *Frame {
	arrs := make([]arrow.Array, len(f.schema))
	for i, field := range f.schema {
		arr, err := gather(field.Type, f.rec.Column(i), rows)
		if err != nil {
			// Cells read back from a typed array always normalize.
			panic(fmt.Sprintf("frame: take column %q: %v", field.Name, err))
		}
		arrs[i] = arr
	}
	return newFrame(f.schema, arrs, len(rows))
}

// Filter returns the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) bool) *Frame {
	var rows []int
	for r := 0; r < f.NumRows(); r++ {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return f.Take(rows)
}

// SortBy returns the frame stably sorted ascending by the named column.
// Nulls sort last.
func (f *Frame) SortBy(name string) (*Frame, error) {
	i := f.schema.Index(name)
	if i < 0 {
		return nil, fmt.Errorf("frame: column %q not found", name)
	}
	col := cells(f.rec.Column(i))
	order := make([]int, f.NumRows())
	for r := range order {
		order[r] = r
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := col[order[a]], col[order[b]]
		if va == nil || vb == nil {
			return va != nil && vb == nil
		}
		c, _ := Compare(va, vb)
		return c < 0
	})
	return f.Take(order), nil
}

// Equal reports whether both frames have the same schema and cell values.
func (f *Frame) Equal(o *Frame) bool {
	if f.NumRows() != o.NumRows() || !f.schema.Equal(o.schema) {
		return false
	}
	for i := range f.schema {
		if !array.Equal(f.rec.Column(i), o.rec.Column(i)) {
			return false
		}
	}
	return true
}

// Concat stacks frames vertically. All frames must have the same set of
// columns with the same types; the column order of the first frame wins.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, errors.New("frame: nothing to concatenate")
	}
	schema := frames[0].Schema()
	total := 0
	parts := make([][]arrow.Array, len(schema))
	for i, fr := range frames {
		missing, extra, changed := schema.Diff(fr.schema)
		if len(missing)+len(extra)+len(changed) > 0 {
			return nil, fmt.Errorf("frame: frame %d does not match schema (missing %v, extra %v, changed %v)", i, missing, extra, changed)
		}
		for c, field := range schema {
			parts[c] = append(parts[c], fr.rec.Column(fr.schema.Index(field.Name)))
		}
		total += fr.NumRows()
	}

	arrs := make([]arrow.Array, len(schema))
	for c := range schema {
		arr, err := array.Concatenate(parts[c], mem)
		if err != nil {
			return nil, fmt.Errorf("frame: concatenate column %q: %w", schema[c].Name, err)
		}
		arrs[c] = arr
	}
	return newFrame(schema, arrs, total), nil
}
