package table

import (
	"fmt"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
)

// Op is a comparison operator.
type Op string

// Supported operators.
const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
	OpIn Op = "in"
)

// Filter restricts a scan to rows where Column Op Value holds. For OpIn,
// Value must be a []any. Nulls never match.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq returns an equality filter.
func Eq(column string, v any) Filter { return Filter{Column: column, Op: OpEq, Value: v} }

// Ge returns a greater-or-equal filter.
func Ge(column string, v any) Filter { return Filter{Column: column, Op: OpGe, Value: v} }

// Le returns a less-or-equal filter.
func Le(column string, v any) Filter { return Filter{Column: column, Op: OpLe, Value: v} }

// In returns a set-membership filter.
func In(column string, values ...any) Filter { return Filter{Column: column, Op: OpIn, Value: values} }

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Column, f.Op, f.Value)
}

// Match evaluates the filter against a normalized value.
func (f Filter) Match(v any) bool {
	if v == nil {
		return false
	}
	if f.Op == OpIn {
		values, _ := f.Value.([]any)
		for _, candidate := range values {
			if c, ok := frame.Compare(v, candidate); ok && c == 0 {
				return true
			}
		}
		return false
	}

	c, ok := frame.Compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// normalize validates the filter against schema and converts its operand to
// the column type.
func (f Filter) normalize(schema frame.Schema) (Filter, error) {
	field, ok := schema.Lookup(f.Column)
	if !ok {
		return f, &lakeerr.ValidationError{Field: f.Column, Reason: "filter column does not exist"}
	}
	switch f.Op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		v, err := frame.Normalize(field.Type, f.Value)
		if err != nil {
			return f, &lakeerr.ValidationError{Field: f.Column, Reason: err.Error()}
		}
		f.Value = v
	case OpIn:
		values, ok := f.Value.([]any)
		if !ok {
			return f, &lakeerr.ValidationError{Field: f.Column, Reason: "in filter needs a list of values"}
		}
		out := make([]any, len(values))
		for i, raw := range values {
			v, err := frame.Normalize(field.Type, raw)
			if err != nil {
				return f, &lakeerr.ValidationError{Field: f.Column, Reason: err.Error()}
			}
			out[i] = v
		}
		f.Value = out
	default:
		return f, &lakeerr.ValidationError{Field: f.Column, Reason: fmt.Sprintf("unknown operator %q", f.Op)}
	}
	return f, nil
}

// matchRow reports whether row r of fr satisfies every filter.
func matchRow(fr *frame.Frame, r int, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(fr.Value(r, f.Column)) {
			return false
		}
	}
	return true
}

// keepFile reports whether a data file may hold matching rows, judging only
// by the partition values recorded for it.
func keepFile(df DataFile, schema frame.Schema, filters []Filter) bool {
	for _, f := range filters {
		raw, ok := df.Partition[f.Column]
		if !ok {
			continue
		}
		field, _ := schema.Lookup(f.Column)
		v, err := ParsePartitionValue(raw, field.Type)
		if err != nil {
			continue
		}
		if !f.Match(v) {
			return false
		}
	}
	return true
}
