// Package frame provides an immutable in-memory columnar table used to move
// rows between callers, the preprocessor and the table engine. A frame wraps
// an Arrow record; the Type values map to Arrow data types via ArrowType.
package frame

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type is a column data type.
type Type string

// Supported column types.
const (
	TypeString    Type = "string"
	TypeInt       Type = "int64"
	TypeFloat     Type = "float64"
	TypeBool      Type = "bool"
	TypeTimestamp Type = "timestamp"
)

// Valid reports whether t is one of the supported column types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeTimestamp:
		return true
	}
	return false
}

// Field is a named, typed column.
type Field struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the column data type.
	Type Type `json:"type"`
}

// Schema is an ordered list of fields.
type Schema []Field

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the named field.
func (s Schema) Lookup(name string) (Field, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i], true
	}
	return Field{}, false
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Diff compares o against s ignoring column order. Missing lists columns of
// s absent from o, extra lists columns of o absent from s and changed lists
// columns present in both with different types.
func (s Schema) Diff(o Schema) (missing, extra, changed []string) {
	for _, f := range s {
		other, ok := o.Lookup(f.Name)
		switch {
		case !ok:
			missing = append(missing, f.Name)
		case other.Type != f.Type:
			changed = append(changed, f.Name)
		}
	}
	for _, f := range o {
		if s.Index(f.Name) < 0 {
			extra = append(extra, f.Name)
		}
	}
	return missing, extra, changed
}

// Normalize converts v to the canonical Go representation of t: string,
// int64, float64, bool or a UTC time.Time truncated to microseconds.
// Nil stays nil.
func Normalize(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		case uint:
			if uint64(n) <= math.MaxInt64 {
				return int64(n), nil
			}
		case uint64:
			if n <= math.MaxInt64 {
				return int64(n), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC().Truncate(time.Microsecond), nil
		case *time.Time:
			if ts == nil {
				return nil, nil
			}
			return ts.UTC().Truncate(time.Microsecond), nil
		}
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
	return nil, fmt.Errorf("cannot store %T value in %s column", v, t)
}

// InferType returns the column type for a Go value. Nil yields "".
func InferType(v any) Type {
	switch n := v.(type) {
	case nil:
		return ""
	case bool:
		return TypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32, uint, uint64:
		return TypeInt
	case float32, float64:
		return TypeFloat
	case time.Time, *time.Time:
		return TypeTimestamp
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return TypeInt
		}
		return TypeFloat
	case string:
		return TypeString
	default:
		// Maps, slices and other composites are carried as JSON strings.
		return TypeString
	}
}

// Unify merges two inferred types. Integers widen to floats; any other
// conflict falls back to string.
func Unify(a, b Type) Type {
	switch {
	case a == "":
		return b
	case b == "", a == b:
		return a
	case (a == TypeInt && b == TypeFloat) || (a == TypeFloat && b == TypeInt):
		return TypeFloat
	default:
		return TypeString
	}
}

// Timestamp layouts accepted by ParseString, most specific first.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseString interprets a text cell. Empty strings are null.
func ParseString(s string) (any, Type) {
	if s == "" {
		return nil, ""
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, TypeInt
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, TypeFloat
	}
	switch s {
	case "true", "TRUE", "True":
		return true, TypeBool
	case "false", "FALSE", "False":
		return false, TypeBool
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), TypeTimestamp
		}
	}
	return s, TypeString
}

// Compare orders two non-null values of compatible types. The boolean result
// is false when the values cannot be compared.
func Compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return cmp3(x < y, x > y), true
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp3(x < y, x > y), true
		case float64:
			return cmp3(float64(x) < y, float64(x) > y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmp3(x < y, x > y), true
		case int64:
			return cmp3(x < float64(y), x > float64(y)), true
		}
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return cmp3(!x && y, x && !y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// KeyString renders a normalized value as a type-tagged string usable as a
// map key. Equal values produce equal keys.
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + x
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + strconv.FormatInt(x.UnixNano(), 10)
	default:
		return fmt.Sprintf("?:%v", x)
	}
}
