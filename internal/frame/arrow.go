package frame

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Frames allocate through the Go allocator, so their records are reclaimed by
// the garbage collector and never need an explicit Release.
var mem = memory.DefaultAllocator

// ArrowType maps a column type to its Arrow data type. Timestamps are stored
// as UTC microseconds.
func ArrowType(t Type) arrow.DataType {
	switch t {
	case TypeInt:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeBool:
		return arrow.FixedWidthTypes.Boolean
	case TypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// TypeFromArrow maps an Arrow data type back to a column type. Only
// microsecond timestamps are accepted.
func TypeFromArrow(dt arrow.DataType) (Type, bool) {
	switch dt.ID() {
	case arrow.STRING:
		return TypeString, true
	case arrow.INT64:
		return TypeInt, true
	case arrow.FLOAT64:
		return TypeFloat, true
	case arrow.BOOL:
		return TypeBool, true
	case arrow.TIMESTAMP:
		if ts, ok := dt.(*arrow.TimestampType); ok && ts.Unit == arrow.Microsecond {
			return TypeTimestamp, true
		}
	}
	return "", false
}

// ArrowSchema converts a schema to an Arrow schema. Every field is nullable.
func ArrowSchema(s Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(s))
	for i, f := range s {
		fields[i] = arrow.Field{Name: f.Name, Type: ArrowType(f.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// FromArrow wraps an Arrow record whose columns use supported types.
func FromArrow(rec arrow.Record) (*Frame, error) {
	sc := rec.Schema()
	schema := make(Schema, sc.NumFields())
	for i, field := range sc.Fields() {
		t, ok := TypeFromArrow(field.Type)
		if !ok {
			return nil, fmt.Errorf("frame: column %q has unsupported arrow type %s", field.Name, field.Type)
		}
		schema[i] = Field{Name: field.Name, Type: t}
	}
	if err := validateSchema(schema); err != nil {
		return nil, err
	}
	return &Frame{schema: schema, rec: rec}, nil
}

// buildArray normalizes values to t and appends them to a fresh builder.
func buildArray(t Type, values []any) (arrow.Array, error) {
	b := array.NewBuilder(mem, ArrowType(t))
	defer b.Release()
	b.Reserve(len(values))

	for r, v := range values {
		nv, err := Normalize(t, v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		if nv == nil {
			b.AppendNull()
			continue
		}
		switch bb := b.(type) {
		case *array.StringBuilder:
			bb.Append(nv.(string))
		case *array.Int64Builder:
			bb.Append(nv.(int64))
		case *array.Float64Builder:
			bb.Append(nv.(float64))
		case *array.BooleanBuilder:
			bb.Append(nv.(bool))
		case *array.TimestampBuilder:
			bb.Append(arrow.Timestamp(nv.(time.Time).UnixMicro()))
		default:
			return nil, fmt.Errorf("unsupported builder %T", b)
		}
	}
	return b.NewArray(), nil
}

// cell returns the Go value at row i of arr.
func cell(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	case *array.Timestamp:
		return time.UnixMicro(int64(a.Value(i))).UTC()
	}
	return nil
}

// cells returns every value of arr.
func cells(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		out[i] = cell(arr, i)
	}
	return out
}

// gather builds an array holding the given rows of arr, in order.
func gather(t Type, arr arrow.Array, rows []int) (arrow.Array, error) {
	values := make([]any, len(rows))
	for j, r := range rows {
		values[j] = cell(arr, r)
	}
	return buildArray(t, values)
}
