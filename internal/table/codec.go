package table

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"

	"github.com/Garsdal/timelake/internal/frame"
)

// Codec converts frames to and from data file bytes.
type Codec interface {
	// Format is the file format name, also used as the file extension.
	Format() string

	// Encode serializes a non-empty frame.
	Encode(f *frame.Frame) ([]byte, error)

	// Decode reads a data file back into a frame with the given schema.
	Decode(data []byte, schema frame.Schema) (*frame.Frame, error)
}

// ParquetCodec stores frames as Snappy-compressed Parquet files with a
// schema built from the frame at write time. Every column is optional.
type ParquetCodec struct{}

// Format returns "parquet".
func (ParquetCodec) Format() string { return "parquet" }

func parquetNode(t frame.Type) (parquet.Node, error) {
	switch t {
	case frame.TypeString:
		return parquet.String(), nil
	case frame.TypeInt:
		return parquet.Int(64), nil
	case frame.TypeFloat:
		return parquet.Leaf(parquet.DoubleType), nil
	case frame.TypeBool:
		return parquet.Leaf(parquet.BooleanType), nil
	case frame.TypeTimestamp:
		return parquet.Timestamp(parquet.Microsecond), nil
	}
	return nil, fmt.Errorf("no parquet mapping for column type %q", t)
}

func parquetSchema(schema frame.Schema) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range schema {
		node, err := parquetNode(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		group[f.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema("timelake", group), nil
}

// parquetValue converts row i of an Arrow column. Nulls come back with ok
// false.
func parquetValue(arr arrow.Array, i int) (v parquet.Value, ok bool, err error) {
	if arr.IsNull(i) {
		return parquet.Value{}, false, nil
	}
	switch a := arr.(type) {
	case *array.String:
		return parquet.ByteArrayValue([]byte(a.Value(i))), true, nil
	case *array.Int64:
		return parquet.Int64Value(a.Value(i)), true, nil
	case *array.Float64:
		return parquet.DoubleValue(a.Value(i)), true, nil
	case *array.Boolean:
		return parquet.BooleanValue(a.Value(i)), true, nil
	case *array.Timestamp:
		return parquet.Int64Value(int64(a.Value(i))), true, nil
	}
	return parquet.Value{}, false, fmt.Errorf("unsupported arrow column %s", arr.DataType())
}

// Encode writes f as a single Parquet file, reading straight from its Arrow
// columns.
func (ParquetCodec) Encode(f *frame.Frame) ([]byte, error) {
	frameSchema := f.Schema()
	schema, err := parquetSchema(frameSchema)
	if err != nil {
		return nil, err
	}

	// Group fields are ordered by name; column indexes follow that order.
	rec := f.Arrow()
	leaves := schema.Fields()
	cols := make([]arrow.Array, len(leaves))
	for c, leaf := range leaves {
		cols[c] = rec.Column(frameSchema.Index(leaf.Name()))
	}

	rows := make([]parquet.Row, f.NumRows())
	for r := range rows {
		row := make(parquet.Row, len(leaves))
		for c, col := range cols {
			pv, ok, err := parquetValue(col, r)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", leaves[c].Name(), r, err)
			}
			if !ok {
				row[c] = parquet.NullValue().Level(0, 0, c)
				continue
			}
			row[c] = pv.Level(0, 1, c)
		}
		rows[r] = row
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema, parquet.Compression(&parquet.Snappy))
	if _, err := w.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads every row of a Parquet file. Columns of schema missing from
// the file are null.
func (ParquetCodec) Decode(data []byte, schema frame.Schema) (*frame.Frame, error) {
	pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	r := parquet.NewReader(pf)
	defer r.Close()

	fields := r.Schema().Fields()
	target := make([]int, len(fields))
	for i, leaf := range fields {
		target[i] = schema.Index(leaf.Name())
	}

	columns := make([][]any, len(schema))
	buf := make([]parquet.Row, 128)
	for {
		n, err := r.ReadRows(buf)
		for _, row := range buf[:n] {
			cells := make([]any, len(schema))
			for _, v := range row {
				c := v.Column()
				if c < 0 || c >= len(target) || target[c] < 0 || v.IsNull() {
					continue
				}
				cell, cerr := fromParquet(v, schema[target[c]].Type)
				if cerr != nil {
					return nil, fmt.Errorf("column %q: %w", schema[target[c]].Name, cerr)
				}
				cells[target[c]] = cell
			}
			for i := range columns {
				columns[i] = append(columns[i], cells[i])
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}

	for i := range columns {
		if columns[i] == nil {
			columns[i] = []any{}
		}
	}
	return frame.New(schema, columns)
}

func fromParquet(v parquet.Value, t frame.Type) (any, error) {
	switch t {
	case frame.TypeString:
		return string(v.ByteArray()), nil
	case frame.TypeInt:
		return v.Int64(), nil
	case frame.TypeFloat:
		return v.Double(), nil
	case frame.TypeBool:
		return v.Boolean(), nil
	case frame.TypeTimestamp:
		return time.UnixMicro(v.Int64()).UTC(), nil
	}
	return nil, fmt.Errorf("unsupported column type %q", t)
}
