package frame

import (
	"encoding/json"
	"fmt"
)

// InferSchema derives a schema from row maps. Columns keep the given order;
// a column whose values never resolve to a type becomes a string column.
func InferSchema(columns []string, records []map[string]any) Schema {
	types := make(map[string]Type, len(columns))
	for _, rec := range records {
		for _, name := range columns {
			types[name] = Unify(types[name], InferType(rec[name]))
		}
	}

	schema := make(Schema, len(columns))
	for i, name := range columns {
		typ := types[name]
		if typ == "" {
			typ = TypeString
		}
		schema[i] = Field{Name: name, Type: typ}
	}
	return schema
}

// FromJSONRecords builds a frame from decoded JSON objects, inferring the
// schema. Composite values are stored as their JSON encoding.
func FromJSONRecords(columns []string, records []map[string]any) (*Frame, error) {
	schema := InferSchema(columns, records)
	values := make([][]any, len(schema))
	for i, field := range schema {
		col := make([]any, len(records))
		for r, rec := range records {
			v := rec[field.Name]
			switch v.(type) {
			case map[string]any, []any:
				b, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("frame: encode column %q row %d: %w", field.Name, r, err)
				}
				v = string(b)
			}
			if field.Type == TypeString && v != nil {
				if _, ok := v.(string); !ok {
					v = fmt.Sprint(v)
				}
			}
			col[r] = v
		}
		values[i] = col
	}
	return New(schema, values)
}

// FromStrings builds a frame from text rows such as CSV records, inferring a
// type per column with ParseString. Columns that mix incompatible kinds keep
// their raw text.
func FromStrings(columns []string, rows [][]string) (*Frame, error) {
	parsed := make([][]any, len(columns))
	types := make([]Type, len(columns))
	for c := range columns {
		parsed[c] = make([]any, len(rows))
	}
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("frame: row %d has %d fields, want %d", r, len(row), len(columns))
		}
		for c, cell := range row {
			v, typ := ParseString(cell)
			parsed[c][r] = v
			types[c] = Unify(types[c], typ)
		}
	}

	schema := make(Schema, len(columns))
	for c, name := range columns {
		typ := types[c]
		if typ == "" {
			typ = TypeString
		}
		schema[c] = Field{Name: name, Type: typ}
		if typ == TypeString {
			for r, row := range rows {
				if row[c] == "" {
					parsed[c][r] = nil
				} else {
					parsed[c][r] = row[c]
				}
			}
		}
	}
	return New(schema, parsed)
}
