package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
)

// Input and output formats.
const (
	formatCSV   = "csv"
	formatJSONL = "jsonl"
	formatTable = "table"
)

// maxLineSize bounds a single JSON-lines record.
const maxLineSize = 16 << 20

// inputFormat resolves the input format from the flag or the file extension.
func inputFormat(explicit, file string) (string, error) {
	format := strings.ToLower(explicit)
	if format == "" {
		switch strings.ToLower(filepath.Ext(file)) {
		case ".jsonl", ".ndjson", ".json":
			format = formatJSONL
		default:
			format = formatCSV
		}
	}
	switch format {
	case formatCSV, formatJSONL:
		return format, nil
	default:
		return "", fmt.Errorf("unknown input format %q (expected csv, jsonl)", explicit)
	}
}

// openInput opens file, or returns stdin for "" and "-".
func openInput(file string, stdin io.Reader) (io.ReadCloser, error) {
	if file == "" || file == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// decodeFrame reads a frame, inferring column types.
func decodeFrame(r io.Reader, format string) (*frame.Frame, error) {
	switch format {
	case formatCSV:
		return decodeCSV(r)
	case formatJSONL:
		return decodeJSONL(r)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

func decodeCSV(r io.Reader) (*frame.Frame, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("read csv: missing header row")
	}
	return frame.FromStrings(records[0], records[1:])
}

func decodeJSONL(r io.Reader) (*frame.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		columns []string
		seen    = map[string]struct{}{}
		records []map[string]any
	)
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		keys, rec, err := decodeObject(text)
		if err != nil {
			return nil, fmt.Errorf("read jsonl line %d: %w", line, err)
		}
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return frame.FromJSONRecords(columns, records)
}

// decodeObject decodes one JSON object keeping its key order. Strings that
// parse as timestamps become time values.
func decodeObject(data []byte) ([]string, map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("expected a JSON object")
	}

	var keys []string
	rec := make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		if s, ok := v.(string); ok {
			if ts, typ := frame.ParseString(s); typ == frame.TypeTimestamp {
				v = ts
			}
		}
		if _, dup := rec[key]; !dup {
			keys = append(keys, key)
		}
		rec[key] = v
	}
	return keys, rec, nil
}

// encodeFrame writes f in the given output format.
func encodeFrame(w io.Writer, f *frame.Frame, format string) error {
	switch format {
	case formatCSV:
		return encodeCSV(w, f)
	case formatJSONL:
		return encodeJSONL(w, f)
	case formatTable, "":
		return encodeTable(w, f)
	default:
		return fmt.Errorf("unknown output format %q (expected table, csv, jsonl)", format)
	}
}

func encodeCSV(w io.Writer, f *frame.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns()); err != nil {
		return err
	}
	row := make([]string, f.NumColumns())
	for r := 0; r < f.NumRows(); r++ {
		for c, v := range f.Row(r) {
			row[c] = formatCell(v)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func encodeJSONL(w io.Writer, f *frame.Frame) error {
	bw := bufio.NewWriter(w)
	columns := f.Columns()
	for r := 0; r < f.NumRows(); r++ {
		bw.WriteByte('{')
		for c, v := range f.Row(r) {
			if c > 0 {
				bw.WriteByte(',')
			}
			key, _ := json.Marshal(columns[c])
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode column %q row %d: %w", columns[c], r, err)
			}
			bw.Write(key)
			bw.WriteByte(':')
			bw.Write(val)
		}
		bw.WriteString("}\n")
	}
	return bw.Flush()
}

func encodeTable(w io.Writer, f *frame.Frame) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(f.Columns(), "\t"))
	cells := make([]string, f.NumColumns())
	for r := 0; r < f.NumRows(); r++ {
		for c, v := range f.Row(r) {
			cells[c] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// parseDay parses a --start or --end value: a date or an RFC 3339 time.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD or RFC 3339)", s)
}
