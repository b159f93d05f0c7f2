package catalog

import (
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Garsdal/timelake/internal/frame"
)

// Catalog table column names.
const (
	ColumnID         = "id"
	ColumnName       = "name"
	ColumnEntryType  = "entry_type"
	ColumnCreatedAt  = "created_at"
	ColumnUpdatedAt  = "updated_at"
	ColumnProperties = "properties"
)

// Schema is the fixed catalog table schema.
var Schema = frame.Schema{
	{Name: ColumnID, Type: frame.TypeString},
	{Name: ColumnName, Type: frame.TypeString},
	{Name: ColumnEntryType, Type: frame.TypeString},
	{Name: ColumnCreatedAt, Type: frame.TypeTimestamp},
	{Name: ColumnUpdatedAt, Type: frame.TypeTimestamp},
	{Name: ColumnProperties, Type: frame.TypeString},
}

// Record is one catalog row as laid out in the data files.
// The struct tags define the Parquet schema.
type Record struct {
	// ID is the entry identifier.
	ID string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`

	// Name is the entry name.
	Name string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`

	// EntryType is the entry discriminator.
	EntryType string `parquet:"name=entry_type, type=BYTE_ARRAY, convertedtype=UTF8"`

	// CreatedAt is the creation time in microseconds since the epoch.
	CreatedAt int64 `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`

	// UpdatedAt is the last update time in microseconds since the epoch.
	UpdatedAt int64 `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MICROS"`

	// Properties is the JSON payload.
	Properties string `parquet:"name=properties, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// recordCodec writes catalog frames through the fixed Record layout so the
// on-disk catalog schema never drifts with frame inference.
type recordCodec struct {
	compression parquet.CompressionCodec
}

func newRecordCodec() recordCodec {
	return recordCodec{compression: parquet.CompressionCodec_SNAPPY}
}

func (recordCodec) Format() string { return "parquet" }

func (c recordCodec) Encode(f *frame.Frame) ([]byte, error) {
	fw := buffer.NewBufferFileFromBytes(nil)

	pw, err := writer.NewParquetWriter(fw, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = c.compression

	for r := 0; r < f.NumRows(); r++ {
		rec := Record{
			ID:         stringCell(f.Value(r, ColumnID)),
			Name:       stringCell(f.Value(r, ColumnName)),
			EntryType:  stringCell(f.Value(r, ColumnEntryType)),
			CreatedAt:  micros(f.Value(r, ColumnCreatedAt)),
			UpdatedAt:  micros(f.Value(r, ColumnUpdatedAt)),
			Properties: stringCell(f.Value(r, ColumnProperties)),
		}
		if err := pw.Write(&rec); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return fw.Bytes(), nil
}

func (recordCodec) Decode(data []byte, schema frame.Schema) (*frame.Frame, error) {
	fr := buffer.NewBufferFileFromBytes(data)

	pr, err := reader.NewParquetReader(fr, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	records := make([]Record, int(pr.GetNumRows()))
	if err := pr.Read(&records); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		rows[i] = map[string]any{
			ColumnID:         rec.ID,
			ColumnName:       rec.Name,
			ColumnEntryType:  rec.EntryType,
			ColumnCreatedAt:  time.UnixMicro(rec.CreatedAt).UTC(),
			ColumnUpdatedAt:  time.UnixMicro(rec.UpdatedAt).UTC(),
			ColumnProperties: rec.Properties,
		}
	}
	return frame.FromRecords(schema, rows)
}

func stringCell(v any) string {
	s, _ := v.(string)
	return s
}

func micros(v any) int64 {
	if ts, ok := v.(time.Time); ok {
		return ts.UnixMicro()
	}
	return 0
}
