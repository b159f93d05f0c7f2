package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Garsdal/timelake/internal/lakeerr"
)

// EntryType is the discriminator stored in the entry_type column.
type EntryType string

// Known entry types.
const (
	EntryTypeConfig  EntryType = "timelake_config"
	EntryTypeDataset EntryType = "dataset"
)

// Header holds the fields common to every entry. They are stored as table
// columns rather than in the properties payload.
type Header struct {
	// ID is the entry identifier, a UUID assigned on add when empty.
	ID string

	// Name is the human-readable entry name.
	Name string

	// CreatedAt is when the entry was added.
	CreatedAt time.Time

	// UpdatedAt is when the entry was last modified.
	UpdatedAt time.Time

	// Extra carries payload keys that no typed field claims.
	Extra map[string]any
}

// Entry is one catalog record.
type Entry interface {
	// Type returns the entry discriminator.
	Type() EntryType

	// EntryHeader returns the common fields.
	EntryHeader() *Header
}

// ConfigEntry is the lake-wide configuration. A catalog holds at most one.
type ConfigEntry struct {
	Header `json:"-"`

	// TimestampColumn is the time column every dataset carries.
	TimestampColumn string `json:"timestamp_column"`

	// TimestampPartitionColumn is the derived day column.
	TimestampPartitionColumn string `json:"timestamp_partition_column"`

	// PartitionBy lists the partition columns; the first is the day column.
	PartitionBy []string `json:"partition_by"`

	// StoreID identifies the lake.
	StoreID string `json:"store_id"`

	// BackendKind is the storage backend kind.
	BackendKind string `json:"backend_kind"`

	// PreprocessorKind is the preprocessor kind.
	PreprocessorKind string `json:"preprocessor_kind"`
}

func (e *ConfigEntry) Type() EntryType      { return EntryTypeConfig }
func (e *ConfigEntry) EntryHeader() *Header { return &e.Header }

// DatasetEntry describes one dataset table.
type DatasetEntry struct {
	Header `json:"-"`

	// Path is the dataset table location.
	Path string `json:"path"`

	// Schema maps column names to type names.
	Schema map[string]string `json:"schema"`

	// PartitionColumns lists the dataset partition columns.
	PartitionColumns []string `json:"partition_columns"`

	// PrimaryKey is an optional key column; empty means none.
	PrimaryKey string `json:"primary_key"`
}

func (e *DatasetEntry) Type() EntryType      { return EntryTypeDataset }
func (e *DatasetEntry) EntryHeader() *Header { return &e.Header }

// registry maps each entry type to a constructor for its variant.
var registry = map[EntryType]func() Entry{
	EntryTypeConfig:  func() Entry { return &ConfigEntry{} },
	EntryTypeDataset: func() Entry { return &DatasetEntry{} },
}

// KnownType reports whether t has a registered variant.
func KnownType(t EntryType) bool {
	_, ok := registry[t]
	return ok
}

// reservedKeys are header columns that may not appear in a properties update.
var reservedKeys = map[string]bool{
	"id":         true,
	"entry_type": true,
	"created_at": true,
	"updated_at": true,
}

// encodeProperties serializes the variant fields plus Extra into the
// properties JSON object. Typed fields win over extra keys of the same name.
func encodeProperties(e Entry) (string, error) {
	props, err := propertiesMap(e)
	if err != nil {
		return "", err
	}
	return encodeJSON(props)
}

func encodeJSON(props map[string]any) (string, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return "", &lakeerr.ValidationError{Field: "properties", Reason: fmt.Sprintf("not JSON-encodable: %v", err)}
	}
	return string(b), nil
}

// Properties returns the payload of e: its typed fields plus Extra.
func Properties(e Entry) (map[string]any, error) {
	return propertiesMap(e)
}

func propertiesMap(e Entry) (map[string]any, error) {
	typed, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Type(), err)
	}
	var props map[string]any
	if err := json.Unmarshal(typed, &props); err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Type(), err)
	}
	for k, v := range e.EntryHeader().Extra {
		if _, typedKey := props[k]; !typedKey {
			props[k] = v
		}
	}
	return props, nil
}

// decodeEntry rebuilds the variant registered for t.
func decodeEntry(h Header, t EntryType, properties string) (Entry, error) {
	newEntry, ok := registry[t]
	if !ok {
		return nil, lakeerr.Validationf("unknown entry type %q", t)
	}
	e := newEntry()
	if properties == "" {
		properties = "{}"
	}
	if err := json.Unmarshal([]byte(properties), e); err != nil {
		return nil, &lakeerr.ValidationError{Field: "properties", Reason: fmt.Sprintf("decode %s entry: %v", t, err)}
	}

	var all map[string]any
	if err := json.Unmarshal([]byte(properties), &all); err != nil {
		return nil, &lakeerr.ValidationError{Field: "properties", Reason: err.Error()}
	}
	known, err := typedKeys(t)
	if err != nil {
		return nil, err
	}
	for k := range known {
		delete(all, k)
	}
	if len(all) > 0 {
		h.Extra = all
	} else {
		h.Extra = nil
	}

	*e.EntryHeader() = h
	return e, nil
}

// typedKeys returns the JSON keys of the variant registered for t.
func typedKeys(t EntryType) (map[string]any, error) {
	b, err := json.Marshal(registry[t]())
	if err != nil {
		return nil, err
	}
	var keys map[string]any
	if err := json.Unmarshal(b, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}
