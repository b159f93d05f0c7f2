package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/objstore"
)

// MetadataFileName is the lake-level metadata file written next to the
// catalog.
const MetadataFileName = "_timelake_metadata.json"

// FeaturesDir holds the feature definitions under the lake root.
const FeaturesDir = "_timelake_features"

// MetadataVersion is the current metadata file format version.
const MetadataVersion = 1

// Metadata mirrors the config entry in a plain JSON file so that tools can
// inspect a lake without reading the catalog table.
type Metadata struct {
	// Version is the file format version.
	Version int `json:"version"`

	// StoreID is the lake identifier.
	StoreID string `json:"store_id"`

	// TimestampColumn is the time column of every dataset.
	TimestampColumn string `json:"timestamp_column"`

	// PartitionBy is the ordered partition column list.
	PartitionBy []string `json:"partition_by"`

	// InsertedAtColumn is the insertion timestamp column.
	InsertedAtColumn string `json:"inserted_at_column"`

	// BackendKind is the storage backend kind.
	BackendKind Kind `json:"backend_kind"`

	// PreprocessorKind is the preprocessor kind.
	PreprocessorKind string `json:"preprocessor_kind"`

	// CreatedAt is when the lake was created.
	CreatedAt time.Time `json:"created_at"`
}

// SaveMetadata writes the metadata file under base.
func SaveMetadata(ctx context.Context, store objstore.Store, base string, md Metadata) error {
	if md.Version == 0 {
		md.Version = MetadataVersion
	}
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := store.Write(ctx, objstore.Join(base, MetadataFileName), data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// LoadMetadata reads the metadata file under base.
func LoadMetadata(ctx context.Context, store objstore.Store, base string) (*Metadata, error) {
	loc := objstore.Join(base, MetadataFileName)
	data, err := store.Read(ctx, loc)
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			return nil, &lakeerr.NotFoundError{Kind: "metadata file", Name: loc}
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", loc, err)
	}
	if md.Version > MetadataVersion {
		return nil, &lakeerr.ConfigurationError{Setting: "metadata version", Reason: fmt.Sprintf("%d is newer than supported %d", md.Version, MetadataVersion)}
	}
	return &md, nil
}
