// Package feature defines derived columns computed from a dataset when it is
// read, and the registry that keeps their definitions next to the catalog.
package feature

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Garsdal/timelake/internal/frame"
	"github.com/Garsdal/timelake/internal/lakeerr"
)

// Kind identifies how a feature is computed.
type Kind string

// Supported feature kinds.
const (
	KindLag Kind = "lag"
)

// Feature is a named column derived from a source column.
type Feature struct {
	// Name is the output column name.
	Name string `json:"name"`

	// Kind selects the computation.
	Kind Kind `json:"type"`

	// SourceColumn is the column the feature is derived from.
	SourceColumn string `json:"source_column"`

	// Periods is the lag distance in rows. Negative values lead.
	Periods int `json:"periods"`

	// FillValue replaces nulls in the output. Nil keeps them.
	FillValue any `json:"fill_value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lag returns a feature holding source shifted down by periods rows once the
// frame is ordered by time.
func Lag(name, source string, periods int, fill any) *Feature {
	return &Feature{
		Name:         name,
		Kind:         KindLag,
		SourceColumn: source,
		Periods:      periods,
		FillValue:    fill,
	}
}

// ValidateName checks that name can be used as a definition file name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &lakeerr.ValidationError{Field: "name", Reason: "feature name is empty"}
	case strings.ContainsAny(name, `/\`):
		return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("feature name %q contains a path separator", name)}
	case strings.HasPrefix(name, "_"), strings.HasPrefix(name, "."):
		return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("feature name %q must not start with '_' or '.'", name)}
	}
	return nil
}

// Validate checks the definition without looking at any data.
func (f *Feature) Validate() error {
	if err := ValidateName(f.Name); err != nil {
		return err
	}
	if f.Kind != KindLag {
		return &lakeerr.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown feature type %q", f.Kind)}
	}
	if f.SourceColumn == "" {
		return &lakeerr.ValidationError{Field: "source_column", Reason: "source column is empty"}
	}
	if f.SourceColumn == f.Name {
		return &lakeerr.ValidationError{Field: "name", Reason: "feature name equals its source column"}
	}
	return nil
}

// Compute sorts fr by timestampColumn and adds the feature column. The
// output has the source column's type.
func (f *Feature) Compute(fr *frame.Frame, timestampColumn string) (*frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if !fr.Has(timestampColumn) {
		return nil, &lakeerr.ValidationError{Field: "timestamp_column", Reason: fmt.Sprintf("column '%s' is missing", timestampColumn)}
	}
	typ, ok := fr.Type(f.SourceColumn)
	if !ok {
		return nil, &lakeerr.ValidationError{Field: "source_column", Reason: fmt.Sprintf("feature %q needs column '%s'", f.Name, f.SourceColumn)}
	}
	fill, err := f.fill(typ)
	if err != nil {
		return nil, err
	}

	sorted, err := fr.SortBy(timestampColumn)
	if err != nil {
		return nil, err
	}
	src := sorted.Values(f.SourceColumn)
	out := make([]any, len(src))
	for i := range out {
		if j := i - f.Periods; j >= 0 && j < len(src) {
			out[i] = src[j]
		}
		if out[i] == nil {
			out[i] = fill
		}
	}
	return sorted.WithColumn(f.Name, typ, out)
}

// fill converts FillValue to a value of type t. Definitions read back from
// JSON carry numbers as json.Number and timestamps as RFC 3339 strings.
func (f *Feature) fill(t frame.Type) (any, error) {
	v := f.FillValue
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == frame.TypeTimestamp {
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, &lakeerr.ValidationError{Field: "fill_value", Reason: err.Error()}
			}
			v = ts
		}
	case float64:
		if t == frame.TypeInt && x == math.Trunc(x) {
			v = int64(x)
		}
	}
	nv, err := frame.Normalize(t, v)
	if err != nil {
		return nil, &lakeerr.ValidationError{Field: "fill_value", Reason: err.Error()}
	}
	return nv, nil
}
