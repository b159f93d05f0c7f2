package feature

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/objstore"
)

const fileSuffix = ".json"

// fixed are the definition keys that Update may not change.
var fixed = map[string]bool{
	"name":       true,
	"created_at": true,
	"updated_at": true,
}

// Registry stores one JSON document per feature under a directory.
type Registry struct {
	store  objstore.Store
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry returns a registry keeping definitions under dir.
func NewRegistry(store objstore.Store, dir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		dir:    dir,
		logger: logger.With("component", "features"),
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Dir returns the definition directory.
func (r *Registry) Dir() string { return r.dir }

func (r *Registry) location(name string) string {
	return objstore.Join(r.dir, name+fileSuffix)
}

// Add stores a new definition. A name that is already registered is a
// validation error. Zero timestamps are set to the current time.
func (r *Registry) Add(ctx context.Context, f *Feature) error {
	if f == nil {
		return lakeerr.Validationf("feature is nil")
	}
	if err := f.Validate(); err != nil {
		return err
	}

	stored := *f
	now := r.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	data, err := encode(&stored)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, r.location(f.Name), data); err != nil {
		if errors.Is(err, objstore.ErrExist) {
			return &lakeerr.ValidationError{Field: "name", Reason: fmt.Sprintf("feature %q already exists", f.Name)}
		}
		return fmt.Errorf("write feature %q: %w", f.Name, err)
	}

	*f = stored
	r.logger.Debug("feature added", "feature", f.Name, "type", f.Kind, "source_column", f.SourceColumn)
	return nil
}

// List returns the registered feature names, sorted.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	locations, err := r.store.List(ctx, r.dir)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	names := make([]string, 0, len(locations))
	for _, loc := range locations {
		base := objstore.Base(loc)
		if name, ok := strings.CutSuffix(base, fileSuffix); ok && name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Get returns the named definition.
func (r *Registry) Get(ctx context.Context, name string) (*Feature, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}
	data, err := r.store.Read(ctx, r.location(name))
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read feature %q: %w", name, err)
	}
	f, err := decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode feature %q: %w", name, err)
	}
	return f, true, nil
}

// Update sets attributes of the named definition and returns the result.
// Keys must name existing attributes; name and the timestamps are fixed.
func (r *Registry) Update(ctx context.Context, name string, props map[string]any) (*Feature, error) {
	for k := range props {
		if fixed[k] {
			return nil, &lakeerr.ValidationError{Field: k, Reason: "cannot be updated"}
		}
	}

	f, ok, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &lakeerr.NotFoundError{Kind: "feature", Name: name}
	}

	current, err := toMap(f)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		if _, known := current[k]; !known {
			return nil, &lakeerr.ValidationError{Field: k, Reason: fmt.Sprintf("not an attribute of feature %q", name)}
		}
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return nil, &lakeerr.ValidationError{Field: "properties", Reason: err.Error()}
	}
	next, err := decode(merged)
	if err != nil {
		return nil, &lakeerr.ValidationError{Field: "properties", Reason: err.Error()}
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = r.now()

	data, err := encode(next)
	if err != nil {
		return nil, err
	}
	if err := r.store.Write(ctx, r.location(name), data); err != nil {
		return nil, fmt.Errorf("write feature %q: %w", name, err)
	}
	r.logger.Debug("feature updated", "feature", name, "keys", len(props))
	return next, nil
}

// Remove deletes the named definition.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	loc := r.location(name)
	exists, err := r.store.Exists(ctx, loc)
	if err != nil {
		return fmt.Errorf("check feature %q: %w", name, err)
	}
	if !exists {
		return &lakeerr.NotFoundError{Kind: "feature", Name: name}
	}
	if err := r.store.Delete(ctx, loc); err != nil {
		return fmt.Errorf("delete feature %q: %w", name, err)
	}
	r.logger.Debug("feature removed", "feature", name)
	return nil
}

func encode(f *Feature) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, &lakeerr.ValidationError{Field: "fill_value", Reason: fmt.Sprintf("not JSON-encodable: %v", err)}
	}
	return data, nil
}

// decode keeps numbers as json.Number so integer fill values stay integers.
func decode(data []byte) (*Feature, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f Feature
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func toMap(f *Feature) (map[string]any, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
