// Package lakeerr defines the error taxonomy shared by the catalog, the
// dataset engine and the storage layer.
//
// Callers classify failures with errors.Is against the sentinels and extract
// details with errors.As against the typed errors.
package lakeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below matches exactly one of them.
var (
	ErrValidation     = errors.New("timelake: validation failed")
	ErrNotFound       = errors.New("timelake: not found")
	ErrConfiguration  = errors.New("timelake: invalid configuration")
	ErrConsistency    = errors.New("timelake: catalog and storage disagree")
	ErrCommitConflict = errors.New("timelake: concurrent commit")
)

// ValidationError reports input that violates a precondition: empty frames,
// missing columns, bad partition lists, non-updatable keys.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validationf builds a ValidationError without a field name.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing catalog, config entry, dataset or table.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConfigurationError reports an unusable backend or store setting.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Setting, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// ConsistencyError reports a catalog entry whose physical table is missing
// or unreadable. It also matches the error it wraps.
type ConsistencyError struct {
	Dataset string
	Path    string
	Err     error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("dataset %q is registered but its table at %s is unusable: %v", e.Dataset, e.Path, e.Err)
}

func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistency
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// CommitConflictError is returned when another writer committed the same
// table version first. The operation is not retried.
type CommitConflictError struct {
	Location string
	Version  int64
}

func (e *CommitConflictError) Error() string {
	return fmt.Sprintf("commit conflict on %s: version %d already exists", e.Location, e.Version)
}

func (e *CommitConflictError) Is(target error) bool {
	return target == ErrCommitConflict
}

// SchemaMismatchError is a validation error raised when appended or merged
// data does not match the existing table schema.
type SchemaMismatchError struct {
	Missing []string
	Extra   []string
	Changed []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unexpected columns "+strings.Join(e.Extra, ", "))
	}
	if len(e.Changed) > 0 {
		parts = append(parts, "type changed for "+strings.Join(e.Changed, ", "))
	}
	return "schema mismatch: " + strings.Join(parts, "; ")
}

func (e *SchemaMismatchError) Is(target error) bool {
	return target == ErrValidation
}
