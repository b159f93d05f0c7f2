// Package storage describes where a lake lives and how to reach it.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/Garsdal/timelake/internal/lakeerr"
	"github.com/Garsdal/timelake/internal/objstore"
)

// Kind identifies a backend implementation.
type Kind string

// Supported backend kinds.
const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// Backend locates a lake and supplies the connection options needed to open
// its tables.
type Backend interface {
	// Kind returns the backend kind recorded in the config entry.
	Kind() Kind

	// Path returns the lake root location.
	Path() string

	// EnsureDirectories prepares the location for writing.
	EnsureDirectories(ctx context.Context) error

	// ConnectionOptions returns the options passed to objstore.Open.
	ConnectionOptions() map[string]string
}

// Credentials holds remote object-store settings.
type Credentials struct {
	Region    string
	AccessKey string
	SecretKey string

	// Endpoint points at an S3-compatible service such as MinIO.
	Endpoint string

	// UseSSL applies when Endpoint has no http(s) scheme.
	UseSSL bool
}

// CredentialsFromEnv reads the standard AWS environment variables.
func CredentialsFromEnv() Credentials {
	useSSL := true
	if v, err := strconv.ParseBool(os.Getenv("AWS_USE_SSL")); err == nil {
		useSSL = v
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	return Credentials{
		Region:    region,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Endpoint:  os.Getenv("AWS_ENDPOINT_URL"),
		UseSSL:    useSSL,
	}
}

// New creates a backend of the given kind.
func New(kind Kind, path string, creds Credentials, logger *slog.Logger) (Backend, error) {
	switch kind {
	case KindLocal:
		return NewLocalBackend(path, nil, logger), nil
	case KindS3:
		return NewS3Backend(path, creds, logger)
	default:
		return nil, &lakeerr.ConfigurationError{Setting: "backend", Reason: fmt.Sprintf("unsupported backend kind %q", kind)}
	}
}

// ForPath picks the backend kind from the location scheme.
func ForPath(path string, creds Credentials, logger *slog.Logger) (Backend, error) {
	if objstore.IsRemote(path) {
		return New(KindS3, path, creds, logger)
	}
	return New(KindLocal, path, creds, logger)
}

// Open returns the object store serving the backend's location.
func Open(ctx context.Context, b Backend, logger *slog.Logger) (objstore.Store, error) {
	return objstore.Open(ctx, b.Path(), b.ConnectionOptions(), logger)
}

// LocalBackend stores the lake on the local filesystem.
type LocalBackend struct {
	path     string
	subpaths []string
	logger   *slog.Logger
}

// NewLocalBackend creates a local backend. Subpaths are created under path by
// EnsureDirectories.
func NewLocalBackend(path string, subpaths []string, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		path:     path,
		subpaths: subpaths,
		logger:   logger.With("component", "local-backend"),
	}
}

// WithSubpaths returns a copy that also creates the given subpaths.
func (b *LocalBackend) WithSubpaths(subpaths ...string) *LocalBackend {
	cp := *b
	cp.subpaths = append(append([]string(nil), b.subpaths...), subpaths...)
	return &cp
}

func (b *LocalBackend) Kind() Kind   { return KindLocal }
func (b *LocalBackend) Path() string { return b.path }

// EnsureDirectories creates the base path and every subpath.
func (b *LocalBackend) EnsureDirectories(_ context.Context) error {
	store := objstore.NewLocalStore(b.logger)
	if err := store.EnsureDir(b.path); err != nil {
		return err
	}
	for _, sub := range b.subpaths {
		if err := store.EnsureDir(objstore.Join(b.path, sub)); err != nil {
			return err
		}
	}
	b.logger.Debug("directories ensured", "path", b.path, "subpaths", b.subpaths)
	return nil
}

// ConnectionOptions returns no options; local paths need none.
func (b *LocalBackend) ConnectionOptions() map[string]string {
	return map[string]string{}
}

// S3Backend stores the lake in an S3 bucket.
type S3Backend struct {
	path   string
	creds  Credentials
	logger *slog.Logger
}

// NewS3Backend validates credentials up front: region, access key and
// secret key are required.
func NewS3Backend(path string, creds Credentials, logger *slog.Logger) (*S3Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, _, err := objstore.ParseS3(path); err != nil {
		return nil, &lakeerr.ConfigurationError{Setting: "path", Reason: err.Error()}
	}
	b := &S3Backend{path: path, creds: creds, logger: logger.With("component", "s3-backend")}
	if err := b.checkCredentials(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *S3Backend) Kind() Kind   { return KindS3 }
func (b *S3Backend) Path() string { return b.path }

// EnsureDirectories creates nothing; object stores have no directories. It
// only re-checks the credentials.
func (b *S3Backend) EnsureDirectories(_ context.Context) error {
	return b.checkCredentials()
}

// ConnectionOptions returns the credentials as objstore options.
func (b *S3Backend) ConnectionOptions() map[string]string {
	opts := map[string]string{
		objstore.OptionRegion:    b.creds.Region,
		objstore.OptionAccessKey: b.creds.AccessKey,
		objstore.OptionSecretKey: b.creds.SecretKey,
	}
	if b.creds.Endpoint != "" {
		opts[objstore.OptionEndpoint] = b.creds.Endpoint
		opts[objstore.OptionUseSSL] = strconv.FormatBool(b.creds.UseSSL)
	}
	return opts
}

func (b *S3Backend) checkCredentials() error {
	switch {
	case b.creds.Region == "":
		return &lakeerr.ConfigurationError{Setting: "region", Reason: "required for the s3 backend (AWS_REGION)"}
	case b.creds.AccessKey == "":
		return &lakeerr.ConfigurationError{Setting: "access_key", Reason: "required for the s3 backend (AWS_ACCESS_KEY_ID)"}
	case b.creds.SecretKey == "":
		return &lakeerr.ConfigurationError{Setting: "secret_key", Reason: "required for the s3 backend (AWS_SECRET_ACCESS_KEY)"}
	}
	return nil
}

var (
	_ Backend = (*LocalBackend)(nil)
	_ Backend = (*S3Backend)(nil)
)
