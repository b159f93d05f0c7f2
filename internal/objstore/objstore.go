// Package objstore reads and writes whole objects addressed by location
// strings: plain filesystem paths or s3://bucket/key URIs.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Garsdal/timelake/internal/lakeerr"
)

var (
	// ErrNotExist is returned when reading an object that does not exist.
	ErrNotExist = errors.New("objstore: object does not exist")

	// ErrExist is returned by Create when the object already exists.
	ErrExist = errors.New("objstore: object already exists")
)

// Store defines whole-object operations on a storage location.
type Store interface {
	// Read returns the object contents.
	Read(ctx context.Context, location string) ([]byte, error)

	// Write creates or replaces the object.
	Write(ctx context.Context, location string, data []byte) error

	// Create writes the object only if it does not exist yet.
	Create(ctx context.Context, location string, data []byte) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, location string) (bool, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, location string) error

	// List returns the locations of every object under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Connection option keys understood by Open.
const (
	OptionRegion    = "region"
	OptionAccessKey = "access_key"
	OptionSecretKey = "secret_key"
	OptionEndpoint  = "endpoint"
	OptionUseSSL    = "use_ssl"
	OptionClient    = "client"
)

// Client names accepted by OptionClient.
const (
	ClientAWS   = "aws"
	ClientMinIO = "minio"
)

// Open returns a Store able to serve location. Remote locations use the
// MinIO client when an endpoint is configured and the AWS SDK otherwise,
// unless OptionClient says which one to use.
func Open(ctx context.Context, location string, options map[string]string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	scheme, _ := splitScheme(location)
	switch scheme {
	case "", "file":
		return NewLocalStore(logger), nil
	case "s3", "s3a":
	default:
		return nil, &lakeerr.ConfigurationError{Setting: "location", Reason: fmt.Sprintf("unsupported scheme %q", scheme)}
	}

	client := options[OptionClient]
	if client == "" {
		client = ClientAWS
		if options[OptionEndpoint] != "" {
			client = ClientMinIO
		}
	}

	switch client {
	case ClientMinIO:
		endpoint, secure := splitEndpoint(options[OptionEndpoint], options[OptionUseSSL])
		if endpoint == "" {
			return nil, &lakeerr.ConfigurationError{Setting: OptionEndpoint, Reason: "required for the minio client"}
		}
		return NewMinIOStore(MinIOConfig{
			Endpoint:  endpoint,
			AccessKey: options[OptionAccessKey],
			SecretKey: options[OptionSecretKey],
			UseSSL:    secure,
			Region:    options[OptionRegion],
		}, logger)
	case ClientAWS:
		return NewS3Store(ctx, S3Config{
			Region:    options[OptionRegion],
			AccessKey: options[OptionAccessKey],
			SecretKey: options[OptionSecretKey],
			Endpoint:  options[OptionEndpoint],
		}, logger)
	default:
		return nil, &lakeerr.ConfigurationError{Setting: OptionClient, Reason: fmt.Sprintf("unknown client %q", client)}
	}
}

// IsRemote reports whether location is an object-store URI.
func IsRemote(location string) bool {
	scheme, _ := splitScheme(location)
	return scheme != "" && scheme != "file"
}

// Join appends path elements to a location, keeping its scheme.
func Join(base string, elems ...string) string {
	scheme, rest := splitScheme(base)
	if scheme == "" || scheme == "file" {
		return filepath.Join(append([]string{rest}, elems...)...)
	}
	return scheme + "://" + path.Join(append([]string{rest}, elems...)...)
}

// Base returns the last element of a location.
func Base(location string) string {
	_, rest := splitScheme(location)
	rest = strings.TrimRight(rest, "/")
	if i := strings.LastIndexAny(rest, `/\`); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// ParseS3 splits an s3://bucket/key location.
func ParseS3(location string) (bucket, key string, err error) {
	scheme, rest := splitScheme(location)
	if scheme != "s3" && scheme != "s3a" {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", location)
	}
	return bucket, key, nil
}

func splitScheme(location string) (scheme, rest string) {
	if i := strings.Index(location, "://"); i > 0 {
		return strings.ToLower(location[:i]), location[i+3:]
	}
	return "", location
}

// splitEndpoint strips an http(s) scheme from endpoint. The scheme decides
// TLS; without one the use_ssl option does, defaulting to true.
func splitEndpoint(endpoint, useSSL string) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	secure := true
	if b, err := strconv.ParseBool(useSSL); err == nil {
		secure = b
	}
	return endpoint, secure
}

// listPrefix turns a directory-like key into a listing prefix.
func listPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}
