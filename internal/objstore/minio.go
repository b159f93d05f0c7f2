package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds S3-compatible endpoint configuration.
type MinIOConfig struct {
	// Endpoint is the host and port, e.g. "localhost:9000".
	Endpoint string

	// AccessKey is the access key.
	AccessKey string

	// SecretKey is the secret key.
	SecretKey string

	// UseSSL enables TLS for the connection.
	UseSSL bool

	// Region is the bucket region (optional for MinIO).
	Region string
}

// MinIOStore implements Store using the MinIO SDK.
type MinIOStore struct {
	client *minio.Client
	logger *slog.Logger
}

// NewMinIOStore creates a MinIO-backed store. No request is made until the
// first operation.
func NewMinIOStore(cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		logger: logger.With("component", "minio-store"),
	}, nil
}

// Read downloads the object.
func (s *MinIOStore) Read(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("get object", location, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrap("read object", location, err)
	}
	return data, nil
}

// Write uploads the object, replacing any previous version.
func (s *MinIOStore) Write(ctx context.Context, location string, data []byte) error {
	return s.put(ctx, location, data, false)
}

// Create uploads the object with If-None-Match: *, so the service rejects it
// when the key already exists.
func (s *MinIOStore) Create(ctx context.Context, location string, data []byte) error {
	return s.put(ctx, location, data, true)
}

func (s *MinIOStore) put(ctx context.Context, location string, data []byte, exclusive bool) error {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return err
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if exclusive {
		opts.SetMatchETagExcept("*")
	}
	info, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if exclusive && isMinIOPreconditionFailed(err) {
			return fmt.Errorf("%w: %s", ErrExist, location)
		}
		return fmt.Errorf("upload object %s: %w", location, err)
	}

	s.logger.Debug("object uploaded",
		"bucket", bucket,
		"key", key,
		"size", info.Size,
	)
	return nil
}

// Exists checks if an object exists.
func (s *MinIOStore) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return false, err
	}

	_, err = s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", location, err)
	}
	return true, nil
}

// Delete deletes an object from the bucket.
func (s *MinIOStore) Delete(ctx context.Context, location string) error {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", location, err)
	}

	s.logger.Debug("object deleted",
		"bucket", bucket,
		"key", key,
	)
	return nil
}

// List returns every object under prefix.
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := ParseS3(prefix)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []string
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    listPrefix(key),
		Recursive: true,
	}) {
		if obj.Err != nil {
			if isMinIONotFound(obj.Err) {
				break
			}
			return nil, fmt.Errorf("list objects under %s: %w", prefix, obj.Err)
		}
		out = append(out, "s3://"+bucket+"/"+obj.Key)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MinIOStore) wrap(op, location string, err error) error {
	if isMinIONotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotExist, location)
	}
	return fmt.Errorf("%s %s: %w", op, location, err)
}

func isMinIONotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isMinIOPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return resp.StatusCode == http.StatusPreconditionFailed
}

var _ Store = (*MinIOStore)(nil)
