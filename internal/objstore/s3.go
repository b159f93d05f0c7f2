package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds AWS S3 configuration. Empty credentials fall back to the
// default AWS credential chain.
type S3Config struct {
	Region    string
	AccessKey string
	SecretKey string

	// Endpoint overrides the service endpoint and switches to path-style
	// addressing.
	Endpoint string
}

// S3Store implements Store using the AWS SDK.
type S3Store struct {
	client *s3.Client
	logger *slog.Logger
}

// NewS3Store loads the AWS configuration and builds the client.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		logger: logger.With("component", "s3-store"),
	}, nil
}

// Read downloads the object.
func (s *S3Store) Read(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, location)
		}
		return nil, fmt.Errorf("get object %s: %w", location, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", location, err)
	}
	return data, nil
}

// Write uploads the object, replacing any previous version.
func (s *S3Store) Write(ctx context.Context, location string, data []byte) error {
	return s.put(ctx, location, data, false)
}

// Create uploads the object with If-None-Match so that S3 rejects the
// request when the key already exists.
func (s *S3Store) Create(ctx context.Context, location string, data []byte) error {
	return s.put(ctx, location, data, true)
}

func (s *S3Store) put(ctx context.Context, location string, data []byte, exclusive bool) error {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return err
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	}
	if exclusive {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		if exclusive && isPreconditionFailed(err) {
			return fmt.Errorf("%w: %s", ErrExist, location)
		}
		return fmt.Errorf("put object %s: %w", location, err)
	}

	s.logger.Debug("object uploaded",
		"bucket", bucket,
		"key", key,
		"size", len(data),
	)
	return nil
}

// Exists checks if an object exists.
func (s *S3Store) Exists(ctx context.Context, location string) (bool, error) {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", location, err)
	}
	return true, nil
}

// Delete deletes an object from the bucket.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	bucket, key, err := ParseS3(location)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", location, err)
	}
	return nil
}

// List returns every object under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, key, err := ParseS3(prefix)
	if err != nil {
		return nil, err
	}

	var out []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(listPrefix(key)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, "s3://"+bucket+"/"+aws.ToString(obj.Key))
		}
	}
	sort.Strings(out)
	return out, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

var _ Store = (*S3Store)(nil)
