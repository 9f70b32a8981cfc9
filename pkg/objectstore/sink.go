package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// Sink uploads exported files to a bucket, optionally below a key prefix.
type Sink struct {
	client Client
	bucket string
	prefix string
	region string
	logger zerolog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithPrefix places every object below prefix.
func WithPrefix(prefix string) Option {
	return func(s *Sink) { s.prefix = strings.Trim(prefix, "/") }
}

// WithRegion sets the region used when the bucket has to be created.
func WithRegion(region string) Option {
	return func(s *Sink) { s.region = region }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sink) { s.logger = logger }
}

// NewSink creates a sink writing to bucket.
func NewSink(client Client, bucket string, opts ...Option) *Sink {
	s := &Sink{client: client, bucket: bucket, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "objectstore").Str("bucket", bucket).Logger()
	return s
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Sink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info().Msg("Bucket created")
	return nil
}

// Key returns the object key for an exported file name.
func (s *Sink) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads one file.
func (s *Sink) Put(ctx context.Context, name string, data []byte, contentType string) error {
	key := s.Key(name)
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Int64("size", info.Size).Msg("Object uploaded")
	return nil
}
