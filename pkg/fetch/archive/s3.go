// Package archive optionally persists raw fetched source bytes to S3,
// content-addressed by their SHA-256 hash, so a ContentSnapshot's
// archive_path can be resolved back to the exact bytes that produced it.
// Grounded on the teacher's pkg/artifacts.S3Store.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store persists raw fetch bytes to S3 under a content-hash key.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures a Store.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO/LocalStack)
	Prefix   string
}

// New builds an S3-backed archival Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	return &Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Put uploads data keyed by its content hash and returns an archive_path of
// the form "s3://<bucket>/<key>". Idempotent: re-uploading identical content
// is a no-op beyond a HeadObject check.
func (s *Store) Put(ctx context.Context, source string, contentHash string, data []byte) (string, error) {
	key := fmt.Sprintf("%s%s/%s.raw", s.prefix, source, contentHash)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return s.path(key), nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put failed: %w", err)
	}
	return s.path(key), nil
}

// Get retrieves previously archived raw bytes by their archive_path.
func (s *Store) Get(ctx context.Context, archivePath string) ([]byte, error) {
	key, err := s.keyFromPath(archivePath)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: s3 get failed for %s: %w", archivePath, err)
	}
	defer func() { _ = result.Body.Close() }()
	return io.ReadAll(result.Body)
}

func (s *Store) path(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *Store) keyFromPath(archivePath string) (string, error) {
	prefix := fmt.Sprintf("s3://%s/", s.bucket)
	if len(archivePath) <= len(prefix) || archivePath[:len(prefix)] != prefix {
		return "", fmt.Errorf("archive: path %q not under bucket %s", archivePath, s.bucket)
	}
	return archivePath[len(prefix):], nil
}
