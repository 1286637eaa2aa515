package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// GetObjectAPI is the subset of the S3 client used for whole-object reads.
type GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Downloader streams an object into a local file.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// Uploader writes an object, switching to multipart uploads for large bodies.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

var (
	_ GetObjectAPI = (*s3.Client)(nil)
	_ Downloader   = (*manager.Downloader)(nil)
	_ Uploader     = (*manager.Uploader)(nil)
	_ ObjectStore  = (*S3Store)(nil)
)

// S3Store implements ObjectStore on Amazon S3 (or any S3-compatible API).
type S3Store struct {
	client     GetObjectAPI
	downloader Downloader
	uploader   Uploader
	stagingDir string
	logger     *slog.Logger
}

// NewS3Store wires an S3 client into a store that stages artifacts under
// stagingDir.
func NewS3Store(client *s3.Client, stagingDir string, logger *slog.Logger) *S3Store {
	return NewS3StoreWith(client, manager.NewDownloader(client), manager.NewUploader(client), stagingDir, logger)
}

// NewS3StoreWith builds a store from its individual capabilities.
func NewS3StoreWith(client GetObjectAPI, dl Downloader, ul Uploader, stagingDir string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}
	return &S3Store{
		client:     client,
		downloader: dl,
		uploader:   ul,
		stagingDir: stagingDir,
		logger:     logger,
	}
}

// ReadObject fetches the whole object into memory.
func (s *S3Store) ReadObject(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reading object", "bucket", bucket, "key", key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", uri, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", uri, err)
	}
	return data, nil
}

// StagedPath returns where Stage places the object for uri.
func (s *S3Store) StagedPath(uri string) (string, error) {
	_, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.stagingDir, path.Base(key)), nil
}

// Stage downloads the object to the staging directory unless a file with the
// same base name is already there. Downloads go through a temp file so a
// failed transfer never leaves a partial artifact behind.
func (s *S3Store) Stage(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	local := filepath.Join(s.stagingDir, path.Base(key))

	if _, err := os.Stat(local); err == nil {
		s.logger.Debug("artifact already staged", "uri", uri, "path", local)
		return local, nil
	}

	if err := os.MkdirAll(s.stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.stagingDir, ".stage-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", uri, err)
	}

	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", fmt.Errorf("move staged artifact: %w", err)
	}
	s.logger.Info("artifact staged", "uri", uri, "path", local, "bytes", n)
	return local, nil
}

// WriteObject uploads body to uri.
func (s *S3Store) WriteObject(ctx context.Context, uri string, body io.Reader) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}); err != nil {
		return fmt.Errorf("upload %s: %w", uri, err)
	}
	s.logger.Info("object written", "bucket", bucket, "key", key)
	return nil
}
