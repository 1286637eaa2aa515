// Package storage reads and writes catalog data, embedding matrices and model
// artifacts on the local filesystem or in S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/movie-recommender/internal/models"
)

// Scheme is the URI prefix that routes a path to object storage.
const Scheme = "s3://"

// IsRemote reports whether path refers to object storage.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsRemote(uri) {
		return "", "", fmt.Errorf("%w: %q is not an s3:// uri", models.ErrConfiguration, uri)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(uri, Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q must look like s3://bucket/key", models.ErrConfiguration, uri)
	}
	return bucket, key, nil
}

// ObjectStore is the object storage capability the recommender depends on.
type ObjectStore interface {
	// ReadObject fetches the whole object into memory.
	ReadObject(ctx context.Context, uri string) ([]byte, error)
	// Stage copies the object to local storage and returns the local path.
	// Already staged objects are not downloaded again.
	Stage(ctx context.Context, uri string) (string, error)
	// WriteObject uploads body to uri.
	WriteObject(ctx context.Context, uri string, body io.Reader) error
}

// Resolver dispatches reads and writes to the local filesystem or to the
// object store depending on the path prefix.
type Resolver struct {
	Remote ObjectStore
}

// Read returns the full contents at path.
func (r *Resolver) Read(ctx context.Context, path string) ([]byte, error) {
	if IsRemote(path) {
		if r.Remote == nil {
			return nil, fmt.Errorf("%w: no object store configured for %s", models.ErrConfiguration, path)
		}
		return r.Remote.ReadObject(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Write stores body at path, creating local parent directories as needed.
func (r *Resolver) Write(ctx context.Context, path string, body io.Reader) error {
	if IsRemote(path) {
		if r.Remote == nil {
			return fmt.Errorf("%w: no object store configured for %s", models.ErrConfiguration, path)
		}
		return r.Remote.WriteObject(ctx, path, body)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Stage returns a local path for an artifact, downloading remote artifacts.
// Local paths are returned unchanged.
func (r *Resolver) Stage(ctx context.Context, path string) (string, error) {
	if !IsRemote(path) {
		return path, nil
	}
	if r.Remote == nil {
		return "", fmt.Errorf("%w: no object store configured for %s", models.ErrConfiguration, path)
	}
	return r.Remote.Stage(ctx, path)
}
