// Package storage is the media store gateway: durable bytes in and out,
// plus expiring download URLs. Backends are an S3-compatible bucket (minio)
// or a local directory served through signed URLs.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a key has no object.
var ErrObjectNotFound = errors.New("object not found")

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Download copies the object to a local file path.
	Download(ctx context.Context, key, path string) error
	// Upload stores a local file under key.
	Upload(ctx context.Context, path, key, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a URL granting read access to key until expiry
	// elapses. URLs are never persisted.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ValidKey rejects empty, absolute and parent-relative keys.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
