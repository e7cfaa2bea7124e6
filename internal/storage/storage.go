// Package storage abstracts the durable medium behind the manifest,
// checkpoint, gap state and downloaded documents. One interface, several
// implementations; the backend is selected from the root path prefix at
// construction time.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrNotFound is returned by ReadBytes when the object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// CredentialError signals missing or invalid backend credentials. It is
// fatal: the sync run must not start.
type CredentialError struct {
	Backend string
	Help    string
	Err     error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s credentials invalid: %v\n\n%s", e.Backend, e.Err, e.Help)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Backend is the capability set the sync engine needs from storage.
// WriteBytes must be atomic with respect to partial writes; Delete is
// idempotent and returns nil for absent objects.
type Backend interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadBytes(ctx context.Context, path string) ([]byte, error)
	WriteBytes(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	CredentialsValid(ctx context.Context) error
}

// New selects a Backend from the root path prefix: gs:// for Google Cloud
// Storage, s3:// for S3, mem:// for the in-memory store, anything else is
// a local filesystem directory.
func New(ctx context.Context, root string, logger *zap.Logger) (Backend, error) {
	root = strings.TrimRight(root, "/")
	if root == "" {
		return nil, errors.New("storage root cannot be empty")
	}
	switch {
	case strings.HasPrefix(root, "gs://"):
		return newGCSBackend(ctx, root, logger)
	case strings.HasPrefix(root, "s3://"):
		return newS3Backend(ctx, root, logger)
	case strings.HasPrefix(root, "mem://"):
		return openMemoryBackend(root), nil
	default:
		return newLocalBackend(root)
	}
}

// splitBucketRoot parses "<scheme>://bucket/prefix" into bucket and prefix.
func splitBucketRoot(root, scheme string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(root, scheme+"://")
	if trimmed == "" {
		return "", "", fmt.Errorf("%s root must name a bucket", scheme)
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	return bucket, strings.Trim(prefix, "/"), nil
}

func joinPrefix(prefix, path string) string {
	path = strings.TrimLeft(path, "/")
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}
