package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
)

const gcsCredentialHelp = `GCS credentials not found. Configure one of:
  - GOOGLE_APPLICATION_CREDENTIALS env var (path to service account JSON)
  - gcloud auth application-default login
  - Workload identity in GitHub Actions`

// gcsBackend stores objects in a Google Cloud Storage bucket.
// Authentication uses Application Default Credentials. GCS object writes
// are atomic: the object only becomes visible when the writer is closed.
type gcsBackend struct {
	client *gcs.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func newGCSBackend(ctx context.Context, root string, logger *zap.Logger) (*gcsBackend, error) {
	bucket, prefix, err := splitBucketRoot(root, "gs")
	if err != nil {
		return nil, err
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &gcsBackend{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

func (b *gcsBackend) object(path string) *gcs.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(joinPrefix(b.prefix, path))
}

func (b *gcsBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat gs://%s/%s: %w", b.bucket, path, err)
	}
	return true, nil
}

func (b *gcsBackend) ReadBytes(ctx context.Context, path string) ([]byte, error) {
	r, err := b.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, path, ErrNotFound)
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", b.bucket, path, err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			b.logger.Warn("close GCS reader", zap.String("path", path), zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, path, err)
	}
	return data, nil
}

func (b *gcsBackend) WriteBytes(ctx context.Context, path string, data []byte) error {
	w := b.object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if cerr := w.Close(); cerr != nil {
			b.logger.Warn("close GCS writer after write failure", zap.String("path", path), zap.Error(cerr))
		}
		return fmt.Errorf("write gs://%s/%s: %w", b.bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", b.bucket, path, err)
	}
	return nil
}

func (b *gcsBackend) Delete(ctx context.Context, path string) error {
	if err := b.object(path).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", b.bucket, path, err)
	}
	return nil
}

func (b *gcsBackend) CredentialsValid(ctx context.Context) error {
	if _, err := b.client.Bucket(b.bucket).Attrs(ctx); err != nil {
		return &CredentialError{Backend: "GCS", Help: gcsCredentialHelp, Err: err}
	}
	return nil
}
