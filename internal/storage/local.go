package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// localBackend stores objects under a root directory on the local
// filesystem. Writes go to a temp file in the destination directory and
// are renamed into place, so readers never observe a partial object.
type localBackend struct {
	root string
}

func newLocalBackend(root string) (*localBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	return &localBackend{root: root}, nil
}

func (b *localBackend) resolve(path string) (string, error) {
	full := filepath.Join(b.root, filepath.FromSlash(path))
	cleanRoot := filepath.Clean(b.root)
	if !strings.HasPrefix(filepath.Clean(full), cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %s", path)
	}
	return full, nil
}

func (b *localBackend) Exists(_ context.Context, path string) (bool, error) {
	full, err := b.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func (b *localBackend) ReadBytes(_ context.Context, path string) ([]byte, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (b *localBackend) WriteBytes(_ context.Context, path string, data []byte) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", path, err)
	}
	tmp := full + ".tmp." + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap %s into place: %w", path, err)
	}
	return nil
}

func (b *localBackend) Delete(_ context.Context, path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// CredentialsValid for the local backend verifies the root directory exists
// (creating it if needed) and is writable.
func (b *localBackend) CredentialsValid(_ context.Context) error {
	if err := os.MkdirAll(b.root, 0o750); err != nil {
		return &CredentialError{
			Backend: "local",
			Help:    "Check that the storage root is a writable directory.",
			Err:     err,
		}
	}
	probe := filepath.Join(b.root, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return &CredentialError{
			Backend: "local",
			Help:    "Check that the storage root is a writable directory.",
			Err:     err,
		}
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("clean up write probe: %w", err)
	}
	return nil
}
