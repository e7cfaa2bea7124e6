package storage

import (
	"context"
	"fmt"
	"sync"
)

// memoryBackend keeps objects in a process-wide map, for tests and dry
// runs. Backends opened with the same mem:// root share state.
type memoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var (
	memRegistryMu sync.Mutex
	memRegistry   = make(map[string]*memoryBackend)
)

func openMemoryBackend(root string) *memoryBackend {
	memRegistryMu.Lock()
	defer memRegistryMu.Unlock()
	if b, ok := memRegistry[root]; ok {
		return b
	}
	b := &memoryBackend{data: make(map[string][]byte)}
	memRegistry[root] = b
	return b
}

func (b *memoryBackend) Exists(_ context.Context, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.data[path]
	return ok, nil
}

func (b *memoryBackend) ReadBytes(_ context.Context, path string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.data[path]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (b *memoryBackend) WriteBytes(_ context.Context, path string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[path] = append([]byte(nil), data...)
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, path)
	return nil
}

func (b *memoryBackend) CredentialsValid(_ context.Context) error { return nil }
