package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryHost keeps images in-process. It serves local development and tests.
type MemoryHost struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

// NewMemoryHost builds an empty in-memory host whose URLs start with baseURL.
func NewMemoryHost(baseURL string) *MemoryHost {
	if baseURL == "" {
		baseURL = "memory://images"
	}
	return &MemoryHost{baseURL: baseURL, objects: make(map[string][]byte)}
}

// Upload reads the whole body into memory.
func (m *MemoryHost) Upload(_ context.Context, u Upload) (HostedImage, error) {
	data, err := io.ReadAll(u.Body)
	if err != nil {
		return HostedImage{}, fmt.Errorf("read upload: %w", err)
	}
	key := objectKey(u.Folder, u.Filename, u.ContentType)
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return HostedImage{URL: m.baseURL + "/" + key, StorageID: key}, nil
}

// Delete drops an object.
func (m *MemoryHost) Delete(_ context.Context, storageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[storageID]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, storageID)
	return nil
}

// Get returns a stored object.
func (m *MemoryHost) Get(storageID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[storageID]
	return data, ok
}

// Len reports the number of stored objects.
func (m *MemoryHost) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
