package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider used by orchestrator/pipeline
// tests and local development so they don't need a live MinIO/S3
// endpoint.
type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryProvider) Name() string { return "memory" }

func (m *MemoryProvider) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("storage: read body for %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *MemoryProvider) GetObjectURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("storage: object %q not found", key)
	}
	return "memory://" + key, nil
}

func (m *MemoryProvider) PresignPut(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error) {
	return "memory://" + key + "?presigned=put", nil
}

func (m *MemoryProvider) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.types, key)
	return nil
}

func (m *MemoryProvider) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Get returns the stored bytes for key, for test assertions.
func (m *MemoryProvider) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return bytes.Clone(data), ok
}
