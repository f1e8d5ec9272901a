package conversation

import (
	"context"
	"sync"
)

// MemoryBackend keeps transcripts in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (b *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidID
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, key string, data []byte) error {
	if key == "" {
		return ErrInvalidID
	}
	b.mu.Lock()
	b.entries[key] = append([]byte(nil), data...)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}
