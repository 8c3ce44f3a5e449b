package artifactstore

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	bucket  string
}

func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "memory"
	}
	return &MemoryStore{objects: map[string][]byte{}, bucket: bucket}
}

func (s *MemoryStore) Put(ctx context.Context, blob []byte, folder, artifactKey string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	if err := validate(folder, artifactKey); err != nil {
		return Ref{}, err
	}
	key := ObjectName(folder, artifactKey)

	s.mu.Lock()
	s.objects[key] = bytes.Clone(blob)
	s.mu.Unlock()

	return Ref{Key: key, URL: "memory://" + s.bucket + "/" + key}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (DeleteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return NotFound, nil
	}
	delete(s.objects, key)
	return Deleted, nil
}

// Get returns a copy of the stored blob.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(b), true
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
