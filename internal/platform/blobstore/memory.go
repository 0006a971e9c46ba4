package blobstore

import (
	"context"
	"io"
	"sync"
)

type storedPhoto struct {
	meta    PhotoMeta
	content []byte
}

// MemoryStore keeps photos in process memory. Used in tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	photos map[string]*storedPhoto
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{photos: make(map[string]*storedPhoto)}
}

func (s *MemoryStore) Save(_ context.Context, meta PhotoMeta, content io.Reader) (*PhotoMeta, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.photos[meta.Ref] = &storedPhoto{meta: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Open(_ context.Context, ref string) (io.ReadCloser, *PhotoMeta, error) {
	s.mu.RLock()
	p, ok := s.photos[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrPhotoNotFound
	}
	meta := p.meta
	return readerFor(p.content), &meta, nil
}

func (s *MemoryStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.photos[ref]
	return ok, nil
}
