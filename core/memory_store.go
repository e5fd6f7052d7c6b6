package core

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, c)
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id string) (Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.records {
		if c.ID == id {
			return c, true, nil
		}
	}
	return Credential{}, false, nil
}

func (s *MemoryStore) Compact(_ context.Context, keep func(Credential) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Credential, 0, len(s.records))
	for _, c := range s.records {
		if keep(c) {
			kept = append(kept, c)
		}
	}
	dropped := len(s.records) - len(kept)
	s.records = kept
	return dropped, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
