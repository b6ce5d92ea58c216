// Package secrets provides the namespaced secret stores used to resolve ((namespace.key)) references.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound indicates the namespace or key does not exist.
var ErrNotFound = errors.New("secret not found")

// Store resolves secret values. Implementations must return an error wrapping
// ErrNotFound for unknown namespaces or keys.
type Store interface {
	Resolve(ctx context.Context, namespace, key string) (string, error)
	Put(ctx context.Context, namespace, key, value string) error
	Close() error
}

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]string)}
}

func (s *MemoryStore) Resolve(_ context.Context, namespace, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[namespace][key]
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrNotFound, namespace, key)
	}

	return value, nil
}

func (s *MemoryStore) Put(_ context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		ns = make(map[string]string)
		s.entries[namespace] = ns
	}

	ns[key] = value

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
