package secretstore

import (
	"context"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/florianilch/credkeep/internal/secret"
)

// MemoryStore keeps secrets for the lifetime of the process.
// Entries are sealed in memguard enclaves (encrypted at rest in memory) and only
// decrypted while being read. Nothing is persisted, and the store does not count as
// secure because it offers no OS-level access protection.
type MemoryStore[S secret.Secret] struct {
	mu      sync.RWMutex
	entries map[string]*memguard.Enclave
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store[*secret.TokenPair] = (*MemoryStore[*secret.TokenPair])(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore[S secret.Secret]() *MemoryStore[S] {
	return &MemoryStore[S]{
		entries: make(map[string]*memguard.Enclave),
	}
}

// Name implements Store.
func (m *MemoryStore[S]) Name() string { return "memory" }

// IsSecure implements Store.
func (m *MemoryStore[S]) IsSecure() bool { return false }

// Get decrypts and returns the secret stored under key.
func (m *MemoryStore[S]) Get(ctx context.Context, key string) (S, bool, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	m.mu.RLock()
	enclave, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}

	locked, err := enclave.Open()
	if err != nil {
		return zero, false, err
	}
	defer locked.Destroy()

	s, err := secret.Decode[S](string(locked.Bytes()))
	if err != nil {
		return zero, false, err
	}
	return s, true, nil
}

// Add seals the secret and stores it under key.
func (m *MemoryStore[S]) Add(ctx context.Context, key string, s S) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := secret.Encode(s)
	if err != nil {
		return err
	}

	// NewEnclave wipes the source buffer
	enclave := memguard.NewEnclave([]byte(encoded))

	m.mu.Lock()
	m.entries[key] = enclave
	m.mu.Unlock()
	return nil
}

// Delete drops the secret stored under key.
func (m *MemoryStore[S]) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key]
	delete(m.entries, key)
	return ok, nil
}

// Len returns the number of stored secrets.
func (m *MemoryStore[S]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
