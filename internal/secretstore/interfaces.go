package secretstore

import (
	"context"

	"github.com/florianilch/credkeep/internal/secret"
)

// Store reads and writes secrets of one kind under string keys.
//
// Implementations must be safe for concurrent use; callers additionally serialize
// read-modify-write sequences with Lock.
type Store[S secret.Secret] interface {
	// Name identifies the backend (e.g. "file", "macos-keychain").
	Name() string

	// Get returns the secret stored under key. ok is false if there is none.
	Get(ctx context.Context, key string) (s S, ok bool, err error)

	// Add stores the secret under key, overwriting any existing value.
	Add(ctx context.Context, key string, s S) error

	// Delete removes the secret stored under key and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)

	// IsSecure reports whether the backend provides OS-level access protection.
	IsSecure() bool
}

// IsNil reports whether store is nil or a nil pointer to one of the backends in
// this package. Other implementations are trusted to be usable.
func IsNil[S secret.Secret](store Store[S]) bool {
	switch v := store.(type) {
	case nil:
		return true
	case *MemoryStore[S]:
		return v == nil
	case *FileStore[S]:
		return v == nil
	case *KeyringStore[S]:
		return v == nil
	default:
		return false
	}
}
