package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/credkeep/internal/secret"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each cache key is stored as the keyring user under a per-kind service name.
type KeyringStore[S secret.Secret] struct {
	name    string
	service string
}

// Compile-time check to ensure KeyringStore implements Store
var _ Store[*secret.Credential] = (*KeyringStore[*secret.Credential])(nil)

// NewKeyringStore creates a KeyringStore named after its platform backend
// (e.g. "macos-keychain") that stores entries under the given service.
func NewKeyringStore[S secret.Secret](name, service string) (*KeyringStore[S], error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore[S]{
		name:    name,
		service: service,
	}, nil
}

// Name implements Store.
func (k *KeyringStore[S]) Name() string { return k.name }

// IsSecure implements Store. OS keyrings protect their entries.
func (k *KeyringStore[S]) IsSecure() bool { return true }

// Service returns the keyring service the entries are filed under.
func (k *KeyringStore[S]) Service() string { return k.service }

// Get returns the secret from the system keyring.
func (k *KeyringStore[S]) Get(ctx context.Context, key string) (S, bool, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	data, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("%s: reading %q: %w", k.name, key, err)
	}

	s, err := secret.Decode[S](data)
	if err != nil {
		return zero, false, fmt.Errorf("%s: entry %q: %w", k.name, key, err)
	}
	return s, true, nil
}

// Add persists the secret to the system keyring, overwriting any existing value.
func (k *KeyringStore[S]) Add(ctx context.Context, key string, s S) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := secret.Encode(s)
	if err != nil {
		return err
	}

	if err := keyring.Set(k.service, key, data); err != nil {
		return fmt.Errorf("%s: writing %q: %w", k.name, key, err)
	}
	return nil
}

// Delete removes the secret from the system keyring.
func (k *KeyringStore[S]) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: deleting %q: %w", k.name, key, err)
	}
	return true, nil
}
