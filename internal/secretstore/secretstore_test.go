package secretstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/florianilch/credkeep/internal/secret"
)

func init() {
	// Use mock keyring for all tests, no host keyring needed.
	keyring.MockInit()
}

// exerciseStore runs the common CRUD contract against a credential store.
func exerciseStore(t *testing.T, store Store[*secret.Credential]) {
	t.Helper()
	ctx := context.Background()
	key := "BasicAuth:https://example.com"

	_, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "empty store must report absence")

	want := &secret.Credential{Username: "alice", Password: "s3cret"}
	require.NoError(t, store.Add(ctx, key, want))

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, want.Equal(got))

	replacement := &secret.Credential{Username: "alice", Password: "rotated"}
	require.NoError(t, store.Add(ctx, key, replacement))
	got, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, replacement.Equal(got), "add must overwrite")

	deleted, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	deleted, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, deleted, "deleting a missing key reports false")
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore[*secret.Credential](filepath.Join(t.TempDir(), "nested", "credentials.json"))
	require.NoError(t, err)

	assert.False(t, store.IsSecure())
	assert.Equal(t, "file", store.Name())
	exerciseStore(t, store)
}

func TestFileStore_EmptyPath(t *testing.T) {
	_, err := NewFileStore[*secret.Token]("")
	assert.Error(t, err)
}

func TestFileStore_PersistenceAndPermissions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")

	s1, err := NewFileStore[*secret.Token](path)
	require.NoError(t, err)
	require.NoError(t, s1.Add(ctx, "PersonalAccessToken:https://example.com", &secret.Token{Value: "pat", Type: secret.TokenTypePersonal}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(fileMode), info.Mode().Perm())

	// A new instance sees the same data
	s2, err := NewFileStore[*secret.Token](path)
	require.NoError(t, err)
	got, ok, err := s2.Get(ctx, "PersonalAccessToken:https://example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pat", got.Value)
	assert.Equal(t, secret.TokenTypePersonal, got.Type)

	// Loosened permissions are refused
	require.NoError(t, os.Chmod(path, 0644))
	_, _, err = s2.Get(ctx, "PersonalAccessToken:https://example.com")
	assert.ErrorContains(t, err, "insecure permissions")
}

func TestFileStore_CanceledContext(t *testing.T) {
	store, err := NewFileStore[*secret.Token](filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Add(ctx, "k", &secret.Token{Value: "v"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyringStore(t *testing.T) {
	store, err := NewKeyringStore[*secret.Credential]("secret-service", "credkeep-test.credential")
	require.NoError(t, err)

	assert.True(t, store.IsSecure())
	assert.Equal(t, "secret-service", store.Name())
	exerciseStore(t, store)
}

func TestKeyringStore_Validation(t *testing.T) {
	_, err := NewKeyringStore[*secret.Token]("", "svc")
	assert.Error(t, err)

	_, err = NewKeyringStore[*secret.Token]("macos-keychain", "")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore[*secret.Credential]()

	assert.False(t, store.IsSecure())
	assert.Equal(t, "memory", store.Name())
	exerciseStore(t, store)
	assert.Equal(t, 0, store.Len())
}

func TestIsNil(t *testing.T) {
	var (
		memory *MemoryStore[*secret.Token]
		file   *FileStore[*secret.Token]
		kr     *KeyringStore[*secret.Token]
	)

	assert.True(t, IsNil[*secret.Token](nil))
	assert.True(t, IsNil[*secret.Token](memory))
	assert.True(t, IsNil[*secret.Token](file))
	assert.True(t, IsNil[*secret.Token](kr))

	assert.False(t, IsNil[*secret.Token](NewMemoryStore[*secret.Token]()))
	fs, err := NewFileStore[*secret.Token](filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	assert.False(t, IsNil[*secret.Token](fs))
}

func TestLock_SerializesPerStore(t *testing.T) {
	store := NewMemoryStore[*secret.Token]()
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, "counter", &secret.Token{Value: "0"}))

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := Lock(store)
			defer unlock()
			// Read-modify-write that would race without the critical section
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLock_DistinctStores(t *testing.T) {
	a := NewMemoryStore[*secret.Token]()
	b := NewMemoryStore[*secret.Token]()

	unlockA := Lock(a)
	defer unlockA()

	// Must not block while a is held
	done := make(chan struct{})
	go func() {
		unlock := Lock(b)
		unlock()
		close(done)
	}()
	<-done
}
