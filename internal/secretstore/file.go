package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/florianilch/credkeep/internal/secret"
)

// fileMode is the only permission accepted on store files.
const fileMode = 0600

// FileStore keeps secrets of one kind in a JSON file (key → encoded secret).
// Writes use temp file + rename for crash safety. Contents are plaintext, so the
// store reports itself as insecure.
type FileStore[S secret.Secret] struct {
	filePath string
	mu       sync.Mutex
}

// Compile-time check to ensure FileStore implements Store
var _ Store[*secret.Token] = (*FileStore[*secret.Token])(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore[S secret.Secret](filePath string) (*FileStore[S], error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore[S]{
		filePath: filePath,
	}, nil
}

// Name implements Store.
func (f *FileStore[S]) Name() string { return "file" }

// IsSecure implements Store. Plaintext files are never secure.
func (f *FileStore[S]) IsSecure() bool { return false }

// Path returns the backing file.
func (f *FileStore[S]) Path() string { return f.filePath }

// Get returns the secret stored under key.
func (f *FileStore[S]) Get(ctx context.Context, key string) (S, bool, error) {
	var zero S
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return zero, false, err
	}

	raw, ok := entries[key]
	if !ok {
		return zero, false, nil
	}

	s, err := secret.Decode[S](string(raw))
	if err != nil {
		return zero, false, fmt.Errorf("entry %q in %s: %w", key, f.filePath, err)
	}
	return s, true, nil
}

// Add stores the secret under key and rewrites the file.
func (f *FileStore[S]) Add(ctx context.Context, key string, s S) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	encoded, err := secret.Encode(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	entries[key] = json.RawMessage(encoded)

	return f.save(ctx, entries)
}

// Delete removes the secret stored under key. The file is only rewritten if the key existed.
func (f *FileStore[S]) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return false, err
	}
	if _, ok := entries[key]; !ok {
		return false, nil
	}
	delete(entries, key)

	if err := f.save(ctx, entries); err != nil {
		return false, err
	}
	return true, nil
}

// load reads all entries. A missing file is an empty store. Returns error if the file
// has insecure permissions or cannot be parsed.
// Caller must hold f.mu.
func (f *FileStore[S]) load() (map[string]json.RawMessage, error) {
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != fileMode {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected %04o)", f.filePath, info.Mode().Perm(), fileMode)
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]json.RawMessage)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.filePath, err)
	}
	return entries, nil
}

// save atomically writes all entries using temp file + rename.
// Caller must hold f.mu.
func (f *FileStore[S]) save(ctx context.Context, entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	// Set secure file permissions (0600 = rw-------)
	return os.Chmod(f.filePath, fileMode)
}
