package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// Platform store names, as reported by Store.Name.
const (
	StoreMacOSKeychain            = "macos-keychain"
	StoreWindowsCredentialManager = "windows-credential-manager"
	StoreSecretService            = "secret-service"
)

// File names of the insecure fallback stores inside Options.FileDir.
const (
	TokensFile      = "tokens.json"
	TokenPairsFile  = "token-pairs.json"
	CredentialsFile = "credentials.json"
)

// Options controls platform detection.
type Options struct {
	// GOOS selects the platform store. Defaults to runtime.GOOS.
	GOOS string

	// KeyringService is the prefix of the keyring service names; the kind is appended.
	KeyringService string

	// FileDir holds the insecure file stores.
	FileDir string

	// SecretServiceAvailable reports whether a Secret Service daemon can be reached on
	// linux. Defaults to SessionBusAvailable.
	SecretServiceAvailable func() bool

	// Ephemeral drops every candidate, so only non-persistent stores can be selected.
	Ephemeral bool
}

// SessionBusAvailable is a best-effort check for a desktop session on linux, which
// is where gnome-keyring or KWallet provide the Secret Service.
func SessionBusAvailable() bool {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" {
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

// platformStoreName returns the name of the OS store for goos, or "" if there is none.
func platformStoreName(opts Options) string {
	switch opts.GOOS {
	case "darwin":
		return StoreMacOSKeychain
	case "windows":
		return StoreWindowsCredentialManager
	case "linux":
		if opts.SecretServiceAvailable() {
			return StoreSecretService
		}
	}
	return ""
}

// Detect builds the candidate lists for every secret kind: the current platform's
// keyring first (if any), then a file store.
func Detect(opts Options) (*Provider, error) {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.SecretServiceAvailable == nil {
		opts.SecretServiceAvailable = SessionBusAvailable
	}
	if !opts.Ephemeral {
		if opts.KeyringService == "" {
			return nil, fmt.Errorf("missing keyring service")
		}
		if opts.FileDir == "" {
			return nil, fmt.Errorf("missing file store directory")
		}
	}

	tokens, err := detectKind[*secret.Token](opts, TokensFile)
	if err != nil {
		return nil, err
	}
	pairs, err := detectKind[*secret.TokenPair](opts, TokenPairsFile)
	if err != nil {
		return nil, err
	}
	credentials, err := detectKind[*secret.Credential](opts, CredentialsFile)
	if err != nil {
		return nil, err
	}

	return NewProvider(tokens, pairs, credentials)
}

func detectKind[S secret.Secret](opts Options, fileName string) (*Candidates[S], error) {
	if opts.Ephemeral {
		return NewCandidates[S](MemoryFactory[S]{})
	}

	var (
		zero   S
		stores []secretstore.Store[S]
	)

	if name := platformStoreName(opts); name != "" {
		ks, err := secretstore.NewKeyringStore[S](name, opts.KeyringService+"."+string(zero.Kind()))
		if err != nil {
			return nil, fmt.Errorf("creating %s store: %w", name, err)
		}
		stores = append(stores, ks)
	}

	fs, err := secretstore.NewFileStore[S](filepath.Join(opts.FileDir, fileName))
	if err != nil {
		return nil, fmt.Errorf("creating file store: %w", err)
	}
	stores = append(stores, fs)

	return NewCandidates(MemoryFactory[S]{}, stores...)
}
