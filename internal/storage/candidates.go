// Package storage selects the secret store an authenticator works against.
//
// For every secret kind there is an immutable, priority-ordered list of candidate
// stores built once at startup by Detect. Select walks that list for persistent
// requests and falls back to a NonPersistentFactory for ephemeral ones.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// ErrPrecondition marks a structurally invalid selection request.
var ErrPrecondition = errors.New("store selection precondition violated")

// SecureOption states how strictly a caller requires a secure store.
type SecureOption int

const (
	// Must accepts only stores that report IsSecure.
	Must SecureOption = iota + 1
	// Prefer picks a secure store when available and falls back to an insecure one.
	Prefer
)

// String implements fmt.Stringer.
func (o SecureOption) String() string {
	switch o {
	case Must:
		return "must"
	case Prefer:
		return "prefer"
	default:
		return fmt.Sprintf("SecureOption(%d)", int(o))
	}
}

// Valid reports whether o is one of the defined options.
func (o SecureOption) Valid() bool {
	return o == Must || o == Prefer
}

// ParseSecureOption converts "must" or "prefer" (case-insensitive).
func ParseSecureOption(s string) (SecureOption, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "must":
		return Must, nil
	case "prefer":
		return Prefer, nil
	default:
		return 0, fmt.Errorf("unknown secure option: %q", s)
	}
}

// NonPersistentFactory creates stores for requests that do not need persistence.
type NonPersistentFactory[S secret.Secret] interface {
	// SecureStore returns a secure non-persistent store, or false if the platform has none.
	SecureStore() (secretstore.Store[S], bool)
	// InsecureStore returns a fresh in-memory store.
	InsecureStore() secretstore.Store[S]
}

// MemoryFactory is the default NonPersistentFactory. It has no secure store
// and hands out a new MemoryStore per call.
type MemoryFactory[S secret.Secret] struct{}

// Compile-time check to ensure MemoryFactory implements NonPersistentFactory
var _ NonPersistentFactory[*secret.Token] = MemoryFactory[*secret.Token]{}

// SecureStore implements NonPersistentFactory.
func (MemoryFactory[S]) SecureStore() (secretstore.Store[S], bool) {
	return nil, false
}

// InsecureStore implements NonPersistentFactory.
func (MemoryFactory[S]) InsecureStore() secretstore.Store[S] {
	return secretstore.NewMemoryStore[S]()
}

// Candidates is the ordered candidate list for one secret kind.
type Candidates[S secret.Secret] struct {
	stores  []secretstore.Store[S]
	factory NonPersistentFactory[S]
}

// NewCandidates copies stores into a new candidate list. Order is priority order.
func NewCandidates[S secret.Secret](factory NonPersistentFactory[S], stores ...secretstore.Store[S]) (*Candidates[S], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: missing non-persistent store factory", ErrPrecondition)
	}
	for i, s := range stores {
		if secretstore.IsNil(s) {
			return nil, fmt.Errorf("%w: candidate %d is nil", ErrPrecondition, i)
		}
	}

	return &Candidates[S]{
		stores:  append([]secretstore.Store[S](nil), stores...),
		factory: factory,
	}, nil
}

// Stores returns a copy of the candidate list.
func (c *Candidates[S]) Stores() []secretstore.Store[S] {
	return append([]secretstore.Store[S](nil), c.stores...)
}

// Select returns the best store for the request, or false if no store meets it.
func (c *Candidates[S]) Select(ctx context.Context, persist bool, opt SecureOption) (secretstore.Store[S], bool, error) {
	if !opt.Valid() {
		return nil, false, fmt.Errorf("%w: invalid secure option %s", ErrPrecondition, opt)
	}

	var zero S
	slog.InfoContext(ctx, "selecting secret store",
		"kind", zero.Kind(),
		"persistent", persist,
		"secure", opt,
	)

	if !persist {
		return c.selectNonPersistent(ctx, opt)
	}

	for _, s := range c.stores {
		if s.IsSecure() {
			return s, true, nil
		}
	}

	if opt == Prefer && len(c.stores) > 0 {
		slog.WarnContext(ctx, "no secure store available, falling back to insecure store",
			"kind", zero.Kind(),
			"store", c.stores[0].Name(),
		)
		return c.stores[0], true, nil
	}

	return nil, false, nil
}

func (c *Candidates[S]) selectNonPersistent(ctx context.Context, opt SecureOption) (secretstore.Store[S], bool, error) {
	if s, ok := c.factory.SecureStore(); ok {
		return s, true, nil
	}

	var zero S
	slog.WarnContext(ctx, "no secure non-persistent store available", "kind", zero.Kind())

	if opt == Prefer {
		return c.factory.InsecureStore(), true, nil
	}
	return nil, false, nil
}
