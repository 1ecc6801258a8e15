// Package retrieval implements the protocol that turns a cache key into a usable secret.
//
// A call reads the cached secret, lets a validator accept, refresh or reject it, and,
// depending on the PromptBehavior, acquires a fresh secret and writes it back:
//
//	Never:  cache → validate → return (never acquires)
//	Auto:   cache → validate → acquire only if nothing usable was cached
//	Always: acquire unconditionally, cache is not consulted
//
// Every store access that reads and may then write happens inside the store's critical
// section (see secretstore.Lock). Validation and acquisition run outside of it because
// they may block on the network or the user.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// ErrPrecondition marks a call that is structurally invalid (missing collaborator,
// unknown behavior). It indicates a programming error in the caller.
var ErrPrecondition = errors.New("retrieval precondition violated")

// PromptBehavior governs whether a secret may be acquired and whether the cache is trusted.
type PromptBehavior int

const (
	// Auto acquires only when no usable secret is cached.
	Auto PromptBehavior = iota + 1
	// Always acquires on every call, ignoring the cache.
	Always
	// Never returns whatever the cache holds and never acquires.
	Never
)

// String implements fmt.Stringer.
func (b PromptBehavior) String() string {
	switch b {
	case Auto:
		return "auto"
	case Always:
		return "always"
	case Never:
		return "never"
	default:
		return fmt.Sprintf("PromptBehavior(%d)", int(b))
	}
}

// Valid reports whether b is one of the defined behaviors.
func (b PromptBehavior) Valid() bool {
	return b == Auto || b == Always || b == Never
}

// ParsePromptBehavior converts "auto", "always" or "never" (case-insensitive).
func ParsePromptBehavior(s string) (PromptBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return Auto, nil
	case "always":
		return Always, nil
	case "never":
		return Never, nil
	default:
		return 0, fmt.Errorf("unknown prompt behavior: %q", s)
	}
}

// Hooks supplies the authenticator-specific parts of the protocol.
type Hooks[S secret.Secret] interface {
	// Validate checks a cached secret. It returns the secret to use (possibly a refreshed
	// one) and whether the cached secret is acceptable at all. An error counts as rejection.
	Validate(ctx context.Context, cached S) (S, bool, error)

	// Acquire obtains a new secret, e.g. by prompting the user or running a device flow.
	// ok is false when no secret could be obtained.
	Acquire(ctx context.Context) (S, bool, error)
}

// Outcome classifies how a Retrieve call ended.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeEvicted   Outcome = "evicted"
	OutcomeAcquired  Outcome = "acquired"
	OutcomeAbsent    Outcome = "absent"
)

// Observer is notified once per completed Retrieve call.
type Observer interface {
	ObserveRetrieval(ctx context.Context, kind secret.Kind, behavior PromptBehavior, outcome Outcome)
}

// Option configures a Retrieve call.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver reports the outcome of the call to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

var tracer = otel.Tracer("github.com/florianilch/credkeep/internal/retrieval")

// Retrieve runs the retrieval protocol for key against store.
//
// ok is false when no secret is available; that is an expected outcome, not an error.
// Errors are returned for precondition violations (wrapping ErrPrecondition), store
// failures and acquisition failures.
func Retrieve[S secret.Secret](
	ctx context.Context,
	key string,
	store secretstore.Store[S],
	behavior PromptBehavior,
	hooks Hooks[S],
	opts ...Option,
) (S, bool, error) {
	var zero S

	if secretstore.IsNil(store) {
		return zero, false, fmt.Errorf("%w: store cannot be nil", ErrPrecondition)
	}
	if hooks == nil {
		return zero, false, fmt.Errorf("%w: hooks cannot be nil", ErrPrecondition)
	}
	if !behavior.Valid() {
		return zero, false, fmt.Errorf("%w: invalid prompt behavior %s", ErrPrecondition, behavior)
	}
	if key == "" {
		return zero, false, fmt.Errorf("%w: key cannot be empty", ErrPrecondition)
	}

	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("credkeep.prompt_behavior", behavior.String()),
		attribute.String("credkeep.store", store.Name()),
	))
	defer span.End()

	slog.DebugContext(ctx, "retrieving secret", "key", key, "prompt_behavior", behavior)

	result, outcome, err := run(ctx, key, store, behavior, hooks)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, false, err
	}

	span.SetAttributes(attribute.String("credkeep.outcome", string(outcome)))
	if cfg.observer != nil {
		cfg.observer.ObserveRetrieval(ctx, kindOf[S](), behavior, outcome)
	}

	if outcome == OutcomeAbsent || outcome == OutcomeEvicted {
		return zero, false, nil
	}
	return result, true, nil
}

// run is the state machine proper. The returned outcome determines whether result is set.
func run[S secret.Secret](
	ctx context.Context,
	key string,
	store secretstore.Store[S],
	behavior PromptBehavior,
	hooks Hooks[S],
) (S, Outcome, error) {
	var (
		candidate S
		outcome   = OutcomeAbsent
	)

	if behavior != Always {
		cached, found, err := read(ctx, key, store)
		if err != nil {
			return candidate, "", err
		}

		if found {
			candidate, outcome, err = validate(ctx, key, store, cached, hooks)
			if err != nil {
				return candidate, "", err
			}
		}
	}

	switch behavior {
	case Never:
		slog.DebugContext(ctx, "returning cached result without prompting", "key", key, "outcome", outcome)
		return candidate, outcome, nil
	case Auto:
		if outcome != OutcomeAbsent && outcome != OutcomeEvicted {
			return candidate, outcome, nil
		}
	}

	return acquire(ctx, key, store, hooks)
}

// read fetches the cached secret inside the store's critical section.
func read[S secret.Secret](ctx context.Context, key string, store secretstore.Store[S]) (S, bool, error) {
	unlock := secretstore.Lock(store)
	defer unlock()

	s, ok, err := store.Get(ctx, key)
	if err != nil {
		return s, false, fmt.Errorf("reading %q from %s store: %w", key, store.Name(), err)
	}
	return s, ok, nil
}

// validate applies the validator to a cached secret and reconciles the store with its verdict.
func validate[S secret.Secret](
	ctx context.Context,
	key string,
	store secretstore.Store[S],
	cached S,
	hooks Hooks[S],
) (S, Outcome, error) {
	var zero S

	validated, accepted, err := hooks.Validate(ctx, cached)
	if err != nil {
		slog.DebugContext(ctx, "validation failed, treating cached secret as invalid", "key", key, "error", err)
		accepted = false
	}

	if !accepted {
		slog.DebugContext(ctx, "evicting invalid secret", "key", key)
		unlock := secretstore.Lock(store)
		defer unlock()
		if _, err := store.Delete(ctx, key); err != nil {
			return zero, "", fmt.Errorf("evicting %q from %s store: %w", key, store.Name(), err)
		}
		return zero, OutcomeEvicted, nil
	}

	// Accepting without supplying a secret keeps the cached one
	if secret.IsNil(validated) || cached.Equal(validated) {
		return cached, OutcomeCached, nil
	}

	// The validator produced a different secret, e.g. an access token renewed
	// through its refresh token.
	slog.DebugContext(ctx, "replacing refreshed secret", "key", key)
	if err := replace(ctx, key, store, validated); err != nil {
		return zero, "", err
	}
	return validated, OutcomeRefreshed, nil
}

// acquire obtains a fresh secret and persists it.
func acquire[S secret.Secret](
	ctx context.Context,
	key string,
	store secretstore.Store[S],
	hooks Hooks[S],
) (S, Outcome, error) {
	slog.DebugContext(ctx, "acquiring secret", "key", key)

	s, ok, err := hooks.Acquire(ctx)
	if err != nil {
		return s, "", fmt.Errorf("acquiring secret for %q: %w", key, err)
	}
	if !ok || secret.IsNil(s) {
		var zero S
		return zero, OutcomeAbsent, nil
	}

	if err := replace(ctx, key, store, s); err != nil {
		return s, "", err
	}
	return s, OutcomeAcquired, nil
}

// replace deletes any existing entry and adds s, inside the store's critical section.
func replace[S secret.Secret](ctx context.Context, key string, store secretstore.Store[S], s S) error {
	slog.DebugContext(ctx, "storing secret", "key", key, "store", store.Name())

	unlock := secretstore.Lock(store)
	defer unlock()

	if _, err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("replacing %q in %s store: %w", key, store.Name(), err)
	}
	if err := store.Add(ctx, key, s); err != nil {
		return fmt.Errorf("writing %q to %s store: %w", key, store.Name(), err)
	}
	return nil
}

// kindOf returns the kind of S. Kind never dereferences its receiver.
func kindOf[S secret.Secret]() secret.Kind {
	var zero S
	return zero.Kind()
}

// PassThrough is the default validator: every cached secret is accepted unchanged.
func PassThrough[S secret.Secret](_ context.Context, cached S) (S, bool, error) {
	return cached, true, nil
}

// Funcs adapts a pair of functions to Hooks. A nil ValidateFunc means PassThrough.
type Funcs[S secret.Secret] struct {
	ValidateFunc func(ctx context.Context, cached S) (S, bool, error)
	AcquireFunc  func(ctx context.Context) (S, bool, error)
}

// Compile-time check to ensure Funcs implements Hooks
var _ Hooks[*secret.Token] = Funcs[*secret.Token]{}

// Validate implements Hooks.
func (f Funcs[S]) Validate(ctx context.Context, cached S) (S, bool, error) {
	if f.ValidateFunc == nil {
		return PassThrough(ctx, cached)
	}
	return f.ValidateFunc(ctx, cached)
}

// Acquire implements Hooks. A nil AcquireFunc never yields a secret.
func (f Funcs[S]) Acquire(ctx context.Context) (S, bool, error) {
	if f.AcquireFunc == nil {
		var zero S
		return zero, false, nil
	}
	return f.AcquireFunc(ctx)
}
