package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// Option configures an authenticator. Options that do not apply to an
// authenticator are ignored by it.
type Option func(*settings)

type settings struct {
	conversion        keyconv.Conversion
	observer          retrieval.Observer
	baseTransport     http.RoundTripper
	jsonTokenRequests bool
	deviceCodeHandler DeviceCodeHandler
	globalURI         *url.URL
	prompter          Prompter
	patDefaults       PATOptions
	refreshLeeway     time.Duration
	httpTimeout       time.Duration
}

func newSettings(opts []Option) *settings {
	s := &settings{
		conversion:    keyconv.Default,
		baseTransport: http.DefaultTransport,
		refreshLeeway: 10 * time.Second,
		httpTimeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithConversion sets the cache key conversion. Defaults to keyconv.Default.
func WithConversion(c keyconv.Conversion) Option {
	return func(s *settings) {
		if c != nil {
			s.conversion = c
		}
	}
}

// WithObserver reports every retrieval outcome to o.
func WithObserver(o retrieval.Observer) Option {
	return func(s *settings) {
		s.observer = o
	}
}

// WithTransport sets the base transport for outgoing HTTP requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(s *settings) {
		s.baseTransport = transport
	}
}

// Base holds what every authenticator shares: its auth type, the key conversion
// and the store it is bound to.
type Base[S secret.Secret] struct {
	authType   string
	conversion keyconv.Conversion
	store      secretstore.Store[S]
	observer   retrieval.Observer
}

// NewBase creates a Base for authType bound to store.
func NewBase[S secret.Secret](authType string, store secretstore.Store[S], opts ...Option) (*Base[S], error) {
	return newBase(authType, store, newSettings(opts))
}

func newBase[S secret.Secret](authType string, store secretstore.Store[S], s *settings) (*Base[S], error) {
	if authType == "" {
		return nil, fmt.Errorf("auth type cannot be empty")
	}
	if secretstore.IsNil(store) {
		return nil, fmt.Errorf("missing secret store")
	}

	return &Base[S]{
		authType:   authType,
		conversion: s.conversion,
		store:      store,
		observer:   s.observer,
	}, nil
}

// AuthType returns the authentication type that namespaces this authenticator's keys.
func (b *Base[S]) AuthType() string { return b.authType }

// Store returns the store the authenticator is bound to.
func (b *Base[S]) Store() secretstore.Store[S] { return b.store }

// Key derives the cache key for uri.
func (b *Base[S]) Key(uri *url.URL) (string, error) {
	if uri == nil {
		return "", fmt.Errorf("%w: uri cannot be nil", retrieval.ErrPrecondition)
	}
	return b.conversion.Convert(uri, b.authType)
}

// SignOutURI deletes the secret cached for uri.
func (b *Base[S]) SignOutURI(ctx context.Context, uri *url.URL) (bool, error) {
	key, err := b.Key(uri)
	if err != nil {
		return false, err
	}

	slog.DebugContext(ctx, "signing out", "key", key, "store", b.store.Name())

	unlock := secretstore.Lock(b.store)
	defer unlock()

	return b.store.Delete(ctx, key)
}

// retrieve runs the retrieval protocol for uri against the bound store.
func (b *Base[S]) retrieve(ctx context.Context, uri *url.URL, behavior retrieval.PromptBehavior, hooks retrieval.Hooks[S]) (S, bool, error) {
	key, err := b.Key(uri)
	if err != nil {
		var zero S
		return zero, false, err
	}

	var opts []retrieval.Option
	if b.observer != nil {
		opts = append(opts, retrieval.WithObserver(b.observer))
	}
	return retrieval.Retrieve(ctx, key, b.store, behavior, hooks, opts...)
}
