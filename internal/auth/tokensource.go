package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/florianilch/credkeep/internal/retrieval"
)

// ErrNoToken is returned by TokenSource when no token pair is available under
// its prompt behavior.
var ErrNoToken = errors.New("no oauth2 token available")

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*TokenSource)

// WithPromptBehavior sets the behavior used when the cached token is no longer valid.
// Defaults to retrieval.Auto.
func WithPromptBehavior(b retrieval.PromptBehavior) TokenSourceOption {
	return func(ts *TokenSource) {
		ts.behavior = b
	}
}

// TokenSource exposes an OAuth2Authenticator as an oauth2.TokenSource for one URI.
// The last token is reused until it expires; only then is the authenticator asked
// again, which refreshes or re-acquires it and keeps the store current. Tokens
// without an expiry are not kept, so a sign-out takes effect on the next call.
type TokenSource struct {
	auth     *OAuth2Authenticator
	uri      *url.URL
	behavior retrieval.PromptBehavior

	last    atomic.Pointer[oauth2.Token]
	fetchMu sync.Mutex
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource. No I/O is performed until the first Token call.
func NewTokenSource(auth *OAuth2Authenticator, uri *url.URL, opts ...TokenSourceOption) (*TokenSource, error) {
	if auth == nil {
		return nil, fmt.Errorf("missing oauth2 authenticator")
	}
	if uri == nil {
		return nil, fmt.Errorf("missing uri")
	}

	ts := &TokenSource{
		auth:     auth,
		uri:      uri,
		behavior: retrieval.Auto,
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, nil
}

// Token returns a valid token.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	// Hot path: lock-free read of the last token
	if tok := ts.last.Load(); tok.Valid() {
		return tok, nil
	}

	ts.fetchMu.Lock()
	defer ts.fetchMu.Unlock()

	if tok := ts.last.Load(); tok.Valid() {
		return tok, nil
	}

	// oauth2.TokenSource.Token has no context parameter
	ctx := context.Background()

	pair, ok, err := ts.auth.OAuth2TokenPairFor(ctx, ts.uri, ts.behavior)
	if err != nil {
		return nil, fmt.Errorf("getting token pair: %w", err)
	}
	if !ok {
		return nil, ErrNoToken
	}

	tok := oauth2Token(pair)
	if !tok.Expiry.IsZero() {
		ts.last.Store(tok)
	}
	return tok, nil
}
