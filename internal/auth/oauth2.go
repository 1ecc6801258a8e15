package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// DeviceCodeHandler shows the user where to enter the device code.
// A returned error aborts the device flow.
type DeviceCodeHandler func(ctx context.Context, resp *oauth2.DeviceAuthResponse) error

// PrintDeviceCode writes the verification URI and user code to w.
func PrintDeviceCode(w io.Writer) DeviceCodeHandler {
	return func(_ context.Context, resp *oauth2.DeviceAuthResponse) error {
		if resp.VerificationURIComplete != "" {
			_, err := fmt.Fprintf(w, "To sign in, open %s\n", resp.VerificationURIComplete)
			return err
		}
		_, err := fmt.Fprintf(w, "To sign in, open %s and enter the code %s\n", resp.VerificationURI, resp.UserCode)
		return err
	}
}

// WithDeviceCodeHandler sets how the device flow's user code is shown.
// Defaults to PrintDeviceCode(os.Stderr).
func WithDeviceCodeHandler(h DeviceCodeHandler) Option {
	return func(s *settings) {
		s.deviceCodeHandler = h
	}
}

// WithJSONTokenRequests sends token endpoint requests as JSON instead of form data.
func WithJSONTokenRequests(enabled bool) Option {
	return func(s *settings) {
		s.jsonTokenRequests = enabled
	}
}

// WithGlobalURI sets the URI used by the operations that take no URI.
func WithGlobalURI(uri *url.URL) Option {
	return func(s *settings) {
		s.globalURI = uri
	}
}

// WithRefreshLeeway renews access tokens this long before they expire. Defaults to 10s.
func WithRefreshLeeway(d time.Duration) Option {
	return func(s *settings) {
		s.refreshLeeway = d
	}
}

// OAuth2Authenticator obtains token pairs through the OAuth2 device authorization
// grant and renews expired access tokens with their refresh token.
type OAuth2Authenticator struct {
	Unsupported
	*Base[*secret.TokenPair]

	config            *oauth2.Config
	httpClient        *http.Client
	deviceCodeHandler DeviceCodeHandler
	globalURI         *url.URL
	refreshLeeway     time.Duration
	now               func() time.Time
}

// Compile-time check to ensure OAuth2Authenticator implements Authenticator
var _ Authenticator = (*OAuth2Authenticator)(nil)

// NewOAuth2Authenticator creates an OAuth2Authenticator bound to store.
// config must name a client and a device authorization endpoint.
func NewOAuth2Authenticator(config *oauth2.Config, store secretstore.Store[*secret.TokenPair], opts ...Option) (*OAuth2Authenticator, error) {
	if config == nil {
		return nil, fmt.Errorf("missing oauth2 config")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}
	if config.Endpoint.DeviceAuthURL == "" || config.Endpoint.TokenURL == "" {
		return nil, fmt.Errorf("missing device authorization or token endpoint")
	}

	s := newSettings(opts)

	base, err := newBase(AuthTypeOAuth2, store, s)
	if err != nil {
		return nil, err
	}

	transport := s.baseTransport
	if s.jsonTokenRequests {
		transport = &jsonTokenTransport{base: transport}
	}

	handler := s.deviceCodeHandler
	if handler == nil {
		handler = PrintDeviceCode(os.Stderr)
	}

	return &OAuth2Authenticator{
		Base:   base,
		config: config,
		httpClient: &http.Client{
			Timeout:   s.httpTimeout,
			Transport: transport,
		},
		deviceCodeHandler: handler,
		globalURI:         s.globalURI,
		refreshLeeway:     s.refreshLeeway,
		now:               time.Now,
	}, nil
}

// GlobalURI returns the URI used by OAuth2TokenPair, or nil.
func (a *OAuth2Authenticator) GlobalURI() *url.URL { return a.globalURI }

// IsOAuth2TokenSupported implements Authenticator.
func (a *OAuth2Authenticator) IsOAuth2TokenSupported() bool { return true }

// OAuth2TokenPair returns the token pair of the global URI.
func (a *OAuth2Authenticator) OAuth2TokenPair(ctx context.Context, behavior retrieval.PromptBehavior) (*secret.TokenPair, bool, error) {
	if a.globalURI == nil {
		return nil, false, fmt.Errorf("%w: no global uri configured", retrieval.ErrPrecondition)
	}
	return a.OAuth2TokenPairFor(ctx, a.globalURI, behavior)
}

// OAuth2TokenPairFor returns the token pair for uri, running the device flow if behavior allows it.
func (a *OAuth2Authenticator) OAuth2TokenPairFor(ctx context.Context, uri *url.URL, behavior retrieval.PromptBehavior) (*secret.TokenPair, bool, error) {
	if uri == nil {
		return nil, false, fmt.Errorf("%w: uri cannot be nil", retrieval.ErrPrecondition)
	}

	return a.retrieve(ctx, uri, behavior, retrieval.Funcs[*secret.TokenPair]{
		ValidateFunc: a.validate,
		AcquireFunc:  a.acquire,
	})
}

// SignOut forgets the token pair of the global URI.
func (a *OAuth2Authenticator) SignOut(ctx context.Context) (bool, error) {
	if a.globalURI == nil {
		return false, nil
	}
	return a.SignOutURI(ctx, a.globalURI)
}

// oauthContext carries the authenticator's HTTP client into oauth2 calls.
func (a *OAuth2Authenticator) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// validate keeps unexpired pairs and renews expired ones. A pair that cannot be
// renewed is rejected.
func (a *OAuth2Authenticator) validate(ctx context.Context, cached *secret.TokenPair) (*secret.TokenPair, bool, error) {
	if !cached.Expired(a.now(), a.refreshLeeway) {
		return cached, true, nil
	}
	if cached.RefreshToken == "" {
		slog.DebugContext(ctx, "access token expired and cannot be refreshed")
		return nil, false, nil
	}

	slog.DebugContext(ctx, "refreshing expired access token")

	// An empty access token forces the token source to refresh.
	ts := a.config.TokenSource(a.oauthContext(ctx), &oauth2.Token{RefreshToken: cached.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return nil, false, fmt.Errorf("refreshing access token: %w", err)
	}

	pair := tokenPairFrom(tok)
	if pair.RefreshToken == "" {
		pair.RefreshToken = cached.RefreshToken
	}
	return pair, true, nil
}

// acquire runs the device authorization grant.
func (a *OAuth2Authenticator) acquire(ctx context.Context) (*secret.TokenPair, bool, error) {
	octx := a.oauthContext(ctx)

	resp, err := a.config.DeviceAuth(octx)
	if err != nil {
		return nil, false, fmt.Errorf("requesting device code: %w", err)
	}

	if err := a.deviceCodeHandler(ctx, resp); err != nil {
		return nil, false, fmt.Errorf("showing device code: %w", err)
	}

	slog.InfoContext(ctx, "waiting for device authorization", "verification_uri", resp.VerificationURI)

	tok, err := a.config.DeviceAccessToken(octx, resp)
	if err != nil {
		return nil, false, fmt.Errorf("waiting for device authorization: %w", err)
	}

	pair := tokenPairFrom(tok)
	if pair.AccessToken == "" {
		return nil, false, nil
	}
	return pair, true, nil
}

func tokenPairFrom(tok *oauth2.Token) *secret.TokenPair {
	pair := &secret.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		pair.Scope = scope
	}
	return pair
}

// oauth2Token converts a pair to the oauth2 representation.
func oauth2Token(pair *secret.TokenPair) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: pair.RefreshToken,
		Expiry:       pair.Expiry,
	}
}
