package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// Issuer creates personal access tokens on behalf of an OAuth2-authenticated user.
type Issuer interface {
	Issue(ctx context.Context, pair *secret.TokenPair, target *url.URL, opts PATOptions) (*secret.Token, error)
}

// HTTPIssuer issues tokens by POSTing {displayName, scope} to URL with the access
// token as bearer and reading {token} from the response.
type HTTPIssuer struct {
	URL       string
	Transport http.RoundTripper
}

// Compile-time check to ensure HTTPIssuer implements Issuer
var _ Issuer = (*HTTPIssuer)(nil)

type issueRequest struct {
	DisplayName string `json:"displayName"`
	Scope       string `json:"scope,omitempty"`
}

type issueResponse struct {
	Token string `json:"token"`
}

// Issue implements Issuer.
func (i *HTTPIssuer) Issue(ctx context.Context, pair *secret.TokenPair, target *url.URL, opts PATOptions) (*secret.Token, error) {
	if i.URL == "" {
		return nil, fmt.Errorf("missing issue url")
	}

	body, err := json.Marshal(issueRequest{DisplayName: opts.DisplayName, Scope: opts.Scope})
	if err != nil {
		return nil, fmt.Errorf("marshaling issue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating issue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	transport := i.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	baseClient := &http.Client{Transport: transport}
	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, baseClient),
		oauth2.StaticTokenSource(oauth2Token(pair)),
	)

	slog.DebugContext(ctx, "issuing personal access token", "target", target.Redacted(), "display_name", opts.DisplayName)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("issuing personal access token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("issuing personal access token: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding issue response: %w", err)
	}

	return secret.NewToken(out.Token, secret.TokenTypePersonal)
}

// WithPATDefaults sets the display name and scope used when a caller leaves them empty.
func WithPATDefaults(opts PATOptions) Option {
	return func(s *settings) {
		s.patDefaults = opts
	}
}

// PATAuthenticator issues personal access tokens using token pairs from an
// OAuth2Authenticator. The token issued for the OAuth2 authenticator's global URI
// is the global token; AssignGlobalTo copies it to other URIs.
type PATAuthenticator struct {
	Unsupported
	*Base[*secret.Token]

	oauth    *OAuth2Authenticator
	issuer   Issuer
	defaults PATOptions
}

// Compile-time check to ensure PATAuthenticator implements Authenticator
var _ Authenticator = (*PATAuthenticator)(nil)

// NewPATAuthenticator creates a PATAuthenticator bound to store.
func NewPATAuthenticator(oauth *OAuth2Authenticator, issuer Issuer, store secretstore.Store[*secret.Token], opts ...Option) (*PATAuthenticator, error) {
	if oauth == nil {
		return nil, fmt.Errorf("missing oauth2 authenticator")
	}
	if issuer == nil {
		return nil, fmt.Errorf("missing token issuer")
	}

	s := newSettings(opts)

	base, err := newBase(AuthTypePAT, store, s)
	if err != nil {
		return nil, err
	}

	return &PATAuthenticator{
		Base:     base,
		oauth:    oauth,
		issuer:   issuer,
		defaults: s.patDefaults,
	}, nil
}

// IsPersonalAccessTokenSupported implements Authenticator.
func (a *PATAuthenticator) IsPersonalAccessTokenSupported() bool { return true }

// PersonalAccessToken returns the global personal access token.
func (a *PATAuthenticator) PersonalAccessToken(ctx context.Context, opts PATOptions, behavior retrieval.PromptBehavior) (*secret.Token, bool, error) {
	global := a.oauth.GlobalURI()
	if global == nil {
		return nil, false, fmt.Errorf("%w: no global uri configured", retrieval.ErrPrecondition)
	}
	return a.PersonalAccessTokenFor(ctx, global, opts, behavior)
}

// PersonalAccessTokenFor returns the personal access token for uri. Issuing a new
// token obtains a token pair from the OAuth2 authenticator with the same behavior.
func (a *PATAuthenticator) PersonalAccessTokenFor(ctx context.Context, uri *url.URL, opts PATOptions, behavior retrieval.PromptBehavior) (*secret.Token, bool, error) {
	if uri == nil {
		return nil, false, fmt.Errorf("%w: uri cannot be nil", retrieval.ErrPrecondition)
	}

	opts = a.withDefaults(opts)

	return a.retrieve(ctx, uri, behavior, retrieval.Funcs[*secret.Token]{
		AcquireFunc: func(ctx context.Context) (*secret.Token, bool, error) {
			pair, ok, err := a.oauth.OAuth2TokenPairFor(ctx, uri, behavior)
			if err != nil || !ok {
				return nil, false, err
			}

			tok, err := a.issuer.Issue(ctx, pair, uri, opts)
			if err != nil {
				return nil, false, err
			}
			return tok, true, nil
		},
	})
}

// SignOut forgets the global personal access token.
func (a *PATAuthenticator) SignOut(ctx context.Context) (bool, error) {
	global := a.oauth.GlobalURI()
	if global == nil {
		return false, nil
	}
	return a.SignOutURI(ctx, global)
}

// AssignGlobalTo stores the global personal access token under uri as well, so that
// later lookups for uri do not issue a new one. It reports false if there is no
// global token.
func (a *PATAuthenticator) AssignGlobalTo(ctx context.Context, uri *url.URL) (bool, error) {
	global := a.oauth.GlobalURI()
	if global == nil {
		return false, fmt.Errorf("%w: no global uri configured", retrieval.ErrPrecondition)
	}

	globalKey, err := a.Key(global)
	if err != nil {
		return false, err
	}
	key, err := a.Key(uri)
	if err != nil {
		return false, err
	}

	store := a.Store()
	unlock := secretstore.Lock(store)
	defer unlock()

	tok, ok, err := store.Get(ctx, globalKey)
	if err != nil || !ok {
		return false, err
	}

	if _, err := store.Delete(ctx, key); err != nil {
		return false, err
	}
	if err := store.Add(ctx, key, tok); err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "assigned global personal access token", "key", key)
	return true, nil
}

func (a *PATAuthenticator) withDefaults(opts PATOptions) PATOptions {
	if opts.DisplayName == "" {
		opts.DisplayName = a.defaults.DisplayName
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "credkeep-" + uuid.NewString()
	}
	if opts.Scope == "" {
		opts.Scope = a.defaults.Scope
	}
	return opts
}
