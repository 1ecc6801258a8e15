// Package auth provides authenticators: the facade applications use to obtain
// credentials, OAuth2 token pairs and personal access tokens for a target URI.
//
// Every authenticator is bound to one secret store at construction time and derives
// its cache keys through a keyconv.Conversion. Retrieval goes through the
// retrieval package, so cached secrets are reused, refreshed or re-acquired
// according to the caller's retrieval.PromptBehavior.
package auth

import (
	"context"
	"net/url"

	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
)

// Authentication types. They namespace cache keys.
const (
	AuthTypeBasic  = "BasicAuth"
	AuthTypeOAuth2 = "OAuth2"
	AuthTypePAT    = "PersonalAccessToken"
)

// PATOptions controls the issuance of personal access tokens.
type PATOptions struct {
	DisplayName string
	Scope       string
}

// Authenticator is the capability set shared by all authenticators. Operations an
// authenticator does not support report false / absent without an error.
type Authenticator interface {
	AuthType() string
	Key(uri *url.URL) (string, error)

	// SignOut forgets the authenticator's global secret, if it has one.
	SignOut(ctx context.Context) (bool, error)
	// SignOutURI forgets the secret cached for uri.
	SignOutURI(ctx context.Context, uri *url.URL) (bool, error)

	IsCredentialSupported() bool
	Credential(ctx context.Context, uri *url.URL, behavior retrieval.PromptBehavior) (*secret.Credential, bool, error)

	IsOAuth2TokenSupported() bool
	OAuth2TokenPair(ctx context.Context, behavior retrieval.PromptBehavior) (*secret.TokenPair, bool, error)
	OAuth2TokenPairFor(ctx context.Context, uri *url.URL, behavior retrieval.PromptBehavior) (*secret.TokenPair, bool, error)

	IsPersonalAccessTokenSupported() bool
	PersonalAccessToken(ctx context.Context, opts PATOptions, behavior retrieval.PromptBehavior) (*secret.Token, bool, error)
	PersonalAccessTokenFor(ctx context.Context, uri *url.URL, opts PATOptions, behavior retrieval.PromptBehavior) (*secret.Token, bool, error)
}

// Unsupported implements the optional capabilities of Authenticator as no-ops.
// Authenticators embed it and override what they support.
type Unsupported struct{}

func (Unsupported) SignOut(context.Context) (bool, error) { return false, nil }

func (Unsupported) IsCredentialSupported() bool { return false }

func (Unsupported) Credential(context.Context, *url.URL, retrieval.PromptBehavior) (*secret.Credential, bool, error) {
	return nil, false, nil
}

func (Unsupported) IsOAuth2TokenSupported() bool { return false }

func (Unsupported) OAuth2TokenPair(context.Context, retrieval.PromptBehavior) (*secret.TokenPair, bool, error) {
	return nil, false, nil
}

func (Unsupported) OAuth2TokenPairFor(context.Context, *url.URL, retrieval.PromptBehavior) (*secret.TokenPair, bool, error) {
	return nil, false, nil
}

func (Unsupported) IsPersonalAccessTokenSupported() bool { return false }

func (Unsupported) PersonalAccessToken(context.Context, PATOptions, retrieval.PromptBehavior) (*secret.Token, bool, error) {
	return nil, false, nil
}

func (Unsupported) PersonalAccessTokenFor(context.Context, *url.URL, PATOptions, retrieval.PromptBehavior) (*secret.Token, bool, error) {
	return nil, false, nil
}
