package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// WithPrompter sets how BasicAuthenticator asks for credentials.
// Defaults to a TerminalPrompter on stdin.
func WithPrompter(p Prompter) Option {
	return func(s *settings) {
		s.prompter = p
	}
}

// BasicAuthenticator caches username/password credentials per URI.
type BasicAuthenticator struct {
	Unsupported
	*Base[*secret.Credential]

	prompter Prompter
}

// Compile-time check to ensure BasicAuthenticator implements Authenticator
var _ Authenticator = (*BasicAuthenticator)(nil)

// NewBasicAuthenticator creates a BasicAuthenticator bound to store.
func NewBasicAuthenticator(store secretstore.Store[*secret.Credential], opts ...Option) (*BasicAuthenticator, error) {
	s := newSettings(opts)

	base, err := newBase(AuthTypeBasic, store, s)
	if err != nil {
		return nil, err
	}

	prompter := s.prompter
	if prompter == nil {
		prompter = NewTerminalPrompter()
	}

	return &BasicAuthenticator{
		Base:     base,
		prompter: prompter,
	}, nil
}

// IsCredentialSupported implements Authenticator.
func (a *BasicAuthenticator) IsCredentialSupported() bool { return true }

// Credential returns the credential for uri, prompting according to behavior.
func (a *BasicAuthenticator) Credential(ctx context.Context, uri *url.URL, behavior retrieval.PromptBehavior) (*secret.Credential, bool, error) {
	if uri == nil {
		return nil, false, fmt.Errorf("%w: uri cannot be nil", retrieval.ErrPrecondition)
	}

	return a.retrieve(ctx, uri, behavior, retrieval.Funcs[*secret.Credential]{
		AcquireFunc: func(ctx context.Context) (*secret.Credential, bool, error) {
			return a.prompter.PromptCredential(ctx, uri)
		},
	})
}
