package storage

import (
	"context"
	"fmt"

	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

// Provider bundles the candidate lists of all secret kinds.
type Provider struct {
	tokens      *Candidates[*secret.Token]
	tokenPairs  *Candidates[*secret.TokenPair]
	credentials *Candidates[*secret.Credential]
}

// NewProvider creates a Provider from one candidate list per kind.
func NewProvider(
	tokens *Candidates[*secret.Token],
	tokenPairs *Candidates[*secret.TokenPair],
	credentials *Candidates[*secret.Credential],
) (*Provider, error) {
	if tokens == nil || tokenPairs == nil || credentials == nil {
		return nil, fmt.Errorf("%w: missing candidate list", ErrPrecondition)
	}

	return &Provider{
		tokens:      tokens,
		tokenPairs:  tokenPairs,
		credentials: credentials,
	}, nil
}

// TokenStore selects a store for tokens.
func (p *Provider) TokenStore(ctx context.Context, persist bool, opt SecureOption) (secretstore.Store[*secret.Token], bool, error) {
	return p.tokens.Select(ctx, persist, opt)
}

// TokenPairStore selects a store for OAuth2 token pairs.
func (p *Provider) TokenPairStore(ctx context.Context, persist bool, opt SecureOption) (secretstore.Store[*secret.TokenPair], bool, error) {
	return p.tokenPairs.Select(ctx, persist, opt)
}

// CredentialStore selects a store for username/password credentials.
func (p *Provider) CredentialStore(ctx context.Context, persist bool, opt SecureOption) (secretstore.Store[*secret.Credential], bool, error) {
	return p.credentials.Select(ctx, persist, opt)
}

// StoreInfo describes one candidate.
type StoreInfo struct {
	Kind     secret.Kind `json:"kind"`
	Priority int         `json:"priority"`
	Name     string      `json:"name"`
	Secure   bool        `json:"secure"`
	Location string      `json:"location,omitempty"`
}

// Describe lists every candidate of every kind in priority order.
func (p *Provider) Describe() []StoreInfo {
	var infos []StoreInfo
	infos = append(infos, describe(p.tokens)...)
	infos = append(infos, describe(p.tokenPairs)...)
	infos = append(infos, describe(p.credentials)...)
	return infos
}

func describe[S secret.Secret](c *Candidates[S]) []StoreInfo {
	var zero S
	infos := make([]StoreInfo, 0, len(c.stores))
	for i, s := range c.stores {
		info := StoreInfo{
			Kind:     zero.Kind(),
			Priority: i + 1,
			Name:     s.Name(),
			Secure:   s.IsSecure(),
		}
		switch v := s.(type) {
		case interface{ Path() string }:
			info.Location = v.Path()
		case interface{ Service() string }:
			info.Location = v.Service()
		}
		infos = append(infos, info)
	}
	return infos
}
