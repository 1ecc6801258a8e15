// Package secret defines the credential artifacts managed by credkeep.
//
// Three kinds of secrets exist:
//   - Token: an opaque string with a type tag (e.g. a personal access token)
//   - TokenPair: an OAuth2 access token plus its refresh token
//   - Credential: a username and password
//
// Equality is explicit and minimal: only the fields that matter for reuse are compared.
// The retrieval protocol relies on it to decide whether a validated secret must overwrite
// the cached one.
package secret

import (
	"fmt"
	"log/slog"
	"time"
)

// Kind identifies the variant of a Secret.
type Kind string

const (
	KindToken      Kind = "token"
	KindTokenPair  Kind = "token_pair"
	KindCredential Kind = "credential"
)

// Secret is any storable credential artifact.
type Secret interface {
	// Kind returns the variant of the secret.
	Kind() Kind
	// Equal reports whether two secrets are interchangeable for reuse.
	Equal(other Secret) bool
}

// TokenType tags the purpose of a Token.
type TokenType string

const (
	TokenTypeUnknown   TokenType = "unknown"
	TokenTypeAccess    TokenType = "access"
	TokenTypeRefresh   TokenType = "refresh"
	TokenTypePersonal  TokenType = "personal"
	TokenTypeFederated TokenType = "federated"
	TokenTypeTest      TokenType = "test"
)

// ParseTokenType converts a string into a TokenType.
func ParseTokenType(s string) (TokenType, error) {
	switch t := TokenType(s); t {
	case TokenTypeUnknown, TokenTypeAccess, TokenTypeRefresh, TokenTypePersonal, TokenTypeFederated, TokenTypeTest:
		return t, nil
	default:
		return "", fmt.Errorf("unknown token type: %q", s)
	}
}

// Token is an opaque token value with a type tag.
type Token struct {
	Value string    `json:"value"`
	Type  TokenType `json:"type"`
}

// Compile-time checks to ensure all variants implement Secret and slog.LogValuer
var (
	_ Secret         = (*Token)(nil)
	_ Secret         = (*TokenPair)(nil)
	_ Secret         = (*Credential)(nil)
	_ slog.LogValuer = (*Token)(nil)
	_ slog.LogValuer = (*TokenPair)(nil)
	_ slog.LogValuer = (*Credential)(nil)
)

// NewToken creates a Token. Returns error if the value is empty.
func NewToken(value string, tokenType TokenType) (*Token, error) {
	if value == "" {
		return nil, fmt.Errorf("token value cannot be empty")
	}
	if tokenType == "" {
		tokenType = TokenTypeUnknown
	}
	return &Token{Value: value, Type: tokenType}, nil
}

// Kind implements Secret.
func (t *Token) Kind() Kind { return KindToken }

// Equal compares value and type.
func (t *Token) Equal(other Secret) bool {
	o, ok := other.(*Token)
	if !ok || t == nil || o == nil {
		return ok && t == nil && o == nil
	}
	return t.Value == o.Value && t.Type == o.Type
}

// LogValue keeps the token value out of logs.
func (t *Token) LogValue() slog.Value {
	if t == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("type", string(t.Type)),
		slog.String("value", redacted),
	)
}

// TokenPair is an OAuth2 access token with the refresh token that renews it.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scope        string    `json:"scope,omitempty"`
}

// NewTokenPair creates a TokenPair. Returns error if the access token is empty.
func NewTokenPair(accessToken, refreshToken string) (*TokenPair, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Kind implements Secret.
func (p *TokenPair) Kind() Kind { return KindTokenPair }

// Equal compares the tokens and the expiry. Scope is ignored.
// A refresh that only extends the expiry still counts as a change.
func (p *TokenPair) Equal(other Secret) bool {
	o, ok := other.(*TokenPair)
	if !ok || p == nil || o == nil {
		return ok && p == nil && o == nil
	}
	return p.AccessToken == o.AccessToken &&
		p.RefreshToken == o.RefreshToken &&
		p.Expiry.Equal(o.Expiry)
}

// Expired reports whether the access token expires within leeway.
// A pair without expiry never expires.
func (p *TokenPair) Expired(now time.Time, leeway time.Duration) bool {
	if p.Expiry.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(p.Expiry)
}

// LogValue keeps both tokens out of logs.
func (p *TokenPair) LogValue() slog.Value {
	if p == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("access_token", redacted),
		slog.Bool("refreshable", p.RefreshToken != ""),
		slog.Time("expiry", p.Expiry),
	)
}

// Credential is a username and password (or password-equivalent secret).
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewCredential creates a Credential. Returns error if the username is empty.
func NewCredential(username, password string) (*Credential, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	return &Credential{Username: username, Password: password}, nil
}

// Kind implements Secret.
func (c *Credential) Kind() Kind { return KindCredential }

// Equal compares username and password.
func (c *Credential) Equal(other Secret) bool {
	o, ok := other.(*Credential)
	if !ok || c == nil || o == nil {
		return ok && c == nil && o == nil
	}
	return c.Username == o.Username && c.Password == o.Password
}

// LogValue keeps the password out of logs.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.String("password", redacted),
	)
}

const redacted = "[REDACTED]"
