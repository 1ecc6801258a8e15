package broker

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/florianilch/credkeep/internal/auth"
	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
)

const errNoSecret = "no secret available"

// CredentialResponse is returned by GET /v1/credentials.
type CredentialResponse struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by GET /v1/tokens/pat.
type TokenResponse struct {
	Token string `json:"token"`
	Type  string `json:"type"`
}

// OAuth2TokenResponse is returned by GET /v1/tokens/oauth2.
type OAuth2TokenResponse struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry,omitzero"`
}

// SignOutResponse is returned by DELETE /v1/sessions.
type SignOutResponse struct {
	SignedOut bool `json:"signed_out"`
}

// request holds the parsed query parameters shared by the secret routes.
type request struct {
	uri      *url.URL
	behavior retrieval.PromptBehavior
}

// parseRequest reads uri and prompt. It writes the error response itself and
// reports false when the request must not proceed.
func (b *Broker) parseRequest(w http.ResponseWriter, r *http.Request, requireURI bool) (request, bool) {
	ctx := r.Context()
	q := r.URL.Query()

	var req request

	if raw := q.Get("uri"); raw != "" {
		uri, err := keyconv.Parse(raw)
		if err != nil {
			writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
			return req, false
		}
		req.uri = uri
	} else if requireURI {
		writeJSONError(ctx, w, "missing uri parameter", http.StatusBadRequest)
		return req, false
	}

	req.behavior = retrieval.Never
	if raw := q.Get("prompt"); raw != "" {
		behavior, err := retrieval.ParsePromptBehavior(raw)
		if err != nil {
			writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
			return req, false
		}
		req.behavior = behavior
	}

	if req.behavior != retrieval.Never && !b.allowPrompt {
		writeJSONError(ctx, w, "prompting is disabled", http.StatusForbidden)
		return req, false
	}

	return req, true
}

// find returns the first authenticator for which supported is true.
func (b *Broker) find(supported func(auth.Authenticator) bool) auth.Authenticator {
	for _, a := range b.authenticators {
		if supported(a) {
			return a
		}
	}
	return nil
}

// writeRetrievalError maps a retrieval failure to a response.
func writeRetrievalError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, retrieval.ErrPrecondition) {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.ErrorContext(ctx, "secret retrieval failed", "error", err)
	writeJSONError(ctx, w, "secret retrieval failed", http.StatusBadGateway)
}

func (b *Broker) handleCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := b.parseRequest(w, r, true)
	if !ok {
		return
	}

	a := b.find(auth.Authenticator.IsCredentialSupported)
	if a == nil {
		writeJSONError(ctx, w, "credentials are not supported", http.StatusNotImplemented)
		return
	}

	cred, ok, err := a.Credential(ctx, req.uri, req.behavior)
	if err != nil {
		writeRetrievalError(w, r, err)
		return
	}
	if !ok {
		writeJSONError(ctx, w, errNoSecret, http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, CredentialResponse{Username: cred.Username, Password: cred.Password}, http.StatusOK)
}

func (b *Broker) handlePersonalAccessToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := b.parseRequest(w, r, false)
	if !ok {
		return
	}

	a := b.find(auth.Authenticator.IsPersonalAccessTokenSupported)
	if a == nil {
		writeJSONError(ctx, w, "personal access tokens are not supported", http.StatusNotImplemented)
		return
	}

	opts := auth.PATOptions{
		DisplayName: r.URL.Query().Get("display_name"),
		Scope:       r.URL.Query().Get("scope"),
	}

	var (
		tok   *secret.Token
		found bool
		err   error
	)
	if req.uri == nil {
		tok, found, err = a.PersonalAccessToken(ctx, opts, req.behavior)
	} else {
		tok, found, err = a.PersonalAccessTokenFor(ctx, req.uri, opts, req.behavior)
	}
	if err != nil {
		writeRetrievalError(w, r, err)
		return
	}
	if !found {
		writeJSONError(ctx, w, errNoSecret, http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, TokenResponse{Token: tok.Value, Type: string(tok.Type)}, http.StatusOK)
}

func (b *Broker) handleOAuth2Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := b.parseRequest(w, r, false)
	if !ok {
		return
	}

	a := b.find(auth.Authenticator.IsOAuth2TokenSupported)
	if a == nil {
		writeJSONError(ctx, w, "oauth2 tokens are not supported", http.StatusNotImplemented)
		return
	}

	var (
		pair  *secret.TokenPair
		found bool
		err   error
	)
	if req.uri == nil {
		pair, found, err = a.OAuth2TokenPair(ctx, req.behavior)
	} else {
		pair, found, err = a.OAuth2TokenPairFor(ctx, req.uri, req.behavior)
	}
	if err != nil {
		writeRetrievalError(w, r, err)
		return
	}
	if !found {
		writeJSONError(ctx, w, errNoSecret, http.StatusNotFound)
		return
	}

	writeJSON(ctx, w, OAuth2TokenResponse{AccessToken: pair.AccessToken, Expiry: pair.Expiry}, http.StatusOK)
}

func (b *Broker) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	authType := q.Get("auth")
	if authType == "" {
		writeJSONError(ctx, w, "missing auth parameter", http.StatusBadRequest)
		return
	}

	a := b.find(func(a auth.Authenticator) bool { return a.AuthType() == authType })
	if a == nil {
		writeJSONError(ctx, w, "unknown auth type: "+authType, http.StatusBadRequest)
		return
	}

	var (
		removed bool
		err     error
	)
	if raw := q.Get("uri"); raw != "" {
		uri, perr := keyconv.Parse(raw)
		if perr != nil {
			writeJSONError(ctx, w, perr.Error(), http.StatusBadRequest)
			return
		}
		removed, err = a.SignOutURI(ctx, uri)
	} else {
		removed, err = a.SignOut(ctx)
	}
	if err != nil {
		writeRetrievalError(w, r, err)
		return
	}

	if b.metrics != nil {
		b.metrics.ObserveSignOut(authType, removed)
	}
	slog.InfoContext(ctx, "signed out", "auth_type", authType, "removed", removed)

	writeJSON(ctx, w, SignOutResponse{SignedOut: removed}, http.StatusOK)
}
