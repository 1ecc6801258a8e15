package broker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/credkeep/internal/auth"
	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/metrics"
	"github.com/florianilch/credkeep/internal/secret"
	"github.com/florianilch/credkeep/internal/secretstore"
)

const sessionToken = "test-session-token"

type fixture struct {
	broker  *Broker
	basic   *auth.BasicAuthenticator
	oauth   *auth.OAuth2Authenticator
	pat     *auth.PATAuthenticator
	metrics *metrics.Metrics
	prompts *atomic.Int32
}

func newFixture(t *testing.T, allowPrompt bool) *fixture {
	t.Helper()

	prompts := &atomic.Int32{}
	basic, err := auth.NewBasicAuthenticator(secretstore.NewMemoryStore[*secret.Credential](),
		auth.WithPrompter(auth.PrompterFunc(func(context.Context, *url.URL) (*secret.Credential, bool, error) {
			prompts.Add(1)
			return &secret.Credential{Username: "prompted", Password: "pw"}, true, nil
		})))
	require.NoError(t, err)

	global, err := keyconv.Parse("https://app.example.com")
	require.NoError(t, err)

	// Endpoints are never contacted: every test works from cached secrets.
	oauth, err := auth.NewOAuth2Authenticator(&oauth2.Config{
		ClientID: "credkeep-test",
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: "http://127.0.0.1:1/device",
			TokenURL:      "http://127.0.0.1:1/token",
		},
	}, secretstore.NewMemoryStore[*secret.TokenPair](), auth.WithGlobalURI(global))
	require.NoError(t, err)

	pat, err := auth.NewPATAuthenticator(oauth, &auth.HTTPIssuer{URL: "http://127.0.0.1:1/pat"}, secretstore.NewMemoryStore[*secret.Token]())
	require.NoError(t, err)

	m := metrics.New()

	b, err := New(
		WithAuthenticator(basic),
		WithAuthenticator(pat),
		WithAuthenticator(oauth),
		WithMetrics(m),
		WithAllowPrompt(allowPrompt),
		WithSessionToken(sessionToken),
	)
	require.NoError(t, err)

	return &fixture{broker: b, basic: basic, oauth: oauth, pat: pat, metrics: m, prompts: prompts}
}

func seed[S secret.Secret](t *testing.T, base interface {
	Key(*url.URL) (string, error)
	Store() secretstore.Store[S]
}, rawURI string, s S) {
	t.Helper()
	uri, err := keyconv.Parse(rawURI)
	require.NoError(t, err)
	key, err := base.Key(uri)
	require.NoError(t, err)
	require.NoError(t, base.Store().Add(context.Background(), key, s))
}

func (f *fixture) do(t *testing.T, method, target string, authorized bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	rec := httptest.NewRecorder()
	f.broker.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestRequiresSessionToken(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/v1/credentials?uri=https://example.com", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, body["error"])

	req := httptest.NewRequest(http.MethodGet, "/v1/credentials?uri=https://example.com", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.broker.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCredentials(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/v1/credentials?uri=https://git.example.com/repo", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no secret available", body["error"])

	seed[*secret.Credential](t, f.basic, "https://git.example.com", &secret.Credential{Username: "alice", Password: "s3cret"})

	rec, body = f.do(t, http.MethodGet, "/v1/credentials?uri=https://git.example.com/repo", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "s3cret", body["password"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Zero(t, f.prompts.Load())
}

func TestBadParameters(t *testing.T) {
	f := newFixture(t, true)

	for _, target := range []string{
		"/v1/credentials",
		"/v1/credentials?uri=not-a-uri",
		"/v1/credentials?uri=https://example.com&prompt=sometimes",
		"/v1/sessions",
		"/v1/sessions?auth=Kerberos",
	} {
		method := http.MethodGet
		if strings.HasPrefix(target, "/v1/sessions") {
			method = http.MethodDelete
		}
		rec, _ := f.do(t, method, target, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestPromptRequiresPermission(t *testing.T) {
	denied := newFixture(t, false)
	rec, _ := denied.do(t, http.MethodGet, "/v1/credentials?uri=https://example.com&prompt=auto", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, denied.prompts.Load())

	allowed := newFixture(t, true)
	rec, body := allowed.do(t, http.MethodGet, "/v1/credentials?uri=https://example.com&prompt=auto", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prompted", body["username"])
	assert.Equal(t, int32(1), allowed.prompts.Load())
}

func TestOAuth2Token(t *testing.T) {
	f := newFixture(t, false)
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec, _ := f.do(t, http.MethodGet, "/v1/tokens/oauth2", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seed[*secret.TokenPair](t, f.oauth, "https://app.example.com", &secret.TokenPair{AccessToken: "global-access", Expiry: expiry})
	seed[*secret.TokenPair](t, f.oauth, "https://other.example.com", &secret.TokenPair{AccessToken: "other-access"})

	rec, body := f.do(t, http.MethodGet, "/v1/tokens/oauth2", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "global-access", body["access_token"])
	assert.Equal(t, expiry.Format(time.RFC3339), body["expiry"])

	rec, body = f.do(t, http.MethodGet, "/v1/tokens/oauth2?uri=https://other.example.com/x", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other-access", body["access_token"])
	assert.NotContains(t, body, "expiry")
}

func TestPersonalAccessToken(t *testing.T) {
	f := newFixture(t, false)

	seed[*secret.Token](t, f.pat, "https://dev.example.com", &secret.Token{Value: "pat-value", Type: secret.TokenTypePersonal})

	rec, body := f.do(t, http.MethodGet, "/v1/tokens/pat?uri=https://dev.example.com/org/repo", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pat-value", body["token"])
	assert.Equal(t, "personal", body["type"])

	rec, _ = f.do(t, http.MethodGet, "/v1/tokens/pat", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t, false)
	seed[*secret.Credential](t, f.basic, "https://git.example.com", &secret.Credential{Username: "alice"})

	rec, body := f.do(t, http.MethodDelete, "/v1/sessions?auth=BasicAuth&uri=https://git.example.com", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["signed_out"])

	rec, _ = f.do(t, http.MethodGet, "/v1/credentials?uri=https://git.example.com", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodDelete, "/v1/sessions?auth=BasicAuth&uri=https://git.example.com", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["signed_out"])

	// Global sign-out of the PAT authenticator
	seed[*secret.Token](t, f.pat, "https://app.example.com", &secret.Token{Value: "global", Type: secret.TokenTypePersonal})
	rec, body = f.do(t, http.MethodDelete, "/v1/sessions?auth=PersonalAccessToken", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["signed_out"])

	rec, _ = f.do(t, http.MethodGet, "/metrics", false)
	require.Equal(t, http.StatusOK, rec.Code)
	metricsBody, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metricsBody), `credkeep_sign_outs_total{auth_type="BasicAuth",removed="false"} 1`)
}

func TestNew_Validation(t *testing.T) {
	_, err := New()
	assert.Error(t, err)

	_, err = New(WithAuthenticator(nil))
	assert.Error(t, err)

	f := newFixture(t, false)
	b, err := New(WithAuthenticator(f.basic))
	require.NoError(t, err)
	assert.NotEmpty(t, b.SessionToken())
	assert.NotEqual(t, sessionToken, b.SessionToken())
}

func TestStartAndShutdown(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.broker.Start(ctx, "0.0.0.0:0")
	assert.Error(t, err, "non-loopback address is refused")

	errCh, err := f.broker.Start(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.broker.Shutdown(shutdownCtx))

	_, open := <-errCh
	assert.False(t, open, "error channel closes after graceful shutdown")
}

func TestRequireLoopback(t *testing.T) {
	assert.NoError(t, requireLoopback("127.0.0.1:4100"))
	assert.NoError(t, requireLoopback("[::1]:4100"))
	assert.NoError(t, requireLoopback("localhost:4100"))
	assert.Error(t, requireLoopback("192.168.1.10:4100"))
	assert.Error(t, requireLoopback("no-port"))
}
