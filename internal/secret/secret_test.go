package secret

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Secret
		want bool
	}{
		{
			name: "tokens with same value and type",
			a:    &Token{Value: "abc", Type: TokenTypePersonal},
			b:    &Token{Value: "abc", Type: TokenTypePersonal},
			want: true,
		},
		{
			name: "tokens with different type",
			a:    &Token{Value: "abc", Type: TokenTypePersonal},
			b:    &Token{Value: "abc", Type: TokenTypeAccess},
			want: false,
		},
		{
			name: "token pairs differing only in scope",
			a:    &TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: expiry},
			b:    &TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: expiry.In(time.Local), Scope: "x"},
			want: true,
		},
		{
			name: "token pairs with extended expiry",
			a:    &TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: expiry},
			b:    &TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: expiry.Add(time.Hour)},
			want: false,
		},
		{
			name: "token pairs with renewed access token",
			a:    &TokenPair{AccessToken: "at", RefreshToken: "rt"},
			b:    &TokenPair{AccessToken: "at2", RefreshToken: "rt"},
			want: false,
		},
		{
			name: "credentials with different password",
			a:    &Credential{Username: "u", Password: "p1"},
			b:    &Credential{Username: "u", Password: "p2"},
			want: false,
		},
		{
			name: "different kinds",
			a:    &Token{Value: "u"},
			b:    &Credential{Username: "u"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestConstructorsRejectEmpty(t *testing.T) {
	_, err := NewToken("", TokenTypePersonal)
	assert.Error(t, err)

	_, err = NewTokenPair("", "rt")
	assert.Error(t, err)

	_, err = NewCredential("", "pw")
	assert.Error(t, err)

	tok, err := NewToken("v", "")
	require.NoError(t, err)
	assert.Equal(t, TokenTypeUnknown, tok.Type)
}

func TestEncodeDecode(t *testing.T) {
	pair := &TokenPair{AccessToken: "at", RefreshToken: "rt", Expiry: time.Unix(1700000000, 0).UTC()}

	data, err := Encode(pair)
	require.NoError(t, err)

	decoded, err := Decode[*TokenPair](data)
	require.NoError(t, err)
	assert.True(t, pair.Equal(decoded))
	assert.True(t, pair.Expiry.Equal(decoded.Expiry))

	_, err = Decode[*Credential]("null")
	assert.Error(t, err)

	_, err = Decode[*Token]("{not json")
	assert.Error(t, err)
}

func TestExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, (&TokenPair{AccessToken: "at"}).Expired(now, time.Minute))
	assert.True(t, (&TokenPair{AccessToken: "at", Expiry: now.Add(30 * time.Second)}).Expired(now, time.Minute))
	assert.False(t, (&TokenPair{AccessToken: "at", Expiry: now.Add(time.Hour)}).Expired(now, time.Minute))
}

func TestLogValueRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	logger.Info("secrets",
		"token", &Token{Value: "tok-value", Type: TokenTypePersonal},
		"pair", &TokenPair{AccessToken: "access-value", RefreshToken: "refresh-value"},
		"credential", &Credential{Username: "alice", Password: "hunter2"},
	)

	out := buf.String()
	for _, leaked := range []string{"tok-value", "access-value", "refresh-value", "hunter2"} {
		assert.NotContains(t, out, leaked)
	}
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, redacted)
}

func TestParseTokenType(t *testing.T) {
	tt, err := ParseTokenType("personal")
	require.NoError(t, err)
	assert.Equal(t, TokenTypePersonal, tt)

	_, err = ParseTokenType("bogus")
	assert.Error(t, err)
}
