// Package broker serves cached secrets to local processes over HTTP.
//
// The broker listens on loopback only and requires a per-session bearer token on
// every API route. It never prompts unless prompting was explicitly allowed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/credkeep/internal/auth"
	"github.com/florianilch/credkeep/internal/metrics"
)

// Broker is the credential broker HTTP server.
type Broker struct {
	mux    *http.ServeMux
	server *http.Server

	authenticators []auth.Authenticator
	metrics        *metrics.Metrics
	sessionToken   string
	allowPrompt    bool
}

// Compile-time check that Broker implements http.Handler
var _ http.Handler = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithAuthenticator adds an authenticator. For each route the first authenticator
// supporting the requested secret kind serves it.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(b *Broker) {
		b.authenticators = append(b.authenticators, a)
	}
}

// WithMetrics records sign-outs and serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithAllowPrompt lets clients request the auto and always prompt behaviors.
func WithAllowPrompt(allow bool) Option {
	return func(b *Broker) {
		b.allowPrompt = allow
	}
}

// WithSessionToken sets the bearer token clients must present.
// If not provided, a random token is generated.
func WithSessionToken(token string) Option {
	return func(b *Broker) {
		b.sessionToken = token
	}
}

// New creates a Broker.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{}
	for _, opt := range opts {
		opt(b)
	}

	if len(b.authenticators) == 0 {
		return nil, fmt.Errorf("missing authenticators")
	}
	for _, a := range b.authenticators {
		if a == nil {
			return nil, fmt.Errorf("authenticator cannot be nil")
		}
	}
	if b.sessionToken == "" {
		b.sessionToken = uuid.NewString()
	}

	logger := slog.Default()
	api := func(h http.HandlerFunc) http.Handler {
		return applyMiddlewares(h,
			Logging(logger),
			Recovery,
			RequireBearer(b.sessionToken),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/credentials", api(b.handleCredential))
	mux.Handle("GET /v1/tokens/pat", api(b.handlePersonalAccessToken))
	mux.Handle("GET /v1/tokens/oauth2", api(b.handleOAuth2Token))
	mux.Handle("DELETE /v1/sessions", api(b.handleSignOut))

	if b.metrics != nil {
		mux.Handle("GET /metrics", applyMiddlewares(b.metrics.Handler(), Recovery))
	}

	b.mux = mux
	return b, nil
}

// SessionToken returns the bearer token clients must present.
func (b *Broker) SessionToken() string { return b.sessionToken }

// ServeHTTP implements http.Handler interface
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Only loopback addresses are accepted. The caller is responsible for calling
// Shutdown() to stop the server.
func (b *Broker) Start(ctx context.Context, address string) (<-chan error, error) {
	if err := requireLoopback(address); err != nil {
		return nil, err
	}

	// Listen synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	b.server = &http.Server{
		Handler: b,
		// Interactive prompts (device flow) can keep a request open for minutes
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := b.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (b *Broker) Shutdown(ctx context.Context) error {
	if b.server == nil {
		return nil
	}

	if err := b.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = b.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func requireLoopback(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("refusing to listen on non-loopback address %q", address)
	}
	return nil
}
