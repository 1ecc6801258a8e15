package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/credkeep/internal/auth"
	"github.com/florianilch/credkeep/internal/broker"
	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/metrics"
	"github.com/florianilch/credkeep/internal/storage"
)

// Option customizes how New wires the authenticators.
type Option func(*options)

type options struct {
	prompter          auth.Prompter
	deviceCodeHandler auth.DeviceCodeHandler
	transport         http.RoundTripper
	detect            storage.Options
}

// WithPrompter sets how credentials are asked for. Defaults to the terminal.
func WithPrompter(p auth.Prompter) Option {
	return func(o *options) {
		o.prompter = p
	}
}

// WithDeviceCodeHandler sets how the OAuth2 device code is shown. Defaults to stderr.
func WithDeviceCodeHandler(h auth.DeviceCodeHandler) Option {
	return func(o *options) {
		o.deviceCodeHandler = h
	}
}

// WithTransport sets the base transport for OAuth2 and token issuing requests.
func WithTransport(t http.RoundTripper) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithPlatform overrides platform detection (GOOS and Secret Service probe).
func WithPlatform(goos string, secretServiceAvailable func() bool) Option {
	return func(o *options) {
		o.detect.GOOS = goos
		o.detect.SecretServiceAvailable = secretServiceAvailable
	}
}

// App wires stores, authenticators and the broker together and owns their lifecycle.
type App struct {
	cfg      *Config
	provider *storage.Provider
	metrics  *metrics.Metrics

	basic *auth.BasicAuthenticator
	oauth *auth.OAuth2Authenticator // nil unless oauth is configured
	pat   *auth.PATAuthenticator    // nil unless pat is configured
}

// New creates a new App instance. Stores are selected once, here.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	detect := o.detect
	detect.KeyringService = cfg.Storage.KeyringService
	detect.FileDir = cfg.Storage.Dir
	detect.Ephemeral = cfg.Storage.Ephemeral

	provider, err := storage.Detect(detect)
	if err != nil {
		return nil, fmt.Errorf("failed to detect secret stores: %w", err)
	}

	secure, err := cfg.SecureOption()
	if err != nil {
		return nil, err
	}
	persist := !cfg.Storage.Ephemeral

	m := metrics.New()

	common := []auth.Option{
		auth.WithConversion(cfg.Conversion()),
		auth.WithObserver(m),
	}
	if o.transport != nil {
		common = append(common, auth.WithTransport(o.transport))
	}

	a := &App{
		cfg:      cfg,
		provider: provider,
		metrics:  m,
	}

	credentialStore, ok, err := provider.CredentialStore(ctx, persist, secure)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noStoreError("credential", persist, secure)
	}
	basicOpts := slices.Clone(common)
	if o.prompter != nil {
		basicOpts = append(basicOpts, auth.WithPrompter(o.prompter))
	}
	a.basic, err = auth.NewBasicAuthenticator(credentialStore, basicOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create basic authenticator: %w", err)
	}

	if !cfg.OAuth.Enabled() {
		return a, nil
	}

	pairStore, ok, err := provider.TokenPairStore(ctx, persist, secure)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noStoreError("token pair", persist, secure)
	}
	oauthOpts := append(slices.Clone(common), auth.WithJSONTokenRequests(cfg.OAuth.JSONTokenRequests))
	if cfg.OAuth.GlobalURI != "" {
		global, err := keyconv.Parse(cfg.OAuth.GlobalURI)
		if err != nil {
			return nil, fmt.Errorf("invalid oauth.global_uri: %w", err)
		}
		oauthOpts = append(oauthOpts, auth.WithGlobalURI(global))
	}
	if o.deviceCodeHandler != nil {
		oauthOpts = append(oauthOpts, auth.WithDeviceCodeHandler(o.deviceCodeHandler))
	}
	a.oauth, err = auth.NewOAuth2Authenticator(cfg.OAuth.OAuth2Config(), pairStore, oauthOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth2 authenticator: %w", err)
	}

	if cfg.PAT.IssueURL == "" {
		return a, nil
	}

	tokenStore, ok, err := provider.TokenStore(ctx, persist, secure)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, noStoreError("token", persist, secure)
	}
	patOpts := append(slices.Clone(common), auth.WithPATDefaults(auth.PATOptions{
		DisplayName: cfg.PAT.DisplayName,
		Scope:       cfg.PAT.Scope,
	}))
	issuer := &auth.HTTPIssuer{URL: cfg.PAT.IssueURL, Transport: o.transport}
	a.pat, err = auth.NewPATAuthenticator(a.oauth, issuer, tokenStore, patOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create personal access token authenticator: %w", err)
	}

	return a, nil
}

func noStoreError(kind string, persist bool, secure storage.SecureOption) error {
	return fmt.Errorf("no %s store available (persistent=%t, secure=%s)", kind, persist, secure)
}

// Provider returns the store candidates detected at startup.
func (a *App) Provider() *storage.Provider { return a.provider }

// Metrics returns the application's metrics.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Basic returns the username/password authenticator.
func (a *App) Basic() *auth.BasicAuthenticator { return a.basic }

// OAuth2 returns the OAuth2 authenticator, or nil if oauth is not configured.
func (a *App) OAuth2() *auth.OAuth2Authenticator { return a.oauth }

// PAT returns the personal access token authenticator, or nil if not configured.
func (a *App) PAT() *auth.PATAuthenticator { return a.pat }

// Authenticators returns every configured authenticator. PAT comes before OAuth2
// so that capability lookups prefer it.
func (a *App) Authenticators() []auth.Authenticator {
	list := []auth.Authenticator{a.basic}
	if a.pat != nil {
		list = append(list, a.pat)
	}
	if a.oauth != nil {
		list = append(list, a.oauth)
	}
	return list
}

// Authenticator returns the authenticator for authType.
func (a *App) Authenticator(authType string) (auth.Authenticator, bool) {
	for _, au := range a.Authenticators() {
		if au.AuthType() == authType {
			return au, true
		}
	}
	return nil, false
}

// Start runs the broker and blocks until ctx is done or the broker fails.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	brokerOpts := []broker.Option{
		broker.WithMetrics(a.metrics),
		broker.WithAllowPrompt(a.cfg.Broker.AllowPrompt),
	}
	for _, au := range a.Authenticators() {
		brokerOpts = append(brokerOpts, broker.WithAuthenticator(au))
	}
	b, err := broker.New(brokerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	address := net.JoinHostPort(a.cfg.Broker.Host, strconv.FormatUint(uint64(a.cfg.Broker.Port), 10))
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting broker", "address", address)
	brokerErrCh, err := b.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("broker startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, b.Shutdown)

	if path := a.cfg.Broker.SessionFile; path != "" {
		if err := writeSessionFile(path, b.SessionToken()); err != nil {
			_ = b.Shutdown(context.Background())
			return fmt.Errorf("failed to write session file: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing session file: %w", err)
			}
			return nil
		})
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-brokerErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "broker runtime error", "error", err)
				return fmt.Errorf("broker: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "session_file", a.cfg.Broker.SessionFile)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// writeSessionFile stores the broker's session token readable by the current user only.
func writeSessionFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file
	return os.Chmod(path, 0600)
}
