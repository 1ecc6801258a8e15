package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"github.com/florianilch/credkeep/internal/keyconv"
	"github.com/florianilch/credkeep/internal/observability"
	"github.com/florianilch/credkeep/internal/storage"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = observability.ExporterNone
	DefaultConfigStorageSecure     = "prefer"
	DefaultConfigKeyringService    = "credkeep"
	DefaultConfigBrokerHost        = "127.0.0.1"
	DefaultConfigBrokerPort        = 4100
	DefaultConfigShutdownTimeout   = 5 * time.Second
)

// TelemetryConfig selects the OpenTelemetry log exporter.
type TelemetryConfig struct {
	Exporter observability.Exporter `json:"exporter" validate:"oneof=none stdout otlp-grpc otlp-http"`
}

// StorageConfig describes which secret stores are acceptable.
type StorageConfig struct {
	// Ephemeral keeps secrets in memory only.
	Ephemeral bool `json:"ephemeral"`
	// Secure is "must" or "prefer".
	Secure         string `json:"secure" validate:"oneof=must prefer"`
	Dir            string `json:"dir"`
	KeyringService string `json:"keyring_service"`
}

// KeysConfig controls cache key derivation.
type KeysConfig struct {
	Prefix string `json:"prefix"`
}

// OAuthConfig configures the OAuth2 device flow. OAuth2 and personal access tokens
// are disabled while ClientID is empty.
type OAuthConfig struct {
	ClientID          string   `json:"client_id"`
	AuthURL           string   `json:"auth_url" validate:"omitempty,url"`
	TokenURL          string   `json:"token_url" validate:"omitempty,url"`
	DeviceAuthURL     string   `json:"device_auth_url" validate:"omitempty,url"`
	Scopes            []string `json:"scopes"`
	JSONTokenRequests bool     `json:"json_token_requests"`
	GlobalURI         string   `json:"global_uri" validate:"omitempty,url"`
}

// Enabled reports whether OAuth2 is configured.
func (o *OAuthConfig) Enabled() bool { return o.ClientID != "" }

// OAuth2Config converts the configuration for golang.org/x/oauth2.
func (o *OAuthConfig) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: o.ClientID,
		Scopes:   o.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:       o.AuthURL,
			TokenURL:      o.TokenURL,
			DeviceAuthURL: o.DeviceAuthURL,
			AuthStyle:     oauth2.AuthStyleInParams, // public client
		},
	}
}

// PATConfig configures personal access token issuance. Disabled while IssueURL is empty.
type PATConfig struct {
	IssueURL    string `json:"issue_url" validate:"omitempty,url"`
	Scope       string `json:"scope"`
	DisplayName string `json:"display_name"`
}

// BrokerConfig holds broker server configuration.
type BrokerConfig struct {
	Host        string `json:"host" validate:"hostname_rfc1123|ip"`
	Port        uint16 `json:"port"`
	AllowPrompt bool   `json:"allow_prompt"`
	// SessionFile receives the session token while the broker runs.
	SessionFile string `json:"session_file"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Storage   StorageConfig   `json:"storage"`
	Keys      KeysConfig      `json:"keys"`
	OAuth     OAuthConfig     `json:"oauth"`
	PAT       PATConfig       `json:"pat"`
	Broker    BrokerConfig    `json:"broker"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Storage.Secure == "" {
		c.Storage.Secure = DefaultConfigStorageSecure
	}
	if c.Storage.KeyringService == "" {
		c.Storage.KeyringService = DefaultConfigKeyringService
	}
	if c.Broker.Host == "" {
		c.Broker.Host = DefaultConfigBrokerHost
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = DefaultConfigBrokerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	if c.Storage.Dir == "" && !c.Storage.Ephemeral {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("storage.dir required (auto-detect failed: %w)", err)
		}
		c.Storage.Dir = filepath.Join(configDir, "credkeep")
	}
	if c.Broker.SessionFile == "" && c.Storage.Dir != "" {
		c.Broker.SessionFile = filepath.Join(c.Storage.Dir, "broker-session")
	}

	return nil
}

// Validate validates the configuration using struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if !c.Storage.Ephemeral && c.Storage.Dir == "" {
		return errors.New("storage.dir required for persistent storage")
	}

	if c.OAuth.Enabled() {
		if c.OAuth.TokenURL == "" || c.OAuth.DeviceAuthURL == "" {
			return errors.New("oauth.token_url and oauth.device_auth_url required when oauth.client_id is set")
		}
	}

	if c.PAT.IssueURL != "" {
		if !c.OAuth.Enabled() {
			return errors.New("pat.issue_url requires oauth to be configured")
		}
		if c.OAuth.GlobalURI == "" {
			return errors.New("pat.issue_url requires oauth.global_uri")
		}
	}

	return nil
}

// SecureOption returns the parsed storage.secure setting.
func (c *Config) SecureOption() (storage.SecureOption, error) {
	return storage.ParseSecureOption(c.Storage.Secure)
}

// Conversion returns the cache key conversion for keys.prefix.
func (c *Config) Conversion() keyconv.Conversion {
	if c.Keys.Prefix == "" {
		return keyconv.Default
	}
	return keyconv.Prefixed{Prefix: c.Keys.Prefix}
}
