// Package keyconv derives cache keys from a target URI and an authentication type.
//
// Keys are namespaced by authentication type, so a personal access token and an OAuth2
// token for the same resource never collide, and they depend only on the URI's scheme
// and authority, so every path under one host shares its secrets.
package keyconv

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Conversion maps a target URI plus an authentication type to a cache key.
// Implementations must be deterministic and must produce different keys for
// different authentication types on the same URI.
type Conversion interface {
	Convert(target *url.URL, authType string) (string, error)
}

// ConversionFunc adapts a function to Conversion.
type ConversionFunc func(target *url.URL, authType string) (string, error)

// Convert implements Conversion.
func (f ConversionFunc) Convert(target *url.URL, authType string) (string, error) {
	return f(target, authType)
}

// Default produces keys of the form "{authType}:{scheme}://{host}[:{port}]".
var Default Conversion = ConversionFunc(convert)

// Compile-time check to ensure Prefixed implements Conversion
var _ Conversion = Prefixed{}

// Prefixed prepends a fixed namespace to the Default key, e.g. "alm-auth:".
type Prefixed struct {
	Prefix string
}

// Convert implements Conversion.
func (p Prefixed) Convert(target *url.URL, authType string) (string, error) {
	key, err := convert(target, authType)
	if err != nil {
		return "", err
	}
	return p.Prefix + key, nil
}

// defaultPorts are omitted from keys so "https://host" and "https://host:443" agree.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

func convert(target *url.URL, authType string) (string, error) {
	if target == nil {
		return "", errors.New("target uri cannot be nil")
	}
	if authType == "" {
		return "", errors.New("auth type cannot be empty")
	}
	if target.Scheme == "" {
		return "", fmt.Errorf("target uri %q has no scheme", target.Redacted())
	}

	host := strings.TrimRight(strings.ToLower(target.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("target uri %q has no host", target.Redacted())
	}

	scheme := strings.ToLower(target.Scheme)
	port := target.Port()
	if port == "" || port == defaultPorts[scheme] {
		if strings.Contains(host, ":") {
			// IPv6 literal
			host = "[" + host + "]"
		}
		return authType + ":" + scheme + "://" + host, nil
	}
	return authType + ":" + scheme + "://" + net.JoinHostPort(host, port), nil
}

// Parse parses a raw target URI and rejects values without scheme or host.
func Parse(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid uri %q: scheme and host required", raw)
	}
	return u, nil
}
