// Package endpoint models a normalized RTMP ingest target and the pluggable
// normalization hook spec §9 calls for ("a pragmatic choice, not a protocol
// requirement; the interface exposes it as a pluggable hook so other CDNs
// can supply their own normalization").
package endpoint

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint is the normalized connection target. Once normalized, all
// downstream code (Supervisor, Protocol Engine) uses this form exclusively.
type Endpoint struct {
	Host   string
	Port   int
	App    string
	TCURL  string
	UseTLS bool
}

// Normalizer rewrites a raw endpoint into CDN-specific normalized form.
// Passthrough is the zero-config default; target-specific normalizers
// (youtube.Normalizer) implement the same interface.
type Normalizer interface {
	Normalize(raw Endpoint) Endpoint
}

// PassthroughNormalizer returns its input unchanged, for ingest targets
// that need no rewrite.
type PassthroughNormalizer struct{}

func (PassthroughNormalizer) Normalize(raw Endpoint) Endpoint { return raw }

// Parse splits an rtmp(s):// URL into an (unnormalized) Endpoint. The app
// name is the whole URL path with leading and trailing slashes removed, so
// the URL must not carry the stream key; the key is supplied separately at
// publish time and is never embedded in the URL the engine logs.
func Parse(rawURL string) (Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: invalid URL: %w", err)
	}

	useTLS := false
	switch u.Scheme {
	case "rtmp":
		useTLS = false
	case "rtmps":
		useTLS = true
	default:
		return Endpoint{}, fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 1935
	if useTLS {
		port = 443
	}
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("endpoint: invalid port %q: %w", portStr, err)
		}
		port = p
	}

	app := strings.Trim(u.Path, "/")

	return Endpoint{
		Host:   host,
		Port:   port,
		App:    app,
		TCURL:  rawURL,
		UseTLS: useTLS,
	}, nil
}

// Addr returns the host:port dial target.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
