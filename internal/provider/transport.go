// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// =============================================================================
// PROXY CONFIGURATION
// =============================================================================

// ProxyConfig routes provider traffic through an HTTP/HTTPS proxy. A disabled
// or empty proxy means direct connection, never an error. It is applied once,
// by NewHTTPClient, for every backend.
type ProxyConfig struct {
	Enabled bool
	URL     string

	// AuthEnabled attaches a Proxy-Authorization basic header on every
	// request, in addition to any credentials embedded in URL.
	AuthEnabled bool
	Login       string
	Password    string
}

// basicCredential returns the Proxy-Authorization header value.
func (p ProxyConfig) basicCredential() string {
	raw := p.Login + ":" + p.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// =============================================================================
// TRANSPORT BUILDER
// =============================================================================

// DefaultRequestTimeout bounds buffered provider calls. Streaming clients
// pass 0 and rely on context cancellation instead.
const DefaultRequestTimeout = 60 * time.Second

// NewHTTPClient builds the HTTP client every backend uses. timeout of 0 means
// no client-level timeout.
func NewHTTPClient(timeout time.Duration, proxy ProxyConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if proxy.Enabled && proxy.URL != "" {
		proxyURL, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if proxy.AuthEnabled {
			proxyURL.User = url.UserPassword(proxy.Login, proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	var rt http.RoundTripper = transport
	if proxy.Enabled && proxy.AuthEnabled {
		rt = &proxyAuthTransport{base: transport, credential: proxy.basicCredential()}
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}, nil
}

// proxyAuthTransport adds the Proxy-Authorization header to every request.
// Some proxies expect the request-level header even when the session carries
// credentials, so both are supplied.
type proxyAuthTransport struct {
	base       http.RoundTripper
	credential string
}

func (t *proxyAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Proxy-Authorization", t.credential)
	return t.base.RoundTrip(clone)
}
