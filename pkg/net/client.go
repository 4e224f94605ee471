package net

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	maxIdleConns   = 10
	idleTimeout    = 60 * time.Second
	defaultTimeout = 60 * time.Second
	clientAgent    = "microscore"
)

var reqTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          maxIdleConns,
	IdleConnTimeout:       idleTimeout,
	DisableCompression:    true,
	ResponseHeaderTimeout: defaultTimeout,
}

// NewClient returns a client on the shared transport. A non-positive timeout
// uses the package default.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: reqTransport,
	}
}

// GetOAuthClient returns a client that sends token as a bearer credential.
// An empty token yields a plain client.
func GetOAuthClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	base := NewClient(timeout)
	if token == "" {
		return base
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	tc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		TokenType:   "Bearer",
		AccessToken: token,
	}))
	tc.Timeout = base.Timeout
	return tc
}
