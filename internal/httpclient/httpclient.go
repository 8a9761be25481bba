// Package httpclient builds the pooled HTTP clients shared by the speech
// backends and the alert configuration fetch.
package httpclient

import (
	"net/http"
	"time"
)

// Option adjusts a client built by NewPooled.
type Option func(*headerTransport)

// WithUserAgent identifies the console to the department servers.
func WithUserAgent(ua string) Option {
	return WithHeader("User-Agent", ua)
}

// WithHeader sets a header on every request that does not already carry it.
func WithHeader(key, value string) Option {
	return func(t *headerTransport) {
		if value != "" {
			t.header.Set(key, value)
		}
	}
}

// NewPooled creates an http.Client with connection pooling and tuned transport.
func NewPooled(poolSize int, timeout time.Duration, opts ...Option) *http.Client {
	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          poolSize,
		MaxIdleConnsPerHost:   poolSize,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	ht := &headerTransport{next: rt, header: http.Header{}}
	for _, opt := range opts {
		opt(ht)
	}
	if len(ht.header) > 0 {
		rt = ht
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}

type headerTransport struct {
	next   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = v
		}
	}
	return t.next.RoundTrip(req)
}
