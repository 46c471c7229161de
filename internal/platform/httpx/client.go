// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpx builds the outbound HTTP clients used for provider probes,
// pool list refreshes and health checks.
package httpx

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultClientTimeout         = 10 * time.Second
	defaultDialTimeout           = 3 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
	defaultIdleConnTimeout       = 30 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultMaxIdleConns          = 64
	defaultMaxIdleConnsPerHost   = 4
)

// NewClient returns a hardened HTTP client. The client timeout is an outer
// bound; per-request deadlines come from the request context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   clientTimeout(timeout),
		Transport: newTransport(timeout),
	}
}

// NewTracedClient is NewClient with an OpenTelemetry transport, so every
// outbound request becomes a client span under the caller's context.
func NewTracedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: clientTimeout(timeout),
		Transport: otelhttp.NewTransport(newTransport(timeout),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Host
			}),
		),
	}
}

func clientTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultClientTimeout
	}
	return timeout
}

func newTransport(timeout time.Duration) *http.Transport {
	timeout = clientTimeout(timeout)
	dialTimeout := min(timeout, defaultDialTimeout)
	responseHeaderTimeout := min(timeout, defaultResponseHeaderTimeout)

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}
