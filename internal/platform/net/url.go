// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package net normalizes provider base URLs so the same instance listed
// under different spellings is probed, cached and broken-circuited once.
package net

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var errEmptyHost = errors.New("host is empty")

// SanitizeURL drops credentials and the query string so a URL can be logged.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User, u.RawQuery = nil, ""
	return u.String()
}

// ParseDirectHTTPURL accepts an http(s) URL with a host and without
// credentials or fragment. Instance lists are third-party input; anything
// else is rejected rather than repaired.
func ParseDirectHTTPURL(s string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	if u.Host == "" || u.User != nil || u.Fragment != "" {
		return nil, false
	}
	return u, true
}

// NormalizeHost lower-cases a bare host, strips a trailing dot and IPv6
// brackets, and converts internationalized names to punycode.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", errEmptyHost
	}
	if strings.ContainsAny(host, "/@%") {
		return "", fmt.Errorf("host must be a bare name or address: %s", raw)
	}
	if inner, ok := strings.CutPrefix(host, "["); ok {
		host, _ = strings.CutSuffix(inner, "]")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", errEmptyHost
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// Authority is the normalized host[:port] of u, used as the endpoint
// identity. It falls back to u.Host when the host does not normalize.
func Authority(u *url.URL) string {
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return u.Host
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
