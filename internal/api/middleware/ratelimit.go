// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/ytrelay/internal/log"
	"github.com/go-chi/httprate"
)

// refreshPerMinute caps manual pool refreshes per client IP. A refresh
// fans out to every provider instance in the pool.
const refreshPerMinute = 5

// limitPerMinute builds a sliding-window limiter keyed by client IP. scope
// names the limiter in logs and in the rejection body.
func limitPerMinute(scope string, n int) func(http.Handler) http.Handler {
	return httprate.Limit(n, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rejectOverLimit(scope, time.Minute)),
	)
}

func rejectOverLimit(scope string, window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "ratelimit")
		logger.Debug().
			Str(log.FieldEvent, "ratelimit.rejected").
			Str("scope", scope).
			Str("path", r.URL.Path).
			Msg("request over limit")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":     "rate_limit_exceeded",
			"detail":    "too many " + scope + " requests, retry after " + retryAfter + "s",
			"requestId": log.RequestIDFromContext(r.Context()),
		})
	}
}

// RefreshRateLimit guards POST /api/pools/{name}/refresh.
func RefreshRateLimit() func(http.Handler) http.Handler {
	return limitPerMinute("refresh", refreshPerMinute)
}

// APIRateLimit is the router-wide limiter.
func APIRateLimit(perMinute int) func(http.Handler) http.Handler {
	return limitPerMinute("api", perMinute)
}
