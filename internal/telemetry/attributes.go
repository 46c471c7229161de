// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys. ytrelay.* describe a resolution, provider.* one
// probe against a provider instance.
const (
	HTTPMethodKey     attribute.Key = "http.method"
	HTTPStatusCodeKey attribute.Key = "http.status_code"
	HTTPRouteKey      attribute.Key = "http.route"
	HTTPTargetKey     attribute.Key = "http.target"
	RequestIDKey      attribute.Key = "http.request_id"

	VideoIDKey   attribute.Key = "ytrelay.video_id"
	PoolKey      attribute.Key = "ytrelay.pool"
	ModeKey      attribute.Key = "ytrelay.mode"
	MinHeightKey attribute.Key = "ytrelay.min_height"
	AttemptsKey  attribute.Key = "ytrelay.attempts"
	OutcomeKey   attribute.Key = "ytrelay.outcome"
	ChainKey     attribute.Key = "ytrelay.chain"
	ChainStepKey attribute.Key = "ytrelay.chain_step"

	EndpointKey     attribute.Key = "provider.endpoint"
	ProviderKindKey attribute.Key = "provider.kind"
	AttemptKey      attribute.Key = "provider.attempt"

	ErrorKey     attribute.Key = "error"
	ErrorTypeKey attribute.Key = "error.type"
)

// HTTPAttributes describes an ingress request. target is the path only;
// query strings carry video ids and stay out of traces.
func HTTPAttributes(method, route, target string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		HTTPMethodKey.String(method),
		HTTPRouteKey.String(route),
		HTTPTargetKey.String(target),
		HTTPStatusCodeKey.Int(statusCode),
	}
}

// ResolveAttributes omits empty strings; MinHeight is always set.
func ResolveAttributes(videoID, pool, mode string, minHeight int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	for _, kv := range []attribute.KeyValue{VideoIDKey.String(videoID), PoolKey.String(pool), ModeKey.String(mode)} {
		if kv.Value.AsString() != "" {
			attrs = append(attrs, kv)
		}
	}
	return append(attrs, MinHeightKey.Int(minHeight))
}

func ChainAttributes(chain, videoID string) []attribute.KeyValue {
	return []attribute.KeyValue{ChainKey.String(chain), VideoIDKey.String(videoID)}
}

func ProbeAttributes(endpoint, kind string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		EndpointKey.String(endpoint),
		ProviderKindKey.String(kind),
		AttemptKey.Int(attempt),
	}
}

func OutcomeAttributes(outcome string, attempts int) []attribute.KeyValue {
	return []attribute.KeyValue{OutcomeKey.String(outcome), AttemptsKey.Int(attempts)}
}

func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{ErrorKey.Bool(true), ErrorTypeKey.String(errorType)}
}
