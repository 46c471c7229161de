// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ctxField is both the context key and the log field it is emitted as.
type ctxField struct{ name string }

var (
	requestIDKey = &ctxField{FieldRequestID}
	videoIDKey   = &ctxField{FieldVideoID}
)

// contextFields is the order fields appear in enriched log lines.
var contextFields = []*ctxField{requestIDKey, videoIDKey}

func withValue(ctx context.Context, key *ctxField, v string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, v)
}

func valueOf(ctx context.Context, key *ctxField) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// ContextWithRequestID tags ctx with the ingress request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

// ContextWithVideoID tags ctx with the video being resolved.
func ContextWithVideoID(ctx context.Context, id string) context.Context {
	return withValue(ctx, videoIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string { return valueOf(ctx, requestIDKey) }

func VideoIDFromContext(ctx context.Context) string { return valueOf(ctx, videoIDKey) }

// WithContext adds the request id, video id and active span of ctx to
// logger. logger is returned unchanged when ctx carries none of them.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	lc := logger.With()
	n := 0
	for _, f := range contextFields {
		if v := valueOf(ctx, f); v != "" {
			lc = lc.Str(f.name, v)
			n++
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		lc = lc.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		n++
	}
	if n == 0 {
		return logger
	}
	return lc.Logger()
}

// WithComponentFromContext is WithComponent enriched by WithContext.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
