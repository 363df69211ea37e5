package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var forbiddenAttributeKeys = map[attribute.Key]struct{}{
	"http.url":          {},
	"http.target":       {},
	"http.query":        {},
	"http.request.body": {},
	"authorization":     {},
	"token":             {},
	"code":              {},
	"code_verifier":     {},
	"client_secret":     {},
	"refresh_token":     {},
}

// ExtractContext pulls upstream trace context from incoming headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// SafeAttributes drops attributes that could carry credentials.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, forbidden := forbiddenAttributeKeys[attr.Key]; forbidden {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is reduced to its outermost
// sentinel-like prefix so storage errors never leak SQL into spans.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if idx := strings.Index(msg, ":"); idx > 0 {
		msg = msg[:idx]
	}
	return errors.New(strings.TrimSpace(msg))
}
