package tracing

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/gatekeeper/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gatekeeper/http"

// GinMiddleware opens a server span per request. The span is renamed to the
// matched route once routing is done, and carries the authenticated actor
// when the pipeline resolved one.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		ctx = withRequestBaggage(ctx, span)

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		finishSpan(c, span, time.Since(start))
	}
}

func withRequestBaggage(ctx context.Context, span trace.Span) context.Context {
	requestID := obscontext.RequestIDFromContext(ctx)
	if requestID == "" {
		return ctx
	}
	span.SetAttributes(attribute.String("request_id", requestID))
	member, err := baggage.NewMember("request_id", requestID)
	if err != nil {
		return ctx
	}
	bag, err := baggage.New(member)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func finishSpan(c *gin.Context, span trace.Span, elapsed time.Duration) {
	defer span.End()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	status := c.Writer.Status()
	span.SetName("HTTP " + c.Request.Method + " " + route)

	attrs := []attribute.KeyValue{
		attribute.String("http.method", c.Request.Method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
		attribute.Int64("http.server_duration_ms", elapsed.Milliseconds()),
	}
	if actorType, actorID := obscontext.ActorFromContext(c.Request.Context()); actorType != "" {
		attrs = append(attrs,
			attribute.String("gatekeeper.actor_type", actorType),
			attribute.String("enduser.id", actorID),
		)
	}
	span.SetAttributes(SafeAttributes(attrs...)...)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		span.AddEvent("access_denied", trace.WithAttributes(attribute.Int("http.status_code", status)))
	case status == http.StatusTooManyRequests:
		span.AddEvent("rate_limited")
	case status >= http.StatusInternalServerError:
		if lastErr := c.Errors.Last(); lastErr != nil {
			if safeErr := SafeError(lastErr.Err); safeErr != nil {
				span.RecordError(safeErr)
			}
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
