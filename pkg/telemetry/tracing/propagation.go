package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HTTPMiddleware extracts W3C trace context from the request headers into
// the request context.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Inject writes the trace context of r's context into h, for outbound calls.
func Inject(r *http.Request, h http.Header) {
	otel.GetTextMapPropagator().Inject(r.Context(), propagation.HeaderCarrier(h))
}
