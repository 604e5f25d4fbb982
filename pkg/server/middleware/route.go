package middleware

import (
	"context"
	"net/http"
)

type routeKey struct{}

func withRoute(ctx context.Context, route *string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// Route wraps the mux and publishes the pattern it matched to Logging.
func Route(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slot, ok := r.Context().Value(routeKey{}).(*string); ok {
			if _, pattern := mux.Handler(r); pattern != "" {
				*slot = pattern
			}
		}
		mux.ServeHTTP(w, r)
	})
}
