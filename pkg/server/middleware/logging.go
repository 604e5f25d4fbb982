package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPRecorder receives one observation per served request.
// *metrics.Collector satisfies it.
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// statusWriter captures the status code written by the handler.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Logging logs every request on completion and records it on rec when rec
// is non-nil. 5xx responses log at error level and 4xx at warn.
//
// The route label is the ServeMux pattern published by Route, or
// "unmatched".
func Logging(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			// Filled in by Route once the mux has matched.
			route := new(string)
			next.ServeHTTP(sw, r.WithContext(withRoute(r.Context(), route)))

			elapsed := time.Since(start)
			label := *route
			if label == "" {
				label = "unmatched"
			}

			level := slog.LevelInfo
			switch {
			case sw.status >= 500:
				level = slog.LevelError
			case sw.status >= 400:
				level = slog.LevelWarn
			}
			slog.Log(r.Context(), level, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", label,
				"status", sw.status,
				"latency_ms", elapsed.Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)

			if rec != nil {
				rec.RecordHTTPRequest(r.Method, label, sw.status, elapsed)
			}
		})
	}
}
