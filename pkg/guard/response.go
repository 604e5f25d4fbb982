package guard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/limits"
)

// responseWriter records the status and whether the header was sent.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

type errorBody struct {
	Error string `json:"error"`
}

// RejectionBody is the JSON body of a 429 response.
type RejectionBody struct {
	Error     string            `json:"error"`
	Anomalies []anomaly.Finding `json:"anomalies"`
}

func setLimitHeaders(h http.Header, res limits.Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// visibleFindings drops LOW findings and never returns nil, so the body
// always carries an array.
func visibleFindings(findings []anomaly.Finding) []anomaly.Finding {
	out := anomaly.AtLeast(findings, anomaly.SeverityMedium)
	if out == nil {
		out = []anomaly.Finding{}
	}
	return out
}
