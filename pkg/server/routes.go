package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/security/auth"
	"github.com/rpzk/throttleguard/pkg/telemetry/health"
)

// errAnalysisUnavailable is returned by the analysis route when asked to
// simulate a backend failure.
var errAnalysisUnavailable = errors.New("analysis backend unavailable")

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	g := s.deps.Guard

	mux.Handle("/api/ai/analyze", g.WrapFunc(limits.CategoryAIMedical, analyze))
	mux.Handle("/api/consultations", g.Wrap(limits.CategoryConsultations, resource("consultations")))
	mux.Handle("/api/patients", g.Wrap(limits.CategoryPatients, resource("patients")))
	mux.Handle("/api/patients/{id}", g.Wrap(limits.CategoryPatients, resource("patients")))
	mux.Handle("/api/dashboard", g.Wrap(limits.CategoryDashboard, resource("dashboard")))
	mux.Handle("/api/", g.Wrap(limits.CategoryDefault, resource("default")))

	mux.Handle("/admin/ratelimit/stats", g.StatsHandler())
	mux.Handle("/admin/ratelimit/reset", g.ResetHandler())

	probes := http.NewServeMux()
	health.Register(probes, s.deps.Health, s.deps.Version, s.deps.Commit, s.deps.BuildTime)
	limited := health.RateLimitedHandler(probes, s.deps.HealthRateLimit)
	mux.Handle("/health", limited)
	mux.Handle("/ready", limited)
	mux.Handle("/version", limited)

	if s.deps.Metrics != nil {
		mux.Handle(s.deps.MetricsPath, s.deps.Metrics.Handler())
	}

	return mux
}

// resourceResponse is what the placeholder business routes answer.
type resourceResponse struct {
	Resource string    `json:"resource"`
	Path     string    `json:"path"`
	Subject  string    `json:"subject,omitempty"`
	ServedAt time.Time `json:"servedAt"`
}

// resource stands in for a business handler behind the guard.
func resource(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, describe(name, r))
	})
}

// analyze accepts POST only and fails when the caller sets
// ?simulate=failure, which exercises the guard's handler failure path.
func analyze(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return nil
	}
	if r.URL.Query().Get("simulate") == "failure" {
		return errAnalysisUnavailable
	}
	writeJSON(w, http.StatusOK, describe("ai-analysis", r))
	return nil
}

func describe(name string, r *http.Request) resourceResponse {
	resp := resourceResponse{
		Resource: name,
		Path:     r.URL.Path,
		ServedAt: time.Now().UTC(),
	}
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		resp.Subject = id.SubjectID
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
