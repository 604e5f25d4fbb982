package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/security/auth"
)

// Stats is the body of the admin stats endpoint.
type Stats struct {
	ActiveSubjects  int           `json:"activeSubjects"`
	BlockedSubjects int           `json:"blockedSubjects"`
	TotalRequests   int64         `json:"totalRequests"`
	Detector        anomaly.Stats `json:"detector"`
}

// ResetRequest is the body of the admin reset endpoint.
type ResetRequest struct {
	SubjectID string `json:"subjectId"`
}

// Stats combines limiter, detector and request counters.
func (g *Guard) Stats(ctx context.Context) (Stats, error) {
	ls, err := g.limiter.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("limiter stats: %w", err)
	}
	return Stats{
		ActiveSubjects:  ls.ActiveSubjects,
		BlockedSubjects: ls.BlockedSubjects,
		TotalRequests:   g.total.Load(),
		Detector:        g.detector.Stats(),
	}, nil
}

// Reset clears the limiter state of subjectID in every category. The
// subject's anomaly profile is kept.
func (g *Guard) Reset(ctx context.Context, subjectID string) error {
	subject := NormalizeSubject(subjectID)

	var errs []error
	for _, c := range limits.Categories() {
		policy := g.policies.Get(c)
		if err := g.limiter.Reset(ctx, policy.Key(subject)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	g.logger.Info("subject reset", "subject", subject)
	return nil
}

// StatsHandler serves GET /admin/ratelimit/stats.
func (g *Guard) StatsHandler() http.Handler {
	return g.admin(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		stats, err := g.Stats(r.Context())
		if err != nil {
			g.logger.Error("stats unavailable", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})
}

// ResetHandler serves POST /admin/ratelimit/reset.
func (g *Guard) ResetHandler() http.Handler {
	return g.admin(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var req ResetRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request body"})
			return
		}
		if req.SubjectID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "subjectId is required"})
			return
		}

		if err := g.Reset(r.Context(), req.SubjectID); err != nil {
			g.logger.Error("reset failed", "subject_id", req.SubjectID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reset": true, "subjectId": req.SubjectID})
	})
}

// admin enforces the method and, when AdminRole is set, the caller's role.
func (g *Guard) admin(method string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
			return
		}

		if g.adminRole != "" {
			identity, err := g.authn.Authenticate(r)
			var authErr *auth.AuthError
			switch {
			case errors.As(err, &authErr):
				writeJSON(w, authErr.Status, errorBody{Error: authErr.Message})
				return
			case err != nil, identity == nil:
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication required"})
				return
			case identity.Role != g.adminRole:
				writeJSON(w, http.StatusForbidden, errorBody{Error: "Insufficient permissions"})
				return
			}
			r = r.WithContext(auth.WithIdentity(r.Context(), identity))
		}

		next(w, r)
	})
}
