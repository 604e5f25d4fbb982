package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rpzk/throttleguard/pkg/anomaly"
	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/limits"
	"github.com/rpzk/throttleguard/pkg/security/auth"
	"github.com/rpzk/throttleguard/pkg/telemetry/logging"
)

// Analyzer is the part of the anomaly detector the guard uses.
type Analyzer interface {
	Analyze(ctx context.Context, ev anomaly.Event) []anomaly.Finding
	Stats() anomaly.Stats
}

// AuditSink accepts audit entries without blocking on storage.
type AuditSink interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// Tracer starts spans. *tracing.Tracer satisfies it.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}

// HandlerFunc is a business handler that may report failure by returning an
// error instead of writing a response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Config wires a Guard. Policies, Limiter and Detector are required.
type Config struct {
	Policies      *limits.PolicyTable
	Limiter       limits.Limiter
	Detector      Analyzer
	Audit         AuditSink
	Authenticator auth.Authenticator

	// Pool runs post-response work. When nil the Guard creates one with
	// default settings and closes it on Close.
	Pool *Pool

	Tracer Tracer

	// TrustProxyHeaders makes X-Forwarded-For and X-Real-IP the client
	// address source.
	TrustProxyHeaders bool

	// AdminRole, when set, is required on the admin endpoints.
	AdminRole string

	Clock limits.Clock
}

// Guard is the request orchestrator.
type Guard struct {
	policies  *limits.PolicyTable
	limiter   limits.Limiter
	detector  Analyzer
	audit     AuditSink
	authn     auth.Authenticator
	pool      *Pool
	ownsPool  bool
	tracer    Tracer
	trust     bool
	adminRole string
	clock     limits.Clock
	logger    *slog.Logger

	total atomic.Int64
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, *audit.Entry) error { return nil }

// New validates cfg and creates a Guard.
func New(cfg Config) (*Guard, error) {
	if cfg.Policies == nil {
		return nil, errors.New("guard: policy table is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("guard: limiter is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("guard: anomaly detector is required")
	}

	g := &Guard{
		policies:  cfg.Policies,
		limiter:   cfg.Limiter,
		detector:  cfg.Detector,
		audit:     cfg.Audit,
		authn:     cfg.Authenticator,
		pool:      cfg.Pool,
		tracer:    cfg.Tracer,
		trust:     cfg.TrustProxyHeaders,
		adminRole: cfg.AdminRole,
		clock:     cfg.Clock,
		logger:    slog.Default().With("component", "guard"),
	}
	if g.audit == nil {
		g.audit = nopAudit{}
	}
	if g.authn == nil {
		g.authn = auth.AuthenticatorFunc(func(*http.Request) (*auth.Identity, error) { return nil, nil })
	}
	if g.pool == nil {
		g.pool = NewPool(PoolConfig{})
		g.ownsPool = true
	}
	if g.tracer == nil {
		g.tracer = noop.NewTracerProvider().Tracer("throttleguard/guard")
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g, nil
}

// Wrap protects h under the category's policy.
func (g *Guard) Wrap(category limits.Category, h http.Handler) http.Handler {
	return g.WrapFunc(category, func(w http.ResponseWriter, r *http.Request) error {
		h.ServeHTTP(w, r)
		return nil
	})
}

// WrapFunc protects an error-returning handler under the category's policy.
func (g *Guard) WrapFunc(category limits.Category, h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(category, h, w, r)
	})
}

// request carries what every lifecycle stage needs.
type request struct {
	category limits.Category
	identity *auth.Identity
	subject  string
	source   string
	start    time.Time
	r        *http.Request
}

func (g *Guard) serve(category limits.Category, h HandlerFunc, w http.ResponseWriter, r *http.Request) {
	g.total.Add(1)

	ctx, span := g.tracer.Start(r.Context(), "guard.request",
		trace.WithAttributes(attribute.String("guard.category", string(category))))
	defer span.End()
	r = r.WithContext(ctx)

	req := &request{
		category: category,
		source:   ClientAddress(r, g.trust),
		start:    g.clock(),
		r:        r,
	}

	// AUTHENTICATING
	identity, err := g.authn.Authenticate(r)
	if err != nil {
		g.rejectAuth(w, req, err)
		span.SetAttributes(attribute.Bool("guard.allowed", false))
		span.SetStatus(codes.Error, "authentication failed")
		return
	}
	req.identity = identity
	req.subject = SubjectKey(identity, req.source, r.UserAgent())
	ctx = logging.WithSubject(ctx, req.subject)
	r = r.WithContext(auth.WithIdentity(ctx, identity))
	req.r = r

	// RATE_LIMITING
	policy := g.policies.Get(category)
	res := g.limiter.Check(ctx, policy.Key(req.subject), policy)
	setLimitHeaders(w.Header(), res)
	span.SetAttributes(
		attribute.Bool("guard.allowed", res.Allowed),
		attribute.Int("guard.remaining", res.Remaining),
	)

	if !res.Allowed {
		findings := g.rejectLimit(w, req, policy, res)
		span.SetAttributes(attribute.Int("guard.findings", len(findings)))
		return
	}

	// HANDLER, then ANOMALY_ANALYSIS in the background
	rw := newResponseWriter(w)
	if err := invoke(h, rw, r); err != nil {
		g.handlerFailed(rw, req, err)
		span.SetStatus(codes.Error, ErrHandlerFailure.Error())
		return
	}

	ev := g.event(req, rw.statusCode)
	g.pool.Submit("analyze", func(ctx context.Context) error {
		findings := g.detector.Analyze(ctx, ev)
		notable := anomaly.AtLeast(findings, anomaly.SeverityMedium)
		if len(notable) == 0 {
			return nil
		}
		return g.audit.Record(ctx, g.entry(req, audit.ActionAnomalyDetected, true, map[string]any{
			"category": string(req.category),
			"findings": notable,
		}))
	})
}

func (g *Guard) rejectAuth(w http.ResponseWriter, req *request, err error) {
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		g.logger.Warn("authenticator returned an untyped error", "error", err)
		authErr = auth.Unauthenticated("Authentication failed")
	}

	req.subject = SubjectKey(nil, req.source, req.r.UserAgent())
	ev := g.event(req, authErr.Status)
	g.pool.Submit("analyze-auth-failure", func(ctx context.Context) error {
		g.detector.Analyze(ctx, ev)
		return nil
	})

	writeJSON(w, authErr.Status, errorBody{Error: authErr.Message})
}

func (g *Guard) rejectLimit(w http.ResponseWriter, req *request, policy limits.Policy, res limits.Result) []anomaly.Finding {
	ctx := req.r.Context()
	findings := g.analyze(ctx, g.event(req, http.StatusTooManyRequests))

	if critical := anomaly.AtLeast(findings, anomaly.SeverityCritical); len(critical) > 0 {
		g.record(ctx, g.entry(req, audit.ActionCriticalAnomaly, false, map[string]any{
			"category": string(req.category),
			"findings": critical,
		}))
	}
	g.record(ctx, g.entry(req, audit.ActionRateLimitExceeded, false, map[string]any{
		"category":   string(req.category),
		"limit":      policy.Limit,
		"retryAfter": res.RetryAfter,
		"blocked":    res.IsBlocked,
	}))

	g.logger.Info("request rate limited",
		"subject", req.subject,
		"category", req.category,
		"retry_after", res.RetryAfter,
		"findings", len(findings),
	)

	writeJSON(w, http.StatusTooManyRequests, RejectionBody{
		Error:     "Rate limit exceeded",
		Anomalies: visibleFindings(findings),
	})
	return findings
}

func (g *Guard) handlerFailed(rw *responseWriter, req *request, err error) {
	g.logger.Error("handler failed",
		"error", err,
		"subject", req.subject,
		"path", req.r.URL.Path,
	)
	if !rw.written {
		writeJSON(rw, http.StatusInternalServerError, errorBody{Error: "Internal server error"})
	}

	entry := g.entry(req, audit.ActionAPIError, false, map[string]any{
		"category": string(req.category),
		"method":   req.r.Method,
	})
	entry.ErrorMessage = err.Error()
	g.pool.Submit("audit-api-error", func(ctx context.Context) error {
		return g.audit.Record(ctx, entry)
	})

	ev := g.event(req, http.StatusInternalServerError)
	g.pool.Submit("analyze-api-error", func(ctx context.Context) error {
		g.detector.Analyze(ctx, ev)
		return nil
	})
}

// invoke runs h, converting a panic or a returned error into a handler
// failure.
func invoke(h HandlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			err = &handlerError{cause: fmt.Errorf("panic: %v\n%s", v, debug.Stack())}
		}
	}()
	if herr := h(w, r); herr != nil {
		return &handlerError{cause: herr}
	}
	return nil
}

// analyze runs the detector on the request path. A panicking detector yields
// no findings.
func (g *Guard) analyze(ctx context.Context, ev anomaly.Event) (findings []anomaly.Finding) {
	defer func() {
		if v := recover(); v != nil {
			g.logger.Error("anomaly analysis panicked", "panic", fmt.Sprint(v))
			findings = nil
		}
	}()
	return g.detector.Analyze(ctx, ev)
}

func (g *Guard) record(ctx context.Context, e *audit.Entry) {
	if err := g.audit.Record(ctx, e); err != nil {
		g.logger.Warn("audit entry not recorded", "action", e.Action, "error", err)
	}
}

func (g *Guard) event(req *request, status int) anomaly.Event {
	subject := req.subject
	if req.identity != nil && req.identity.SubjectID != "" {
		subject = req.identity.SubjectID
	}
	now := g.clock()
	return anomaly.Event{
		SubjectID:     subject,
		SourceAddress: req.source,
		Endpoint:      req.r.URL.Path,
		Timestamp:     now,
		UserAgent:     req.r.UserAgent(),
		ResponseTime:  now.Sub(req.start),
		StatusCode:    status,
	}
}

func (g *Guard) entry(req *request, action audit.Action, success bool, details map[string]any) *audit.Entry {
	e := &audit.Entry{
		ActorID:  req.subject,
		Action:   action,
		Resource: req.r.URL.Path,
		Success:  success,
		Details:  details,
	}
	if req.identity != nil {
		e.ActorID = req.identity.SubjectID
		e.ActorEmail = req.identity.Email
		e.ActorRole = req.identity.Role
	}
	if id := logging.GetRequestID(req.r.Context()); id != "" {
		e.Details["requestId"] = id
	}
	return e
}

// TotalRequests returns the number of requests that reached the guard.
func (g *Guard) TotalRequests() int64 {
	return g.total.Load()
}

// Close drains the background pool when the Guard created it.
func (g *Guard) Close() error {
	if g.ownsPool {
		g.pool.Close()
	}
	return nil
}
