package anomaly

import (
	"fmt"
	"math"
	"time"

	"github.com/rpzk/throttleguard/internal/ring"
)

// Look-back windows of the heuristics.
const (
	rateSpikeWindow     = 5 * time.Minute
	failedAuthWindow    = 10 * time.Minute
	endpointAbuseWindow = 15 * time.Minute
	unusualHoursWindow  = 2 * time.Hour
	requestRateWindow   = time.Hour
	sourceWindow        = 24 * time.Hour
)

// Thresholds of the heuristics.
const (
	rateSpikeMinimum     = 10
	unusualHoursMinimum  = 20
	unusualHoursHigh     = 50
	botnetSubjects       = 10
	botnetEvents         = 100
	sourceAuthFailures   = 50
	failedAuthMinimum    = 5
	failedAuthHigh       = 10
	failedAuthCritical   = 15
	sensitiveEndpointMax = 20
	endpointMax          = 50
)

// tally holds every count the heuristics need, gathered in one pass over the
// history. The current event is already in the history and is counted.
type tally struct {
	subjectLast5m    int
	subjectLastHour  int
	subjectLast2h    int
	subjectFailed10m int
	endpointLast15m  int

	sourceEvents   int
	sourceFailures int
	sourceSubjects map[string]struct{}
}

func countEvents(h *ring.Buffer[Event], ev *Event) tally {
	t := tally{sourceSubjects: make(map[string]struct{})}
	now := ev.Timestamp

	within := func(e *Event, d time.Duration) bool {
		return !e.Timestamp.Before(now.Add(-d))
	}

	h.Each(func(e *Event) {
		if e.SubjectID == ev.SubjectID {
			if within(e, unusualHoursWindow) {
				t.subjectLast2h++
			}
			if within(e, requestRateWindow) {
				t.subjectLastHour++
			}
			if within(e, endpointAbuseWindow) && e.Endpoint == ev.Endpoint {
				t.endpointLast15m++
			}
			if within(e, failedAuthWindow) && e.authFailure() {
				t.subjectFailed10m++
			}
			if within(e, rateSpikeWindow) {
				t.subjectLast5m++
			}
		}

		if ev.SourceAddress != "" && e.SourceAddress == ev.SourceAddress && within(e, sourceWindow) {
			t.sourceEvents++
			t.sourceSubjects[e.SubjectID] = struct{}{}
			if e.authFailure() {
				t.sourceFailures++
			}
		}
	})

	return t
}

func checkRateSpike(p *Profile, t tally) (Finding, bool) {
	expected := p.AverageRequestsPerHour / 12
	actual := float64(t.subjectLast5m)

	if !(actual > expected*3 && t.subjectLast5m > rateSpikeMinimum) {
		return Finding{}, false
	}

	confidence := 1.0
	if expected > 0 {
		confidence = math.Min(actual/(expected*5), 1)
	}

	severity := SeverityMedium
	switch {
	case actual > expected*10:
		severity = SeverityCritical
	case actual > expected*5:
		severity = SeverityHigh
	}

	action := ActionIncreaseMonitoring
	if confidence > 0.8 {
		action = ActionBlockUser
	}

	return Finding{
		Type:              TypeRateSpike,
		Severity:          severity,
		Confidence:        confidence,
		Description:       fmt.Sprintf("%d requests in 5 minutes, expected about %.1f", t.subjectLast5m, expected),
		RecommendedAction: action,
	}, true
}

// checkUnusualHours needs at least one earlier observation of the subject;
// an empty hour set would make every first request unusual.
func checkUnusualHours(p *Profile, hour int, t tally) (Finding, bool) {
	if p.TypicalHours.Len() == 0 || p.TypicalHours.Has(hour) {
		return Finding{}, false
	}
	if t.subjectLast2h <= unusualHoursMinimum {
		return Finding{}, false
	}

	severity := SeverityMedium
	if t.subjectLast2h > unusualHoursHigh {
		severity = SeverityHigh
	}

	return Finding{
		Type:              TypeUnusualHours,
		Severity:          severity,
		Confidence:        0.7,
		Description:       fmt.Sprintf("%d requests in 2 hours at an unusual hour (%02d:00)", t.subjectLast2h, hour),
		RecommendedAction: ActionRequireAdditionalAuth,
	}, true
}

// checkSuspiciousSource also reports whether the source should be added to
// the flagged set.
func checkSuspiciousSource(flagged bool, t tally) (Finding, bool, bool) {
	if flagged {
		return Finding{
			Type:              TypeSuspiciousSource,
			Severity:          SeverityHigh,
			Confidence:        0.9,
			Description:       "request from a flagged source",
			RecommendedAction: ActionBlockIP,
		}, true, false
	}

	if len(t.sourceSubjects) > botnetSubjects && t.sourceEvents > botnetEvents {
		return Finding{
			Type:       TypeSuspiciousSource,
			Severity:   SeverityCritical,
			Confidence: 0.95,
			Description: fmt.Sprintf("source served %d subjects and %d requests in 24 hours",
				len(t.sourceSubjects), t.sourceEvents),
			RecommendedAction: ActionBlockIPImmediately,
		}, true, true
	}

	if t.sourceFailures > sourceAuthFailures {
		return Finding{
			Type:              TypeSuspiciousSource,
			Severity:          SeverityHigh,
			Confidence:        0.8,
			Description:       fmt.Sprintf("source produced %d authentication failures in 24 hours", t.sourceFailures),
			RecommendedAction: ActionTemporaryBlockIP,
		}, true, true
	}

	return Finding{}, false, false
}

func checkFailedAuthBurst(ev *Event, t tally) (Finding, bool) {
	if !ev.authFailure() || t.subjectFailed10m < failedAuthMinimum {
		return Finding{}, false
	}

	severity := SeverityMedium
	action := ActionRequireCaptcha
	switch {
	case t.subjectFailed10m > failedAuthCritical:
		severity = SeverityCritical
		action = ActionLockAccount
	case t.subjectFailed10m > failedAuthHigh:
		severity = SeverityHigh
	}

	return Finding{
		Type:              TypeFailedAuthBurst,
		Severity:          severity,
		Confidence:        0.9,
		Description:       fmt.Sprintf("%d failed authentication attempts in 10 minutes", t.subjectFailed10m),
		RecommendedAction: action,
	}, true
}

func checkEndpointAbuse(ev *Event, sensitive bool, t tally) (Finding, bool) {
	limit := endpointMax
	if sensitive {
		limit = sensitiveEndpointMax
	}
	if t.endpointLast15m <= limit {
		return Finding{}, false
	}

	f := Finding{
		Type:              TypeEndpointAbuse,
		Severity:          SeverityMedium,
		Confidence:        0.8,
		Description:       fmt.Sprintf("%d requests to %s in 15 minutes", t.endpointLast15m, ev.Endpoint),
		RecommendedAction: ActionThrottleEndpoint,
	}
	if sensitive {
		f.Severity = SeverityHigh
		f.RecommendedAction = ActionBlockAIAccess
	}
	return f, true
}
