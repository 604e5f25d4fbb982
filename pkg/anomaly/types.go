package anomaly

import (
	"fmt"
	"math/bits"
	"time"
)

// Event is one observed request.
type Event struct {
	SubjectID     string        `json:"subjectId"`
	SourceAddress string        `json:"sourceAddress"`
	Endpoint      string        `json:"endpoint"`
	Timestamp     time.Time     `json:"timestamp"`
	UserAgent     string        `json:"userAgent,omitempty"`
	ResponseTime  time.Duration `json:"responseTime"`
	StatusCode    int           `json:"statusCode"`
}

// authFailure reports whether the event ended in 401 or 403.
func (e *Event) authFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// Type identifies the heuristic that produced a finding.
type Type string

const (
	TypeRateSpike        Type = "RATE_SPIKE"
	TypeUnusualHours     Type = "UNUSUAL_HOURS"
	TypeSuspiciousSource Type = "SUSPICIOUS_SOURCE"
	TypeFailedAuthBurst  Type = "FAILED_AUTH_BURST"
	TypeEndpointAbuse    Type = "ENDPOINT_ABUSE"
)

// Severity orders findings. The zero value is not a valid severity.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the upper case name used in JSON and logs.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "LOW":
		*s = SeverityLow
	case "MEDIUM":
		*s = SeverityMedium
	case "HIGH":
		*s = SeverityHigh
	case "CRITICAL":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Action is the response a finding recommends.
type Action string

const (
	ActionBlockUser             Action = "BLOCK_USER"
	ActionIncreaseMonitoring    Action = "INCREASE_MONITORING"
	ActionRequireAdditionalAuth Action = "REQUIRE_ADDITIONAL_AUTH"
	ActionBlockIP               Action = "BLOCK_IP"
	ActionBlockIPImmediately    Action = "BLOCK_IP_IMMEDIATELY"
	ActionTemporaryBlockIP      Action = "TEMPORARY_BLOCK_IP"
	ActionLockAccount           Action = "LOCK_ACCOUNT"
	ActionRequireCaptcha        Action = "REQUIRE_CAPTCHA"
	ActionBlockAIAccess         Action = "BLOCK_AI_ACCESS"
	ActionThrottleEndpoint      Action = "THROTTLE_ENDPOINT"
)

// Finding is the output of one heuristic.
type Finding struct {
	Type              Type     `json:"type"`
	Severity          Severity `json:"severity"`
	Confidence        float64  `json:"confidence"`
	Description       string   `json:"description"`
	RecommendedAction Action   `json:"recommendedAction"`
}

// AtLeast returns the findings whose severity is min or higher.
func AtLeast(findings []Finding, min Severity) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Severity >= min {
			out = append(out, f)
		}
	}
	return out
}

// HourSet is a set of hours of the day, 0 to 23.
type HourSet uint32

// Add inserts hour h.
func (s *HourSet) Add(h int) {
	if h >= 0 && h < 24 {
		*s |= 1 << uint(h)
	}
}

// Has reports whether hour h is in the set.
func (s HourSet) Has(h int) bool {
	return h >= 0 && h < 24 && s&(1<<uint(h)) != 0
}

// Len returns the number of hours in the set.
func (s HourSet) Len() int {
	return bits.OnesCount32(uint32(s))
}

// Hours lists the hours in ascending order.
func (s HourSet) Hours() []int {
	hours := make([]int, 0, s.Len())
	for h := 0; h < 24; h++ {
		if s.Has(h) {
			hours = append(hours, h)
		}
	}
	return hours
}

// Profile is the learned behavior of one subject.
type Profile struct {
	SubjectID              string    `json:"subjectId"`
	TypicalHours           HourSet   `json:"typicalHours"`
	AverageRequestsPerHour float64   `json:"averageRequestsPerHour"`
	CommonEndpoints        []string  `json:"commonEndpoints"`
	AverageResponseTimeMs  float64   `json:"averageResponseTimeMs"`
	TypicalSources         []string  `json:"typicalSources"`
	LastSeen               time.Time `json:"lastSeen"`
}

func (p *Profile) clone() Profile {
	c := *p
	c.CommonEndpoints = append([]string(nil), p.CommonEndpoints...)
	c.TypicalSources = append([]string(nil), p.TypicalSources...)
	return c
}

// FlaggedSource is an entry of the suspicious source set.
type FlaggedSource struct {
	Address   string    `json:"address"`
	FlaggedAt time.Time `json:"flaggedAt"`
	Reason    Type      `json:"reason"`
	Detail    string    `json:"detail"`
}

// Stats summarizes detector state for the admin surface.
type Stats struct {
	ProfileCount          int `json:"profileCount"`
	SuspiciousSourceCount int `json:"suspiciousSourceCount"`
	EventHistorySize      int `json:"eventHistorySize"`
}

// Recorder receives detector measurements.
type Recorder interface {
	// RecordFinding records one finding.
	RecordFinding(t Type, s Severity)

	// RecordState records the current size of the detector's state.
	RecordState(stats Stats)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

// RecordFinding implements Recorder.
func (NopRecorder) RecordFinding(Type, Severity) {}

// RecordState implements Recorder.
func (NopRecorder) RecordState(Stats) {}
