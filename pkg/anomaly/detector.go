package anomaly

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rpzk/throttleguard/internal/ring"
)

// Config configures a Detector.
type Config struct {
	// HistoryCapacity bounds the event history.
	// Default: 10000
	HistoryCapacity int

	// HistoryRetention is how far back the sweep keeps events.
	// Default: 24 hours
	HistoryRetention time.Duration

	// SuspiciousSourceTTL is how long a flagged source stays flagged.
	// Default: 7 days
	SuspiciousSourceTTL time.Duration

	// SensitivePrefixes are endpoint prefixes that get the lower abuse
	// threshold.
	// Default: "/api/ai", "/api/analysis"
	SensitivePrefixes []string

	// Location is the time zone used for hour-of-day.
	// Default: UTC
	Location *time.Location

	// Clock stamps events that arrive without a timestamp.
	Clock func() time.Time

	// Recorder receives finding and state measurements.
	Recorder Recorder
}

// Detector runs the heuristics and owns all learned state.
type Detector struct {
	mu       sync.Mutex
	history  *ring.Buffer[Event]
	profiles map[string]*Profile
	sources  map[string]FlaggedSource

	config   Config
	recorder Recorder
	logger   *slog.Logger
}

// NewDetector creates an empty Detector.
func NewDetector(cfg Config) *Detector {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = 10000
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 24 * time.Hour
	}
	if cfg.SuspiciousSourceTTL <= 0 {
		cfg.SuspiciousSourceTTL = 7 * 24 * time.Hour
	}
	if cfg.SensitivePrefixes == nil {
		cfg.SensitivePrefixes = []string{"/api/ai", "/api/analysis"}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NopRecorder{}
	}

	return &Detector{
		history:  ring.New[Event](cfg.HistoryCapacity),
		profiles: make(map[string]*Profile),
		sources:  make(map[string]FlaggedSource),
		config:   cfg,
		recorder: cfg.Recorder,
		logger:   slog.Default().With("component", "anomaly.detector"),
	}
}

// Analyze records ev, evaluates every heuristic against it and updates the
// subject's profile. The returned findings are in heuristic order.
func (d *Detector) Analyze(ctx context.Context, ev Event) []Finding {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.config.Clock()
	}
	hour := ev.Timestamp.In(d.config.Location).Hour()

	d.mu.Lock()

	d.history.Push(ev)
	t := countEvents(d.history, &ev)

	profile, ok := d.profiles[ev.SubjectID]
	if !ok {
		profile = &Profile{SubjectID: ev.SubjectID}
		d.profiles[ev.SubjectID] = profile
	}

	var findings []Finding

	if f, ok := checkRateSpike(profile, t); ok {
		findings = append(findings, f)
	}
	if f, ok := checkUnusualHours(profile, hour, t); ok {
		findings = append(findings, f)
	}
	if ev.SourceAddress != "" {
		f, ok, flag := checkSuspiciousSource(d.flaggedLocked(ev.SourceAddress, ev.Timestamp), t)
		if ok {
			findings = append(findings, f)
		}
		if flag {
			d.sources[ev.SourceAddress] = FlaggedSource{
				Address:   ev.SourceAddress,
				FlaggedAt: ev.Timestamp,
				Reason:    TypeSuspiciousSource,
				Detail:    f.Description,
			}
			d.logger.Warn("source flagged",
				"source", ev.SourceAddress,
				"severity", f.Severity,
				"detail", f.Description,
			)
		}
	}
	if f, ok := checkFailedAuthBurst(&ev, t); ok {
		findings = append(findings, f)
	}
	if f, ok := checkEndpointAbuse(&ev, d.sensitive(ev.Endpoint), t); ok {
		findings = append(findings, f)
	}

	profile.learn(&ev, hour, t.subjectLastHour)

	stats := d.statsLocked()
	d.mu.Unlock()

	for _, f := range findings {
		d.recorder.RecordFinding(f.Type, f.Severity)
	}
	d.recorder.RecordState(stats)

	return findings
}

// flaggedLocked reports whether addr is flagged and not yet expired. Expired
// entries are dropped on sight.
func (d *Detector) flaggedLocked(addr string, now time.Time) bool {
	src, ok := d.sources[addr]
	if !ok {
		return false
	}
	if now.Sub(src.FlaggedAt) >= d.config.SuspiciousSourceTTL {
		delete(d.sources, addr)
		return false
	}
	return true
}

func (d *Detector) sensitive(endpoint string) bool {
	for _, p := range d.config.SensitivePrefixes {
		if strings.HasPrefix(endpoint, p) {
			return true
		}
	}
	return false
}

// Sweep drops history older than the retention and flagged sources older
// than their TTL, relative to now.
func (d *Detector) Sweep(now time.Time) (prunedEvents, expiredSources int) {
	d.mu.Lock()
	cutoff := now.Add(-d.config.HistoryRetention)
	prunedEvents = d.history.Retain(func(e *Event) bool {
		return !e.Timestamp.Before(cutoff)
	})
	for addr, src := range d.sources {
		if now.Sub(src.FlaggedAt) >= d.config.SuspiciousSourceTTL {
			delete(d.sources, addr)
			expiredSources++
		}
	}
	stats := d.statsLocked()
	d.mu.Unlock()

	d.recorder.RecordState(stats)
	return prunedEvents, expiredSources
}

// Stats returns the current state sizes.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statsLocked()
}

func (d *Detector) statsLocked() Stats {
	return Stats{
		ProfileCount:          len(d.profiles),
		SuspiciousSourceCount: len(d.sources),
		EventHistorySize:      d.history.Len(),
	}
}

// Profile returns a copy of the subject's profile.
func (d *Detector) Profile(subjectID string) (Profile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[subjectID]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// IsFlagged reports whether addr is currently in the suspicious source set.
func (d *Detector) IsFlagged(addr string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flaggedLocked(addr, d.config.Clock())
}

// FlaggedSources lists the suspicious source set.
func (d *Detector) FlaggedSources() []FlaggedSource {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]FlaggedSource, 0, len(d.sources))
	for _, src := range d.sources {
		out = append(out, src)
	}
	return out
}
