package anomaly

import "testing"

func TestCheckRateSpike(t *testing.T) {
	tests := []struct {
		name         string
		avgPerHour   float64
		last5m       int
		wantOK       bool
		wantSeverity Severity
		wantAction   Action
	}{
		{"below minimum", 0, 10, false, 0, ""},
		{"zero baseline", 0, 11, true, SeverityCritical, ActionBlockUser},
		{"within three times baseline", 120, 30, false, 0, ""},
		{"medium spike", 120, 35, true, SeverityMedium, ActionIncreaseMonitoring},
		{"high spike", 120, 60, true, SeverityHigh, ActionBlockUser},
		{"critical spike", 120, 101, true, SeverityCritical, ActionBlockUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{AverageRequestsPerHour: tt.avgPerHour}
			f, ok := checkRateSpike(p, tally{subjectLast5m: tt.last5m})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if f.Severity != tt.wantSeverity || f.RecommendedAction != tt.wantAction {
				t.Errorf("finding = %+v, want %s/%s", f, tt.wantSeverity, tt.wantAction)
			}
			if f.Confidence < 0 || f.Confidence > 1 {
				t.Errorf("confidence = %v out of range", f.Confidence)
			}
		})
	}
}

func TestCheckRateSpike_Confidence(t *testing.T) {
	// expected = 10 per 5 minutes; 35 / (10*5) = 0.7
	f, ok := checkRateSpike(&Profile{AverageRequestsPerHour: 120}, tally{subjectLast5m: 35})
	if !ok {
		t.Fatal("expected finding")
	}
	if f.Confidence < 0.699 || f.Confidence > 0.701 {
		t.Errorf("confidence = %v, want 0.7", f.Confidence)
	}
}

func TestCheckRateSpike_ZeroBaseline(t *testing.T) {
	p := &Profile{}

	if _, ok := checkRateSpike(p, tally{subjectLast5m: rateSpikeMinimum}); ok {
		t.Fatalf("%d requests: spike requires more than the minimum", rateSpikeMinimum)
	}

	f, ok := checkRateSpike(p, tally{subjectLast5m: rateSpikeMinimum + 1})
	if !ok {
		t.Fatal("expected RATE_SPIKE with no learned baseline")
	}
	if f.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", f.Confidence)
	}
	if f.Severity != SeverityCritical || f.RecommendedAction != ActionBlockUser {
		t.Errorf("finding = %+v, want CRITICAL/BLOCK_USER", f)
	}
}

func TestCheckUnusualHours(t *testing.T) {
	var typical HourSet
	typical.Add(9)

	tests := []struct {
		name         string
		hours        HourSet
		hour         int
		last2h       int
		wantOK       bool
		wantSeverity Severity
	}{
		{"fresh profile", 0, 3, 100, false, 0},
		{"typical hour", typical, 9, 100, false, 0},
		{"quiet at unusual hour", typical, 3, 20, false, 0},
		{"busy at unusual hour", typical, 3, 21, true, SeverityMedium},
		{"very busy at unusual hour", typical, 3, 51, true, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Profile{TypicalHours: tt.hours}
			f, ok := checkUnusualHours(p, tt.hour, tally{subjectLast2h: tt.last2h})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && f.Severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", f.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestCheckSuspiciousSource(t *testing.T) {
	subjects := func(n int) map[string]struct{} {
		m := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			m[string(rune('a'+i))] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name       string
		flagged    bool
		t          tally
		wantOK     bool
		wantFlag   bool
		wantAction Action
	}{
		{"already flagged", true, tally{}, true, false, ActionBlockIP},
		{"botnet", false, tally{sourceEvents: 101, sourceSubjects: subjects(11)}, true, true, ActionBlockIPImmediately},
		{"many events few subjects", false, tally{sourceEvents: 500, sourceSubjects: subjects(10)}, false, false, ""},
		{"many subjects few events", false, tally{sourceEvents: 100, sourceSubjects: subjects(20)}, false, false, ""},
		{"auth failures", false, tally{sourceEvents: 60, sourceFailures: 51, sourceSubjects: subjects(1)}, true, true, ActionTemporaryBlockIP},
		{"auth failures at threshold", false, tally{sourceEvents: 60, sourceFailures: 50, sourceSubjects: subjects(1)}, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok, flag := checkSuspiciousSource(tt.flagged, tt.t)
			if ok != tt.wantOK || flag != tt.wantFlag {
				t.Fatalf("ok, flag = %v, %v, want %v, %v", ok, flag, tt.wantOK, tt.wantFlag)
			}
			if ok && f.RecommendedAction != tt.wantAction {
				t.Errorf("action = %s, want %s", f.RecommendedAction, tt.wantAction)
			}
		})
	}
}

func TestCheckFailedAuthBurst(t *testing.T) {
	failed := &Event{StatusCode: 401}
	ok200 := &Event{StatusCode: 200}

	tests := []struct {
		name         string
		ev           *Event
		count        int
		wantOK       bool
		wantSeverity Severity
		wantAction   Action
	}{
		{"success never triggers", ok200, 50, false, 0, ""},
		{"below minimum", failed, 4, false, 0, ""},
		{"at minimum", failed, 5, true, SeverityMedium, ActionRequireCaptcha},
		{"high", failed, 11, true, SeverityHigh, ActionRequireCaptcha},
		{"critical boundary", failed, 15, true, SeverityHigh, ActionRequireCaptcha},
		{"critical", failed, 16, true, SeverityCritical, ActionLockAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := checkFailedAuthBurst(tt.ev, tally{subjectFailed10m: tt.count})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (f.Severity != tt.wantSeverity || f.RecommendedAction != tt.wantAction) {
				t.Errorf("finding = %+v, want %s/%s", f, tt.wantSeverity, tt.wantAction)
			}
		})
	}
}

func TestHourSet(t *testing.T) {
	var s HourSet
	s.Add(0)
	s.Add(23)
	s.Add(23)
	s.Add(24)
	s.Add(-1)

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if got := s.Hours(); len(got) != 2 || got[0] != 0 || got[1] != 23 {
		t.Errorf("Hours() = %v, want [0 23]", got)
	}
	if s.Has(12) {
		t.Error("Has(12) = true")
	}
}

func TestSeverityText(t *testing.T) {
	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		text, _ := s.MarshalText()
		var back Severity
		if err := back.UnmarshalText(text); err != nil || back != s {
			t.Errorf("round trip of %s = %s, %v", s, back, err)
		}
	}
	var s Severity
	if err := s.UnmarshalText([]byte("SEVERE")); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestAtLeast(t *testing.T) {
	findings := []Finding{
		{Type: TypeRateSpike, Severity: SeverityLow},
		{Type: TypeUnusualHours, Severity: SeverityMedium},
		{Type: TypeFailedAuthBurst, Severity: SeverityCritical},
	}
	if got := AtLeast(findings, SeverityMedium); len(got) != 2 {
		t.Errorf("AtLeast(MEDIUM) = %d findings, want 2", len(got))
	}
	if got := AtLeast(findings, SeverityCritical); len(got) != 1 {
		t.Errorf("AtLeast(CRITICAL) = %d findings, want 1", len(got))
	}
}
