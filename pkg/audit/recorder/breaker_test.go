package recorder

import (
	"testing"
	"time"
)

func TestBreaker_Transitions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []string
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, CoolDown: 10 * time.Second}, clock.Now,
		func(from, to BreakerState) { changes = append(changes, from.String()+"->"+to.String()) })

	steps := []struct {
		name      string
		do        func()
		wantAllow bool
		wantState BreakerState
	}{
		{"starts closed", func() {}, true, BreakerClosed},
		{"one failure stays closed", b.Failure, true, BreakerClosed},
		{"threshold opens", b.Failure, false, BreakerOpen},
		{"still cooling down", func() { clock.Advance(9 * time.Second) }, false, BreakerOpen},
		{"cool-down elapsed probes", func() { clock.Advance(time.Second) }, true, BreakerHalfOpen},
		{"failed probe reopens", b.Failure, false, BreakerOpen},
		{"second probe", func() { clock.Advance(10 * time.Second) }, true, BreakerHalfOpen},
		{"successful probe closes", b.Success, true, BreakerClosed},
	}

	for _, step := range steps {
		step.do()
		if got := b.Allow(); got != step.wantAllow {
			t.Fatalf("%s: Allow() = %v, want %v", step.name, got, step.wantAllow)
		}
		if got := b.State(); got != step.wantState {
			t.Fatalf("%s: State() = %s, want %s", step.name, got, step.wantState)
		}
	}

	want := []string{
		"closed->open",
		"open->half_open",
		"half_open->open",
		"open->half_open",
		"half_open->closed",
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %s, want %s", i, changes[i], want[i])
		}
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2}, nil, nil)
	b.Failure()
	b.Success()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Errorf("State() = %s, want closed", b.State())
	}
}
