package limits

import "time"

// Recorder receives limiter measurements. The telemetry collector implements
// it; NopRecorder is used when metrics are disabled.
type Recorder interface {
	// RecordCheck records one check and its latency.
	RecordCheck(limiter string, category Category, allowed bool, duration time.Duration)

	// RecordBlock records a subject entering a block.
	RecordBlock(limiter string, category Category)

	// RecordFailOpen records a check answered without the coordination store.
	RecordFailOpen(limiter string)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

// RecordCheck implements Recorder.
func (NopRecorder) RecordCheck(string, Category, bool, time.Duration) {}

// RecordBlock implements Recorder.
func (NopRecorder) RecordBlock(string, Category) {}

// RecordFailOpen implements Recorder.
func (NopRecorder) RecordFailOpen(string) {}
