package anomaly

import "time"

const (
	maxCommonEndpoints = 20
	maxTypicalSources  = 10

	// emaAlpha weights the newest sample of both moving averages.
	emaAlpha = 0.1
)

// learn folds one event into the profile. lastHour is the subject's event
// count over the past hour, the current event included.
func (p *Profile) learn(ev *Event, hour, lastHour int) {
	p.TypicalHours.Add(hour)
	p.CommonEndpoints = appendBounded(p.CommonEndpoints, ev.Endpoint, maxCommonEndpoints)
	if ev.SourceAddress != "" {
		p.TypicalSources = appendBounded(p.TypicalSources, ev.SourceAddress, maxTypicalSources)
	}

	ms := float64(ev.ResponseTime) / float64(time.Millisecond)
	p.AverageResponseTimeMs = ema(p.AverageResponseTimeMs, ms)
	p.AverageRequestsPerHour = ema(p.AverageRequestsPerHour, float64(lastHour))

	if ev.Timestamp.After(p.LastSeen) {
		p.LastSeen = ev.Timestamp
	}
}

func ema(prev, sample float64) float64 {
	return emaAlpha*sample + (1-emaAlpha)*prev
}

// appendBounded appends v and trims the oldest entries beyond max.
func appendBounded(list []string, v string, max int) []string {
	list = append(list, v)
	if over := len(list) - max; over > 0 {
		list = append(list[:0], list[over:]...)
	}
	return list
}
