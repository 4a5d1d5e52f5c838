package behavior

import (
	"fmt"
	"math"
	"time"

	"github.com/wardstone/wardstone/pkg/threat"
)

const (
	// An action firing more than this multiple of its baseline count is a
	// frequency anomaly.
	frequencyMultiplier = 5

	// Hours of distance from the baseline mean hour before an event is a
	// time-of-day anomaly.
	timeOfDayMaxDrift = 8

	anomalySource = "behavior_analysis"
)

// Detector compares a session's current activity against its baseline.
// Both checks are independent; one event can trigger both. Neither check
// ever mutates the profile.
type Detector struct{}

// NewDetector builds the anomaly detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Check runs the frequency and time-of-day checks for one just-recorded
// event against the profile state that Record returned.
func (d *Detector) Check(p Profile, action string, at time.Time) []threat.Threat {
	var out []threat.Threat

	if t, ok := d.checkFrequency(p, action); ok {
		out = append(out, t)
	}
	if t, ok := d.checkTimeOfDay(p, at); ok {
		out = append(out, t)
	}
	return out
}

// checkFrequency fires when the current count of an action exceeds five times
// its baseline count. Actions absent from the baseline never fire: with no
// history there is nothing to deviate from.
func (d *Detector) checkFrequency(p Profile, action string) (threat.Threat, bool) {
	baseline := p.Baseline.Actions[action]
	if baseline <= 0 {
		return threat.Threat{}, false
	}
	current := p.Current.Actions[action]
	if current <= frequencyMultiplier*baseline {
		return threat.Threat{}, false
	}

	t := threat.New(threat.TypeSuspiciousBehavior, threat.SeverityMedium, 70,
		"Unusual action frequency",
		fmt.Sprintf("Action %q fired %d times against a baseline of %d", action, current, baseline),
		anomalySource)
	t.Target = p.SessionID
	t.Metadata = map[string]any{
		"action":        action,
		"currentCount":  current,
		"baselineCount": baseline,
	}
	return t, true
}

// checkTimeOfDay fires when the event hour is more than eight hours from the
// mean baseline hour. A baseline without time samples never fires.
func (d *Detector) checkTimeOfDay(p Profile, at time.Time) (threat.Threat, bool) {
	samples := p.Baseline.TimeOfDay
	if len(samples) == 0 {
		return threat.Threat{}, false
	}

	sum := 0
	for _, h := range samples {
		sum += h
	}
	mean := float64(sum) / float64(len(samples))

	hour := at.Hour()
	drift := math.Abs(float64(hour) - mean)
	if drift <= timeOfDayMaxDrift {
		return threat.Threat{}, false
	}

	t := threat.New(threat.TypeSuspiciousBehavior, threat.SeverityLow, 60,
		"Unusual time of activity",
		fmt.Sprintf("Activity at hour %d, baseline mean hour is %.1f", hour, mean),
		anomalySource)
	t.Target = p.SessionID
	t.Metadata = map[string]any{
		"currentHour":  hour,
		"baselineMean": mean,
	}
	return t, true
}

// RecordsFor converts detected anomaly threats into profile log entries.
func RecordsFor(threats []threat.Threat) []AnomalyRecord {
	out := make([]AnomalyRecord, 0, len(threats))
	for _, t := range threats {
		rec := AnomalyRecord{
			Timestamp: t.Timestamp,
			Kind:      t.Title,
			Detail:    t.Description,
		}
		if action, ok := t.Metadata["action"].(string); ok {
			rec.Action = action
		}
		out = append(out, rec)
	}
	return out
}
