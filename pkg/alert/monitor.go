// Package alert watches the trailing one-hour window of the threat ledger and
// raises meta-threats when configured thresholds are breached. Alerts are
// regular ledger entries: they count toward future windows themselves, and no
// deduplication is applied.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/wardstone/wardstone/pkg/config"
	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/threat"
)

// Window is the trailing range the monitor scans.
const Window = time.Hour

const monitorSource = "threat_detector"

// Monitor checks the ledger after every content/network analysis cycle.
type Monitor struct {
	ledger     *ledger.Ledger
	thresholds func() config.AlertThresholds

	// now is swappable for tests.
	now func() time.Time
}

// NewMonitor builds a monitor. thresholds is read on every check so runtime
// config updates take effect immediately.
func NewMonitor(l *ledger.Ledger, thresholds func() config.AlertThresholds) *Monitor {
	return &Monitor{
		ledger:     l,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// SetNow overrides the monitor's clock. Test hook.
func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

// Check scans the trailing window and appends a meta-threat per breached
// threshold. Both the critical-count and total-count checks are independent
// and can fire in the same cycle. The appended meta-threats are returned.
func (m *Monitor) Check(ctx context.Context) ([]threat.Threat, error) {
	th := m.thresholds()
	nowMs := m.now().UnixMilli()
	windowStart := nowMs - Window.Milliseconds()

	inWindow, err := m.ledger.Query(ctx, ledger.Filter{
		StartDate: windowStart,
		EndDate:   nowMs,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("alert: window query: %w", err)
	}

	total := len(inWindow)
	critical := 0
	for _, t := range inWindow {
		if t.Severity == threat.SeverityCritical {
			critical++
		}
	}

	var fired []threat.Threat

	if critical >= th.CriticalThreatsPerHour {
		alert := threat.New(threat.TypeSuspiciousBehavior, threat.SeverityHigh, 90,
			"Critical threat threshold exceeded",
			fmt.Sprintf("%d critical threats in the last hour (threshold %d)", critical, th.CriticalThreatsPerHour),
			monitorSource)
		alert.Metadata = map[string]any{
			"criticalCount": critical,
			"threshold":     th.CriticalThreatsPerHour,
		}
		fired = append(fired, alert)
	}

	if total >= th.ThreatsPerHour {
		alert := threat.New(threat.TypeSuspiciousBehavior, threat.SeverityMedium, 80,
			"Threat volume threshold exceeded",
			fmt.Sprintf("%d threats in the last hour (threshold %d)", total, th.ThreatsPerHour),
			monitorSource)
		alert.Metadata = map[string]any{
			"totalCount": total,
			"threshold":  th.ThreatsPerHour,
		}
		fired = append(fired, alert)
	}

	for _, alert := range fired {
		if err := m.ledger.Append(ctx, alert); err != nil {
			return fired, fmt.Errorf("alert: append: %w", err)
		}
	}
	return fired, nil
}
