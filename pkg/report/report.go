// Package report aggregates the threat ledger over a trailing N-day window
// into a summary, per-day trend buckets, and a fixed set of recommendations.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/threat"
)

// DefaultDays is the report window used when the caller passes none.
const DefaultDays = 7

const dayMs = 24 * 60 * 60 * 1000

// SourceCount is one entry of the top-sources ranking.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary is the aggregate block of a report.
type Summary struct {
	TotalThreats      int                      `json:"totalThreats"`
	ByType            map[threat.Type]int      `json:"byType"`
	BySeverity        map[threat.Severity]int  `json:"bySeverity"`
	Unresolved        int                      `json:"unresolved"`
	FalsePositives    int                      `json:"falsePositives"`
	AverageConfidence float64                  `json:"averageConfidence"`
	TopSources        []SourceCount            `json:"topSources"`
}

// DayBucket is one calendar day of the trend series. Day is the bucket start
// in epoch ms, floored to a day boundary.
type DayBucket struct {
	Day      int64 `json:"day"`
	Threats  int   `json:"threats"`
	Critical int   `json:"critical"`
	Resolved int   `json:"resolved"`
}

// Report is the full output of Generate.
type Report struct {
	GeneratedAt     int64       `json:"generatedAt"`
	PeriodDays      int         `json:"periodDays"`
	Summary         Summary     `json:"summary"`
	Trends          []DayBucket `json:"trends"`
	Recommendations []string    `json:"recommendations"`
}

// Generator builds reports from the ledger.
type Generator struct {
	ledger *ledger.Ledger
	now    func() time.Time
}

// NewGenerator builds a report generator.
func NewGenerator(l *ledger.Ledger) *Generator {
	return &Generator{ledger: l, now: time.Now}
}

// SetNow overrides the generator's clock. Test hook.
func (g *Generator) SetNow(now func() time.Time) {
	g.now = now
}

// Generate aggregates the trailing days-day window. days <= 0 selects the
// default window.
func (g *Generator) Generate(ctx context.Context, days int) (Report, error) {
	if days <= 0 {
		days = DefaultDays
	}
	nowMs := g.now().UnixMilli()
	start := nowMs - int64(days)*dayMs

	threats, err := g.ledger.Query(ctx, ledger.Filter{StartDate: start, EndDate: nowMs}, 0)
	if err != nil {
		return Report{}, fmt.Errorf("report: window query: %w", err)
	}

	r := Report{
		GeneratedAt: nowMs,
		PeriodDays:  days,
		Summary: Summary{
			ByType:     make(map[threat.Type]int),
			BySeverity: make(map[threat.Severity]int),
			TopSources: []SourceCount{},
		},
		Trends:          []DayBucket{},
		Recommendations: []string{},
	}

	if len(threats) == 0 {
		return r, nil
	}

	confidenceSum := 0
	sources := make(map[string]int)
	buckets := make(map[int64]*DayBucket)

	for _, t := range threats {
		r.Summary.TotalThreats++
		r.Summary.ByType[t.Type]++
		r.Summary.BySeverity[t.Severity]++
		if !t.Resolved {
			r.Summary.Unresolved++
		}
		if t.FalsePositive {
			r.Summary.FalsePositives++
		}
		confidenceSum += t.Confidence
		sources[t.Source]++

		day := (t.Timestamp / dayMs) * dayMs
		b, ok := buckets[day]
		if !ok {
			b = &DayBucket{Day: day}
			buckets[day] = b
		}
		b.Threats++
		if t.Severity == threat.SeverityCritical {
			b.Critical++
		}
		if t.Resolved {
			b.Resolved++
		}
	}

	r.Summary.AverageConfidence = float64(confidenceSum) / float64(len(threats))
	r.Summary.TopSources = topSources(sources, 10)

	for _, b := range buckets {
		r.Trends = append(r.Trends, *b)
	}
	sort.Slice(r.Trends, func(i, j int) bool { return r.Trends[i].Day < r.Trends[j].Day })

	r.Recommendations = recommendations(r.Summary)
	return r, nil
}

// topSources ranks sources by frequency descending, ties broken by name for
// stable output.
func topSources(counts map[string]int, n int) []SourceCount {
	out := make([]SourceCount, 0, len(counts))
	for s, c := range counts {
		out = append(out, SourceCount{Source: s, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// recommendations applies the fixed rule set to a summary. Rules are
// independent and order-stable; any subset may be empty.
func recommendations(s Summary) []string {
	out := []string{}

	if s.ByType[threat.TypeXSS] > 0 {
		out = append(out, "Harden against XSS: deploy a Content Security Policy and validate all user input")
	}
	if s.ByType[threat.TypeInjection] > 0 {
		out = append(out, "Harden data access: use parameterized queries and strict input validation")
	}
	if s.ByType[threat.TypePhishing] > 0 {
		out = append(out, "Enable domain filtering and run user phishing-awareness training")
	}
	if critical := s.BySeverity[threat.SeverityCritical]; critical > 0 {
		out = append(out, fmt.Sprintf("Take immediate action: %d critical threat(s) detected in this period", critical))
	}
	if s.BySeverity[threat.SeverityHigh] > 5 {
		out = append(out, "Schedule a security review: high-severity detections are elevated")
	}
	if s.Unresolved > 10 {
		out = append(out, "Establish regular threat-review sessions: unresolved backlog is growing")
	}
	if s.TotalThreats > 0 {
		ratio := float64(s.FalsePositives) / float64(s.TotalThreats)
		if ratio > 0.3 {
			out = append(out, "Tune detection parameters: false-positive ratio exceeds 30%")
		}
	}

	return out
}
