package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

func appendThreat(t *testing.T, l *ledger.Ledger, mut func(*threat.Threat)) threat.Threat {
	t.Helper()
	th := threat.New(threat.TypeMalware, threat.SeverityLow, 80, "t", "d", "content_analysis")
	if mut != nil {
		mut(&th)
	}
	require.NoError(t, l.Append(context.Background(), th))
	return th
}

func TestEmptyStoreReport(t *testing.T) {
	l := ledger.New(store.NewMemory())
	g := NewGenerator(l)

	r, err := g.Generate(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Summary.TotalThreats)
	assert.Equal(t, float64(0), r.Summary.AverageConfidence)
	assert.Empty(t, r.Trends)
	assert.Empty(t, r.Recommendations)
	assert.Equal(t, 7, r.PeriodDays)
}

func TestDefaultPeriod(t *testing.T) {
	g := NewGenerator(ledger.New(store.NewMemory()))
	r, err := g.Generate(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDays, r.PeriodDays)
}

func TestSummaryAggregation(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMemory())
	now := time.Now()

	appendThreat(t, l, func(th *threat.Threat) {
		th.Type = threat.TypeXSS
		th.Severity = threat.SeverityHigh
		th.Confidence = 90
		th.Source = "content_analysis"
	})
	appendThreat(t, l, func(th *threat.Threat) {
		th.Type = threat.TypeXSS
		th.Severity = threat.SeverityCritical
		th.Confidence = 70
		th.Source = "network_analysis"
	})
	appendThreat(t, l, func(th *threat.Threat) {
		th.Type = threat.TypePhishing
		th.Severity = threat.SeverityMedium
		th.Confidence = 80
		th.Source = "content_analysis"
		th.Resolved = true
		th.FalsePositive = true
	})

	g := NewGenerator(l)
	g.SetNow(func() time.Time { return now })

	r, err := g.Generate(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, 3, r.Summary.TotalThreats)
	assert.Equal(t, 2, r.Summary.ByType[threat.TypeXSS])
	assert.Equal(t, 1, r.Summary.ByType[threat.TypePhishing])
	assert.Equal(t, 1, r.Summary.BySeverity[threat.SeverityCritical])
	assert.Equal(t, 2, r.Summary.Unresolved)
	assert.Equal(t, 1, r.Summary.FalsePositives)
	assert.InDelta(t, 80.0, r.Summary.AverageConfidence, 0.001)

	require.NotEmpty(t, r.Summary.TopSources)
	assert.Equal(t, "content_analysis", r.Summary.TopSources[0].Source)
	assert.Equal(t, 2, r.Summary.TopSources[0].Count)
}

func TestTrendBuckets(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMemory())
	now := time.Now()

	today := (now.UnixMilli() / dayMs) * dayMs
	yesterday := today - dayMs

	appendThreat(t, l, func(th *threat.Threat) {
		th.Timestamp = yesterday + 1000
		th.Severity = threat.SeverityCritical
	})
	appendThreat(t, l, func(th *threat.Threat) {
		th.Timestamp = yesterday + 2000
		th.Resolved = true
	})
	appendThreat(t, l, func(th *threat.Threat) {
		th.Timestamp = today + 1000
	})

	g := NewGenerator(l)
	g.SetNow(func() time.Time { return now })

	r, err := g.Generate(ctx, 7)
	require.NoError(t, err)
	require.Len(t, r.Trends, 2)

	// ascending by day
	assert.Equal(t, yesterday, r.Trends[0].Day)
	assert.Equal(t, today, r.Trends[1].Day)

	assert.Equal(t, 2, r.Trends[0].Threats)
	assert.Equal(t, 1, r.Trends[0].Critical)
	assert.Equal(t, 1, r.Trends[0].Resolved)
	assert.Equal(t, 1, r.Trends[1].Threats)
}

func TestWindowExcludesOldThreats(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMemory())
	now := time.Now()

	appendThreat(t, l, func(th *threat.Threat) {
		th.Timestamp = now.UnixMilli() - 10*dayMs
	})
	appendThreat(t, l, nil)

	g := NewGenerator(l)
	g.SetNow(func() time.Time { return now })

	r, err := g.Generate(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Summary.TotalThreats)
}

func TestRecommendationRules(t *testing.T) {
	cases := []struct {
		name    string
		summary Summary
		want    int
	}{
		{"empty", Summary{ByType: map[threat.Type]int{}, BySeverity: map[threat.Severity]int{}}, 0},
		{"xss only", Summary{
			TotalThreats: 1,
			ByType:       map[threat.Type]int{threat.TypeXSS: 1},
			BySeverity:   map[threat.Severity]int{},
		}, 1},
		{"critical and unresolved", Summary{
			TotalThreats: 20,
			ByType:       map[threat.Type]int{},
			BySeverity:   map[threat.Severity]int{threat.SeverityCritical: 2},
			Unresolved:   11,
		}, 2},
		{"high false positive ratio", Summary{
			TotalThreats:   10,
			FalsePositives: 4,
			ByType:         map[threat.Type]int{},
			BySeverity:     map[threat.Severity]int{},
		}, 1},
		{"high severity pile", Summary{
			TotalThreats: 6,
			ByType:       map[threat.Type]int{},
			BySeverity:   map[threat.Severity]int{threat.SeverityHigh: 6},
		}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := recommendations(tc.summary)
			assert.Len(t, got, tc.want)
		})
	}
}
