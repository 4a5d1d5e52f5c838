package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/pkg/config"
	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/patterns"
	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

func testConfig() config.Config {
	return config.Config{
		EnableDetection:        true,
		EnableBehaviorAnalysis: true,
		EnableNetworkAnalysis:  true,
		EnableContentAnalysis:  true,
		EnableHeuristics:       true,
		ThreatThreshold:        50,
		AlertThresholds: config.AlertThresholds{
			ThreatsPerHour:         10,
			CriticalThreatsPerHour: 3,
			ConfidenceThreshold:    70,
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, store.KV) {
	t.Helper()
	kv := store.NewMemory()
	e, err := New(context.Background(), Options{Store: kv, Config: testConfig()})
	require.NoError(t, err)
	return e, kv
}

func TestAnalyzeContentRecordsScriptThreat(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	found := e.AnalyzeContent(ctx, `<script>alert(document.cookie)</script>`, "unit_test")
	require.NotEmpty(t, found)

	sawXSS := false
	for _, th := range found {
		if th.Type == threat.TypeXSS {
			sawXSS = true
			assert.NotEmpty(t, th.Indicators)
			assert.NotEmpty(t, th.Mitigations)
		}
	}
	assert.True(t, sawXSS, "script content should classify as xss")

	stored, err := e.GetThreats(ctx, ledger.Filter{}, 0)
	require.NoError(t, err)
	assert.Len(t, stored, len(found))
}

func TestAnalyzeContentDisabledReturnsNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	off := false
	_, err := e.UpdateConfig(ctx, config.Partial{EnableDetection: &off})
	require.NoError(t, err)

	found := e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")
	assert.Empty(t, found)

	stored, err := e.GetThreats(ctx, ledger.Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestThresholdSuppressesLowConfidence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	high := 95
	_, err := e.UpdateConfig(ctx, config.Partial{ThreatThreshold: &high})
	require.NoError(t, err)

	// Every built-in detection for this text scores below 95.
	found := e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")
	assert.Empty(t, found)

	stored, err := e.GetThreats(ctx, ledger.Filter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestAnalyzeNetworkRequestTagsMethod(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	found := e.AnalyzeNetworkRequest(ctx, "https://bit.ly/claim-prize", "GET", nil, "")
	require.Len(t, found, 1)
	assert.Equal(t, threat.TypePhishing, found[0].Type)
	assert.Equal(t, "GET", found[0].Metadata["method"])
}

func TestAnalyzeNetworkRequestScansBody(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	found := e.AnalyzeNetworkRequest(ctx, "https://example.com/submit", "POST",
		map[string]string{"content-type": "application/json"},
		`{"q":"1 UNION SELECT password FROM users"}`)
	require.NotEmpty(t, found)

	sawInjection := false
	for _, th := range found {
		if th.Type == threat.TypeInjection {
			sawInjection = true
			assert.Equal(t, "https://example.com/submit", th.Target)
		}
	}
	assert.True(t, sawInjection)
}

func TestAnalyzeBehaviorFrequencyAnomaly(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		e.AnalyzeBehavior(ctx, "delete_records", nil, "u1", "s1")
	}
	require.NoError(t, e.PromoteBaseline(ctx, "s1"))

	var anomalies []threat.Threat
	for i := 0; i < 11; i++ {
		anomalies = append(anomalies, e.AnalyzeBehavior(ctx, "delete_records", nil, "u1", "s1")...)
	}
	require.NotEmpty(t, anomalies, "11 events against a baseline of 2 should trip the frequency check")
	assert.Equal(t, threat.TypeSuspiciousBehavior, anomalies[0].Type)
	assert.Equal(t, "behavior_analysis", anomalies[0].Source)

	profile, ok, err := e.Profile(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, profile.Anomalies)

	stored, err := e.GetThreats(ctx, ledger.Filter{Type: threat.TypeSuspiciousBehavior}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
}

func TestAlertFiresWhenRateExceeded(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	one := 1
	_, err := e.UpdateConfig(ctx, config.Partial{
		AlertThresholds: &struct {
			ThreatsPerHour         *int `json:"threatsPerHour,omitempty"`
			CriticalThreatsPerHour *int `json:"criticalThreatsPerHour,omitempty"`
			ConfidenceThreshold    *int `json:"confidenceThreshold,omitempty"`
		}{ThreatsPerHour: &one},
	})
	require.NoError(t, err)

	e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")

	stored, err := e.GetThreats(ctx, ledger.Filter{}, 0)
	require.NoError(t, err)

	sawAlert := false
	for _, th := range stored {
		if th.Source == "threat_detector" {
			sawAlert = true
		}
	}
	assert.True(t, sawAlert, "exceeding the hourly rate should append an alert threat")
}

func TestResolveThreat(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	found := e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")
	require.NotEmpty(t, found)

	require.NoError(t, e.ResolveThreat(ctx, found[0].ID, "analyst", true))

	resolved := true
	stored, err := e.GetThreats(ctx, ledger.Filter{Resolved: &resolved}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, "analyst", stored[0].ResolvedBy)
	assert.True(t, stored[0].FalsePositive)

	err = e.ResolveThreat(ctx, "no-such-id", "analyst", false)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUpdateConfigPersistsAcrossRestart(t *testing.T) {
	e, kv := newTestEngine(t)
	ctx := context.Background()

	v := 80
	_, err := e.UpdateConfig(ctx, config.Partial{ThreatThreshold: &v})
	require.NoError(t, err)

	restarted, err := New(ctx, Options{Store: kv, Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, 80, restarted.Config().ThreatThreshold)
}

func TestCustomPatternsSeedOnce(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	cfg := testConfig()
	cfg.CustomPatterns = []patterns.Pattern{{
		Name:       "internal_hostname",
		Type:       threat.TypeDataExfiltration,
		Rule:       patterns.Rule{Kind: patterns.KindLiteral, Value: "corp.internal"},
		Severity:   threat.SeverityMedium,
		Confidence: 70,
		Enabled:    true,
	}}

	e, err := New(ctx, Options{Store: kv, Config: cfg})
	require.NoError(t, err)
	first, err := e.GetPatterns(ctx)
	require.NoError(t, err)

	// A restart over the same store must not duplicate the custom pattern.
	e2, err := New(ctx, Options{Store: kv, Config: cfg})
	require.NoError(t, err)
	second, err := e2.GetPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, second, len(first))

	found := e2.AnalyzeContent(ctx, "uploading dump to corp.internal now", "unit_test")
	sawCustom := false
	for _, th := range found {
		if th.Type == threat.TypeDataExfiltration {
			sawCustom = true
		}
	}
	assert.True(t, sawCustom, "custom pattern should participate in content analysis")
}

func TestGenerateReportAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")
	e.AnalyzeContent(ctx, `1 UNION SELECT * FROM accounts`, "unit_test")

	rep, err := e.GenerateReport(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, rep.PeriodDays)
	assert.Greater(t, rep.Summary.TotalThreats, 0)
	assert.NotZero(t, rep.Summary.ByType[threat.TypeXSS])
}

func TestGetStats(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	e.AnalyzeContent(ctx, `<script>alert(1)</script>`, "unit_test")

	stats, err := e.GetStats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.TotalThreats, 0)
	assert.Equal(t, stats.TotalThreats, stats.Unresolved)
	assert.GreaterOrEqual(t, stats.PatternCount, 4)
}

func TestClockOverride(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return fixed })

	e.AnalyzeBehavior(ctx, "login", nil, "u1", "s2")
	profile, ok, err := e.Profile(ctx, "s2")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, profile.Current.TimeOfDay)
	assert.Equal(t, 12, profile.Current.TimeOfDay[len(profile.Current.TimeOfDay)-1])
}
