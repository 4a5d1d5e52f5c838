package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

func testThreat(typ threat.Type, sev threat.Severity, ts int64) threat.Threat {
	t := threat.New(typ, sev, 75, "test threat", "test", "unit_test")
	t.Timestamp = ts
	return t
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())

	base := time.Now().UnixMilli()
	// Insert out of timestamp order on purpose.
	require.NoError(t, l.Append(ctx, testThreat(threat.TypeXSS, threat.SeverityHigh, base-1000)))
	require.NoError(t, l.Append(ctx, testThreat(threat.TypePhishing, threat.SeverityMedium, base+2000)))
	require.NoError(t, l.Append(ctx, testThreat(threat.TypeXSS, threat.SeverityLow, base)))

	got, err := l.Query(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Always timestamp-descending, regardless of insertion order.
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Timestamp, got[i].Timestamp)
	}

	// Querying again returns the same result.
	again, err := l.Query(ctx, Filter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	base := time.Now().UnixMilli()

	require.NoError(t, l.Append(ctx, testThreat(threat.TypeXSS, threat.SeverityHigh, base)))
	require.NoError(t, l.Append(ctx, testThreat(threat.TypeInjection, threat.SeverityCritical, base+1)))
	low := testThreat(threat.TypeXSS, threat.SeverityLow, base+2)
	low.Confidence = 30
	require.NoError(t, l.Append(ctx, low))

	byType, err := l.Query(ctx, Filter{Type: threat.TypeXSS}, 0)
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	bySev, err := l.Query(ctx, Filter{Severity: threat.SeverityCritical}, 0)
	require.NoError(t, err)
	assert.Len(t, bySev, 1)

	byConf, err := l.Query(ctx, Filter{MinConfidence: 50}, 0)
	require.NoError(t, err)
	assert.Len(t, byConf, 2)

	byWindow, err := l.Query(ctx, Filter{StartDate: base + 1, EndDate: base + 2}, 0)
	require.NoError(t, err)
	assert.Len(t, byWindow, 2)

	unresolved := false
	byResolved, err := l.Query(ctx, Filter{Resolved: &unresolved}, 0)
	require.NoError(t, err)
	assert.Len(t, byResolved, 3)

	limited, err := l.Query(ctx, Filter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	// The limit applies after sorting: newest two entries survive.
	assert.Equal(t, base+2, limited[0].Timestamp)
}

func TestRetentionTrimsOldestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewWithCap(store.NewMemory(), 5)
	base := time.Now().UnixMilli()

	for i := 0; i < 8; i++ {
		th := testThreat(threat.TypeXSS, threat.SeverityLow, base+int64(i))
		th.Title = fmt.Sprintf("threat-%d", i)
		require.NoError(t, l.Append(ctx, th))
	}

	got, err := l.Query(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 5, "ledger must never exceed its cap")

	// threats 0-2 were inserted first and must be gone
	titles := make(map[string]bool)
	for _, th := range got {
		titles[th.Title] = true
	}
	for i := 0; i < 3; i++ {
		assert.False(t, titles[fmt.Sprintf("threat-%d", i)], "oldest insertions must be trimmed first")
	}
	for i := 3; i < 8; i++ {
		assert.True(t, titles[fmt.Sprintf("threat-%d", i)])
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())

	th := testThreat(threat.TypeInjection, threat.SeverityHigh, time.Now().UnixMilli())
	require.NoError(t, l.Append(ctx, th))

	require.NoError(t, l.Resolve(ctx, th.ID, "analyst-7", true))

	got, err := l.Query(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	resolved := got[0]
	assert.True(t, resolved.Resolved)
	assert.True(t, resolved.FalsePositive)
	assert.Equal(t, "analyst-7", resolved.ResolvedBy)
	assert.NotZero(t, resolved.ResolvedAt)

	// every other field is unchanged
	assert.Equal(t, th.ID, resolved.ID)
	assert.Equal(t, th.Type, resolved.Type)
	assert.Equal(t, th.Severity, resolved.Severity)
	assert.Equal(t, th.Confidence, resolved.Confidence)
	assert.Equal(t, th.Title, resolved.Title)
	assert.Equal(t, th.Timestamp, resolved.Timestamp)
}

func TestResolveUnknownID(t *testing.T) {
	l := New(store.NewMemory())
	err := l.Resolve(context.Background(), "no-such-threat", "analyst", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())

	th := threat.New(threat.TypePhishing, threat.SeverityHigh, 80,
		"Suspicious hostname", "hostname matched shortener pattern", "network_analysis")
	th.Target = "https://bit.ly/xyz"
	th.Indicators = []string{"bit.ly"}
	th.Metadata = map[string]any{"fragment": "bit.ly"}
	require.NoError(t, l.Append(ctx, th))

	got, err := l.Query(ctx, Filter{
		Type:      threat.TypePhishing,
		StartDate: th.Timestamp - 1,
		EndDate:   th.Timestamp + 1,
	}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)

	back := got[0]
	assert.Equal(t, th.ID, back.ID)
	assert.Equal(t, th.Indicators, back.Indicators)
	assert.Equal(t, th.Mitigations, back.Mitigations)
	assert.Equal(t, th.Target, back.Target)
	assert.Equal(t, "bit.ly", back.Metadata["fragment"])
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	base := time.Now().UnixMilli()

	for i := 0; i < 4; i++ {
		sev := threat.SeverityLow
		if i%2 == 0 {
			sev = threat.SeverityCritical
		}
		require.NoError(t, l.Append(ctx, testThreat(threat.TypeMalware, sev, base+int64(i))))
	}

	n, err := l.Count(ctx, Filter{Severity: threat.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
