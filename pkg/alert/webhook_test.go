package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardstone/wardstone/pkg/threat"
)

func TestNotifierPost(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier()
	alerts := []threat.Threat{
		threat.New(threat.TypeSuspiciousBehavior, threat.SeverityHigh, 90,
			"Critical threat rate exceeded", "3 critical threats in the last hour", "threat_detector"),
	}

	require.NoError(t, n.Post(context.Background(), server.URL, alerts))
	require.Len(t, received.Alerts, 1)
	assert.Equal(t, alerts[0].ID, received.Alerts[0].ID)
	assert.NotZero(t, received.FiredAt)
}

func TestNotifierPostRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	n := NewNotifier()
	err := n.Post(context.Background(), server.URL, []threat.Threat{
		threat.New(threat.TypeXSS, threat.SeverityHigh, 90, "t", "d", "s"),
	})
	assert.ErrorContains(t, err, "403")
}

func TestNotifierDeliverSkipsEmpty(t *testing.T) {
	n := NewNotifier()
	assert.False(t, n.Deliver("http://127.0.0.1:1/hook", nil))
	assert.False(t, n.Deliver("", []threat.Threat{
		threat.New(threat.TypeXSS, threat.SeverityHigh, 90, "t", "d", "s"),
	}))
}
