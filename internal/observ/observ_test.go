package observ

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggingLevels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SetupLogging(LogConfig{Level: "info", Format: "json"}, &buf))
	t.Cleanup(func() { _ = SetupLogging(LogConfig{Level: "info", Format: "json"}, nil) })

	Debug("hidden", nil)
	Log("tick_complete", map[string]any{"tick_id": "abc"})
	Error("send_failed", errors.New("boom"), map[string]any{"sender": "slack"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "tick_complete", first["event"])
	assert.Equal(t, "abc", first["tick_id"])
	assert.Equal(t, "info", first["level"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "boom", second["error"])
	assert.Equal(t, "error", second["level"])

	assert.Error(t, SetupLogging(LogConfig{Level: "loud"}, &buf))
}

func TestMetricsExposition(t *testing.T) {
	IncCounter("observ_test_events_total", map[string]string{"kind": "a"})
	IncCounterBy("observ_test_events_total", map[string]string{"kind": "a"}, 2)
	// A different label set for an existing metric is dropped.
	IncCounter("observ_test_events_total", map[string]string{"other": "x"})
	SetGauge("observ_test_gauge", 4.5, nil)
	RecordDuration("observ_test_latency", 3*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `spx0dte_observ_test_events_total{kind="a"} 3`)
	assert.Contains(t, body, "spx0dte_observ_test_gauge 4.5")
	assert.Contains(t, body, "spx0dte_observ_test_latency_ms_count 1")
	assert.NotContains(t, body, `other="x"`)
}

func TestVersionAndUptime(t *testing.T) {
	SetVersion("1.2.3")
	t.Cleanup(func() { SetVersion("dev") })
	assert.Equal(t, "1.2.3", Version())
	assert.GreaterOrEqual(t, Uptime(), time.Duration(0))
}
