package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "daemon", c.Mode)
	assert.Equal(t, 60, c.Snapshot.IntervalSecs)
	assert.Equal(t, "file", c.State.Backend)
	assert.Equal(t, "data/outbox.jsonl", c.Outbox.Path)
	assert.True(t, c.Alerts.Enabled)
	assert.Equal(t, 300*time.Second, c.Alerts.ReadyCooldown())
	assert.Equal(t, 600*time.Second, c.Alerts.ExitCooldown())
	assert.InDelta(t, 0.60, c.Exit.ProfitThresholdCondor, 1e-9)
	assert.Equal(t, 60, c.Exit.MaxHoldFlyMin)
	assert.True(t, c.Exit.EnablePegExit)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "Europe/Paris", c.Display().String())
}

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
mode: once
alerts:
  enabled: false
  exit_cooldown_seconds: 120
exit:
  profit_threshold_fly: 0.5
state:
  backend: memory
`)
	t.Setenv("SPX0DTE_STATE_BACKEND", "redis")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("SPX0DTE_LOG_LEVEL", "debug")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "once", c.Mode)
	assert.False(t, c.Alerts.Enabled)
	assert.Equal(t, 2*time.Minute, c.Alerts.ExitCooldown())
	assert.InDelta(t, 0.5, c.Exit.ProfitThresholdFly, 1e-9)
	assert.InDelta(t, 0.60, c.Exit.ProfitThresholdCondor, 1e-9)
	assert.Equal(t, "redis", c.State.Backend)
	assert.Equal(t, "tok", c.Alerts.TelegramToken)
	assert.Equal(t, "42", c.Alerts.TelegramChatID)
	assert.Equal(t, "debug", c.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "state:\n  backend: sqlite\n", "Backend(oneof)"},
		{"threshold above one", "exit:\n  profit_threshold_condor: 1.5\n", "ProfitThresholdCondor(lte)"},
		{"bad yaml", "mode: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadBWBSettings(t *testing.T) {
	def := strategy.DefaultBWBSettings()

	assert.Equal(t, def, LoadBWBSettings(filepath.Join(t.TempDir(), "none.json")))
	assert.Equal(t, def, LoadBWBSettings(writeFile(t, "bad.json", "{not json")))

	s := LoadBWBSettings(writeFile(t, "bwb.json",
		`{"target_dte": 3, "iv_rank_threshold": "high", "adjustment_mode": "roll", "allow_adjustments": true}`))
	assert.Equal(t, 7, s.TargetDTE)
	assert.InDelta(t, def.IVRankThreshold, s.IVRankThreshold, 1e-9)
	assert.Equal(t, strategy.AdjustRoll, s.AdjustmentMode)
	assert.True(t, s.AllowAdjustments)
}

func TestLoadMultiDTESettings(t *testing.T) {
	path := writeFile(t, "multi.json", `{"policy": "soft", "target_dtes": [14, 2, 14, -1], "soft_z_fraction": 2, "enabled": "yes"}`)

	s := LoadMultiDTESettings(path)
	assert.Equal(t, strategy.PolicySoft, s.Policy)
	assert.Equal(t, []int{2, 14}, s.TargetDTEs)
	assert.InDelta(t, 1.0, s.SoftZFraction, 1e-9)
	assert.True(t, s.Enabled)

	t.Setenv("SPX0DTE_MULTI_DTE_POLICY", "hard")
	assert.Equal(t, strategy.PolicyHard, LoadMultiDTESettings(path).Policy)

	empty := LoadMultiDTESettings(writeFile(t, "empty.json", `{"target_dtes": []}`))
	assert.Equal(t, []int{2, 7, 14, 30, 45}, empty.TargetDTEs)
}
