package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SPX0DTE_STATE_BACKEND", "file")
	t.Setenv("SPX0DTE_STATE_PATH", filepath.Join(dir, "lifecycle.json"))
	t.Setenv("SPX0DTE_OUTBOX_PATH", filepath.Join(dir, "outbox.jsonl"))
	t.Setenv("SPX0DTE_SNAPSHOT_PATH", filepath.Join(dir, "snapshot.json"))
	t.Setenv("SPX0DTE_MACRO_CALENDAR", filepath.Join(dir, "macro.json"))
	t.Setenv("SPX0DTE_ALERTS_ENABLED", "false")
	return filepath.Join(dir, "lifecycle.json")
}

func TestListAndClose(t *testing.T) {
	path := setupEnv(t)
	m := lifecycle.NewMachine(lifecycle.NewFileStore(path), time.UTC)
	credit := 1.10
	_, err := m.AddTrade(context.Background(), lifecycle.StrategyIronCondor, time.Now(), lifecycle.Trade{InitialCredit: &credit})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run("", false, []string{"list", "open"}, &out))
	assert.Contains(t, out.String(), "T00001")
	assert.Contains(t, out.String(), "IRON_CONDOR")
	assert.Contains(t, out.String(), "1.10")

	out.Reset()
	require.NoError(t, run("", true, []string{"close", "T00001"}, &out))
	var closed []lifecycle.Trade
	require.NoError(t, json.Unmarshal(out.Bytes(), &closed))
	require.Len(t, closed, 1)
	assert.Equal(t, lifecycle.StatusClosed, closed[0].Status)

	out.Reset()
	require.NoError(t, run("", true, []string{"list", "open"}, &out))
	assert.JSONEq(t, "[]", out.String())
}

func TestRunErrors(t *testing.T) {
	setupEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"confirm without strategy", []string{"confirm"}, "needs a strategy"},
		{"confirm unknown strategy", []string{"confirm", "strangle"}, "unknown strategy"},
		{"confirm without snapshot", []string{"confirm", "condor"}, "failed to read snapshot"},
		{"close missing trade", []string{"close", "T00042"}, "trade not found"},
		{"close without id", []string{"close"}, "exactly one"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run("", false, tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
