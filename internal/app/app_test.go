package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/config"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
)

func testConfig(t *testing.T) config.Root {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.State.Backend = "file"
	cfg.State.Path = filepath.Join(dir, "lifecycle.json")
	cfg.State.VolPath = filepath.Join(dir, "vol.json")
	cfg.Snapshot.Path = filepath.Join(dir, "snapshot.json")
	cfg.Outbox.Path = filepath.Join(dir, "outbox.jsonl")
	cfg.Files = config.Files{
		Sleeve:    filepath.Join(dir, "sleeve.json"),
		Execution: filepath.Join(dir, "execution.json"),
		BWB:       filepath.Join(dir, "bwb.json"),
		MultiDTE:  filepath.Join(dir, "multi.json"),
		Macro:     filepath.Join(dir, "macro.json"),
	}
	cfg.Alerts.TelegramToken = ""
	cfg.Alerts.SlackWebhookURL = ""
	cfg.Server.Enabled = false
	return cfg
}

func TestOnceTicksSnapshotAndPersistsState(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Snapshot.Path,
		[]byte(`{"timestamp": "2026-03-04T15:30:00Z", "symbol": "SPX"}`), 0o644))

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Once(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.TickID)
	assert.Len(t, res.Board.Cards, 4)

	st, err := lifecycle.NewFileStore(cfg.State.Path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", st.Date)
}

func TestOnceMissingSnapshot(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Once(context.Background())
	assert.ErrorContains(t, err, "failed to read snapshot")
}

func TestStepSkipsUnchangedSnapshot(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Snapshot.Path,
		[]byte(`{"timestamp": "2026-03-04T15:30:00Z", "symbol": "SPX"}`), 0o644))
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	seen := a.step(ctx, time.Time{})
	require.False(t, seen.IsZero())
	first, ok := a.Engine.Last()
	require.True(t, ok)

	assert.Equal(t, seen, a.step(ctx, seen))
	again, _ := a.Engine.Last()
	assert.Equal(t, first.TickID, again.TickID)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.IntervalSecs = 5
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestNewRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.State.Backend = "postgres"
	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "dsn required")
}
