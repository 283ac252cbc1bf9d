package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

func et(day, h, m int) time.Time {
	return time.Date(2026, 3, day, h, m, 0, 0, market.ET)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "state", "lifecycle.json")),
	}
}

var alertsOn = AlertPolicy{Enabled: true}

func TestReadinessTransitionFiresOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine(store, nil)

			send, reason, err := m.EvaluateTransition(ctx, StrategyIronCondor, false, et(2, 10, 0), alertsOn)
			require.NoError(t, err)
			assert.False(t, send)
			assert.Equal(t, "not ready", reason)

			send, reason, err = m.EvaluateTransition(ctx, StrategyIronCondor, true, et(2, 10, 1), alertsOn)
			require.NoError(t, err)
			assert.True(t, send)
			assert.Equal(t, "transition ready", reason)
			require.NoError(t, m.MarkSent(ctx, StrategyIronCondor, et(2, 10, 1)))

			send, reason, err = m.EvaluateTransition(ctx, StrategyIronCondor, true, et(2, 10, 2), alertsOn)
			require.NoError(t, err)
			assert.False(t, send)
			assert.Equal(t, "still ready (no transition)", reason)
		})
	}
}

func TestReadinessCooldown(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	p := AlertPolicy{Enabled: true, Cooldown: DefaultReadyCooldown}
	t0 := et(2, 11, 0)

	send, _, err := m.EvaluateTransition(ctx, StrategyIronFly, true, t0, p)
	require.NoError(t, err)
	require.True(t, send)
	require.NoError(t, m.MarkSent(ctx, StrategyIronFly, t0))

	_, _, err = m.EvaluateTransition(ctx, StrategyIronFly, false, t0.Add(time.Minute), p)
	require.NoError(t, err)
	send, reason, err := m.EvaluateTransition(ctx, StrategyIronFly, true, t0.Add(2*time.Minute), p)
	require.NoError(t, err)
	assert.False(t, send)
	assert.Equal(t, "cooldown active", reason)

	_, _, err = m.EvaluateTransition(ctx, StrategyIronFly, false, t0.Add(4*time.Minute), p)
	require.NoError(t, err)
	send, reason, err = m.EvaluateTransition(ctx, StrategyIronFly, true, t0.Add(5*time.Minute), p)
	require.NoError(t, err)
	assert.False(t, send, "elapsed equal to the cooldown does not exceed it")
	assert.Equal(t, "cooldown active", reason)

	_, _, err = m.EvaluateTransition(ctx, StrategyIronFly, false, t0.Add(5*time.Minute+30*time.Second), p)
	require.NoError(t, err)
	send, reason, err = m.EvaluateTransition(ctx, StrategyIronFly, true, t0.Add(6*time.Minute), p)
	require.NoError(t, err)
	assert.True(t, send)
	assert.Equal(t, "transition ready", reason)
}

func TestReadinessStoredBeforeChecks(t *testing.T) {
	tests := []struct {
		name   string
		policy AlertPolicy
		ready  bool
		want   string
	}{
		{"disabled wins", AlertPolicy{Enabled: false, LossToday: true}, true, "alerts disabled"},
		{"loss lock", AlertPolicy{Enabled: true, LossToday: true}, true, "LOSS_TODAY active"},
		{"not ready", alertsOn, false, "not ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			m := NewMachine(store, nil)
			send, reason, err := m.EvaluateTransition(ctx, StrategyCreditSpread, tt.ready, et(2, 10, 0), tt.policy)
			require.NoError(t, err)
			assert.False(t, send)
			assert.Equal(t, tt.want, reason)

			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.ready, st.Strategies[StrategyCreditSpread].Ready)
		})
	}

	t.Run("suppressed transition is consumed", func(t *testing.T) {
		ctx := context.Background()
		m := NewMachine(NewMemoryStore(), nil)
		_, _, err := m.EvaluateTransition(ctx, StrategyCreditSpread, true, et(2, 10, 0), AlertPolicy{Enabled: true, LossToday: true})
		require.NoError(t, err)
		send, reason, err := m.EvaluateTransition(ctx, StrategyCreditSpread, true, et(2, 10, 1), alertsOn)
		require.NoError(t, err)
		assert.False(t, send)
		assert.Equal(t, "still ready (no transition)", reason)
	})
}

func TestAddTrade(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	now := et(2, 10, 30)

	first, err := m.AddTrade(ctx, StrategyIronCondor, now, Trade{InitialCredit: fptr(1.1)})
	require.NoError(t, err)
	assert.Equal(t, "T00001", first.ID)
	assert.Equal(t, StatusOpen, first.Status)
	assert.Equal(t, IntradayAutoClose, first.RolloverPolicy)
	assert.Equal(t, "America/New_York", first.EntryTimeET.Location().String())
	assert.Equal(t, "Europe/Paris", first.EntryTimeDisplay.Location().String())
	assert.True(t, first.EntryTimeET.Equal(first.EntryTimeDisplay))

	second, err := m.AddTrade(ctx, StrategyBWB, now, Trade{})
	require.NoError(t, err)
	assert.Equal(t, "T00002", second.ID)
	assert.Equal(t, PersistUntilExit, second.RolloverPolicy)

	override, err := m.AddTrade(ctx, StrategyIronFly, now, Trade{RolloverPolicy: "persist_until_exit"})
	require.NoError(t, err)
	assert.Equal(t, PersistUntilExit, override.RolloverPolicy)

	invalid, err := m.AddTrade(ctx, "2-dte credit spread", now, Trade{RolloverPolicy: "SOMETIMES"})
	require.NoError(t, err)
	assert.Equal(t, PersistUntilExit, invalid.RolloverPolicy)

	all, err := m.Trades(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDefaultPolicy(t *testing.T) {
	tests := map[string]RolloverPolicy{
		"IRON_CONDOR":               IntradayAutoClose,
		"CREDIT_SPREAD":             IntradayAutoClose,
		"2_DTE_CREDIT_SPREAD":       PersistUntilExit,
		"2dte-credit spread":        PersistUntilExit,
		"two dte  credit spread":    PersistUntilExit,
		"Broken Wing Put Butterfly": PersistUntilExit,
		"bwb":                       PersistUntilExit,
		"":                          IntradayAutoClose,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, DefaultPolicy(in))
		})
	}
}

func TestRollover(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewMachine(store, nil)
			day1 := et(2, 14, 0)

			intraday, err := m.AddTrade(ctx, StrategyIronCondor, day1, Trade{})
			require.NoError(t, err)
			pending, err := m.AddTrade(ctx, StrategyCreditSpread, day1, Trade{})
			require.NoError(t, err)
			require.NoError(t, m.MarkExitPending(ctx, pending.ID, day1, "Max hold reached"))
			multiDay, err := m.AddTrade(ctx, StrategyMultiDTE, day1, Trade{})
			require.NoError(t, err)
			send, _, err := m.EvaluateTransition(ctx, StrategyIronFly, true, day1, alertsOn)
			require.NoError(t, err)
			require.True(t, send)

			day2 := et(3, 9, 35)
			require.NoError(t, m.MarkExitAlertSent(ctx, multiDay.ID, day2))

			for _, id := range []string{intraday.ID, pending.ID} {
				got, err := m.Trade(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, StatusClosed, got.Status)
				assert.Equal(t, RolloverReason, got.ClosedReason)
				require.NotNil(t, got.CloseTimeET)
				require.NotNil(t, got.CloseTimeDisplay)
			}
			got, err := m.Trade(ctx, multiDay.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusOpen, got.Status)
			assert.Empty(t, got.ClosedReason)

			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "2026-03-03", st.Date)
			assert.False(t, st.Strategies[StrategyIronFly].Ready)

			closed, err := m.RollDate(ctx, et(3, 10, 0))
			require.NoError(t, err)
			assert.Empty(t, closed)
		})
	}
}

func TestRollDateReturnsClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	tr, err := m.AddTrade(ctx, StrategyIronFly, et(2, 12, 0), Trade{})
	require.NoError(t, err)
	closed, err := m.RollDate(ctx, et(3, 9, 30))
	require.NoError(t, err)
	assert.Equal(t, []string{tr.ID}, closed)
}

func TestMarkExitPendingAndClose(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	now := et(2, 12, 0)
	tr, err := m.AddTrade(ctx, StrategyIronCondor, now, Trade{})
	require.NoError(t, err)

	assert.ErrorIs(t, m.MarkExitPending(ctx, "T99999", now, "x"), ErrTradeNotFound)
	assert.ErrorIs(t, m.CloseTrade(ctx, "T99999", now, "x"), ErrTradeNotFound)

	require.NoError(t, m.MarkExitPending(ctx, tr.ID, now, "Profit target hit"))
	got, err := m.Trade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExitPending, got.Status)
	assert.Equal(t, "Profit target hit", got.ExitPendingReason)
	require.NotNil(t, got.LastEval)

	require.NoError(t, m.CloseTrade(ctx, tr.ID, now.Add(time.Minute), "manual close"))
	got, err = m.Trade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.Equal(t, "manual close", got.ClosedReason)

	assert.ErrorIs(t, m.MarkExitPending(ctx, tr.ID, now, "again"), ErrTradeClosed)
	require.NoError(t, m.CloseTrade(ctx, tr.ID, now.Add(2*time.Minute), "manual close"))

	open, err := m.OpenTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpdateTrade(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	now := et(2, 12, 0)
	tr, err := m.AddTrade(ctx, StrategyIronCondor, now, Trade{})
	require.NoError(t, err)

	require.NoError(t, m.UpdateTrade(ctx, tr.ID, now, func(t *Trade) {
		t.CurrentDebit = fptr(0.5)
		t.NextExitReason = "Next likely: 60% profit target (12% now)"
	}))
	got, err := m.Trade(ctx, tr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentDebit)
	assert.Equal(t, 0.5, *got.CurrentDebit)
	assert.ErrorIs(t, m.UpdateTrade(ctx, "nope", now, func(*Trade) {}), ErrTradeNotFound)
}

func TestCanSendExitAlert(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), nil)
	now := et(2, 13, 0)
	tr, err := m.AddTrade(ctx, StrategyIronCondor, now, Trade{})
	require.NoError(t, err)
	p := AlertPolicy{Enabled: true, Cooldown: DefaultExitCooldown}

	tests := []struct {
		name   string
		id     string
		policy AlertPolicy
		ok     bool
		reason string
	}{
		{"disabled", tr.ID, AlertPolicy{}, false, "exit alerts disabled"},
		{"loss lock", tr.ID, AlertPolicy{Enabled: true, LossToday: true}, false, "LOSS_TODAY active"},
		{"unknown trade", "T00042", p, false, "trade not found"},
		{"first alert", tr.ID, p, true, "exit alert allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason, err := m.CanSendExitAlert(ctx, tt.id, now, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}

	require.NoError(t, m.MarkExitAlertSent(ctx, tr.ID, now))
	ok, reason, err := m.CanSendExitAlert(ctx, tr.ID, now.Add(5*time.Minute), p)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "exit alert cooldown active", reason)

	ok, reason, err = m.CanSendExitAlert(ctx, tr.ID, now.Add(10*time.Minute), p)
	require.NoError(t, err)
	assert.False(t, ok, "boundary")
	assert.Equal(t, "exit alert cooldown active", reason)

	ok, _, err = m.CanSendExitAlert(ctx, tr.ID, now.Add(10*time.Minute+time.Second), p)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStoreCorruptFallsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lifecycle.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"trades\": [oops"), 0o644))

	store := NewFileStore(path)
	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Trades)
	assert.Equal(t, 1, st.NextTradeID)
	assert.Len(t, st.Strategies, len(DefaultStrategies))

	m := NewMachine(store, nil)
	tr, err := m.AddTrade(ctx, StrategyIronFly, et(2, 11, 0), Trade{})
	require.NoError(t, err)
	assert.Equal(t, "T00001", tr.ID)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreRecoversNextTradeID(t *testing.T) {
	ctx := context.Background()
	doc := `{
	  "date": "2026-03-02",
	  "trades": [
	    {"trade_id": "T00003", "strategy": "BWB", "status": "open"},
	    {"trade_id": "T00007", "strategy": "BWB", "status": "closed"},
	    {"trade_id": "manual-1", "strategy": "BWB", "status": "closed"}
	  ]
	}`
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing next_trade_id", doc, "T00008"},
		{"stale next_trade_id", strings.Replace(doc, `"date"`, `"next_trade_id": 2, "date"`, 1), "T00008"},
		{"ahead of trades", strings.Replace(doc, `"date"`, `"next_trade_id": 12, "date"`, 1), "T00012"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lifecycle.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o644))

			m := NewMachine(NewFileStore(path), nil)
			tr, err := m.AddTrade(ctx, StrategyBWB, et(2, 11, 0), Trade{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.ID)

			got, err := m.Trade(ctx, "T00003")
			require.NoError(t, err)
			assert.Equal(t, StatusOpen, got.Status)
		})
	}
}

func TestFreshStateDatedByFirstMutation(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, st.Date)

			m := NewMachine(store, nil)
			// 23:30 ET on 3 March is already 4 March in UTC.
			_, err = m.RollDate(ctx, et(3, 23, 30))
			require.NoError(t, err)
			st, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "2026-03-03", st.Date)
		})
	}
}

func TestFileStoreSanitizesPartialDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"date": "2026-03-02", "next_trade_id": 0}`), 0o644))

	st, err := NewFileStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", st.Date)
	assert.Equal(t, 1, st.NextTradeID)
	assert.NotNil(t, st.Strategies)
	assert.NotNil(t, st.Trades)
}

func TestTradeJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lifecycle.json")
	m := NewMachine(NewFileStore(path), nil)
	useDelta := true
	in := Trade{
		SpreadType:      "BULL_PUT_SPREAD",
		RolloverPolicy:  PersistUntilExit,
		Width:           fptr(5),
		Expiry:          "2026-03-04",
		InitialCredit:   fptr(0.85),
		ShortStrike:     fptr(5900),
		LongStrike:      fptr(5895),
		ShortRight:      "PUT",
		LongRight:       "PUT",
		StopDebit:       fptr(2.55),
		ProfitTakeDebit: fptr(0.05),
		DeltaStop:       fptr(0.4),
		UseDeltaStop:    &useDelta,
	}
	tr, err := m.AddTrade(ctx, StrategyCreditSpread, et(2, 10, 0), in)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	stored := doc["trades"].([]any)[0].(map[string]any)
	assert.Equal(t, "PERSIST_UNTIL_EXIT", stored["rolloverPolicy"])

	got, err := NewMachine(NewFileStore(path), nil).Trade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, PersistUntilExit, got.RolloverPolicy)
	assert.True(t, tr.EntryTimeET.Equal(got.EntryTimeET))
	assert.Equal(t, *in.StopDebit, *got.StopDebit)
	assert.Equal(t, true, *got.UseDeltaStop)
}

func TestLegacyTradeWithoutPolicy(t *testing.T) {
	doc := `{"date": "2026-03-02", "trades": [
		{"trade_id": "T00001", "strategy": "BWB", "status": "open", "entry_time_et": "2026-03-01T10:00:00-05:00"},
		{"trade_id": "T00002", "strategy": "IRON_FLY", "status": "open", "entry_time_et": "2026-03-01T10:00:00-05:00"}
	], "next_trade_id": 3}`
	path := filepath.Join(t.TempDir(), "lifecycle.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m := NewMachine(NewFileStore(path), nil)
	trades, err := m.Trades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, PersistUntilExit, trades[0].RolloverPolicy)
	assert.Equal(t, IntradayAutoClose, trades[1].RolloverPolicy)
}

func TestPayload(t *testing.T) {
	width := 40.0
	c := &strategy.Candidate{
		ID:         "cand-1",
		Kind:       strategy.KindCondor,
		SpreadType: strategy.IronCondor,
		Width:      &width,
		Credit:     1.1,
		PopDelta:   0.88,
		Legs: []strategy.Leg{
			{Action: strategy.Sell, Right: market.Put, Strike: 5950, Delta: market.Float(-0.12)},
			{Action: strategy.Buy, Right: market.Put, Strike: 5910, Delta: market.Float(-0.05)},
			{Action: strategy.Sell, Right: market.Call, Strike: 6050, Delta: market.Float(0.12)},
			{Action: strategy.Buy, Right: market.Call, Strike: 6090, Delta: market.Float(0.05)},
		},
	}
	assert.Equal(t, StrategyIronCondor, StrategyKey(c.Kind))
	p := Payload(c)
	assert.Equal(t, 5950.0, *p.ShortPut)
	assert.Equal(t, 5910.0, *p.LongPut)
	assert.Equal(t, 6050.0, *p.ShortCall)
	assert.Equal(t, 6090.0, *p.LongCall)
	assert.Equal(t, -0.12, *p.ShortPutDelta)
	assert.Equal(t, 1.1, *p.InitialCredit)
	assert.Nil(t, p.InitialDebit)

	vertical := &strategy.Candidate{
		Kind:       strategy.KindDirectional,
		SpreadType: strategy.BearCallSpread,
		Width:      &width,
		Credit:     1.3,
		Legs: []strategy.Leg{
			{Action: strategy.Sell, Right: market.Call, Strike: 6040},
			{Action: strategy.Buy, Right: market.Call, Strike: 6080},
		},
	}
	p = Payload(vertical)
	assert.Equal(t, "BEAR_CALL_SPREAD", p.SpreadType)
	assert.Equal(t, 6040.0, *p.ShortStrike)
	assert.Equal(t, "CALL", p.ShortRight)
	assert.Equal(t, 6080.0, *p.LongStrike)
}
