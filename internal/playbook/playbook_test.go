package playbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/execution"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

var f = market.Float

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, market.ET)
}

func leg(action strategy.Action, right market.Right, strike, delta float64) strategy.Leg {
	return strategy.Leg{Action: action, Right: right, Strike: strike, Qty: 1, Delta: f(delta)}
}

func baseContext(r regime.Regime, capital float64) Context {
	return Context{
		Now:       at(11, 30),
		Spot:      f(6000),
		EMR:       f(20),
		FullDayEM: f(40),
		Stats: signals.Stats{
			VWAP:         f(5996),
			VWAPDistance: f(4),
			Range15m:     f(6),
			ATR1m:        f(3),
			DayRange:     f(15),
		},
		Slope:        f(0.05),
		Alignment:    signals.Alignment{Direction: signals.DirMixed, Available: 3, Summary: "1m30m=+0.010~"},
		Regime:       r,
		RegimeReason: "test tape",
		Confidence:   regime.Score{Score: 0.75, Pct: 75, Tier: regime.TierMedium},
		VolDetail:    "IV flat",
		MacroDetail:  "No macro event in configured calendar today.",
		Exposure:     risk.NewExposure(risk.SleeveSettings{SleeveCapital: capital}, nil),
		Execution:    execution.DefaultSettings(),
	}
}

func condor() strategy.Evaluation {
	c := &strategy.Candidate{
		Kind:       strategy.KindCondor,
		SpreadType: strategy.IronCondor,
		Legs: []strategy.Leg{
			leg(strategy.Sell, market.Put, 5970, -0.15),
			leg(strategy.Buy, market.Put, 5930, -0.08),
			leg(strategy.Sell, market.Call, 6030, 0.14),
			leg(strategy.Buy, market.Call, 6070, 0.06),
		},
		Width:          f(40),
		Credit:         2.0,
		MaxLossPoints:  38,
		MaxLossDollars: 3800,
		PopDelta:       0.80,
		LiquidityRatio: 0.05,
	}
	return strategy.Evaluation{Kind: strategy.KindCondor, Ready: true, Candidate: c}
}

func TestCondorCardReady(t *testing.T) {
	card := Evaluate(condor(), baseContext(regime.Chop, 200000))

	assert.True(t, card.Ready, card.Checklist().BlockedReason())
	assert.Equal(t, "READY TO TRADE", card.Reason)
	assert.Empty(t, card.Blocked)
	require.NotNil(t, card.Width)
	assert.Equal(t, 40, *card.Width)
	assert.InDelta(t, 2.0, *card.Credit, 1e-9)
	assert.InDelta(t, 38, *card.MaxRisk, 1e-9)
	assert.InDelta(t, 0.80, *card.PopPct, 1e-9)
	assert.Equal(t, "SELL 5970P / BUY 5930P / SELL 6030C / BUY 6070C", card.Legs)

	g, ok := card.Global.Find(rowSlippage)
	require.True(t, ok)
	assert.Equal(t, "1.85 >= 1.20 (slip 0.15, midday)", g.Detail)

	g, ok = card.Strategy.Find("No existing same-direction exposure")
	require.True(t, ok)
	assert.Equal(t, "Projected net delta +0.010", g.Detail)

	g, ok = card.Regime.Find(rowConfidence)
	require.True(t, ok)
	assert.Equal(t, "75.0% (MEDIUM)", g.Detail)
}

func TestCondorCardBlocked(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Context, *strategy.Evaluation)
		ready   bool
		blocked string
	}{
		{
			name:    "before open window",
			mutate:  func(c *Context, _ *strategy.Evaluation) { c.Now = at(9, 45) },
			blocked: "Time >= 10:00 ET: 09:45:00 ET",
		},
		{
			name:    "late for short premium",
			mutate:  func(c *Context, _ *strategy.Evaluation) { c.Now = at(13, 45) },
			blocked: "Time <= 13:30 ET (short premium): 13:45:00 ET",
		},
		{
			name: "macro event is informational",
			mutate: func(c *Context, _ *strategy.Evaluation) {
				c.MacroBlock, c.MacroDetail = true, "CPI at 08:30 ET within ±30m."
			},
			ready: true,
		},
		{
			name:    "wrong regime",
			mutate:  func(c *Context, _ *strategy.Evaluation) { c.Regime = regime.Compression },
			blocked: "Strategy allowed in this regime: Compression -> Iron Fly only.",
		},
		{
			name: "vol expansion",
			mutate: func(c *Context, _ *strategy.Evaluation) {
				c.VolExpansion, c.VolDetail = true, "IV +12%"
			},
			blocked: "Volatility Expansion flag = FALSE: IV +12%",
		},
		{
			name: "no candidate",
			mutate: func(_ *Context, ev *strategy.Evaluation) {
				ev.Candidate, ev.Ready, ev.Reasons = nil, false, []string{"No condor in band."}
			},
			blocked: "Candidate max risk <= 3% sleeve: Candidate risk unavailable.",
		},
		{
			name: "candidate too large for sleeve",
			mutate: func(c *Context, _ *strategy.Evaluation) {
				c.Exposure = risk.NewExposure(risk.SleeveSettings{SleeveCapital: 100000}, nil)
			},
			blocked: "Candidate max risk <= 3% sleeve: $3800 > $3000",
		},
		{
			name: "strikes too close",
			mutate: func(c *Context, _ *strategy.Evaluation) {
				c.EMR = f(26)
				c.Stats.Range15m = f(6)
			},
			blocked: "Short strikes >= 1.2 × EMR away: put 30.0, call 30.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, ev := baseContext(regime.Chop, 200000), condor()
			tt.mutate(&ctx, &ev)
			card := Evaluate(ev, ctx)
			assert.Equal(t, tt.ready, card.Ready)
			if tt.ready {
				assert.Equal(t, "READY TO TRADE", card.Reason)
				return
			}
			assert.Equal(t, tt.blocked, card.Blocked)
			assert.Equal(t, tt.blocked, card.Reason)
		})
	}
}

func TestLossLockBlocksEveryStructure(t *testing.T) {
	ctx := baseContext(regime.Chop, 200000)
	ctx.Exposure = risk.NewExposure(risk.SleeveSettings{SleeveCapital: 200000, DailyRealizedPnL: -9000}, nil)

	card := Evaluate(condor(), ctx)
	assert.False(t, card.Ready)
	assert.Contains(t, card.Blocked, "Not in weekly/daily loss lock: daily_lock=true")
}

func directional() strategy.Evaluation {
	c := &strategy.Candidate{
		Kind:       strategy.KindDirectional,
		SpreadType: strategy.BullPutSpread,
		Legs: []strategy.Leg{
			leg(strategy.Sell, market.Put, 5975, -0.22),
			leg(strategy.Buy, market.Put, 5945, -0.12),
		},
		Width:          f(30),
		Credit:         2.0,
		MaxLossPoints:  28,
		PopDelta:       0.78,
		LiquidityRatio: 0.06,
	}
	return strategy.Evaluation{Kind: strategy.KindDirectional, Ready: true, Candidate: c}
}

func trendContext() Context {
	ctx := baseContext(regime.TrendUp, 200000)
	ctx.Slope = f(0.25)
	ctx.Stats.Range15m = f(8)
	ctx.Alignment = signals.Alignment{Direction: signals.DirUp, Score: 1, Aligned: true, Available: 3, UpVotes: 3, Summary: "all up"}
	return ctx
}

func TestDirectionalCard(t *testing.T) {
	card := Evaluate(directional(), trendContext())
	assert.True(t, card.Ready, card.Blocked)
	assert.Equal(t, "Bull Put Spread", card.Reason)

	g, ok := card.Strategy.Find("MTF trend confirms uptrend")
	require.True(t, ok)
	assert.Equal(t, "UP 100% | all up", g.Detail)

	t.Run("same direction already open", func(t *testing.T) {
		ctx := trendContext()
		ctx.OpenTrades = []lifecycle.Trade{{
			Strategy: lifecycle.StrategyCreditSpread, SpreadType: string(strategy.BullPutSpread), Status: lifecycle.StatusOpen,
		}}
		card := Evaluate(directional(), ctx)
		assert.False(t, card.Ready)
		assert.Equal(t, "No same-direction spread already open: Open BULL_PUT_SPREAD: 1", card.Blocked)
	})

	t.Run("not a trend regime", func(t *testing.T) {
		ctx := trendContext()
		ctx.Regime = regime.Chop
		card := Evaluate(directional(), ctx)
		assert.False(t, card.Ready)
		assert.Equal(t, "Strategy allowed in this regime: Chop -> Iron Condor only.", card.Blocked)

		g, ok := card.Strategy.Find("Trend regime requirement")
		require.True(t, ok)
		assert.Equal(t, "Directional spreads require TREND_UP/TREND_DOWN, got CHOP.", g.Detail)
	})

	t.Run("weak slope", func(t *testing.T) {
		ctx := trendContext()
		ctx.Slope = f(0.12)
		card := Evaluate(directional(), ctx)
		assert.Equal(t, "slope_5m >= +0.20: +0.120", card.Blocked)
	})
}

func convex() strategy.Evaluation {
	c := &strategy.Candidate{
		Kind:       strategy.KindConvex,
		SpreadType: strategy.CallDebitSpread,
		Legs: []strategy.Leg{
			leg(strategy.Buy, market.Call, 6010, 0.45),
			leg(strategy.Sell, market.Call, 6035, 0.25),
		},
		Width:          f(25),
		Debit:          1.0,
		MaxLossPoints:  1.0,
		RewardToRisk:   2.0,
		LiquidityRatio: 0.06,
	}
	return strategy.Evaluation{Kind: strategy.KindConvex, Ready: true, Candidate: c}
}

func expansionContext() Context {
	ctx := baseContext(regime.Expansion, 10000)
	ctx.Spot = f(6010)
	ctx.Slope = f(0.35)
	ctx.VolExpansion, ctx.VolDetail = true, "IV +12%"
	ctx.PriorHigh, ctx.PriorLow = f(6000), f(5980)
	return ctx
}

func TestConvexCard(t *testing.T) {
	card := Evaluate(convex(), expansionContext())
	assert.True(t, card.Ready, card.Blocked)
	assert.Equal(t, "Call Debit Spread", card.Reason)

	for _, name := range []string{rowTimeShort, rowCandRisk, rowVolFlag, rowSlippage} {
		g, ok := card.Global.Find(name)
		require.True(t, ok, name)
		assert.Equal(t, decision.StatusNA, g.Status, name)
	}

	g, ok := card.Strategy.Find("Risk between 0.5%–1.5% sleeve ($50–$150)")
	require.True(t, ok)
	assert.Equal(t, "$100 in [50, 150]", g.Detail)

	t.Run("one convex at a time", func(t *testing.T) {
		ctx := expansionContext()
		ctx.OpenTrades = []lifecycle.Trade{{Strategy: lifecycle.StrategyConvexDebit, Status: lifecycle.StatusOpen, InitialDebit: f(1)}}
		card := Evaluate(convex(), ctx)
		assert.Equal(t, "Only 1 convex trade open at a time: Open convex trades: 1", card.Blocked)
	})

	t.Run("no breakout", func(t *testing.T) {
		ctx := expansionContext()
		ctx.Spot = f(5995)
		card := Evaluate(convex(), ctx)
		assert.Equal(t, "Confirmed breakout (prior 30m high/low): spot 5995.00 vs prior high 6000.00", card.Blocked)
	})

	t.Run("range trigger without vol flag", func(t *testing.T) {
		ctx := expansionContext()
		ctx.VolExpansion = false
		ctx.Stats.Range15m = f(12)
		rows := StrategyRows(strategy.KindConvex, convex().Candidate, ctx)
		g, ok := rows.Find("Vol Expansion TRUE OR 15m Range > 45% EMR")
		require.True(t, ok)
		assert.True(t, g.Passed())
		assert.Equal(t, "12.00 > 9.00", g.Detail)
	})
}

func TestFlyRows(t *testing.T) {
	c := &strategy.Candidate{
		Kind:       strategy.KindFly,
		SpreadType: strategy.IronFly,
		Width:      f(25),
		Credit:     12,
	}
	ctx := baseContext(regime.Compression, 200000)
	ctx.Now = at(13, 10)
	ctx.Stats.Range15m = f(7)

	rows := StrategyRows(strategy.KindFly, c, ctx)

	g, ok := rows.Find("Entry time <= 13:00 ET")
	require.True(t, ok)
	assert.False(t, g.Passed())
	assert.Equal(t, "13:10:00 ET", g.Detail)

	g, ok = rows.Find("15m Realized Range <= 30% EMR")
	require.True(t, ok)
	assert.Equal(t, "7.00 > 6.00", g.Detail)

	g, ok = rows.Find("abs(slope_5m) <= 0.15")
	require.True(t, ok)
	assert.Equal(t, "0.050 <= 0.150", g.Detail)

	g, ok = rows.Find("Sleeve open risk check passes")
	require.True(t, ok)
	assert.Equal(t, "Projected $0 <= $12000", g.Detail)
}

func TestEMRRowMissingData(t *testing.T) {
	tests := []struct {
		name   string
		v, emr *float64
		detail string
	}{
		{"metric missing", nil, f(20), "Metric unavailable."},
		{"threshold missing", f(5), nil, "Threshold unavailable."},
		{"zero emr", f(5), f(0), "Threshold unavailable."},
		{"over", f(9.5), f(20), "9.50 > 9.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := emrRow("row", tt.v, tt.emr, 0.45)
			assert.False(t, g.Passed())
			assert.Equal(t, tt.detail, g.Detail)
		})
	}
}

func TestOverviewAndBoard(t *testing.T) {
	ctx := baseContext(regime.Chop, 200000)

	ov := Overview(ctx)
	g, ok := ov.Find(rowLiquidity)
	require.True(t, ok)
	assert.Equal(t, "Market-wide liquidity unavailable.", g.Detail)

	ctx.ChainLiquidity = f(0.08)
	g, _ = Overview(ctx).Find(rowLiquidity)
	assert.Equal(t, "0.080 <= 0.120 (chain median)", g.Detail)

	b := Build([]strategy.Evaluation{condor(), {Kind: strategy.KindFly, Reasons: []string{"No fly."}}}, ctx)
	require.Len(t, b.Cards, 2)
	cc, ok := b.Card(strategy.KindCondor)
	require.True(t, ok)
	assert.True(t, cc.Ready)

	fc, ok := b.Card(strategy.KindFly)
	require.True(t, ok)
	assert.False(t, fc.Ready)
	assert.Nil(t, fc.Width)

	_, ok = b.Card(strategy.KindBWB)
	assert.False(t, ok)
}
