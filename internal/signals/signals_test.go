package signals

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

func bar(ts time.Time, close float64) market.CandleBar {
	return market.CandleBar{Timestamp: ts, Open: close, High: close, Low: close, Close: close}
}

func linearBars(start time.Time, n int, step float64) []market.CandleBar {
	out := make([]market.CandleBar, n)
	for i := range out {
		out[i] = bar(start.Add(time.Duration(i)*time.Minute), 5900+float64(i)*step)
	}
	return out
}

func TestNormalizeIV(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want *float64
	}{
		{"decimal", market.Float(0.15), market.Float(0.15)},
		{"percent", market.Float(18), market.Float(0.18)},
		{"clamped high", market.Float(300), market.Float(2.5)},
		{"clamped low", market.Float(0.001), market.Float(0.01)},
		{"zero", market.Float(0), nil},
		{"nan", market.Float(math.NaN()), nil},
		{"missing", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeIV(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}

func TestExpectedMove(t *testing.T) {
	// 15:30 UTC on 2026-03-04 is 10:30 EST.
	now := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	assert.InDelta(t, 330, MinutesToClose(now), 1e-9)
	assert.Zero(t, MinutesToClose(now.Add(6*time.Hour)))

	emr := EMR(market.Float(5900), market.Float(0.15), 330)
	require.NotNil(t, emr)
	assert.InDelta(t, 5900*0.15*math.Sqrt(330/MinutesPerYear), *emr, 1e-9)

	assert.Nil(t, EMR(nil, market.Float(0.15), 330))
	assert.Nil(t, EMR(market.Float(5900), market.Float(0.15), 0))

	full := FullDayEM(market.Float(5900), market.Float(0.15))
	require.NotNil(t, full)
	assert.Greater(t, *full, *emr)
}

func TestPop(t *testing.T) {
	sigma := market.Float(10)
	condor := PopCondorPrice(100, 90, 110, 0, sigma)
	require.NotNil(t, condor)
	assert.InDelta(t, 0.6827, *condor, 1e-4)

	bullPut := PopVerticalPrice(100, 90, 0, sigma, true)
	require.NotNil(t, bullPut)
	assert.InDelta(t, 0.8413, *bullPut, 1e-4)

	bearCall := PopVerticalPrice(100, 110, 0, sigma, false)
	require.NotNil(t, bearCall)
	assert.InDelta(t, 0.8413, *bearCall, 1e-4)

	assert.Nil(t, PopFlyPrice(100, 100, 5, nil))
	assert.InDelta(t, 0.9, PopDeltaPair(-0.1, 0.1), 1e-9)
	assert.InDelta(t, 0.8, PopDeltaSingle(-0.2), 1e-9)
}

func TestRisk(t *testing.T) {
	f := market.Float
	tests := []struct {
		name           string
		atr, emr, vwap *float64
		pop            *float64
		want           RiskTier
	}{
		{"calm", f(2), f(20), f(2), f(0.90), RiskLow},
		{"moderate", f(5), f(20), f(5), f(0.75), RiskMed},
		{"fast tape", f(8), f(20), f(2), f(0.90), RiskHigh},
		{"missing pop", f(2), f(20), f(2), nil, RiskHigh},
		{"zero emr", f(2), f(0), f(2), f(0.9), RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Risk(tt.atr, tt.emr, tt.vwap, tt.pop))
		})
	}
}

func TestSessionCandles(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	candles := []market.CandleBar{
		bar(day.Add(-10*time.Hour), 1),               // previous ET session
		bar(day.Add(14*time.Hour), 2),                // 09:00 ET
		bar(day.Add(14*time.Hour+30*time.Minute), 3), // 09:30 ET
		bar(day.Add(20*time.Hour+59*time.Minute), 4), // 15:59 ET
		bar(day.Add(21*time.Hour), 5),                // 16:00 ET
	}
	got := SessionCandles(candles, day.Add(18*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 4.0, got[1].Close)
}

func TestIntradayStats(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)
	candles := []market.CandleBar{
		{Timestamp: start, High: 100, Low: 100, Close: 100, Volume: 1},
		{Timestamp: start.Add(time.Minute), High: 102, Low: 99, Close: 101, Volume: 1},
		{Timestamp: start.Add(2 * time.Minute), High: 101, Low: 100, Close: 110, Volume: 2},
	}

	atr := ATR1m(candles, 2)
	require.NotNil(t, atr)
	// true ranges: max(3, 2, 1)=3 and max(1, 0, 1)=1
	assert.InDelta(t, 2, *atr, 1e-9)
	assert.Nil(t, ATR1m(candles, 3))

	vwap := VWAP(candles)
	require.NotNil(t, vwap)
	assert.InDelta(t, (100+101+2*110)/4.0, *vwap, 1e-9)

	rng := Range15m(candles)
	require.NotNil(t, rng)
	assert.InDelta(t, 3, *rng, 1e-9)
	assert.Nil(t, Range15m(candles[:2]))

	s := IntradayStats(market.Float(107), market.Float(20), candles)
	require.NotNil(t, s.VWAPDistance)
	assert.InDelta(t, math.Abs(107-*vwap), *s.VWAPDistance, 1e-9)
	require.NotNil(t, s.ATRPctEMR)
	assert.InDelta(t, 0.1, *s.ATRPctEMR, 1e-9)

	zeroVol := VWAP([]market.CandleBar{bar(start, 10), bar(start, 20)})
	assert.InDelta(t, 15, *zeroVol, 1e-9)
}

func TestSlopes(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

	s := TrendSlope(linearBars(start, 30, 0.5), DefaultSlopeLookback)
	require.NotNil(t, s)
	assert.InDelta(t, 0.5, *s, 1e-9)
	assert.Nil(t, TrendSlope(linearBars(start, 9, 0.5), DefaultSlopeLookback))

	tf := SlopeForTimeframe(linearBars(start, 30, 0.5), 5, 30)
	require.NotNil(t, tf)
	assert.InDelta(t, 0.5, *tf, 1e-9)
	assert.Nil(t, SlopeForTimeframe(linearBars(start, 20, 0.5), 5, 30))

	assert.InDelta(t, 2, Slope([]float64{0, 2, 4, 6}), 1e-9)
	assert.Zero(t, Slope([]float64{1}))
}

func TestAlign(t *testing.T) {
	f := market.Float
	tests := []struct {
		name   string
		slopes Slopes
		want   Direction
		score  float64
	}{
		{"two up", Slopes{TF1m30m: f(0.3), TF5m30m: f(0.2)}, DirUp, 1},
		{"all down", Slopes{TF1m30m: f(-0.3), TF5m30m: f(-0.2), TF15m90m: f(-0.2)}, DirDown, 1},
		{"split", Slopes{TF1m30m: f(0.3), TF5m30m: f(-0.2), TF15m90m: f(0)}, DirMixed, 1.0 / 3},
		{"single vote", Slopes{TF1m30m: f(0.3)}, DirMixed, 1},
		{"nothing", Slopes{}, DirUnknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Align(tt.slopes)
			assert.Equal(t, tt.want, a.Direction)
			assert.InDelta(t, tt.score, a.Score, 1e-9)
			assert.Equal(t, tt.want == DirUp || tt.want == DirDown, a.Aligned)
			assert.NotEmpty(t, a.Summary)
		})
	}
}

func TestIndicators(t *testing.T) {
	assert.Equal(t, []float64{1, 1.5, 2.25}, EMA([]float64{1, 2, 3}, 3))
	assert.Nil(t, EMA(nil, 3))

	mean, sigma, ok := StdChannel([]float64{9, 1, 2, 3, 4}, 4)
	require.True(t, ok)
	assert.InDelta(t, 2.5, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(1.25), sigma, 1e-9)
	_, _, ok = StdChannel([]float64{1}, 4)
	assert.False(t, ok)

	line, signal, hist := MACD([]float64{1, 1, 1})
	assert.Equal(t, []float64{0, 0, 0}, line)
	assert.Equal(t, line, signal)
	assert.Equal(t, line, hist)
}

func TestMeasuredMove(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(i + 1)
	}
	last, ratio := MeasuredMove(rising)
	assert.InDelta(t, 5, last, 1e-9)
	assert.InDelta(t, 2, ratio, 1e-9, "capped")

	flat := make([]float64, 25)
	last, ratio = MeasuredMove(flat)
	assert.Zero(t, last)
	assert.Zero(t, ratio)

	last, ratio = MeasuredMove(rising[:10])
	assert.Zero(t, last)
	assert.Zero(t, ratio)
}

func TestAggregate30m(t *testing.T) {
	start := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)
	candles := []market.CandleBar{
		{Timestamp: start, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1},
		{Timestamp: start.Add(15 * time.Minute), Open: 11, High: 14, Low: 10, Close: 13, Volume: 3},
		{Timestamp: start.Add(30 * time.Minute), Open: 13, High: 13, Low: 8, Close: 9},
	}
	out := Aggregate30m(candles)
	require.Len(t, out, 2)
	assert.Equal(t, start.Add(15*time.Minute), out[0].Timestamp)
	assert.Equal(t, 10.0, out[0].Open)
	assert.Equal(t, 14.0, out[0].High)
	assert.Equal(t, 9.0, out[0].Low)
	assert.Equal(t, 13.0, out[0].Close)
	assert.Equal(t, 4.0, out[0].Volume)
	assert.InDelta(t, (11+3*13)/4.0, *out[0].VWAP, 1e-9)
	assert.InDelta(t, 9, *out[1].VWAP, 1e-9, "zero volume falls back to close")

	assert.Equal(t, []float64{13, 9}, Closes(out))
	assert.Nil(t, Aggregate30m(nil))
}

func TestChainLiquidity(t *testing.T) {
	f := market.Float
	opts := []market.OptionQuote{
		{Strike: 5900, Bid: f(0.9), Ask: f(1.1)}, // 0.2
		{Strike: 5905, Bid: f(0.8), Ask: f(1.2)}, // 0.4
		{Strike: 5910, Bid: f(1.0)},              // one-sided
	}
	got := ChainLiquidityRatio(opts, f(5900))
	require.NotNil(t, got)
	assert.InDelta(t, 0.3, *got, 1e-9)
	assert.Nil(t, ChainLiquidityRatio(nil, f(5900)))

	hi, lo := PriorRange(linearBars(time.Now(), 30, 1))
	assert.Nil(t, hi)
	assert.Nil(t, lo)
	hi, lo = PriorRange(linearBars(time.Now(), 31, 1))
	require.NotNil(t, hi)
	assert.InDelta(t, 5929, *hi, 1e-9)
	assert.InDelta(t, 5900, *lo, 1e-9)
}
