package signals

import (
	"math"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

const DefaultSlopeLookback = 30

// SessionCandles keeps bars from the ET date of now inside 09:30-16:00.
func SessionCandles(candles []market.CandleBar, now time.Time) []market.CandleBar {
	today := market.SessionDate(now)
	out := make([]market.CandleBar, 0, len(candles))
	for _, c := range candles {
		ts := c.Timestamp.In(market.ET)
		if market.SessionDate(ts) != today {
			continue
		}
		minute := ts.Hour()*60 + ts.Minute()
		if minute >= 9*60+30 && minute < 16*60 {
			out = append(out, c)
		}
	}
	return out
}

// VWAP weights bar VWAP (or close) by volume; with zero volume it is the mean close.
func VWAP(candles []market.CandleBar) *float64 {
	if len(candles) == 0 {
		return nil
	}
	var pv, vol, closes float64
	for _, c := range candles {
		price := c.Close
		if c.VWAP != nil {
			price = *c.VWAP
		}
		v := math.Max(0, c.Volume)
		pv += price * v
		vol += v
		closes += c.Close
	}
	if vol == 0 {
		return ptr(closes / float64(len(candles)))
	}
	return ptr(pv / vol)
}

// Range15m is high-low over the latest 15 bars; partial windows allowed from 3 bars.
func Range15m(candles []market.CandleBar) *float64 {
	if len(candles) < 3 {
		return nil
	}
	return highLow(candles[len(candles)-min(15, len(candles)):])
}

// DayRange is high-low over the whole window.
func DayRange(candles []market.CandleBar) *float64 {
	if len(candles) == 0 {
		return nil
	}
	return highLow(candles)
}

// ATR1m is the mean true range of the last lookback completed bars.
func ATR1m(candles []market.CandleBar, lookback int) *float64 {
	if lookback <= 0 || len(candles) < lookback+1 {
		return nil
	}
	relevant := candles[len(candles)-(lookback+1):]
	var sum float64
	for i := 1; i < len(relevant); i++ {
		prev := relevant[i-1].Close
		cur := relevant[i]
		tr := math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev), math.Abs(cur.Low-prev)))
		sum += tr
	}
	return ptr(sum / float64(lookback))
}

// TrendSlope is the OLS slope of close against bar index, in points per minute.
func TrendSlope(candles []market.CandleBar, lookback int) *float64 {
	if lookback < 3 {
		return nil
	}
	n := min(lookback, len(candles))
	if n < 10 {
		return nil
	}
	window := candles[len(candles)-n:]
	ys := make([]float64, n)
	for i, c := range window {
		ys[i] = c.Close
	}
	return LinRegSlope(ys)
}

// LinRegSlope returns the least-squares slope of values against their index. Needs 3 points.
func LinRegSlope(values []float64) *float64 {
	if len(values) < 3 {
		return nil
	}
	s, ok := olsSlope(values)
	if !ok {
		return nil
	}
	return &s
}

func olsSlope(values []float64) (float64, bool) {
	n := float64(len(values))
	var sx, sy, sxy, sxx float64
	for i, y := range values {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0, false
	}
	return (n*sxy - sx*sy) / denom, true
}

// Stats is the intraday block used by gates, regime and exits.
type Stats struct {
	VWAP         *float64 `json:"vwap"`
	VWAPDistance *float64 `json:"vwap_distance"`
	Range15m     *float64 `json:"range_15m"`
	ATR1m        *float64 `json:"atr_1m"`
	DayRange     *float64 `json:"day_range"`
	ATRPctEMR    *float64 `json:"atr_pct_emr"`
}

func IntradayStats(spot, emr *float64, candles []market.CandleBar) Stats {
	s := Stats{
		VWAP:     VWAP(candles),
		Range15m: Range15m(candles),
		ATR1m:    ATR1m(candles, 5),
		DayRange: DayRange(candles),
	}
	if spot != nil && s.VWAP != nil {
		s.VWAPDistance = ptr(math.Abs(*spot - *s.VWAP))
	}
	if emr != nil && *emr != 0 && s.ATR1m != nil {
		s.ATRPctEMR = ptr(*s.ATR1m / *emr)
	}
	return s
}

// PriorRange returns the high and low of bars [-31:-1]. Needs 31 bars.
func PriorRange(candles []market.CandleBar) (high, low *float64) {
	if len(candles) < 31 {
		return nil, nil
	}
	prior := candles[len(candles)-31 : len(candles)-1]
	hi, lo := prior[0].High, prior[0].Low
	for _, c := range prior[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return &hi, &lo
}

func highLow(window []market.CandleBar) *float64 {
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	return ptr(hi - lo)
}

func ptr(v float64) *float64 {
	return &v
}
