package signals

import (
	"math"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

// Aggregate30m buckets 1m bars into half-hour bars stamped with the last bar's time.
func Aggregate30m(candles []market.CandleBar) []market.CandleBar {
	if len(candles) == 0 {
		return nil
	}
	var (
		out    []market.CandleBar
		bucket []market.CandleBar
		curKey time.Time
	)
	for _, c := range candles {
		key := c.Timestamp.Truncate(30 * time.Minute)
		if bucket != nil && !key.Equal(curKey) {
			out = append(out, aggregate(bucket))
			bucket = nil
		}
		curKey = key
		bucket = append(bucket, c)
	}
	if len(bucket) > 0 {
		out = append(out, aggregate(bucket))
	}
	return out
}

func aggregate(bucket []market.CandleBar) market.CandleBar {
	first, last := bucket[0], bucket[len(bucket)-1]
	bar := market.CandleBar{
		Timestamp: last.Timestamp,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     last.Close,
	}
	var pv float64
	for _, b := range bucket {
		bar.High = math.Max(bar.High, b.High)
		bar.Low = math.Min(bar.Low, b.Low)
		bar.Volume += b.Volume
		price := b.Close
		if b.VWAP != nil {
			price = *b.VWAP
		}
		pv += price * b.Volume
	}
	if bar.Volume > 0 {
		bar.VWAP = ptr(pv / bar.Volume)
	} else {
		bar.VWAP = ptr(last.Close)
	}
	return bar
}

// Closes extracts close prices.
func Closes(candles []market.CandleBar) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// EMA seeds with the first value and smooths with alpha = 2/(length+1).
func EMA(values []float64, length int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2 / (float64(length) + 1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD returns the 12/26 line, its 9-period signal and the histogram.
func MACD(values []float64) (line, signal, hist []float64) {
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	line = make([]float64, len(values))
	for i := range values {
		line[i] = fast[i] - slow[i]
	}
	signal = EMA(line, 9)
	hist = make([]float64, len(line))
	for i := range line {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

// StdChannel returns the mean and population standard deviation of the last lookback values.
func StdChannel(values []float64, lookback int) (mean, sigma float64, ok bool) {
	if lookback <= 0 || len(values) < lookback {
		return 0, 0, false
	}
	window := values[len(values)-lookback:]
	for _, v := range window {
		mean += v
	}
	mean /= float64(lookback)
	var variance float64
	for _, v := range window {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(lookback)), true
}

// Slope is the OLS slope with zero for degenerate input.
func Slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	s, ok := olsSlope(values)
	if !ok {
		return 0
	}
	return s
}

// MeasuredMove compares the last 5-bar move with the mean bar-to-bar swing of the last 20 closes.
// The ratio is capped at 2.
func MeasuredMove(closes []float64) (lastMove, ratio float64) {
	if len(closes) < 20 {
		return 0, 0
	}
	recent := closes[len(closes)-20:]
	var swings float64
	for i := 1; i < len(recent); i++ {
		swings += math.Abs(recent[i] - recent[i-1])
	}
	avg := swings / float64(len(recent)-1)
	lastMove = math.Abs(recent[len(recent)-1] - recent[len(recent)-6])
	if avg == 0 {
		return lastMove, 0
	}
	return lastMove, math.Min(2, lastMove/avg)
}
