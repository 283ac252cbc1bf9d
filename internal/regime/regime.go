// Package regime buckets the intraday tape into COMPRESSION, CHOP, TREND_UP,
// TREND_DOWN or EXPANSION and scores how comfortably inside its bucket it sits.
package regime

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type Regime string

const (
	Compression  Regime = "COMPRESSION"
	Chop         Regime = "CHOP"
	TrendUp      Regime = "TREND_UP"
	TrendDown    Regime = "TREND_DOWN"
	Expansion    Regime = "EXPANSION"
	Unclassified Regime = "UNCLASSIFIED"
)

// Thresholds as fractions of EMR (or full-day EM for the day range).
const (
	expansionRangeEMR  = 0.45
	expansionDayEM     = 0.60
	compressionRange   = 0.30
	compressionATR     = 6.0
	compressionSlope   = 0.15
	compressionVWAPEMR = 0.20
	chopSlope          = 0.20
	chopVWAPEMR        = 0.40
	trendSlope         = 0.20
	trendVWAPEMR       = 0.60
	trendRangeEMR      = 0.60
)

// Inputs is everything the classifier looks at. Nil means unavailable.
type Inputs struct {
	EMR          *float64
	FullDayEM    *float64
	Range15m     *float64
	ATR1m        *float64
	Slope        *float64 // 1m trend slope, points per minute
	VWAPDistance *float64
	DayRange     *float64
	VolExpansion bool
	Alignment    signals.Alignment
}

// NewInputs assembles classifier inputs from the intraday stats block.
func NewInputs(emr, fullDayEM *float64, stats signals.Stats, slope *float64, volExpansion bool, alignment signals.Alignment) Inputs {
	return Inputs{
		EMR:          emr,
		FullDayEM:    fullDayEM,
		Range15m:     stats.Range15m,
		ATR1m:        stats.ATR1m,
		Slope:        slope,
		VWAPDistance: stats.VWAPDistance,
		DayRange:     stats.DayRange,
		VolExpansion: volExpansion,
		Alignment:    alignment,
	}
}

func (in Inputs) complete() bool {
	return positive(in.EMR) && positive(in.FullDayEM) &&
		in.Range15m != nil && in.ATR1m != nil && in.Slope != nil && in.VWAPDistance != nil && in.DayRange != nil
}

// Classify walks the decision tree. Expansion wins over everything else.
func Classify(in Inputs) (Regime, string) {
	if !in.complete() {
		return Unclassified, "Missing required data for regime classification."
	}
	emr, fullEM := *in.EMR, *in.FullDayEM
	rng, atr, vwap, day := *in.Range15m, *in.ATR1m, *in.VWAPDistance, *in.DayRange
	slope := math.Abs(*in.Slope)

	if rng > expansionRangeEMR*emr || in.VolExpansion || day > expansionDayEM*fullEM {
		return Expansion, "Range/volatility expansion conditions met."
	}
	if rng <= compressionRange*emr && atr <= compressionATR && slope <= compressionSlope && vwap <= compressionVWAPEMR*emr {
		return Compression, "Low range + low ATR + flat slope."
	}
	if rng > compressionRange*emr && rng <= expansionRangeEMR*emr && slope <= chopSlope && vwap <= chopVWAPEMR*emr {
		return Chop, "Moderate range with non-directional slope."
	}
	if slope >= trendSlope && vwap <= trendVWAPEMR*emr && rng <= trendRangeEMR*emr && in.Alignment.Aligned {
		pct := fmt.Sprintf("%.0f%%", in.Alignment.Score*100)
		switch in.Alignment.Direction {
		case signals.DirUp:
			return TrendUp, "Uptrend slope + MTF alignment (" + pct + ")."
		case signals.DirDown:
			return TrendDown, "Downtrend slope + MTF alignment (" + pct + ")."
		}
		return Unclassified, "Trend slope present but MTF alignment is mixed."
	}
	return Unclassified, "Metrics did not fit strict regime buckets."
}

func (r Regime) IsTrend() bool { return r == TrendUp || r == TrendDown }

func positive(p *float64) bool { return p != nil && *p != 0 }
