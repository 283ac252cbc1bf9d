package regime

import "math"

type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Score is the regime confidence: Score in [0,1], Pct rounded to one decimal.
type Score struct {
	Score float64 `json:"score"`
	Pct   float64 `json:"confidence_pct"`
	Tier  Tier    `json:"tier"`
}

// ratio is 1 when v sits on the good side of thr and decays toward 0 past it.
func ratio(v *float64, thr float64, upperIsGood bool) float64 {
	if v == nil || thr == 0 {
		return 0
	}
	if upperIsGood {
		if *v >= thr {
			return 1
		}
		return math.Max(0, *v/thr)
	}
	if *v <= thr {
		return 1
	}
	return math.Max(0, thr / *v)
}

func absPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := math.Abs(*p)
	return &v
}

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

// Confidence averages the regime's threshold ratios. UNCLASSIFIED scores zero.
func Confidence(r Regime, in Inputs) Score {
	var emr float64
	if in.EMR != nil {
		emr = *in.EMR
	}
	slope := absPtr(in.Slope)

	var components []float64
	switch r {
	case Compression:
		components = []float64{
			ratio(in.Range15m, compressionRange*emr, false),
			ratio(in.ATR1m, compressionATR, false),
			ratio(slope, compressionSlope, false),
			ratio(in.VWAPDistance, compressionVWAPEMR*emr, false),
		}
	case Chop:
		lower, upper := compressionRange*emr, expansionRangeEMR*emr
		var rangeScore float64
		if in.Range15m != nil && emr != 0 {
			switch rng := *in.Range15m; {
			case rng > lower && rng <= upper:
				rangeScore = 1
			case rng <= lower:
				rangeScore = math.Max(0, rng/lower)
			default:
				rangeScore = math.Max(0, upper/rng)
			}
		}
		components = []float64{
			rangeScore,
			ratio(slope, chopSlope, false),
			ratio(in.VWAPDistance, chopVWAPEMR*emr, false),
		}
	case TrendUp, TrendDown:
		components = []float64{
			ratio(slope, trendSlope, true),
			ratio(in.VWAPDistance, trendVWAPEMR*emr, false),
			ratio(in.Range15m, trendRangeEMR*emr, false),
			clamp01(in.Alignment.Score),
		}
	case Expansion:
		var vol, rangeRatio, dayRatio float64
		if in.VolExpansion {
			vol = 1
		}
		if in.Range15m != nil && emr != 0 {
			rangeRatio = *in.Range15m / (expansionRangeEMR * emr)
		}
		if in.DayRange != nil && positive(in.FullDayEM) {
			dayRatio = *in.DayRange / (expansionDayEM * *in.FullDayEM)
		}
		components = []float64{vol, clamp01(rangeRatio), clamp01(dayRatio)}
	default:
		components = []float64{0}
	}

	var sum float64
	for _, c := range components {
		sum += c
	}
	score := clamp01(sum / float64(len(components)))
	pct := math.Round(score*1000) / 10
	tier := TierLow
	switch {
	case pct >= 80:
		tier = TierHigh
	case pct >= 60:
		tier = TierMedium
	}
	return Score{Score: score, Pct: pct, Tier: tier}
}
