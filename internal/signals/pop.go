package signals

import "math"

// NormCDF is the standard normal CDF.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// PopCondorPrice is the probability spot settles inside the credit-adjusted short strikes.
func PopCondorPrice(spot, shortPut, shortCall, credit float64, sigma *float64) *float64 {
	if sigma == nil || *sigma == 0 {
		return nil
	}
	zLow := (shortPut - credit - spot) / *sigma
	zHigh := (shortCall + credit - spot) / *sigma
	return ptr(clamp(NormCDF(zHigh)-NormCDF(zLow), 0, 1))
}

// PopFlyPrice is PopCondorPrice with both short strikes at the body.
func PopFlyPrice(spot, shortStrike, credit float64, sigma *float64) *float64 {
	return PopCondorPrice(spot, shortStrike, shortStrike, credit, sigma)
}

// PopVerticalPrice handles bull puts (stay above short-credit) and bear calls (stay below short+credit).
func PopVerticalPrice(spot, shortStrike, credit float64, sigma *float64, bullPut bool) *float64 {
	if sigma == nil || *sigma == 0 {
		return nil
	}
	if bullPut {
		z := (shortStrike - credit - spot) / *sigma
		return ptr(clamp(1-NormCDF(z), 0, 1))
	}
	z := (shortStrike + credit - spot) / *sigma
	return ptr(clamp(NormCDF(z), 0, 1))
}

// PopDeltaPair averages the short deltas of a two-sided structure.
func PopDeltaPair(putDelta, callDelta float64) float64 {
	return clamp(1-(math.Abs(putDelta)+callDelta)/2, 0, 1)
}

// PopDeltaSingle is 1-|delta| for a single short leg.
func PopDeltaSingle(delta float64) float64 {
	return clamp(1-math.Abs(delta), 0, 1)
}

type RiskTier string

const (
	RiskLow  RiskTier = "LOW"
	RiskMed  RiskTier = "MED"
	RiskHigh RiskTier = "HIGH"
)

// Risk scores ATR and VWAP distance against EMR together with POP; missing input is HIGH.
func Risk(atr, emr, vwapDistance, popDelta *float64) RiskTier {
	if atr == nil || emr == nil || *emr == 0 || vwapDistance == nil || popDelta == nil {
		return RiskHigh
	}
	atrPct := *atr / *emr
	vwapPct := *vwapDistance / *emr
	switch {
	case atrPct < 0.18 && vwapPct < 0.18 && *popDelta >= 0.84:
		return RiskLow
	case atrPct < 0.32 && vwapPct < 0.32 && *popDelta >= 0.70:
		return RiskMed
	}
	return RiskHigh
}
