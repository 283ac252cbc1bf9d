package playbook

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

const (
	maxProjectedNetDelta = 0.25
	trendSlopeMin        = 0.20
	convexSlopeMin       = 0.30
	convexRiskMinPct     = 0.005
	convexRiskMaxPct     = 0.015
	convexRewardMin      = 1.5
	mtfScoreMin          = 0.67
)

// StrategyRows dispatches to the structure's own rule block.
func StrategyRows(kind strategy.Kind, c *strategy.Candidate, ctx Context) decision.Checklist {
	switch kind {
	case strategy.KindCondor:
		return condorRows(c, ctx)
	case strategy.KindFly:
		return flyRows(c, ctx)
	case strategy.KindDirectional:
		return directionalRows(c, ctx)
	case strategy.KindConvex:
		return convexRows(c, ctx)
	}
	return decision.Checklist{decision.Fail("Known strategy", string(kind))}
}

func condorRows(c *strategy.Candidate, ctx Context) decision.Checklist {
	st := ctx.Stats
	cl := decision.Checklist{
		candidateRow("Condor candidate exists", c),
		emrRow("15m Realized Range <= 45% EMR", st.Range15m, ctx.EMR, 0.45),
		pointsRow("ATR(1m,5) <= 8 pts", st.ATR1m, 8),
		emrRow("VWAP Distance <= 40% EMR", st.VWAPDistance, ctx.EMR, 0.40),
		emrRow("High/Low since open <= 60% full-day EM", st.DayRange, ctx.FullDayEM, 0.60),
	}

	putD, callD := legDelta(c, strategy.Sell, market.Put), legDelta(c, strategy.Sell, market.Call)
	if inBand(putD, 0.12, 0.18) && inBand(callD, 0.12, 0.18) {
		cl = append(cl, decision.Pass("Short deltas between ±0.12–0.18", fmt.Sprintf("put %+.2f, call %+.2f", *putD, *callD)))
	} else {
		cl = append(cl, decision.Fail("Short deltas between ±0.12–0.18", "Missing delta or out of band."))
	}

	if putD != nil && callD != nil {
		diff := math.Abs(math.Abs(*putD) - math.Abs(*callD))
		cl = append(cl, decision.Check("Delta symmetry difference <= 0.03", diff <= 0.03, fmt.Sprintf("diff %.3f", diff)))
	} else {
		cl = append(cl, decision.Fail("Delta symmetry difference <= 0.03", "Missing delta."))
	}

	putK, callK := legStrike(c, strategy.Sell, market.Put), legStrike(c, strategy.Sell, market.Call)
	const distName = "Short strikes >= 1.2 × EMR away"
	if ctx.Spot != nil && ctx.EMR != nil && putK != nil && callK != nil {
		putDist, callDist := *ctx.Spot-*putK, *callK-*ctx.Spot
		need := 1.2 * *ctx.EMR
		cl = append(cl, decision.Check(distName, putDist >= need && callDist >= need,
			fmt.Sprintf("put %.1f, call %.1f", putDist, callDist)))
	} else {
		cl = append(cl, decision.Fail(distName, "Distance check failed or data missing."))
	}

	return append(cl,
		widthRow("Width 30–50 pts", c, 30, 50),
		creditRow("Credit_adj >= 0.03 × width", c, ctx),
		popRow("POP (delta est) >= 75%", c),
		netDeltaRow(c, ctx),
	)
}

// netDeltaRow blocks a candidate that would stack delta onto the open book.
func netDeltaRow(c *strategy.Candidate, ctx Context) decision.GateResult {
	const name = "No existing same-direction exposure"
	d, ok := risk.CandidateNetDelta(c)
	if !ok {
		return decision.Fail(name, "Candidate delta unavailable.")
	}
	projected := ctx.Exposure.NetDelta + d
	return decision.Check(name, math.Abs(projected) <= maxProjectedNetDelta,
		fmt.Sprintf("Projected net delta %+.3f", projected))
}

func flyRows(c *strategy.Candidate, ctx Context) decision.Checklist {
	st := ctx.Stats
	cl := decision.Checklist{
		candidateRow("Fly candidate exists", c),
		emrRow("15m Realized Range <= 30% EMR", st.Range15m, ctx.EMR, 0.30),
		pointsRow("ATR(1m,5) <= 6 pts", st.ATR1m, 6),
	}

	const slopeName = "abs(slope_5m) <= 0.15"
	if ctx.Slope != nil {
		s := math.Abs(*ctx.Slope)
		cl = append(cl, decision.Checkf(slopeName, s <= 0.15,
			fmt.Sprintf("%.3f <= 0.150", s), fmt.Sprintf("%.3f > 0.150", s)))
	} else {
		cl = append(cl, decision.Fail(slopeName, "Metric unavailable."))
	}

	cl = append(cl,
		emrRow("VWAP Distance <= 20% EMR", st.VWAPDistance, ctx.EMR, 0.20),
		widthRow("Wings 20–30 pts", c, 20, 30),
		creditRow("Credit_adj >= minimum threshold", c, ctx),
		decision.Check("Entry time <= 13:00 ET", ctx.notAfter(13, 0), ctx.clock()),
	)

	const riskName = "Sleeve open risk check passes"
	r, ok := risk.CandidateRisk(c)
	projected, limit := ctx.Exposure.OpenRisk+r, ctx.Exposure.Limits.MaxOpenRisk
	if ok && projected <= limit {
		cl = append(cl, decision.Pass(riskName, fmt.Sprintf("Projected $%.0f <= $%.0f", projected, limit)))
	} else {
		cl = append(cl, decision.Fail(riskName, "Projected/open risk cap failed."))
	}
	return cl
}

func directionalRows(c *strategy.Candidate, ctx Context) decision.Checklist {
	cl := decision.Checklist{candidateRow("Directional spread candidate exists", c)}
	shortPut := legDelta(c, strategy.Sell, market.Put)
	shortCall := legDelta(c, strategy.Sell, market.Call)
	var spreadType strategy.SpreadType
	if c != nil {
		spreadType = c.SpreadType
	}

	switch ctx.Regime {
	case regime.TrendUp:
		cl = append(cl,
			slopeRow("slope_5m >= +0.20", ctx.Slope, func(s float64) bool { return s >= trendSlopeMin }),
			mtfRow("MTF trend confirms uptrend", signals.DirUp, ctx.Alignment),
			vwapRow("Price above VWAP", ctx, func(spot, vwap float64) bool { return spot > vwap }),
			emrRow("15m Range <= 60% EMR", ctx.Stats.Range15m, ctx.EMR, 0.60),
			shortDeltaRow("Short delta 0.20–0.25 (bull put)", shortPut,
				spreadType == strategy.BullPutSpread && shortPut != nil && *shortPut < 0),
		)
	case regime.TrendDown:
		cl = append(cl,
			slopeRow("slope_5m <= -0.20", ctx.Slope, func(s float64) bool { return s <= -trendSlopeMin }),
			mtfRow("MTF trend confirms downtrend", signals.DirDown, ctx.Alignment),
			vwapRow("Price below VWAP", ctx, func(spot, vwap float64) bool { return spot < vwap }),
			emrRow("15m Range <= 60% EMR", ctx.Stats.Range15m, ctx.EMR, 0.60),
			shortDeltaRow("Short delta -0.20 to -0.25 (bear call mirror)", shortCall,
				spreadType == strategy.BearCallSpread && shortCall != nil && *shortCall > 0),
		)
	default:
		cl = append(cl, decision.Fail("Trend regime requirement",
			fmt.Sprintf("Directional spreads require TREND_UP/TREND_DOWN, got %s.", ctx.Regime)))
	}

	cl = append(cl,
		widthRow("Width 25–50 pts", c, 25, 50),
		creditRow("Credit_adj >= 0.05 × width", c, ctx),
		popRow("POP >= 75%", c),
	)

	const openName = "No same-direction spread already open"
	if spreadType == "" {
		return append(cl, decision.Fail(openName, "Spread type missing."))
	}
	n := risk.CountOpenCreditSpreads(ctx.OpenTrades, spreadType)
	return append(cl, decision.Check(openName, n == 0, fmt.Sprintf("Open %s: %d", spreadType, n)))
}

func slopeRow(name string, slope *float64, ok func(float64) bool) decision.GateResult {
	if slope == nil {
		return decision.Fail(name, "Metric unavailable.")
	}
	return decision.Check(name, ok(*slope), fmt.Sprintf("%+.3f", *slope))
}

func mtfRow(name string, want signals.Direction, a signals.Alignment) decision.GateResult {
	detail := fmt.Sprintf("%s %.0f%% | %s", a.Direction, a.Score*100, a.Summary)
	return decision.Check(name, a.Direction == want && a.Score >= mtfScoreMin, detail)
}

func vwapRow(name string, ctx Context, ok func(spot, vwap float64) bool) decision.GateResult {
	if ctx.Spot == nil || ctx.Stats.VWAP == nil {
		return decision.Fail(name, "Metric unavailable.")
	}
	return decision.Check(name, ok(*ctx.Spot, *ctx.Stats.VWAP),
		fmt.Sprintf("spot %.2f, vwap %.2f", *ctx.Spot, *ctx.Stats.VWAP))
}

func shortDeltaRow(name string, d *float64, sideOK bool) decision.GateResult {
	if d == nil {
		return decision.Fail(name, "Missing delta or out of band.")
	}
	return decision.Check(name, sideOK && inBand(d, 0.20, 0.25), fmt.Sprintf("%+.2f", *d))
}

func convexRows(c *strategy.Candidate, ctx Context) decision.Checklist {
	cl := decision.Checklist{candidateRow("Convex debit candidate exists", c)}

	const trigName = "Vol Expansion TRUE OR 15m Range > 45% EMR"
	var rangeLimit float64
	if ctx.EMR != nil {
		rangeLimit = 0.45 * *ctx.EMR
	}
	rangeTrigger := ctx.Stats.Range15m != nil && ctx.EMR != nil && *ctx.Stats.Range15m > rangeLimit
	switch {
	case ctx.VolExpansion:
		cl = append(cl, decision.Pass(trigName, ctx.VolDetail))
	case rangeTrigger:
		cl = append(cl, decision.Pass(trigName, fmt.Sprintf("%.2f > %.2f", *ctx.Stats.Range15m, rangeLimit)))
	default:
		cl = append(cl, decision.Fail(trigName, "Expansion trigger missing."))
	}

	const breakName = "Confirmed breakout (prior 30m high/low)"
	switch {
	case c == nil || c.SpreadType == "":
		cl = append(cl, decision.Fail(breakName, "Spread type missing."))
	case ctx.Spot == nil || ctx.PriorHigh == nil || ctx.PriorLow == nil:
		cl = append(cl, decision.Fail(breakName, "Prior range unavailable."))
	case c.SpreadType == strategy.CallDebitSpread:
		cl = append(cl, decision.Check(breakName, *ctx.Spot > *ctx.PriorHigh,
			fmt.Sprintf("spot %.2f vs prior high %.2f", *ctx.Spot, *ctx.PriorHigh)))
	default:
		cl = append(cl, decision.Check(breakName, *ctx.Spot < *ctx.PriorLow,
			fmt.Sprintf("spot %.2f vs prior low %.2f", *ctx.Spot, *ctx.PriorLow)))
	}

	cl = append(cl, slopeRow("slope_5m magnitude >= 0.30", ctx.Slope,
		func(s float64) bool { return math.Abs(s) >= convexSlopeMin }))

	const bandName = "Risk between 0.5%–1.5% sleeve ($50–$150)"
	if r, ok := risk.CandidateRisk(c); ok {
		capital := ctx.Exposure.Settings.SleeveCapital
		lo, hi := convexRiskMinPct*capital, convexRiskMaxPct*capital
		cl = append(cl, decision.Check(bandName, r >= lo && r <= hi,
			fmt.Sprintf("$%.0f in [%.0f, %.0f]", r, lo, hi)))
	} else {
		cl = append(cl, decision.NA(bandName, "No candidate."))
	}

	const rewardName = "Reward >= 1.5R"
	if c != nil {
		cl = append(cl, decision.Check(rewardName, c.RewardToRisk >= convexRewardMin, fmt.Sprintf("%.2fR", c.RewardToRisk)))
	} else {
		cl = append(cl, decision.Fail(rewardName, "Metric unavailable."))
	}

	n := risk.CountOpenConvex(ctx.OpenTrades)
	return append(cl, decision.Check("Only 1 convex trade open at a time", n < 1, fmt.Sprintf("Open convex trades: %d", n)))
}
