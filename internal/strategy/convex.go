package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type ConvexSettings struct {
	Widths            []float64 `json:"widths"`
	SlopeThreshold    float64   `json:"slope_threshold"`
	ExpansionRatio15m float64   `json:"expansion_ratio_15m"` // of EMR
	ExpansionRatioDay float64   `json:"expansion_ratio_day"` // of full-day EM
	LongDeltaMin      float64   `json:"long_delta_min"`
	LongDeltaMax      float64   `json:"long_delta_max"`
	LongDeltaTarget   float64   `json:"long_delta_target"`
	MinDebit          float64   `json:"min_debit"`
	MaxDebit          float64   `json:"max_debit"`
	MinRewardToRisk   float64   `json:"min_reward_to_risk"`
	MaxLiquidity      float64   `json:"max_liquidity"`
}

func DefaultConvexSettings() ConvexSettings {
	return ConvexSettings{
		Widths:            []float64{10, 15, 20},
		SlopeThreshold:    0.30,
		ExpansionRatio15m: 0.45,
		ExpansionRatioDay: 0.60,
		LongDeltaMin:      0.30,
		LongDeltaMax:      0.60,
		LongDeltaTarget:   0.40,
		MinDebit:          0.50,
		MaxDebit:          1.50,
		MinRewardToRisk:   1.5,
		MaxLiquidity:      0.15,
	}
}

const breakoutBars = 31

// FindConvex buys a debit spread in the trend direction once range expands and price breaks the prior 30m range.
func FindConvex(in Input, s ConvexSettings) Evaluation {
	cl, reason := preconditions(in, "Debit spread widths selected", s.Widths, "No debit spread widths selected.")
	if reason != "" {
		return notReady(KindConvex, cl, reason)
	}
	spot, emr := *in.Spot, *in.EMR
	var reasons []string

	passTime := inWindow(in.Now, 10, 0, 15, 0)
	cl = append(cl, decision.Check("Entry time 10:00-15:00 ET", passTime, market.Clock(in.Now)))
	if !passTime {
		reasons = append(reasons, "Convex debit spread only allowed 10:00-15:00 ET.")
	}

	if in.TrendSlope == nil {
		cl = append(cl, decision.Fail("Trend slope available", "Insufficient candles"))
		return notReady(KindConvex, cl, append(reasons, "Trend slope unavailable.")...)
	}
	slope := *in.TrendSlope
	passStrength := math.Abs(slope) >= s.SlopeThreshold
	cl = append(cl, decision.Check(fmt.Sprintf("Trend strength |slope| >= %.2f pts/min", s.SlopeThreshold), passStrength,
		fmt.Sprintf("Slope %+.3f", slope)))
	if !passStrength {
		reasons = append(reasons, "Trend slope below convex trigger threshold.")
	}

	candles := in.Candles
	if len(candles) < breakoutBars {
		cl = append(cl, decision.Fail("30m breakout context available", "Need >= 31 one-minute candles"))
		return notReady(KindConvex, cl, append(reasons, "Insufficient candles for 30m breakout check.")...)
	}

	range15 := *signals.DayRange(candles[len(candles)-15:])
	dayRange := *signals.DayRange(candles)
	from15 := range15 > s.ExpansionRatio15m*emr
	fromDay := in.FullDayEM != nil && *in.FullDayEM > 0 && dayRange > s.ExpansionRatioDay**in.FullDayEM
	passExpansion := from15 || fromDay
	cl = append(cl, decision.Check("Expansion regime confirmed", passExpansion,
		fmt.Sprintf("15m %.2f/%.2f, Day %.2f", range15, s.ExpansionRatio15m*emr, dayRange)))
	if !passExpansion {
		reasons = append(reasons, "No expansion regime trigger for convex debit spread.")
	}

	priorHigh, priorLow := signals.PriorRange(candles)
	var passBreakout bool
	var detail string
	up := slope >= s.SlopeThreshold
	switch {
	case up:
		passBreakout = spot > *priorHigh
		detail = fmt.Sprintf("%.2f > prior30H %.2f", spot, *priorHigh)
	case slope <= -s.SlopeThreshold:
		passBreakout = spot < *priorLow
		detail = fmt.Sprintf("%.2f < prior30L %.2f", spot, *priorLow)
	default:
		detail = "Direction unresolved"
	}
	cl = append(cl, decision.Check("30m breakout confirmation", passBreakout, detail))
	if !passBreakout {
		reasons = append(reasons, "Breakout not confirmed against prior 30m range.")
	}
	if len(reasons) > 0 {
		return notReady(KindConvex, cl, reasons...)
	}

	right, spreadType, offset := market.Put, PutDebitSpread, -1.0
	lo, hi := -s.LongDeltaMax, -s.LongDeltaMin
	gate := fmt.Sprintf("Long put delta in [%.2f, %.2f]", lo, hi)
	if up {
		right, spreadType, offset = market.Call, CallDebitSpread, 1.0
		lo, hi = s.LongDeltaMin, s.LongDeltaMax
		gate = fmt.Sprintf("Long call delta in [%.2f, %.2f]", lo, hi)
	}
	var longs []market.OptionQuote
	for _, o := range in.Options {
		if o.Right == right && o.Delta != nil && *o.Delta >= lo && *o.Delta <= hi && o.Mid != nil && *o.Mid > 0 {
			longs = append(longs, o)
		}
	}
	cl = append(cl, decision.Check(gate, len(longs) > 0, fmt.Sprintf("%d candidates", len(longs))))
	sortByDeltaTarget(longs, s.LongDeltaTarget)

	ix := market.NewIndex(in.Options)
	var candidates []*Candidate
	for _, long := range longs {
		for _, w := range s.Widths {
			short, ok := ix.Get(right, long.Strike+offset*w)
			if !ok {
				continue
			}
			if c := convexDebit(long, short, w, s); c != nil {
				c.SpreadType = spreadType
				c.TrendSlope = in.TrendSlope
				candidates = append(candidates, c)
			}
		}
	}
	cl = append(cl, decision.Check("Candidate found after debit/risk/liquidity filters", len(candidates) > 0, fmt.Sprintf("%d structures", len(candidates))))

	best, ok := pickBest(candidates, func(c *Candidate) rankKey {
		return rankKey{c.RewardToRisk, c.PopDelta, -c.Debit}
	})
	if !ok {
		return notReady(KindConvex, cl, "No convex debit spread passed strict debit, risk, and liquidity filters.")
	}
	cl = append(cl, decision.Pass("Candidate selected", string(best.SpreadType)))
	return settle(in, KindConvex, best, cl)
}

func convexDebit(long, short market.OptionQuote, width float64, s ConvexSettings) *Candidate {
	if long.Mid == nil || short.Mid == nil || long.Delta == nil || short.Delta == nil {
		return nil
	}
	if !liquid(long, s.MaxLiquidity) || !liquid(short, s.MaxLiquidity) {
		return nil
	}
	debit := *long.Mid - *short.Mid
	if debit <= 0 || debit < s.MinDebit || debit > s.MaxDebit {
		return nil
	}
	maxProfit := width - debit
	if maxProfit <= 0 {
		return nil
	}
	rr := maxProfit / debit
	if rr < s.MinRewardToRisk {
		return nil
	}
	return &Candidate{
		Kind:            KindConvex,
		Legs:            []Leg{legFrom(Buy, long, 1), legFrom(Sell, short, 1)},
		Width:           widthPtr(width),
		Debit:           debit,
		MaxLossPoints:   debit,
		MaxLossDollars:  debit * ContractMultiplier,
		MaxProfitPoints: maxProfit,
		RewardToRisk:    rr,
		PopDelta:        math.Min(1, math.Abs(*long.Delta)),
		LiquidityRatio:  math.Max(long.SpreadRatio(), short.SpreadRatio()),
		Expiration:      long.Expiration,
	}
}

// sortByDeltaTarget orders quotes by ||delta| - target| keeping chain order on ties.
func sortByDeltaTarget(quotes []market.OptionQuote, target float64) {
	dist := func(q market.OptionQuote) float64 { return math.Abs(math.Abs(*q.Delta) - target) }
	sort.SliceStable(quotes, func(i, j int) bool { return dist(quotes[i]) < dist(quotes[j]) })
}
