package strategy

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type CondorSettings struct {
	Widths          []float64 `json:"widths"`
	PutDeltaMin     float64   `json:"put_delta_min"`
	PutDeltaMax     float64   `json:"put_delta_max"`
	CallDeltaMin    float64   `json:"call_delta_min"`
	CallDeltaMax    float64   `json:"call_delta_max"`
	MaxSymmetry     float64   `json:"max_symmetry"`
	MinEMRDistance  float64   `json:"min_emr_distance"` // multiple of EMR
	MaxLiquidity    float64   `json:"max_liquidity"`
	MinCreditPerWid float64   `json:"min_credit_per_width"`
}

func DefaultCondorSettings() CondorSettings {
	return CondorSettings{
		Widths:          []float64{30, 40, 50},
		PutDeltaMin:     -0.25,
		PutDeltaMax:     -0.08,
		CallDeltaMin:    0.08,
		CallDeltaMax:    0.25,
		MaxSymmetry:     0.06,
		MinEMRDistance:  1.0,
		MaxLiquidity:    0.18,
		MinCreditPerWid: 0.02,
	}
}

type condorPair struct{ put, call market.OptionQuote }

// FindCondor selects the best iron condor: symmetric short deltas outside 1x EMR with long wings at each width.
func FindCondor(in Input, s CondorSettings) Evaluation {
	cl, reason := preconditions(in, "Condor widths selected", s.Widths, "No condor widths selected.")
	if reason != "" {
		return notReady(KindCondor, cl, reason)
	}
	spot, emr := *in.Spot, *in.EMR

	ix := market.NewIndex(in.Options)
	var puts, calls []market.OptionQuote
	for _, o := range in.Options {
		if o.Delta == nil {
			continue
		}
		d := *o.Delta
		if o.Right == market.Put && d >= s.PutDeltaMin && d <= s.PutDeltaMax {
			puts = append(puts, o)
		}
		if o.Right == market.Call && d >= s.CallDeltaMin && d <= s.CallDeltaMax {
			calls = append(calls, o)
		}
	}
	cl = append(cl,
		decision.Check(fmt.Sprintf("Short put delta in [%.2f, %.2f]", s.PutDeltaMin, s.PutDeltaMax), len(puts) > 0, fmt.Sprintf("%d candidates", len(puts))),
		decision.Check(fmt.Sprintf("Short call delta in [%.2f, %.2f]", s.CallDeltaMin, s.CallDeltaMax), len(calls) > 0, fmt.Sprintf("%d candidates", len(calls))),
	)
	var reasons []string
	if len(puts) == 0 {
		reasons = append(reasons, fmt.Sprintf("No short put in delta band [%.2f, %.2f].", s.PutDeltaMin, s.PutDeltaMax))
	}
	if len(calls) == 0 {
		reasons = append(reasons, fmt.Sprintf("No short call in delta band [%.2f, %.2f].", s.CallDeltaMin, s.CallDeltaMax))
	}
	if len(reasons) > 0 {
		return notReady(KindCondor, cl, reasons...)
	}

	total := len(puts) * len(calls)
	var symmetric, distant, liquidPairs []condorPair
	for _, sp := range puts {
		for _, sc := range calls {
			if math.Abs(math.Abs(*sp.Delta)-*sc.Delta) <= s.MaxSymmetry {
				symmetric = append(symmetric, condorPair{sp, sc})
			}
		}
	}
	cl = append(cl, decision.Check(fmt.Sprintf("Delta symmetry abs(|put|-call) <= %.2f", s.MaxSymmetry), len(symmetric) > 0,
		fmt.Sprintf("%d/%d pairs", len(symmetric), total)))

	minDist := s.MinEMRDistance * emr
	for _, p := range symmetric {
		if spot-p.put.Strike >= minDist && p.call.Strike-spot >= minDist {
			distant = append(distant, p)
		}
	}
	cl = append(cl, decision.Check(fmt.Sprintf("Short strikes >= %.1f * EMR from spot", s.MinEMRDistance), len(distant) > 0,
		fmt.Sprintf("%d/%d pairs", len(distant), len(symmetric))))

	for _, p := range distant {
		if liquid(p.put, s.MaxLiquidity) && liquid(p.call, s.MaxLiquidity) {
			liquidPairs = append(liquidPairs, p)
		}
	}
	cl = append(cl, decision.Check(fmt.Sprintf("Short-leg liquidity (spread/mid <= %.2f)", s.MaxLiquidity), len(liquidPairs) > 0,
		fmt.Sprintf("%d/%d pairs", len(liquidPairs), len(distant))))

	var candidates []*Candidate
	structures, creditPass := 0, 0
	for _, p := range liquidPairs {
		for _, w := range s.Widths {
			lp, okP := ix.Get(market.Put, p.put.Strike-w)
			lc, okC := ix.Get(market.Call, p.call.Strike+w)
			if !okP || !okC {
				continue
			}
			if p.put.Mid == nil || p.call.Mid == nil || lp.Mid == nil || lc.Mid == nil {
				continue
			}
			structures++
			credit := *p.put.Mid + *p.call.Mid - *lp.Mid - *lc.Mid
			if credit <= 0 || credit < s.MinCreditPerWid*w {
				continue
			}
			maxLoss := w - credit
			if maxLoss <= 0 {
				continue
			}
			creditPass++
			candidates = append(candidates, &Candidate{
				Kind:       KindCondor,
				SpreadType: IronCondor,
				Legs: []Leg{
					legFrom(Sell, p.put, 1),
					legFrom(Buy, lp, 1),
					legFrom(Sell, p.call, 1),
					legFrom(Buy, lc, 1),
				},
				Width:           widthPtr(w),
				Credit:          credit,
				MaxLossPoints:   maxLoss,
				MaxLossDollars:  maxLoss * ContractMultiplier,
				PopDelta:        signals.PopDeltaPair(*p.put.Delta, *p.call.Delta),
				PopPrice:        signals.PopCondorPrice(spot, p.put.Strike, p.call.Strike, credit, in.FullDayEM),
				LiquidityRatio:  math.Max(p.put.SpreadRatio(), p.call.SpreadRatio()),
				CreditToMaxLoss: credit / maxLoss,
			})
		}
	}
	cl = append(cl,
		decision.Check("Wing structures available for selected widths", structures > 0, fmt.Sprintf("%d valid structures", structures)),
		decision.Check(fmt.Sprintf("Credit filter (credit >= %.2f * width)", s.MinCreditPerWid), creditPass > 0, fmt.Sprintf("%d structures passed", creditPass)),
	)

	best, ok := pickBest(candidates, func(c *Candidate) rankKey {
		return rankKey{c.CreditToMaxLoss, c.Credit, c.PopDelta}
	})
	if !ok {
		return notReady(KindCondor, cl, "No condor candidate passed symmetry, distance, width, credit, and liquidity filters.")
	}
	cl = append(cl, decision.Pass("Candidate selected", "Best credit/max-loss found"))
	return settle(in, KindCondor, best, cl)
}

// CondorStrikes returns short put, long put, short call and long call strikes.
func (c *Candidate) CondorStrikes() (shortPut, longPut, shortCall, longCall float64) {
	if l, ok := c.Leg(Sell, market.Put); ok {
		shortPut = l.Strike
	}
	if l, ok := c.Leg(Buy, market.Put); ok {
		longPut = l.Strike
	}
	if l, ok := c.Leg(Sell, market.Call); ok {
		shortCall = l.Strike
	}
	if l, ok := c.Leg(Buy, market.Call); ok {
		longCall = l.Strike
	}
	return shortPut, longPut, shortCall, longCall
}
