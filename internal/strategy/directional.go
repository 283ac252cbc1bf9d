package strategy

import (
	"fmt"
	"math"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type DirectionalSettings struct {
	Widths            []float64 `json:"widths"`
	SlopeThreshold    float64   `json:"slope_threshold"` // points per minute
	MaxRangeEMR       float64   `json:"max_range_emr"`
	PutDeltaMin       float64   `json:"put_delta_min"`
	PutDeltaMax       float64   `json:"put_delta_max"`
	CallDeltaMin      float64   `json:"call_delta_min"`
	CallDeltaMax      float64   `json:"call_delta_max"`
	MinCreditPerWidth float64   `json:"min_credit_per_width"`
	MinPop            float64   `json:"min_pop"`
	MaxLiquidity      float64   `json:"max_liquidity"`
}

func DefaultDirectionalSettings() DirectionalSettings {
	return DirectionalSettings{
		Widths:            []float64{25, 30, 40, 50},
		SlopeThreshold:    0.12,
		MaxRangeEMR:       0.55,
		PutDeltaMin:       -0.30,
		PutDeltaMax:       -0.12,
		CallDeltaMin:      0.12,
		CallDeltaMax:      0.30,
		MinCreditPerWidth: 0.03,
		MinPop:            0.60,
		MaxLiquidity:      0.18,
	}
}

// FindDirectional sells a bull put in an uptrend or a bear call in a downtrend.
func FindDirectional(in Input, s DirectionalSettings) Evaluation {
	cl, reason := preconditions(in, "Widths selected", s.Widths, "No credit spread widths selected.")
	if reason != "" {
		return notReady(KindDirectional, cl, reason)
	}
	spot, emr := *in.Spot, *in.EMR
	var reasons []string

	passTime := inWindow(in.Now, 9, 45, 14, 30)
	cl = append(cl, decision.Check("Entry time 09:45-14:30 ET", passTime, market.Clock(in.Now)))
	if !passTime {
		reasons = append(reasons, "Directional spread not allowed outside 09:45-14:30 ET.")
	}

	if in.TrendSlope == nil {
		cl = append(cl, decision.Fail("Trend slope available", "Insufficient candles"))
		return notReady(KindDirectional, cl, append(reasons, "Trend slope unavailable.")...)
	}
	slope := *in.TrendSlope
	var spreadType SpreadType
	switch {
	case slope > s.SlopeThreshold:
		spreadType = BullPutSpread
	case slope < -s.SlopeThreshold:
		spreadType = BearCallSpread
	}
	cl = append(cl, decision.Check(fmt.Sprintf("Trend strength |slope| > %.2f pts/min", s.SlopeThreshold), spreadType != "",
		fmt.Sprintf("slope %+.3f", slope)))
	if spreadType == "" {
		reasons = append(reasons, "Trend too weak/choppy for directional spread.")
	}

	rng := in.Stats.Range15m
	passRange := rng != nil && *rng < s.MaxRangeEMR*emr
	cl = append(cl, decision.Check(fmt.Sprintf("15m range < %.2f * EMR", s.MaxRangeEMR), passRange,
		fmt.Sprintf("%s < %.2f", fmtOpt(rng), s.MaxRangeEMR*emr)))
	if !passRange {
		reasons = append(reasons, "15m realized range is too high for directional spread.")
	}
	if len(reasons) > 0 {
		return notReady(KindDirectional, cl, reasons...)
	}

	right, lo, hi, offset := market.Put, s.PutDeltaMin, s.PutDeltaMax, -1.0
	gate := fmt.Sprintf("Bull put short-put delta in [%.2f,%.2f]", lo, hi)
	if spreadType == BearCallSpread {
		right, lo, hi, offset = market.Call, s.CallDeltaMin, s.CallDeltaMax, 1.0
		gate = fmt.Sprintf("Bear call short-call delta in [%.2f,%.2f]", lo, hi)
	}
	var shorts []market.OptionQuote
	for _, o := range in.Options {
		if o.Right == right && o.Delta != nil && *o.Delta >= lo && *o.Delta <= hi {
			shorts = append(shorts, o)
		}
	}
	cl = append(cl, decision.Check(gate, len(shorts) > 0, fmt.Sprintf("%d candidates", len(shorts))))

	ix := market.NewIndex(in.Options)
	var candidates []*Candidate
	for _, short := range shorts {
		for _, w := range s.Widths {
			long, ok := ix.Get(right, short.Strike+offset*w)
			if !ok || short.Mid == nil || long.Mid == nil {
				continue
			}
			if !liquid(short, s.MaxLiquidity) || !liquid(long, s.MaxLiquidity) {
				continue
			}
			c := verticalCredit(short, long, w, s.MinCreditPerWidth)
			if c == nil {
				continue
			}
			c.PopDelta = signals.PopDeltaSingle(*short.Delta)
			if c.PopDelta < s.MinPop {
				continue
			}
			c.Kind = KindDirectional
			c.SpreadType = spreadType
			c.PopPrice = signals.PopVerticalPrice(spot, short.Strike, c.Credit, in.FullDayEM, spreadType == BullPutSpread)
			c.TrendSlope = in.TrendSlope
			candidates = append(candidates, c)
		}
	}
	cl = append(cl, decision.Check("Candidate found after filters", len(candidates) > 0, fmt.Sprintf("%d structures", len(candidates))))

	best, ok := pickBest(candidates, func(c *Candidate) rankKey {
		return rankKey{c.CreditToMaxLoss, c.Credit, c.PopDelta}
	})
	if !ok {
		return notReady(KindDirectional, cl, "No directional spread passed delta/width/credit/POP/liquidity filters.")
	}
	cl = append(cl, decision.Pass("Candidate selected", string(best.SpreadType)))
	return settle(in, KindDirectional, best, cl)
}

// verticalCredit prices a short/long vertical from mids; nil when credit or max loss fail.
func verticalCredit(short, long market.OptionQuote, width, minCreditPerWidth float64) *Candidate {
	credit := *short.Mid - *long.Mid
	if credit <= 0 || credit < minCreditPerWidth*width {
		return nil
	}
	maxLoss := width - credit
	if maxLoss <= 0 {
		return nil
	}
	return &Candidate{
		Legs:            []Leg{legFrom(Sell, short, 1), legFrom(Buy, long, 1)},
		Width:           widthPtr(width),
		Credit:          credit,
		MaxLossPoints:   maxLoss,
		MaxLossDollars:  maxLoss * ContractMultiplier,
		LiquidityRatio:  math.Max(short.SpreadRatio(), long.SpreadRatio()),
		CreditToMaxLoss: credit / maxLoss,
		Expiration:      short.Expiration,
	}
}

// VerticalStrikes returns the short and long strikes of a two-leg spread.
func (c *Candidate) VerticalStrikes() (short, long float64) {
	for _, l := range c.Legs {
		if l.Action == Sell {
			short = l.Strike
		} else {
			long = l.Strike
		}
	}
	return short, long
}
