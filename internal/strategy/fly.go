package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type FlySettings struct {
	Widths          []float64 `json:"widths"`
	CutoffHour      int       `json:"cutoff_hour"`
	CutoffMinute    int       `json:"cutoff_minute"`
	MaxVWAPEMR      float64   `json:"max_vwap_emr"`
	MaxRangeEMR     float64   `json:"max_range_emr"`
	MaxVIXChangePct float64   `json:"max_vix_change_pct"`
	MaxLiquidity    float64   `json:"max_liquidity"`
}

func DefaultFlySettings() FlySettings {
	return FlySettings{
		Widths:          []float64{20, 30},
		CutoffHour:      13,
		MaxVWAPEMR:      0.2,
		MaxRangeEMR:     0.25,
		MaxVIXChangePct: 3.0,
		MaxLiquidity:    0.12,
	}
}

// FindFly selects an ATM iron fly when price is pinned near VWAP with a quiet 15m range.
func FindFly(in Input, s FlySettings) Evaluation {
	cl, reason := preconditions(in, "Fly widths selected", s.Widths, "No fly widths selected.")
	if reason != "" {
		return notReady(KindFly, cl, reason)
	}
	spot, emr := *in.Spot, *in.EMR
	var reasons []string

	et := market.InET(in.Now)
	cutoff := fmt.Sprintf("%02d:%02d", s.CutoffHour, s.CutoffMinute)
	passTime := !et.After(market.At(et, s.CutoffHour, s.CutoffMinute))
	cl = append(cl, decision.Check("Entry time <= "+cutoff+" ET", passTime, market.Clock(in.Now)))
	if !passTime {
		reasons = append(reasons, "Iron Fly not allowed after "+cutoff+" ET.")
	}

	vwapDist := in.Stats.VWAPDistance
	passVWAP := vwapDist != nil && *vwapDist < s.MaxVWAPEMR*emr
	cl = append(cl, decision.Check(fmt.Sprintf("|SPX - VWAP| < %.1f * EMR", s.MaxVWAPEMR), passVWAP,
		fmt.Sprintf("%s < %.2f", fmtOpt(vwapDist), s.MaxVWAPEMR*emr)))
	if !passVWAP {
		reasons = append(reasons, fmt.Sprintf("|SPX-VWAP| must be < %.1f * EMR for fly.", s.MaxVWAPEMR))
	}

	rng := in.Stats.Range15m
	passRange := rng != nil && *rng < s.MaxRangeEMR*emr
	cl = append(cl, decision.Check(fmt.Sprintf("15m range < %.2f * EMR", s.MaxRangeEMR), passRange,
		fmt.Sprintf("%s < %.2f", fmtOpt(rng), s.MaxRangeEMR*emr)))
	if !passRange {
		reasons = append(reasons, fmt.Sprintf("15m range must be < %.2f * EMR for fly.", s.MaxRangeEMR))
	}

	vix := in.VIXChangePct
	passVIX := vix == nil || *vix <= s.MaxVIXChangePct
	vixDetail := "- (ignored)"
	if vix != nil {
		vixDetail = fmt.Sprintf("%+.2f%% <= %+.2f%%", *vix, s.MaxVIXChangePct)
	}
	cl = append(cl, decision.Check(fmt.Sprintf("VIX change <= %+.0f%% (if available)", s.MaxVIXChangePct), passVIX, vixDetail))
	if !passVIX {
		reasons = append(reasons, fmt.Sprintf("VIX change must be <= %+.0f%% for fly.", s.MaxVIXChangePct))
	}
	if len(reasons) > 0 {
		return notReady(KindFly, cl, reasons...)
	}

	calls := map[float64]market.OptionQuote{}
	puts := map[float64]market.OptionQuote{}
	for _, o := range in.Options {
		if o.Mid == nil || *o.Mid <= 0 {
			continue
		}
		switch o.Right {
		case market.Call:
			calls[market.StrikeKey(o.Strike)] = o
		case market.Put:
			puts[market.StrikeKey(o.Strike)] = o
		}
	}
	var shared []float64
	for k := range calls {
		if _, ok := puts[k]; ok {
			shared = append(shared, k)
		}
	}
	sort.Float64s(shared)
	cl = append(cl, decision.Check("ATM shared strike exists", len(shared) > 0, fmt.Sprintf("%d shared strikes", len(shared))))
	if len(shared) == 0 {
		return notReady(KindFly, cl, "No shared strike with valid call/put mids for ATM short legs.")
	}

	atm := shared[0]
	for _, k := range shared[1:] {
		if math.Abs(k-spot) < math.Abs(atm-spot) {
			atm = k
		}
	}
	sc, sp := calls[atm], puts[atm]
	liq := math.Max(sp.SpreadRatio(), sc.SpreadRatio())
	passLiq := liquid(sc, s.MaxLiquidity) && liquid(sp, s.MaxLiquidity)
	cl = append(cl, decision.Check(fmt.Sprintf("ATM short-leg liquidity (spread/mid <= %.2f)", s.MaxLiquidity), passLiq, fmt.Sprintf("ratio %.2f", liq)))
	if !passLiq {
		return notReady(KindFly, cl, fmt.Sprintf("ATM short legs failed liquidity gate ((ask-bid)/mid <= %.2f).", s.MaxLiquidity))
	}

	spDelta, scDelta := -0.5, 0.5
	if sp.Delta != nil {
		spDelta = *sp.Delta
	}
	if sc.Delta != nil {
		scDelta = *sc.Delta
	}

	var candidates []*Candidate
	for _, w := range s.Widths {
		lp, okP := puts[market.StrikeKey(atm-w)]
		lc, okC := calls[market.StrikeKey(atm+w)]
		if !okP || !okC {
			continue
		}
		credit := *sc.Mid + *sp.Mid - *lc.Mid - *lp.Mid
		if credit <= 0 {
			continue
		}
		maxLoss := w - credit
		if maxLoss <= 0 {
			continue
		}
		shortPut, shortCall := legFrom(Sell, sp, 1), legFrom(Sell, sc, 1)
		shortPut.Delta, shortCall.Delta = market.Float(spDelta), market.Float(scDelta)
		candidates = append(candidates, &Candidate{
			Kind:            KindFly,
			SpreadType:      IronFly,
			Legs:            []Leg{shortPut, legFrom(Buy, lp, 1), shortCall, legFrom(Buy, lc, 1)},
			Width:           widthPtr(w),
			Credit:          credit,
			MaxLossPoints:   maxLoss,
			MaxLossDollars:  maxLoss * ContractMultiplier,
			PopDelta:        signals.PopDeltaPair(spDelta, scDelta),
			PopPrice:        signals.PopFlyPrice(spot, atm, credit, in.FullDayEM),
			LiquidityRatio:  liq,
			CreditToMaxLoss: credit / maxLoss,
		})
	}
	cl = append(cl, decision.Check("Width structure and positive credit found", len(candidates) > 0, fmt.Sprintf("%d structures passed", len(candidates))))

	best, ok := pickBest(candidates, func(c *Candidate) rankKey { return rankKey{c.Credit, c.CreditToMaxLoss} })
	if !ok {
		return notReady(KindFly, cl, fmt.Sprintf("No fly width (%s) passed structure and pricing checks.", joinWidths(s.Widths, "/")))
	}
	cl = append(cl, decision.Pass("Candidate selected", "Highest credit chosen"))
	return settle(in, KindFly, best, cl)
}

func joinWidths(widths []float64, sep string) string {
	out := ""
	for i, w := range widths {
		if i > 0 {
			out += sep
		}
		out += formatStrike(w)
	}
	return out
}
