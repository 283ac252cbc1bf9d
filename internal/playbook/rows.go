package playbook

import (
	"fmt"
	"math"
	"strings"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

const (
	rowTimeStart   = "Time >= 10:00 ET"
	rowTimeShort   = "Time <= 13:30 ET (short premium)"
	rowMacro       = "Not within 30 min of macro event"
	rowLossLock    = "Not in weekly/daily loss lock"
	rowOpenRisk    = "Sleeve open risk < 6%"
	rowCandRisk    = "Candidate max risk <= 3% sleeve"
	rowVolFlag     = "Volatility Expansion flag = FALSE"
	rowLiquidity   = "Liquidity OK (bid/ask <= 12% of mid)"
	rowSlippage    = "Slippage-adjusted credit >= minimum threshold"
	rowRegime      = "Regime classified"
	rowMTF         = "Multi-timeframe trend confirmation available"
	rowConfidence  = "Regime confidence >= 60%"
	rowNoCandidate = "No strategy candidate generated."
)

func shortPremium(k strategy.Kind) bool {
	return k == strategy.KindCondor || k == strategy.KindFly || k == strategy.KindDirectional
}

func (ctx Context) clock() string {
	return market.Clock(ctx.Now)
}

func (ctx Context) after(h, m int) bool {
	return !ctx.Now.Before(market.At(ctx.Now, h, m))
}

func (ctx Context) notAfter(h, m int) bool {
	return !ctx.Now.After(market.At(ctx.Now, h, m))
}

// macroRow is informational; the block is surfaced but does not gate entries.
func (ctx Context) macroRow() decision.GateResult {
	return decision.Check(rowMacro, !ctx.MacroBlock, ctx.MacroDetail).Info()
}

func (ctx Context) lockRow() decision.GateResult {
	return decision.Check(rowLossLock, !ctx.Exposure.Lock.Active(), ctx.Exposure.Lock.Detail)
}

func (ctx Context) openRiskRow() decision.GateResult {
	open, limit := ctx.Exposure.OpenRisk, ctx.Exposure.Limits.MaxOpenRisk
	return decision.Checkf(rowOpenRisk, open < limit,
		fmt.Sprintf("$%.0f < $%.0f", open, limit),
		fmt.Sprintf("$%.0f >= $%.0f", open, limit))
}

// Overview is the strategy-independent global checklist shown above the cards.
func Overview(ctx Context) decision.Checklist {
	cl := decision.Checklist{
		decision.Check(rowTimeStart, ctx.after(10, 0), ctx.clock()),
		decision.Check(rowTimeShort, ctx.notAfter(13, 30), ctx.clock()),
		ctx.macroRow(),
		ctx.lockRow(),
		ctx.openRiskRow(),
		decision.Check(rowVolFlag, !ctx.VolExpansion, ctx.VolDetail),
		decision.NA(rowCandRisk, "Evaluated per strategy candidate."),
	}
	switch liq := ctx.ChainLiquidity; {
	case liq == nil:
		cl = append(cl, decision.Fail(rowLiquidity, "Market-wide liquidity unavailable."))
	default:
		cl = append(cl, decision.Checkf(rowLiquidity, *liq <= liquidityMax,
			fmt.Sprintf("%.3f <= 0.120 (chain median)", *liq),
			fmt.Sprintf("%.3f > 0.120 (chain median)", *liq)))
	}
	return append(cl, decision.NA(rowSlippage, "Evaluated per strategy candidate."))
}

// GlobalRows are the sleeve and session rows evaluated for one structure.
func GlobalRows(kind strategy.Kind, c *strategy.Candidate, ctx Context) decision.Checklist {
	short := shortPremium(kind)
	cl := decision.Checklist{decision.Check(rowTimeStart, ctx.after(10, 0), ctx.clock())}

	if short {
		cl = append(cl, decision.Check(rowTimeShort, ctx.notAfter(13, 30), ctx.clock()))
	} else {
		cl = append(cl, decision.NA(rowTimeShort, "Not applicable for convex debit spread."))
	}
	cl = append(cl, ctx.macroRow(), ctx.lockRow(), ctx.openRiskRow())

	if short {
		limit := ctx.Exposure.Limits.MaxRiskPerTrade
		if r, ok := risk.CandidateRisk(c); !ok {
			cl = append(cl, decision.Fail(rowCandRisk, "Candidate risk unavailable."))
		} else {
			cl = append(cl, decision.Checkf(rowCandRisk, r <= limit,
				fmt.Sprintf("$%.0f <= $%.0f", r, limit),
				fmt.Sprintf("$%.0f > $%.0f", r, limit)))
		}
		cl = append(cl, decision.Check(rowVolFlag, !ctx.VolExpansion, ctx.VolDetail))
	} else {
		cl = append(cl,
			decision.NA(rowCandRisk, "Convex uses separate 0.5%-1.5% risk band."),
			decision.NA(rowVolFlag, "Convex debit spread can run only in expansion regime."))
	}

	liq, source := ctx.ChainLiquidity, "chain median"
	if c != nil {
		v := c.LiquidityRatio
		liq, source = &v, "candidate"
	}
	if liq == nil {
		cl = append(cl, decision.Fail(rowLiquidity, "Liquidity ratio unavailable."))
	} else {
		cl = append(cl, decision.Checkf(rowLiquidity, *liq <= liquidityMax,
			fmt.Sprintf("%.3f <= 0.120 (%s)", *liq, source),
			fmt.Sprintf("%.3f > 0.120 (%s)", *liq, source)))
	}

	if short {
		adj := ctx.Execution.CreditAdjust(c, ctx.Now)
		if adj.Credit == nil || adj.Threshold == nil {
			cl = append(cl, decision.Fail(rowSlippage, "Credit/width unavailable."))
		} else {
			cl = append(cl, decision.Checkf(rowSlippage, adj.Clears(),
				fmt.Sprintf("%.2f >= %.2f (slip %.2f, %s)", *adj.Credit, *adj.Threshold, adj.Slippage, adj.Bucket),
				fmt.Sprintf("%.2f < %.2f (slip %.2f, %s)", *adj.Credit, *adj.Threshold, adj.Slippage, adj.Bucket)))
		}
	} else {
		cl = append(cl, decision.NA(rowSlippage, "Not used for debit spreads."))
	}
	return cl
}

// RegimeRows check that the tape supports the structure.
func RegimeRows(kind strategy.Kind, c *strategy.Candidate, ctx Context) decision.Checklist {
	var cl decision.Checklist
	if ctx.Regime.Valid() {
		cl = append(cl, decision.Pass(rowRegime, fmt.Sprintf("%s: %s", ctx.Regime, ctx.RegimeReason)))
	} else {
		cl = append(cl, decision.Fail(rowRegime, ctx.RegimeReason))
	}

	summary := ctx.Alignment.Summary
	if summary == "" {
		summary = "Slope alignment unavailable."
	}
	cl = append(cl, decision.Check(rowMTF, ctx.Alignment.Available >= 2, summary))

	tier := strings.ToUpper(string(ctx.Confidence.Tier))
	if tier == "" {
		tier = "LOW"
	}
	cl = append(cl, decision.Check(rowConfidence, ctx.Confidence.Pct >= 60,
		fmt.Sprintf("%.1f%% (%s)", ctx.Confidence.Pct, tier)))

	var spreadType strategy.SpreadType
	if c != nil {
		spreadType = c.SpreadType
	}
	return append(cl, regime.AllowedGate(kind, spreadType, ctx.Regime))
}

func candidateRow(name string, c *strategy.Candidate) decision.GateResult {
	if c == nil {
		return decision.Fail(name, rowNoCandidate)
	}
	return decision.Pass(name, "Candidate generated.")
}

// thresholdFail explains a failed "value <= threshold" style row.
func thresholdFail(v, thr *float64, cmp string) string {
	switch {
	case v == nil:
		return "Metric unavailable."
	case thr == nil:
		return "Threshold unavailable."
	case cmp == "<=":
		return fmt.Sprintf("%.2f > %.2f", *v, *thr)
	case cmp == ">=":
		return fmt.Sprintf("%.2f < %.2f", *v, *thr)
	}
	return fmt.Sprintf("%.2f vs %.2f", *v, *thr)
}

// emrRow is "metric <= frac x base" with base required positive.
func emrRow(name string, v, base *float64, frac float64) decision.GateResult {
	var thr *float64
	if base != nil && *base != 0 {
		t := frac * *base
		thr = &t
	}
	if v != nil && thr != nil && *v <= *thr {
		return decision.Pass(name, fmt.Sprintf("%.2f <= %.2f", *v, *thr))
	}
	return decision.Fail(name, thresholdFail(v, thr, "<="))
}

func pointsRow(name string, v *float64, limit float64) decision.GateResult {
	if v != nil && *v <= limit {
		return decision.Pass(name, fmt.Sprintf("%.2f <= %.2f", *v, limit))
	}
	return decision.Fail(name, thresholdFail(v, &limit, "<="))
}

func widthRow(name string, c *strategy.Candidate, lo, hi float64) decision.GateResult {
	if c != nil && c.Width != nil && *c.Width >= lo && *c.Width <= hi {
		return decision.Pass(name, fmt.Sprintf("%.0f", *c.Width))
	}
	return decision.Fail(name, "Width out of range.")
}

func creditRow(name string, c *strategy.Candidate, ctx Context) decision.GateResult {
	adj := ctx.Execution.CreditAdjust(c, ctx.Now)
	if c != nil && adj.Clears() {
		return decision.Pass(name, fmt.Sprintf("%.2f >= %.2f (slip %.2f, %s)", *adj.Credit, *adj.Threshold, adj.Slippage, adj.Bucket))
	}
	return decision.Fail(name, "Adjusted credit below threshold.")
}

func popRow(name string, c *strategy.Candidate) decision.GateResult {
	if c != nil && c.PopDelta >= 0.75 {
		return decision.Pass(name, fmt.Sprintf("%.2f%%", c.PopDelta*100))
	}
	return decision.Fail(name, "POP below threshold or missing.")
}

func legDelta(c *strategy.Candidate, action strategy.Action, right market.Right) *float64 {
	if c == nil {
		return nil
	}
	if l, ok := c.Leg(action, right); ok {
		return l.Delta
	}
	return nil
}

func legStrike(c *strategy.Candidate, action strategy.Action, right market.Right) *float64 {
	if c == nil {
		return nil
	}
	if l, ok := c.Leg(action, right); ok {
		k := l.Strike
		return &k
	}
	return nil
}

func inBand(d *float64, lo, hi float64) bool {
	return d != nil && math.Abs(*d) >= lo && math.Abs(*d) <= hi
}
