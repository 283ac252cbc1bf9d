// Package exit decides when an open position should be taken off.
//
// Criteria are stay-in gates: a gate passes while the position may stay open and fails
// when its trigger fires. Informational gates (live debit, peg toggle) are not required.
package exit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type Severity string

const (
	Green Severity = "GREEN"
	Amber Severity = "AMBER"
	Red   Severity = "RED"
)

// hardStopWords mark a triggered reason as a hard stop.
var hardStopWords = []string{"stop", "wing", "gamma", "range", "atr"}

// Decision is the exit verdict for one trade. Reasons are ordered; the first is authoritative.
type Decision struct {
	TradeID        string             `json:"trade_id"`
	Strategy       string             `json:"strategy"`
	ShouldExit     bool               `json:"should_exit"`
	Reasons        []string           `json:"reasons"`
	Criteria       decision.Checklist `json:"criteria"`
	CurrentDebit   *float64           `json:"current_debit"`
	ProfitPct      *float64           `json:"profit_pct"`
	TimeInTradeMin float64            `json:"time_in_trade_min"`
	NextExitReason string             `json:"next_exit_reason"`
	Severity       Severity           `json:"severity"`
}

// Market is the live context an exit evaluation reads.
type Market struct {
	Spot  *float64
	EMR   *float64
	Stats signals.Stats
	Quote *market.Index
}

// Evaluate dispatches on the trade's strategy. Unknown strategies never exit.
func Evaluate(t lifecycle.Trade, now time.Time, m Market, cfg Config) Decision {
	now = market.InET(now)
	entry := t.EntryTimeET
	if entry.IsZero() {
		entry = now
	}
	e := &evaluation{
		now:   now,
		trade: t,
		mkt:   m,
		cfg:   cfg,
		tit:   math.Max(0, now.Sub(entry).Minutes()),
	}
	if e.mkt.Quote == nil {
		e.mkt.Quote = market.NewIndex(nil)
	}

	strategy := lifecycle.NormalizeStrategy(t.Strategy)
	var d Decision
	switch strategy {
	case lifecycle.StrategyIronCondor:
		d = e.condor()
	case lifecycle.StrategyIronFly:
		d = e.fly()
	case lifecycle.StrategyCreditSpread:
		d = e.creditSpread()
	case lifecycle.StrategyConvexDebit:
		d = e.convex()
	default:
		label := strategy
		if label == "" {
			label = "-"
		}
		d = Decision{
			Reasons:        []string{"Unknown strategy"},
			Criteria:       decision.Checklist{decision.Fail("Known strategy", label)},
			TimeInTradeMin: e.tit,
			NextExitReason: "Unknown strategy",
			Severity:       Amber,
		}
	}
	d.TradeID = t.ID
	d.Strategy = strategy
	return d
}

type evaluation struct {
	now   time.Time
	trade lifecycle.Trade
	mkt   Market
	cfg   Config
	tit   float64

	reasons  []string
	criteria decision.Checklist
}

// trigger records a stay-in gate and, when it fired, the exit reason.
func (e *evaluation) trigger(name string, fired bool, detail, reason string) {
	e.criteria = append(e.criteria, decision.Check(name, !fired, detail))
	if fired {
		e.reasons = append(e.reasons, reason)
	}
}

func (e *evaluation) liveDebit(debit *float64) {
	e.criteria = append(e.criteria,
		decision.Check("Live debit available", debit != nil, "Current debit "+fmtNum(debit)).Info())
}

// common adds profit capture, max hold, the strategy cutoff and the final-30 window.
func (e *evaluation) common(profit *float64, target float64, maxHold int, cutH, cutM int, cutReason string) {
	hit := profit != nil && *profit >= target
	e.trigger(fmt.Sprintf("Profit capture >= %.0f%%", target*100), hit, fmtPct(profit),
		fmt.Sprintf("Profit target hit (%s >= %.0f%%).", fmtPct(profit), target*100))

	e.trigger(fmt.Sprintf("Time in trade >= %dm", maxHold), e.tit >= float64(maxHold),
		fmt.Sprintf("%.0fm", e.tit),
		fmt.Sprintf("Max hold reached (%.0fm >= %dm).", e.tit, maxHold))

	e.trigger(fmt.Sprintf("Reached %02d:%02d ET cutoff", cutH, cutM), e.past(cutH, cutM), market.Clock(e.now), cutReason)

	e.trigger("Final 30-minute gamma window (>=15:30 ET)", e.past(finalWindowHour, finalWindowMin), market.Clock(e.now),
		"Entered final 30 minutes of session (gamma risk).")
}

func (e *evaluation) rangeAndATR(rangeMult float64) {
	dayRange, emr := e.mkt.Stats.DayRange, e.mkt.EMR
	var limit *float64
	if emr != nil {
		limit = fptr(rangeMult * *emr)
	}
	fired := dayRange != nil && emr != nil && *emr != 0 && *dayRange > *limit
	e.trigger(fmt.Sprintf("Day range > %.2f x EMR", rangeMult), fired,
		fmt.Sprintf("%s > %s", fmtNum(dayRange), fmtNum(limit)),
		fmt.Sprintf("Intraday realized range exceeded %.0f%% of EMR.", rangeMult*100))

	atr := e.mkt.Stats.ATR1m
	e.trigger(fmt.Sprintf("ATR spike > %.1f", e.cfg.ATRSpikePoints), atr != nil && *atr > e.cfg.ATRSpikePoints,
		"ATR "+fmtNum(atr), "ATR spike detected; risk mitigation exit.")
}

func (e *evaluation) past(h, m int) bool {
	return !e.now.Before(market.At(e.now, h, m))
}

func (e *evaluation) minutesUntil(h, m int) int {
	return max(0, int(market.At(e.now, h, m).Sub(e.now).Minutes()))
}

func (e *evaluation) condor() Decision {
	t, spot := e.trade, e.mkt.Spot
	debit := twoSidedDebit(e.mkt.Quote, t.ShortPut, t.LongPut, t.ShortCall, t.LongCall)
	profit := profitPct(t.InitialCredit, debit)
	target := e.cfg.ProfitThresholdCondor

	e.liveDebit(debit)
	e.common(profit, target, e.cfg.MaxHoldCondorMin, condorCutoffHour, condorCutoffMin, "Reached 14:30 ET time-based exit.")

	mult := e.cfg.CondorDistanceMult
	dist := shortDistance(spot, t.ShortPut, t.ShortCall)
	detail := "Insufficient data"
	fired := false
	if dist != nil && t.Width != nil {
		limit := mult * *t.Width
		fired = *dist <= limit
		detail = fmt.Sprintf("distance %.2f <= %.2f", *dist, limit)
	}
	e.trigger(fmt.Sprintf("Spot within %.2f x width of short strike", mult), fired, detail,
		"Spot is too close to a short strike (price-risk stop).")

	e.trigger("10-cent buyback check enabled and debit <= 0.10",
		e.cfg.EnableTenCentBidExit && debit != nil && *debit <= tenCentDebit,
		"Debit "+fmtNum(debit), "10-cent buyback available (Henry Schwartz style close).")

	e.rangeAndATR(e.cfg.CondorRangeExitMult)

	peg := e.cfg.EnablePegExit && e.past(pegWindowHour, 0) && dist != nil && *spot != 0 &&
		*dist / *spot >= pegOTMFraction && profit != nil && *profit > 0
	toggle := "Disabled"
	if e.cfg.EnablePegExit {
		toggle = "Enabled"
	}
	e.trigger("Late-day peg safeguard", peg, toggle, "Late-day peg condition: avoid picking up pennies near close.")

	return e.finish(debit, profit, target, e.cfg.MaxHoldCondorMin, condorCutoffHour, condorCutoffMin, true)
}

func (e *evaluation) fly() Decision {
	t, spot := e.trade, e.mkt.Spot
	body := t.ShortStrike
	if body == nil {
		body = t.ShortPut
	}
	debit := twoSidedDebit(e.mkt.Quote, body, t.LongPut, body, t.LongCall)
	profit := profitPct(t.InitialCredit, debit)
	target := e.cfg.ProfitThresholdFly

	e.liveDebit(debit)
	e.common(profit, target, e.cfg.MaxHoldFlyMin, flyCutoffHour, flyCutoffMin, "Reached 13:45 ET time-based exit.")

	detail := "Insufficient data"
	touched := false
	if spot != nil && t.LongPut != nil && t.LongCall != nil {
		touched = *spot <= *t.LongPut || *spot >= *t.LongCall
		detail = fmt.Sprintf("spot %.2f vs wings %.2f / %.2f", *spot, *t.LongPut, *t.LongCall)
	}
	e.trigger("Spot touched long wing (stop-loss)", touched, detail, "Underlying touched long wing stop-loss.")

	e.rangeAndATR(rangeExitMult)

	return e.finish(debit, profit, target, e.cfg.MaxHoldFlyMin, flyCutoffHour, flyCutoffMin, true)
}

func (e *evaluation) creditSpread() Decision {
	t, spot := e.trade, e.mkt.Spot
	debit := verticalDebitFor(e.mkt.Quote, t.ShortRight, t.ShortStrike, t.LongRight, t.LongStrike)
	profit := profitPct(t.InitialCredit, debit)
	target := e.cfg.ProfitThresholdCredit

	e.liveDebit(debit)
	e.common(profit, target, e.cfg.MaxHoldCreditMin, creditCutoffHour, 0, "Reached 14:00 ET time stop.")

	mult := e.cfg.CreditShortBufferMult
	spreadType := strings.ToUpper(t.SpreadType)
	detail := "Insufficient data"
	fired := false
	if spot != nil && t.ShortStrike != nil && t.Width != nil {
		buffer := *t.Width * mult
		switch spreadType {
		case "BULL_PUT_SPREAD":
			limit := *t.ShortStrike + buffer
			fired = *spot <= limit
			detail = fmt.Sprintf("spot %.2f <= %.2f", *spot, limit)
		case "BEAR_CALL_SPREAD":
			limit := *t.ShortStrike - buffer
			fired = *spot >= limit
			detail = fmt.Sprintf("spot %.2f >= %.2f", *spot, limit)
		default:
			detail = "Unknown spread type"
		}
	}
	e.trigger(fmt.Sprintf("Spot within %.2f x width of short strike", mult), fired, detail,
		"Spot moved too close to short strike (directional stop-loss).")

	e.rangeAndATR(rangeExitMult)

	return e.finish(debit, profit, target, e.cfg.MaxHoldCreditMin, creditCutoffHour, 0, false)
}

// convex marks a long debit vertical at what it would sell for. Profit is measured
// against the debit paid.
func (e *evaluation) convex() Decision {
	t := e.trade
	value := debitSpreadValue(e.mkt.Quote, t.LongRight, t.LongStrike, t.ShortRight, t.ShortStrike)
	var profit *float64
	if t.InitialDebit != nil && *t.InitialDebit > 0 && value != nil {
		profit = fptr((*value - *t.InitialDebit) / *t.InitialDebit)
	}
	target := e.cfg.ProfitThresholdConvex

	e.criteria = append(e.criteria,
		decision.Check("Live spread value available", value != nil, "Spread value "+fmtNum(value)).Info())
	e.common(profit, target, e.cfg.MaxHoldConvexMin, convexCutoffHour, 0, "Reached 15:00 ET time-based exit.")
	e.rangeAndATR(rangeExitMult)

	return e.finish(value, profit, target, e.cfg.MaxHoldConvexMin, convexCutoffHour, 0, true)
}

func (e *evaluation) finish(debit, profit *float64, target float64, maxHold, cutH, cutM int, waitHint bool) Decision {
	d := Decision{
		ShouldExit:     len(e.reasons) > 0,
		Reasons:        e.reasons,
		Criteria:       e.criteria,
		CurrentDebit:   debit,
		ProfitPct:      profit,
		TimeInTradeMin: e.tit,
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	d.Severity = severity(d.ShouldExit, d.Reasons, profit)
	switch {
	case d.ShouldExit:
		d.NextExitReason = d.Reasons[0]
	case waitHint && profit == nil:
		holdLeft := max(0, int(float64(maxHold)-e.tit))
		d.NextExitReason = fmt.Sprintf("Waiting for live debit quote (time left %dm, cutoff %dm)", holdLeft, e.minutesUntil(cutH, cutM))
	default:
		d.NextExitReason = fmt.Sprintf("Next likely: %.0f%% profit target (%s now)", target*100, fmtPct(profit))
	}
	return d
}

func severity(shouldExit bool, reasons []string, profit *float64) Severity {
	if shouldExit {
		for _, r := range reasons {
			lower := strings.ToLower(r)
			for _, w := range hardStopWords {
				if strings.Contains(lower, w) {
					return Red
				}
			}
		}
		return Amber
	}
	if profit != nil && *profit >= 0 {
		return Green
	}
	return Amber
}

// VerticalDebit is the cost to close: short ask minus long bid, else the mid difference.
func VerticalDebit(short, long market.OptionQuote) *float64 {
	if short.Ask != nil && long.Bid != nil {
		return fptr(math.Max(0, *short.Ask-*long.Bid))
	}
	if short.Mid != nil && long.Mid != nil {
		return fptr(math.Max(0, *short.Mid-*long.Mid))
	}
	return nil
}

// debitSpreadValue is the credit from selling a long vertical: long bid minus short
// ask, else the mid difference.
func debitSpreadValue(ix *market.Index, longRight string, longStrike *float64, shortRight string, shortStrike *float64) *float64 {
	if longStrike == nil || shortStrike == nil {
		return nil
	}
	lr, err := market.ParseRight(longRight)
	if err != nil {
		return nil
	}
	sr, err := market.ParseRight(shortRight)
	if err != nil {
		return nil
	}
	long, ok := ix.Get(lr, *longStrike)
	if !ok {
		return nil
	}
	short, ok := ix.Get(sr, *shortStrike)
	if !ok {
		return nil
	}
	if long.Bid != nil && short.Ask != nil {
		return fptr(math.Max(0, *long.Bid-*short.Ask))
	}
	if long.Mid != nil && short.Mid != nil {
		return fptr(math.Max(0, *long.Mid-*short.Mid))
	}
	return nil
}

func twoSidedDebit(ix *market.Index, shortPut, longPut, shortCall, longCall *float64) *float64 {
	if shortPut == nil || longPut == nil || shortCall == nil || longCall == nil {
		return nil
	}
	sp, ok1 := ix.Get(market.Put, *shortPut)
	lp, ok2 := ix.Get(market.Put, *longPut)
	sc, ok3 := ix.Get(market.Call, *shortCall)
	lc, ok4 := ix.Get(market.Call, *longCall)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	put, call := VerticalDebit(sp, lp), VerticalDebit(sc, lc)
	if put == nil || call == nil {
		return nil
	}
	return fptr(math.Max(0, *put+*call))
}

func verticalDebitFor(ix *market.Index, shortRight string, shortStrike *float64, longRight string, longStrike *float64) *float64 {
	if shortStrike == nil || longStrike == nil {
		return nil
	}
	sr, err := market.ParseRight(shortRight)
	if err != nil {
		return nil
	}
	lr, err := market.ParseRight(longRight)
	if err != nil {
		return nil
	}
	short, ok := ix.Get(sr, *shortStrike)
	if !ok {
		return nil
	}
	long, ok := ix.Get(lr, *longStrike)
	if !ok {
		return nil
	}
	return VerticalDebit(short, long)
}

func shortDistance(spot, shortPut, shortCall *float64) *float64 {
	if spot == nil || shortPut == nil || shortCall == nil {
		return nil
	}
	return fptr(math.Min(math.Abs(*spot-*shortPut), math.Abs(*shortCall-*spot)))
}

func profitPct(credit, debit *float64) *float64 {
	if credit == nil || *credit == 0 || debit == nil {
		return nil
	}
	return fptr((*credit - *debit) / *credit)
}

func fmtNum(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *v*100)
}

func fptr(v float64) *float64 { return &v }
