package alerts

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/exit"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

const appName = "SPX 0DTE Dashboard"

const defaultEntryReason = "Entry criteria met (NOT READY → READY)."

// Entry is everything an entry alert shows.
type Entry struct {
	Candidate *strategy.Candidate
	Now       time.Time
	Display   *time.Location

	Spot         *float64
	VIX          *float64
	IVR          *float64
	EMR          *float64
	ATRPctEMR    *float64
	VWAPDistance *float64
	RangePctEMR  *float64
	RiskScore    string
	Reason       string
	Checklist    string
}

// Exit is everything an exit alert shows.
type Exit struct {
	Trade    lifecycle.Trade
	Decision exit.Decision
	Now      time.Time
	Display  *time.Location
	Spot     *float64
}

// EntryTitle names a candidate the way alerts and the CLI show it.
func EntryTitle(c *strategy.Candidate) string {
	switch c.Kind {
	case strategy.KindDirectional:
		return fmt.Sprintf("Directional Credit Spread (%s)", c.SpreadType.Title())
	case strategy.KindConvex, strategy.KindMultiDTE:
		return fmt.Sprintf("%s (%s)", c.Kind, c.SpreadType.Title())
	}
	return string(c.Kind)
}

func FormatEntry(e Entry) string {
	c := e.Candidate
	reason := e.Reason
	if reason == "" {
		reason = defaultEntryReason
	}
	checklist := e.Checklist
	if checklist == "" {
		checklist = "All strict required checks passed."
	}
	vwapPct := ratio(e.VWAPDistance, e.EMR)
	premiumLabel := "Credit"
	if c.IsDebit() {
		premiumLabel = "Debit"
	}

	lines := []string{
		fmt.Sprintf("*🟢 SPX 0DTE %s READY*", escape(strings.ToUpper(EntryTitle(c)))),
		"Time: " + escape(market.Clock(e.Now)),
		"Spot: " + fmtNum(e.Spot),
		"",
		FormatLegs(c.Legs),
		"",
		"Width: " + fmtWidth(c.Width),
		fmt.Sprintf("%s: %.2f", premiumLabel, c.Premium()),
		"Current Debit: -",
		"Profit/Loss: -",
		fmt.Sprintf("Max Risk: %.2f", c.MaxLossPoints),
		"POP: " + fmtPct(popPtr(c.PopDelta)),
		"Volatility:",
		fmt.Sprintf("15m Range/EM: %s %s", fmtNum(e.RangePctEMR), mark(e.RangePctEMR, 0.35)),
		fmt.Sprintf("VWAP Dist/EM: %s %s", fmtNum(vwapPct), mark(vwapPct, 0.40)),
		fmt.Sprintf("ATR(1m)/EMR: %s %s", fmtNum(e.ATRPctEMR), mark(e.ATRPctEMR, 0.40)),
		fmt.Sprintf("VIX: %s | IVR: %s | EMR: %s", fmtNum(e.VIX), fmtNum(e.IVR), fmtNum(e.EMR)),
		"Risk Score: " + escape(strings.ToUpper(orDash(e.RiskScore))),
		"Reason: " + escape(reason),
		"Checklist: " + escape(checklist),
		"",
		footer(e.Now, e.Display),
	}
	return strings.Join(lines, "\n")
}

func FormatExit(x Exit) string {
	t, d := x.Trade, x.Decision
	primary := "Exit condition triggered."
	if len(d.Reasons) > 0 {
		primary = d.Reasons[0]
	}
	key := lifecycle.NormalizeStrategy(t.Strategy)
	name := strategyLabel(key)
	if key == lifecycle.StrategyCreditSpread || key == lifecycle.StrategyMultiDTE {
		name = fmt.Sprintf("%s (%s)", name, strategy.SpreadType(orDefault(t.SpreadType, "CREDIT_SPREAD")).Title())
	}
	entry := "-"
	if !t.EntryTimeET.IsZero() {
		entry = market.Clock(t.EntryTimeET)
	}
	loc := displayLoc(x.Display)

	lines := []string{
		"*🔔 EXIT ALERT*",
		"Strategy: " + escape(name),
		"Time: " + escape(market.Clock(x.Now)),
		"Paris: " + escape(x.Now.In(loc).Format("15:04:05")+" Paris"),
		"Entry: " + escape(entry),
		"Spot: " + fmtNum(x.Spot),
		"",
		FormatLegs(TradeLegs(t)),
		"",
		"Initial Credit: " + fmtNum(t.InitialCredit),
		"Current Debit: " + fmtNum(d.CurrentDebit),
		"Profit/Loss: " + fmtPct(d.ProfitPct),
		"POP: " + fmtPct(t.PopDelta),
		"Reason: " + escape(primary),
		"",
		footer(x.Now, x.Display),
	}
	return strings.Join(lines, "\n")
}

// FormatLossLock announces a sleeve loss lock engaging.
func FormatLossLock(now time.Time, e risk.Exposure, display *time.Location) string {
	kind := "DAILY"
	if e.Lock.Weekly {
		kind = "WEEKLY"
		if e.Lock.Daily {
			kind = "DAILY+WEEKLY"
		}
	}
	lines := []string{
		fmt.Sprintf("*🛑 SLEEVE %s LOSS LOCK*", kind),
		"Time: " + escape(market.Clock(now)),
		fmt.Sprintf("Daily P&L: %.2f (limit -%.2f)", e.Settings.DailyRealizedPnL, e.Limits.MaxDailyLoss),
		fmt.Sprintf("Weekly P&L: %.2f (limit -%.2f)", e.Settings.WeeklyRealizedPnL, e.Limits.MaxWeeklyLoss),
		fmt.Sprintf("Open Risk: $%.0f of $%.0f", e.OpenRisk, e.Limits.MaxOpenRisk),
		"New short-premium entries are blocked until the lock clears.",
		"",
		footer(now, display),
	}
	return strings.Join(lines, "\n")
}

// FormatLegs renders one "Sell 1 PUT 5950 (Δ -0.12)" line per leg.
func FormatLegs(legs []strategy.Leg) string {
	lines := []string{"🟢 LEGS:"}
	for _, l := range legs {
		action := string(l.Action)
		switch l.Action {
		case strategy.Sell:
			action = "Sell"
		case strategy.Buy:
			action = "Buy"
		}
		lines = append(lines, fmt.Sprintf("%s %d %s %s (Δ %s)", action, max(1, l.Qty), l.Right, fmtStrike(l.Strike), fmtDelta(l.Delta)))
	}
	return strings.Join(lines, "\n")
}

// TradeLegs rebuilds the leg list stored on a trade.
func TradeLegs(t lifecycle.Trade) []strategy.Leg {
	var legs []strategy.Leg
	add := func(action strategy.Action, right string, strike, delta *float64, qty int) {
		if strike == nil {
			return
		}
		legs = append(legs, strategy.Leg{Action: action, Right: market.Right(right), Strike: *strike, Delta: delta, Qty: qty})
	}
	switch lifecycle.NormalizeStrategy(t.Strategy) {
	case lifecycle.StrategyIronCondor, lifecycle.StrategyIronFly:
		add(strategy.Sell, string(market.Put), t.ShortPut, t.ShortPutDelta, 1)
		add(strategy.Buy, string(market.Put), t.LongPut, t.LongPutDelta, 1)
		add(strategy.Sell, string(market.Call), t.ShortCall, t.ShortCallDelta, 1)
		add(strategy.Buy, string(market.Call), t.LongCall, t.LongCallDelta, 1)
	case lifecycle.StrategyBWB:
		add(strategy.Buy, string(market.Put), t.LongStrike, nil, 1)
		add(strategy.Sell, string(market.Put), t.ShortStrike, t.ShortDelta, 2)
		add(strategy.Buy, string(market.Put), t.FarLongStrike, nil, 1)
	default:
		add(strategy.Sell, t.ShortRight, t.ShortStrike, t.ShortDelta, 1)
		add(strategy.Buy, t.LongRight, t.LongStrike, t.LongDelta, 1)
	}
	return legs
}

func strategyLabel(key string) string {
	words := strings.Split(strings.ToLower(key), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

var markdownEscaper = strings.NewReplacer(`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "`", "\\`")

// escape guards Telegram legacy Markdown control characters.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

func footer(now time.Time, display *time.Location) string {
	et := market.InET(now).Format("2006-01-02 15:04:05") + " ET"
	disp := now.In(displayLoc(display)).Format("2006-01-02 15:04:05") + " Paris"
	return fmt.Sprintf("_Generated %s | %s | %s_", et, disp, appName)
}

var paris = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}()

func displayLoc(l *time.Location) *time.Location {
	if l == nil {
		return paris
	}
	return l
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

func fmtDelta(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f", *v)
}

func fmtStrike(k float64) string {
	if math.Abs(k-math.Round(k)) < 1e-9 {
		return fmt.Sprintf("%d", int(math.Round(k)))
	}
	return fmt.Sprintf("%.2f", k)
}

func fmtWidth(w *float64) string {
	if w == nil {
		return "-"
	}
	return fmtStrike(*w)
}

func mark(v *float64, upper float64) string {
	switch {
	case v == nil:
		return "-"
	case *v < upper:
		return "✔"
	}
	return "✖"
}

func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	r := *num / *den
	return &r
}

func popPtr(p float64) *float64 {
	if p <= 0 {
		return nil
	}
	return &p
}

func orDash(s string) string {
	return orDefault(s, "-")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
