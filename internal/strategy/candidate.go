package strategy

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

type Kind string

const (
	KindCondor      Kind = "Iron Condor"
	KindFly         Kind = "Iron Fly"
	KindDirectional Kind = "Directional Spread"
	KindConvex      Kind = "Convex Debit Spread"
	KindBWB         Kind = "BWB Credit Put"
	KindMultiDTE    Kind = "Multi-DTE Credit Spread"
)

// IntradayKinds are the 0DTE structures scored by the playbook.
var IntradayKinds = []Kind{KindCondor, KindFly, KindDirectional, KindConvex}

type SpreadType string

const (
	IronCondor      SpreadType = "IRON_CONDOR"
	IronFly         SpreadType = "IRON_FLY"
	BullPutSpread   SpreadType = "BULL_PUT_SPREAD"
	BearCallSpread  SpreadType = "BEAR_CALL_SPREAD"
	CallDebitSpread SpreadType = "CALL_DEBIT_SPREAD"
	PutDebitSpread  SpreadType = "PUT_DEBIT_SPREAD"
	BrokenWingPut   SpreadType = "BWB_PUT"
)

// Title is the human label used in card reasons and alerts.
func (t SpreadType) Title() string {
	switch t {
	case BullPutSpread:
		return "Bull Put Spread"
	case BearCallSpread:
		return "Bear Call Spread"
	case CallDebitSpread:
		return "Call Debit Spread"
	case PutDebitSpread:
		return "Put Debit Spread"
	case IronCondor:
		return "Iron Condor"
	case IronFly:
		return "Iron Fly"
	case BrokenWingPut:
		return "Broken-Wing Put Butterfly"
	}
	return string(t)
}

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// ContractMultiplier converts index points to dollars.
const ContractMultiplier = 100.0

type Leg struct {
	Action     Action       `json:"action"`
	Right      market.Right `json:"right"`
	Strike     float64      `json:"strike"`
	Qty        int          `json:"qty"`
	Symbol     string       `json:"symbol"`
	Delta      *float64     `json:"delta"`
	Premium    *float64     `json:"premium"` // mid at selection
	IV         *float64     `json:"iv,omitempty"`
	Expiration string       `json:"expiration,omitempty"`
}

func legFrom(action Action, q market.OptionQuote, qty int) Leg {
	return Leg{
		Action:     action,
		Right:      q.Right,
		Strike:     q.Strike,
		Qty:        qty,
		Symbol:     q.Symbol,
		Delta:      q.Delta,
		Premium:    q.Mid,
		IV:         q.IV,
		Expiration: q.Expiration,
	}
}

// Candidate is the best structure a generator selected. It has passed every required gate.
type Candidate struct {
	ID              string     `json:"id,omitempty"`
	Kind            Kind       `json:"kind"`
	SpreadType      SpreadType `json:"spread_type"`
	Legs            []Leg      `json:"legs"`
	Width           *float64   `json:"width"`
	Credit          float64    `json:"credit"`
	Debit           float64    `json:"debit,omitempty"`
	MaxLossPoints   float64    `json:"max_loss_points"`
	MaxLossDollars  float64    `json:"max_loss_dollars"`
	MaxProfitPoints float64    `json:"max_profit_points,omitempty"`
	PopDelta        float64    `json:"pop_delta"`
	PopPrice        *float64   `json:"pop_price"`
	LiquidityRatio  float64    `json:"liquidity_ratio"`
	CreditToMaxLoss float64    `json:"credit_to_max_loss,omitempty"`
	RewardToRisk    float64    `json:"reward_to_risk,omitempty"`
	TrendSlope      *float64   `json:"trend_slope,omitempty"`
	Expiration      string     `json:"expiration,omitempty"`
	DTE             int        `json:"dte,omitempty"`

	BWB      *BWBDetail      `json:"bwb,omitempty"`
	MultiDTE *MultiDTEDetail `json:"multi_dte,omitempty"`

	Checklist decision.Checklist `json:"checklist"`
}

// IsDebit reports whether the structure is opened for a net debit.
func (c *Candidate) IsDebit() bool {
	return c.SpreadType == CallDebitSpread || c.SpreadType == PutDebitSpread
}

// Premium is the debit for debit structures and the credit otherwise.
func (c *Candidate) Premium() float64 {
	if c.IsDebit() {
		return c.Debit
	}
	return c.Credit
}

// Leg returns the first leg with the given action and right.
func (c *Candidate) Leg(action Action, right market.Right) (Leg, bool) {
	for _, l := range c.Legs {
		if l.Action == action && l.Right == right {
			return l, true
		}
	}
	return Leg{}, false
}

// NetDelta sums signed leg deltas times quantity; nil when any leg lacks a delta.
func (c *Candidate) NetDelta() *float64 {
	var total float64
	for _, l := range c.Legs {
		if l.Delta == nil {
			return nil
		}
		sign := 1.0
		if l.Action == Sell {
			sign = -1
		}
		total += sign * float64(max(1, l.Qty)) * *l.Delta
	}
	return &total
}

// Summary is the strategy-agnostic projection shown on cards and in alerts.
type Summary struct {
	Kind       Kind       `json:"kind"`
	SpreadType SpreadType `json:"spread_type"`
	Width      *float64   `json:"width"`
	Premium    float64    `json:"premium"`
	IsDebit    bool       `json:"is_debit"`
	MaxRisk    float64    `json:"max_risk_dollars"`
	PopPct     *float64   `json:"pop_pct"`
	Liquidity  float64    `json:"liquidity_ratio"`
	Legs       string     `json:"legs"`
}

func (c *Candidate) Summary() Summary {
	var popPct *float64
	if c.PopDelta > 0 {
		pop := c.PopDelta * 100
		popPct = &pop
	}
	return Summary{
		Kind:       c.Kind,
		SpreadType: c.SpreadType,
		Width:      c.Width,
		Premium:    c.Premium(),
		IsDebit:    c.IsDebit(),
		MaxRisk:    c.MaxLossDollars,
		PopPct:     popPct,
		Liquidity:  c.LiquidityRatio,
		Legs:       FormatLegs(c.Legs),
	}
}

// FormatLegs renders legs as "SELL 5950P / BUY 5900P".
func FormatLegs(legs []Leg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		qty := ""
		if l.Qty > 1 {
			qty = fmt.Sprintf("%dx ", l.Qty)
		}
		parts = append(parts, fmt.Sprintf("%s %s%s%s", l.Action, qty, formatStrike(l.Strike), string(l.Right)[:1]))
	}
	return strings.Join(parts, " / ")
}

func formatStrike(k float64) string {
	if k == math.Trunc(k) {
		return fmt.Sprintf("%.0f", k)
	}
	return fmt.Sprintf("%.2f", k)
}

// Evaluation is a generator result. A not-ready evaluation always carries a reason.
type Evaluation struct {
	Kind      Kind               `json:"kind"`
	Ready     bool               `json:"ready"`
	Candidate *Candidate         `json:"candidate"`
	Reasons   []string           `json:"reasons"`
	Checklist decision.Checklist `json:"checklist"`
	Metrics   map[string]any     `json:"metrics,omitempty"`
}

// Reason is the authoritative explanation: the first reason, or READY.
func (e Evaluation) Reason() string {
	if e.Ready {
		return "READY"
	}
	if len(e.Reasons) > 0 {
		return e.Reasons[0]
	}
	return "Checklist incomplete."
}

func notReady(kind Kind, checklist decision.Checklist, reasons ...string) Evaluation {
	if len(reasons) == 0 {
		reasons = []string{"Checklist incomplete."}
	}
	return Evaluation{Kind: kind, Reasons: reasons, Checklist: checklist}
}

func ready(kind Kind, c *Candidate, checklist decision.Checklist) Evaluation {
	c.Checklist = checklist
	return Evaluation{Kind: kind, Ready: true, Candidate: c, Reasons: []string{}, Checklist: checklist}
}

// RegimeGate is the required row pinning a structure to its designated regime.
const RegimeGate = "Strategy allowed in this regime"

// Eligibility reports whether kind, with the chosen spread direction, may trade in
// the classified regime.
type Eligibility func(kind Kind, spread SpreadType) (bool, string)

// settle closes a generator's checklist with the regime gate. An ineligible candidate
// stays attached for display, but the evaluation is not ready.
func settle(in Input, kind Kind, c *Candidate, cl decision.Checklist) Evaluation {
	if in.Eligible == nil {
		return ready(kind, c, cl)
	}
	ok, detail := in.Eligible(kind, c.SpreadType)
	cl = append(cl, decision.Check(RegimeGate, ok, detail))
	if !ok {
		c.Checklist = cl
		ev := notReady(kind, cl, detail)
		ev.Candidate = c
		return ev
	}
	return ready(kind, c, cl)
}

// Input is the shared market context for the 0DTE generators.
type Input struct {
	Now          time.Time
	Spot         *float64
	EMR          *float64
	FullDayEM    *float64
	Options      []market.OptionQuote
	Candles      []market.CandleBar // session 1m bars
	Stats        signals.Stats
	TrendSlope   *float64
	VIXChangePct *float64
	Eligible     Eligibility // nil skips the regime gate
}

// preconditions checks spot, EMR and the width list, appending gates as it goes.
func preconditions(in Input, widthsGate string, widths []float64, widthsReason string) (decision.Checklist, string) {
	var cl decision.Checklist
	if in.Spot == nil {
		cl = append(cl, decision.Fail("SPX spot available", "Missing spot"))
		return cl, "Missing SPX spot."
	}
	cl = append(cl, decision.Pass("SPX spot available", fmt.Sprintf("Spot %.2f", *in.Spot)))
	if in.EMR == nil || *in.EMR <= 0 {
		cl = append(cl, decision.Fail("EMR available", "Missing EMR"))
		return cl, "Missing EMR."
	}
	cl = append(cl, decision.Pass("EMR available", fmt.Sprintf("EMR %.2f", *in.EMR)))
	if len(widths) == 0 {
		cl = append(cl, decision.Fail(widthsGate, "No widths selected"))
		return cl, widthsReason
	}
	cl = append(cl, decision.Pass(widthsGate, fmt.Sprintf("Widths %s", formatWidths(widths))))
	return cl, ""
}

func formatWidths(widths []float64) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = formatStrike(w)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func liquid(q market.OptionQuote, maxRatio float64) bool {
	return q.SpreadRatio() <= maxRatio
}

func inWindow(now time.Time, startH, startM, endH, endM int) bool {
	et := market.InET(now)
	start, end := market.At(et, startH, startM), market.At(et, endH, endM)
	return !et.Before(start) && !et.After(end)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func widthPtr(w float64) *float64 { return &w }

// rankKey compares descending lexicographically.
type rankKey []float64

func (a rankKey) greater(b rankKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// pickBest returns the highest-ranked entry; ties keep input order.
func pickBest[T any](items []T, key func(T) rankKey) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return key(sorted[i]).greater(key(sorted[j])) })
	return sorted[0], true
}
