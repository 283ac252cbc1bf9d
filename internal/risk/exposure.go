package risk

import (
	"math"
	"strings"

	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// TradeMaxRisk is the defined dollar risk of one contract. Structures without a rule count zero.
func TradeMaxRisk(t lifecycle.Trade) float64 {
	switch lifecycle.NormalizeStrategy(t.Strategy) {
	case lifecycle.StrategyIronCondor, lifecycle.StrategyIronFly, lifecycle.StrategyCreditSpread:
		if t.Width != nil && t.InitialCredit != nil {
			return math.Max(0, (*t.Width-*t.InitialCredit)*100)
		}
	case lifecycle.StrategyConvexDebit:
		if t.InitialDebit != nil {
			return math.Max(0, *t.InitialDebit*100)
		}
	}
	return 0
}

func live(trades []lifecycle.Trade) []lifecycle.Trade {
	out := make([]lifecycle.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Status.Live() {
			out = append(out, t)
		}
	}
	return out
}

// OpenRisk sums TradeMaxRisk over open and exit-pending trades.
func OpenRisk(trades []lifecycle.Trade) float64 {
	var sum float64
	for _, t := range live(trades) {
		sum += TradeMaxRisk(t)
	}
	return sum
}

// CandidateRisk is the dollar risk a candidate would add. Convex spreads risk their debit.
func CandidateRisk(c *strategy.Candidate) (float64, bool) {
	if c == nil {
		return 0, false
	}
	if c.Kind == strategy.KindConvex {
		return math.Max(0, c.Debit*100), true
	}
	return math.Max(0, c.MaxLossPoints*100), true
}

// OpenNetDelta is the short-minus-long delta proxy over live trades.
// Trades missing any leg delta are skipped.
func OpenNetDelta(trades []lifecycle.Trade) float64 {
	var net float64
	for _, t := range live(trades) {
		switch lifecycle.NormalizeStrategy(t.Strategy) {
		case lifecycle.StrategyIronCondor, lifecycle.StrategyIronFly:
			if all(t.ShortPutDelta, t.ShortCallDelta, t.LongPutDelta, t.LongCallDelta) {
				net += (*t.ShortPutDelta + *t.ShortCallDelta) - (*t.LongPutDelta + *t.LongCallDelta)
			}
		case lifecycle.StrategyCreditSpread:
			if all(t.ShortDelta, t.LongDelta) {
				net += *t.ShortDelta - *t.LongDelta
			}
		case lifecycle.StrategyConvexDebit:
			if all(t.ShortDelta, t.LongDelta) {
				net += *t.LongDelta - *t.ShortDelta
			}
		}
	}
	return net
}

// CandidateNetDelta applies the same proxy to a candidate's legs.
func CandidateNetDelta(c *strategy.Candidate) (float64, bool) {
	if c == nil {
		return 0, false
	}
	var short, long float64
	for _, l := range c.Legs {
		if l.Delta == nil {
			return 0, false
		}
		switch l.Action {
		case strategy.Sell:
			short += *l.Delta * float64(max(1, l.Qty))
		case strategy.Buy:
			long += *l.Delta * float64(max(1, l.Qty))
		}
	}
	if c.Kind == strategy.KindConvex {
		return long - short, true
	}
	return short - long, true
}

// CountOpenCreditSpreads counts live CREDIT_SPREAD trades of the given spread type.
func CountOpenCreditSpreads(trades []lifecycle.Trade, spreadType strategy.SpreadType) int {
	var n int
	for _, t := range live(trades) {
		if lifecycle.NormalizeStrategy(t.Strategy) != lifecycle.StrategyCreditSpread {
			continue
		}
		if strings.EqualFold(t.SpreadType, string(spreadType)) {
			n++
		}
	}
	return n
}

func CountOpenConvex(trades []lifecycle.Trade) int {
	var n int
	for _, t := range live(trades) {
		if lifecycle.NormalizeStrategy(t.Strategy) == lifecycle.StrategyConvexDebit {
			n++
		}
	}
	return n
}

// Exposure is the sleeve view used by the playbook global rows.
type Exposure struct {
	Settings SleeveSettings `json:"sleeveSettings"`
	Limits   Limits         `json:"sleeveLimits"`
	Lock     LossLock       `json:"lossLock"`
	OpenRisk float64        `json:"openRisk"`
	NetDelta float64        `json:"openNetDelta"`
}

func NewExposure(s SleeveSettings, trades []lifecycle.Trade) Exposure {
	return Exposure{
		Settings: s,
		Limits:   s.Limits(),
		Lock:     s.LossLock(),
		OpenRisk: OpenRisk(trades),
		NetDelta: OpenNetDelta(trades),
	}
}

// Headroom is the open-risk budget left before the sleeve cap.
func (e Exposure) Headroom() float64 {
	return math.Max(0, e.Limits.MaxOpenRisk-e.OpenRisk)
}

func all(vals ...*float64) bool {
	for _, v := range vals {
		if v == nil {
			return false
		}
	}
	return true
}
