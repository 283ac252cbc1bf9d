package lifecycle

import (
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// StrategyKey maps a generator kind to the key stored on trades.
func StrategyKey(kind strategy.Kind) string {
	switch kind {
	case strategy.KindCondor:
		return StrategyIronCondor
	case strategy.KindFly:
		return StrategyIronFly
	case strategy.KindDirectional:
		return StrategyCreditSpread
	case strategy.KindConvex:
		return StrategyConvexDebit
	case strategy.KindBWB:
		return StrategyBWB
	case strategy.KindMultiDTE:
		return StrategyMultiDTE
	}
	return NormalizeStrategy(string(kind))
}

// Payload projects a candidate onto the trade fields the exit engine reads.
func Payload(c *strategy.Candidate) Trade {
	t := Trade{
		SpreadType:  string(c.SpreadType),
		CandidateID: c.ID,
		Width:       c.Width,
		Expiry:      c.Expiration,
	}
	if c.PopDelta > 0 {
		t.PopDelta = fptr(c.PopDelta)
	}
	if c.IsDebit() {
		t.InitialDebit = fptr(c.Debit)
	} else {
		t.InitialCredit = fptr(c.Credit)
	}

	switch c.Kind {
	case strategy.KindCondor:
		if l, ok := c.Leg(strategy.Sell, market.Put); ok {
			t.ShortPut, t.ShortPutDelta = fptr(l.Strike), l.Delta
		}
		if l, ok := c.Leg(strategy.Buy, market.Put); ok {
			t.LongPut, t.LongPutDelta = fptr(l.Strike), l.Delta
		}
		if l, ok := c.Leg(strategy.Sell, market.Call); ok {
			t.ShortCall, t.ShortCallDelta = fptr(l.Strike), l.Delta
		}
		if l, ok := c.Leg(strategy.Buy, market.Call); ok {
			t.LongCall, t.LongCallDelta = fptr(l.Strike), l.Delta
		}
	case strategy.KindFly:
		if l, ok := c.Leg(strategy.Sell, market.Put); ok {
			t.ShortStrike, t.ShortPut, t.ShortCall = fptr(l.Strike), fptr(l.Strike), fptr(l.Strike)
			t.ShortPutDelta = l.Delta
		}
		if l, ok := c.Leg(strategy.Sell, market.Call); ok {
			t.ShortCallDelta = l.Delta
		}
		if l, ok := c.Leg(strategy.Buy, market.Put); ok {
			t.LongPut, t.LongPutDelta = fptr(l.Strike), l.Delta
		}
		if l, ok := c.Leg(strategy.Buy, market.Call); ok {
			t.LongCall, t.LongCallDelta = fptr(l.Strike), l.Delta
		}
	case strategy.KindBWB:
		if b := c.BWB; b != nil {
			t.ShortStrike = fptr(b.ShortStrike)
			t.LongStrike = fptr(b.NearLongStrike)
			t.FarLongStrike = fptr(b.FarLongStrike)
			t.NarrowWidth = fptr(b.NarrowWidth)
			t.ShortSymbol, t.NearLongSymbol, t.FarLongSymbol = b.ShortSymbol, b.NearLongSymbol, b.FarLongSymbol
			t.ShortDelta = fptr(b.ShortDelta)
			t.ShortRight, t.LongRight = string(market.Put), string(market.Put)
		}
	default:
		for _, l := range c.Legs {
			switch l.Action {
			case strategy.Sell:
				t.ShortStrike, t.ShortRight, t.ShortDelta = fptr(l.Strike), string(l.Right), l.Delta
			case strategy.Buy:
				t.LongStrike, t.LongRight, t.LongDelta = fptr(l.Strike), string(l.Right), l.Delta
			}
		}
	}

	if d := c.MultiDTE; d != nil {
		t.StopDebit = fptr(d.StopDebit)
		t.ProfitTakeDebit = fptr(d.ProfitTakeDebit)
		t.DeltaStop = fptr(d.DeltaStop)
		use := d.UseDeltaStop
		t.UseDeltaStop = &use
	}
	return t
}

func fptr(v float64) *float64 { return &v }
