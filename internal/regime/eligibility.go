package regime

import (
	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// Valid reports whether r is one of the five tradeable buckets.
func (r Regime) Valid() bool {
	switch r {
	case Compression, Chop, TrendUp, TrendDown, Expansion:
		return true
	}
	return false
}

var designated = map[Regime]strategy.Kind{
	Compression: strategy.KindFly,
	Chop:        strategy.KindCondor,
	TrendUp:     strategy.KindDirectional,
	TrendDown:   strategy.KindDirectional,
	Expansion:   strategy.KindConvex,
}

// Allowed decides whether an intraday structure may trade in r. Trend regimes also pin
// the spread direction.
func Allowed(kind strategy.Kind, spreadType strategy.SpreadType, r Regime) (bool, string) {
	switch r {
	case Compression:
		return kind == strategy.KindFly, "Compression -> Iron Fly only."
	case Chop:
		return kind == strategy.KindCondor, "Chop -> Iron Condor only."
	case TrendUp:
		if kind != strategy.KindDirectional {
			return false, "Trend Up -> Bull Put spread only."
		}
		return spreadType == strategy.BullPutSpread, "Need BULL_PUT_SPREAD, got " + spreadOrNone(spreadType) + "."
	case TrendDown:
		if kind != strategy.KindDirectional {
			return false, "Trend Down -> Bear Call spread only."
		}
		return spreadType == strategy.BearCallSpread, "Need BEAR_CALL_SPREAD, got " + spreadOrNone(spreadType) + "."
	case Expansion:
		return kind == strategy.KindConvex, "Expansion -> Debit spread hedge only."
	}
	return false, "Regime unclassified."
}

// AllowedGate is the required regime row as the playbook card shows it.
func AllowedGate(kind strategy.Kind, spreadType strategy.SpreadType, r Regime) decision.GateResult {
	ok, detail := Allowed(kind, spreadType, r)
	return decision.Check(strategy.RegimeGate, ok, detail)
}

func spreadOrNone(t strategy.SpreadType) string {
	if t == "" {
		return "none"
	}
	return string(t)
}

// Primary is the strategy whose card leads the overview. Unclassified falls back to the condor.
func Primary(r Regime) strategy.Kind {
	if k, ok := designated[r]; ok {
		return k
	}
	return strategy.KindCondor
}

// Favored is the display label for the regime's strategy, "None" when unclassified.
func Favored(r Regime) string {
	switch r {
	case TrendUp:
		return "Directional Spread (Bull Put)"
	case TrendDown:
		return "Directional Spread (Bear Call)"
	}
	if k, ok := designated[r]; ok {
		return string(k)
	}
	return "None"
}

type EligibilityRow struct {
	Strategy strategy.Kind   `json:"strategy"`
	Status   decision.Status `json:"status"`
	Reason   string          `json:"reason"`
}

// Eligibility lists every intraday structure with its allowed/disabled status in r.
func Eligibility(r Regime) []EligibilityRow {
	out := make([]EligibilityRow, 0, len(strategy.IntradayKinds))
	for _, k := range strategy.IntradayKinds {
		row := EligibilityRow{Strategy: k, Status: decision.StatusFail}
		switch {
		case !r.Valid():
			row.Reason = "Regime unclassified."
		case designated[r] == k:
			row.Status = decision.StatusPass
			row.Reason = "Allowed in " + string(r) + " regime."
		default:
			row.Reason = "Disabled in " + string(r) + " regime."
		}
		out = append(out, row)
	}
	return out
}
