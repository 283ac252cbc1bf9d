package exit

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

const (
	multiDTEStopMultiple   = 3.0
	multiDTEProfitTake     = 0.05
	multiDTEDeltaStop      = 0.40
	measuredMoveReversalAt = 0.45
)

// VerticalMark is the mark-to-market of a multi-day vertical.
type VerticalMark struct {
	TradeID    string   `json:"trade_id"`
	MarkDebit       *float64 `json:"mark_debit"`
	ShortDelta      *float64 `json:"short_delta"`
	StopDebit       float64  `json:"stop_debit"`
	ProfitTakeDebit float64  `json:"profit_take_debit"`
	ShouldExit      bool     `json:"should_exit"`
	Reason          string   `json:"reason,omitempty"`
}

// MarkVertical marks a live multi-day credit vertical against its expiry's chain.
// moveRatio is the measured-move completion of the underlying, nil when unknown.
// The first triggered stop wins.
func MarkVertical(t lifecycle.Trade, ix *market.Index, moveRatio *float64) VerticalMark {
	out := VerticalMark{TradeID: t.ID}
	credit := 0.0
	if t.InitialCredit != nil {
		credit = *t.InitialCredit
	}
	out.StopDebit = credit * multiDTEStopMultiple
	if t.StopDebit != nil {
		out.StopDebit = *t.StopDebit
	}
	out.ProfitTakeDebit = multiDTEProfitTake
	if t.ProfitTakeDebit != nil {
		out.ProfitTakeDebit = *t.ProfitTakeDebit
	}
	if !t.Status.Live() || ix == nil || t.ShortStrike == nil || t.LongStrike == nil {
		return out
	}
	sr, err := market.ParseRight(t.ShortRight)
	if err != nil {
		return out
	}
	lr, err := market.ParseRight(t.LongRight)
	if err != nil {
		return out
	}
	short, ok := ix.GetExpiry(sr, *t.ShortStrike, t.Expiry)
	if !ok || short.Mid == nil {
		return out
	}
	long, ok := ix.GetExpiry(lr, *t.LongStrike, t.Expiry)
	if !ok || long.Mid == nil {
		return out
	}

	mark := math.Max(0, *short.Mid-*long.Mid)
	out.MarkDebit = &mark
	out.ShortDelta = short.Delta

	stop, take := out.StopDebit, out.ProfitTakeDebit
	deltaStop := multiDTEDeltaStop
	if t.DeltaStop != nil {
		deltaStop = *t.DeltaStop
	}
	useDelta := t.UseDeltaStop == nil || *t.UseDeltaStop

	switch {
	case stop > 0 && mark >= stop:
		out.Reason = fmt.Sprintf("3x stop hit (%.2f >= %.2f)", mark, stop)
	case mark <= take:
		out.Reason = fmt.Sprintf("Profit target hit (%.2f <= %.2f)", mark, take)
	case useDelta && short.Delta != nil && math.Abs(*short.Delta) > deltaStop:
		out.Reason = fmt.Sprintf("Delta stop hit (|Δ| %.2f > %.2f)", math.Abs(*short.Delta), deltaStop)
	case moveRatio != nil && *moveRatio < measuredMoveReversalAt:
		out.Reason = fmt.Sprintf("Measured-move reversal (%.0f%%)", *moveRatio*100)
	}
	out.ShouldExit = out.Reason != ""
	return out
}

// BWBStatus is the monitor output for one broken-wing butterfly.
type BWBStatus struct {
	TradeID          string                  `json:"trade_id"`
	CurrentDebit     *float64                `json:"current_debit"`
	ProfitTarget     float64                 `json:"profit_target_debit"`
	StopLoss         float64                 `json:"stop_loss_debit"`
	DTE              *int                    `json:"dte"`
	NetDelta         *float64                `json:"net_delta"`
	NetGamma         *float64                `json:"net_gamma"`
	ShouldExit       bool                    `json:"should_exit"`
	Reasons          []string                `json:"reasons"`
	ExitReason       string                  `json:"exit_reason,omitempty"`
	GreekAlert       string                  `json:"greek_alert,omitempty"`
	AdjustmentSignal bool                    `json:"adjustment_signal"`
	AdjustmentMode   strategy.AdjustmentMode `json:"adjustment_mode"`
}

// MonitorBWB marks a broken-wing put butterfly by leg symbol and checks its exit rules.
func MonitorBWB(t lifecycle.Trade, now time.Time, spot *float64, ix *market.Index, s strategy.BWBSettings) BWBStatus {
	out := BWBStatus{TradeID: t.ID, Reasons: []string{}, AdjustmentMode: strategy.AdjustNone}
	credit := 0.0
	if t.InitialCredit != nil {
		credit = *t.InitialCredit
	}
	narrow := 0.0
	if t.NarrowWidth != nil {
		narrow = *t.NarrowWidth
	}
	out.ProfitTarget = s.ProfitTargetDebit(credit, narrow)
	out.StopLoss = s.StopLossDebit(credit)

	if ix == nil {
		ix = market.NewIndex(nil)
	}
	near, okN := ix.Symbol(t.NearLongSymbol)
	short, okS := ix.Symbol(t.ShortSymbol)
	far, okF := ix.Symbol(t.FarLongSymbol)
	if okN && okS && okF {
		if short.Mid != nil && near.Mid != nil && far.Mid != nil {
			debit := math.Max(0, 2**short.Mid-*near.Mid-*far.Mid)
			out.CurrentDebit = &debit
		}
		if short.Delta != nil && near.Delta != nil && far.Delta != nil {
			out.NetDelta = fptr(*near.Delta + *far.Delta - 2**short.Delta)
		}
		if short.Gamma != nil && near.Gamma != nil && far.Gamma != nil {
			out.NetGamma = fptr(*near.Gamma + *far.Gamma - 2**short.Gamma)
		}
	}
	if dte, ok := market.DaysBetween(now, t.Expiry); ok {
		out.DTE = &dte
	}

	if d := out.CurrentDebit; d != nil && *d <= out.ProfitTarget {
		out.Reasons = append(out.Reasons, fmt.Sprintf("Profit target hit (%.2f <= %.2f)", *d, out.ProfitTarget))
	}
	if out.DTE != nil && *out.DTE <= s.ExitDTE {
		out.Reasons = append(out.Reasons, fmt.Sprintf("DTE exit triggered (%d <= %d)", *out.DTE, s.ExitDTE))
	}
	if d := out.CurrentDebit; d != nil && *d >= out.StopLoss {
		out.Reasons = append(out.Reasons, fmt.Sprintf("Stop-loss triggered (%.2f >= %.2f)", *d, out.StopLoss))
	}
	if spot != nil && t.LongStrike != nil && *spot <= *t.LongStrike {
		out.Reasons = append(out.Reasons, fmt.Sprintf("Underlying crossed long put strike (%.2f <= %.2f)", *spot, *t.LongStrike))
	}
	out.ShouldExit = len(out.Reasons) > 0
	out.ExitReason = strings.Join(out.Reasons, " | ")

	var alerts []string
	if out.NetDelta != nil && math.Abs(*out.NetDelta) > s.DeltaAlertThreshold {
		alerts = append(alerts, fmt.Sprintf("|Δ| %.3f > %.3f", math.Abs(*out.NetDelta), s.DeltaAlertThreshold))
	}
	if out.NetGamma != nil && math.Abs(*out.NetGamma) > s.GammaAlertThreshold {
		alerts = append(alerts, fmt.Sprintf("|Γ| %.3f > %.3f", math.Abs(*out.NetGamma), s.GammaAlertThreshold))
	}
	out.GreekAlert = strings.Join(alerts, "; ")

	if s.AllowAdjustments {
		for _, r := range out.Reasons {
			if strings.Contains(r, "Stop-loss") || strings.Contains(r, "crossed long put strike") {
				out.AdjustmentSignal = true
				break
			}
		}
	}
	if out.AdjustmentSignal {
		out.AdjustmentMode = s.AdjustmentMode
	}
	return out
}
