package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/alerts"
	"github.com/Rajchodisetti/spx0dte/internal/exit"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/outbox"
	"github.com/Rajchodisetti/spx0dte/internal/playbook"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

// maxPendingReasons caps the reasons stored on an exit_pending trade.
const maxPendingReasons = 3

// monitor marks every live trade and raises exit alerts. Intraday structures are
// priced off the 0DTE chain; multi-day structures off every delivered slice.
func (e *Engine) monitor(ctx context.Context, snap *market.Snapshot, now time.Time, pc playbook.Context, res *Result) error {
	zeroIx := market.NewIndex(snap.ZeroDTE())
	allIx := market.NewIndex(allOptions(snap))
	move := moveRatio(snap.Candles1m)
	mkt := exit.Market{Spot: pc.Spot, EMR: pc.EMR, Stats: pc.Stats, Quote: zeroIx}

	res.Exits = []exit.Decision{}
	for _, t := range pc.OpenTrades {
		var d exit.Decision
		switch lifecycle.NormalizeStrategy(t.Strategy) {
		case lifecycle.StrategyMultiDTE:
			m := exit.MarkVertical(t, allIx, move)
			res.Verticals = append(res.Verticals, m)
			d = multiDayDecision(t, now, m.ShouldExit, m.MarkDebit, reasonList(m.Reason), m.ProfitTakeDebit, m.StopDebit)
		case lifecycle.StrategyBWB:
			st := exit.MonitorBWB(t, now, pc.Spot, allIx, e.settings.BWB)
			res.BWBStatus = append(res.BWBStatus, st)
			if st.GreekAlert != "" {
				observ.Warn("bwb_greek_alert", map[string]any{"trade_id": t.ID, "detail": st.GreekAlert})
			}
			d = multiDayDecision(t, now, st.ShouldExit, st.CurrentDebit, st.Reasons, st.ProfitTarget, st.StopLoss)
		default:
			d = exit.Evaluate(t, now, mkt, e.settings.Exit)
		}
		res.Exits = append(res.Exits, d)

		if err := e.deps.Machine.UpdateTrade(ctx, t.ID, now, func(tr *lifecycle.Trade) {
			ts := now
			tit := d.TimeInTradeMin
			tr.LastEval = &ts
			tr.CurrentDebit = d.CurrentDebit
			tr.ProfitPct = d.ProfitPct
			tr.TimeInTradeMin = &tit
			tr.NextExitReason = d.NextExitReason
		}); err != nil {
			return fmt.Errorf("monitor update %s: %w", t.ID, err)
		}
		if !d.ShouldExit {
			continue
		}
		if err := e.exitTrade(ctx, t, now, d, pc.Spot, res); err != nil {
			return err
		}
	}
	return nil
}

// exitTrade moves an open trade to exit_pending on the first triggered exit and
// sends the exit alert, gated per trade by the exit cooldown.
func (e *Engine) exitTrade(ctx context.Context, t lifecycle.Trade, now time.Time, d exit.Decision, spot *float64, res *Result) error {
	if t.Status == lifecycle.StatusOpen {
		reasons := d.Reasons
		if len(reasons) > maxPendingReasons {
			reasons = reasons[:maxPendingReasons]
		}
		reason := strings.Join(reasons, "; ")
		if err := e.deps.Machine.MarkExitPending(ctx, t.ID, now, reason); err != nil {
			return fmt.Errorf("mark exit pending %s: %w", t.ID, err)
		}
		t.Status = lifecycle.StatusExitPending
		t.ExitPendingReason = reason
		e.journal(outbox.Entry{
			Type:           outbox.TypeTrade,
			Strategy:       t.Strategy,
			TradeID:        t.ID,
			Action:         "exit_pending",
			IdempotencyKey: outbox.TradeActionKey(t.ID, "exit_pending"),
			TickID:         res.TickID,
		}, map[string]any{"reasons": d.Reasons, "severity": d.Severity})
	}

	ok, why, err := e.deps.Machine.CanSendExitAlert(ctx, t.ID, now, e.policy(false, e.settings.ExitCooldown))
	if err != nil {
		return fmt.Errorf("exit alert gate %s: %w", t.ID, err)
	}
	out := AlertOutcome{Kind: AlertExit, Strategy: t.Strategy, TradeID: t.ID, Reason: why}
	if !ok {
		res.Alerts = append(res.Alerts, out)
		return nil
	}

	text := alerts.FormatExit(alerts.Exit{Trade: t, Decision: d, Now: now, Display: e.settings.Display, Spot: spot})
	if err := e.deps.Notifier.Notify(ctx, AlertExit, text); err != nil {
		out.Error = err.Error()
		res.Alerts = append(res.Alerts, out)
		if !errors.Is(err, alerts.ErrDuplicate) {
			observ.Warn("exit_alert_failed", map[string]any{"trade_id": t.ID, "tick_id": res.TickID, "error": err.Error()})
		}
		return nil
	}
	if err := e.deps.Machine.MarkExitAlertSent(ctx, t.ID, now); err != nil {
		return fmt.Errorf("mark exit alert %s: %w", t.ID, err)
	}
	out.Sent = true
	res.Alerts = append(res.Alerts, out)
	e.journal(outbox.Entry{
		Type:           outbox.TypeExitAlert,
		Strategy:       t.Strategy,
		TradeID:        t.ID,
		IdempotencyKey: outbox.ExitAlertKey(t.ID, d.Reasons[0], now),
		TickID:         res.TickID,
	}, d)
	observ.Log("exit_alert_sent", map[string]any{"trade_id": t.ID, "reason": d.Reasons[0], "severity": string(d.Severity)})
	return nil
}

// multiDayDecision projects a multi-day monitor verdict onto an exit decision so the
// lifecycle and alert path stay shared. target and stop are the close-out debits
// that would trigger the profit take and the stop.
func multiDayDecision(t lifecycle.Trade, now time.Time, shouldExit bool, debit *float64, reasons []string, target, stop float64) exit.Decision {
	d := exit.Decision{
		TradeID:      t.ID,
		Strategy:     lifecycle.NormalizeStrategy(t.Strategy),
		ShouldExit:   shouldExit && len(reasons) > 0,
		Reasons:      reasons,
		CurrentDebit: debit,
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	if !t.EntryTimeET.IsZero() {
		d.TimeInTradeMin = max(0, now.Sub(t.EntryTimeET).Minutes())
	}
	if t.InitialCredit != nil && *t.InitialCredit > 0 && debit != nil {
		p := (*t.InitialCredit - *debit) / *t.InitialCredit
		d.ProfitPct = &p
	}
	if !d.ShouldExit {
		d.Severity = exit.Amber
		if d.ProfitPct != nil && *d.ProfitPct >= 0 {
			d.Severity = exit.Green
		}
		if debit == nil {
			d.NextExitReason = fmt.Sprintf("Waiting for live mark (profit target debit %.2f, stop %.2f)", target, stop)
		} else {
			d.NextExitReason = fmt.Sprintf("Next likely: profit target debit %.2f (mark %.2f, stop %.2f)", target, *debit, stop)
		}
		return d
	}
	d.NextExitReason = d.Reasons[0]
	d.Severity = exit.Amber
	for _, r := range d.Reasons {
		lower := strings.ToLower(r)
		if strings.Contains(lower, "stop") || strings.Contains(lower, "crossed") {
			d.Severity = exit.Red
			break
		}
	}
	return d
}

func reasonList(r string) []string {
	if r == "" {
		return nil
	}
	return []string{r}
}

func allOptions(snap *market.Snapshot) []market.OptionQuote {
	var out []market.OptionQuote
	for _, c := range snap.Chains {
		out = append(out, c.Options...)
	}
	return out
}

// moveRatio is the measured-move completion over 30m closes, nil without enough history.
func moveRatio(candles []market.CandleBar) *float64 {
	closes := signals.Closes(signals.Aggregate30m(candles))
	if len(closes) < 20 {
		return nil
	}
	_, ratio := signals.MeasuredMove(closes)
	return &ratio
}
