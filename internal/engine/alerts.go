package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/alerts"
	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/outbox"
	"github.com/Rajchodisetti/spx0dte/internal/playbook"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

func (e *Engine) policy(loss bool, cooldown time.Duration) lifecycle.AlertPolicy {
	return lifecycle.AlertPolicy{
		Enabled:   e.deps.Notifier.Enabled(),
		LossToday: loss,
		Cooldown:  cooldown,
	}
}

// entryTransition stores the readiness for key and sends the entry alert on a
// NOT READY to READY transition. The cooldown is stamped only after delivery.
func (e *Engine) entryTransition(ctx context.Context, res *Result, pc playbook.Context, snap *market.Snapshot,
	key string, ready bool, c *strategy.Candidate, checklist decision.Checklist) error {
	now := pc.Now
	send, why, err := e.deps.Machine.EvaluateTransition(ctx, key, ready && c != nil, now,
		e.policy(pc.Exposure.Lock.Daily, e.settings.ReadyCooldown))
	if err != nil {
		return err
	}
	if !send {
		if ready {
			res.Alerts = append(res.Alerts, AlertOutcome{Kind: AlertEntry, Strategy: key, Reason: why})
		}
		return nil
	}

	text := alerts.FormatEntry(alerts.Entry{
		Candidate:    c,
		Now:          now,
		Display:      e.settings.Display,
		Spot:         pc.Spot,
		VIX:          snap.VIX,
		IVR:          snap.IVRank,
		EMR:          pc.EMR,
		ATRPctEMR:    pc.Stats.ATRPctEMR,
		VWAPDistance: pc.Stats.VWAPDistance,
		RangePctEMR:  rangePct(pc),
		RiskScore:    string(signals.Risk(pc.Stats.ATR1m, pc.EMR, pc.Stats.VWAPDistance, popOf(c))),
	})
	out := AlertOutcome{Kind: AlertEntry, Strategy: key, Reason: why}
	if err := e.deps.Notifier.Notify(ctx, AlertEntry, text); err != nil {
		out.Error = err.Error()
		res.Alerts = append(res.Alerts, out)
		observ.Warn("entry_alert_failed", map[string]any{"strategy": key, "tick_id": res.TickID, "error": err.Error()})
		return nil
	}
	if err := e.deps.Machine.MarkSent(ctx, key, now); err != nil {
		return fmt.Errorf("mark sent %s: %w", key, err)
	}
	out.Sent = true
	res.Alerts = append(res.Alerts, out)
	e.journal(outbox.Entry{
		Type:           outbox.TypeEntryAlert,
		Strategy:       key,
		IdempotencyKey: outbox.EntryAlertKey(key, c.ID, now),
		TickID:         res.TickID,
	}, map[string]any{
		"candidate": c.Summary(),
		"checklist": checklist.Summary(),
	})
	observ.Log("entry_alert_sent", map[string]any{"strategy": key, "tick_id": res.TickID, "legs": strategy.FormatLegs(c.Legs)})
	return nil
}

// lockAlert announces a newly engaged sleeve loss lock. It is not cooldown gated;
// the tracker only reports each engagement once.
func (e *Engine) lockAlert(ctx context.Context, now time.Time, res *Result) {
	out := AlertOutcome{Kind: AlertLock, Reason: res.Exposure.Lock.Detail}
	err := e.deps.Notifier.Notify(ctx, AlertLock, alerts.FormatLossLock(now, res.Exposure, e.settings.Display))
	switch {
	case errors.Is(err, alerts.ErrDisabled):
		out.Reason = "alerts disabled"
	case err != nil:
		out.Error = err.Error()
	default:
		out.Sent = true
	}
	res.Alerts = append(res.Alerts, out)
	e.journal(outbox.Entry{Type: outbox.TypeLockAlert, TickID: res.TickID, Action: "engaged"}, res.Exposure.Lock)
}

func rangePct(pc playbook.Context) *float64 {
	if pc.Stats.Range15m == nil || pc.EMR == nil || *pc.EMR == 0 {
		return nil
	}
	v := *pc.Stats.Range15m / *pc.EMR
	return &v
}

func popOf(c *strategy.Candidate) *float64 {
	if c == nil || c.PopDelta <= 0 {
		return nil
	}
	p := c.PopDelta
	return &p
}
