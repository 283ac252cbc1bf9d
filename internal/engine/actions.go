package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/outbox"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// ManualCloseReason is stamped on trades closed by the operator.
const ManualCloseReason = "manual close"

var kindAliases = map[string]strategy.Kind{
	"CONDOR":      strategy.KindCondor,
	"FLY":         strategy.KindFly,
	"DIRECTIONAL": strategy.KindDirectional,
	"VERTICAL":    strategy.KindDirectional,
	"CONVEX":      strategy.KindConvex,
	"MULTI_DTE":   strategy.KindMultiDTE,
	"MULTIDTE":    strategy.KindMultiDTE,
}

// ParseKind accepts a display name, a stored strategy key or a short alias
// such as "condor".
func ParseKind(s string) (strategy.Kind, bool) {
	key := lifecycle.NormalizeStrategy(s)
	if k, ok := kindAliases[key]; ok {
		return k, true
	}
	for _, k := range append(slices.Clone(strategy.IntradayKinds), strategy.KindBWB, strategy.KindMultiDTE) {
		if key == lifecycle.StrategyKey(k) || key == lifecycle.NormalizeStrategy(string(k)) {
			return k, true
		}
	}
	return "", false
}

// Candidate returns the last tick's candidate for kind. Multi-DTE picks the first
// ready target. Blocked candidates are returned with their checklist so the caller
// can show why.
func (e *Engine) Candidate(kind strategy.Kind) (*strategy.Candidate, error) {
	res, ok := e.Last()
	if !ok {
		return nil, ErrNoTick
	}
	var c *strategy.Candidate
	switch kind {
	case strategy.KindBWB:
		c = res.BWB.Candidate
	case strategy.KindMultiDTE:
		if ev, ok := firstReady(res.MultiDTE); ok {
			c = ev.Candidate
		}
	default:
		if card, ok := res.Board.Card(kind); ok {
			c = card.Candidate
		}
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCandidate, kind)
	}
	return c, nil
}

// ConfirmEntry records the operator's fill of the last candidate for kind and
// journals the trade with its modeled entry price.
func (e *Engine) ConfirmEntry(ctx context.Context, kind strategy.Kind, now time.Time) (lifecycle.Trade, error) {
	c, err := e.Candidate(kind)
	if err != nil {
		return lifecycle.Trade{}, err
	}
	key := lifecycle.StrategyKey(kind)
	t, err := e.deps.Machine.AddTrade(ctx, key, now, lifecycle.Payload(c))
	if err != nil {
		return lifecycle.Trade{}, err
	}

	e.journal(outbox.Entry{
		Type:           outbox.TypeTrade,
		Strategy:       key,
		TradeID:        t.ID,
		Action:         "open",
		IdempotencyKey: outbox.TradeActionKey(t.ID, "open"),
	}, t)
	fill := outbox.EstimateFill(t.ID, c, e.settings.Execution, now)
	e.journal(outbox.Entry{Type: outbox.TypeFill, Strategy: key, TradeID: t.ID}, fill)
	observ.Log("entry_confirmed", map[string]any{
		"trade_id":  t.ID,
		"strategy":  key,
		"legs":      strategy.FormatLegs(c.Legs),
		"mid":       fill.Mid,
		"est_price": fill.Price,
	})
	return t, nil
}

// ManualClose closes a trade from any state.
func (e *Engine) ManualClose(ctx context.Context, id string, now time.Time) (lifecycle.Trade, error) {
	if err := e.deps.Machine.CloseTrade(ctx, id, now, ManualCloseReason); err != nil {
		return lifecycle.Trade{}, fmt.Errorf("close %s: %w", id, err)
	}
	t, err := e.deps.Machine.Trade(ctx, id)
	if err != nil {
		return lifecycle.Trade{}, err
	}
	e.journal(outbox.Entry{
		Type:           outbox.TypeTrade,
		Strategy:       t.Strategy,
		TradeID:        t.ID,
		Action:         "close",
		IdempotencyKey: outbox.TradeActionKey(t.ID, "close"),
	}, map[string]any{"reason": ManualCloseReason, "current_debit": t.CurrentDebit, "profit_pct": t.ProfitPct})
	return t, nil
}
