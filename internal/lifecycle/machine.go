package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradeClosed   = errors.New("trade already closed")
)

const (
	DefaultReadyCooldown = 300 * time.Second
	DefaultExitCooldown  = 600 * time.Second

	RolloverReason = "day rollover auto-close"
)

// AlertPolicy gates an outbound alert.
type AlertPolicy struct {
	Enabled   bool
	LossToday bool
	Cooldown  time.Duration
}

// Machine owns every mutation of the lifecycle document. Each mutation starts with the
// day-boundary check, so the first call of a new session closes stale intraday trades.
type Machine struct {
	store   Store
	display *time.Location
}

// NewMachine wires a store. display is the second zone stamped on trades; nil means Europe/Paris.
func NewMachine(store Store, display *time.Location) *Machine {
	if display == nil {
		display = paris
	}
	return &Machine{store: store, display: display}
}

var paris = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return time.UTC
	}
	return loc
}()

func (m *Machine) Store() Store { return m.store }

// EvaluateTransition stores the latest readiness and reports whether an entry alert may be
// sent. The readiness value is saved before any of the alert checks run. An alert exactly
// at the cooldown boundary is still suppressed.
func (m *Machine) EvaluateTransition(ctx context.Context, strategy string, ready bool, now time.Time, p AlertPolicy) (bool, string, error) {
	var (
		send   bool
		reason string
	)
	err := m.store.Update(ctx, func(st *State) error {
		m.roll(st, now)
		rec := st.Strategies[strategy]
		prev := rec.Ready
		rec.Ready = ready
		st.Strategies[strategy] = rec

		switch {
		case !p.Enabled:
			reason = "alerts disabled"
		case p.LossToday:
			reason = "LOSS_TODAY active"
		case !ready:
			reason = "not ready"
		case prev:
			reason = "still ready (no transition)"
		case rec.LastAlertAt != nil && now.Sub(*rec.LastAlertAt) <= p.Cooldown:
			reason = "cooldown active"
		default:
			send, reason = true, "transition ready"
		}
		return nil
	})
	if err != nil {
		return false, "", fmt.Errorf("evaluate transition %s: %w", strategy, err)
	}
	observ.Debug("readiness_transition", map[string]any{
		"strategy": strategy,
		"ready":    ready,
		"send":     send,
		"reason":   reason,
	})
	return send, reason, nil
}

// MarkSent stamps the last-alert time. Readiness is left untouched.
func (m *Machine) MarkSent(ctx context.Context, strategy string, now time.Time) error {
	return m.store.Update(ctx, func(st *State) error {
		m.roll(st, now)
		rec := st.Strategies[strategy]
		t := now
		rec.LastAlertAt = &t
		st.Strategies[strategy] = rec
		return nil
	})
}

// AddTrade records a confirmed entry. Payload fields are kept; identity, status and entry
// times are assigned here, and the payload's rollover policy wins only when valid.
func (m *Machine) AddTrade(ctx context.Context, strategy string, now time.Time, payload Trade) (Trade, error) {
	var out Trade
	err := m.store.Update(ctx, func(st *State) error {
		m.roll(st, now)
		t := payload
		t.ID = fmt.Sprintf("T%05d", st.NextTradeID)
		st.NextTradeID++
		t.Strategy = strategy
		t.Status = StatusOpen
		t.EntryTimeET = market.InET(now)
		t.EntryTimeDisplay = now.In(m.display)
		t.CloseTimeET, t.CloseTimeDisplay = nil, nil
		t.ClosedReason, t.ExitPendingReason = "", ""
		t.LastExitAlert = nil
		t.RolloverPolicy = t.EffectivePolicy()
		st.Trades = append(st.Trades, t)
		out = t
		return nil
	})
	if err != nil {
		return Trade{}, fmt.Errorf("add trade: %w", err)
	}
	observ.Log("trade_opened", map[string]any{
		"trade_id": out.ID,
		"strategy": strategy,
		"policy":   string(out.RolloverPolicy),
	})
	observ.IncCounter("lifecycle_trades_opened_total", map[string]string{"strategy": strategy})
	return out, nil
}

// Trades lists trades with the given statuses, or all trades when none are given.
func (m *Machine) Trades(ctx context.Context, statuses ...Status) ([]Trade, error) {
	st, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	out := make([]Trade, 0, len(st.Trades))
	for _, t := range st.Trades {
		if len(statuses) > 0 && !slices.Contains(statuses, t.Status) {
			continue
		}
		t.RolloverPolicy = t.EffectivePolicy()
		out = append(out, t)
	}
	return out, nil
}

// OpenTrades is Trades(open, exit_pending).
func (m *Machine) OpenTrades(ctx context.Context) ([]Trade, error) {
	return m.Trades(ctx, StatusOpen, StatusExitPending)
}

func (m *Machine) Trade(ctx context.Context, id string) (Trade, error) {
	st, err := m.store.Load(ctx)
	if err != nil {
		return Trade{}, fmt.Errorf("get trade %s: %w", id, err)
	}
	i := st.index(id)
	if i < 0 {
		return Trade{}, ErrTradeNotFound
	}
	t := st.Trades[i]
	t.RolloverPolicy = t.EffectivePolicy()
	return t, nil
}

// UpdateTrade applies fn to the stored trade.
func (m *Machine) UpdateTrade(ctx context.Context, id string, now time.Time, fn func(*Trade)) error {
	return m.mutateTrade(ctx, id, now, func(t *Trade) error {
		fn(t)
		return nil
	})
}

// MarkExitPending moves an open trade to exit_pending. Closed trades are rejected.
func (m *Machine) MarkExitPending(ctx context.Context, id string, now time.Time, reason string) error {
	err := m.mutateTrade(ctx, id, now, func(t *Trade) error {
		if t.Status == StatusClosed {
			return ErrTradeClosed
		}
		t.Status = StatusExitPending
		t.ExitPendingReason = reason
		ts := market.InET(now)
		t.LastEval = &ts
		return nil
	})
	if err != nil {
		return err
	}
	observ.Log("trade_exit_pending", map[string]any{"trade_id": id, "reason": reason})
	return nil
}

// CloseTrade closes a trade from any state.
func (m *Machine) CloseTrade(ctx context.Context, id string, now time.Time, reason string) error {
	err := m.mutateTrade(ctx, id, now, func(t *Trade) error {
		m.close(t, now, reason)
		ts := market.InET(now)
		t.LastEval = &ts
		return nil
	})
	if err != nil {
		return err
	}
	observ.Log("trade_closed", map[string]any{"trade_id": id, "reason": reason})
	observ.IncCounter("lifecycle_trades_closed_total", map[string]string{"reason": closeLabel(reason)})
	return nil
}

// CanSendExitAlert applies the per-trade exit alert cooldown. The elapsed time must
// exceed the cooldown.
func (m *Machine) CanSendExitAlert(ctx context.Context, id string, now time.Time, p AlertPolicy) (bool, string, error) {
	if !p.Enabled {
		return false, "exit alerts disabled", nil
	}
	if p.LossToday {
		return false, "LOSS_TODAY active", nil
	}
	t, err := m.Trade(ctx, id)
	if errors.Is(err, ErrTradeNotFound) {
		return false, "trade not found", nil
	}
	if err != nil {
		return false, "", err
	}
	if t.LastExitAlert != nil && now.Sub(*t.LastExitAlert) <= p.Cooldown {
		return false, "exit alert cooldown active", nil
	}
	return true, "exit alert allowed", nil
}

func (m *Machine) MarkExitAlertSent(ctx context.Context, id string, now time.Time) error {
	return m.mutateTrade(ctx, id, now, func(t *Trade) error {
		ts := market.InET(now)
		t.LastExitAlert = &ts
		return nil
	})
}

// RollDate runs the day-boundary check and returns the IDs it auto-closed.
func (m *Machine) RollDate(ctx context.Context, now time.Time) ([]string, error) {
	var closed []string
	err := m.store.Update(ctx, func(st *State) error {
		closed = m.roll(st, now)
		return nil
	})
	return closed, err
}

// mutateTrade persists the day roll even when fn rejects the trade; fn must not
// modify the trade before returning an error.
func (m *Machine) mutateTrade(ctx context.Context, id string, now time.Time, fn func(*Trade) error) error {
	var opErr error
	err := m.store.Update(ctx, func(st *State) error {
		m.roll(st, now)
		i := st.index(id)
		if i < 0 {
			opErr = ErrTradeNotFound
			return nil
		}
		opErr = fn(&st.Trades[i])
		return nil
	})
	if err != nil {
		return err
	}
	return opErr
}

// roll closes live intraday trades entered before the session date and resets readiness.
// It is a no-op when the stored date already matches.
func (m *Machine) roll(st *State, now time.Time) []string {
	today := market.SessionDate(now)
	if st.Date == today {
		return nil
	}
	var closed []string
	for i := range st.Trades {
		t := &st.Trades[i]
		if !t.Status.Live() || t.EffectivePolicy() != IntradayAutoClose {
			continue
		}
		if t.EntryTimeET.IsZero() || market.SessionDate(t.EntryTimeET) >= today {
			continue
		}
		m.close(t, now, RolloverReason)
		closed = append(closed, t.ID)
	}
	if len(closed) > 0 {
		observ.Log("trades_rollover_closed", map[string]any{"date": today, "trade_ids": closed})
		observ.IncCounterBy("lifecycle_trades_closed_total", map[string]string{"reason": "rollover"}, float64(len(closed)))
	}
	st.Date = today
	st.Strategies = defaultReadiness()
	return closed
}

func (m *Machine) close(t *Trade, now time.Time, reason string) {
	et, disp := market.InET(now), now.In(m.display)
	t.Status = StatusClosed
	t.ClosedReason = reason
	t.CloseTimeET = &et
	t.CloseTimeDisplay = &disp
}

func closeLabel(reason string) string {
	switch reason {
	case RolloverReason:
		return "rollover"
	case "manual close":
		return "manual"
	}
	return "other"
}
