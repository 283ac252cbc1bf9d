package lifecycle

import (
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen        Status = "open"
	StatusExitPending Status = "exit_pending"
	StatusClosed      Status = "closed"
)

// Live reports whether the trade still carries risk.
func (s Status) Live() bool {
	return s == StatusOpen || s == StatusExitPending
}

type RolloverPolicy string

const (
	IntradayAutoClose RolloverPolicy = "INTRADAY_AUTO_CLOSE"
	PersistUntilExit  RolloverPolicy = "PERSIST_UNTIL_EXIT"
)

// ParseRolloverPolicy accepts either policy in any case; ok is false for anything else.
func ParseRolloverPolicy(s string) (RolloverPolicy, bool) {
	switch p := RolloverPolicy(strings.ToUpper(strings.TrimSpace(s))); p {
	case IntradayAutoClose, PersistUntilExit:
		return p, true
	}
	return "", false
}

// Strategy keys as stored on trades and readiness records.
const (
	StrategyIronCondor   = "IRON_CONDOR"
	StrategyIronFly      = "IRON_FLY"
	StrategyCreditSpread = "CREDIT_SPREAD"
	StrategyConvexDebit  = "CONVEX_DEBIT"
	StrategyMultiDTE     = "2_DTE_CREDIT_SPREAD"
	StrategyBWB          = "BWB"
)

// DefaultStrategies are the readiness records every session starts with.
var DefaultStrategies = []string{StrategyIronCondor, StrategyIronFly, StrategyCreditSpread}

var multiDayKeys = map[string]struct{}{
	"2_DTE_CREDIT_SPREAD":       {},
	"2DTE_CREDIT_SPREAD":        {},
	"TWO_DTE_CREDIT_SPREAD":     {},
	"BROKEN_WING_PUT_BUTTERFLY": {},
	"BROKENWINGPUTBUTTERFLY":    {},
	"BWB":                       {},
}

// NormalizeStrategy upper-cases and folds spaces and dashes into single underscores.
func NormalizeStrategy(strategy string) string {
	s := strings.ToUpper(strings.TrimSpace(strategy))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// DefaultPolicy is persist-until-exit for multi-day structures and intraday otherwise.
func DefaultPolicy(strategy string) RolloverPolicy {
	if _, ok := multiDayKeys[NormalizeStrategy(strategy)]; ok {
		return PersistUntilExit
	}
	return IntradayAutoClose
}

// Trade is a confirmed position. Fields not relevant to a structure stay nil.
type Trade struct {
	ID             string         `json:"trade_id"`
	Strategy       string         `json:"strategy"`
	SpreadType     string         `json:"spread_type,omitempty"`
	CandidateID    string         `json:"candidate_id,omitempty"`
	Status         Status         `json:"status"`
	RolloverPolicy RolloverPolicy `json:"rolloverPolicy"`

	EntryTimeET      time.Time  `json:"entry_time_et"`
	EntryTimeDisplay time.Time  `json:"entry_time_paris"`
	CloseTimeET      *time.Time `json:"close_time_et"`
	CloseTimeDisplay *time.Time `json:"close_time_paris"`
	LastEval         *time.Time `json:"last_eval_et"`
	LastExitAlert    *time.Time `json:"last_exit_alert"`

	ClosedReason      string `json:"closed_reason"`
	ExitPendingReason string `json:"exit_pending_reason"`
	NextExitReason    string `json:"next_exit_reason,omitempty"`

	Width         *float64 `json:"width"`
	Expiry        string   `json:"expiry,omitempty"`
	InitialCredit *float64 `json:"initial_credit"`
	InitialDebit  *float64 `json:"initial_debit,omitempty"`
	PopDelta      *float64 `json:"pop_delta"`

	ShortPut    *float64 `json:"short_put,omitempty"`
	LongPut     *float64 `json:"long_put,omitempty"`
	ShortCall   *float64 `json:"short_call,omitempty"`
	LongCall    *float64 `json:"long_call,omitempty"`
	ShortStrike *float64 `json:"short_strike,omitempty"`
	LongStrike  *float64 `json:"long_strike,omitempty"`
	ShortRight  string   `json:"short_right,omitempty"`
	LongRight   string   `json:"long_right,omitempty"`

	ShortPutDelta  *float64 `json:"short_put_delta,omitempty"`
	ShortCallDelta *float64 `json:"short_call_delta,omitempty"`
	LongPutDelta   *float64 `json:"long_put_delta,omitempty"`
	LongCallDelta  *float64 `json:"long_call_delta,omitempty"`
	ShortDelta     *float64 `json:"short_delta,omitempty"`
	LongDelta      *float64 `json:"long_delta,omitempty"`

	// Multi-day vertical exit plan.
	StopDebit       *float64 `json:"stop_debit,omitempty"`
	ProfitTakeDebit *float64 `json:"profit_take_debit,omitempty"`
	DeltaStop       *float64 `json:"delta_stop,omitempty"`
	UseDeltaStop    *bool    `json:"use_delta_stop,omitempty"`

	// Broken-wing butterfly legs.
	FarLongStrike  *float64 `json:"far_long_put_strike,omitempty"`
	NarrowWidth    *float64 `json:"narrow_wing_width,omitempty"`
	ShortSymbol    string   `json:"short_symbol,omitempty"`
	NearLongSymbol string   `json:"near_long_symbol,omitempty"`
	FarLongSymbol  string   `json:"far_long_symbol,omitempty"`

	CurrentDebit   *float64 `json:"current_debit"`
	ProfitPct      *float64 `json:"profit_pct"`
	TimeInTradeMin *float64 `json:"time_in_trade_min"`
}

// EffectivePolicy is the stored override when valid, otherwise the strategy default.
// State files written before the field existed fall back to the default.
func (t Trade) EffectivePolicy() RolloverPolicy {
	if p, ok := ParseRolloverPolicy(string(t.RolloverPolicy)); ok {
		return p
	}
	return DefaultPolicy(t.Strategy)
}

// Readiness is the per-strategy alert record.
type Readiness struct {
	Ready       bool       `json:"ready"`
	LastAlertAt *time.Time `json:"last_alert_at"`
}

// State is the persisted lifecycle document.
type State struct {
	Date        string               `json:"date"`
	Strategies  map[string]Readiness `json:"strategies"`
	Trades      []Trade              `json:"trades"`
	NextTradeID int                  `json:"next_trade_id"`
}

// DefaultState is a fresh session with no trades. Stores pass an empty date; the
// first mutation dates the document from its tick time.
func DefaultState(date string) *State {
	return &State{
		Date:        date,
		Strategies:  defaultReadiness(),
		Trades:      []Trade{},
		NextTradeID: 1,
	}
}

func defaultReadiness() map[string]Readiness {
	out := make(map[string]Readiness, len(DefaultStrategies))
	for _, s := range DefaultStrategies {
		out[s] = Readiness{}
	}
	return out
}

// sanitize repairs structurally invalid fields of a decoded document.
func (s *State) sanitize() {
	if s.Strategies == nil {
		s.Strategies = defaultReadiness()
	}
	if s.Trades == nil {
		s.Trades = []Trade{}
	}
	if s.NextTradeID < 1 {
		s.NextTradeID = 1
	}
	for _, t := range s.Trades {
		if n, ok := tradeSeq(t.ID); ok && n >= s.NextTradeID {
			s.NextTradeID = n + 1
		}
	}
}

// tradeSeq parses the numeric suffix of a "T00042" style identifier.
func tradeSeq(id string) (int, bool) {
	digits, ok := strings.CutPrefix(strings.TrimSpace(id), "T")
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *State) index(id string) int {
	for i := range s.Trades {
		if s.Trades[i].ID == id {
			return i
		}
	}
	return -1
}
