// Package engine runs one evaluation tick end to end: signals, generators, the
// playbook board, readiness transitions, entry and exit alerts and the trade monitors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/spx0dte/internal/alerts"
	"github.com/Rajchodisetti/spx0dte/internal/execution"
	"github.com/Rajchodisetti/spx0dte/internal/exit"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/macro"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/outbox"
	"github.com/Rajchodisetti/spx0dte/internal/playbook"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

var (
	ErrNoTick      = errors.New("no tick evaluated yet")
	ErrNoCandidate = errors.New("no candidate for strategy")
)

// Deps are the collaborators the engine drives. Notifier and Outbox may be nil.
type Deps struct {
	Machine     *lifecycle.Machine
	Notifier    *alerts.Notifier
	Outbox      *outbox.Outbox
	VolDetector *regime.VolExpansionDetector
	Calendar    macro.Calendar
}

// Settings collects every tunable the tick reads.
type Settings struct {
	Condor      strategy.CondorSettings
	Fly         strategy.FlySettings
	Directional strategy.DirectionalSettings
	Convex      strategy.ConvexSettings
	BWB         strategy.BWBSettings
	MultiDTE    strategy.MultiDTESettings
	Exit        exit.Config
	Execution   execution.Settings
	Sleeve      risk.SleeveSettings

	ReadyCooldown time.Duration
	ExitCooldown  time.Duration
	Display       *time.Location
}

func DefaultSettings() Settings {
	return Settings{
		Condor:        strategy.DefaultCondorSettings(),
		Fly:           strategy.DefaultFlySettings(),
		Directional:   strategy.DefaultDirectionalSettings(),
		Convex:        strategy.DefaultConvexSettings(),
		BWB:           strategy.DefaultBWBSettings(),
		MultiDTE:      strategy.DefaultMultiDTESettings(),
		Exit:          exit.DefaultConfig(),
		Execution:     execution.DefaultSettings(),
		Sleeve:        risk.DefaultSleeveSettings(),
		ReadyCooldown: lifecycle.DefaultReadyCooldown,
		ExitCooldown:  lifecycle.DefaultExitCooldown,
	}
}

// Alert outcome kinds.
const (
	AlertEntry = "entry"
	AlertExit  = "exit"
	AlertLock  = "lock"
)

// AlertOutcome records one alert decision of a tick.
type AlertOutcome struct {
	Kind     string `json:"kind"`
	Strategy string `json:"strategy,omitempty"`
	TradeID  string `json:"trade_id,omitempty"`
	Sent     bool   `json:"sent"`
	Reason   string `json:"reason"`
	Error    string `json:"error,omitempty"`
}

// Result is the complete output of one tick.
type Result struct {
	TickID    string    `json:"tick_id"`
	Timestamp time.Time `json:"timestamp"`
	Spot      *float64  `json:"spot"`
	EMR       *float64  `json:"emr"`
	FullDayEM *float64  `json:"full_day_em"`

	Stats        signals.Stats     `json:"stats"`
	Alignment    signals.Alignment `json:"alignment"`
	Regime       regime.Regime     `json:"regime"`
	RegimeReason string            `json:"regime_reason"`
	Confidence   regime.Score      `json:"confidence"`
	VolExpansion bool              `json:"vol_expansion"`
	VolDetail    string            `json:"vol_detail"`
	MacroBlock   bool              `json:"macro_block"`
	MacroDetail  string            `json:"macro_detail"`

	Board    playbook.Board        `json:"board"`
	BWB      strategy.Evaluation   `json:"bwb"`
	MultiDTE []strategy.Evaluation `json:"multi_dte"`

	Exits     []exit.Decision     `json:"exits"`
	Verticals []exit.VerticalMark `json:"verticals"`
	BWBStatus []exit.BWBStatus    `json:"bwb_status"`

	Exposure risk.Exposure  `json:"exposure"`
	Alerts   []AlertOutcome `json:"alerts"`
	Warnings []string       `json:"warnings"`
}

// Engine serializes ticks. A tick started while another runs waits for it.
type Engine struct {
	deps     Deps
	settings Settings
	lock     *risk.LockTracker

	mu   sync.Mutex
	last *Result
}

func New(deps Deps, s Settings) (*Engine, error) {
	if deps.Machine == nil {
		return nil, errors.New("engine: lifecycle machine is required")
	}
	if deps.VolDetector == nil {
		deps.VolDetector = regime.NewVolExpansionDetector("")
	}
	return &Engine{deps: deps, settings: s, lock: risk.NewLockTracker()}, nil
}

func (e *Engine) Machine() *lifecycle.Machine { return e.deps.Machine }

// Last returns the most recent tick result.
func (e *Engine) Last() (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.last != nil
}

// Tick evaluates one snapshot. Alert delivery failures are recorded on the result and
// never abort the tick; store failures do.
func (e *Engine) Tick(ctx context.Context, snap *market.Snapshot) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := market.InET(snap.Timestamp)
	if snap.Timestamp.IsZero() {
		now = market.InET(start)
	}
	res := &Result{
		TickID:    uuid.NewString(),
		Timestamp: now,
		Spot:      snap.Spot,
		Warnings:  append([]string(nil), snap.Warnings...),
		Alerts:    []AlertOutcome{},
	}

	if closed, err := e.deps.Machine.RollDate(ctx, now); err != nil {
		return nil, fmt.Errorf("tick roll date: %w", err)
	} else if len(closed) > 0 {
		for _, id := range closed {
			e.journal(outbox.Entry{Type: outbox.TypeTrade, TradeID: id, Action: "rollover_close", TickID: res.TickID}, nil)
		}
	}

	pc := e.marketContext(snap, now, res)

	open, err := e.deps.Machine.OpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick open trades: %w", err)
	}
	pc.OpenTrades = open
	pc.Exposure = risk.NewExposure(e.settings.Sleeve, open)
	res.Exposure = pc.Exposure
	if e.lock.Observe(pc.Exposure) {
		e.lockAlert(ctx, now, res)
	}

	zero := snap.ZeroDTE()
	eligible := func(k strategy.Kind, st strategy.SpreadType) (bool, string) {
		return regime.Allowed(k, st, pc.Regime)
	}
	in := strategy.Input{
		Now:          now,
		Spot:         snap.Spot,
		EMR:          pc.EMR,
		FullDayEM:    pc.FullDayEM,
		Options:      zero,
		Candles:      signals.SessionCandles(snap.Candles1m, now),
		Stats:        pc.Stats,
		TrendSlope:   pc.Slope,
		VIXChangePct: snap.VIXChangePct,
		Eligible:     eligible,
	}
	evals := []strategy.Evaluation{
		strategy.FindCondor(in, e.settings.Condor),
		strategy.FindFly(in, e.settings.Fly),
		strategy.FindDirectional(in, e.settings.Directional),
		strategy.FindConvex(in, e.settings.Convex),
	}
	res.Board = playbook.Build(evals, pc)

	for _, card := range res.Board.Cards {
		if err := e.entryTransition(ctx, res, pc, snap, lifecycle.StrategyKey(card.Kind), card.Ready, card.Candidate, card.Checklist()); err != nil {
			return nil, err
		}
	}

	res.BWB = e.evaluateBWB(snap, now, open)
	if err := e.entryTransition(ctx, res, pc, snap, lifecycle.StrategyBWB, res.BWB.Ready, res.BWB.Candidate, res.BWB.Checklist); err != nil {
		return nil, err
	}

	res.MultiDTE = e.evaluateMultiDTE(snap, now, pc)
	best, ok := firstReady(res.MultiDTE)
	if err := e.entryTransition(ctx, res, pc, snap, lifecycle.StrategyMultiDTE, ok, best.Candidate, best.Checklist); err != nil {
		return nil, err
	}

	if err := e.monitor(ctx, snap, now, pc, res); err != nil {
		return nil, err
	}

	e.last = res
	elapsed := time.Since(start)
	observ.RecordDuration("engine_tick_duration", elapsed, nil)
	observ.IncCounter("engine_ticks_total", nil)
	observ.Log("tick_complete", map[string]any{
		"tick_id":     res.TickID,
		"regime":      string(res.Regime),
		"ready":       readyKinds(res),
		"open_trades": len(open),
		"alerts":      len(res.Alerts),
		"warnings":    len(res.Warnings),
		"latency_ms":  elapsed.Milliseconds(),
	})
	return res, nil
}

// marketContext derives the tick signals and fills the market half of the playbook context.
func (e *Engine) marketContext(snap *market.Snapshot, now time.Time, res *Result) playbook.Context {
	iv := signals.NormalizeIV(snap.IV())
	emr := signals.EMR(snap.Spot, iv, signals.MinutesToClose(now))
	full := signals.FullDayEM(snap.Spot, iv)
	session := signals.SessionCandles(snap.Candles1m, now)
	stats := signals.IntradayStats(snap.Spot, emr, session)
	slope := signals.TrendSlope(session, signals.DefaultSlopeLookback)
	align := signals.Align(signals.TimeframeSlopes(session, slope))

	volFlag, volDetail, _ := e.deps.VolDetector.Detect(now, snap.ATMIV, snap.VIX)
	in := regime.NewInputs(emr, full, stats, slope, volFlag, align)
	r, reason := regime.Classify(in)
	conf := regime.Confidence(r, in)
	macroBlock, macroDetail := e.deps.Calendar.Block(now)
	priorHigh, priorLow := signals.PriorRange(session)

	if emr == nil {
		res.Warnings = append(res.Warnings, "EMR unavailable")
	}
	res.EMR, res.FullDayEM = emr, full
	res.Stats, res.Alignment = stats, align
	res.Regime, res.RegimeReason, res.Confidence = r, reason, conf
	res.VolExpansion, res.VolDetail = volFlag, volDetail
	res.MacroBlock, res.MacroDetail = macroBlock, macroDetail

	observ.SetGauge("engine_regime_confidence", conf.Score, map[string]string{"regime": string(r)})
	return playbook.Context{
		Now:            now,
		Spot:           snap.Spot,
		EMR:            emr,
		FullDayEM:      full,
		Stats:          stats,
		Slope:          slope,
		Alignment:      align,
		Regime:         r,
		RegimeReason:   reason,
		Confidence:     conf,
		VolExpansion:   volFlag,
		VolDetail:      volDetail,
		MacroBlock:     macroBlock,
		MacroDetail:    macroDetail,
		ChainLiquidity: signals.ChainLiquidityRatio(snap.ZeroDTE(), snap.Spot),
		PriorHigh:      priorHigh,
		PriorLow:       priorLow,
		Execution:      e.settings.Execution,
	}
}

func (e *Engine) evaluateBWB(snap *market.Snapshot, now time.Time, open []lifecycle.Trade) strategy.Evaluation {
	chain, _ := snap.NamedChain("bwb")
	committed := 0.0
	for _, t := range open {
		if lifecycle.NormalizeStrategy(t.Strategy) == lifecycle.StrategyBWB {
			committed += risk.TradeMaxRisk(t)
		}
	}
	major, labels := e.deps.Calendar.MajorEventDay(now)
	return strategy.FindBWB(strategy.BWBInput{
		Now:              now,
		Spot:             snap.Spot,
		Options:          chain.Options,
		Expiration:       chain.Expiration,
		IVRank:           snap.IVRank,
		MajorEvent:       major,
		MajorEventLabels: labels,
		AccountEquity:    e.settings.Sleeve.TotalAccount,
		OpenMarginRisk:   committed,
	}, e.settings.BWB)
}

func (e *Engine) evaluateMultiDTE(snap *market.Snapshot, now time.Time, pc playbook.Context) []strategy.Evaluation {
	out := make([]strategy.Evaluation, 0, len(e.settings.MultiDTE.TargetDTEs))
	for _, dte := range e.settings.MultiDTE.TargetDTEs {
		chain, _ := snap.Chain(dte)
		out = append(out, strategy.FindMultiDTE(strategy.MultiDTEInput{
			Now:             now,
			Spot:            snap.Spot,
			Candles:         snap.Candles1m,
			Options:         chain.Options,
			Expiration:      chain.Expiration,
			TargetDTE:       dte,
			CatalystBlocked: pc.MacroBlock,
			CatalystDetail:  pc.MacroDetail,
		}, e.settings.MultiDTE))
	}
	return out
}

func firstReady(evals []strategy.Evaluation) (strategy.Evaluation, bool) {
	for _, ev := range evals {
		if ev.Ready && ev.Candidate != nil {
			return ev, true
		}
	}
	return strategy.Evaluation{}, false
}

func readyKinds(res *Result) []string {
	var out []string
	for _, c := range res.Board.Cards {
		if c.Ready {
			out = append(out, string(c.Kind))
		}
	}
	if res.BWB.Ready {
		out = append(out, string(strategy.KindBWB))
	}
	if _, ok := firstReady(res.MultiDTE); ok {
		out = append(out, string(strategy.KindMultiDTE))
	}
	return out
}

// journal appends to the outbox when one is wired. Duplicates are expected on retries.
func (e *Engine) journal(entry outbox.Entry, data any) {
	if e.deps.Outbox == nil {
		return
	}
	if _, err := e.deps.Outbox.Append(entry, data); err != nil && !errors.Is(err, outbox.ErrDuplicate) {
		observ.Error("outbox_append_failed", err, map[string]any{"type": entry.Type, "trade_id": entry.TradeID})
	}
}
