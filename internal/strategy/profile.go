package strategy

import (
	"math"
	"sort"
	"strconv"
)

// Band is an inclusive [lo, hi] range.
type Band [2]float64

func (b Band) Contains(v float64) bool { return v >= b[0] && v <= b[1] }
func (b Band) Mid() float64            { return (b[0] + b[1]) / 2 }

// WidthRule either scales with the expected move or offers fixed choices.
type WidthRule struct {
	Fixed    []float64 `json:"fixed,omitempty"`
	Fraction float64   `json:"fraction,omitempty"`
	RoundTo  float64   `json:"round_to,omitempty"`
	Min      float64   `json:"min,omitempty"`
	Max      float64   `json:"max,omitempty"`
}

// Choices returns the candidate widths for a one-sigma expected move, ascending.
func (r WidthRule) Choices(em1sd float64) []float64 {
	set := map[float64]struct{}{}
	if len(r.Fixed) > 0 {
		for _, w := range r.Fixed {
			if w > 0 {
				set[math.Trunc(w)] = struct{}{}
			}
		}
		return sortedKeys(set)
	}
	raw := em1sd * r.Fraction
	var base float64
	if r.RoundTo > 0 {
		base = math.RoundToEven(raw/r.RoundTo) * r.RoundTo
	} else {
		base = math.RoundToEven(raw)
	}
	clampW := func(v float64) float64 { return math.Min(r.Max, math.Max(r.Min, v)) }
	base = clampW(base)
	set[base] = struct{}{}
	if r.RoundTo > 0 {
		set[clampW(base-r.RoundTo)] = struct{}{}
		set[clampW(base+r.RoundTo)] = struct{}{}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		if k > 0 {
			out = append(out, k)
		}
	}
	sort.Float64s(out)
	return out
}

// Profile is the per-DTE parameter set for multi-day credit spreads.
type Profile struct {
	DTE            int       `json:"dte"`
	Min30mBars     int       `json:"min_30m_bars"`
	ShortDeltaBand Band      `json:"short_abs_delta_band"`
	SDMultiple     Band      `json:"target_sd_multiple"`
	DistVsEM       Band      `json:"strike_dist_vs_em"`
	Width          WidthRule `json:"width_rule"`
	CreditPctWidth Band      `json:"credit_pct_width"`
	ZThreshold     float64   `json:"z_threshold"`
	SRBufferEMMult float64   `json:"sr_buffer_em_mult"`
	ProfitTakePct  float64   `json:"profit_take_pct_credit"`
	BuybackAbs     *float64  `json:"profit_take_buyback_abs,omitempty"`
	StopMult       float64   `json:"stop_mult_credit"`
	DeltaStop      float64   `json:"delta_stop_abs"`
	TimeStopDTE    int       `json:"time_stop_remaining_dte"`
	MMCStretch     float64   `json:"mmc_stretch"`
	MaxLiquidity   float64   `json:"max_liquidity"`
}

func (p Profile) Name() string { return strconv.Itoa(p.DTE) + "-DTE" }

// Profiles are ordered by DTE.
var Profiles = []Profile{
	{
		DTE: 2, Min30mBars: 26,
		ShortDeltaBand: Band{0.03, 0.07}, SDMultiple: Band{1.80, 2.30}, DistVsEM: Band{1.60, 3.00},
		Width:          WidthRule{Fixed: []float64{5, 10}},
		CreditPctWidth: Band{0.05, 0.12}, ZThreshold: 1.25, SRBufferEMMult: 0.45,
		ProfitTakePct: 0.85, BuybackAbs: ptr(0.05), StopMult: 1.25, DeltaStop: 0.22, TimeStopDTE: 1,
		MMCStretch: 1.90, MaxLiquidity: 0.30,
	},
	{
		DTE: 7, Min30mBars: 52,
		ShortDeltaBand: Band{0.06, 0.12}, SDMultiple: Band{1.60, 2.00}, DistVsEM: Band{1.40, 2.30},
		Width:          WidthRule{Fraction: 0.07, RoundTo: 5, Min: 5, Max: 15},
		CreditPctWidth: Band{0.08, 0.15}, ZThreshold: 1.15, SRBufferEMMult: 0.35,
		ProfitTakePct: 0.70, StopMult: 1.5, DeltaStop: 0.26, TimeStopDTE: 3,
		MMCStretch: 1.55, MaxLiquidity: 0.30,
	},
	{
		DTE: 14, Min30mBars: 78,
		ShortDeltaBand: Band{0.12, 0.20}, SDMultiple: Band{1.25, 1.60}, DistVsEM: Band{1.10, 1.80},
		Width:          WidthRule{Fraction: 0.08, RoundTo: 5, Min: 10, Max: 25},
		CreditPctWidth: Band{0.10, 0.20}, ZThreshold: 1.00, SRBufferEMMult: 0.30,
		ProfitTakePct: 0.55, StopMult: 1.8, DeltaStop: 0.32, TimeStopDTE: 7,
		MMCStretch: 1.25, MaxLiquidity: 0.30,
	},
	{
		DTE: 30, Min30mBars: 104,
		ShortDeltaBand: Band{0.16, 0.26}, SDMultiple: Band{1.0, 1.35}, DistVsEM: Band{0.90, 1.50},
		Width:          WidthRule{Fraction: 0.09, RoundTo: 5, Min: 10, Max: 30},
		CreditPctWidth: Band{0.12, 0.25}, ZThreshold: 0.90, SRBufferEMMult: 0.25,
		ProfitTakePct: 0.50, StopMult: 2.0, DeltaStop: 0.35, TimeStopDTE: 15,
		MMCStretch: 1.00, MaxLiquidity: 0.30,
	},
	{
		DTE: 45, Min30mBars: 130,
		ShortDeltaBand: Band{0.18, 0.28}, SDMultiple: Band{0.9, 1.2}, DistVsEM: Band{0.80, 1.35},
		Width:          WidthRule{Fraction: 0.10, RoundTo: 5, Min: 15, Max: 35},
		CreditPctWidth: Band{0.15, 0.30}, ZThreshold: 0.80, SRBufferEMMult: 0.20,
		ProfitTakePct: 0.50, StopMult: 2.0, DeltaStop: 0.40, TimeStopDTE: 21,
		MMCStretch: 0.85, MaxLiquidity: 0.30,
	},
}

// ProfileFor picks the profile nearest the target DTE; ties go to the shorter profile.
func ProfileFor(targetDTE int) Profile {
	best := Profiles[0]
	for _, p := range Profiles[1:] {
		if absInt(p.DTE-targetDTE) < absInt(best.DTE-targetDTE) {
			best = p
		}
	}
	return best
}

// ProfitTakeDebit is the buyback debit that realizes the profile's profit target.
func (p Profile) ProfitTakeDebit(credit float64) float64 {
	debit := credit * (1 - p.ProfitTakePct)
	if p.BuybackAbs != nil {
		debit = math.Min(debit, *p.BuybackAbs)
	}
	return debit
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func ptr(v float64) *float64 { return &v }
