package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
)

type AdjustmentMode string

const (
	AdjustNone            AdjustmentMode = "NONE"
	AdjustRoll            AdjustmentMode = "ROLL"
	AdjustConvertVertical AdjustmentMode = "CONVERT_VERTICAL"
)

// BWBSettings drive the broken-wing put butterfly sleeve. JSON keys match the settings file.
type BWBSettings struct {
	Enabled                  bool           `json:"enabled"`
	TargetDTE                int            `json:"target_dte"`
	MinDTE                   int            `json:"min_dte"`
	MaxDTE                   int            `json:"max_dte"`
	IVRankThreshold          float64        `json:"iv_rank_threshold"`
	ShortDeltaMin            float64        `json:"short_delta_min"`
	ShortDeltaMax            float64        `json:"short_delta_max"`
	NearLongDeltaTarget      float64        `json:"near_long_delta_target"`
	NearLongDeltaTolerance   float64        `json:"near_long_delta_tolerance"`
	FarLongDeltaMax          float64        `json:"far_long_delta_max"`
	NarrowWingMin            float64        `json:"narrow_wing_min"`
	NarrowWingMax            float64        `json:"narrow_wing_max"`
	WideToNarrowMinRatio     float64        `json:"wide_to_narrow_min_ratio"`
	MinCreditPerNarrow       float64        `json:"min_credit_per_narrow"`
	MaxRiskPctAccount        float64        `json:"max_risk_pct_account"`
	MaxTotalMarginPctAccount float64        `json:"max_total_margin_pct_account"`
	ProfitTakeCreditFrac     float64        `json:"profit_take_credit_frac"`
	ProfitTakeWidthFrac      float64        `json:"profit_take_width_frac"`
	StopLossCreditFrac       float64        `json:"stop_loss_credit_frac"`
	ExitDTE                  int            `json:"exit_dte"`
	DeltaAlertThreshold      float64        `json:"delta_alert_threshold"`
	GammaAlertThreshold      float64        `json:"gamma_alert_threshold"`
	AllowAdjustments         bool           `json:"allow_adjustments"`
	AdjustmentMode           AdjustmentMode `json:"adjustment_mode"`
}

func DefaultBWBSettings() BWBSettings {
	return BWBSettings{
		Enabled:                  true,
		TargetDTE:                21,
		MinDTE:                   14,
		MaxDTE:                   30,
		IVRankThreshold:          50,
		ShortDeltaMin:            0.28,
		ShortDeltaMax:            0.30,
		NearLongDeltaTarget:      0.32,
		NearLongDeltaTolerance:   0.04,
		FarLongDeltaMax:          0.20,
		NarrowWingMin:            5,
		NarrowWingMax:            10,
		WideToNarrowMinRatio:     2,
		MinCreditPerNarrow:       0.10,
		MaxRiskPctAccount:        0.01,
		MaxTotalMarginPctAccount: 0.12,
		ProfitTakeCreditFrac:     0.50,
		ProfitTakeWidthFrac:      0.02,
		StopLossCreditFrac:       0.50,
		ExitDTE:                  7,
		DeltaAlertThreshold:      0.50,
		GammaAlertThreshold:      0.08,
		AdjustmentMode:           AdjustNone,
	}
}

// Clamp applies the floors the settings file is allowed to express.
func (s BWBSettings) Clamp() BWBSettings {
	s.TargetDTE = max(7, s.TargetDTE)
	s.MinDTE = max(7, s.MinDTE)
	s.MaxDTE = max(8, s.MaxDTE)
	s.ExitDTE = max(3, s.ExitDTE)
	s.AdjustmentMode = AdjustmentMode(strings.ToUpper(string(s.AdjustmentMode)))
	if s.AdjustmentMode == "" {
		s.AdjustmentMode = AdjustNone
	}
	return s
}

// ProfitTargetDebit is the close-out debit at which the position is taken off for profit.
func (s BWBSettings) ProfitTargetDebit(credit, narrow float64) float64 {
	return math.Max(s.ProfitTakeCreditFrac*credit, s.ProfitTakeWidthFrac*narrow)
}

func (s BWBSettings) StopLossDebit(credit float64) float64 {
	return credit * (1 + s.StopLossCreditFrac)
}

// BWBDetail is the structure-specific part of a broken-wing butterfly candidate.
type BWBDetail struct {
	ShortStrike       float64 `json:"short_put_strike"`
	NearLongStrike    float64 `json:"long_put_strike"`
	FarLongStrike     float64 `json:"far_long_put_strike"`
	ShortSymbol       string  `json:"short_symbol"`
	NearLongSymbol    string  `json:"near_long_symbol"`
	FarLongSymbol     string  `json:"far_long_symbol"`
	ShortDelta        float64 `json:"short_delta"`
	NarrowWidth       float64 `json:"narrow_wing_width"`
	WideWidth         float64 `json:"wide_wing_width"`
	ProfitTargetDebit float64 `json:"profit_target_debit"`
	StopLossDebit     float64 `json:"stop_loss_debit"`
	ExitDTE           int     `json:"exit_dte"`
}

type BWBInput struct {
	Now              time.Time
	Spot             *float64
	Options          []market.OptionQuote
	Expiration       string // YYYY-MM-DD, empty when no slice was delivered
	IVRank           *float64
	MajorEvent       bool
	MajorEventLabels []string
	AccountEquity    float64
	OpenMarginRisk   float64 // dollars already committed to open BWBs
}

// FindBWB evaluates the broken-wing put butterfly sleeve for the configured expiration.
func FindBWB(in BWBInput, s BWBSettings) Evaluation {
	if !s.Enabled {
		return notReady(KindBWB, nil, "BWB sleeve disabled.")
	}
	var cl decision.Checklist
	if in.Spot == nil {
		cl = append(cl, decision.Fail("Spot available", "Missing SPX spot."))
		return notReady(KindBWB, cl, "Missing spot.")
	}
	dte, ok := market.DaysBetween(in.Now, in.Expiration)
	if !ok {
		cl = append(cl, decision.Fail("Target expiration available", fmt.Sprintf("No %d-%d DTE expiration available.", s.MinDTE, s.MaxDTE)))
		return notReady(KindBWB, cl, "No BWB expiration available.")
	}

	window := fmt.Sprintf("DTE window (%d-%d)", s.MinDTE, s.MaxDTE)
	cl = append(cl,
		decision.Checkf(window, dte >= s.MinDTE && dte <= s.MaxDTE,
			fmt.Sprintf("%d DTE", dte), fmt.Sprintf("%d DTE outside [%d, %d]", dte, s.MinDTE, s.MaxDTE)),
		decision.Checkf(fmt.Sprintf("Not inside %d DTE", s.ExitDTE), dte > s.ExitDTE,
			fmt.Sprintf("%d DTE", dte), fmt.Sprintf("%d DTE <= %d", dte, s.ExitDTE)),
	)
	if in.MajorEvent {
		detail := "Major event day block."
		if len(in.MajorEventLabels) > 0 {
			detail = strings.Join(in.MajorEventLabels, ", ")
		}
		cl = append(cl, decision.Fail("No major macro event day", detail))
	} else {
		cl = append(cl, decision.Pass("No major macro event day", "No major macro event configured for today."))
	}
	switch {
	case in.IVRank == nil:
		cl = append(cl, decision.Fail("IV Rank >= threshold", "IV Rank unavailable."))
	case *in.IVRank >= s.IVRankThreshold:
		cl = append(cl, decision.Pass("IV Rank >= threshold", fmt.Sprintf("%.1f%% >= %.1f%%", *in.IVRank, s.IVRankThreshold)))
	default:
		cl = append(cl, decision.Fail("IV Rank >= threshold", fmt.Sprintf("%.1f%% < %.1f%%", *in.IVRank, s.IVRankThreshold)))
	}
	if !cl.Ready() {
		return notReady(KindBWB, cl, firstFailDetail(cl))
	}

	var puts []market.OptionQuote
	for _, o := range in.Options {
		if o.Expiration == in.Expiration && o.Right == market.Put && o.Delta != nil && o.Bid != nil && o.Ask != nil && o.Mid != nil {
			puts = append(puts, o)
		}
	}
	if len(puts) == 0 {
		cl = append(cl, decision.Fail("Option chain quality", "No usable put options for target expiration."))
		return notReady(KindBWB, cl, firstFailDetail(cl))
	}

	best := selectBWB(*in.Spot, puts, s, in.AccountEquity, in.OpenMarginRisk)
	if best == nil {
		cl = append(cl,
			decision.Fail("Short put delta 0.28-0.30", "No short put matched required delta band."),
			decision.Fail("Narrow wing width 5-10", "No near long put matched 32Δ profile and width limits."),
			decision.Fail("Wide wing >= 2x narrow", "No far long put matched 20Δ-or-lower and width ratio."),
			decision.Fail("Credit >= 0.10 × narrow width", "No net credit candidate met threshold."),
			decision.Fail("Risk <= 1% account", "No candidate passed account risk cap."),
		)
		return notReady(KindBWB, cl, "No BWB candidate matched strict filters.")
	}

	d := best.BWB
	projected := in.OpenMarginRisk + best.MaxLossDollars
	marginCap := s.MaxTotalMarginPctAccount * in.AccountEquity
	cl = append(cl,
		decision.Pass("Short put delta 0.28-0.30", fmt.Sprintf("%+.2f", d.ShortDelta)),
		decision.Pass("Narrow wing width 5-10", fmt.Sprintf("%.1f points", d.NarrowWidth)),
		decision.Pass("Wide wing >= 2x narrow", fmt.Sprintf("%.1f >= %.2f x %.1f", d.WideWidth, s.WideToNarrowMinRatio, d.NarrowWidth)),
		decision.Pass("Credit >= 0.10 × narrow width", fmt.Sprintf("%.2f >= %.2f", best.Credit, s.MinCreditPerNarrow*d.NarrowWidth)),
		decision.Pass("Risk <= 1% account", fmt.Sprintf("$%.2f <= $%.2f", best.MaxLossDollars, s.MaxRiskPctAccount*in.AccountEquity)),
		decision.Checkf("Total margin exposure within cap", projected <= marginCap,
			fmt.Sprintf("$%.2f <= $%.2f", projected, marginCap), fmt.Sprintf("$%.2f > $%.2f", projected, marginCap)),
	)
	best.DTE = dte
	if !cl.Ready() {
		return notReady(KindBWB, cl, firstFailDetail(cl))
	}
	return ready(KindBWB, best, cl)
}

func firstFailDetail(cl decision.Checklist) string {
	if g, ok := cl.FirstRequiredFail(); ok {
		if g.Detail != "" {
			return g.Detail
		}
		return g.Name
	}
	return "Blocked"
}

func selectBWB(spot float64, puts []market.OptionQuote, s BWBSettings, equity, openRisk float64) *Candidate {
	nearMin := math.Max(0.01, s.NearLongDeltaTarget-s.NearLongDeltaTolerance)
	nearMax := s.NearLongDeltaTarget + s.NearLongDeltaTolerance
	perTradeCap := s.MaxRiskPctAccount * equity
	marginCap := s.MaxTotalMarginPctAccount * equity

	var best *Candidate
	var bestKey rankKey
	for _, short := range puts {
		sd := math.Abs(*short.Delta)
		if short.Strike >= spot || sd < s.ShortDeltaMin || sd > s.ShortDeltaMax {
			continue
		}
		var nears, fars []market.OptionQuote
		for _, p := range puts {
			ad := math.Abs(*p.Delta)
			narrow := p.Strike - short.Strike
			if p.Strike > short.Strike && ad >= nearMin && ad <= nearMax && narrow >= s.NarrowWingMin && narrow <= s.NarrowWingMax {
				nears = append(nears, p)
			}
			if p.Strike < short.Strike && ad <= s.FarLongDeltaMax {
				fars = append(fars, p)
			}
		}
		for _, near := range nears {
			narrow := near.Strike - short.Strike
			for _, far := range fars {
				wide := short.Strike - far.Strike
				if wide < s.WideToNarrowMinRatio*narrow {
					continue
				}
				credit := 2**short.Bid - *near.Ask - *far.Ask
				if credit <= 0 || credit < s.MinCreditPerNarrow*narrow {
					continue
				}
				riskPoints := (wide - narrow) - credit
				if riskPoints <= 0 {
					continue
				}
				riskDollars := riskPoints * ContractMultiplier
				if riskDollars > perTradeCap || openRisk+riskDollars > marginCap {
					continue
				}
				liq, ok := maxLegLiquidity(short, near, far)
				if !ok {
					continue
				}
				key := rankKey{credit, -narrow, -wide, -liq, -math.Abs(sd - 0.29)}
				if best != nil && !key.greater(bestKey) {
					continue
				}
				nearLeg, shortLeg, farLeg := legFrom(Buy, near, 1), legFrom(Sell, short, 2), legFrom(Buy, far, 1)
				nearLeg.Premium, shortLeg.Premium, farLeg.Premium = near.Ask, short.Bid, far.Ask
				best = &Candidate{
					Kind:           KindBWB,
					SpreadType:     BrokenWingPut,
					Legs:           []Leg{nearLeg, shortLeg, farLeg},
					Credit:         credit,
					MaxLossPoints:  riskPoints,
					MaxLossDollars: riskDollars,
					LiquidityRatio: liq,
					Expiration:     short.Expiration,
					BWB: &BWBDetail{
						ShortStrike:       short.Strike,
						NearLongStrike:    near.Strike,
						FarLongStrike:     far.Strike,
						ShortSymbol:       short.Symbol,
						NearLongSymbol:    near.Symbol,
						FarLongSymbol:     far.Symbol,
						ShortDelta:        *short.Delta,
						NarrowWidth:       narrow,
						WideWidth:         wide,
						ProfitTargetDebit: s.ProfitTargetDebit(credit, narrow),
						StopLossDebit:     s.StopLossDebit(credit),
						ExitDTE:           s.ExitDTE,
					},
				}
				bestKey = key
			}
		}
	}
	return best
}

func maxLegLiquidity(legs ...market.OptionQuote) (float64, bool) {
	worst := 0.0
	for _, l := range legs {
		if l.Bid == nil || l.Ask == nil || l.Mid == nil || *l.Mid == 0 {
			return 0, false
		}
		worst = math.Max(worst, math.Max(0, (*l.Ask-*l.Bid) / *l.Mid))
	}
	return worst, true
}
