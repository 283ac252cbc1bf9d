package strategy

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/decision"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

// Policy controls how borderline multi-DTE signals are treated.
type Policy string

const (
	PolicyHard Policy = "HARD" // reject borderline z-score and MACD disagreement
	PolicySoft Policy = "SOFT" // accept them with a ranking penalty
)

// ParsePolicy defaults to HARD for anything unrecognised.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToUpper(strings.TrimSpace(s))) == PolicySoft {
		return PolicySoft
	}
	return PolicyHard
}

type MultiDTESettings struct {
	Enabled             bool    `json:"enabled"`
	RequireMeasuredMove bool    `json:"require_measured_move"`
	AllowCatalyst       bool    `json:"allow_catalyst"`
	UseDeltaStop        bool    `json:"use_delta_stop"`
	Policy              Policy  `json:"policy"`
	SoftZFraction       float64 `json:"soft_z_fraction"` // borderline z accepted at this fraction of the threshold
	SoftPenalty         float64 `json:"soft_penalty"`
	TargetDTEs          []int   `json:"target_dtes"`
}

func DefaultMultiDTESettings() MultiDTESettings {
	return MultiDTESettings{
		Enabled:       true,
		UseDeltaStop:  true,
		Policy:        PolicyHard,
		SoftZFraction: 0.75,
		SoftPenalty:   0.5,
		TargetDTEs:    []int{2, 7, 14, 30, 45},
	}
}

type MultiDTEInput struct {
	Now               time.Time
	Spot              *float64
	Candles           []market.CandleBar // 1m bars across sessions
	Options           []market.OptionQuote
	Expiration        string
	TargetDTE         int
	NearestSupport    *float64
	NearestResistance *float64
	CatalystBlocked   bool
	CatalystDetail    string
}

// MultiDTEDetail carries the signal context and management plan of a multi-DTE spread.
type MultiDTEDetail struct {
	Profile         string  `json:"profile"`
	TargetDTE       int     `json:"target_dte"`
	SelectedDTE     int     `json:"selected_dte"`
	Direction       string  `json:"direction"`
	ZScore          float64 `json:"zscore"`
	IVATM           float64 `json:"iv_atm"`
	EM1SD           float64 `json:"em_1sd"`
	DistancePoints  float64 `json:"distance_points"`
	SDMultiple      float64 `json:"sd_multiple"`
	CreditPct       float64 `json:"credit_pct"`
	NetDelta        float64 `json:"net_delta"`
	NetGamma        float64 `json:"net_gamma"`
	NetTheta        float64 `json:"net_theta"`
	NetVega         float64 `json:"net_vega"`
	ProfitTakeDebit float64 `json:"profit_take_debit"`
	StopDebit       float64 `json:"stop_debit"`
	StopMultiple    float64 `json:"stop_multiple"`
	DeltaStop       float64 `json:"delta_stop"`
	UseDeltaStop    bool    `json:"use_delta_stop"`
	TimeStopDTE     int     `json:"time_stop_remaining_dte"`
	Penalty         float64 `json:"penalty"`
	RankScore       float64 `json:"rank_score"`
}

// MMC is the measured-move completion check.
type MMC struct {
	Pass             bool    `json:"pass"`
	Stretch          float64 `json:"stretch"`
	ZOK              bool    `json:"z_ok"`
	StretchOK        bool    `json:"stretch_ok"`
	MomentumOK       bool    `json:"momentum_ok"`
	ZSignOK          bool    `json:"z_sign_ok"`
	NotExtending     bool    `json:"not_still_extending"`
	ZThreshold       float64 `json:"z_threshold"`
	StretchThreshold float64 `json:"stretch_threshold"`
}

func (m MMC) String() string {
	okFail := func(b bool) string {
		if b {
			return "ok"
		}
		return "fail"
	}
	return fmt.Sprintf("stretch %.2f≥%.2f, |z| gate %s (>= %.2f), momentum %s, z-sign %s, deceleration %s",
		m.Stretch, m.StretchThreshold, okFail(m.ZOK), m.ZThreshold, okFail(m.MomentumOK), okFail(m.ZSignOK), okFail(m.NotExtending))
}

type mmcInput struct {
	spot, ema20, em1sd, z, hist, histPrev float64
	bullPut                               bool
	profile                               Profile
	prevSpot, prevEMA20                   float64
}

// MeasuredMoveCompletion confirms an overextended move is decelerating before fading it.
func measuredMoveCompletion(in mmcInput) MMC {
	m := MMC{ZThreshold: in.profile.ZThreshold, StretchThreshold: in.profile.MMCStretch}
	if in.em1sd <= 0 {
		return m
	}
	m.Stretch = math.Abs(in.spot-in.ema20) / in.em1sd
	m.ZOK = math.Abs(in.z) >= m.ZThreshold
	m.StretchOK = m.Stretch >= m.StretchThreshold
	if in.bullPut {
		m.MomentumOK = in.hist > in.histPrev
		m.ZSignOK = in.z <= 0
	} else {
		m.MomentumOK = in.hist < in.histPrev
		m.ZSignOK = in.z >= 0
	}
	m.NotExtending = true
	if in.profile.DTE <= 7 {
		m.NotExtending = math.Abs(in.spot-in.ema20) <= math.Abs(in.prevSpot-in.prevEMA20)
	}
	m.Pass = m.ZOK && m.StretchOK && m.MomentumOK && m.ZSignOK && m.NotExtending
	return m
}

type vertical struct {
	cand      *Candidate
	detail    MultiDTEDetail
	absDelta  float64
	netGamma  float64
	creditPct float64
}

// FindMultiDTE evaluates a short-dated credit spread for the profile nearest the target DTE.
func FindMultiDTE(in MultiDTEInput, s MultiDTESettings) Evaluation {
	p := ProfileFor(in.TargetDTE)
	selected := in.TargetDTE
	if d, ok := market.DaysBetween(in.Now, in.Expiration); ok {
		selected = max(0, d)
	}
	eval := func(cl decision.Checklist, metrics map[string]any, reasons ...string) Evaluation {
		e := notReady(KindMultiDTE, cl, reasons...)
		e.Metrics = withProfile(metrics, p, in.TargetDTE, selected)
		return e
	}

	cl := decision.Checklist{decision.Pass("Target DTE profile",
		fmt.Sprintf("target=%d, selected=%d, profile=%s", in.TargetDTE, selected, p.Name()))}
	if !s.Enabled {
		return eval(cl, nil, fmt.Sprintf("%d-DTE sleeve disabled.", in.TargetDTE))
	}
	if in.Spot == nil {
		cl = append(cl, decision.Fail("Spot available", "Missing SPX spot."))
		return eval(cl, nil, "Missing spot.")
	}
	if _, ok := market.ParseDate(in.Expiration); !ok {
		msg := fmt.Sprintf("No expiration near %d-DTE.", in.TargetDTE)
		cl = append(cl, decision.Fail("Target expiration available", msg))
		return eval(cl, nil, msg)
	}
	spot := *in.Spot

	if in.CatalystBlocked {
		detail := in.CatalystDetail
		if detail == "" {
			detail = "Known catalyst window active."
		}
		cl = append(cl, decision.NA("Catalyst filter", "Informational only: "+detail))
	} else {
		cl = append(cl, decision.Pass("Catalyst filter", "No active catalyst block."))
	}

	bars := signals.Aggregate30m(in.Candles)
	if len(bars) < p.Min30mBars {
		cl = append(cl, decision.Fail("30m data depth", fmt.Sprintf("Need >= %d bars, got %d", p.Min30mBars, len(bars))))
		return eval(cl, nil, "Insufficient 30m history.")
	}

	closes := signals.Closes(bars)
	ema8, ema20, ema21 := signals.EMA(closes, 8), signals.EMA(closes, 20), signals.EMA(closes, 21)
	macd, signal, hist := signals.MACD(closes)
	basis, sigma, ok := signals.StdChannel(closes, min(60, max(20, len(closes))))
	if !ok || sigma == 0 {
		cl = append(cl, decision.Fail("Indicators ready", "EMA/MACD/StdDev not available."))
		return eval(cl, nil, "Indicator computation failed.")
	}

	n := len(closes)
	cur, prev := closes[n-1], closes[max(0, n-2)]
	e8, e20, e21 := ema8[n-1], ema20[n-1], ema21[n-1]
	e20Prev := ema20[max(0, n-2)]
	slope := signals.Slope(ema21[max(0, n-6):])
	h, hPrev := hist[n-1], hist[max(0, n-2)]
	z := (cur - basis) / sigma
	mmLast, mmRatio := signals.MeasuredMove(closes)

	trendUp := e8 > e21 && slope > 0
	trendDown := e8 < e21 && slope < 0
	macdUp := h >= 0 || macd[n-1] > signal[n-1]
	macdDown := h <= 0 || macd[n-1] < signal[n-1]
	bullish, bearish := trendUp && macdUp, trendDown && macdDown
	cl = append(cl,
		decision.Checkf("Bullish regime", bullish,
			fmt.Sprintf("EMA8 %.2f > EMA21 %.2f, slope %+.4f", e8, e21, slope),
			fmt.Sprintf("EMA8 %.2f, EMA21 %.2f, slope %+.4f", e8, e21, slope)).Info(),
		decision.Checkf("Bearish regime", bearish,
			fmt.Sprintf("EMA8 %.2f < EMA21 %.2f, slope %+.4f", e8, e21, slope),
			fmt.Sprintf("EMA8 %.2f, EMA21 %.2f, slope %+.4f", e8, e21, slope)).Info(),
	)
	metrics := map[string]any{
		"ema8": e8, "ema20": e20, "ema21": e21, "ema21_slope": slope,
		"macd_hist": h, "macd_hist_prev": hPrev, "zscore": z,
		"measured_move": mmLast, "measured_ratio": mmRatio, "policy": string(s.Policy),
	}

	ivATM := signals.ATMIV(in.Options, spot, selected)
	if ivATM == nil || *ivATM <= 0 {
		cl = append(cl, decision.Fail("ATM IV available", "Unable to compute ATM IV for selected expiration."))
		if s.RequireMeasuredMove {
			cl = append(cl, decision.Fail("Measured move near completion", "ATM IV/EM unavailable for measured-move stretch check."))
		} else {
			cl = append(cl, decision.NA("Measured move near completion", "Disabled by user settings. ATM IV/EM unavailable."))
		}
		return eval(cl, metrics, "ATM IV unavailable.")
	}
	em1sd := spot * *ivATM * math.Sqrt(float64(max(1, selected))/365)
	cl = append(cl, decision.Pass("Expected move (1 SD)", fmt.Sprintf("EM_1SD %.2f pts (IV_ATM %.2f%%)", em1sd, *ivATM*100)))
	metrics["iv_atm"], metrics["em_1sd"] = *ivATM, em1sd

	support, resistance := supportResistance(bars, cur)
	if in.NearestSupport != nil {
		support = in.NearestSupport
	}
	if in.NearestResistance != nil {
		resistance = in.NearestResistance
	}
	metrics["support"], metrics["resistance"] = support, resistance

	direction, penalty := resolveDirection(s, p.ZThreshold, z, trendUp, trendDown, bullish, bearish)
	zDetail := fmt.Sprintf("z=%+.2f, threshold ±%.2f", z, p.ZThreshold)
	if penalty > 0 {
		zDetail += fmt.Sprintf(", soft penalty %.2f", penalty)
	}
	cl = append(cl, decision.Check("Std-dev channel edge", direction != "", zDetail))

	bullPut := direction == string(BullPutSpread)
	if direction == "" {
		bullPut = z <= 0
	}
	mmc := measuredMoveCompletion(mmcInput{
		spot: cur, ema20: e20, em1sd: em1sd, z: z, hist: h, histPrev: hPrev,
		bullPut: bullPut, profile: p, prevSpot: prev, prevEMA20: e20Prev,
	})
	metrics["measured_move_completion"], metrics["measured_move_pass"] = mmc.Stretch, mmc.Pass
	switch {
	case direction == "":
		cl = append(cl, decision.NA("Measured move near completion", "Awaiting directional edge. "+mmc.String()))
	case s.RequireMeasuredMove:
		cl = append(cl, decision.Check("Measured move near completion", mmc.Pass, mmc.String()))
	default:
		cl = append(cl, decision.NA("Measured move near completion", "Disabled by user settings. "+mmc.String()))
	}
	if direction == "" {
		cl = append(cl, decision.Fail("Direction resolved", "Neither bullish nor bearish DTE edge is active."))
		return eval(cl, metrics, "No trade: directional regime + zscore edge not aligned.")
	}
	metrics["direction"] = direction
	if s.RequireMeasuredMove && !mmc.Pass {
		return eval(cl, metrics, "Measured-move completion not confirmed for selected DTE.")
	}

	widths := p.Width.Choices(em1sd)
	cl = append(cl, decision.Pass("Width rule", "choices="+formatWidths(widths)))

	verticals := collectVerticals(in, p, bullPut, spot, em1sd, widths, support, resistance)
	if len(verticals) == 0 {
		cl = append(cl, decision.Fail("Spread candidate", "No spread matched delta/EM/width/credit/theta constraints."))
		return eval(cl, metrics, fmt.Sprintf("No %d-DTE spread matched strict criteria.", in.TargetDTE))
	}

	deltaMid := p.ShortDeltaBand.Mid()
	score := func(v vertical) float64 { return math.Abs(v.absDelta-deltaMid) + penalty*v.absDelta }
	best, _ := pickBest(verticals, func(v vertical) rankKey {
		key := rankKey{-score(v), v.creditPct}
		if selected <= 14 {
			key = append(key, -math.Abs(v.netGamma))
		}
		return key
	})

	c, d := best.cand, best.detail
	d.Profile, d.TargetDTE, d.SelectedDTE, d.Direction = p.Name(), in.TargetDTE, selected, direction
	d.ZScore, d.IVATM, d.EM1SD = z, *ivATM, em1sd
	d.ProfitTakeDebit = round4(p.ProfitTakeDebit(c.Credit))
	d.StopMultiple = p.StopMult
	d.StopDebit = round4(c.Credit * p.StopMult)
	d.DeltaStop, d.UseDeltaStop, d.TimeStopDTE = p.DeltaStop, s.UseDeltaStop, p.TimeStopDTE
	d.Penalty, d.RankScore = penalty, score(best)
	c.MultiDTE = &d
	c.DTE = selected
	c.Expiration = in.Expiration
	c.ID = CandidateID(in.TargetDTE, direction, in.Expiration, c)

	shortLeg, _ := c.Leg(Sell, c.Legs[0].Right)
	cl = append(cl,
		decision.Pass("Candidate selected", fmt.Sprintf("%s | Δ %+.3f | width %s", c.SpreadType.Title(), deref(shortLeg.Delta), formatStrike(*c.Width))),
		decision.Pass("Credit/width band", fmt.Sprintf("%.3f in [%.2f, %.2f]", d.CreditPct, p.CreditPctWidth[0], p.CreditPctWidth[1])),
		decision.Pass("Spread net theta > 0", fmt.Sprintf("net_theta=%+.4f", d.NetTheta)),
		decision.Pass("Spread Greeks", fmt.Sprintf("Δ %+.4f, Γ %+.6f, Θ %+.4f, ν %+.4f", d.NetDelta, d.NetGamma, d.NetTheta, d.NetVega)),
	)
	metrics["sd_multiple"] = d.SDMultiple
	out := ready(KindMultiDTE, c, cl)
	out.Metrics = withProfile(metrics, p, in.TargetDTE, selected)
	return out
}

// resolveDirection returns the spread type and a ranking penalty. SOFT mode admits a
// borderline z-score or a MACD disagreement at the cost of the penalty.
func resolveDirection(s MultiDTESettings, zThr, z float64, trendUp, trendDown, bullish, bearish bool) (string, float64) {
	switch {
	case bullish && z <= -zThr:
		return string(BullPutSpread), 0
	case bearish && z >= zThr:
		return string(BearCallSpread), 0
	}
	if s.Policy != PolicySoft {
		return "", 0
	}
	softThr := zThr * s.SoftZFraction
	var penalty float64
	switch {
	case trendUp && z <= -softThr:
		if !bullish {
			penalty += s.SoftPenalty
		}
		if z > -zThr {
			penalty += s.SoftPenalty * (1 - math.Abs(z)/zThr)
		}
		return string(BullPutSpread), penalty
	case trendDown && z >= softThr:
		if !bearish {
			penalty += s.SoftPenalty
		}
		if z < zThr {
			penalty += s.SoftPenalty * (1 - math.Abs(z)/zThr)
		}
		return string(BearCallSpread), penalty
	}
	return "", 0
}

func collectVerticals(in MultiDTEInput, p Profile, bullPut bool, spot, em1sd float64, widths []float64, support, resistance *float64) []vertical {
	right, spreadType := market.Call, BearCallSpread
	if bullPut {
		right, spreadType = market.Put, BullPutSpread
	}
	srBuffer := p.SRBufferEMMult * em1sd
	ix := market.NewIndex(in.Options)

	var out []vertical
	for _, short := range in.Options {
		if short.Expiration != in.Expiration || short.Right != right || short.Mid == nil || short.Delta == nil {
			continue
		}
		absDelta := math.Abs(*short.Delta)
		if !p.ShortDeltaBand.Contains(absDelta) {
			continue
		}
		var dist float64
		if bullPut {
			if short.Strike >= spot {
				continue
			}
			dist = spot - short.Strike
			if support != nil && !(short.Strike < *support-srBuffer) {
				continue
			}
		} else {
			if short.Strike <= spot {
				continue
			}
			dist = short.Strike - spot
			if resistance != nil && !(short.Strike > *resistance+srBuffer) {
				continue
			}
		}
		if em1sd <= 0 {
			continue
		}
		sdMultiple := dist / em1sd
		if dist < p.DistVsEM[0]*em1sd || dist > p.DistVsEM[1]*em1sd || !p.SDMultiple.Contains(sdMultiple) {
			continue
		}
		for _, w := range widths {
			longStrike := short.Strike + w
			if bullPut {
				longStrike = short.Strike - w
			}
			long, ok := ix.GetExpiry(right, longStrike, in.Expiration)
			if !ok || long.Mid == nil || long.Delta == nil {
				continue
			}
			credit := *short.Mid - *long.Mid
			if credit <= 0 {
				continue
			}
			creditPct := credit / w
			if !p.CreditPctWidth.Contains(creditPct) {
				continue
			}
			liq, ok := maxLegLiquidity(short, long)
			if !ok || liq > p.MaxLiquidity {
				continue
			}
			if !short.HasGreeks() || !long.HasGreeks() {
				continue
			}
			netTheta := -*short.Theta + *long.Theta
			if netTheta <= 0 {
				continue
			}
			maxLoss := w - credit
			if maxLoss <= 0 {
				continue
			}
			out = append(out, vertical{
				cand: &Candidate{
					Kind:            KindMultiDTE,
					SpreadType:      spreadType,
					Legs:            []Leg{legFrom(Sell, short, 1), legFrom(Buy, long, 1)},
					Width:           widthPtr(w),
					Credit:          credit,
					MaxLossPoints:   maxLoss,
					MaxLossDollars:  maxLoss * ContractMultiplier,
					PopDelta:        signals.PopDeltaSingle(*short.Delta),
					LiquidityRatio:  liq,
					CreditToMaxLoss: credit / maxLoss,
				},
				detail: MultiDTEDetail{
					DistancePoints: dist,
					SDMultiple:     sdMultiple,
					CreditPct:      creditPct,
					NetDelta:       -*short.Delta + *long.Delta,
					NetGamma:       -*short.Gamma + *long.Gamma,
					NetTheta:       netTheta,
					NetVega:        -*short.Vega + *long.Vega,
				},
				absDelta:  absDelta,
				netGamma:  -*short.Gamma + *long.Gamma,
				creditPct: creditPct,
			})
		}
	}
	return out
}

// supportResistance takes the nearest 30m low at or below close and high at or above it over the last 40 bars.
func supportResistance(bars []market.CandleBar, close float64) (support, resistance *float64) {
	recent := bars[max(0, len(bars)-40):]
	for _, b := range recent {
		if b.Low <= close && (support == nil || b.Low > *support) {
			support = ptr(b.Low)
		}
		if b.High >= close && (resistance == nil || b.High < *resistance) {
			resistance = ptr(b.High)
		}
	}
	return support, resistance
}

// CandidateID is a stable identifier for a multi-DTE recommendation.
func CandidateID(targetDTE int, direction, expiry string, c *Candidate) string {
	short, long := c.VerticalStrikes()
	width := 0
	if c.Width != nil {
		width = int(*c.Width)
	}
	raw := fmt.Sprintf("%d|%s|%s|%.2f|%.2f|%d", targetDTE, strings.ToUpper(direction), expiry, short, long, width)
	sum := sha1.Sum([]byte(raw))
	return "cand_" + hex.EncodeToString(sum[:])[:16]
}

func withProfile(metrics map[string]any, p Profile, target, selected int) map[string]any {
	out := map[string]any{"config_profile": p.Name(), "target_dte": target, "selected_dte": selected}
	for k, v := range metrics {
		out[k] = v
	}
	return out
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
