package signals

import (
	"fmt"
	"strings"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

const (
	TF1m30m  = "1m_30m"
	TF5m30m  = "5m_30m"
	TF15m90m = "15m_90m"
)

// timeframeThresholds is ordered; the vote summary follows this order.
var timeframeThresholds = []struct {
	key       string
	threshold float64
}{
	{TF1m30m, 0.20},
	{TF5m30m, 0.15},
	{TF15m90m, 0.10},
}

type Direction string

const (
	DirUp      Direction = "UP"
	DirDown    Direction = "DOWN"
	DirMixed   Direction = "MIXED"
	DirUnknown Direction = "UNKNOWN"
)

// Slopes holds the per-timeframe slopes in points per minute.
type Slopes map[string]*float64

// SlopeForTimeframe samples every interval-th close of the last lookback bars and
// returns the regression slope scaled back to points per minute.
func SlopeForTimeframe(candles []market.CandleBar, interval, lookback int) *float64 {
	if interval <= 1 {
		return TrendSlope(candles, lookback)
	}
	if len(candles) < lookback {
		return nil
	}
	window := candles[len(candles)-lookback:]
	var sampled []float64
	for i := interval - 1; i < len(window); i += interval {
		sampled = append(sampled, window[i].Close)
	}
	last := window[len(window)-1].Close
	if len(sampled) > 0 && sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}
	if len(sampled) < 4 {
		return nil
	}
	s := LinRegSlope(sampled)
	if s == nil {
		return nil
	}
	return ptr(*s / float64(interval))
}

// TimeframeSlopes computes the 1m/5m/15m slopes; base1m is reused when already computed.
func TimeframeSlopes(candles []market.CandleBar, base1m *float64) Slopes {
	return Slopes{
		TF1m30m:  base1m,
		TF5m30m:  SlopeForTimeframe(candles, 5, 30),
		TF15m90m: SlopeForTimeframe(candles, 15, 90),
	}
}

// Alignment is the multi-timeframe trend vote.
type Alignment struct {
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"`
	Aligned   bool      `json:"aligned"`
	Available int       `json:"available"`
	UpVotes   int       `json:"up_votes"`
	DownVotes int       `json:"down_votes"`
	Neutral   int       `json:"neutral_votes"`
	Summary   string    `json:"summary"`
}

func Align(slopes Slopes) Alignment {
	var a Alignment
	details := make([]string, 0, len(timeframeThresholds))
	for _, tf := range timeframeThresholds {
		s := slopes[tf.key]
		if s == nil {
			details = append(details, tf.key+"=n/a")
			continue
		}
		a.Available++
		switch {
		case *s >= tf.threshold:
			a.UpVotes++
			details = append(details, fmt.Sprintf("%s=%+.3f↑", tf.key, *s))
		case *s <= -tf.threshold:
			a.DownVotes++
			details = append(details, fmt.Sprintf("%s=%+.3f↓", tf.key, *s))
		default:
			a.Neutral++
			details = append(details, fmt.Sprintf("%s=%+.3f~", tf.key, *s))
		}
	}

	dominant := max(a.UpVotes, a.DownVotes)
	if a.Available > 0 {
		a.Score = float64(dominant) / float64(a.Available)
	}
	switch {
	case a.Available >= 2 && dominant >= 2 && a.Score >= 0.67:
		if a.UpVotes > a.DownVotes {
			a.Direction = DirUp
		} else {
			a.Direction = DirDown
		}
	case a.Available == 0:
		a.Direction = DirUnknown
	default:
		a.Direction = DirMixed
	}
	a.Aligned = a.Direction == DirUp || a.Direction == DirDown
	a.Summary = strings.Join(details, ", ")
	if a.Summary == "" {
		a.Summary = "No slope samples."
	}
	return a
}
