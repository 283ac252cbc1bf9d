package signals

import (
	"math"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

const (
	MinutesPerYear = 525600.0
	SessionMinutes = 390.0
)

// MinutesToClose returns minutes until 16:00 ET, floored at zero.
func MinutesToClose(now time.Time) float64 {
	closeAt := market.At(now, 16, 0)
	if !now.Before(closeAt) {
		return 0
	}
	return math.Max(0, closeAt.Sub(now).Minutes())
}

// EMR is the expected move remaining in points until the close.
func EMR(spot, iv *float64, minutesRemaining float64) *float64 {
	if spot == nil || iv == nil || *spot <= 0 || *iv <= 0 || minutesRemaining <= 0 {
		return nil
	}
	v := *spot * *iv * math.Sqrt(minutesRemaining/MinutesPerYear)
	return &v
}

// FullDayEM is the expected move over one full session.
func FullDayEM(spot, iv *float64) *float64 {
	return EMR(spot, iv, SessionMinutes)
}

// NormalizeIV accepts decimal (0.18) or percent (18.0) volatility and clamps to [0.01, 2.5].
func NormalizeIV(iv *float64) *float64 {
	if iv == nil || math.IsNaN(*iv) || math.IsInf(*iv, 0) || *iv <= 0 {
		return nil
	}
	v := *iv
	if v > 3.0 {
		v /= 100
	}
	v = clamp(v, 0.01, 2.5)
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
