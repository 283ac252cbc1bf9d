package execution

import (
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// BucketAt maps the ET clock to a liquidity bucket.
func BucketAt(now time.Time) Bucket {
	et := market.InET(now)
	minutes := et.Hour()*60 + et.Minute()
	switch {
	case minutes <= 10*60+45:
		return BucketOpen
	case minutes <= 12*60+30:
		return BucketMidday
	case minutes <= 14*60+30:
		return BucketLate
	}
	return BucketClose
}

// Multiplier returns the bucket's slippage multiplier, 1.0 when unset.
func (s Settings) Multiplier(b Bucket) float64 {
	v, ok := s.BucketMultipliers[b]
	if !ok {
		return 1
	}
	return clamp(v, 0.5, 2.5)
}

// Slippage is the expected fill haircut in points for a credit structure of the given width.
func (s Settings) Slippage(width *float64, now time.Time) float64 {
	if !s.Enabled {
		return 0
	}
	base := s.CreditOffsetWide
	if width != nil && *width <= s.NarrowWidthCutoff {
		base = s.CreditOffsetNarrow
	}
	return base * s.Multiplier(BucketAt(now))
}

// DebitSlippage is the haircut applied to debit structures.
func (s Settings) DebitSlippage(width *float64, now time.Time) float64 {
	if !s.Enabled {
		return 0
	}
	base := s.DebitOffsetWide
	if width != nil && *width <= s.NarrowWidthCutoff {
		base = s.DebitOffsetNarrow
	}
	return base * s.Multiplier(BucketAt(now))
}

// Adjusted is a candidate's credit after slippage and the minimum it must clear.
type Adjusted struct {
	Credit    *float64 `json:"credit_adj"`
	Threshold *float64 `json:"threshold"`
	Slippage  float64  `json:"slippage"`
	Bucket    Bucket   `json:"bucket"`
}

// Clears reports whether the adjusted credit meets the threshold.
func (a Adjusted) Clears() bool {
	return a.Credit != nil && a.Threshold != nil && *a.Credit >= *a.Threshold
}

// CreditAdjust subtracts slippage from a credit candidate. Directional spreads must clear
// 5% of width, everything else 3%. Debit candidates and missing width leave both nil.
func (s Settings) CreditAdjust(c *strategy.Candidate, now time.Time) Adjusted {
	if c == nil || c.Width == nil || c.IsDebit() {
		return Adjusted{Bucket: BucketMidday}
	}
	slip := s.Slippage(c.Width, now)
	adj := c.Credit - slip
	frac := 0.03
	if c.Kind == strategy.KindDirectional {
		frac = 0.05
	}
	thr := frac * *c.Width
	return Adjusted{
		Credit:    &adj,
		Threshold: &thr,
		Slippage:  slip,
		Bucket:    BucketAt(now),
	}
}
