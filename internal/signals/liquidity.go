package signals

import (
	"math"
	"sort"

	"github.com/Rajchodisetti/spx0dte/internal/market"
)

const liquiditySample = 24

// ChainLiquidityRatio is the median (ask-bid)/mid over the 24 strikes nearest spot.
func ChainLiquidityRatio(options []market.OptionQuote, spot *float64) *float64 {
	type scored struct{ dist, ratio float64 }
	var rows []scored
	for _, o := range options {
		if o.Bid == nil || o.Ask == nil {
			continue
		}
		mid := (*o.Bid + *o.Ask) / 2
		if mid <= 0 {
			continue
		}
		ratio := (*o.Ask - *o.Bid) / mid
		if ratio < 0 {
			continue
		}
		dist := 0.0
		if spot != nil {
			dist = math.Abs(o.Strike - *spot)
		}
		rows = append(rows, scored{dist, ratio})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].dist < rows[j].dist })
	n := min(liquiditySample, len(rows))
	nearest := make([]float64, n)
	for i := 0; i < n; i++ {
		nearest[i] = rows[i].ratio
	}
	sort.Float64s(nearest)
	mid := n / 2
	if n%2 == 1 {
		return ptr(nearest[mid])
	}
	return ptr((nearest[mid-1] + nearest[mid]) / 2)
}

// PutCallRatio is a premium-weighted put/call proxy over strikes within 250 points of spot,
// falling back to contract counts. Clamped to [0.1, 5].
func PutCallRatio(options []market.OptionQuote, spot *float64) *float64 {
	if len(options) == 0 {
		return nil
	}
	var filtered []market.OptionQuote
	for _, o := range options {
		if o.Mid == nil || *o.Mid <= 0 {
			continue
		}
		if spot != nil && math.Abs(o.Strike-*spot) > 250 {
			continue
		}
		filtered = append(filtered, o)
	}
	sample := filtered
	if len(sample) == 0 {
		sample = options
	}

	var puts, calls float64
	var putCount, callCount int
	for _, o := range sample {
		mid := 0.0
		if o.Mid != nil && *o.Mid > 0 {
			mid = *o.Mid
		}
		switch o.Right {
		case market.Put:
			putCount++
			puts += mid
		case market.Call:
			callCount++
			calls += mid
		}
	}
	switch {
	case calls > 0 && puts > 0:
		return ptr(clamp(puts/calls, 0.1, 5))
	case callCount > 0 && putCount > 0:
		return ptr(clamp(float64(putCount)/float64(callCount), 0.1, 5))
	}
	return nil
}

// ATMIV averages the IV of the call and put nearest spot; without IVs it backs out
// an estimate from the ATM straddle.
func ATMIV(options []market.OptionQuote, spot float64, dte int) *float64 {
	if len(options) == 0 {
		return nil
	}
	var call, put *float64
	bestCall, bestPut := math.Inf(1), math.Inf(1)
	for _, o := range options {
		if o.IV == nil {
			continue
		}
		d := math.Abs(o.Strike - spot)
		if o.Right == market.Call && d < bestCall {
			bestCall, call = d, o.IV
		}
		if o.Right == market.Put && d < bestPut {
			bestPut, put = d, o.IV
		}
	}
	callIV, putIV := NormalizeIV(call), NormalizeIV(put)
	switch {
	case callIV != nil && putIV != nil:
		return ptr((*callIV + *putIV) / 2)
	case callIV != nil:
		return callIV
	case putIV != nil:
		return putIV
	}

	ix := market.NewIndex(options)
	var nearest *float64
	bestDist := math.Inf(1)
	for _, o := range options {
		if o.Mid == nil {
			continue
		}
		if d := math.Abs(o.Strike - spot); d < bestDist {
			bestDist = d
			k := o.Strike
			nearest = &k
		}
	}
	if nearest == nil {
		return nil
	}
	c, okC := ix.Get(market.Call, *nearest)
	p, okP := ix.Get(market.Put, *nearest)
	if !okC || !okP || c.Mid == nil || p.Mid == nil {
		return nil
	}
	t := float64(max(1, dte)) / 365
	approx := (*c.Mid + *p.Mid) / (0.8 * spot * math.Sqrt(t))
	if approx <= 0 {
		return nil
	}
	return ptr(clamp(approx, 0.01, 2.5))
}
