package outbox

import (
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/execution"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// Fill is the modeled entry price journaled when a trade is confirmed.
type Fill struct {
	TradeID   string           `json:"trade_id"`
	Strategy  strategy.Kind    `json:"strategy"`
	Legs      string           `json:"legs"`
	Mid       float64          `json:"mid"`
	Slippage  float64          `json:"slippage"`
	Price     float64          `json:"price"`
	IsDebit   bool             `json:"is_debit"`
	Bucket    execution.Bucket `json:"bucket"`
	Timestamp time.Time        `json:"timestamp"`
}

// EstimateFill applies the execution model to the candidate's mid premium. Credits
// fill lower and debits fill higher.
func EstimateFill(tradeID string, c *strategy.Candidate, s execution.Settings, now time.Time) Fill {
	fill := Fill{
		TradeID:   tradeID,
		Strategy:  c.Kind,
		Legs:      strategy.FormatLegs(c.Legs),
		Mid:       c.Premium(),
		IsDebit:   c.IsDebit(),
		Bucket:    execution.BucketAt(now),
		Timestamp: now.UTC(),
	}
	if fill.IsDebit {
		fill.Slippage = s.DebitSlippage(c.Width, now)
		fill.Price = fill.Mid + fill.Slippage
	} else {
		fill.Slippage = s.Slippage(c.Width, now)
		fill.Price = fill.Mid - fill.Slippage
	}
	return fill
}
