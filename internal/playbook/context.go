// Package playbook scores each intraday structure against the trading playbook and
// assembles the cards shown on the dashboard and used to drive entry alerts.
package playbook

import (
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/execution"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/signals"
)

// Context is the per-tick market and book state every row reads.
type Context struct {
	Now       time.Time
	Spot      *float64
	EMR       *float64
	FullDayEM *float64
	Stats     signals.Stats
	Slope     *float64
	Alignment signals.Alignment

	Regime       regime.Regime
	RegimeReason string
	Confidence   regime.Score

	VolExpansion bool
	VolDetail    string
	MacroBlock   bool
	MacroDetail  string

	Exposure       risk.Exposure
	OpenTrades     []lifecycle.Trade
	ChainLiquidity *float64

	// High and low of the prior 30 one-minute bars.
	PriorHigh *float64
	PriorLow  *float64

	Execution execution.Settings
}

const liquidityMax = 0.12
