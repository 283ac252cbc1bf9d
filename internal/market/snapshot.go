package market

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// CandleBar is one 1-minute bar.
type CandleBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	VWAP      *float64  `json:"vwap,omitempty"`
}

// ChainSlice is the chain for one expiration, keyed by the DTE it was fetched for.
type ChainSlice struct {
	Name       string        `json:"name,omitempty"` // e.g. "0dte", "bwb"
	TargetDTE  int           `json:"target_dte"`
	Expiration string        `json:"expiration,omitempty"`
	Options    []OptionQuote `json:"options"`
}

// Snapshot is the immutable input of one evaluation tick. Any field may be missing.
type Snapshot struct {
	Timestamp    time.Time    `json:"timestamp"`
	Symbol       string       `json:"symbol"`
	Spot         *float64     `json:"spot,omitempty"`
	VIX          *float64     `json:"vix,omitempty"`
	VIXChangePct *float64     `json:"vix_change_pct,omitempty"`
	IVRank       *float64     `json:"iv_rank,omitempty"`
	ATMIV        *float64     `json:"atm_iv,omitempty"`
	ExpirationIV *float64     `json:"expiration_iv,omitempty"`
	Chains       []ChainSlice `json:"chains"`
	Candles1m    []CandleBar  `json:"candles_1m"`
	Warnings     []string     `json:"warnings,omitempty"`
}

// Chain returns the slice fetched for targetDTE.
func (s *Snapshot) Chain(targetDTE int) (ChainSlice, bool) {
	for _, c := range s.Chains {
		if c.TargetDTE == targetDTE && c.Name != "bwb" {
			return c, true
		}
	}
	return ChainSlice{}, false
}

// NamedChain returns the slice with the given name.
func (s *Snapshot) NamedChain(name string) (ChainSlice, bool) {
	for _, c := range s.Chains {
		if c.Name == name {
			return c, true
		}
	}
	return ChainSlice{}, false
}

// ZeroDTE returns the same-day chain options, empty when absent.
func (s *Snapshot) ZeroDTE() []OptionQuote {
	c, ok := s.Chain(0)
	if !ok {
		return nil
	}
	return c.Options
}

// IV picks the volatility used for EMR: ATM IV, then expiration IV.
func (s *Snapshot) IV() *float64 {
	if s.ATMIV != nil && *s.ATMIV > 0 {
		return s.ATMIV
	}
	return s.ExpirationIV
}

// CleanCandles sorts ascending and drops repeated timestamps, keeping the last bar seen.
func CleanCandles(in []CandleBar) []CandleBar {
	if len(in) == 0 {
		return nil
	}
	out := make([]CandleBar, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for _, c := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(c.Timestamp) {
			dedup[n-1] = c
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}

// Normalize cleans candles, fills mids and records warnings for unusable rows.
func (s *Snapshot) Normalize() {
	s.Candles1m = CleanCandles(s.Candles1m)
	for ci := range s.Chains {
		kept := s.Chains[ci].Options[:0]
		dropped := 0
		for _, o := range s.Chains[ci].Options {
			if err := ValidateQuote(o); err != nil {
				dropped++
				observ.Warn("quote_dropped", map[string]any{
					"target_dte": s.Chains[ci].TargetDTE,
					"symbol":     o.Symbol,
					"reason":     err.Error(),
				})
				continue
			}
			if o.Expiration == "" {
				o.Expiration = s.Chains[ci].Expiration
			}
			kept = append(kept, NormalizeQuote(o))
		}
		s.Chains[ci].Options = kept
		if dropped > 0 {
			s.Warnings = append(s.Warnings, fmt.Sprintf("chain %d DTE: dropped %d invalid quotes", s.Chains[ci].TargetDTE, dropped))
		}
	}
	if s.Spot == nil || *s.Spot <= 0 {
		s.Spot = nil
		s.Warnings = append(s.Warnings, "spot unavailable")
	}
	if len(s.Candles1m) == 0 {
		s.Warnings = append(s.Warnings, "no 1m candles")
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
}

// LoadSnapshot reads a snapshot document. Partial documents load with warnings.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	s.Normalize()
	return &s, nil
}
