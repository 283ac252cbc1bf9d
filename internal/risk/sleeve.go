// Package risk sizes the 0DTE sleeve: capital settings, loss locks and exposure over open trades.
package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// Fractions of sleeve capital.
const (
	MaxOpenRiskPct     = 0.06
	MaxRiskPerTradePct = 0.03
	MaxDailyLossPct    = 0.04
	MaxWeeklyLossPct   = 0.08
)

// SleeveSettings are the capital and realized-PnL inputs. JSON keys match the settings file.
type SleeveSettings struct {
	SleeveCapital     float64 `json:"sleeve_capital"`
	TotalAccount      float64 `json:"total_account"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	DailyRealizedPnL  float64 `json:"daily_realized_pnl"`
	WeeklyRealizedPnL float64 `json:"weekly_realized_pnl"`
	DailyLock         bool    `json:"daily_lock"`
	WeeklyLock        bool    `json:"weekly_lock"`
}

// DefaultSleeveSettings reads SPX0DTE_* environment overrides over the built-in defaults.
func DefaultSleeveSettings() SleeveSettings {
	return SleeveSettings{
		SleeveCapital:     envFloat("SPX0DTE_SLEEVE_CAPITAL", 10_000),
		TotalAccount:      envFloat("SPX0DTE_TOTAL_ACCOUNT", 160_000),
		MaxDrawdownPct:    envFloat("SPX0DTE_MAX_DRAWDOWN_PCT", 15),
		DailyRealizedPnL:  envFloat("SPX0DTE_DAILY_REALIZED_PNL", 0),
		WeeklyRealizedPnL: envFloat("SPX0DTE_WEEKLY_REALIZED_PNL", 0),
		DailyLock:         envBool("SPX0DTE_DAILY_LOCK"),
		WeeklyLock:        envBool("SPX0DTE_WEEKLY_LOCK"),
	}
}

// LoadSleeveSettings overlays the settings file on the defaults. Missing or malformed
// files yield the defaults.
func LoadSleeveSettings(path string) SleeveSettings {
	s := DefaultSleeveSettings()
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.Warn("sleeve_settings_unreadable", map[string]any{"path": path, "error": err.Error()})
		}
		return s
	}
	out, err := ParseSleeveSettings(data, s)
	if err != nil {
		observ.Warn("sleeve_settings_malformed", map[string]any{"path": path, "error": err.Error()})
		return s
	}
	return out
}

// ParseSleeveSettings applies a settings document over base. Capital and account must be
// positive, drawdown non-negative; other values are taken as given when well typed.
func ParseSleeveSettings(data []byte, base SleeveSettings) (SleeveSettings, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("decode sleeve settings: %w", err)
	}
	s := base
	if v, ok := toFloat(raw["sleeve_capital"]); ok && v > 0 {
		s.SleeveCapital = v
	}
	if v, ok := toFloat(raw["total_account"]); ok && v > 0 {
		s.TotalAccount = v
	}
	if v, ok := toFloat(raw["max_drawdown_pct"]); ok && v >= 0 {
		s.MaxDrawdownPct = v
	}
	if v, ok := toFloat(raw["daily_realized_pnl"]); ok {
		s.DailyRealizedPnL = v
	}
	if v, ok := toFloat(raw["weekly_realized_pnl"]); ok {
		s.WeeklyRealizedPnL = v
	}
	if v, ok := raw["daily_lock"].(bool); ok {
		s.DailyLock = v
	}
	if v, ok := raw["weekly_lock"].(bool); ok {
		s.WeeklyLock = v
	}
	return s, nil
}

// Limits are the dollar limits derived from sleeve capital.
type Limits struct {
	MaxRiskPerTrade float64 `json:"maxRiskPerTrade"`
	MaxOpenRisk     float64 `json:"maxOpenRisk"`
	MaxDailyLoss    float64 `json:"maxDailyLoss"`
	MaxWeeklyLoss   float64 `json:"maxWeeklyLoss"`
}

func (s SleeveSettings) Limits() Limits {
	return Limits{
		MaxRiskPerTrade: MaxRiskPerTradePct * s.SleeveCapital,
		MaxOpenRisk:     MaxOpenRiskPct * s.SleeveCapital,
		MaxDailyLoss:    MaxDailyLossPct * s.SleeveCapital,
		MaxWeeklyLoss:   MaxWeeklyLossPct * s.SleeveCapital,
	}
}

// LossLock is the combined daily/weekly lock. A lock holds when its flag is set or the
// realized loss reached the limit.
type LossLock struct {
	Daily  bool   `json:"dailyLock"`
	Weekly bool   `json:"weeklyLock"`
	Detail string `json:"detail"`
}

func (l LossLock) Active() bool { return l.Daily || l.Weekly }

func (s SleeveSettings) LossLock() LossLock {
	lim := s.Limits()
	daily := s.DailyLock || s.DailyRealizedPnL <= -lim.MaxDailyLoss
	weekly := s.WeeklyLock || s.WeeklyRealizedPnL <= -lim.MaxWeeklyLoss
	return LossLock{
		Daily:  daily,
		Weekly: weekly,
		Detail: fmt.Sprintf("daily_lock=%v, weekly_lock=%v, daily_pnl=%.2f, weekly_pnl=%.2f",
			daily, weekly, s.DailyRealizedPnL, s.WeeklyRealizedPnL),
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func envFloat(name string, def float64) float64 {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
