package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// Bucket names the intraday liquidity window used to scale slippage.
type Bucket string

const (
	BucketOpen   Bucket = "open"
	BucketMidday Bucket = "midday"
	BucketLate   Bucket = "late"
	BucketClose  Bucket = "close"
)

// Settings model execution friction. JSON keys match the settings file.
type Settings struct {
	Enabled            bool               `json:"enabled"`
	NarrowWidthCutoff  float64            `json:"narrowWidthCutoff"`
	CreditOffsetNarrow float64            `json:"creditOffsetNarrow"`
	CreditOffsetWide   float64            `json:"creditOffsetWide"`
	DebitOffsetNarrow  float64            `json:"debitOffsetNarrow"`
	DebitOffsetWide    float64            `json:"debitOffsetWide"`
	MarkImpactPct      float64            `json:"markImpactPct"`
	BucketMultipliers  map[Bucket]float64 `json:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:            true,
		NarrowWidthCutoff:  50,
		CreditOffsetNarrow: 0.15,
		CreditOffsetWide:   0.20,
		DebitOffsetNarrow:  0.10,
		DebitOffsetWide:    0.15,
		MarkImpactPct:      0.03,
		BucketMultipliers: map[Bucket]float64{
			BucketOpen:   1.20,
			BucketMidday: 1.00,
			BucketLate:   1.15,
			BucketClose:  1.30,
		},
	}
}

var multiplierKeys = map[Bucket]string{
	BucketOpen:   "openBucketMultiplier",
	BucketMidday: "midBucketMultiplier",
	BucketLate:   "lateBucketMultiplier",
	BucketClose:  "closeBucketMultiplier",
}

// LoadSettings reads the settings file. A missing or malformed file yields defaults;
// individual fields of the wrong type keep their default and numbers are clamped.
func LoadSettings(path string) Settings {
	s := DefaultSettings()
	if path == "" {
		return s
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.Warn("execution_settings_unreadable", map[string]any{"path": path, "error": err.Error()})
		}
		return s
	}
	parsed, err := ParseSettings(data)
	if err != nil {
		observ.Warn("execution_settings_malformed", map[string]any{"path": path, "error": err.Error()})
		return s
	}
	return parsed
}

// ParseSettings decodes a settings document over the defaults.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("decode execution settings: %w", err)
	}
	if v, ok := raw["enabled"].(bool); ok {
		s.Enabled = v
	}
	num := func(key string, target *float64, lo, hi float64) {
		if v, ok := raw[key].(float64); ok && !math.IsNaN(v) {
			*target = clamp(v, lo, hi)
		}
	}
	num("narrowWidthCutoff", &s.NarrowWidthCutoff, 10, 150)
	num("creditOffsetNarrow", &s.CreditOffsetNarrow, 0.01, 2)
	num("creditOffsetWide", &s.CreditOffsetWide, 0.01, 3)
	num("debitOffsetNarrow", &s.DebitOffsetNarrow, 0.01, 2)
	num("debitOffsetWide", &s.DebitOffsetWide, 0.01, 3)
	num("markImpactPct", &s.MarkImpactPct, 0, 0.5)
	for bucket, key := range multiplierKeys {
		v := s.BucketMultipliers[bucket]
		hi := 2.0
		if bucket == BucketClose {
			hi = 2.5
		}
		num(key, &v, 0.5, hi)
		s.BucketMultipliers[bucket] = v
	}
	return s, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
