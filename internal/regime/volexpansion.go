package regime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

const (
	ivJumpPct  = 10.0
	vixJumpAbs = 4.0
)

// volState is the per-session baseline captured at the first tick after 10:00 ET.
type volState struct {
	Date        string   `json:"date"`
	BaselineIV  *float64 `json:"baseline_iv"`
	BaselineVIX *float64 `json:"baseline_vix"`
}

// VolExpansionDetector flags an intraday IV or VIX jump against the session baseline.
// With an empty path the baseline lives only in memory.
type VolExpansionDetector struct {
	mu    sync.Mutex
	path  string
	state volState
}

func NewVolExpansionDetector(path string) *VolExpansionDetector {
	return &VolExpansionDetector{path: path}
}

// load reads the persisted baseline. A missing or malformed file yields an empty state.
func (d *VolExpansionDetector) load() volState {
	if d.path == "" {
		return d.state
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if !os.IsNotExist(err) {
			observ.Warn("vol_state_read_failed", map[string]any{"path": d.path, "error": err.Error()})
		}
		return volState{}
	}
	var s volState
	if err := json.Unmarshal(data, &s); err != nil {
		observ.Warn("vol_state_malformed", map[string]any{"path": d.path, "error": err.Error()})
		return volState{}
	}
	return s
}

func (d *VolExpansionDetector) save(s volState) error {
	d.state = s
	if d.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vol state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create vol state dir: %w", err)
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vol state: %w", err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename vol state: %w", err)
	}
	return nil
}

// Detect returns the expansion flag, a display detail and the IV change in percent
// (nil while no baseline exists).
func (d *VolExpansionDetector) Detect(now time.Time, atmIV, vix *float64) (bool, string, *float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	et := market.InET(now)
	today := market.SessionDate(et)
	s := d.load()
	if s.Date != today {
		s = volState{Date: today}
	}

	if !et.Before(market.At(et, 10, 0)) && s.BaselineIV == nil && atmIV != nil {
		iv := *atmIV
		s.BaselineIV = &iv
		if vix != nil {
			v := *vix
			s.BaselineVIX = &v
		}
		if err := d.save(s); err != nil {
			observ.Error("vol_state_save_failed", err, map[string]any{"path": d.path})
		} else {
			observ.Log("vol_baseline_captured", map[string]any{"date": today, "baseline_iv": iv, "baseline_vix": s.BaselineVIX})
		}
	}

	if s.BaselineIV == nil || *s.BaselineIV == 0 || atmIV == nil {
		return false, "Baseline IV unavailable.", nil
	}

	change := (*atmIV - *s.BaselineIV) / *s.BaselineIV * 100
	detail := fmt.Sprintf("IV %+.2f%% from baseline", change)
	fired := change >= ivJumpPct
	if s.BaselineVIX != nil && vix != nil {
		jump := *vix - *s.BaselineVIX
		detail += fmt.Sprintf(", VIX Δ %+.2f", jump)
		fired = fired || jump >= vixJumpAbs
	}
	if fired {
		observ.IncCounter("vol_expansion_fired_total", nil)
	}
	return fired, detail, &change
}
