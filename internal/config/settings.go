package config

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"slices"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

// LoadBWBSettings overlays the BWB settings file on the defaults. A missing or
// malformed file yields the defaults; fields of the wrong type keep their default.
func LoadBWBSettings(path string) strategy.BWBSettings {
	s := strategy.DefaultBWBSettings()
	if data, ok := readSettings(path, "bwb"); ok {
		s = overlay(s, data, "bwb")
	}
	return s.Clamp()
}

// LoadMultiDTESettings overlays the multi-DTE settings file on the defaults.
// SPX0DTE_MULTI_DTE_POLICY wins over the file.
func LoadMultiDTESettings(path string) strategy.MultiDTESettings {
	s := strategy.DefaultMultiDTESettings()
	if data, ok := readSettings(path, "multi_dte"); ok {
		s = overlay(s, data, "multi_dte")
	}
	if v := os.Getenv("SPX0DTE_MULTI_DTE_POLICY"); v != "" {
		s.Policy = strategy.Policy(v)
	}
	return clampMultiDTE(s)
}

func clampMultiDTE(s strategy.MultiDTESettings) strategy.MultiDTESettings {
	s.Policy = strategy.ParsePolicy(string(s.Policy))
	s.SoftZFraction = math.Min(1, math.Max(0.5, s.SoftZFraction))
	s.SoftPenalty = math.Min(1, math.Max(0, s.SoftPenalty))

	targets := make([]int, 0, len(s.TargetDTEs))
	for _, d := range s.TargetDTEs {
		if d > 0 && !slices.Contains(targets, d) {
			targets = append(targets, d)
		}
	}
	slices.Sort(targets)
	if len(targets) == 0 {
		targets = strategy.DefaultMultiDTESettings().TargetDTEs
	}
	s.TargetDTEs = targets
	return s
}

func readSettings(path, name string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.Warn("settings_unreadable", map[string]any{"settings": name, "path": path, "error": err.Error()})
		}
		return nil, false
	}
	return data, true
}

// overlay applies each top-level key of a JSON object independently, so one bad
// field does not discard the rest of the file.
func overlay[T any](base T, data []byte, name string) T {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		observ.Warn("settings_malformed", map[string]any{"settings": name, "error": err.Error()})
		return base
	}
	out := base
	for key, value := range raw {
		doc, err := json.Marshal(map[string]json.RawMessage{key: value})
		if err != nil {
			continue
		}
		next := out
		if err := json.Unmarshal(doc, &next); err != nil {
			observ.Debug("settings_field_ignored", map[string]any{"settings": name, "field": key, "error": err.Error()})
			continue
		}
		out = next
	}
	return out
}
