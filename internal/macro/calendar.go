// Package macro reads the configured economic-event calendar and answers the
// event-window questions asked during a tick.
package macro

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// BlockWindow is the distance from an event inside which short premium is flagged.
const BlockWindow = 30 * time.Minute

var majorKeywords = []string{"cpi", "fomc", "powell", "nfp", "jobs", "pce", "ism", "gdp", "fed"}

// Event is one calendar row. TimeET is HH:MM and may be empty.
type Event struct {
	Date   string `json:"date"`
	Name   string `json:"name"`
	TimeET string `json:"time_et"`
}

func (e Event) label() string {
	if e.TimeET != "" {
		return fmt.Sprintf("%s (%s ET)", e.Name, e.TimeET)
	}
	return e.Name
}

// Calendar holds normalized events sorted by date, time and name.
type Calendar struct {
	Events []Event
}

// Load reads {"events": [...]} or a bare array. A missing or malformed file is an empty calendar.
func Load(path string) Calendar {
	if path == "" {
		return Calendar{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observ.Warn("macro_calendar_unreadable", map[string]any{"path": path, "error": err.Error()})
		}
		return Calendar{}
	}
	cal, err := Parse(data)
	if err != nil {
		observ.Warn("macro_calendar_malformed", map[string]any{"path": path, "error": err.Error()})
		return Calendar{}
	}
	return cal
}

// Parse normalizes calendar rows. Rows without a valid date or a name are dropped.
func Parse(data []byte) (Calendar, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Calendar{}, fmt.Errorf("decode macro calendar: %w", err)
	}
	var rows []any
	switch v := raw.(type) {
	case map[string]any:
		rows, _ = v["events"].([]any)
	case []any:
		rows = v
	}

	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		date := strings.TrimSpace(str(m["date"]))
		if len(date) > 10 {
			date = date[:10]
		}
		if _, ok := market.ParseDate(date); !ok {
			continue
		}
		name := strings.TrimSpace(str(m["name"]))
		if name == "" {
			continue
		}
		events = append(events, Event{Date: date, Name: name, TimeET: strings.TrimSpace(str(m["time_et"]))})
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.TimeET != b.TimeET {
			return a.TimeET < b.TimeET
		}
		return a.Name < b.Name
	})
	return Calendar{Events: events}, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func (c Calendar) on(date string) []Event {
	var out []Event
	for _, e := range c.Events {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

// Block reports whether now is within ±30 minutes of an event today. An event with a
// missing or invalid time blocks the whole day.
func (c Calendar) Block(now time.Time) (bool, string) {
	now = market.InET(now)
	today := c.on(market.SessionDate(now))
	if len(today) == 0 {
		return false, "No macro event in configured calendar today."
	}
	detail := "Outside macro block window."
	for _, e := range today {
		name := e.Name
		if name == "" {
			name = "Macro event"
		}
		h, m, ok := parseClock(e.TimeET)
		if !ok {
			return true, name + " has missing/invalid ET time."
		}
		at := market.At(now, h, m)
		if math.Abs(now.Sub(at).Minutes()) <= BlockWindow.Minutes() {
			return true, fmt.Sprintf("%s at %s ET within ±30m.", name, at.Format("15:04"))
		}
		detail = fmt.Sprintf("Nearest: %s at %s ET.", name, at.Format("15:04"))
	}
	return false, detail
}

// MajorEventDay lists today's events whose names match a market-moving keyword.
func (c Calendar) MajorEventDay(now time.Time) (bool, []string) {
	var hits []string
	for _, e := range c.on(market.SessionDate(now)) {
		lower := strings.ToLower(e.Name)
		for _, k := range majorKeywords {
			if strings.Contains(lower, k) {
				hits = append(hits, e.label())
				break
			}
		}
	}
	return len(hits) > 0, hits
}

// EventsFor labels the events on date.
func (c Calendar) EventsFor(date string) []string {
	var out []string
	for _, e := range c.on(date) {
		out = append(out, e.label())
	}
	return out
}

// Upcoming labels up to limit events on or after start as "YYYY-MM-DD - Name (HH:MM ET)".
func (c Calendar) Upcoming(start string, limit int) []string {
	var out []string
	for _, e := range c.Events {
		if e.Date < start {
			continue
		}
		out = append(out, e.Date+" - "+e.label())
		if len(out) >= limit {
			break
		}
	}
	return out
}

func parseClock(s string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
