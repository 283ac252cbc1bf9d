package market

import (
	"time"
	_ "time/tzdata"
)

// ET is the exchange timezone.
var ET = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// InET converts t to exchange time.
func InET(t time.Time) time.Time {
	return t.In(ET)
}

// At returns hh:mm on the ET session date of now.
func At(now time.Time, hour, minute int) time.Time {
	et := now.In(ET)
	return time.Date(et.Year(), et.Month(), et.Day(), hour, minute, 0, 0, ET)
}

// SessionDate is the ET calendar date of t as YYYY-MM-DD.
func SessionDate(t time.Time) string {
	return t.In(ET).Format("2006-01-02")
}

// ParseDate parses YYYY-MM-DD as a midnight ET date.
func ParseDate(s string) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", s, ET)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// DaysBetween counts calendar days from the ET date of now to date.
func DaysBetween(now time.Time, date string) (int, bool) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, false
	}
	et := now.In(ET)
	today := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(today).Hours() / 24), true
}

// Clock formats t as HH:MM:SS ET.
func Clock(t time.Time) string {
	return t.In(ET).Format("15:04:05") + " ET"
}
