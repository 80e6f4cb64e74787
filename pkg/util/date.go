package util

import (
	"strconv"
	"time"
	_ "time/tzdata" // exchange zone must resolve on minimal images
)

// ExchangeZone is the calendar all daily counters and session windows are keyed to.
const ExchangeZone = "America/New_York"

var exchangeLoc = mustLoad(ExchangeZone)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ExchangeLocation returns the exchange time zone.
func ExchangeLocation() *time.Location { return exchangeLoc }

// ExchangeDate formats t as YYYY-MM-DD on the exchange calendar.
func ExchangeDate(t time.Time) string {
	return t.In(exchangeLoc).Format("2006-01-02")
}

// ExchangeMinuteOfDay returns minutes since local midnight on the exchange clock.
func ExchangeMinuteOfDay(t time.Time) int {
	lt := t.In(exchangeLoc)
	return lt.Hour()*60 + lt.Minute()
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}
