package market

import "time"

// Session labels returned by Calendar.Label.
const (
	SessionPremarket  = "premarket"
	SessionRegular    = "regular"
	SessionPostmarket = "postmarket"
)

// Calendar maps timestamps to trading-session labels and day keys. Minutes
// are minute-of-day in the feed's normalized timezone (UTC). A calendar with
// OpenMinute=0 and CloseMinute=1440 is a 24h market: every minute is labeled
// regular and the daily candle closes at midnight.
type Calendar struct {
	OpenMinute  int // first minute of the regular session, e.g. 570 for 09:30
	CloseMinute int // first minute after the regular session, e.g. 960 for 16:00
}

// NewCalendar builds a calendar from session open/close expressed as
// minute-of-day. Zero values fall back to a 24h market.
func NewCalendar(openMinute, closeMinute int) Calendar {
	if openMinute == 0 && closeMinute == 0 {
		closeMinute = 1440
	}
	return Calendar{OpenMinute: openMinute, CloseMinute: closeMinute}
}

// AllDay reports whether the calendar describes a 24h market.
func (c Calendar) AllDay() bool {
	return c.OpenMinute == 0 && c.CloseMinute == 1440
}

// MinuteOfDay returns the minute-of-day for a millisecond timestamp.
func MinuteOfDay(ts int64) int {
	return int(ts % (1440 * minuteMs) / minuteMs)
}

// DayKey returns the UTC calendar date for ts, e.g. "2024-03-08". Daily
// counters reset when the key changes.
func DayKey(ts int64) string {
	return time.UnixMilli(ts).UTC().Format("2006-01-02")
}

// Label classifies ts into premarket, regular, or postmarket.
func (c Calendar) Label(ts int64) string {
	if c.AllDay() {
		return SessionRegular
	}
	m := MinuteOfDay(ts)
	switch {
	case m < c.OpenMinute:
		return SessionPremarket
	case m < c.CloseMinute:
		return SessionRegular
	default:
		return SessionPostmarket
	}
}

// SessionKey identifies one trading session for cap accounting: a day key
// plus the session label.
func (c Calendar) SessionKey(ts int64) string {
	return DayKey(ts) + "/" + c.Label(ts)
}

// ClosesDaily reports whether the minute bar opening at ts is the last one
// of the daily candle, i.e. the bar whose close lands on the session close.
func (c Calendar) ClosesDaily(ts int64) bool {
	end := MinuteOfDay(ts + minuteMs)
	if c.AllDay() {
		return end == 0
	}
	return end == c.CloseMinute
}

// DayBucket returns the open time of the daily candle containing ts: the
// start of the UTC day.
func DayBucket(ts int64) int64 {
	return ts - ts%(1440*minuteMs)
}
