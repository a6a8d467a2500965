// Package markethours knows the US equity regular session: 9:30 AM to
// 4:00 PM America/New_York, Monday to Friday, excluding NYSE holidays.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"signal-engine/internal/model"
)

// Eastern is the exchange time zone.
var Eastern = mustLoad("America/New_York")

// Regular session in Eastern time
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// IsMarketOpen returns true if t falls within the regular session.
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	if !IsTradingDay(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri in Eastern time.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(Eastern)
	return IsWeekday(et) && !IsHoliday(et)
}

func openOn(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
}

// NextOpen returns the next session open. If t is before today's open on
// a trading day, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)

	if today := openOn(et); et.Before(today) && IsTradingDay(et) {
		return today
	}

	d := et
	for i := 0; i < 10; i++ { // weekends plus the longest holiday run
		d = time.Date(d.Year(), d.Month(), d.Day()+1, 12, 0, 0, 0, Eastern)
		if IsTradingDay(d) {
			return openOn(d)
		}
	}
	return openOn(time.Date(et.Year(), et.Month(), et.Day()+1, 12, 0, 0, 0, Eastern))
}

// PreviousTradingDayOpen returns the open of the last trading day strictly
// before t's Eastern date. Bootstrap fetches history from there.
func PreviousTradingDayOpen(t time.Time) time.Time {
	et := t.In(Eastern)
	d := et
	for i := 0; i < 10; i++ {
		d = time.Date(d.Year(), d.Month(), d.Day()-1, 12, 0, 0, 0, Eastern)
		if IsTradingDay(d) {
			return openOn(d)
		}
	}
	return openOn(time.Date(et.Year(), et.Month(), et.Day()-1, 12, 0, 0, 0, Eastern))
}

// TodayClose returns today's session close.
func TodayClose(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the session is already over.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t)
}

// InSession reports whether any minute of the period [start, start+d)
// falls within the regular session.
func InSession(start time.Time, d time.Duration) bool {
	if IsMarketOpen(start) {
		return true
	}
	end := start.Add(d)
	open := NextOpen(start)
	return open.Before(end)
}

// SessionGap accepts a hole in a series when every missing period lies
// outside the regular session (overnight, weekends, holidays). It has the
// signature of series.GapPolicy.
func SessionGap(tf model.Timeframe, prev, next time.Time) bool {
	d := tf.Duration()
	first := prev.Add(d)
	if !first.Before(next) {
		return true
	}
	if InSession(first, d) {
		return false
	}
	// next is period aligned, so the period holding the following open is
	// missing iff that open is before next.
	return !NextOpen(first).Before(next)
}

// StatusString returns a human-readable session status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open, closes in %s", fmtDur(TimeUntilClose(t)))
	}
	et := NextOpen(t).In(Eastern)
	return fmt.Sprintf("Market Closed, opens %s %s ET (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(TimeUntilOpen(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
