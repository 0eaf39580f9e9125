// Package clock is the only source of wall-clock time for the registry and
// the reset scheduler. Production code uses the real clock; tests inject a
// clockwork fake and advance it by hand.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

type Clock = clockwork.Clock

func NewReal() Clock { return clockwork.NewRealClock() }

// Weekly is a recurring weekly boundary: a weekday and a wall time in a
// location. The default boundary is Monday 00:00 host local time.
type Weekly struct {
	weekday time.Weekday
	hour    int
	minute  int
	loc     *time.Location
	sched   cron.Schedule
}

var weeklyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewWeekly builds a boundary at atHHMM on weekday in loc (nil means host local).
func NewWeekly(weekday time.Weekday, atHHMM string, loc *time.Location) (*Weekly, error) {
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil, fmt.Errorf("invalid weekday %d", weekday)
	}
	h, m, err := ParseHHMM(atHHMM)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := weeklyParser.Parse(fmt.Sprintf("%d %d * * %d", m, h, int(weekday)))
	if err != nil {
		return nil, fmt.Errorf("weekly schedule: %w", err)
	}
	return &Weekly{weekday: weekday, hour: h, minute: m, loc: loc, sched: sched}, nil
}

// MondayMidnight is the default reset boundary in loc.
func MondayMidnight(loc *time.Location) *Weekly {
	w, err := NewWeekly(time.Monday, "00:00", loc)
	if err != nil {
		panic(err)
	}
	return w
}

// Next returns the first boundary strictly after now, in the boundary's location.
func (w *Weekly) Next(now time.Time) time.Time {
	local := now.In(w.loc)
	next := w.sched.Next(local)
	if next.IsZero() {
		next = w.calendarNext(local)
	}
	for !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// Until is the non-negative duration from now to Next(now). With the default
// boundary and now exactly at Monday 00:00 it is a full week, never zero.
func (w *Weekly) Until(now time.Time) time.Duration {
	d := w.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (w *Weekly) Weekday() time.Weekday     { return w.weekday }
func (w *Weekly) Location() *time.Location { return w.loc }

func (w *Weekly) String() string {
	return fmt.Sprintf("%s %02d:%02d %s", strings.ToLower(w.weekday.String()), w.hour, w.minute, w.loc)
}

// calendarNext walks the calendar directly. Used only if the cron schedule
// cannot produce a time.
func (w *Weekly) calendarNext(local time.Time) time.Time {
	days := (int(w.weekday) - int(local.Weekday()) + 7) % 7
	d := local.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), w.hour, w.minute, 0, 0, w.loc)
}

// ParseHHMM parses a 24h wall time like "00:00" or "20:30".
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts full or abbreviated English day names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return d, nil
}
