package restriction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/yardcap/internal/models"
)

// MaxDays bounds how many calendar days one restriction may expand into.
const MaxDays = 3660

// dayLayout is the calendar-date form stored in DailyRestriction.Day.
const dayLayout = "2006-01-02"

const minutesPerDay = 24 * 60

// Window is one expanded time window. Day nil means every date.
type Window struct {
	Day        *string
	MinuteFrom int
	MinuteTo   int
}

// Spec declares the time span of a restriction before expansion.
type Spec struct {
	Mode     models.RestrictionMode
	StartsAt time.Time // range
	EndsAt   time.Time // range
	FirstDay string    // daily, 2006-01-02
	LastDay  string    // daily, 2006-01-02
	TimeFrom string    // daily and permanent, 15:04
	TimeTo   string    // daily and permanent, 15:04; 24:00 allowed
}

// Expand turns s into per-day windows in the yard time zone loc.
//
// Range mode yields a partial first day, full middle days and a partial last
// day. Daily mode yields the time window on each day from FirstDay to LastDay;
// a window that ends before it starts runs past midnight and its tail lands
// on the following day. Permanent mode yields day-less windows.
func Expand(s Spec, loc *time.Location) ([]Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	switch s.Mode {
	case models.RestrictionRange:
		return expandRange(s, loc)
	case models.RestrictionDaily:
		return expandDaily(s, loc)
	case models.RestrictionPermanent:
		return expandPermanent(s)
	default:
		return nil, fmt.Errorf("restriction: unknown mode %q", s.Mode)
	}
}

func expandRange(s Spec, loc *time.Location) ([]Window, error) {
	if s.StartsAt.IsZero() || s.EndsAt.IsZero() {
		return nil, fmt.Errorf("restriction: range mode needs a start and an end")
	}
	if !s.EndsAt.After(s.StartsAt) {
		return nil, fmt.Errorf("restriction: range end %s is not after start %s",
			s.EndsAt.Format(time.RFC3339), s.StartsAt.Format(time.RFC3339))
	}
	start := s.StartsAt.In(loc)
	end := s.EndsAt.In(loc)
	firstDay := dateOf(start)
	lastDay := dateOf(end)
	if n := daysBetween(firstDay, lastDay) + 1; n > MaxDays {
		return nil, fmt.Errorf("restriction: range spans %d days, more than %d", n, MaxDays)
	}

	startMin := minuteOf(start)
	endMin := minuteOf(end)
	if end.Second() > 0 || end.Nanosecond() > 0 {
		endMin++
	}

	if firstDay.Equal(lastDay) {
		return []Window{window(firstDay, startMin, endMin)}, nil
	}
	out := []Window{window(firstDay, startMin, minutesPerDay)}
	for d := firstDay.AddDate(0, 0, 1); d.Before(lastDay); d = d.AddDate(0, 0, 1) {
		out = append(out, window(d, 0, minutesPerDay))
	}
	if endMin > 0 {
		out = append(out, window(lastDay, 0, endMin))
	}
	return out, nil
}

func expandDaily(s Spec, loc *time.Location) ([]Window, error) {
	first, err := time.ParseInLocation(dayLayout, s.FirstDay, loc)
	if err != nil {
		return nil, fmt.Errorf("restriction: first day %q: %w", s.FirstDay, err)
	}
	last, err := time.ParseInLocation(dayLayout, s.LastDay, loc)
	if err != nil {
		return nil, fmt.Errorf("restriction: last day %q: %w", s.LastDay, err)
	}
	if last.Before(first) {
		return nil, fmt.Errorf("restriction: last day %s is before first day %s", s.LastDay, s.FirstDay)
	}
	first, last = dateOf(first), dateOf(last)
	if n := daysBetween(first, last) + 1; n > MaxDays {
		return nil, fmt.Errorf("restriction: daily window spans %d days, more than %d", n, MaxDays)
	}
	from, to, err := parseWindow(s.TimeFrom, s.TimeTo)
	if err != nil {
		return nil, err
	}

	var out []Window
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if from < to {
			out = append(out, window(d, from, to))
			continue
		}
		out = append(out, window(d, from, minutesPerDay))
		if to > 0 {
			out = append(out, window(d.AddDate(0, 0, 1), 0, to))
		}
	}
	return out, nil
}

func expandPermanent(s Spec) ([]Window, error) {
	if s.TimeFrom == "" && s.TimeTo == "" {
		return []Window{{MinuteFrom: 0, MinuteTo: minutesPerDay}}, nil
	}
	from, to, err := parseWindow(s.TimeFrom, s.TimeTo)
	if err != nil {
		return nil, err
	}
	if from < to {
		return []Window{{MinuteFrom: from, MinuteTo: to}}, nil
	}
	out := []Window{{MinuteFrom: from, MinuteTo: minutesPerDay}}
	if to > 0 {
		out = append(out, Window{MinuteFrom: 0, MinuteTo: to})
	}
	return out, nil
}

// parseWindow parses a HH:MM pair into minutes of day.
func parseWindow(from, to string) (int, int, error) {
	f, err := parseClock(from)
	if err != nil {
		return 0, 0, fmt.Errorf("restriction: time from: %w", err)
	}
	t, err := parseClock(to)
	if err != nil {
		return 0, 0, fmt.Errorf("restriction: time to: %w", err)
	}
	if f == t {
		return 0, 0, fmt.Errorf("restriction: empty time window %s-%s", from, to)
	}
	if f == minutesPerDay {
		return 0, 0, fmt.Errorf("restriction: time from %s is out of range", from)
	}
	return f, t, nil
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || len(m) != 2 {
		return 0, fmt.Errorf("%q is not HH:MM", s)
	}
	total := hour*60 + minute
	if hour < 0 || minute < 0 || minute > 59 || total > minutesPerDay {
		return 0, fmt.Errorf("%q is out of range", s)
	}
	return total, nil
}

func window(day time.Time, from, to int) Window {
	d := day.Format(dayLayout)
	return Window{Day: &d, MinuteFrom: from, MinuteTo: to}
}

// dateOf returns midnight of t's calendar date, as a UTC value so that day
// arithmetic is unaffected by DST shifts.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func minuteOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DayAndMinute locates t in the yard calendar.
func DayAndMinute(t time.Time, loc *time.Location) (string, int) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return local.Format(dayLayout), minuteOf(local)
}
