package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-atendente/internal/domain"
)

// Hours describes when the business takes appointments.
type Hours struct {
	Location      *time.Location
	Open          time.Duration // offset from local midnight
	Close         time.Duration // offset from local midnight
	Days          []time.Weekday
	Step          time.Duration
	MaxCandidates int
}

// DefaultHours is Monday to Saturday, 09:00 to 18:00, 30 minute grid.
func DefaultHours(loc *time.Location) Hours {
	if loc == nil {
		loc = time.UTC
	}
	return Hours{
		Location:      loc,
		Open:          9 * time.Hour,
		Close:         18 * time.Hour,
		Days:          []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
		Step:          30 * time.Minute,
		MaxCandidates: 5,
	}
}

func (h Hours) loc() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h Hours) openOn(d time.Weekday) bool {
	for _, w := range h.Days {
		if w == d {
			return true
		}
	}
	return false
}

// Day returns the [start, end) bounds of the business day for date
// (YYYY-MM-DD) in the business location.
func (h Hours) Day(date string) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", date, h.loc())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidCriteria, date)
	}
	return d.Add(h.Open), d.Add(h.Close), nil
}

// Candidates generates free windows for c. busy intervals (any order) are
// skipped, as are windows starting before now. When c.Time is set the search
// starts there instead of at opening time.
func (h Hours) Candidates(c domain.Criteria, busy []domain.Slot, now time.Time) ([]domain.Slot, error) {
	open, closeAt, err := h.Day(c.Date)
	if err != nil {
		return nil, err
	}
	if !h.openOn(open.Weekday()) {
		return nil, nil
	}
	dur := c.Duration
	if dur <= 0 {
		dur = 30 * time.Minute
	}
	step := h.Step
	if step <= 0 {
		step = 30 * time.Minute
	}

	start := open
	if strings.TrimSpace(c.Time) != "" {
		off, err := ParseClock(c.Time)
		if err != nil {
			return nil, fmt.Errorf("%w: time %q", ErrInvalidCriteria, c.Time)
		}
		y, m, d := open.Date()
		pref := time.Date(y, m, d, 0, 0, 0, 0, h.loc()).Add(off)
		if pref.After(start) {
			start = pref
		}
	}

	var out []domain.Slot
	for t := start; !t.Add(dur).After(closeAt); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		s := domain.Slot{Start: t, End: t.Add(dur)}
		if overlapsAny(s, busy) {
			continue
		}
		out = append(out, s)
		if h.MaxCandidates > 0 && len(out) >= h.MaxCandidates {
			break
		}
	}
	return out, nil
}

func overlapsAny(s domain.Slot, busy []domain.Slot) bool {
	for _, b := range busy {
		if s.Start.Before(b.End) && b.Start.Before(s.End) {
			return true
		}
	}
	return false
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "dom": time.Sunday,
	"mon": time.Monday, "seg": time.Monday,
	"tue": time.Tuesday, "ter": time.Tuesday,
	"wed": time.Wednesday, "qua": time.Wednesday,
	"thu": time.Thursday, "qui": time.Thursday,
	"fri": time.Friday, "sex": time.Friday,
	"sat": time.Saturday, "sab": time.Saturday, "sáb": time.Saturday,
}

// ParseWeekdays parses a CSV of weekday numbers (0=Sunday) or short names
// in English or Portuguese ("mon,tue" or "seg,ter").
func ParseWeekdays(csv string) ([]time.Weekday, error) {
	var out []time.Weekday
	seen := map[time.Weekday]bool{}
	for _, p := range strings.Split(csv, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		var d time.Weekday
		if n, err := strconv.Atoi(p); err == nil {
			if n < 0 || n > 6 {
				return nil, fmt.Errorf("weekday %d out of range", n)
			}
			d = time.Weekday(n)
		} else {
			w, ok := weekdayNames[p]
			if !ok && len([]rune(p)) > 3 {
				w, ok = weekdayNames[string([]rune(p)[:3])]
			}
			if !ok {
				return nil, fmt.Errorf("unknown weekday %q", p)
			}
			d = w
		}
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out, nil
}
