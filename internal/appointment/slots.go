package appointment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	TimeFormat = "15:04"      // HH:MM
	DateFormat = "2006-01-02" // YYYY-MM-DD
)

// Clock is a time of day in minutes since midnight.
type Clock int

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(TimeFormat, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is one business-hours block, [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

type Slot struct {
	Start Clock
	End   Clock
}

// On places the slot on a calendar day. day must be midnight in the clinic
// timezone.
func (s Slot) On(day time.Time) (start, end time.Time) {
	start = day.Add(time.Duration(s.Start) * time.Minute)
	end = day.Add(time.Duration(s.End) * time.Minute)
	return start, end
}

type DayTemplate struct {
	Windows []Window
}

// DefaultDayTemplate is the clinic's morning and afternoon blocks.
func DefaultDayTemplate() DayTemplate {
	return DayTemplate{Windows: []Window{
		{Start: 8 * 60, End: 12 * 60},
		{Start: 14 * 60, End: 17 * 60},
	}}
}

// ParseDayTemplate reads "08:00-12:00,14:00-17:00".
func ParseDayTemplate(hours string) (DayTemplate, error) {
	var tpl DayTemplate
	for _, part := range strings.Split(hours, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return DayTemplate{}, fmt.Errorf("business hours window %q: want HH:MM-HH:MM", part)
		}
		start, err := ParseClock(bounds[0])
		if err != nil {
			return DayTemplate{}, err
		}
		end, err := ParseClock(bounds[1])
		if err != nil {
			return DayTemplate{}, err
		}
		if end <= start {
			return DayTemplate{}, fmt.Errorf("business hours window %q ends before it starts", part)
		}
		tpl.Windows = append(tpl.Windows, Window{Start: start, End: end})
	}

	if len(tpl.Windows) == 0 {
		return DayTemplate{}, fmt.Errorf("business hours %q define no windows", hours)
	}

	sort.Slice(tpl.Windows, func(i, j int) bool { return tpl.Windows[i].Start < tpl.Windows[j].Start })
	for i := 1; i < len(tpl.Windows); i++ {
		if tpl.Windows[i].Start < tpl.Windows[i-1].End {
			return DayTemplate{}, fmt.Errorf("business hours windows %s-%s and %s-%s overlap",
				tpl.Windows[i-1].Start, tpl.Windows[i-1].End, tpl.Windows[i].Start, tpl.Windows[i].End)
		}
	}

	return tpl, nil
}

// SlotsForDay slices every window into back-to-back slots of the given
// length. A slot that would run past its window is dropped.
func (t DayTemplate) SlotsForDay(durationMinutes int) []Slot {
	if durationMinutes <= 0 {
		return []Slot{}
	}

	step := Clock(durationMinutes)
	slots := make([]Slot, 0)
	for _, w := range t.Windows {
		for start := w.Start; start+step <= w.End; start += step {
			slots = append(slots, Slot{Start: start, End: start + step})
		}
	}
	return slots
}

// DayStart truncates t to midnight of its calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseDate reads a YYYY-MM-DD calendar day in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateFormat, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}
