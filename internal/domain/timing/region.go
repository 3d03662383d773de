// internal/domain/timing/region.go
package timing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SpecialPeriod is a calendar window with known atypical engagement, e.g. Ramadan.
// Start and End are inclusive dates.
type SpecialPeriod struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether the local date of t falls inside the period.
func (p SpecialPeriod) Contains(t time.Time) bool {
	d := dateOf(t)
	return !d.Before(dateOf(p.Start)) && !d.After(dateOf(p.End))
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ramadanPeriods covers the years the service has been configured for.
// Further years come from SPECIAL_PERIODS.
var ramadanPeriods = []SpecialPeriod{
	{Name: "ramadan", Start: time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), End: time.Date(2025, time.March, 30, 0, 0, 0, 0, time.UTC)},
	{Name: "ramadan", Start: time.Date(2026, time.February, 18, 0, 0, 0, 0, time.UTC), End: time.Date(2026, time.March, 19, 0, 0, 0, 0, time.UTC)},
}

// Region carries the locale rules: timezone, weekend definition, and fallback tables.
type Region struct {
	Location       *time.Location
	WeekendDays    map[time.Weekday]bool
	Weekday        DayTable
	Weekend        DayTable
	SpecialWeekday DayTable
	SpecialWeekend DayTable
	Periods        []SpecialPeriod
}

// DefaultRegion returns the Gulf defaults: Friday/Saturday weekend, Ramadan-aware tables.
// weekdayTimes overrides the weekday morning/midday/evening clock times when non-empty.
func DefaultRegion(loc *time.Location, weekdayTimes map[SlotLabel]string, extra []SpecialPeriod) (Region, error) {
	if loc == nil {
		loc = time.UTC
	}
	r := Region{
		Location:    loc,
		WeekendDays: map[time.Weekday]bool{time.Friday: true, time.Saturday: true},
		Weekday: DayTable{
			SlotMorning: {Hour: 9, Minute: 0, Score: 0.75, Confidence: ConfidenceRegional},
			SlotMidday:  {Hour: 13, Minute: 0, Score: 0.70, Confidence: ConfidenceRegional},
			SlotEvening: {Hour: 20, Minute: 0, Score: 0.85, Confidence: ConfidenceRegional},
		},
		Weekend: DayTable{
			SlotMorning:   {Hour: 11, Minute: 0, Score: 0.60, Confidence: ConfidenceRegional},
			SlotAfternoon: {Hour: 15, Minute: 0, Score: 0.65, Confidence: ConfidenceRegional},
			SlotEvening:   {Hour: 21, Minute: 0, Score: 0.80, Confidence: ConfidenceRegional},
		},
		SpecialWeekday: DayTable{
			SlotMorning: {Hour: 10, Minute: 0, Score: 0.55, Confidence: ConfidenceRegional},
			SlotMidday:  {Hour: 14, Minute: 0, Score: 0.50, Confidence: ConfidenceRegional},
			SlotEvening: {Hour: 22, Minute: 0, Score: 0.90, Confidence: ConfidenceRegional},
		},
		SpecialWeekend: DayTable{
			SlotMorning:   {Hour: 12, Minute: 0, Score: 0.50, Confidence: ConfidenceRegional},
			SlotAfternoon: {Hour: 16, Minute: 0, Score: 0.55, Confidence: ConfidenceRegional},
			SlotEvening:   {Hour: 22, Minute: 30, Score: 0.90, Confidence: ConfidenceRegional},
		},
		Periods: append(append([]SpecialPeriod{}, ramadanPeriods...), extra...),
	}

	for label, clock := range weekdayTimes {
		if clock == "" {
			continue
		}
		slot, ok := r.Weekday[label]
		if !ok {
			return Region{}, fmt.Errorf("%w: %q is not a weekday slot", ErrUnknownSlotLabel, label)
		}
		h, m, err := ParseClock(clock)
		if err != nil {
			return Region{}, fmt.Errorf("invalid %s time: %w", label, err)
		}
		slot.Hour, slot.Minute = h, m
		r.Weekday[label] = slot
	}
	return r, nil
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("clock %q has invalid hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("clock %q has invalid minute", s)
	}
	return h, m, nil
}

// ParsePeriods parses "YYYY-MM-DD:YYYY-MM-DD[,...]" ranges into ramadan periods.
func ParsePeriods(s string) ([]SpecialPeriod, error) {
	var out []SpecialPeriod
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		bounds := strings.Split(raw, ":")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("period %q is not START:END", raw)
		}
		start, err := time.Parse("2006-01-02", bounds[0])
		if err != nil {
			return nil, fmt.Errorf("period %q: invalid start: %w", raw, err)
		}
		end, err := time.Parse("2006-01-02", bounds[1])
		if err != nil {
			return nil, fmt.Errorf("period %q: invalid end: %w", raw, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("period %q ends before it starts", raw)
		}
		out = append(out, SpecialPeriod{Name: "ramadan", Start: start, End: end})
	}
	return out, nil
}

// DayTypeOf classifies an instant by the region's weekend rule, in local time.
func (r Region) DayTypeOf(t time.Time) DayType {
	if r.WeekendDays[t.In(r.loc()).Weekday()] {
		return DayTypeWeekend
	}
	return DayTypeWeekday
}

// IsWeekendDay classifies a weekday number.
func (r Region) IsWeekendDay(d time.Weekday) bool {
	return r.WeekendDays[d]
}

// ActivePeriod returns the special period covering now, if any.
func (r Region) ActivePeriod(now time.Time) (SpecialPeriod, bool) {
	local := now.In(r.loc())
	for _, p := range r.Periods {
		if p.Contains(local) {
			return p, true
		}
	}
	return SpecialPeriod{}, false
}

// DefaultSlot is the fixed fallback for a slot when history has nothing in its hour range.
func (r Region) DefaultSlot(dt DayType, label SlotLabel) SlotTime {
	var s SlotTime
	if dt == DayTypeWeekend {
		s = r.Weekend[label]
	} else {
		s = r.Weekday[label]
	}
	s.Confidence = ConfidenceDefault
	return s
}

// DefaultProfile returns the regional fallback profile for now. It is a pure function of
// (userID, now): the same inputs always produce the same profile.
func (r Region) DefaultProfile(userID int64, dataPoints int, now time.Time) *TimingProfile {
	p := &TimingProfile{
		UserID:      userID,
		Weekday:     r.Weekday.clone(),
		Weekend:     r.Weekend.clone(),
		Confidence:  ConfidenceRegional,
		DataPoints:  dataPoints,
		GeneratedAt: now,
	}
	if period, ok := r.ActivePeriod(now); ok {
		p.Weekday = r.SpecialWeekday.clone()
		p.Weekend = r.SpecialWeekend.clone()
		p.SpecialPeriod = period.Name
	}
	return p
}

func (r Region) loc() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}
