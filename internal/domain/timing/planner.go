// internal/domain/timing/planner.go
package timing

import (
	"fmt"
	"sort"
	"time"
)

// MaxPlanDays bounds how far ahead a single plan may reach.
const MaxPlanDays = 90

// PlannedSlot is one concrete future publication time.
type PlannedSlot struct {
	At      time.Time
	Label   SlotLabel
	DayType DayType
	Score   float64
}

// Planner turns a profile into a calendar. It performs no I/O: the output is a
// deterministic function of (profile, daysAhead, postsPerDay, now).
type Planner struct {
	region Region
}

func NewPlanner(region Region) *Planner {
	return &Planner{region: region}
}

// Plan emits up to postsPerDay slots for each day in [today, today+daysAhead), dropping
// anything at or before now, sorted by time ascending.
func (p *Planner) Plan(profile *TimingProfile, daysAhead, postsPerDay int, now time.Time) ([]PlannedSlot, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrInvalidPlanRequest)
	}
	if daysAhead < 1 || daysAhead > MaxPlanDays {
		return nil, fmt.Errorf("%w: daysAhead must be within 1..%d, got %d", ErrInvalidPlanRequest, MaxPlanDays, daysAhead)
	}
	if postsPerDay < 1 {
		return nil, fmt.Errorf("%w: postsPerDay must be positive, got %d", ErrInvalidPlanRequest, postsPerDay)
	}

	loc := p.region.loc()
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	out := make([]PlannedSlot, 0, daysAhead*postsPerDay)
	for d := 0; d < daysAhead; d++ {
		day := start.AddDate(0, 0, d)
		dt := p.region.DayTypeOf(day)
		table := profile.Table(dt)

		// Two labels may resolve to the same clock time; the lower-ranked one gives way.
		taken := make(map[time.Time]bool, postsPerDay)
		for _, label := range table.Ranked() {
			if len(taken) == postsPerDay {
				break
			}
			slot := table[label]
			at := time.Date(day.Year(), day.Month(), day.Day(), slot.Hour, slot.Minute, 0, 0, loc)
			if taken[at] {
				continue
			}
			taken[at] = true
			if !at.After(now) {
				continue
			}
			out = append(out, PlannedSlot{At: at, Label: label, DayType: dt, Score: slot.Score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
