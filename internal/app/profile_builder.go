// internal/app/profile_builder.go
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/timing"

	"github.com/sirupsen/logrus"
)

// DefaultLookbackDays is used when the caller passes a non-positive window.
const DefaultLookbackDays = 90

// hourRange is the inclusive local-hour window searched for each canonical slot.
type hourRange struct{ from, to int }

var slotHourRanges = map[timing.SlotLabel]hourRange{
	timing.SlotMorning:   {6, 11},
	timing.SlotMidday:    {12, 16},
	timing.SlotAfternoon: {12, 16},
	timing.SlotEvening:   {17, 22},
}

// ProfileBuilder computes a TimingProfile from a user's measured history.
// It reads but never writes; caching is the caller's job.
type ProfileBuilder struct {
	source ObservationSource
	region timing.Region
	now    func() time.Time
	logger *logrus.Entry
}

func NewProfileBuilder(source ObservationSource, region timing.Region, logger *logrus.Entry) *ProfileBuilder {
	return &ProfileBuilder{
		source: source,
		region: region,
		now:    time.Now,
		logger: logger,
	}
}

// Build pulls the lookback window of history and converts it into a profile.
func (b *ProfileBuilder) Build(ctx context.Context, userID int64, lookbackDays int) (*timing.TimingProfile, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	now := b.now()
	since := now.AddDate(0, 0, -lookbackDays)

	history, err := b.source.ListObservations(ctx, userID, since, b.region.Location.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load engagement history for user %d: %w", userID, err)
	}

	profile := BuildFromHistory(userID, history, b.region, now)
	b.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"data_points": len(history),
		"confidence":  profile.Confidence,
		"lookback":    lookbackDays,
	}).Debug("Timing profile built")
	return profile, nil
}

// BuildFromHistory is the pure part of Build. With fewer than timing.MinDataPoints
// observations it returns exactly the regional default profile for now.
func BuildFromHistory(userID int64, history []post.Observation, region timing.Region, now time.Time) *timing.TimingProfile {
	if len(history) < timing.MinDataPoints {
		return region.DefaultProfile(userID, len(history), now)
	}

	confidence := timing.ConfidenceForCount(len(history))
	all := timing.Score(history)

	var weekdayObs, weekendObs []post.Observation
	for _, o := range history {
		if region.IsWeekendDay(o.Weekday) {
			weekendObs = append(weekendObs, o)
		} else {
			weekdayObs = append(weekdayObs, o)
		}
	}

	profile := &timing.TimingProfile{
		UserID:      userID,
		Weekday:     selectSlots(timing.Score(weekdayObs).Hourly, timing.DayTypeWeekday, confidence, region),
		Weekend:     selectSlots(timing.Score(weekendObs).Hourly, timing.DayTypeWeekend, confidence, region),
		BestDays:    bestDays(all.Daily, 3),
		Confidence:  confidence,
		DataPoints:  len(history),
		GeneratedAt: now,
	}

	for ct, s := range all.ContentTypes {
		if s.Posts < timing.MinContentTypePosts || s.BestHour < 0 {
			continue
		}
		if profile.ContentTypes == nil {
			profile.ContentTypes = make(map[post.ContentType]timing.ContentTypeSlot)
		}
		profile.ContentTypes[ct] = timing.ContentTypeSlot{
			Hour:           s.BestHour,
			EngagementRate: s.AvgEngagementRate,
			Posts:          s.Posts,
			Confidence:     s.Confidence,
		}
	}

	if period, ok := region.ActivePeriod(now); ok {
		profile.SpecialPeriod = period.Name
	}
	return profile
}

// selectSlots picks the best-scoring observed hour inside each slot's range,
// falling back to the region default when the range has no observations.
func selectSlots(hourly map[int]timing.HourlyScore, dt timing.DayType, confidence timing.Confidence, region timing.Region) timing.DayTable {
	table := make(timing.DayTable, 3)
	for _, label := range timing.LabelsFor(dt) {
		r := slotHourRanges[label]
		best, found := timing.HourlyScore{}, false
		for h := r.from; h <= r.to; h++ {
			s, ok := hourly[h]
			if !ok {
				continue
			}
			if !found || s.Score > best.Score {
				best, found = s, true
			}
		}
		if !found {
			table[label] = region.DefaultSlot(dt, label)
			continue
		}
		table[label] = timing.SlotTime{Hour: best.Hour, Minute: 0, Score: best.Score, Confidence: confidence}
	}
	return table
}

func bestDays(daily map[time.Weekday]timing.DailyScore, n int) []time.Weekday {
	days := make([]timing.DailyScore, 0, len(daily))
	for _, d := range daily {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].AvgEngagementRate != days[j].AvgEngagementRate {
			return days[i].AvgEngagementRate > days[j].AvgEngagementRate
		}
		return days[i].Weekday < days[j].Weekday
	})
	if len(days) > n {
		days = days[:n]
	}
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = d.Weekday
	}
	return out
}
