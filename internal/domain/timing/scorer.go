// internal/domain/timing/scorer.go
package timing

import (
	"post_scheduler/internal/domain/post"
	"time"
)

// Composite score weights and caps. The caps keep a few viral outliers from
// flattening every other hour to near zero.
const (
	engagementRateWeight  = 0.5
	impressionsWeight     = 0.3
	totalEngagementWeight = 0.2

	impressionsCap     = 1000.0
	totalEngagementCap = 100.0

	// contentTypeHighConfidencePosts promotes a content type's best hour from medium to high.
	contentTypeHighConfidencePosts = 10
)

// HourlyScore aggregates all observations that were published in one local hour.
type HourlyScore struct {
	Hour              int
	Posts             int
	AvgEngagementRate float64
	AvgImpressions    float64
	AvgEngagement     float64
	Score             float64 // composite, always in [0,1]
}

// DailyScore aggregates observations by local weekday.
type DailyScore struct {
	Weekday           time.Weekday
	Posts             int
	AvgEngagementRate float64
	AvgImpressions    float64
	AvgEngagement     float64
}

// ContentTypeScore is the best hour for one content type.
type ContentTypeScore struct {
	ContentType       post.ContentType
	BestHour          int
	AvgEngagementRate float64 // of the best hour
	Posts             int     // all posts of this type
	Confidence        Confidence
}

// Scores is the scorer output. Buckets without observations are absent from the maps;
// callers must treat a missing key as "no data", never as a zero score.
type Scores struct {
	Hourly       map[int]HourlyScore
	Daily        map[time.Weekday]DailyScore
	ContentTypes map[post.ContentType]ContentTypeScore
}

type bucket struct {
	n           int
	rate        float64
	impressions float64
	engagement  float64
}

func (b *bucket) add(o post.Observation) {
	b.n++
	b.rate += o.EngagementRate
	b.impressions += float64(o.Impressions)
	b.engagement += float64(o.TotalEngagement)
}

func (b bucket) means() (rate, impressions, engagement float64) {
	if b.n == 0 {
		return 0, 0, 0
	}
	n := float64(b.n)
	return b.rate / n, b.impressions / n, b.engagement / n
}

// Score converts a user's history into hourly, daily and per-content-type scores.
func Score(history []post.Observation) Scores {
	hours := make(map[int]*bucket)
	days := make(map[time.Weekday]*bucket)
	typeHours := make(map[post.ContentType]map[int]*bucket)
	typeCounts := make(map[post.ContentType]int)

	for _, o := range history {
		if o.Hour < 0 || o.Hour > 23 || o.Weekday < time.Sunday || o.Weekday > time.Saturday {
			continue
		}
		if hours[o.Hour] == nil {
			hours[o.Hour] = &bucket{}
		}
		hours[o.Hour].add(o)

		if days[o.Weekday] == nil {
			days[o.Weekday] = &bucket{}
		}
		days[o.Weekday].add(o)

		if o.ContentType != "" {
			if typeHours[o.ContentType] == nil {
				typeHours[o.ContentType] = make(map[int]*bucket)
			}
			if typeHours[o.ContentType][o.Hour] == nil {
				typeHours[o.ContentType][o.Hour] = &bucket{}
			}
			typeHours[o.ContentType][o.Hour].add(o)
			typeCounts[o.ContentType]++
		}
	}

	out := Scores{
		Hourly:       make(map[int]HourlyScore, len(hours)),
		Daily:        make(map[time.Weekday]DailyScore, len(days)),
		ContentTypes: make(map[post.ContentType]ContentTypeScore, len(typeHours)),
	}

	for h, b := range hours {
		rate, impressions, engagement := b.means()
		out.Hourly[h] = HourlyScore{
			Hour:              h,
			Posts:             b.n,
			AvgEngagementRate: rate,
			AvgImpressions:    impressions,
			AvgEngagement:     engagement,
			Score:             CompositeScore(rate, impressions, engagement),
		}
	}

	for d, b := range days {
		rate, impressions, engagement := b.means()
		out.Daily[d] = DailyScore{
			Weekday:           d,
			Posts:             b.n,
			AvgEngagementRate: rate,
			AvgImpressions:    impressions,
			AvgEngagement:     engagement,
		}
	}

	for ct, byHour := range typeHours {
		best := ContentTypeScore{ContentType: ct, BestHour: -1, Posts: typeCounts[ct]}
		for h := 0; h < 24; h++ {
			b, ok := byHour[h]
			if !ok {
				continue
			}
			rate, _, _ := b.means()
			if best.BestHour < 0 || rate > best.AvgEngagementRate {
				best.BestHour = h
				best.AvgEngagementRate = rate
			}
		}
		best.Confidence = ConfidenceMedium
		if best.Posts >= contentTypeHighConfidencePosts {
			best.Confidence = ConfidenceHigh
		}
		out.ContentTypes[ct] = best
	}

	return out
}

// CompositeScore combines the mean engagement rate with capped impressions and engagement.
// The result is clamped to [0,1].
func CompositeScore(engagementRate, avgImpressions, avgEngagement float64) float64 {
	s := clamp01(engagementRate)*engagementRateWeight +
		clamp01(avgImpressions/impressionsCap)*impressionsWeight +
		clamp01(avgEngagement/totalEngagementCap)*totalEngagementWeight
	return clamp01(s)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
