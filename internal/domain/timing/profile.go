// internal/domain/timing/profile.go
package timing

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"post_scheduler/internal/domain/post"
)

var (
	ErrProfileNotFound    = errors.New("timing profile not found")
	ErrInvalidPlanRequest = errors.New("invalid plan request")
	ErrUnknownSlotLabel   = errors.New("unknown slot label")
)

// Confidence tags how much data backs a slot or a whole profile.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceHigh     Confidence = "high"
	ConfidenceRegional Confidence = "regional"
	ConfidenceDefault  Confidence = "default"
)

// SlotLabel names one of the canonical posting slots of a day.
type SlotLabel string

const (
	SlotMorning   SlotLabel = "morning"
	SlotMidday    SlotLabel = "midday"    // weekday middle slot
	SlotAfternoon SlotLabel = "afternoon" // weekend middle slot
	SlotEvening   SlotLabel = "evening"
)

// ParseSlotLabel validates a label coming from storage or a request.
func ParseSlotLabel(s string) (SlotLabel, error) {
	switch l := SlotLabel(s); l {
	case SlotMorning, SlotMidday, SlotAfternoon, SlotEvening:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSlotLabel, s)
	}
}

// DayType splits the week for slot tables.
type DayType string

const (
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
)

// WeekdayLabels and WeekendLabels are the canonical slots per day type, in clock order.
var (
	WeekdayLabels = []SlotLabel{SlotMorning, SlotMidday, SlotEvening}
	WeekendLabels = []SlotLabel{SlotMorning, SlotAfternoon, SlotEvening}
)

// LabelsFor returns the canonical labels for a day type.
func LabelsFor(dt DayType) []SlotLabel {
	if dt == DayTypeWeekend {
		return WeekendLabels
	}
	return WeekdayLabels
}

// SlotTime is a recommended local clock time with its score in [0,1].
type SlotTime struct {
	Hour       int        `json:"hour"`
	Minute     int        `json:"minute"`
	Score      float64    `json:"score"`
	Confidence Confidence `json:"confidence"`
}

// Clock renders the slot as HH:MM.
func (s SlotTime) Clock() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// DayTable maps canonical labels to slots for one day type.
type DayTable map[SlotLabel]SlotTime

// Ranked returns the table's labels by score descending; ties keep the earlier clock time first.
func (t DayTable) Ranked() []SlotLabel {
	labels := make([]SlotLabel, 0, len(t))
	for l := range t {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, b := t[labels[i]], t[labels[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Hour != b.Hour || a.Minute != b.Minute {
			return a.Hour*60+a.Minute < b.Hour*60+b.Minute
		}
		return labels[i] < labels[j]
	})
	return labels
}

func (t DayTable) clone() DayTable {
	out := make(DayTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ContentTypeSlot is the best hour found for one content type.
type ContentTypeSlot struct {
	Hour           int        `json:"hour"`
	Minute         int        `json:"minute"`
	EngagementRate float64    `json:"engagement_rate"`
	Posts          int        `json:"posts"`
	Confidence     Confidence `json:"confidence"`
}

// TimingProfile is the per-user recommendation derived from engagement history.
// It is a disposable cache: it can always be rebuilt from analytics.
type TimingProfile struct {
	UserID        int64                                `json:"user_id"`
	Weekday       DayTable                             `json:"weekday"`
	Weekend       DayTable                             `json:"weekend"`
	ContentTypes  map[post.ContentType]ContentTypeSlot `json:"content_types,omitempty"`
	BestDays      []time.Weekday                       `json:"best_days,omitempty"`
	Confidence    Confidence                           `json:"confidence"`
	SpecialPeriod string                               `json:"special_period,omitempty"`
	DataPoints    int                                  `json:"data_points"`
	GeneratedAt   time.Time                            `json:"generated_at"`
}

// Table returns the slot table for a day type.
func (p *TimingProfile) Table(dt DayType) DayTable {
	if dt == DayTypeWeekend {
		return p.Weekend
	}
	return p.Weekday
}

// Slot looks up a labelled slot for a day type.
func (p *TimingProfile) Slot(dt DayType, label SlotLabel) (SlotTime, bool) {
	s, ok := p.Table(dt)[label]
	return s, ok
}

// ConfidenceForCount maps an observation count to the overall confidence tag.
func ConfidenceForCount(n int) Confidence {
	switch {
	case n >= HighConfidencePosts:
		return ConfidenceHigh
	case n >= MediumConfidencePosts:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

const (
	// MinDataPoints is the history size below which a profile falls back to regional defaults.
	MinDataPoints         = 10
	MediumConfidencePosts = 20
	HighConfidencePosts   = 50
	// MinContentTypePosts is required before a content type gets its own override.
	MinContentTypePosts = 5
)
