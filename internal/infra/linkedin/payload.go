package linkedin

import (
	"fmt"
	"strings"

	"post_scheduler/internal/domain/post"
)

// Request body for POST /rest/posts. Only the fields the scheduler sends are modelled.
type postRequest struct {
	Author                    string       `json:"author"`
	Commentary                string       `json:"commentary"`
	Visibility                string       `json:"visibility"`
	Distribution              distribution `json:"distribution"`
	Content                   *postContent `json:"content,omitempty"`
	LifecycleState            string       `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool         `json:"isReshareDisabledByAuthor"`
}

type distribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

type postContent struct {
	Media      *media      `json:"media,omitempty"`
	MultiImage *multiImage `json:"multiImage,omitempty"`
	Poll       *poll       `json:"poll,omitempty"`
}

type media struct {
	ID      string `json:"id"`
	AltText string `json:"altText,omitempty"`
}

type multiImage struct {
	Images []media `json:"images"`
}

type poll struct {
	Question string       `json:"question"`
	Options  []pollOption `json:"options"`
	Settings pollSettings `json:"settings"`
}

type pollOption struct {
	Text string `json:"text"`
}

type pollSettings struct {
	Duration string `json:"duration"`
}

// buildPostRequest turns a post into the platform request. The content switch is
// exhaustive: a new variant fails here until it is mapped.
func buildPostRequest(authorURN string, p *post.Post) (*postRequest, error) {
	req := &postRequest{
		Author:     authorURN,
		Visibility: "PUBLIC",
		Distribution: distribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState: "PUBLISHED",
	}

	switch c := p.Content.(type) {
	case post.TextContent:
		req.Commentary = withHashtags(c.Text, p.Hashtags)
	case post.ImageContent:
		req.Commentary = withHashtags(c.Text, p.Hashtags)
		images := make([]media, 0, len(c.ImageURNs))
		for i, urn := range c.ImageURNs {
			m := media{ID: urn}
			if i < len(c.AltTexts) {
				m.AltText = c.AltTexts[i]
			}
			images = append(images, m)
		}
		if len(images) == 1 {
			req.Content = &postContent{Media: &images[0]}
		} else {
			req.Content = &postContent{MultiImage: &multiImage{Images: images}}
		}
	case post.PollContent:
		req.Commentary = withHashtags(c.Text, p.Hashtags)
		options := make([]pollOption, 0, len(c.Options))
		for _, o := range c.Options {
			options = append(options, pollOption{Text: o})
		}
		req.Content = &postContent{Poll: &poll{
			Question: c.Question,
			Options:  options,
			Settings: pollSettings{Duration: pollDuration(c.DurationHours)},
		}}
	default:
		return nil, fmt.Errorf("%w: %T", post.ErrUnknownContentType, p.Content)
	}
	return req, nil
}

// withHashtags appends normalised hashtags on their own paragraph.
func withHashtags(text string, hashtags []string) string {
	tags := make([]string, 0, len(hashtags))
	seen := make(map[string]bool, len(hashtags))
	for _, h := range hashtags {
		h = strings.TrimLeft(strings.TrimSpace(h), "#")
		h = strings.ReplaceAll(h, " ", "")
		if h == "" || seen[strings.ToLower(h)] {
			continue
		}
		seen[strings.ToLower(h)] = true
		tags = append(tags, "#"+h)
	}
	if len(tags) == 0 {
		return text
	}
	return strings.TrimRight(text, "\n ") + "\n\n" + strings.Join(tags, " ")
}

// pollDuration snaps hours to the closest duration the platform accepts, rounding up.
func pollDuration(hours int) string {
	switch {
	case hours <= 24:
		return "ONE_DAY"
	case hours <= 72:
		return "THREE_DAYS"
	case hours <= 168:
		return "ONE_WEEK"
	default:
		return "TWO_WEEKS"
	}
}
