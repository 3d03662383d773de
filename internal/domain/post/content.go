// internal/domain/post/content.go
package post

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType identifies the shape of a post body.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypePoll  ContentType = "poll"
)

// ParseContentType normalises a stored or user-supplied content type.
func ParseContentType(s string) (ContentType, error) {
	switch ct := ContentType(strings.ToLower(strings.TrimSpace(s))); ct {
	case ContentTypeText, ContentTypeImage, ContentTypePoll:
		return ct, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownContentType, s)
	}
}

// Content is the body of a post. The set of implementations is closed:
// TextContent, ImageContent and PollContent.
type Content interface {
	Type() ContentType
	sealed()
}

// TextContent is a plain text post.
type TextContent struct {
	Text string `json:"text"`
}

// ImageContent is commentary plus one or more already-uploaded image assets.
type ImageContent struct {
	Text      string   `json:"text"`
	ImageURNs []string `json:"image_urns"`
	AltTexts  []string `json:"alt_texts,omitempty"`
}

// PollContent is commentary plus a poll question.
type PollContent struct {
	Text          string   `json:"text"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	DurationHours int      `json:"duration_hours"`
}

func (TextContent) Type() ContentType  { return ContentTypeText }
func (ImageContent) Type() ContentType { return ContentTypeImage }
func (PollContent) Type() ContentType  { return ContentTypePoll }

func (TextContent) sealed()  {}
func (ImageContent) sealed() {}
func (PollContent) sealed()  {}

// Validate checks the variant-specific invariants of a content body.
func Validate(c Content) error {
	switch v := c.(type) {
	case TextContent:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("%w: text post has no text", ErrInvalidContent)
		}
	case ImageContent:
		if len(v.ImageURNs) == 0 {
			return fmt.Errorf("%w: image post has no images", ErrInvalidContent)
		}
	case PollContent:
		if strings.TrimSpace(v.Question) == "" {
			return fmt.Errorf("%w: poll has no question", ErrInvalidContent)
		}
		if len(v.Options) < 2 || len(v.Options) > 4 {
			return fmt.Errorf("%w: poll needs 2-4 options, got %d", ErrInvalidContent, len(v.Options))
		}
	case nil:
		return fmt.Errorf("%w: missing content", ErrInvalidContent)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownContentType, c)
	}
	return nil
}

// MarshalContent encodes a content body for the posts.payload column.
func MarshalContent(c Content) (ContentType, []byte, error) {
	if c == nil {
		return "", nil, fmt.Errorf("%w: missing content", ErrInvalidContent)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s content: %w", c.Type(), err)
	}
	return c.Type(), data, nil
}

// UnmarshalContent decodes a payload column back into its variant.
func UnmarshalContent(ct ContentType, data []byte) (Content, error) {
	switch ct {
	case ContentTypeText:
		var v TextContent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode text content: %w", err)
		}
		return v, nil
	case ContentTypeImage:
		var v ImageContent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode image content: %w", err)
		}
		return v, nil
	case ContentTypePoll:
		var v PollContent
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode poll content: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, ct)
	}
}
