// internal/domain/publisher/publisher.go
package publisher

import (
	"context"
	"errors"

	"post_scheduler/internal/domain/post"
)

var (
	ErrCredentialMissing = errors.New("no valid publishing credential")
	ErrPublishTimeout    = errors.New("publish timed out")
	ErrCircuitOpen       = errors.New("publisher temporarily unavailable")
	ErrRejected          = errors.New("platform rejected the post")
)

// Result identifies the published post on the platform.
type Result struct {
	ExternalID string
	URL        string
}

// Publisher posts content to the external platform on behalf of a user.
type Publisher interface {
	Publish(ctx context.Context, userID int64, p *post.Post) (*Result, error)
}

// CredentialChecker is consulted before every publish attempt.
type CredentialChecker interface {
	HasValidCredential(ctx context.Context, userID int64) (bool, error)
}

// Credential is a stored platform access token.
type Credential struct {
	UserID      int64
	MemberURN   string
	AccessToken string
}

// CredentialStore resolves the token used for a publish call.
type CredentialStore interface {
	CredentialChecker
	Get(ctx context.Context, userID int64) (*Credential, error)
}
