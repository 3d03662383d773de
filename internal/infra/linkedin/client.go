package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"post_scheduler/internal/domain/post"
	"post_scheduler/internal/domain/publisher"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	apiVersion      = "202405"
	feedURLTemplate = "https://www.linkedin.com/feed/update/%s/"
	maxErrorBody    = 512
)

// Config tunes the client. Zero values fall back to defaults.
type Config struct {
	BaseURL          string
	RatePerSec       int
	FailureThreshold uint          // failures within FailureWindow executions that open the breaker
	FailureWindow    uint          // executions considered by the breaker
	OpenDelay        time.Duration // how long the breaker stays open before probing
	HTTPClient       *http.Client
	OnStateChange    func(state string)
}

// Client publishes posts through the platform's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	creds   publisher.CredentialStore
	limiter *rate.Limiter
	breaker circuitbreaker.CircuitBreaker[*publisher.Result]
	logger  *logrus.Entry
}

func NewClient(cfg Config, creds publisher.CredentialStore, logger *logrus.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.linkedin.com"
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.FailureWindow == 0 {
		cfg.FailureWindow = 10
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.FailureWindow {
		cfg.FailureThreshold = cfg.FailureWindow / 2
		if cfg.FailureThreshold == 0 {
			cfg.FailureThreshold = 1
		}
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	breaker := circuitbreaker.NewBuilder[*publisher.Result]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(1).
		HandleIf(func(_ *publisher.Result, err error) bool {
			// A rejected post or a revoked token says nothing about platform health.
			return err != nil && !errors.Is(err, publisher.ErrRejected) && !errors.Is(err, publisher.ErrCredentialMissing)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			to := stateName(event.NewState)
			logger.WithFields(logrus.Fields{
				"from_state": stateName(event.OldState),
				"to_state":   to,
			}).Warn("Publisher circuit breaker state change")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(to)
			}
		}).
		Build()

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		breaker: breaker,
		logger:  logger,
	}
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}

// Publish implements publisher.Publisher.
func (c *Client) Publish(ctx context.Context, userID int64, p *post.Post) (*publisher.Result, error) {
	if err := post.Validate(p.Content); err != nil {
		return nil, fmt.Errorf("%w: %v", publisher.ErrRejected, err)
	}

	cred, err := c.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	req, err := buildPostRequest(cred.MemberURN, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", publisher.ErrRejected, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode post %d: %w", p.ID, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("rate limiter: %w", err))
	}

	res, err := failsafe.With[*publisher.Result](c.breaker).WithContext(ctx).Get(func() (*publisher.Result, error) {
		return c.send(ctx, cred.AccessToken, body)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, publisher.ErrCircuitOpen
		}
		if errors.Is(err, publisher.ErrPublishTimeout) {
			return nil, err
		}
		return nil, timeoutOr(ctx, err)
	}
	return res, nil
}

func (c *Client) send(ctx context.Context, token string, body []byte) (*publisher.Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/posts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("LinkedIn-Version", apiVersion)
	httpReq.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, timeoutOr(ctx, fmt.Errorf("linkedin request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		id := resp.Header.Get("X-Restli-Id")
		if id == "" {
			var decoded struct {
				ID string `json:"id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
				id = decoded.ID
			}
		}
		if id == "" {
			return nil, fmt.Errorf("linkedin accepted the post but returned no id")
		}
		return &publisher.Result{ExternalID: id, URL: fmt.Sprintf(feedURLTemplate, id)}, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: token rejected (401): %s", publisher.ErrCredentialMissing, readSnippet(resp.Body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("linkedin returned %d: %s", resp.StatusCode, readSnippet(resp.Body))
	default:
		return nil, fmt.Errorf("%w (%d): %s", publisher.ErrRejected, resp.StatusCode, readSnippet(resp.Body))
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", publisher.ErrPublishTimeout, err)
	}
	return err
}
