package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Quota is the license usage reported by the service.
type Quota struct {
	Used      int    `json:"quotaUsed" yaml:"used"`
	Total     int    `json:"quotaTotal" yaml:"total"`
	Remaining int    `json:"quotaRemaining" yaml:"remaining"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Rating is a thumbs up/down verdict on a generated test.
type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// ParseRating accepts "up" or "down".
func ParseRating(s string) (Rating, error) {
	switch Rating(s) {
	case RatingUp, RatingDown:
		return Rating(s), nil
	}
	return "", fmt.Errorf("rating must be %q or %q, got %q", RatingUp, RatingDown, s)
}

// FetchQuota returns the current quota. Failures degrade to a zero Quota after
// the retry budget is spent; only cancellation is reported as an error.
func (c *Client) FetchQuota(ctx context.Context) (Quota, error) {
	var q Quota
	err := retry(ctx, c.opts.QuotaRetry, func(ctx context.Context, _ int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/fetch-quota?licenseKey="+url.QueryEscape(c.opts.LicenseKey), nil)
		if err != nil {
			return err
		}
		if c.opts.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}
		var got Quota
		if err := c.do(httpReq, &got); err != nil {
			return err
		}
		q = got
		return nil
	}, c.onRetry("fetch-quota"))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Quota{}, ctxErr
		}
		c.logger.Warn("quota unavailable", zap.Error(err))
		return Quota{}, nil
	}
	return q, nil
}

type feedbackRequest struct {
	Cut    string `json:"cut"`
	Rating Rating `json:"rating"`
}

// SendFeedback posts a rating for cut. Delivery is best effort: failures are
// retried and then dropped.
func (c *Client) SendFeedback(ctx context.Context, cut string, rating Rating) {
	payload, err := json.Marshal(feedbackRequest{Cut: cut, Rating: rating})
	if err != nil {
		return
	}
	err = retry(ctx, c.opts.FeedbackRetry, func(ctx context.Context, _ int) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.opts.Token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}
		return c.do(httpReq, nil)
	}, c.onRetry("feedback"))
	if err != nil {
		c.logger.Debug("feedback dropped", zap.String("cut", cut), zap.Error(err))
	}
}
