// Package authority wraps the external purchase-code verification API
// (marketplace) behind a bounded-timeout, bounded-retry client.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"license-server/internal/logging"
	"license-server/internal/verification"
)

// Config holds authority client settings
type Config struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Client calls the purchase-code authority. It never blocks longer than
// Timeout per attempt and (RetryAttempts+1) attempts total; anything
// beyond that is reported as Unreachable, never as an error the engine
// would have to interpret.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logging.Logger
}

// confirmResponse is the authority's answer for a purchase code
type confirmResponse struct {
	Valid     bool   `json:"valid"`
	ProductID string `json:"product_id"`
	Message   string `json:"message"`
}

// NewClient creates an authority client
func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if log == nil {
		log = logging.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.WithComponent("authority"),
	}
}

// Confirm asks the authority whether a purchase code is genuine for a
// product. Transport errors and 5xx responses are retried with a fixed
// backoff; exhausting the retry budget yields Unreachable.
func (c *Client) Confirm(ctx context.Context, purchaseCode, productID string) (verification.AuthorityOutcome, error) {
	attempts := c.cfg.RetryAttempts + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, retry, err := c.confirmOnce(ctx, purchaseCode, productID)
		if !retry {
			return outcome, err
		}
		c.log.Warn("authority attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err)

		if attempt < attempts && c.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return verification.AuthorityUnreachable, nil
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
	}
	return verification.AuthorityUnreachable, nil
}

// confirmOnce performs a single authority call. retry is true for
// transport errors and server-side failures.
func (c *Client) confirmOnce(ctx context.Context, purchaseCode, productID string) (verification.AuthorityOutcome, bool, error) {
	endpoint := fmt.Sprintf("%s/verify?code=%s&product=%s",
		c.cfg.BaseURL, url.QueryEscape(purchaseCode), url.QueryEscape(productID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return verification.AuthorityUnreachable, false, fmt.Errorf("failed to build authority request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return verification.AuthorityUnreachable, true, fmt.Errorf("authority request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body confirmResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return verification.AuthorityUnreachable, true, fmt.Errorf("failed to decode authority response: %w", err)
		}
		if !body.Valid {
			return verification.AuthorityRejected, false, nil
		}
		if body.ProductID != "" && body.ProductID != productID {
			return verification.AuthorityRejected, false, nil
		}
		return verification.AuthorityConfirmed, false, nil

	case resp.StatusCode == http.StatusNotFound:
		// Unknown purchase code is an explicit rejection
		return verification.AuthorityRejected, false, nil

	case resp.StatusCode >= 500:
		return verification.AuthorityUnreachable, true, fmt.Errorf("authority returned %d", resp.StatusCode)

	default:
		// Client-side errors (bad token, throttling) are not retried and
		// not attributable to the caller
		return verification.AuthorityUnreachable, false, fmt.Errorf("authority returned %d", resp.StatusCode)
	}
}
