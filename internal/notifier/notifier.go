// Package notifier delivers best-effort balance-change notifications to an
// internal endpoint. Delivery failures never affect the ledger path.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client posts balance-change events to the configured notification URL.
type Client struct {
	url        string
	httpClient *retryablehttp.Client
}

// balanceChange is the wire form of one notification.
type balanceChange struct {
	UserID      string `json:"user_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Type        string `json:"type"`
}

// NewClient creates a notification client for the given URL.
func NewClient(url string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 1 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		url:        strings.TrimRight(url, "/"),
		httpClient: c,
	}
}

// NotifyBalanceChange posts one notification. The caller treats any returned
// error as log-only.
func (c *Client) NotifyBalanceChange(ctx context.Context, userID string, amountMinor int64, currency, reference, entryType string) error {
	if c == nil || c.url == "" {
		return nil
	}

	body, err := json.Marshal(balanceChange{
		UserID:      userID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Reference:   reference,
		Type:        entryType,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
