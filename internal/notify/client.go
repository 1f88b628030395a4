package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier accepts fire-and-forget alert calls. Delivery mechanics (push,
// email, SMS) live behind the external service.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// Client calls the external notification service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip short-circuits calls for local development.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts a message for the user. Failures are the caller's to log;
// they must never affect the underlying attendance write.
func (c *Client) Notify(ctx context.Context, userID, message string) error {
	if c.Skip {
		return nil
	}
	if userID == "" {
		return fmt.Errorf("user id required")
	}

	body, _ := json.Marshal(map[string]string{
		"user_id": userID,
		"message": message,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notifier error %s: %s", resp.Status, string(respBody))
	}
	return nil
}

// Health checks if the notifier is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notifier unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier unhealthy: %s", resp.Status)
	}
	return nil
}

var _ Notifier = (*Client)(nil)
