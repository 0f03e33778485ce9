// Package vigilsdk is a minimal client for the Vigil admin API. Its main
// consumer is check-in automation: a cron job or laptop agent that calls
// Renew on the operator's behalf.
package vigilsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Vigil admin API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Status is the switch snapshot served by the API.
type Status struct {
	Project           string   `json:"project"`
	Stage             string   `json:"stage"`
	StageEnteredAt    string   `json:"stage_entered_at,omitempty"`
	Deadline          string   `json:"deadline"`
	GraceMinutes      int      `json:"grace_minutes"`
	MinutesToDeadline int64    `json:"minutes_to_deadline"`
	MinutesOverdue    int64    `json:"minutes_overdue"`
	LastRenewalAt     string   `json:"last_renewal_at,omitempty"`
	RenewalCount      int64    `json:"renewal_count"`
	ReleaseTriggered  bool     `json:"release_triggered"`
	LastTickActions   []string `json:"last_tick_actions,omitempty"`
}

// Release is the manual-override block.
type Release struct {
	Triggered    bool   `json:"triggered"`
	TargetStage  string `json:"target_stage,omitempty"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	ExecuteAfter string `json:"execute_after,omitempty"`
	ClientToken  string `json:"client_token,omitempty"`
}

// Event is one audit-ledger entry.
type Event struct {
	Timestamp string         `json:"timestamp"`
	EventID   string         `json:"event_id"`
	TickID    string         `json:"tick_id,omitempty"`
	StateID   int64          `json:"state_id"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Status fetches the current switch status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// Renew checks in, pushing the deadline out. A zero extendMinutes uses the
// server's configured renewal interval.
func (c *Client) Renew(ctx context.Context, extendMinutes int) (Status, error) {
	body := map[string]any{}
	if extendMinutes > 0 {
		body["extend_minutes"] = extendMinutes
	}
	var resp Status
	err := c.do(ctx, http.MethodPost, "renew", body, &resp)
	return resp, err
}

// ArmRelease arms the manual release override.
func (c *Client) ArmRelease(ctx context.Context, targetStage string, delayMinutes int) (Release, error) {
	body := map[string]any{}
	if targetStage != "" {
		body["target_stage"] = targetStage
	}
	if delayMinutes > 0 {
		body["delay_minutes"] = delayMinutes
	}
	var resp struct {
		Release Release `json:"release"`
	}
	err := c.do(ctx, http.MethodPost, "release", body, &resp)
	return resp.Release, err
}

// Events tails the audit ledger.
func (c *Client) Events(ctx context.Context, n int, eventType string) ([]Event, error) {
	endpoint := "events"
	sep := "?"
	if n > 0 {
		endpoint = fmt.Sprintf("%s%sn=%d", endpoint, sep, n)
		sep = "&"
	}
	if eventType != "" {
		endpoint = fmt.Sprintf("%s%stype=%s", endpoint, sep, eventType)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
