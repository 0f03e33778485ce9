package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"vigil/internal/domain"
)

// Webhook posts the rendered message as JSON to every routed webhook URL.
type Webhook struct {
	Timeout time.Duration
	Client  *http.Client
}

type webhookPayload struct {
	Project  string `json:"project"`
	TickID   string `json:"tick_id"`
	Stage    string `json:"stage"`
	ActionID string `json:"action_id"`
	Channel  string `json:"channel,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Enabled(ec ExecutionContext) bool {
	return len(ec.State.Integrations.Routing.Webhooks) > 0
}

func (w *Webhook) Validate(ec ExecutionContext) error {
	for _, raw := range ec.State.Integrations.Routing.Webhooks {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid webhook url %q", raw)
		}
	}
	return nil
}

func (w *Webhook) Execute(ctx context.Context, ec ExecutionContext) (domain.Receipt, error) {
	payload := webhookPayload{
		Project:  ec.State.Meta.Project,
		TickID:   ec.TickID,
		Stage:    ec.State.Escalation.Stage,
		ActionID: ec.Action.ID,
		Channel:  ec.Action.Channel,
		Message:  ec.Rendered,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Receipt{}, err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: w.timeout()}
	}
	for _, target := range ec.State.Integrations.Routing.Webhooks {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return domain.Receipt{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return domain.FailedReceipt("webhook_unreachable", err.Error(), true), nil
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return domain.FailedReceipt("webhook_status", fmt.Sprintf("%s returned %d", target, resp.StatusCode), resp.StatusCode >= 500), nil
		}
	}
	return domain.OKReceipt(uuid.New().String()), nil
}

func (w *Webhook) timeout() time.Duration {
	if w.Timeout > 0 {
		return w.Timeout
	}
	return 30 * time.Second
}
