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

// SMS posts the rendered message to an HTTP SMS gateway for each routed
// number.
type SMS struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
	Client     *http.Client
}

type smsPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Enabled(ec ExecutionContext) bool {
	return s.GatewayURL != "" && len(ec.State.Integrations.Routing.SMS) > 0
}

func (s *SMS) Validate(ec ExecutionContext) error {
	u, err := url.Parse(s.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("sms adapter: invalid gateway url %q", s.GatewayURL)
	}
	return nil
}

func (s *SMS) Execute(ctx context.Context, ec ExecutionContext) (domain.Receipt, error) {
	client := s.Client
	if client == nil {
		timeout := s.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	for _, number := range ec.State.Integrations.Routing.SMS {
		body, err := json.Marshal(smsPayload{To: number, Message: ec.Rendered})
		if err != nil {
			return domain.Receipt{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.GatewayURL, bytes.NewReader(body))
		if err != nil {
			return domain.Receipt{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.APIKey)
		}
		resp, err := client.Do(req)
		if err != nil {
			return domain.FailedReceipt("sms_gateway_unreachable", err.Error(), true), nil
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return domain.FailedReceipt("sms_gateway_status", fmt.Sprintf("gateway returned %d for %s", resp.StatusCode, number), resp.StatusCode >= 500), nil
		}
	}
	return domain.OKReceipt(uuid.New().String()), nil
}
