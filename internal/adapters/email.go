package adapters

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"vigil/internal/domain"
)

// Email delivers the rendered message over SMTP to the routed recipients.
type Email struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string

	// Send overrides the SMTP call in tests.
	Send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (e *Email) Name() string { return "email" }

func (e *Email) Enabled(ec ExecutionContext) bool {
	return e.Host != "" && len(ec.State.Integrations.Routing.Email) > 0
}

func (e *Email) Validate(ec ExecutionContext) error {
	if e.From == "" {
		return fmt.Errorf("email adapter: from address not configured")
	}
	for _, rcpt := range ec.State.Integrations.Routing.Email {
		if !strings.Contains(rcpt, "@") {
			return fmt.Errorf("email adapter: invalid recipient %q", rcpt)
		}
	}
	return nil
}

func (e *Email) Execute(ctx context.Context, ec ExecutionContext) (domain.Receipt, error) {
	to := ec.State.Integrations.Routing.Email
	subject := fmt.Sprintf("[%s] %s notice", ec.State.Meta.Project, strings.ToLower(ec.State.Escalation.Stage))
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(ec.Rendered)

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	send := e.Send
	if send == nil {
		send = smtp.SendMail
	}
	addr := fmt.Sprintf("%s:%d", e.Host, e.port())
	if err := send(addr, auth, e.From, to, []byte(msg.String())); err != nil {
		return domain.FailedReceipt("smtp_error", err.Error(), true), nil
	}
	return domain.OKReceipt(uuid.New().String()), nil
}

func (e *Email) port() int {
	if e.Port > 0 {
		return e.Port
	}
	return 587
}
