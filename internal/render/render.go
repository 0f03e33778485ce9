// Package render resolves action templates into message text. The engine
// consumes it as an opaque string-producing function.
package render

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"vigil/internal/domain"
)

// Data is the template execution context.
type Data struct {
	State  *domain.State
	Action domain.ActionDefinition
	TickID string
}

// Renderer loads templates from a directory.
type Renderer struct {
	Dir string
}

// Render produces the message text for an action. Actions without a
// template yield empty text, which adapters treat as "no rendered body".
func (r Renderer) Render(st *domain.State, action domain.ActionDefinition, tickID string) (string, error) {
	if action.Template == "" {
		return "", nil
	}
	name := filepath.Base(action.Template)
	tmpl, err := template.New(name).ParseFiles(filepath.Join(r.Dir, name))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", action.Template, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, Data{State: st, Action: action, TickID: tickID}); err != nil {
		return "", fmt.Errorf("render template %s: %w", action.Template, err)
	}
	return sb.String(), nil
}

// DefaultTemplates are written by `vigil init`.
var DefaultTemplates = map[string]string{
	"remind1.txt":     "Reminder: {{.State.Meta.Project}} deadline in {{.State.Timer.MinutesToDeadline}} minutes. Check in to renew.\n",
	"remind2.txt":     "Urgent: {{.State.Meta.Project}} deadline in {{.State.Timer.MinutesToDeadline}} minutes. Renew now or escalation begins.\n",
	"remind2_sms.txt": "{{.State.Meta.Project}}: {{.State.Timer.MinutesToDeadline}}m to deadline. Renew now.\n",
	"prerelease.txt":  "Deadline for {{.State.Meta.Project}} passed {{.State.Timer.MinutesOverdue}} minutes ago. Disclosure is imminent unless renewed.\n",
	"partial.txt":     "Partial disclosure for {{.State.Meta.Project}} (stage {{.State.Escalation.Stage}}, tick {{.TickID}}).\n",
	"full.txt":        "Full disclosure for {{.State.Meta.Project}} (stage {{.State.Escalation.Stage}}, tick {{.TickID}}).\n",
}
