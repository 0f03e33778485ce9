// Package app wires the workspace together: it resolves paths from config,
// loads state and policy, builds the adapter registry and exposes the
// between-tick operations (renew, release arm) shared by the CLI and the
// admin API.
package app

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vigil/internal/adapters"
	"vigil/internal/audit"
	"vigil/internal/config"
	"vigil/internal/domain"
	"vigil/internal/engine"
	"vigil/internal/policy"
	"vigil/internal/render"
	"vigil/internal/state"
)

// App bundles a workspace's configuration and derived handles.
type App struct {
	Workspace string
	Config    *config.Config
	Now       func() time.Time
}

// Open loads the workspace config.
func Open(workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	return &App{Workspace: workspace, Config: cfg, Now: time.Now}, nil
}

// OpenDetached builds an App over defaults without requiring vigil.yml, for
// commands whose input paths are all supplied explicitly.
func OpenDetached(workspace string) *App {
	return &App{Workspace: workspace, Config: config.Detached(), Now: time.Now}
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// StatePath resolves the state file path against the workspace.
func (a *App) StatePath() string { return a.resolve(a.Config.Paths.State) }

// PolicyDir resolves the policy directory.
func (a *App) PolicyDir() string { return a.resolve(a.Config.Paths.Policies) }

// AuditPath resolves the audit ledger path.
func (a *App) AuditPath() string { return a.resolve(a.Config.Paths.Audit) }

// TemplatesDir resolves the templates directory.
func (a *App) TemplatesDir() string { return a.resolve(a.Config.Paths.Templates) }

func (a *App) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.Workspace, p)
}

// LoadState reads the workspace state file.
func (a *App) LoadState() (*domain.State, error) {
	return state.Load(a.StatePath())
}

// SaveState persists the state file atomically.
func (a *App) SaveState(st *domain.State) error {
	return state.Save(a.StatePath(), st)
}

// LoadPolicy loads and compiles the policy directory.
func (a *App) LoadPolicy() (*policy.Policy, error) {
	return policy.Load(a.PolicyDir())
}

// AuditWriter returns a ledger writer for the workspace.
func (a *App) AuditWriter() audit.Writer {
	return audit.Writer{Path: a.AuditPath(), Now: a.Now}
}

// Adapters builds the shipped adapter registry from config.
func (a *App) Adapters() adapters.Registry {
	reg := adapters.Registry{}
	reg.Register(&adapters.Webhook{
		Timeout: time.Duration(a.Config.Adapters.Webhook.TimeoutSeconds) * time.Second,
		Client:  http.DefaultClient,
	})
	reg.Register(&adapters.Email{
		Host:     a.Config.Adapters.Email.Host,
		Port:     a.Config.Adapters.Email.Port,
		From:     a.Config.Adapters.Email.From,
		Username: a.Config.Adapters.Email.Username,
		Password: a.Config.Adapters.Email.Password,
	})
	reg.Register(&adapters.SMS{
		GatewayURL: a.Config.Adapters.SMS.GatewayURL,
		APIKey:     a.Config.Adapters.SMS.APIKey,
	})
	reg.Register(&adapters.Archive{Dir: a.resolve(a.Config.Adapters.Archive.Dir)})
	return reg
}

// Engine assembles a tick engine over the workspace.
func (a *App) Engine(dryRun bool) (engine.Engine, error) {
	pol, err := a.LoadPolicy()
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(pol, a.AuditWriter(), a.Adapters(), render.Renderer{Dir: a.TemplatesDir()})
	e.Now = a.Now
	e.DryRun = dryRun
	return e, nil
}

// Renew is the external renewal command: it stamps the renewal block,
// pushes the deadline out, de-escalates to OK and clears the manual release
// trigger. This is the only path that clears release.triggered.
func (a *App) Renew(extendMinutes int) (*domain.State, error) {
	st, err := a.LoadState()
	if err != nil {
		return nil, err
	}
	if extendMinutes <= 0 {
		extendMinutes = a.Config.Timer.RenewMinutes
	}
	now := a.now()
	nowStr := now.Format(time.RFC3339)

	st.Renewal.LastRenewalAt = nowStr
	st.Renewal.RenewedThisTick = true
	st.Renewal.Count++
	st.Timer.Deadline = now.Add(time.Duration(extendMinutes) * time.Minute).Format(time.RFC3339)
	st.Release = domain.Release{}

	fromStage := st.Escalation.Stage
	if st.Escalation.Stage != domain.StageOK {
		st.Escalation.Stage = domain.StageOK
		st.Escalation.StateEnteredAt = nowStr
		st.Escalation.LastTransitionRule = domain.RuleIDRenewal
	}
	st.Meta.UpdatedAt = nowStr

	aud := a.AuditWriter()
	if err := aud.Append(audit.TypeRenewal, "", st.Meta.StateID, map[string]any{
		"count":       st.Renewal.Count,
		"deadline":    st.Timer.Deadline,
		"stage_from":  fromStage,
		"stage_after": st.Escalation.Stage,
	}); err != nil {
		return nil, err
	}
	if fromStage != st.Escalation.Stage {
		if err := aud.Append(audit.TypeStateTransition, "", st.Meta.StateID, map[string]any{
			"from":    fromStage,
			"to":      st.Escalation.Stage,
			"rule_id": domain.RuleIDRenewal,
		}); err != nil {
			return nil, err
		}
	}
	if err := a.SaveState(st); err != nil {
		return nil, err
	}
	return st, nil
}

// ArmRelease arms the manual override. The next tick whose now passes
// execute_after force-sets the target stage.
func (a *App) ArmRelease(targetStage string, delayMinutes int) (*domain.State, error) {
	st, err := a.LoadState()
	if err != nil {
		return nil, err
	}
	if targetStage == "" {
		targetStage = domain.StageFull
	}
	if domain.StageRank(targetStage) < 0 {
		return nil, fmt.Errorf("unknown release stage %q", targetStage)
	}
	now := a.now()
	st.Release = domain.Release{
		Triggered:    true,
		TargetStage:  targetStage,
		DelayMinutes: delayMinutes,
		ClientToken:  uuid.New().String(),
	}
	if delayMinutes > 0 {
		st.Release.ExecuteAfter = now.Add(time.Duration(delayMinutes) * time.Minute).Format(time.RFC3339)
	}
	st.Meta.UpdatedAt = now.Format(time.RFC3339)

	if err := a.AuditWriter().Append(audit.TypeReleaseArmed, "", st.Meta.StateID, map[string]any{
		"target_stage":  targetStage,
		"delay_minutes": delayMinutes,
		"execute_after": st.Release.ExecuteAfter,
		"client_token":  st.Release.ClientToken,
	}); err != nil {
		return nil, err
	}
	if err := a.SaveState(st); err != nil {
		return nil, err
	}
	return st, nil
}
