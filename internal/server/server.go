// Package server exposes the administrative HTTP API: a read/renew surface
// consulted between ticks. It never runs ticks itself.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"vigil/internal/app"
	"vigil/internal/audit"
	"vigil/internal/domain"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"state file missing"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

// New returns an HTTP handler exposing the vigil admin API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Vigil Admin API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.App)
	registerRenew(group, cfg.App)
	registerRelease(group, cfg.App)
	registerEvents(group, cfg.App)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// StatusBody is the between-tick state snapshot served to status pages.
type StatusBody struct {
	Project           string `json:"project"`
	Stage             string `json:"stage"`
	StageEnteredAt    string `json:"stage_entered_at,omitempty"`
	Deadline          string `json:"deadline"`
	GraceMinutes      int    `json:"grace_minutes"`
	MinutesToDeadline int64  `json:"minutes_to_deadline"`
	MinutesOverdue    int64  `json:"minutes_overdue"`
	LastRenewalAt     string `json:"last_renewal_at,omitempty"`
	RenewalCount      int64  `json:"renewal_count"`
	ReleaseTriggered  bool   `json:"release_triggered"`
	LastTickActions   []string `json:"last_tick_actions,omitempty"`
}

func statusBody(st *domain.State) StatusBody {
	return StatusBody{
		Project:           st.Meta.Project,
		Stage:             st.Escalation.Stage,
		StageEnteredAt:    st.Escalation.StateEnteredAt,
		Deadline:          st.Timer.Deadline,
		GraceMinutes:      st.Timer.GraceMinutes,
		MinutesToDeadline: st.Timer.MinutesToDeadline,
		MinutesOverdue:    st.Timer.MinutesOverdue,
		LastRenewalAt:     st.Renewal.LastRenewalAt,
		RenewalCount:      st.Renewal.Count,
		ReleaseTriggered:  st.Release.Triggered,
		LastTickActions:   st.Actions.LastTickActions,
	}
}

func registerStatus(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Current switch status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusBody `json:"body"`
	}, error) {
		st, err := a.LoadState()
		if err != nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", err.Error())
		}
		return &struct {
			Body StatusBody `json:"body"`
		}{Body: statusBody(st)}, nil
	})
}

func registerRenew(api huma.API, a *app.App) {
	type renewRequest struct {
		Body struct {
			ExtendMinutes int `json:"extend_minutes,omitempty" minimum:"0"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "renew",
		Method:      http.MethodPost,
		Path:        "/renew",
		Summary:     "Renew the deadline (check-in)",
	}, func(ctx context.Context, input *renewRequest) (*struct {
		Body StatusBody `json:"body"`
	}, error) {
		st, err := a.Renew(input.Body.ExtendMinutes)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "renew_failed", err.Error())
		}
		return &struct {
			Body StatusBody `json:"body"`
		}{Body: statusBody(st)}, nil
	})
}

func registerRelease(api huma.API, a *app.App) {
	type releaseRequest struct {
		Body struct {
			TargetStage  string `json:"target_stage,omitempty" enum:"OK,REMIND_1,REMIND_2,PRE_RELEASE,PARTIAL,FULL"`
			DelayMinutes int    `json:"delay_minutes,omitempty" minimum:"0"`
		} `json:"body"`
	}
	type releaseBody struct {
		Release domain.Release `json:"release"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "release-arm",
		Method:      http.MethodPost,
		Path:        "/release",
		Summary:     "Arm the manual release override",
	}, func(ctx context.Context, input *releaseRequest) (*struct {
		Body releaseBody `json:"body"`
	}, error) {
		st, err := a.ArmRelease(input.Body.TargetStage, input.Body.DelayMinutes)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "release_failed", err.Error())
		}
		return &struct {
			Body releaseBody `json:"body"`
		}{Body: releaseBody{Release: st.Release}}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	type eventsQuery struct {
		N    int    `query:"n" default:"20" minimum:"1" maximum:"1000"`
		Type string `query:"type"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit ledger",
	}, func(ctx context.Context, input *eventsQuery) (*struct {
		Body []audit.Event `json:"body"`
	}, error) {
		events, err := audit.Read(a.AuditPath())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "ledger_error", err.Error())
		}
		if input.Type != "" {
			filtered := events[:0:0]
			for _, ev := range events {
				if ev.Type == input.Type {
					filtered = append(filtered, ev)
				}
			}
			events = filtered
		}
		if input.N > 0 && len(events) > input.N {
			events = events[len(events)-input.N:]
		}
		return &struct {
			Body []audit.Event `json:"body"`
		}{Body: events}, nil
	})
}
