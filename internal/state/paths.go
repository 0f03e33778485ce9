package state

import (
	"fmt"
	"sort"
	"strings"

	"vigil/internal/domain"
)

// Accessor is one entry of the closed field table. Every dotted path a
// policy document may reference resolves to exactly one accessor; unknown
// paths are rejected when the policy is loaded, not silently ignored at
// tick time.
type Accessor struct {
	Get   func(*domain.State) any
	Set   func(*domain.State, any) error
	Clear func(*domain.State)
}

// legacy alias: old policy documents address the timer block as "time.".
const legacyTimerPrefix = "time."

// Normalize canonicalizes a dotted path, folding legacy aliases.
func Normalize(path string) string {
	if strings.HasPrefix(path, legacyTimerPrefix) {
		return "timer." + strings.TrimPrefix(path, legacyTimerPrefix)
	}
	return path
}

// Lookup resolves a dotted path against the field table.
func Lookup(path string) (Accessor, bool) {
	a, ok := fields[Normalize(path)]
	return a, ok
}

// KnownPaths returns every addressable path, sorted. Used by policy
// validation error messages and by the scaffolded documentation.
func KnownPaths() []string {
	out := make([]string, 0, len(fields))
	for p := range fields {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func stringField(get func(*domain.State) *string) Accessor {
	return Accessor{
		Get: func(s *domain.State) any { return *get(s) },
		Set: func(s *domain.State, v any) error {
			sv, ok := v.(string)
			if !ok {
				return fmt.Errorf("expected string, got %T", v)
			}
			*get(s) = sv
			return nil
		},
		Clear: func(s *domain.State) { *get(s) = "" },
	}
}

func intField(get func(*domain.State) *int64) Accessor {
	return Accessor{
		Get: func(s *domain.State) any { return *get(s) },
		Set: func(s *domain.State, v any) error {
			n, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("expected number, got %T", v)
			}
			*get(s) = n
			return nil
		},
		Clear: func(s *domain.State) { *get(s) = 0 },
	}
}

func intPtrField(get func(*domain.State) *int) Accessor {
	return Accessor{
		Get: func(s *domain.State) any { return int64(*get(s)) },
		Set: func(s *domain.State, v any) error {
			n, ok := toInt64(v)
			if !ok {
				return fmt.Errorf("expected number, got %T", v)
			}
			*get(s) = int(n)
			return nil
		},
		Clear: func(s *domain.State) { *get(s) = 0 },
	}
}

func boolField(get func(*domain.State) *bool) Accessor {
	return Accessor{
		Get: func(s *domain.State) any { return *get(s) },
		Set: func(s *domain.State, v any) error {
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("expected bool, got %T", v)
			}
			*get(s) = b
			return nil
		},
		Clear: func(s *domain.State) { *get(s) = false },
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

var fields = map[string]Accessor{
	"meta.project":  stringField(func(s *domain.State) *string { return &s.Meta.Project }),
	"meta.state_id": intField(func(s *domain.State) *int64 { return &s.Meta.StateID }),

	"timer.deadline":            stringField(func(s *domain.State) *string { return &s.Timer.Deadline }),
	"timer.grace_minutes":       intPtrField(func(s *domain.State) *int { return &s.Timer.GraceMinutes }),
	"timer.now":                 stringField(func(s *domain.State) *string { return &s.Timer.Now }),
	"timer.minutes_to_deadline": intField(func(s *domain.State) *int64 { return &s.Timer.MinutesToDeadline }),
	"timer.minutes_overdue":     intField(func(s *domain.State) *int64 { return &s.Timer.MinutesOverdue }),

	"renewal.last_renewal_at":   stringField(func(s *domain.State) *string { return &s.Renewal.LastRenewalAt }),
	"renewal.renewed_this_tick": boolField(func(s *domain.State) *bool { return &s.Renewal.RenewedThisTick }),
	"renewal.count":             intField(func(s *domain.State) *int64 { return &s.Renewal.Count }),

	"escalation.stage":                stringField(func(s *domain.State) *string { return &s.Escalation.Stage }),
	"escalation.state_entered_at":     stringField(func(s *domain.State) *string { return &s.Escalation.StateEnteredAt }),
	"escalation.last_transition_rule": stringField(func(s *domain.State) *string { return &s.Escalation.LastTransitionRule }),

	"release.triggered":     boolField(func(s *domain.State) *bool { return &s.Release.Triggered }),
	"release.target_stage":  stringField(func(s *domain.State) *string { return &s.Release.TargetStage }),
	"release.delay_minutes": intPtrField(func(s *domain.State) *int { return &s.Release.DelayMinutes }),
	"release.execute_after": stringField(func(s *domain.State) *string { return &s.Release.ExecuteAfter }),
	"release.client_token":  stringField(func(s *domain.State) *string { return &s.Release.ClientToken }),
}
