package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vigil/internal/config"
	"vigil/internal/policy"
	"vigil/internal/render"
	"vigil/internal/state"
)

// Init scaffolds a fresh workspace: config, default policy documents,
// message templates and an initial state file with the deadline one renewal
// interval out. Existing files are never overwritten.
func Init(workspace, projectID string, now time.Time) error {
	cfg := config.Default(projectID)

	if err := writeIfMissing(config.Path(workspace), config.GenerateDefault(projectID)); err != nil {
		return err
	}

	policyDir := filepath.Join(workspace, cfg.Paths.Policies)
	for name, content := range map[string]string{
		policy.RulesFile:  policy.DefaultRules,
		policy.PlanFile:   policy.DefaultPlan,
		policy.StatesFile: policy.DefaultStates,
	} {
		if err := writeIfMissing(filepath.Join(policyDir, name), content); err != nil {
			return err
		}
	}

	tmplDir := filepath.Join(workspace, cfg.Paths.Templates)
	for name, content := range render.DefaultTemplates {
		if err := writeIfMissing(filepath.Join(tmplDir, name), content); err != nil {
			return err
		}
	}

	statePath := filepath.Join(workspace, cfg.Paths.State)
	if _, err := os.Stat(statePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	deadline := now.UTC().Add(time.Duration(cfg.Timer.RenewMinutes) * time.Minute)
	st := state.New(projectID, deadline, cfg.Timer.GraceMinutes)
	return state.Save(statePath, st)
}

func writeIfMissing(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
