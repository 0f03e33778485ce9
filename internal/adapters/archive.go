package adapters

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"vigil/internal/domain"
)

// Archive persists the rendered disclosure artifact to a local directory.
// It is the generic persistence surface: whatever the stage discloses is
// written once per action, named by tick and artifact.
type Archive struct {
	Dir string
}

func (a *Archive) Name() string { return "archive" }

func (a *Archive) Enabled(ec ExecutionContext) bool { return a.Dir != "" }

func (a *Archive) Validate(ec ExecutionContext) error {
	if ec.Rendered == "" && ec.Action.Artifact == "" {
		return fmt.Errorf("archive adapter: action %s has neither template nor artifact", ec.Action.ID)
	}
	return nil
}

func (a *Archive) Execute(ctx context.Context, ec ExecutionContext) (domain.Receipt, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return domain.FailedReceipt("archive_mkdir", err.Error(), true), nil
	}
	name := ec.Action.Artifact
	if name == "" {
		name = ec.Action.ID
	}
	path := filepath.Join(a.Dir, fmt.Sprintf("%s-%s.txt", ec.TickID, name))
	if err := os.WriteFile(path, []byte(ec.Rendered), 0o644); err != nil {
		return domain.FailedReceipt("archive_write", err.Error(), true), nil
	}
	return domain.OKReceipt(uuid.New().String()), nil
}
