package collab

import (
	"context"

	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
	"payrun/internal/scheduler"
)

// AuditorFunc adapts a function to the scheduler's Auditor interface. The
// real rule engine and payroll-source fetching live behind this seam.
type AuditorFunc func(ctx context.Context, policy scheduler.PolicySnapshot, run *runmodels.Run) ([]outcomemodels.Finding, error)

func (f AuditorFunc) Audit(ctx context.Context, policy scheduler.PolicySnapshot, run *runmodels.Run) ([]outcomemodels.Finding, error) {
	return f(ctx, policy, run)
}

// NoFindingsAuditor runs the workflow end to end without a rule engine
// attached. Development default.
func NoFindingsAuditor() scheduler.Auditor {
	return AuditorFunc(func(context.Context, scheduler.PolicySnapshot, *runmodels.Run) ([]outcomemodels.Finding, error) {
		return nil, nil
	})
}
