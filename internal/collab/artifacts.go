package collab

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
	"payrun/internal/scheduler"
	dErrors "payrun/pkg/domain-errors"
)

// Artifact kinds produced by the default builder.
const (
	ArtifactCSV     = "csv"
	ArtifactSummary = "summary"
)

// FindingsArtifactBuilder renders a run's findings as a CSV export and a
// plain-text summary. A run with no findings skips both artifacts instead of
// attaching empty files.
type FindingsArtifactBuilder struct{}

// NewFindingsArtifactBuilder constructs the default builder.
func NewFindingsArtifactBuilder() *FindingsArtifactBuilder {
	return &FindingsArtifactBuilder{}
}

func (b *FindingsArtifactBuilder) Kinds() []string {
	return []string{ArtifactCSV, ArtifactSummary}
}

func (b *FindingsArtifactBuilder) Build(_ context.Context, kind string, run *runmodels.Run, findings []outcomemodels.Finding) (outcomemodels.Artifact, error) {
	if len(findings) == 0 {
		return outcomemodels.Artifact{Type: kind, Status: outcomemodels.ArtifactSkipped}, nil
	}

	switch kind {
	case ArtifactCSV:
		content, err := renderCSV(findings)
		if err != nil {
			return outcomemodels.Artifact{}, err
		}
		return outcomemodels.Artifact{Type: kind, Status: outcomemodels.ArtifactGenerated, Content: content}, nil
	case ArtifactSummary:
		return outcomemodels.Artifact{
			Type:    kind,
			Status:  outcomemodels.ArtifactGenerated,
			Content: renderSummary(run, findings),
		}, nil
	default:
		return outcomemodels.Artifact{}, dErrors.New(dErrors.CodeInvariantViolation, "unknown artifact kind "+kind)
	}
}

func renderCSV(findings []outcomemodels.Finding) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"rule_id", "employee_id", "severity", "message"}); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "write csv header")
	}
	for _, finding := range findings {
		if err := w.Write([]string{finding.RuleID, finding.EmployeeID, finding.Severity, finding.Message}); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "flush csv")
	}
	return buf.String(), nil
}

func renderSummary(run *runmodels.Run, findings []outcomemodels.Finding) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Payroll audit for %s (%s to %s)\n", run.ClientLocationID, run.Period.Start, run.Period.End)
	fmt.Fprintf(&buf, "%d finding(s)\n\n", len(findings))
	for _, finding := range findings {
		fmt.Fprintf(&buf, "- [%s] %s: %s\n", finding.Severity, finding.RuleID, finding.Message)
	}
	return buf.String()
}

var _ scheduler.ArtifactBuilder = (*FindingsArtifactBuilder)(nil)
