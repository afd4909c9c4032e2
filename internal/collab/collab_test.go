package collab

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outcomemodels "payrun/internal/outcome/models"
	runmodels "payrun/internal/run/models"
	"payrun/pkg/domain"
)

func testRun() *runmodels.Run {
	return &runmodels.Run{
		ID:               1,
		ClientLocationID: "LOC1",
		Period:           domain.Period{Start: "2024-01-01", End: "2024-01-15"},
	}
}

func TestFilePolicySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.json")
	content := `[
		{"client_location_id": "LOC1", "period_start": "2024-01-01", "period_end": "2024-01-15"},
		{"client_location_id": "LOC2", "period_start": "2024-01-01", "period_end": "2024-01-15", "automation_enabled": false}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	source, err := NewFilePolicySource(path)
	require.NoError(t, err)

	snapshots, err := source.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "LOC1", snapshots[0].ClientLocationID)
	assert.True(t, snapshots[0].Enabled())
	assert.False(t, snapshots[1].Enabled())
}

func TestFilePolicySourceMissingFile(t *testing.T) {
	source, err := NewFilePolicySource(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	_, err = source.Snapshots(context.Background())
	assert.Error(t, err)
}

func TestFilePolicySourceEmptyPath(t *testing.T) {
	_, err := NewFilePolicySource("")
	assert.Error(t, err)
}

func TestFindingsArtifactBuilderCSV(t *testing.T) {
	builder := NewFindingsArtifactBuilder()
	findings := []outcomemodels.Finding{
		{RuleID: "overtime_threshold", EmployeeID: "E1", Severity: "warning", Message: "weekly overtime above threshold"},
		{RuleID: "missed_break", EmployeeID: "E2", Severity: "violation", Message: "no meal break recorded"},
	}

	artifact, err := builder.Build(context.Background(), ArtifactCSV, testRun(), findings)
	require.NoError(t, err)
	assert.Equal(t, outcomemodels.ArtifactGenerated, artifact.Status)

	lines := strings.Split(strings.TrimSpace(artifact.Content), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "rule_id,employee_id,severity,message", lines[0])
	assert.Contains(t, lines[1], "overtime_threshold")
}

func TestFindingsArtifactBuilderSkipsWhenClean(t *testing.T) {
	builder := NewFindingsArtifactBuilder()
	for _, kind := range builder.Kinds() {
		artifact, err := builder.Build(context.Background(), kind, testRun(), nil)
		require.NoError(t, err)
		assert.Equal(t, outcomemodels.ArtifactSkipped, artifact.Status)
		assert.Empty(t, artifact.Content)
	}
}

func TestTemplateComposer(t *testing.T) {
	composer := NewTemplateComposer()
	outcome := &outcomemodels.Outcome{
		RunID: 1,
		Findings: []outcomemodels.Finding{
			{RuleID: "overtime_threshold", Message: "weekly overtime above threshold"},
		},
	}

	rendered, err := composer.Compose(context.Background(), outcome, testRun())
	require.NoError(t, err)
	assert.Equal(t, "Payroll audit LOC1 2024-01-01 to 2024-01-15", rendered.Subject)
	assert.Contains(t, rendered.Text, "overtime_threshold")
	assert.Contains(t, rendered.HTML, "<strong>overtime_threshold</strong>")
}

func TestTemplateComposerNoFindings(t *testing.T) {
	composer := NewTemplateComposer()
	rendered, err := composer.Compose(context.Background(), &outcomemodels.Outcome{RunID: 1}, testRun())
	require.NoError(t, err)
	assert.Contains(t, rendered.Text, "No findings")
	assert.Contains(t, rendered.HTML, "No findings")
}
