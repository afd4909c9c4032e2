// Package collab holds the default implementations of the scheduler's
// collaborator interfaces. Everything here sits at the edge: the scheduling
// core treats these as opaque and survives any of them failing.
package collab

import (
	"context"
	"encoding/json"
	"os"

	"payrun/internal/scheduler"
	dErrors "payrun/pkg/domain-errors"
)

// FilePolicySource reads policy snapshots from a JSON file on every call,
// so edits to the file take effect on the next tick without a restart.
type FilePolicySource struct {
	path string
}

// NewFilePolicySource constructs a source over the given file path.
func NewFilePolicySource(path string) (*FilePolicySource, error) {
	if path == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "policy file path is required")
	}
	return &FilePolicySource{path: path}, nil
}

func (s *FilePolicySource) Snapshots(_ context.Context) ([]scheduler.PolicySnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read policy file")
	}
	var snapshots []scheduler.PolicySnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parse policy file")
	}
	return snapshots, nil
}

// StaticPolicySource serves a fixed snapshot list. Used by tests and by the
// one-shot tick command when snapshots are passed inline.
type StaticPolicySource struct {
	snapshots []scheduler.PolicySnapshot
}

// NewStaticPolicySource constructs a source over the given snapshots.
func NewStaticPolicySource(snapshots []scheduler.PolicySnapshot) *StaticPolicySource {
	return &StaticPolicySource{snapshots: snapshots}
}

func (s *StaticPolicySource) Snapshots(_ context.Context) ([]scheduler.PolicySnapshot, error) {
	return append([]scheduler.PolicySnapshot(nil), s.snapshots...), nil
}
