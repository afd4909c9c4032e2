package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// RunID identifies one attempted execution of the payroll-audit workflow.
// Run ids are assigned by the run store as a monotonic sequence; they are
// never generated randomly, so two stores seeded from the same backing
// storage can never hand out colliding ids.
type RunID int64

// ParseRunID validates and returns a RunID from its decimal string form.
func ParseRunID(s string) (RunID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid run id: %q", s)
	}
	return RunID(n), nil
}

// String returns the decimal representation of the run id.
func (id RunID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil returns true if the run id has not been assigned.
func (id RunID) IsNil() bool {
	return id == 0
}

// TokenID is the opaque identifier of an approval token. It is a v4 UUID,
// which carries 122 bits of randomness - comfortably above the 96-bit
// unguessability floor approval links require.
type TokenID string

// NewTokenID generates a fresh unguessable token id.
func NewTokenID() TokenID {
	return TokenID(uuid.NewString())
}

// String returns the token id as a plain string.
func (id TokenID) String() string {
	return string(id)
}

// IsNil returns true if the token id is empty.
func (id TokenID) IsNil() bool {
	return id == ""
}
