package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SQLiteStoreSuite struct {
	suite.Suite
	store *SQLiteStore
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *SQLiteStoreSuite) SetupTest() {
	store, err := OpenSQLite(filepath.Join(s.T().TempDir(), "ledger.db"))
	require.NoError(s.T(), err)
	s.store = store
	s.T().Cleanup(func() { _ = store.Close() })
}

func (s *SQLiteStoreSuite) TestClaimSurvivesReopen() {
	ctx := context.Background()
	path := filepath.Join(s.T().TempDir(), "reopen.db")

	store, err := OpenSQLite(path)
	s.Require().NoError(err)

	claimed, err := store.RecordIfAbsent(ctx, ScopeSchedulerAction, "RUN_AUDIT|LOC1|2024-01-01|2024-01-15")
	s.Require().NoError(err)
	s.True(claimed)
	s.Require().NoError(store.Close())

	reopened, err := OpenSQLite(path)
	s.Require().NoError(err)
	defer reopened.Close()

	claimed, err = reopened.RecordIfAbsent(ctx, ScopeSchedulerAction, "RUN_AUDIT|LOC1|2024-01-01|2024-01-15")
	s.Require().NoError(err)
	s.False(claimed, "claims are durable across process restarts")
}

func (s *SQLiteStoreSuite) TestRecordIfAbsentAndHasRecorded() {
	ctx := context.Background()

	claimed, err := s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "SEND_EMAIL|12")
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "SEND_EMAIL|12")
	s.Require().NoError(err)
	s.False(claimed)

	recorded, err := s.store.HasRecorded(ctx, ScopeSchedulerAction, "SEND_EMAIL|12")
	s.Require().NoError(err)
	s.True(recorded)

	recorded, err = s.store.HasRecorded(ctx, "task_filing", "SEND_EMAIL|12")
	s.Require().NoError(err)
	s.False(recorded)
}
