package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) TestRecordIfAbsentClaimsOnce() {
	ctx := context.Background()

	first, err := s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "RUN_AUDIT|LOC1|2024-01-01|2024-01-15")
	s.Require().NoError(err)
	s.True(first)

	second, err := s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "RUN_AUDIT|LOC1|2024-01-01|2024-01-15")
	s.Require().NoError(err)
	s.False(second)
}

func (s *InMemoryStoreSuite) TestScopesAreIndependent() {
	ctx := context.Background()

	claimed, err := s.store.RecordIfAbsent(ctx, "scheduler_action", "SEND_EMAIL|42")
	s.Require().NoError(err)
	s.True(claimed)

	claimed, err = s.store.RecordIfAbsent(ctx, "task_filing", "SEND_EMAIL|42")
	s.Require().NoError(err)
	s.True(claimed, "same key in a different scope is a fresh claim")
}

func (s *InMemoryStoreSuite) TestHasRecorded() {
	ctx := context.Background()

	recorded, err := s.store.HasRecorded(ctx, ScopeSchedulerAction, "SEND_EMAIL|7")
	s.Require().NoError(err)
	s.False(recorded)

	_, err = s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "SEND_EMAIL|7")
	s.Require().NoError(err)

	recorded, err = s.store.HasRecorded(ctx, ScopeSchedulerAction, "SEND_EMAIL|7")
	s.Require().NoError(err)
	s.True(recorded)

	// Read-only check must not have claimed anything new.
	claimed, err := s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "SEND_EMAIL|8")
	s.Require().NoError(err)
	s.True(claimed)
}

func (s *InMemoryStoreSuite) TestConcurrentClaimsYieldExactlyOneWinner() {
	ctx := context.Background()
	const callers = 64

	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	start := make(chan struct{})

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claimed, err := s.store.RecordIfAbsent(ctx, ScopeSchedulerAction, "RUN_AUDIT|LOC9|2024-02-01|2024-02-15")
			s.NoError(err)
			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int64(1), wins, "exactly one concurrent claimant may win")
}
