package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type CircuitBreakerSuite struct {
	suite.Suite
}

func TestCircuitBreakerSuite(t *testing.T) {
	suite.Run(t, new(CircuitBreakerSuite))
}

func (s *CircuitBreakerSuite) TestClosedAllowsTraffic() {
	cb := NewCircuitBreaker(3, time.Minute)
	for i := 0; i < 10; i++ {
		s.True(cb.Allow())
	}
}

func (s *CircuitBreakerSuite) TestOpensAtThreshold() {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.Failure()
	cb.Failure()
	s.True(cb.Allow(), "below threshold should stay closed")

	cb.Failure()
	s.False(cb.Allow(), "threshold reached should open")
}

func (s *CircuitBreakerSuite) TestSuccessResetsFailureCount() {
	cb := NewCircuitBreaker(3, time.Minute)

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()
	s.True(cb.Allow(), "success should have reset the consecutive count")
}

func (s *CircuitBreakerSuite) TestHalfOpenAfterCooldown() {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.Failure()
	cb.Failure()
	s.False(cb.Allow())

	time.Sleep(20 * time.Millisecond)
	s.True(cb.Allow(), "cooldown elapsed should half-open")

	// A single failure in half-open reopens immediately.
	cb.Failure()
	s.False(cb.Allow())
}

func (s *CircuitBreakerSuite) TestHalfOpenSuccessCloses() {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)

	cb.Failure()
	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	s.True(cb.Allow())

	cb.Success()
	cb.Failure()
	s.True(cb.Allow(), "closed circuit should tolerate a single failure again")
}

func (s *CircuitBreakerSuite) TestDefaultsApplied() {
	cb := NewCircuitBreaker(0, 0)
	s.Equal(5, cb.threshold)
	s.Equal(time.Minute, cb.cooldown)
}
