package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"payrun/internal/ledger"
	"payrun/internal/notify"
	outcomemodels "payrun/internal/outcome/models"
	outcomeservice "payrun/internal/outcome/service"
	outcomestore "payrun/internal/outcome/store"
	"payrun/internal/platform/logger"
	"payrun/internal/platform/metrics"
	runmodels "payrun/internal/run/models"
	runstore "payrun/internal/run/store"
	tokenservice "payrun/internal/token/service"
	tokenstore "payrun/internal/token/store"
	"payrun/pkg/domain"
)

type fakePolicies struct {
	mu        sync.Mutex
	snapshots []PolicySnapshot
	err       error
}

func (f *fakePolicies) Snapshots(context.Context) ([]PolicySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]PolicySnapshot(nil), f.snapshots...), nil
}

type fakeAuditor struct {
	failFor map[string]error
}

func (f *fakeAuditor) Audit(_ context.Context, _ PolicySnapshot, run *runmodels.Run) ([]outcomemodels.Finding, error) {
	if err, ok := f.failFor[run.ClientLocationID]; ok {
		return nil, err
	}
	return []outcomemodels.Finding{
		{RuleID: "overtime_threshold", EmployeeID: "E1", Severity: "warning", Message: "weekly overtime above threshold"},
	}, nil
}

type fakeArtifacts struct {
	failKind string
}

func (f *fakeArtifacts) Kinds() []string { return []string{"csv", "summary"} }

func (f *fakeArtifacts) Build(_ context.Context, kind string, _ *runmodels.Run, findings []outcomemodels.Finding) (outcomemodels.Artifact, error) {
	if kind == f.failKind {
		return outcomemodels.Artifact{}, errors.New("renderer crashed")
	}
	if len(findings) == 0 {
		return outcomemodels.Artifact{Type: kind, Status: outcomemodels.ArtifactSkipped}, nil
	}
	return outcomemodels.Artifact{Type: kind, Status: outcomemodels.ArtifactGenerated, Content: kind + "-content"}, nil
}

type fakeComposer struct{}

func (fakeComposer) Compose(_ context.Context, _ *outcomemodels.Outcome, run *runmodels.Run) (RenderedEmail, error) {
	return RenderedEmail{
		Subject: "Payroll audit " + run.ClientLocationID,
		Text:    "see attached",
		HTML:    "<p>see attached</p>",
	}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []domain.RunID
	err  error
}

func (f *fakeSender) Send(_ context.Context, outcome *outcomemodels.Outcome) (SendReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SendReceipt{}, f.err
	}
	f.sent = append(f.sent, outcome.RunID)
	return SendReceipt{MessageID: "msg-1"}, nil
}

type recordingSink struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (s *recordingSink) Notify(_ context.Context, failure notify.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}

type SchedulerSuite struct {
	suite.Suite

	policies *fakePolicies
	auditor  *fakeAuditor
	builder  *fakeArtifacts
	sender   *fakeSender
	sink     *recordingSink

	runs     runstore.Store
	outcomes *outcomeservice.Service
	executor *Executor
	service  *Service
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewForTest()

	s.policies = &fakePolicies{}
	s.auditor = &fakeAuditor{failFor: map[string]error{}}
	s.builder = &fakeArtifacts{}
	s.sender = &fakeSender{}
	s.sink = &recordingSink{}

	s.runs = runstore.NewInMemoryStore()

	tokens, err := tokenservice.New(tokenstore.NewInMemoryStore(), 0, m, log)
	s.Require().NoError(err)
	s.outcomes, err = outcomeservice.New(outcomestore.NewInMemoryStore(), tokens)
	s.Require().NoError(err)

	s.executor, err = NewExecutor(
		ledger.NewInMemoryStore(), s.runs, s.outcomes,
		s.auditor, s.builder, fakeComposer{}, s.sender,
		notify.NoopPublisher{}, m, log,
	)
	s.Require().NoError(err)

	reporter := notify.NewReporter(s.sink, m, log)
	s.service, err = New(s.policies, s.runs, s.outcomes, s.executor, reporter, m, log)
	s.Require().NoError(err)
}

func (s *SchedulerSuite) seedPolicy(loc string) {
	s.policies.snapshots = append(s.policies.snapshots, PolicySnapshot{
		ClientLocationID: loc,
		PeriodStart:      "2024-01-01",
		PeriodEnd:        "2024-01-15",
	})
}

func (s *SchedulerSuite) TestSingleTickEndToEnd() {
	s.seedPolicy("LOC1")

	result, err := s.service.Tick(context.Background())
	s.Require().NoError(err)

	s.True(result.OK)
	s.Equal(1, result.Planned)
	s.Equal(1, result.Executed)
	s.Zero(result.Skipped)
	s.Zero(result.Failed)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Require().Len(runs, 1)
	run := runs[0]
	s.Equal(runmodels.StatusCompleted, run.Status)
	s.Equal("LOC1", run.ClientLocationID)

	types := make([]runmodels.EventType, 0, len(run.Events))
	for _, event := range run.Events {
		types = append(types, event.Type)
	}
	s.Equal([]runmodels.EventType{runmodels.EventRunCreated, runmodels.EventOutcomeSaved}, types)

	outcome, err := s.outcomes.Get(context.Background(), run.ID)
	s.Require().NoError(err)
	s.Equal(outcomemodels.DeliveryInternalOnly, outcome.Delivery.Mode)
	s.Len(outcome.Findings, 1)
	s.Len(outcome.Artifacts, 2)
	s.False(outcome.ApproveToken.IsNil())
	s.False(outcome.RerunToken.IsNil())
}

func (s *SchedulerSuite) TestSecondTickExecutesNothing() {
	s.seedPolicy("LOC1")

	first, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.Equal(1, first.Executed)

	second, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.True(second.OK)
	s.Zero(second.Executed)
	s.Zero(second.Failed)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Len(runs, 1)
}

func (s *SchedulerSuite) TestLedgerGuardsDuplicateAction() {
	action := RunAudit{
		ClientLocationID: "LOC1",
		Period:           domain.Period{Start: "2024-01-01", End: "2024-01-15"},
	}

	skipped, err := s.executor.Execute(context.Background(), action)
	s.Require().NoError(err)
	s.False(skipped)

	skipped, err = s.executor.Execute(context.Background(), action)
	s.Require().NoError(err)
	s.True(skipped)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Len(runs, 1)
}

func (s *SchedulerSuite) TestConcurrentTicksExecuteOnce() {
	s.seedPolicy("LOC1")

	const ticks = 8
	var wg sync.WaitGroup
	for i := 0; i < ticks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Tick(context.Background())
			s.NoError(err)
		}()
	}
	wg.Wait()

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Len(runs, 1, "overlapping ticks must not duplicate the audit")
}

func (s *SchedulerSuite) TestAuditFailureIsolatedPerAction() {
	s.seedPolicy("LOC1")
	s.seedPolicy("LOC2")
	s.auditor.failFor["LOC1"] = errors.New("payroll source unreachable")

	result, err := s.service.Tick(context.Background())
	s.Require().NoError(err)

	s.True(result.OK, "one failed action does not fail the tick")
	s.Equal(2, result.Planned)
	s.Equal(1, result.Executed)
	s.Equal(1, result.Failed)
	s.Equal(1, s.sink.count())

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	byLoc := map[string]*runmodels.Run{}
	for _, run := range runs {
		byLoc[run.ClientLocationID] = run
	}
	s.Equal(runmodels.StatusFailed, byLoc["LOC1"].Status)
	s.Equal(runmodels.EventRunFailed, byLoc["LOC1"].Events[len(byLoc["LOC1"].Events)-1].Type)
	s.Equal(runmodels.StatusCompleted, byLoc["LOC2"].Status)
}

func (s *SchedulerSuite) TestArtifactFailureDoesNotFailRun() {
	s.seedPolicy("LOC1")
	s.builder.failKind = "summary"

	result, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.Equal(1, result.Executed)
	s.Zero(result.Failed)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	run := runs[0]
	s.Equal(runmodels.StatusCompleted, run.Status)

	outcome, err := s.outcomes.Get(context.Background(), run.ID)
	s.Require().NoError(err)
	s.Require().Len(outcome.Artifacts, 2)
	s.Equal(outcomemodels.ArtifactGenerated, outcome.Artifacts[0].Status)
	s.Equal(outcomemodels.ArtifactFailed, outcome.Artifacts[1].Status)
	s.Equal("renderer crashed", outcome.Artifacts[1].Error)
}

func (s *SchedulerSuite) TestPlanningFailureAbortsTick() {
	s.policies.err = errors.New("policy source down")

	result, err := s.service.Tick(context.Background())
	s.Require().Error(err)
	s.False(result.OK)
	s.Zero(result.Planned)
	s.Equal(1, s.sink.count(), "planning failure is reported exactly once")
}

func (s *SchedulerSuite) TestEmailDelivery() {
	s.seedPolicy("LOC1")
	_, err := s.service.Tick(context.Background())
	s.Require().NoError(err)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	run := runs[0]

	// A human opts the outcome into email delivery with a due schedule.
	mode := outcomemodels.DeliveryEmail
	due := time.Now().Add(-time.Minute)
	_, err = s.outcomes.Apply(context.Background(), run.ID, outcomestore.Patch{
		Delivery: &outcomestore.DeliveryPatch{
			Mode:            &mode,
			Recipients:      []string{"client@example.com"},
			ScheduledSendAt: &due,
		},
	})
	s.Require().NoError(err)

	result, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.Equal(1, result.Executed)

	outcome, err := s.outcomes.Get(context.Background(), run.ID)
	s.Require().NoError(err)
	s.Equal("Payroll audit LOC1", outcome.Delivery.Subject)
	s.Require().NotNil(outcome.Delivery.SentAt)
	s.Equal([]domain.RunID{run.ID}, s.sender.sent)

	updated, err := s.runs.Get(context.Background(), run.ID)
	s.Require().NoError(err)
	types := make([]runmodels.EventType, 0, len(updated.Events))
	for _, event := range updated.Events {
		types = append(types, event.Type)
	}
	s.Contains(types, runmodels.EventEmailRendered)
	s.Contains(types, runmodels.EventEmailSent)

	// Sending is never repeated: sent_at unsets the plan and the ledger
	// already holds the claim.
	third, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.Zero(third.Executed)
	s.Len(s.sender.sent, 1)
}

func (s *SchedulerSuite) TestSendFailureReportedOnce() {
	s.seedPolicy("LOC1")
	_, err := s.service.Tick(context.Background())
	s.Require().NoError(err)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	run := runs[0]

	mode := outcomemodels.DeliveryEmail
	due := time.Now().Add(-time.Minute)
	_, err = s.outcomes.Apply(context.Background(), run.ID, outcomestore.Patch{
		Delivery: &outcomestore.DeliveryPatch{Mode: &mode, ScheduledSendAt: &due},
	})
	s.Require().NoError(err)

	s.sender.err = errors.New("smtp timeout")
	result, err := s.service.Tick(context.Background())
	s.Require().NoError(err)
	s.Equal(1, result.Failed)
	s.Equal(1, s.sink.count())

	// The rendered content survived even though the send failed.
	outcome, err := s.outcomes.Get(context.Background(), run.ID)
	s.Require().NoError(err)
	s.Equal("Payroll audit LOC1", outcome.Delivery.Subject)
	s.Nil(outcome.Delivery.SentAt)
}

func (s *SchedulerSuite) TestManualRunBypassesLedger() {
	s.seedPolicy("LOC1")
	_, err := s.service.Tick(context.Background())
	s.Require().NoError(err)

	// The scheduler already claimed this period, but an operator asking for
	// a run gets one anyway.
	period, err := domain.NewPeriod("2024-01-01", "2024-01-15")
	s.Require().NoError(err)
	run, outcome, pair, err := s.executor.RunAuditNow(context.Background(), "LOC1", period, PolicySnapshot{}, nil)
	s.Require().NoError(err)
	s.Equal(runmodels.StatusCompleted, run.Status)
	s.NotNil(outcome)
	s.NotNil(pair)

	runs, err := s.runs.List(context.Background())
	s.Require().NoError(err)
	s.Len(runs, 2)
}
