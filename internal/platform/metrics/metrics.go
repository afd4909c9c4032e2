package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RunsCreated        prometheus.Counter
	TokensIssued       *prometheus.CounterVec
	TokensConsumed     prometheus.Counter
	ApprovalsCommitted prometheus.Counter
	ApprovalNoops      prometheus.Counter
	RerunsCreated      prometheus.Counter

	TicksTotal      prometheus.Counter
	TickDuration    prometheus.Histogram
	ActionsExecuted *prometheus.CounterVec
	ActionsSkipped  *prometheus.CounterVec
	ActionsFailed   *prometheus.CounterVec

	FailureNotices  prometheus.Counter
	NotifierDropped prometheus.Counter
}

// New creates and registers all Prometheus metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_runs_created_total",
			Help: "Total number of audit runs created.",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_tokens_issued_total",
			Help: "Total number of approval tokens issued, by action.",
		}, []string{"action"}),
		TokensConsumed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_tokens_consumed_total",
			Help: "Total number of approval tokens consumed.",
		}),
		ApprovalsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_approvals_committed_total",
			Help: "Total number of runs locked by a winning approval.",
		}),
		ApprovalNoops: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_approval_noops_total",
			Help: "Total number of approvals that observed an already locked run.",
		}),
		RerunsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_reruns_created_total",
			Help: "Total number of rerun runs spawned.",
		}),
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_scheduler_ticks_total",
			Help: "Total number of scheduler ticks executed.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "payrun_scheduler_tick_duration_seconds",
			Help:    "Wall-clock duration of scheduler ticks.",
			Buckets: prometheus.DefBuckets,
		}),
		ActionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_scheduler_actions_executed_total",
			Help: "Scheduler actions executed, by kind.",
		}, []string{"kind"}),
		ActionsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_scheduler_actions_skipped_total",
			Help: "Scheduler actions skipped because their idempotency key was already claimed, by kind.",
		}, []string{"kind"}),
		ActionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payrun_scheduler_actions_failed_total",
			Help: "Scheduler actions that failed during execution, by kind.",
		}, []string{"kind"}),
		FailureNotices: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_failure_notices_total",
			Help: "Failure notifications emitted through the notification channel.",
		}),
		NotifierDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "payrun_notifier_dropped_total",
			Help: "Notifications dropped because the notifier circuit breaker was open.",
		}),
	}
}

// NewForTest creates metrics against a private registry so tests never
// collide on the default registerer.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
