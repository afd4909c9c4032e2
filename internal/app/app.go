// Package app wires configuration, stores, services, and transport into a
// runnable application. Store backends are selected by configuration:
// postgres for runs/outcomes when a DSN is set, redis for tokens and the
// ledger when a URL is set, sqlite for the ledger on a single node, and
// in-memory fallbacks for development.
package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"payrun/internal/approval"
	"payrun/internal/collab"
	"payrun/internal/jwtauth"
	"payrun/internal/ledger"
	"payrun/internal/notify"
	outcomeservice "payrun/internal/outcome/service"
	outcomestore "payrun/internal/outcome/store"
	"payrun/internal/platform/config"
	"payrun/internal/platform/httpserver"
	"payrun/internal/platform/metrics"
	"payrun/internal/platform/middleware"
	"payrun/internal/platform/postgres"
	platformredis "payrun/internal/platform/redis"
	runstore "payrun/internal/run/store"
	"payrun/internal/scheduler"
	tokenservice "payrun/internal/token/service"
	tokenstore "payrun/internal/token/store"
	httptransport "payrun/internal/transport/http"
	dErrors "payrun/pkg/domain-errors"
)

// App is the assembled application.
type App struct {
	Config   config.Server
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Runs      runstore.Store
	Ledger    ledger.Store
	Tokens    *tokenservice.Service
	Outcomes  *outcomeservice.Service
	Approvals *approval.Service
	Executor  *scheduler.Executor
	Scheduler *scheduler.Service
	Handler   http.Handler

	redis     *platformredis.Client
	pool      *pgxpool.Pool
	sqlite    *ledger.SQLiteStore
	publisher *notify.KafkaPublisher
}

// New builds the application from configuration.
func New(ctx context.Context, cfg config.Server, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Metrics = metrics.New(a.Registry)

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "connect redis")
	}
	a.redis = redisClient

	a.pool, err = postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		a.close()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "connect postgres")
	}

	if err := a.buildStores(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.buildServices(cfg); err != nil {
		a.close()
		return nil, err
	}
	a.buildRouter(cfg)
	return a, nil
}

func (a *App) buildStores(ctx context.Context) error {
	// Runs and outcomes: postgres when configured, memory otherwise.
	if a.pool != nil {
		runs := runstore.NewPostgres(a.pool)
		if err := runs.Migrate(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "migrate run store")
		}
		a.Runs = runs
	} else {
		a.Runs = runstore.NewInMemoryStore()
	}

	// Ledger precedence: postgres, redis, sqlite, memory. Memory claims die
	// with the process, which is acceptable only in development.
	switch {
	case a.pool != nil:
		claims := ledger.NewPostgres(a.pool)
		if err := claims.Migrate(ctx); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "migrate ledger")
		}
		a.Ledger = claims
	case a.redis != nil:
		a.Ledger = ledger.NewRedisStore(a.redis.Client)
	case a.Config.SQLitePath != "":
		claims, err := ledger.OpenSQLite(a.Config.SQLitePath)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "open sqlite ledger")
		}
		a.sqlite = claims
		a.Ledger = claims
	default:
		a.Logger.Warn("idempotency ledger is in-memory, claims will not survive a restart")
		a.Ledger = ledger.NewInMemoryStore()
	}
	return nil
}

func (a *App) buildServices(cfg config.Server) error {
	var tokens tokenstore.Store
	if a.redis != nil {
		tokens = tokenstore.NewRedisStore(a.redis.Client)
	} else {
		tokens = tokenstore.NewInMemoryStore()
	}

	tokenSvc, err := tokenservice.New(tokens, cfg.TokenTTL, a.Metrics, a.Logger)
	if err != nil {
		return err
	}
	a.Tokens = tokenSvc

	var outcomes outcomestore.Store
	if a.pool != nil {
		store := outcomestore.NewPostgres(a.pool)
		if err := store.Migrate(context.Background()); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "migrate outcome store")
		}
		outcomes = store
	} else {
		outcomes = outcomestore.NewInMemoryStore()
	}

	a.Outcomes, err = outcomeservice.New(outcomes, tokenSvc)
	if err != nil {
		return err
	}

	reporter := notify.NewReporter(notify.NewLogSink(a.Logger), a.Metrics, a.Logger)
	dispatcher := notify.NewDispatcher(collab.NewLogMailer(a.Logger), reporter, a.Logger)

	var publisher notify.EventPublisher = notify.NoopPublisher{}
	if kafka, err := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.Logger); err != nil {
		return err
	} else if kafka != nil {
		a.publisher = kafka
		publisher = kafka
	}

	a.Approvals, err = approval.New(
		a.Runs, tokenSvc, a.Outcomes,
		reporter, dispatcher, publisher,
		cfg.RerunRecipients, a.Metrics, a.Logger,
	)
	if err != nil {
		return err
	}

	a.Executor, err = scheduler.NewExecutor(
		a.Ledger, a.Runs, a.Outcomes,
		collab.NoFindingsAuditor(), collab.NewFindingsArtifactBuilder(),
		collab.NewTemplateComposer(), collab.NewLogSender(a.Logger),
		publisher, a.Metrics, a.Logger,
	)
	if err != nil {
		return err
	}

	policies, err := a.policySource(cfg)
	if err != nil {
		return err
	}
	a.Scheduler, err = scheduler.New(policies, a.Runs, a.Outcomes, a.Executor, reporter, a.Metrics, a.Logger)
	return err
}

func (a *App) policySource(cfg config.Server) (scheduler.PolicySource, error) {
	if cfg.PolicyFile != "" {
		return collab.NewFilePolicySource(cfg.PolicyFile)
	}
	a.Logger.Warn("no policy snapshot file configured, planner will see no policies")
	return collab.NewStaticPolicySource(nil), nil
}

func (a *App) buildRouter(cfg config.Server) {
	var opsAuth middleware.JWTValidator
	if cfg.OpsJWTSigningKey != "" {
		opsAuth = jwtauth.New(cfg.OpsJWTSigningKey)
	}

	health := map[string]httptransport.HealthCheck{}
	if a.redis != nil {
		health["redis"] = a.redis.Health
	}
	if a.pool != nil {
		health["postgres"] = a.pool.Ping
	}

	a.Handler = httptransport.NewRouter(httptransport.RouterConfig{
		Tokens:      httptransport.NewTokenHandler(a.Tokens, a.Logger),
		Clicks:      httptransport.NewClickHandler(a.Approvals, a.Logger),
		Ops:         httptransport.NewOpsHandler(a.Runs, a.Outcomes, a.Executor, a.Scheduler, a.Logger),
		Idempotency: httptransport.NewIdempotencyHandler(a.Ledger, a.Logger),
		OpsAuth:     opsAuth,
		Registry:    a.Registry,
		Health:      health,
		Logger:      a.Logger,
	})
}

// Server returns an http.Server for the assembled handler.
func (a *App) Server() *http.Server {
	return httpserver.New(a.Config.Addr, a.Handler)
}

// Close releases external connections.
func (a *App) Close(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			a.Logger.Warn("kafka publisher close", "error", err.Error())
		}
	}
	a.close()
}

func (a *App) close() {
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.Logger.Warn("sqlite ledger close", "error", err.Error())
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("redis close", "error", err.Error())
		}
	}
}
