// Command payrun runs the payroll-audit service: an HTTP API for approval
// clicks and operator actions, and a background worker for the recurring
// scheduler tick.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"payrun/internal/app"
	"payrun/internal/platform/config"
	"payrun/internal/platform/logger"
	"payrun/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:          "payrun",
		Short:        "Payroll-audit run lifecycle and scheduling service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), workerCmd(), tickCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildApp(ctx context.Context) (*app.App, error) {
	// Missing .env is fine; the environment itself may be fully configured.
	_ = godotenv.Load()
	return app.New(ctx, config.FromEnv(), logger.New())
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			srv := a.Server()
			errs := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errs <- err
				}
			}()
			a.Logger.Info("payrun listening", "addr", a.Config.Addr)

			select {
			case err := <-errs:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the recurring scheduler tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			// Without redis there is no task queue; fall back to a plain
			// in-process ticker, which is still ledger-safe.
			if a.Config.Redis.URL == "" {
				a.Logger.Info("no redis configured, ticking in process",
					"interval", a.Config.TickInterval.String())
				if err := a.Scheduler.Run(ctx, a.Config.TickInterval); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			opts, err := redis.ParseURL(a.Config.Redis.URL)
			if err != nil {
				return fmt.Errorf("parse redis URL: %w", err)
			}
			w, err := worker.New(asynq.RedisClientOpt{
				Addr:     opts.Addr,
				Password: opts.Password,
				DB:       opts.DB,
			}, a.Scheduler, a.Config.TickInterval, a.Logger)
			if err != nil {
				return err
			}
			if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Plan and execute one scheduler tick, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			result, tickErr := a.Scheduler.Tick(cmd.Context())
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return tickErr
		},
	}
}
