/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve       Run the HTTP server with the background scheduler
  migrate     Create or update the database schema and exit
  accrue      Run one accrual batch for a company and exit
  carryover   Run one carryover plus expiration batch for a company and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (file + LEAVE_* environment)
  2. Initialize SQLite store (schema migrates on open)
  3. Create API handler with dependencies
  4. Start scheduler and HTTP server
  5. Graceful shutdown on SIGINT/SIGTERM (30s drain)

EXAMPLES:
  # Run with file database
  LEAVE_DB_PATH=./data/leave.db ./server serve

  # Run on different port
  LEAVE_HTTP_PORT=3000 ./server serve

  # One-shot accrual run for a company
  ./server accrue --company acme --date 2026-03-01

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/timeoff"
)

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Leave ledger balance engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), accrueCmd(), carryoverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config and opens the store; shared by every command.
func setup() (*config.Config, *sqlite.Store, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, log, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, log, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()
			defer log.Sync()

			handler := api.NewHandler(store, log)
			handler.Requests.AllowOverlap = cfg.Engine.AllowOverlap

			scheduler := api.NewScheduler(handler, log)
			scheduler.Enabled = cfg.Scheduler.Enabled
			scheduler.CheckInterval = cfg.Scheduler.Interval
			scheduler.Start()
			defer scheduler.Stop()

			server := &http.Server{
				Addr:         cfg.Addr(),
				Handler:      api.NewRouter(handler, cfg.HTTP.CORSOrigins),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errc := make(chan error, 1)
			go func() {
				log.Info("server starting", zap.String("addr", cfg.Addr()))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errc:
				return err
			case <-quit:
			}

			log.Info("shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("forced shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}

// =============================================================================
// MIGRATE
// =============================================================================

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, log, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()
			// New already migrates; running the command standalone still
			// gives operators an explicit schema step.
			if err := store.Migrate(); err != nil {
				return err
			}
			log.Info("schema up to date")
			return nil
		},
	}
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func accrueCmd() *cobra.Command {
	var companyID, date string
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Run one accrual batch for a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, log, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := parseDate(date)
			if err != nil {
				return err
			}
			handler := api.NewHandler(store, log)
			summary, err := handler.Accruals.RunAccruals(context.Background(), timeoff.CompanyID(companyID), target)
			if err != nil {
				return err
			}
			log.Info("accrual run complete",
				zap.String("company_id", companyID),
				zap.Int("processed", summary.Processed),
				zap.Int("accrued", summary.Accrued),
				zap.Int("skipped", summary.Skipped),
				zap.Int("errors", summary.Errors))
			return nil
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id (required)")
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func carryoverCmd() *cobra.Command {
	var companyID, date string
	cmd := &cobra.Command{
		Use:   "carryover",
		Short: "Run one carryover and expiration batch for a company",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, log, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			target, err := parseDate(date)
			if err != nil {
				return err
			}
			handler := api.NewHandler(store, log)

			carry, err := handler.Carryover.RunCarryover(context.Background(), timeoff.CompanyID(companyID), target)
			if err != nil {
				return err
			}
			expire, err := handler.Carryover.RunExpiration(context.Background(), timeoff.CompanyID(companyID), target)
			if err != nil {
				return err
			}
			log.Info("carryover run complete",
				zap.String("company_id", companyID),
				zap.Int("carryovers", carry.Carryovers),
				zap.Int("expired", expire.Expired),
				zap.Int("errors", carry.Errors+expire.Errors))
			return nil
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id (required)")
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default today)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}
