// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/browser"
	"github.com/coordops/caerun/internal/catalog"
	"github.com/coordops/caerun/internal/conditions"
	"github.com/coordops/caerun/internal/evidence"
	"github.com/coordops/caerun/internal/executor"
	"github.com/coordops/caerun/internal/ledger"
	"github.com/coordops/caerun/internal/observability"
	"github.com/coordops/caerun/internal/resolve"
	"github.com/coordops/caerun/internal/retry"
	"github.com/coordops/caerun/internal/runner"
	"github.com/coordops/caerun/internal/trace"
)

// newRunCmd creates the `run` command: plan, lock and execute a batch.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [work-items.json]",
		Short: "Executes a batch of work items against their portals",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override config and env.
			if err := viper.BindPFlag("executor.continue_on_error", cmd.Flags().Lookup("continue-on-error")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("executor.concurrency", cmd.Flags().Lookup("concurrency"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg.Executor.ContinueOnError = viper.GetBool("executor.continue_on_error")
			cfg.Browser.Headless = viper.GetBool("browser.headless")
			if c := viper.GetInt("executor.concurrency"); c > 0 {
				cfg.Executor.Concurrency = c
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")

			items, err := loadWorkItems(args[0])
			if err != nil {
				return err
			}

			if cfg.Database.URL == "" {
				return fmt.Errorf("database URL is not configured (CAERUN_DATABASE_URL)")
			}
			dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			led, err := ledger.New(ctx, dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize ledger: %w", err)
			}
			if err := led.EnsureSchema(ctx); err != nil {
				return err
			}
			cat, err := catalog.New(dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize catalog: %w", err)
			}
			if err := cat.EnsureSchema(ctx); err != nil {
				return err
			}

			if dryRun {
				// Same dedup verdicts the run would start from, no lock, no
				// browser, no writes.
				tracer, cleanup, err := openTracer(logger)
				if err != nil {
					return err
				}
				defer cleanup()
				ex, err := executor.New(executor.NewRunID(), cfg.Executor, led, cat, planOnlyRunner{}, tracer, logger)
				if err != nil {
					return fmt.Errorf("failed to create executor: %w", err)
				}
				decisions, err := ex.Plan(ctx, items)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(decisions, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode decisions: %w", err)
				}
				fmt.Println(string(out))
				return nil
			}

			// One independent pipeline per logical context; contexts run in
			// parallel up to the configured bound, items within a context
			// strictly in order.
			groups := groupByContext(items)
			logger.Info("Starting run.",
				zap.Int("items", len(items)),
				zap.Int("contexts", len(groups)),
				zap.Int("concurrency", cfg.Executor.Concurrency))

			var summaries []*schemas.RunSummary
			var mu sync.Mutex

			g, groupCtx := errgroup.WithContext(ctx)
			g.SetLimit(cfg.Executor.Concurrency)
			for rc, batch := range groups {
				rc, batch := rc, batch
				g.Go(func() error {
					summary, err := runContextBatch(groupCtx, rc, batch, led, cat, logger)
					if summary != nil {
						mu.Lock()
						summaries = append(summaries, summary)
						mu.Unlock()
					}
					return err
				})
			}
			runErr := g.Wait()

			out, err := json.MarshalIndent(summaries, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode run summaries: %w", err)
			}
			fmt.Println(string(out))

			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					return fmt.Errorf("run aborted by user signal")
				}
				return runErr
			}
			return nil
		},
	}

	runCmd.Flags().Bool("continue-on-error", false, "Continue past failures that happened before any side effect. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().IntP("concurrency", "j", 0, "Parallel logical contexts. (Overrides config/env)")
	runCmd.Flags().Bool("dry-run", false, "Print the dedup decisions the run would start from, then exit")
	return runCmd
}

// groupByContext partitions items by the context lock they will contend on.
func groupByContext(items []schemas.WorkItem) map[schemas.RunContext][]schemas.WorkItem {
	groups := make(map[schemas.RunContext][]schemas.WorkItem)
	for _, item := range items {
		rc := schemas.RunContext{
			Company:      item.Company,
			Platform:     item.Platform,
			Coordination: item.Coordination,
		}
		groups[rc] = append(groups[rc], item)
	}
	return groups
}

// runContextBatch builds one full pipeline (browser session, runner,
// executor) and executes the batch for a single logical context.
func runContextBatch(ctx context.Context, rc schemas.RunContext, items []schemas.WorkItem,
	led *ledger.Store, cat *catalog.Store, logger *zap.Logger) (*schemas.RunSummary, error) {

	runID := executor.NewRunID()
	log := logger.With(zap.String("run_id", runID), zap.String("context", rc.Key()))

	session, err := browser.NewSession(ctx, cfg.Browser, log)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(browser.Detach(ctx), 15*time.Second)
		defer cancel()
		if err := session.Close(shutdownCtx); err != nil {
			log.Warn("Error during browser shutdown", zap.Error(err))
		}
	}()

	recorder, err := evidence.NewRecorder(cfg.Evidence.Root, runID, session, log)
	if err != nil {
		return nil, err
	}
	tracer, err := trace.NewWriter(cfg.Trace.Path, cfg.Trace.SyncEveryWrite, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := tracer.Close(); err != nil {
			log.Warn("Failed to close trace writer", zap.Error(err))
		}
	}()

	resolver := resolve.New(session, log)
	evaluator := conditions.New(session, resolver, log)
	policy := retry.NewPolicy(cfg.Retry, log)
	watchdog := retry.NewWatchdog(cfg.Timeouts, log)
	limiter := rate.NewLimiter(rate.Every(cfg.Executor.PacingInterval), 1)

	actionRunner, err := runner.New(runID, session, resolver, evaluator, policy, watchdog,
		recorder, tracer, limiter, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	ex, err := executor.New(runID, cfg.Executor, led, cat, actionRunner, tracer, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	summary, err := ex.Execute(ctx, rc, items)
	if writeErr := recorder.WriteManifest(); writeErr != nil {
		log.Warn("Failed to write evidence manifest", zap.Error(writeErr))
	}
	if err != nil {
		if errors.Is(err, ledger.ErrLockHeld) {
			log.Warn("Context is locked by another run, skipping batch.")
			return summary, nil
		}
		return summary, err
	}
	return summary, nil
}
