// File: cmd/plan.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/catalog"
	"github.com/coordops/caerun/internal/executor"
	"github.com/coordops/caerun/internal/ledger"
	"github.com/coordops/caerun/internal/observability"
	"github.com/coordops/caerun/internal/runner"
	"github.com/coordops/caerun/internal/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadWorkItems reads a JSON batch of work items and validates every script.
func loadWorkItems(path string) ([]schemas.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read work items file: %w", err)
	}
	var items []schemas.WorkItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode work items: %w", err)
	}
	for i := range items {
		for j := range items[i].Script {
			items[i].Script[j].ApplyDefaults()
		}
		if err := schemas.ValidateScript(items[i].Script); err != nil {
			return nil, fmt.Errorf("work item %d: %w", i, err)
		}
	}
	return items, nil
}

// planOnlyRunner satisfies the executor's wiring for plan, which never
// executes an action.
type planOnlyRunner struct{}

func (planOnlyRunner) Run(ctx context.Context, spec *schemas.ActionSpec) (runner.Result, *schemas.ErrorRecord) {
	return runner.Result{}, &schemas.ErrorRecord{
		Phase: spec.Phase, Code: schemas.CodePolicyHalt,
		Message: "plan mode does not execute actions",
	}
}

// openTracer opens the configured trace file for appending.
func openTracer(logger *zap.Logger) (*trace.Writer, func(), error) {
	tracer, err := trace.NewWriter(cfg.Trace.Path, cfg.Trace.SyncEveryWrite, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	cleanup := func() {
		if err := tracer.Close(); err != nil {
			logger.Warn("Failed to close trace writer", zap.Error(err))
		}
	}
	return tracer, cleanup, nil
}

// newPlanCmd creates the `plan` command: dedup verdicts without side effects.
func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan [work-items.json]",
		Short: "Computes dedup decisions for a batch without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

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
			cat, err := catalog.New(dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize catalog: %w", err)
			}

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

			logger.Info("Plan complete.", zap.Int("items", len(items)))
			return nil
		},
	}
	return planCmd
}
