// File: cmd/history.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
	"github.com/coordops/caerun/internal/ledger"
	"github.com/coordops/caerun/internal/observability"
	"github.com/coordops/caerun/internal/trace"
)

// newHistoryCmd creates the `history` command: inspect the ledger, or follow
// the live execution trace.
func newHistoryCmd() *cobra.Command {
	var (
		platform    string
		company     string
		worker      string
		fingerprint string
		limit       int
		follow      bool
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Shows submission ledger records, or follows the execution trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if follow {
				logger.Info("Following execution trace.", zap.String("path", cfg.Trace.Path))
				events := make(chan schemas.ExecutionEvent, 64)
				go func() {
					for ev := range events {
						line, err := json.Marshal(ev)
						if err != nil {
							continue
						}
						fmt.Println(string(line))
					}
				}()
				return trace.Follow(ctx, cfg.Trace.Path, events)
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

			records, err := led.History(ctx, ledger.HistoryFilter{
				Platform:    platform,
				Company:     company,
				Worker:      worker,
				Fingerprint: fingerprint,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode records: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	historyCmd.Flags().StringVar(&platform, "platform", "", "Filter by platform")
	historyCmd.Flags().StringVar(&company, "company", "", "Filter by company")
	historyCmd.Flags().StringVar(&worker, "worker", "", "Filter by worker")
	historyCmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Filter by fingerprint")
	historyCmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to return")
	historyCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Tail the execution trace instead of querying the ledger")
	return historyCmd
}
