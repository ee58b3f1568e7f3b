package main

import (
	"context"
	"fmt"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/domain"
	"mailpilot/internal/ledger"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var failureLimit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger stage counts and recent failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}

			store, err := ledger.Open(cfg.Ledger.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			counts, err := store.StageCounts(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("%-10s %10s %10s %10s %10s\n", "stage", "pending", "succeeded", "retryable", "terminal")
			for _, stage := range domain.Stages {
				row := counts[stage]
				if row == nil {
					row = map[domain.StageOutcome]int{}
				}
				fmt.Printf("%-10s %10d %10d %10d %10d\n", stage,
					row[domain.OutcomePending],
					row[domain.OutcomeSucceeded],
					row[domain.OutcomeFailedRetryable],
					row[domain.OutcomeFailedTerminal])
			}

			failures, err := store.RecentFailures(ctx, failureLimit)
			if err != nil {
				return err
			}
			if len(failures) == 0 {
				fmt.Println("\nNo recorded failures.")
				return nil
			}

			fmt.Printf("\nRecent failures:\n")
			for _, rec := range failures {
				fmt.Printf("  %s  %-10s attempts=%d  %s\n      %s\n",
					rec.LastAttempt.Format(time.RFC3339), rec.Stage, rec.Attempts, rec.EmailID, rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&failureLimit, "failures", 10, "number of recent failures to show")
	return cmd
}
