package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/freshkeep/internal/jobs"
)

func newTriggerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job>",
		Short: "Run one job now and print its summary",
		Long: fmt.Sprintf(`Run one job synchronously through the scheduler, so the same
exclusion and run history apply as for scheduled runs.

Jobs: %s`, strings.Join(jobs.Names, ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			name := args[0]
			runErr := a.scheduler.Run(ctx, name)
			for _, sum := range a.runner.LastSummaries() {
				if sum.Job != name {
					continue
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(sum); err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("run %s: %w", name, runErr)
			}
			return nil
		},
	}
}
