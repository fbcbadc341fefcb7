package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/freshkeep/internal/analytics"
	"github.com/dukerupert/freshkeep/internal/expiry"
	"github.com/dukerupert/freshkeep/internal/model"
)

type reportOptions struct {
	userID int64
	kind   string
	start  string
	end    string
	window int
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	ro := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an expense, waste or consumption report as JSON",
		Example: `  freshkeep report --user 1 --type expense
  freshkeep report --user 1 --type waste --start 2026-01-01 --end 2026-01-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			ctx := cmd.Context()
			loc := opts.cfg.Location

			end := expiry.StartOfDay(time.Now().In(loc))
			if ro.end != "" {
				t, err := time.ParseInLocation(time.DateOnly, ro.end, loc)
				if err != nil {
					return fmt.Errorf("parse --end: %w", err)
				}
				end = t
			}
			start := end.AddDate(0, 0, -29)
			if ro.start != "" {
				t, err := time.ParseInLocation(time.DateOnly, ro.start, loc)
				if err != nil {
					return fmt.Errorf("parse --start: %w", err)
				}
				start = t
			}

			a, err := newApp(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			res, err := a.aggregator.Report(ctx, ro.userID, model.ReportType(ro.kind), start, end, ro.window)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().Int64Var(&ro.userID, "user", 0, "user id (required)")
	cmd.Flags().StringVar(&ro.kind, "type", string(model.ReportExpense), "report type (expense|waste|consumption)")
	cmd.Flags().StringVar(&ro.start, "start", "", "first day, YYYY-MM-DD (default: 29 days before end)")
	cmd.Flags().StringVar(&ro.end, "end", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&ro.window, "window", analytics.DefaultConsumptionWindow, "consumption window in days")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
