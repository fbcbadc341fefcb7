package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/freshkeep/internal/config"
	"github.com/dukerupert/freshkeep/internal/logging"
)

// rootOptions carries state shared by every subcommand.
type rootOptions struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "freshkeep",
		Short:         "Grocery expiry monitoring and notification dispatch",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTriggerCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newVAPIDKeysCommand())
	return cmd
}

// load reads the configuration and installs the default logger.
func (o *rootOptions) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return nil
}
