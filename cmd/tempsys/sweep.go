package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

func newSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove revoked and expired tokens once and exit",
		Long: `Runs a single reaper cycle against the configured database. Useful from
cron when the in-process reaper is disabled. The schema must be current;
run "tempsys migrate up" first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer log.Close() //nolint:errcheck // closing the log file on exit

			store, err := openStorage(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer store.close() //nolint:errcheck // short-lived command

			reaper := auth.NewReaper(store.store, auth.ReaperOptions{
				Timeout: cfg.Reaper.Timeout,
				Logger:  log.Logger,
			})
			removed, err := reaper.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweeping tokens: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d inactive tokens\n", removed)
			return nil
		},
	}
}
