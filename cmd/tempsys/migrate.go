package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/tempsys-core/internal/infrastructure/config"
	"github.com/nerrad567/tempsys-core/migrations"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), *configPath, cmd.OutOrStdout(), migrateUp)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), *configPath, cmd.OutOrStdout(), migrateDown)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context(), *configPath, cmd.OutOrStdout(), migrateStatus)
			},
		},
	)
	return cmd
}

type migrateAction int

const (
	migrateUp migrateAction = iota
	migrateDown
	migrateStatus
)

func migrate(ctx context.Context, configPath string, out io.Writer, action migrateAction) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer log.Close() //nolint:errcheck // closing the log file on exit

	if cfg.Database.Driver == config.DriverPostgres {
		return migratePostgres(ctx, cfg, out, action)
	}
	return migrateSQLite(ctx, cfg, out, action)
}

func migrateSQLite(ctx context.Context, cfg *config.Config, out io.Writer, action migrateAction) error {
	db, err := openSQLite(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // short-lived command

	fsys := migrations.SQLite()
	switch action {
	case migrateUp:
		if err := db.Migrate(ctx, fsys); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
	case migrateDown:
		if err := db.MigrateDown(ctx, fsys); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Fprintln(out, "rolled back one migration")
	case migrateStatus:
		applied, pending, err := db.MigrationStatus(ctx, fsys)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
		for _, m := range applied {
			fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		for _, m := range pending {
			fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
		}
		return tw.Flush()
	}
	return nil
}

func migratePostgres(ctx context.Context, cfg *config.Config, out io.Writer, action migrateAction) error {
	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // short-lived command

	fsys := migrations.Postgres()
	switch action {
	case migrateUp:
		if err := db.Migrate(ctx, fsys); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fmt.Fprintln(out, "migrations applied")
	case migrateDown:
		if err := db.MigrateDown(ctx, fsys); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		fmt.Fprintln(out, "rolled back one migration")
	case migrateStatus:
		status, err := db.MigrationStatus(ctx, fsys)
		if err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		fmt.Fprintf(out, "current version: %d\n", status.Current)
		for _, v := range status.Pending {
			fmt.Fprintf(out, "pending: %d\n", v)
		}
	}
	return nil
}
