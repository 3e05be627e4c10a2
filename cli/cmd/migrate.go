package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/crm-ingest/cli/internal/output"
	"github.com/telhawk-systems/crm-ingest/core/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres record store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Up(url); err != nil {
			return err
		}
		output.Success("Migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("rolling back drops crm_records; pass --yes to confirm")
		}
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		if err := migrations.Down(url); err != nil {
			return err
		}
		output.Success("Migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		url, err := databaseURL(cmd)
		if err != nil {
			return err
		}
		version, dirty, ok, err := migrations.Version(url)
		if err != nil {
			return err
		}
		if format == "json" {
			return output.JSON(map[string]any{"version": version, "dirty": dirty, "applied": ok})
		}
		if !ok {
			output.Info("No migrations applied")
			return nil
		}
		output.Info("Schema version %d", version)
		if dirty {
			output.Warn("Schema is dirty; a previous migration failed part way")
		}
		return nil
	},
}

func databaseURL(cmd *cobra.Command) (string, error) {
	profile, err := activeProfile(cmd)
	if err != nil {
		return "", err
	}
	url := stringFlagOr(cmd, "database-url", profile.DatabaseURL)
	if url == "" {
		return "", errors.New("database URL is required (use --database-url or set database_url in the profile)")
	}
	return url, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	migrateCmd.PersistentFlags().String("database-url", "", "Postgres URL (overrides the profile)")
	migrateDownCmd.Flags().Bool("yes", false, "confirm the rollback")
}
