package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/crm-ingest/cli/internal/output"
	"github.com/telhawk-systems/crm-ingest/common/event"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit crmctl profiles",
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <webhook_id> <secret>",
	Short: "Store the shared secret for a webhook kind",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := event.Kind(args[0])
		if !kind.Valid() {
			return fmt.Errorf("unknown webhook_id %q", args[0])
		}
		name, _ := cmd.Flags().GetString("profile")
		if err := cfg.SetSecret(name, string(kind), args[1]); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		output.Success("Secret for %s saved to %s", kind, cfg.Path())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved profile (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		profile, err := activeProfile(cmd)
		if err != nil {
			return err
		}

		masked := make(map[string]string, len(profile.Secrets))
		for k, v := range profile.Secrets {
			masked[k] = mask(v)
		}
		if format == "json" {
			return output.JSON(map[string]any{
				"ingest_url":   profile.IngestURL,
				"database_url": profile.DatabaseURL,
				"secrets":      masked,
			})
		}

		tbl := output.NewTable("SETTING", "VALUE")
		tbl.AddRow("ingest_url", profile.IngestURL)
		tbl.AddRow("database_url", profile.DatabaseURL)
		kinds := make([]string, 0, len(masked))
		for k := range masked {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			tbl.AddRow("secret "+k, masked[k])
		}
		tbl.Render()
		return nil
	},
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetSecretCmd, configShowCmd)
}
