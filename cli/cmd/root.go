package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/crm-ingest/cli/internal/config"
	"github.com/telhawk-systems/crm-ingest/cli/internal/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "crmctl",
	Short: "CRM ingest CLI",
	Long: `crmctl is the operator CLI for the CRM webhook ingestion pipeline.

Send signed webhooks, seed realistic traffic and manage the record store
schema from your terminal.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.crmctl/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current_profile)")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

// activeProfile resolves --profile against the loaded config.
func activeProfile(cmd *cobra.Command) (*config.Profile, error) {
	name, _ := cmd.Flags().GetString("profile")
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg.Resolve(name)
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "table", "json":
		return format, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want table or json)", format)
}
