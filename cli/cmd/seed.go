package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/crm-ingest/cli/internal/client"
	"github.com/telhawk-systems/crm-ingest/cli/internal/output"
	"github.com/telhawk-systems/crm-ingest/cli/internal/seeder"
	"github.com/telhawk-systems/crm-ingest/common/logging"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Send generated CRM webhooks",
	Long: `Generate realistic lead, billing and signup webhooks and send them to the
ingest service. A share of the traffic replays earlier bodies (exercising
deduplication) and a share is deliberately invalid.

Configuration cascade (priority order):
  1. Command-line flags
  2. SEEDER_* environment variables
  3. ./seeder.yaml, then ~/.crmctl/seeder.yaml
  4. Built-in defaults

Secrets missing from the seeder config are taken from the active profile.`,
	Example: `  crmctl seed --count 1000 --concurrency 8
  crmctl seed --kinds billing_update --duplicate-ratio 0.5
  crmctl seed --dry-run --count 5`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	profile, err := activeProfile(cmd)
	if err != nil {
		return err
	}

	seederCfg, _ := cmd.Flags().GetString("seeder-config")
	sc, err := seeder.LoadConfig(seederCfg)
	if err != nil {
		return err
	}
	applySeedFlags(cmd, sc, profile.IngestURL)
	for k, v := range profile.Secrets {
		if sc.Secrets[k] == "" {
			sc.Secrets[k] = v
		}
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid seeder config: %w", err)
	}

	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		payloads, err := seeder.Plan(sc, sc.Count)
		if err != nil {
			return err
		}
		for _, p := range payloads {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.Kind, p.Expect, p.Body)
		}
		return nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := "warn"
	if verbose {
		level = "info"
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.ParseLevel(level), "text")

	summary, err := seeder.NewRunner(sc, client.NewWebhookClient(sc.URL), logger.Logger).Run(cmd.Context())
	if format == "json" {
		if jerr := output.JSON(summary); jerr != nil {
			return jerr
		}
	} else {
		renderSummary(summary)
	}
	if err != nil {
		return fmt.Errorf("seeding interrupted: %w", err)
	}
	if summary.Errors > 0 {
		output.Warn("%d of %d sends failed in transport", summary.Errors, summary.Sent)
	}
	return nil
}

// applySeedFlags overlays explicitly set flags on the loaded config.
func applySeedFlags(cmd *cobra.Command, sc *seeder.Config, profileURL string) {
	f := cmd.Flags()
	if f.Changed("url") {
		sc.URL, _ = f.GetString("url")
	} else if !f.Changed("seeder-config") && profileURL != "" && sc.URL == "http://localhost:8088" {
		sc.URL = profileURL
	}
	if f.Changed("count") {
		sc.Count, _ = f.GetInt("count")
	}
	if f.Changed("kinds") {
		raw, _ := f.GetString("kinds")
		sc.Kinds = strings.Split(raw, ",")
	}
	if f.Changed("concurrency") {
		sc.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("duplicate-ratio") {
		sc.DuplicateRatio, _ = f.GetFloat64("duplicate-ratio")
	}
	if f.Changed("invalid-ratio") {
		sc.InvalidRatio, _ = f.GetFloat64("invalid-ratio")
	}
	if f.Changed("interval") {
		sc.Interval, _ = f.GetDuration("interval")
	}
	if f.Changed("seed") {
		sc.Seed, _ = f.GetInt64("seed")
	}
}

func renderSummary(s seeder.Summary) {
	output.Success("Sent %d webhooks in %s", s.Sent, s.Elapsed.Round(time.Millisecond))

	tbl := output.NewTable("METRIC", "COUNT")
	tbl.AddRow("accepted", strconv.Itoa(s.Accepted))
	tbl.AddRow("rejected", strconv.Itoa(s.Rejected))
	tbl.AddRow("transport errors", strconv.Itoa(s.Errors))
	tbl.AddRow("mismatched", strconv.Itoa(s.Mismatched))
	for _, k := range sortedKeys(s.ByKind) {
		tbl.AddRow("kind "+k, strconv.Itoa(s.ByKind[k]))
	}
	for _, k := range sortedKeys(s.ByIntent) {
		tbl.AddRow("intent "+k, strconv.Itoa(s.ByIntent[k]))
	}
	tbl.Render()

	if s.Mismatched > 0 {
		output.Warn("%d responses did not match the payload's intent", s.Mismatched)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("seeder-config", "", "seeder config file (default: ./seeder.yaml or ~/.crmctl/seeder.yaml)")
	seedCmd.Flags().String("url", "", "ingest service URL")
	seedCmd.Flags().IntP("count", "n", 0, "number of webhooks to send")
	seedCmd.Flags().String("kinds", "", "comma-separated webhook kinds")
	seedCmd.Flags().IntP("concurrency", "c", 0, "maximum requests in flight")
	seedCmd.Flags().Float64("duplicate-ratio", 0, "share of payloads that replay an earlier body")
	seedCmd.Flags().Float64("invalid-ratio", 0, "share of payloads that should be rejected")
	seedCmd.Flags().Duration("interval", 0, "delay between sends")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 picks one)")
	seedCmd.Flags().Bool("dry-run", false, "print generated payloads without sending")
	seedCmd.Flags().BoolP("verbose", "v", false, "log progress to stderr")
}
