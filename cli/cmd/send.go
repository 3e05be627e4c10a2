package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/crm-ingest/cli/internal/client"
	"github.com/telhawk-systems/crm-ingest/cli/internal/output"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one webhook",
	Long: `Send a single webhook body to the ingest service.

When the body has no secret_key, the secret configured for its webhook_id
in the active profile is injected.`,
	Example: `  crmctl send --json '{"webhook_id":"lead_ingest","lead_id":"L1","email":"a@example.com"}'
  crmctl send --file lead.json --secret super-secret-123
  cat signup.json | crmctl send --file -`,
	RunE: runSend,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the ingest service is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := activeProfile(cmd)
		if err != nil {
			return err
		}
		url := stringFlagOr(cmd, "ingest-url", profile.IngestURL)
		if err := client.NewWebhookClient(url).Online(cmd.Context()); err != nil {
			return fmt.Errorf("ingest service at %s is not reachable: %w", url, err)
		}
		output.Success("Ingest service at %s is online", url)
		return nil
	},
}

func runSend(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	profile, err := activeProfile(cmd)
	if err != nil {
		return err
	}

	body, err := readBody(cmd)
	if err != nil {
		return err
	}
	secret, _ := cmd.Flags().GetString("secret")
	body, err = withSecret(body, secret, profile.Secrets)
	if err != nil {
		return err
	}

	url := stringFlagOr(cmd, "ingest-url", profile.IngestURL)
	resp, err := client.NewWebhookClient(url).Send(cmd.Context(), body)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}

	if format == "json" {
		if err := output.JSON(resp); err != nil {
			return err
		}
	} else {
		tbl := output.NewTable("STATUS CODE", "STATUS", "MESSAGE")
		tbl.AddRow(strconv.Itoa(resp.StatusCode), resp.Status, resp.Message)
		tbl.Render()
	}
	if !resp.Accepted() {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}

func readBody(cmd *cobra.Command) ([]byte, error) {
	jsonData, _ := cmd.Flags().GetString("json")
	file, _ := cmd.Flags().GetString("file")

	switch {
	case jsonData != "" && file != "":
		return nil, errors.New("--json and --file are mutually exclusive")
	case jsonData != "":
		return []byte(jsonData), nil
	case file == "-":
		return io.ReadAll(cmd.InOrStdin())
	case file != "":
		return os.ReadFile(file)
	}
	return nil, errors.New("either --json or --file is required")
}

// withSecret sets secret_key when the body lacks one. An explicit secret
// wins over the profile; a body that already carries secret_key is sent
// untouched unless an explicit secret is given.
func withSecret(body []byte, explicit string, secrets map[string]string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("body is not a JSON object: %w", err)
	}
	if obj == nil {
		return body, nil
	}

	_, has := obj["secret_key"]
	switch {
	case explicit != "":
		obj["secret_key"] = explicit
	case has:
		return body, nil
	default:
		kind, _ := obj["webhook_id"].(string)
		s, ok := secrets[kind]
		if !ok {
			return body, nil
		}
		obj["secret_key"] = s
	}
	return json.Marshal(obj)
}

func stringFlagOr(cmd *cobra.Command, name, fallback string) string {
	if v, _ := cmd.Flags().GetString(name); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.AddCommand(sendCmd, statusCmd)

	sendCmd.Flags().String("json", "", "webhook body as JSON")
	sendCmd.Flags().StringP("file", "f", "", "read webhook body from file ('-' for stdin)")
	sendCmd.Flags().StringP("secret", "s", "", "shared secret (overrides the profile)")
	sendCmd.Flags().String("ingest-url", "", "ingest service URL (overrides the profile)")
	statusCmd.Flags().String("ingest-url", "", "ingest service URL (overrides the profile)")
}
