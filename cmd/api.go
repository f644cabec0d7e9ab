package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

// NewAPICommand sends one request through the retrying client, the way a
// skill would call glab api.
func NewAPICommand(cfg *config.Configuration) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "api METHOD ENDPOINT [JSON-BODY]",
		Short: "Call the GitLab API through glab with retries",
		Example: `  harness api GET /projects/live-test-group%2Ftest-project
  harness api --role reporter POST /projects/1/labels '{"name":"x","color":"#ff0000"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireToken(cfg); err != nil {
				return err
			}

			var body any
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &body); err != nil {
					return fmt.Errorf("body is not valid JSON: %w", err)
				}
			}

			client, err := newClient(cfg, role)
			if err != nil {
				return err
			}

			resp, err := client.Request(commandContext(cmd), strings.ToUpper(args[0]), args[1], body)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "Call with the token of this role (root, maintainer, developer, reporter)")

	return cmd
}

func printResponse(w io.Writer, resp *glab.Response) error {
	if resp.IsAbsent() {
		return nil
	}
	if text, ok := resp.Raw(); ok {
		_, err := fmt.Fprintln(w, text)
		return err
	}

	v, err := resp.Value()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
