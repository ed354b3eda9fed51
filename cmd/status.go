package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bnema/session-runner/internal/adapters/render/summary"
	"github.com/bnema/session-runner/internal/domain"
	"github.com/spf13/cobra"
)

func newStatusCmd(load appLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the summary of the last cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			last, err := app.status.LastCycle(cmd.Context())
			if errors.Is(err, domain.ErrNoCycleHistory) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No cycle has run yet.")
				return err
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(last)
			}

			rendered := summary.Render(last, summary.RenderOptions{Location: app.schedule.Location()})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")

	return cmd
}
