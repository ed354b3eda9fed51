package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountCmd(load appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect configured accounts",
	}

	cmd.AddCommand(
		newAccountListCmd(load),
	)

	return cmd
}

func newAccountListCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			accounts, err := app.accounts.List(cmd.Context())
			if err != nil {
				return err
			}

			for index, account := range accounts {
				state := "active"
				if !account.Active {
					state = "inactive"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", account.ID, account.DisplayName(index), state)
			}

			return nil
		},
	}
}
