package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "sr",
		Short:         "Session runner (sr): daily account cycles with session upkeep",
		Long:          "sr runs the daily points cycle for every configured account, renews their sessions before they expire and keeps them alive between cycles.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.session-runner/config.toml)")

	load := func(cmd *cobra.Command) (*app, error) {
		return wireApp(configFile, cmd.ErrOrStderr())
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(load),
		newSessionCmd(load),
		newStatusCmd(load),
		newOnceCmd(load),
		newRunCmd(load),
	)

	return rootCmd
}
