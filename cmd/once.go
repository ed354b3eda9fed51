package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newOnceCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle over every account and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := app.wireEngine(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			_, err = engine.scheduler.RunCycle(ctx)
			return err
		},
	}
}
