package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(load appLoader) *cobra.Command {
	var skipFirst bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a cycle every day and keep sessions alive in between",
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
			serveMetrics(ctx, app.cfg.Metrics.Listen, engine.registry, app.logger)

			if skipFirst {
				if err := engine.scheduler.SleepUntil(ctx, app.schedule.Next(app.now())); err != nil {
					return ignoreShutdown(err)
				}
			}

			app.logger.Info("runner started", "schedule", app.schedule.String(), "accounts", len(engine.accounts))
			return ignoreShutdown(engine.scheduler.Run(ctx))
		},
	}

	cmd.Flags().BoolVar(&skipFirst, "wait", false, "wait for the next scheduled window instead of starting a cycle right away")

	return cmd
}

// ignoreShutdown turns a signal-driven stop into a clean exit.
func ignoreShutdown(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
