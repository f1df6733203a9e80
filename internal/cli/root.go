package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"actionqueue/internal/app"
)

const defaultConfigPath = "./config.yaml"

// NewRootCommand returns the actionqueue command. Without a subcommand it
// runs the daemon.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "actionqueue",
		Short:         "Scheduled action queue daemon",
		Long:          "actionqueue runs configured jobs through a bounded action queue and journals every settlement.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDaemon,
	}
	root.PersistentFlags().String("config", envOr("ACTIONQUEUE_CONFIG", defaultConfigPath), "path to config (yaml or json)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon until SIGINT/SIGTERM",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and every job, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if err := app.CheckConfig(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
	root.AddCommand(runCmd, checkCmd, newJournalCommand())
	root.AddCommand(newRemoteCommands()...)
	return root
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(path)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
