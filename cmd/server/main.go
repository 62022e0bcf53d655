package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	debug   bool
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "sam-ai",
		Short:        "Sam AI chat relay with durable per-session history",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging (overrides DEBUG)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newClearCmd(opts),
		newPruneCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
