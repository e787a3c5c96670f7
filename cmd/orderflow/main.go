package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orderflow",
		Short: "Durable order fulfillment coordinator",
		Long: `orderflow runs order fulfillment sagas on a replaying workflow engine.

Orders are accepted over HTTP, recorded in an append-only history and
driven to completion by a pool of workers. A restarted process resumes
unfinished orders from their history.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newHistoryCommand())
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
