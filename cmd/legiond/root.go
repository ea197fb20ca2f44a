package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"legion/internal/version"
)

// newRootCmd creates the root legiond command with all subcommands
// attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "legiond",
		Short:         "Legion minion orchestration daemon",
		Long:          "legiond runs the Legion core: the event bus, minion runtimes,\nthe task orchestrator, and the client-facing API.",
		Version:       fmt.Sprintf("legiond %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
	)

	return cmd
}
