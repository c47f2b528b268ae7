// Sightctl is an operator tool for checking catalog resolution, triage rules
// and partner connectivity without running the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	v "github.com/linnemanlabs/go-core/version"
)

func main() {
	v.AppName = "sightline"
	v.Component = "sightctl"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sightctl",
		Short:         "Sightline operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vi := v.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sightctl %s (commit=%s, build_date=%s, go=%s)\n",
				vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
			return err
		},
	}
}
