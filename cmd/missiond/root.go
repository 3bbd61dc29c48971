package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "missiond",
	Short: "missiond - mission interpreter daemon",
	Long: `missiond loads, compiles and executes robot mission trees. It
exposes the mission lifecycle (load, play, pause, stop, restart),
state and history queries, and operator question answering over an
HTTP API, and delegates externally hosted nodes to remote mission
services.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal-aware cancellation.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "missiond.yaml", "path to the daemon configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(Version)
	},
}
