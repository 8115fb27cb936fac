package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleetmesh",
		Short: "FleetMesh - Distributed Management API Dispatcher",
		Long: `FleetMesh runs a cluster of manager nodes that route management API
calls across the fleet and aggregate their results.

Features:
  - Local, forwarded and fan-out execution policies
  - Per-node failure attribution with a numeric error taxonomy
  - Typed configs via CUE or YAML, dynamic inventory via Starlark
  - RBAC policy enforcement via OPA/rego
  - SQLite-backed dispatch audit trail`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newNodesCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}
