package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/config"
	"github.com/fleetmesh/fleetmesh/pkg/policy"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [config-file]",
		Short: "Validate a node configuration",
		Long: `Parse and validate a configuration file without starting the node.

Checks config syntax and topology invariants, evaluates the Starlark
inventory when one is referenced and compiles the policy directory.`,
		Example: `  # Check a CUE config
  fleetmesh check node.cue

  # Check the config given via the global flag
  fleetmesh check -c node.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("config file is required")
			}

			cfg, err := config.NewLoader().Load(path)
			if err != nil {
				return err
			}

			summary := map[string]any{
				"config":  path,
				"node":    cfg.Node.Name,
				"role":    cfg.Node.Role,
				"cluster": cfg.Cluster.Name,
			}

			if cfg.Cluster.InventoryFile != "" {
				ev := config.NewInventoryEvaluator(0)
				nodes, err := ev.LoadFile(cmd.Context(), cfg.Cluster.InventoryFile, map[string]any{
					"cluster": cfg.Cluster.Name,
					"node":    cfg.Node.Name,
				})
				if err != nil {
					return err
				}
				summary["inventory_nodes"] = len(nodes)
			} else {
				summary["nodes"] = len(cfg.Cluster.Nodes)
			}

			if cfg.Policy.Dir != "" {
				engine, err := policy.NewEngine(telemetry.NopLogger())
				if err != nil {
					return err
				}
				policies, err := policy.NewLoader(telemetry.NopLogger()).LoadDir(cmd.Context(), cfg.Policy.Dir)
				if err != nil {
					return err
				}
				if err := engine.Replace(cmd.Context(), policies); err != nil {
					return err
				}
				summary["policies"] = len(policies)
			}

			summary["valid"] = true
			return printPayload(summary)
		},
	}
	return cmd
}
