package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/dapi"
)

func newStatusCommand() *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cluster and node status",
		Long: `Query a manager node for the cluster state, its own identity and the
health of its subsystems.`,
		Example: `  # Status of the local node
  fleetmesh status

  # Status of a remote node
  fleetmesh status -s 10.0.0.2:1516`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveServer(server)
			if err != nil {
				return err
			}

			queries := []struct {
				key      string
				function string
				policy   dapi.Policy
			}{
				{"cluster", "cluster.status", dapi.PolicyLocalMaster},
				{"local", "cluster.local_info", dapi.PolicyLocalAny},
				{"health", "cluster.healthcheck", dapi.PolicyLocalAny},
			}

			status := make(map[string]any, len(queries))
			for _, q := range queries {
				payload, err := issueCall(cmd.Context(), address, cluster.Call{
					Function: q.function,
					Policy:   string(q.policy),
				}, timeout)
				if err != nil {
					return err
				}
				status[q.key] = payload
			}
			return printPayload(status)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "manager node address (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "client-side call timeout")

	return cmd
}
