package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/dapi"
)

func newNodesCommand() *cobra.Command {
	var (
		server  string
		sort    string
		search  string
		limit   int
		offset  int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List the nodes of the cluster",
		Long: `List cluster membership as the master sees it. Workers forward the
query to the master, so the answer is authoritative from any node.`,
		Example: `  # List all nodes
  fleetmesh nodes

  # Workers only, sorted by name descending
  fleetmesh nodes --search worker --sort -name`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := resolveServer(server)
			if err != nil {
				return err
			}

			callArgs := map[string]any{}
			if sort != "" {
				callArgs["sort"] = sort
			}
			if search != "" {
				callArgs["search"] = search
			}
			if limit > 0 {
				callArgs["limit"] = limit
			}
			if offset > 0 {
				callArgs["offset"] = offset
			}

			payload, err := issueCall(cmd.Context(), address, cluster.Call{
				Function: "cluster.nodes",
				Args:     callArgs,
				Policy:   string(dapi.PolicyLocalMaster),
			}, timeout)
			if err != nil {
				return err
			}
			return printPayload(payload)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "manager node address (host:port)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort field, prefix with + or - for direction")
	cmd.Flags().StringVar(&search, "search", "", "substring filter over node fields")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of nodes to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of nodes to skip")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "client-side call timeout")

	return cmd
}
