package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/dapi"
)

func newCallCommand() *cobra.Command {
	var (
		server    string
		policyStr string
		targets   []string
		broadcast bool
		wait      bool
		callArgs  map[string]string
		subject   string
		roles     []string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <function>",
		Short: "Dispatch a management API call",
		Long: `Send a management API call to a manager node and print the result.

The execution policy decides where the call runs:
  local_any           on the node that receives it
  local_master        on the master, forwarded from workers
  distributed_master  fanned out to target nodes or the whole cluster`,
		Example: `  # Ask the local node about itself
  fleetmesh call cluster.local_info

  # Collect stats from two workers via the master
  fleetmesh call manager.stats --policy distributed_master \
    --target worker-1 --target worker-2 --arg hours=6

  # Health-check every live node
  fleetmesh call cluster.healthcheck --policy distributed_master --broadcast

  # Call as an identified subject, checked against policy
  fleetmesh call manager.restart --subject alice --role admin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := dapi.ParsePolicy(policyStr)
			if err != nil {
				return err
			}
			address, err := resolveServer(server)
			if err != nil {
				return err
			}
			perms, err := claimDocument(subject, roles)
			if err != nil {
				return err
			}

			call := cluster.Call{
				Function:  args[0],
				Args:      parseCallArgs(callArgs),
				Policy:    string(pol),
				Targets:   targets,
				Broadcast: broadcast,
				Wait:      wait,
				Perms:     perms,
			}
			payload, err := issueCall(cmd.Context(), address, call, timeout)
			if err != nil {
				return err
			}
			return printPayload(payload)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "manager node address (host:port)")
	cmd.Flags().StringVar(&policyStr, "policy", string(dapi.PolicyLocalAny), "execution policy")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "target nodes for fan-out calls")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "fan out to every live node")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for completion, disabling the call timeout")
	cmd.Flags().StringToStringVarP(&callArgs, "arg", "a", nil, "call arguments (key=value)")
	cmd.Flags().StringVar(&subject, "subject", "", "subject the call is made as")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "roles held by the subject")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "client-side call timeout")

	return cmd
}
