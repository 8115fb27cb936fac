package commands

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/config"
	"github.com/fleetmesh/fleetmesh/pkg/transports/ssh"
)

func newLogsCommand() *cobra.Command {
	var (
		user       string
		port       int
		keyPath    string
		passphrase string
		password   string
		knownHosts string
		insecure   bool
		logDir     string
		tailBytes  int64
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs <node> [logfile]",
		Short: "Fetch a log file from a node's host",
		Long: `Fetch the tail of a log file from a node's host over SSH.

When a fan-out call comes back partial, each failed node's error names
the log file on that node worth reading. This command follows that
hint: it resolves the node's address through the cluster config,
connects to the host and prints the log tail to stdout.

Without a config file the node argument is used as the host directly.
Without a logfile argument the node's dispatch log is fetched.`,
		Example: `  # Read the dispatch log of a worker that timed out
  fleetmesh logs -c node.cue worker-2

  # Follow the log hint from a partial result
  fleetmesh logs -c node.cue worker-2 fleetmesh.log

  # Reach a host outside the configured cluster
  fleetmesh logs 10.0.0.7 /var/log/fleetmesh/fleetmesh.log -u ops`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configPath != "" {
				var err error
				cfg, err = config.NewLoader().Load(configPath)
				if err != nil {
					return err
				}
			}
			host, logFile, err := resolveLogTarget(cmd.Context(), cfg, args)
			if err != nil {
				return err
			}

			sshCfg := ssh.DefaultConfig(host, user)
			sshCfg.Port = port
			if keyPath != "" {
				sshCfg.PrivateKeyPath = keyPath
			}
			if passphrase != "" {
				sshCfg.PrivateKeyPassphrase = passphrase
			}
			if password != "" {
				sshCfg.AuthMethod = ssh.AuthMethodPassword
				sshCfg.Password = password
			}
			if knownHosts != "" {
				sshCfg.KnownHostsPath = knownHosts
			}
			if insecure {
				sshCfg.StrictHostKeyChecking = false
			}
			if logDir != "" {
				sshCfg.LogDir = logDir
			}

			client, err := ssh.NewClient(sshCfg, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer client.Close()

			data, err := client.FetchLog(ctx, logFile, tailBytes)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", defaultSSHUser(), "ssh user on the node's host")
	cmd.Flags().IntVarP(&port, "port", "p", 22, "ssh port on the node's host")
	cmd.Flags().StringVarP(&keyPath, "key", "i", "", "private key file (default: ~/.ssh/id_*)")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the private key")
	cmd.Flags().StringVar(&password, "password", "", "use password authentication instead of a key")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "known_hosts file for host key verification")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip host key verification")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "remote directory relative log names resolve against")
	cmd.Flags().Int64Var(&tailBytes, "bytes", ssh.DefaultTailBytes, "how much of the log tail to fetch")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall fetch timeout")

	return cmd
}

// resolveLogTarget turns the command arguments into the SSH host to
// reach and the log file to fetch. With a cluster config the node name
// is resolved through the membership source; without one the argument
// itself is the host.
func resolveLogTarget(ctx context.Context, cfg *config.Config, args []string) (host, logFile string, err error) {
	logFile = "fleetmesh.log"
	if len(args) > 1 {
		logFile = args[1]
	}

	if cfg == nil {
		return sshHostOf(args[0]), logFile, nil
	}
	if len(args) < 2 && cfg.Dispatch.RemoteLogFile != "" {
		logFile = cfg.Dispatch.RemoteLogFile
	}

	snap, err := buildDirectory(cfg).Nodes(ctx)
	if err != nil {
		return "", "", err
	}
	node, ok := snap.Get(args[0])
	if !ok {
		return "", "", apierror.NewUser(1730).WithMessage(args[0])
	}
	return sshHostOf(node.Address), logFile, nil
}

// sshHostOf strips the manager listen port off a node address.
func sshHostOf(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil && host != "" {
		return host
	}
	return address
}

func defaultSSHUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}
