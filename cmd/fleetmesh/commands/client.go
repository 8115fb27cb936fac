package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/config"
	"github.com/fleetmesh/fleetmesh/pkg/remote"
)

const defaultServerAddress = "127.0.0.1:1516"

// resolveServer picks the manager node to talk to: the --server flag,
// the listen address of the configured node, or the local default.
func resolveServer(serverFlag string) (string, error) {
	if serverFlag != "" {
		return serverFlag, nil
	}
	if configPath != "" {
		cfg, err := config.NewLoader().Load(configPath)
		if err != nil {
			return "", err
		}
		return cfg.Node.ListenAddress, nil
	}
	return defaultServerAddress, nil
}

// issueCall sends one call to a manager node and returns its payload.
func issueCall(ctx context.Context, address string, call cluster.Call, timeout time.Duration) (any, error) {
	if call.RequestID == "" {
		call.RequestID = uuid.New().String()
	}
	if timeout > 0 && !call.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := remote.NewClient(remote.ClientConfig{})
	node := cluster.Node{Name: address, Address: address, Reachable: true}
	return client.Call(ctx, node, call)
}

// parseCallArgs converts key=value pairs into the sparse argument map.
// Values are decoded as JSON so numbers and booleans keep their type;
// anything that does not parse stays a string.
func parseCallArgs(pairs map[string]string) map[string]any {
	if len(pairs) == 0 {
		return nil
	}
	args := make(map[string]any, len(pairs))
	for k, raw := range pairs {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		args[k] = v
	}
	return args
}

// claimDocument builds the access claim attached to a call when the
// caller identifies itself.
func claimDocument(subject string, roles []string) (json.RawMessage, error) {
	if subject == "" && len(roles) == 0 {
		return nil, nil
	}
	return json.Marshal(accessClaim{Subject: subject, Roles: roles})
}

// printPayload renders a call result to stdout.
func printPayload(payload any) error {
	var (
		out []byte
		err error
	)
	if jsonOutput {
		out, err = json.Marshal(payload)
	} else {
		out, err = json.MarshalIndent(payload, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
