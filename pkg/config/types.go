package config

import (
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// Config is the full manager node configuration.
type Config struct {
	Node      NodeConfig       `json:"node" yaml:"node" validate:"required"`
	Cluster   ClusterConfig    `json:"cluster" yaml:"cluster" validate:"required"`
	Dispatch  DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Store     StoreConfig      `json:"store" yaml:"store"`
	Policy    PolicyConfig     `json:"policy" yaml:"policy"`
	Telemetry telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// NodeConfig identifies this manager node.
type NodeConfig struct {
	Name          string `json:"name" yaml:"name" validate:"required"`
	Role          string `json:"role" yaml:"role" validate:"required,oneof=master worker"`
	ListenAddress string `json:"listen_address" yaml:"listen_address" validate:"required,hostname_port"`
}

// ClusterConfig describes the cluster this node belongs to. Membership
// comes either from the static Nodes list or from a Starlark inventory
// script; exactly one of the two must be set.
type ClusterConfig struct {
	Name          string      `json:"name" yaml:"name" validate:"required"`
	Nodes         []NodeEntry `json:"nodes,omitempty" yaml:"nodes,omitempty" validate:"omitempty,dive"`
	InventoryFile string      `json:"inventory_file,omitempty" yaml:"inventory_file,omitempty"`
}

// NodeEntry is one cluster member in the static membership list.
type NodeEntry struct {
	Name    string `json:"name" yaml:"name" validate:"required"`
	Role    string `json:"role" yaml:"role" validate:"required,oneof=master worker"`
	Address string `json:"address" yaml:"address" validate:"required,hostname_port"`
}

// DispatchConfig tunes the dispatch core.
type DispatchConfig struct {
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	ForwardTimeout time.Duration `json:"forward_timeout" yaml:"forward_timeout"`
	RetryBackoff   time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	RemoteLogFile  string        `json:"remote_log_file" yaml:"remote_log_file"`
}

// StoreConfig locates the audit database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// PolicyConfig locates authorization policies.
type PolicyConfig struct {
	Dir   string `json:"dir" yaml:"dir"`
	Watch bool   `json:"watch" yaml:"watch"`
}

// Node converts a membership entry to the cluster model.
func (e NodeEntry) Node() cluster.Node {
	return cluster.Node{
		Name:      e.Name,
		Role:      cluster.Role(e.Role),
		Address:   e.Address,
		Reachable: true,
	}
}

// ClusterNodes converts the static membership list to cluster nodes.
func (c ClusterConfig) ClusterNodes() []cluster.Node {
	nodes := make([]cluster.Node, 0, len(c.Nodes))
	for _, e := range c.Nodes {
		nodes = append(nodes, e.Node())
	}
	return nodes
}

// Default returns a configuration with sane defaults for everything a
// file may omit.
func Default() Config {
	return Config{
		Node: NodeConfig{
			Role:          "master",
			ListenAddress: "0.0.0.0:1516",
		},
		Cluster: ClusterConfig{
			Name: "fleetmesh",
		},
		Dispatch: DispatchConfig{
			Timeout:       10 * time.Second,
			RetryBackoff:  250 * time.Millisecond,
			RemoteLogFile: "fleetmesh.log",
		},
		Store: StoreConfig{
			Path: "fleetmesh.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}
