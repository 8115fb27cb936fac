package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
)

const validCUE = `
node: {
	name:           "master-1"
	role:           "master"
	listen_address: "0.0.0.0:1516"
}
cluster: {
	name: "prod"
	nodes: [
		{name: "master-1", role: "master", address: "10.0.0.1:1516"},
		{name: "worker-1", role: "worker", address: "10.0.0.2:1516"},
	]
}
`

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCUE(t *testing.T) {
	path := writeTempConfig(t, "fleetmesh.cue", validCUE)

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Node.Name != "master-1" || cfg.Node.Role != "master" {
		t.Errorf("node = %+v", cfg.Node)
	}
	if cfg.Cluster.Name != "prod" || len(cfg.Cluster.Nodes) != 2 {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	// Omitted sections keep their defaults.
	if cfg.Dispatch.Timeout == 0 || cfg.Store.Path == "" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "fleetmesh.yaml", `
node:
  name: worker-1
  role: worker
  listen_address: 0.0.0.0:1516
cluster:
  name: prod
  nodes:
    - {name: master-1, role: master, address: "10.0.0.1:1516"}
    - {name: worker-1, role: worker, address: "10.0.0.2:1516"}
`)

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Name != "worker-1" || cfg.Node.Role != "worker" {
		t.Errorf("node = %+v", cfg.Node)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "absent.cue"))
	if apierror.CodeOf(err) != 1005 {
		t.Errorf("err = %v, want code 1005", err)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeTempConfig(t, "empty.cue", "   \n")
	_, err := NewLoader().Load(path)
	if apierror.CodeOf(err) != 1112 {
		t.Errorf("err = %v, want code 1112", err)
	}
}

func TestLoadSyntaxError(t *testing.T) {
	path := writeTempConfig(t, "broken.cue", "node: {name: }")
	_, err := NewLoader().Load(path)
	if apierror.CodeOf(err) != 1113 {
		t.Errorf("err = %v, want code 1113", err)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	path := writeTempConfig(t, "config.toml", "irrelevant")
	_, err := NewLoader().Load(path)
	if apierror.CodeOf(err) != 1113 {
		t.Errorf("err = %v, want code 1113", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing node name",
			mutate: func(c *Config) { c.Node.Name = "" },
		},
		{
			name:   "bad role",
			mutate: func(c *Config) { c.Node.Role = "leader" },
		},
		{
			name:   "bad listen address",
			mutate: func(c *Config) { c.Node.ListenAddress = "not-an-address" },
		},
		{
			name:   "no membership source",
			mutate: func(c *Config) { c.Cluster.Nodes = nil },
		},
		{
			name: "both membership sources",
			mutate: func(c *Config) {
				c.Cluster.InventoryFile = "inventory.star"
			},
		},
		{
			name: "two masters",
			mutate: func(c *Config) {
				c.Cluster.Nodes = append(c.Cluster.Nodes, NodeEntry{
					Name: "master-2", Role: "master", Address: "10.0.0.9:1516",
				})
			},
		},
		{
			name: "local node not in membership",
			mutate: func(c *Config) {
				c.Node.Name = "worker-9"
			},
		},
		{
			name: "local role disagrees with membership",
			mutate: func(c *Config) {
				c.Node.Name = "worker-1"
				c.Node.Role = "master"
			},
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Node = NodeConfig{Name: "master-1", Role: "master", ListenAddress: "0.0.0.0:1516"}
			cfg.Cluster = ClusterConfig{
				Name: "prod",
				Nodes: []NodeEntry{
					{Name: "master-1", Role: "master", Address: "10.0.0.1:1516"},
					{Name: "worker-1", Role: "worker", Address: "10.0.0.2:1516"},
				},
			}
			tt.mutate(&cfg)

			err := loader.Validate(&cfg)
			if apierror.CodeOf(err) != 1115 {
				t.Errorf("err = %v, want code 1115", err)
			}
			if err != nil && !apierror.IsUser(err) {
				t.Errorf("config rejection should be a user error, got %v", err)
			}
		})
	}
}
