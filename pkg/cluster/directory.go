package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
)

// Snapshot is a read-only view of cluster membership taken at dispatch
// time. It is never refreshed in place; a new dispatch takes a new
// snapshot.
type Snapshot struct {
	nodes map[string]Node
}

// NewSnapshot builds a snapshot from a node list. Later entries win on
// duplicate names.
func NewSnapshot(nodes []Node) Snapshot {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.Name] = n
	}
	return Snapshot{nodes: m}
}

// Get returns the node with the given name.
func (s Snapshot) Get(name string) (Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Len returns the number of known nodes, reachable or not.
func (s Snapshot) Len() int { return len(s.nodes) }

// Master returns the master node, if the snapshot contains one.
func (s Snapshot) Master() (Node, bool) {
	for _, n := range s.nodes {
		if n.Role == RoleMaster {
			return n, true
		}
	}
	return Node{}, false
}

// Live returns every reachable node in stable name order. This is the
// broadcast set.
func (s Snapshot) Live() []Node {
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		if n.Reachable {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ordered returns every known node in stable name order.
func (s Snapshot) Ordered() []Node {
	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Directory resolves the current cluster topology. Implementations must
// reflect membership at call time; callers never cache the result across
// dispatches.
type Directory interface {
	// Nodes returns the current topology. A failure to reach the
	// membership source is fatal to any dispatch and is reported as an
	// internal taxonomy error.
	Nodes(ctx context.Context) (Snapshot, error)
}

// Provider is the external cluster-membership source the directory wraps.
type Provider interface {
	ListNodes(ctx context.Context) ([]Node, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) ([]Node, error)

// ListNodes implements Provider.
func (f ProviderFunc) ListNodes(ctx context.Context) ([]Node, error) { return f(ctx) }

// directory is the Provider-backed Directory used in production.
type directory struct {
	provider Provider
}

// NewDirectory wraps a membership provider in a Directory.
func NewDirectory(p Provider) Directory {
	return &directory{provider: p}
}

// Nodes implements Directory. Provider failures are wrapped as internal
// topology errors since no dispatch can be routed without topology.
func (d *directory) Nodes(ctx context.Context) (Snapshot, error) {
	nodes, err := d.provider.ListNodes(ctx)
	if err != nil {
		return Snapshot{}, apierror.NewInternal(apierror.CodeTopologyUnavailable).
			WithMessage(err.Error())
	}
	return NewSnapshot(nodes), nil
}

// StaticDirectory is a Directory over a fixed node set. It backs
// single-node deployments and tests.
type StaticDirectory struct {
	snapshot Snapshot
}

// NewStaticDirectory builds a directory that always returns the given
// nodes.
func NewStaticDirectory(nodes ...Node) *StaticDirectory {
	return &StaticDirectory{snapshot: NewSnapshot(nodes)}
}

// Nodes implements Directory.
func (d *StaticDirectory) Nodes(context.Context) (Snapshot, error) {
	return d.snapshot, nil
}

// Validate checks structural invariants of a node list: unique names,
// known roles, exactly one master.
func Validate(nodes []Node) error {
	seen := make(map[string]struct{}, len(nodes))
	masters := 0
	for _, n := range nodes {
		if n.Name == "" {
			return fmt.Errorf("node with empty name")
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = struct{}{}
		if !n.Role.Valid() {
			return fmt.Errorf("node %q has unknown role %q", n.Name, n.Role)
		}
		if n.Role == RoleMaster {
			masters++
		}
	}
	if masters != 1 {
		return fmt.Errorf("cluster must have exactly one master, found %d", masters)
	}
	return nil
}
