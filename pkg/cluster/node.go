package cluster

import "fmt"

// Role identifies a node's place in the cluster.
type Role string

const (
	// RoleMaster is the node that resolves topology and coordinates
	// fan-out. A healthy cluster has exactly one.
	RoleMaster Role = "master"

	// RoleWorker executes forwarded and fanned-out calls.
	RoleWorker Role = "worker"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleWorker
}

// Node is one manager node as seen by the membership provider.
type Node struct {
	// Name uniquely identifies the node inside the cluster.
	Name string `json:"name"`

	// Role is master or worker.
	Role Role `json:"role"`

	// Address is the host:port the node's cluster listener is reachable
	// on.
	Address string `json:"address"`

	// Reachable reports whether the membership provider considers the
	// node live. Unreachable nodes are excluded from broadcast sets.
	Reachable bool `json:"reachable"`
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return fmt.Sprintf("%s (%s, %s)", n.Name, n.Role, n.Address)
}
