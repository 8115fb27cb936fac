package cluster

import (
	"context"
	"encoding/json"
)

// Call is the logical request that travels between manager nodes: the
// name of a registered operation, its sparse argument map, and the flags
// the remote dispatcher needs to route it further. The physical wire
// format is owned by the channel implementation.
type Call struct {
	RequestID string          `json:"request_id"`
	Function  string          `json:"function"`
	Args      map[string]any  `json:"args,omitempty"`
	Policy    string          `json:"policy"`
	Targets   []string        `json:"targets,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Wait      bool            `json:"wait,omitempty"`
	Async     bool            `json:"async,omitempty"`
	Perms     json.RawMessage `json:"perms,omitempty"`
}

// Channel is the black-box RPC path between manager nodes. The dispatch
// core never sees how bytes move; it only issues calls against a named
// node and receives either a JSON-serializable payload or an error.
//
// Implementations must honor ctx cancellation so per-node deadlines can
// cut off in-flight calls without affecting siblings.
type Channel interface {
	Call(ctx context.Context, node Node, call Call) (any, error)
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, node Node, call Call) (any, error)

// Call implements Channel.
func (f ChannelFunc) Call(ctx context.Context, node Node, call Call) (any, error) {
	return f(ctx, node, call)
}
