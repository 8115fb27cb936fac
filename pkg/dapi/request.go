package dapi

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

// Policy selects where a call must execute. The textual values are the
// ones the upstream request handler supplies and the ones that travel in
// forwarded calls.
type Policy string

const (
	// PolicyLocalAny executes on the receiving node.
	PolicyLocalAny Policy = "local_any"

	// PolicyLocalMaster executes on the master, forwarding from workers.
	PolicyLocalMaster Policy = "local_master"

	// PolicyDistributedMaster fans out from the master to a resolved
	// target set.
	PolicyDistributedMaster Policy = "distributed_master"
)

// ParsePolicy converts a textual policy selector, rejecting unknown
// values with a user error.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyLocalAny, PolicyLocalMaster, PolicyDistributedMaster:
		return p, nil
	default:
		return "", apierror.NewUser(1307).WithMessage(fmt.Sprintf("unknown execution policy %q", s))
	}
}

// Request is the immutable descriptor of one API call. Build it with
// NewRequest, which enforces the structural invariants; a hand-built
// Request must pass Validate before dispatch.
type Request struct {
	// ID correlates the request across nodes and log lines.
	ID string

	// Function names the registered operation to invoke. The operation
	// itself is opaque to the dispatcher.
	Function string

	// Args is the sparse argument map: parameters the caller omitted or
	// supplied as nil are absent, never present with a nil value.
	Args map[string]any

	// Policy selects local, forwarded or fan-out execution.
	Policy Policy

	// Broadcast targets every reachable node instead of an explicit
	// subset. Only meaningful with PolicyDistributedMaster.
	Broadcast bool

	// TargetNodes is the explicit ordered target set for fan-out calls.
	// Must be empty for PolicyLocalAny and when Broadcast is set.
	TargetNodes []string

	// WaitForComplete disables the per-call timeout.
	WaitForComplete bool

	// IsAsync marks operations that honor context cancellation. The
	// dispatcher awaits them under the per-call deadline instead of
	// abandoning them on expiry.
	IsAsync bool

	// Permissions is the caller's permission set, threaded through to
	// the callee untouched. The dispatcher never inspects it.
	Permissions json.RawMessage

	// Pretty is a formatting hint carried to the response renderer. The
	// dispatch core does not interpret it.
	Pretty bool
}

// RequestOption customizes a Request under construction.
type RequestOption func(*Request)

// WithBroadcast targets every reachable node.
func WithBroadcast() RequestOption {
	return func(r *Request) { r.Broadcast = true }
}

// WithTargetNodes sets the explicit fan-out target set, preserving
// order.
func WithTargetNodes(nodes ...string) RequestOption {
	return func(r *Request) { r.TargetNodes = nodes }
}

// WithWaitForComplete disables the per-call timeout.
func WithWaitForComplete() RequestOption {
	return func(r *Request) { r.WaitForComplete = true }
}

// WithAsync marks the callee as context-aware.
func WithAsync() RequestOption {
	return func(r *Request) { r.IsAsync = true }
}

// WithPermissions attaches the caller's opaque permission set.
func WithPermissions(perms json.RawMessage) RequestOption {
	return func(r *Request) { r.Permissions = perms }
}

// WithPretty sets the pretty-output rendering hint.
func WithPretty() RequestOption {
	return func(r *Request) { r.Pretty = true }
}

// NewRequest builds a validated dispatch request. nil-valued arguments
// are stripped so callees see only parameters that were actually
// supplied.
func NewRequest(function string, args map[string]any, policy Policy, opts ...RequestOption) (*Request, error) {
	r := &Request{
		ID:       uuid.New().String(),
		Function: function,
		Args:     stripNils(args),
		Policy:   policy,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// FromCall reconstructs the request a peer serialized into a wire call.
// The sender's request ID is kept so log lines correlate across nodes;
// a call without one gets a fresh ID.
func FromCall(call cluster.Call) (*Request, error) {
	r := &Request{
		ID:              call.RequestID,
		Function:        call.Function,
		Args:            call.Args,
		Policy:          Policy(call.Policy),
		Broadcast:       call.Broadcast,
		TargetNodes:     call.Targets,
		WaitForComplete: call.Wait,
		IsAsync:         call.Async,
		Permissions:     call.Perms,
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the structural invariants of the request. Violations
// are user errors: they describe a malformed call, not a defect.
func (r *Request) Validate() error {
	if r.Function == "" {
		return apierror.NewUser(1307).WithMessage("no function specified")
	}
	switch r.Policy {
	case PolicyLocalAny:
		if len(r.TargetNodes) > 0 || r.Broadcast {
			return apierror.NewUser(1307).
				WithMessage("local_any requests cannot name target nodes or broadcast")
		}
	case PolicyLocalMaster:
		if len(r.TargetNodes) > 0 || r.Broadcast {
			return apierror.NewUser(1307).
				WithMessage("local_master requests cannot name target nodes or broadcast")
		}
	case PolicyDistributedMaster:
		if r.Broadcast && len(r.TargetNodes) > 0 {
			return apierror.NewUser(1307).
				WithMessage("broadcast and an explicit target list are mutually exclusive")
		}
		if !r.Broadcast && len(r.TargetNodes) == 0 {
			return apierror.NewUser(1307).
				WithMessage("distributed_master requests need target nodes or broadcast")
		}
		if dup := firstDuplicate(r.TargetNodes); dup != "" {
			return apierror.NewUser(1307).
				WithMessage(fmt.Sprintf("duplicate target node %q", dup))
		}
	default:
		return apierror.NewUser(1307).WithMessage(fmt.Sprintf("unknown execution policy %q", r.Policy))
	}
	return nil
}

// stripNils drops nil-valued entries, implementing the sparse-kwargs
// contract. The input map is not modified.
func stripNils(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func firstDuplicate(nodes []string) string {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n]; dup {
			return n
		}
		seen[n] = struct{}{}
	}
	return ""
}
