package policy

import (
	"time"
)

// Policy is one Rego policy known to the engine.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for the
	// built-in policy.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded or last reloaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// AccessRequest describes one authorization question.
type AccessRequest struct {
	// Subject is the caller identity.
	Subject string `json:"subject"`

	// Roles are the caller's assigned roles.
	Roles []string `json:"roles"`

	// Action is the operation being attempted, e.g. "agent:restart".
	Action string `json:"action"`

	// Resource optionally narrows the action to one resource.
	Resource string `json:"resource,omitempty"`

	// Node is the node the action targets, when relevant.
	Node string `json:"node,omitempty"`
}

// Decision is the outcome of evaluating an access request.
type Decision struct {
	// Allowed indicates if the request is permitted.
	Allowed bool `json:"allowed"`

	// Policy names the policy that produced the decision.
	Policy string `json:"policy"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
