package policy

import "time"

// BuiltinPolicyName is the name of the default role-grant policy.
const BuiltinPolicyName = "builtin-rbac"

// builtinRego is the default authorization policy. Sites override it by
// dropping a policy with richer grants into the policy directory.
const builtinRego = `# Default role-grant authorization.
package fleetmesh.authz

default allow := false

role_grants := {
	"admin": {"*"},
	"operator": {
		"cluster:read",
		"cluster:status",
		"agent:read",
		"agent:restart",
		"agent:upgrade",
		"node:read",
	},
	"readonly": {
		"cluster:read",
		"cluster:status",
		"agent:read",
		"node:read",
	},
}

allow if {
	some role in input.roles
	"*" in role_grants[role]
}

allow if {
	some role in input.roles
	input.action in role_grants[role]
}

actions contains a if {
	some role in input.roles
	some a in role_grants[role]
}

permissions := {
	"subject": input.subject,
	"actions": actions,
}
`

// BuiltinPolicy returns the built-in role-grant policy.
func BuiltinPolicy() Policy {
	return Policy{
		Name:        BuiltinPolicyName,
		Description: "Default role-grant authorization",
		Rego:        builtinRego,
		Enabled:     true,
		LoadedAt:    time.Now(),
	}
}
