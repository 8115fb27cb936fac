package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// Engine evaluates authorization policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

// compiledPolicy is a policy with its prepared queries.
type compiledPolicy struct {
	policy     Policy
	allowQuery rego.PreparedEvalQuery
	permsQuery *rego.PreparedEvalQuery
	compiled   time.Time
}

// NewEngine creates a policy engine with the built-in policy loaded.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy-engine"),
	}

	builtin := BuiltinPolicy()
	if err := e.compileAndStore(context.Background(), builtin); err != nil {
		return nil, fmt.Errorf("failed to compile built-in policy: %w", err)
	}
	return e, nil
}

// Authorize evaluates the access request against every enabled policy.
// The request is allowed when any policy allows it.
func (e *Engine) Authorize(ctx context.Context, req AccessRequest) (Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := Decision{EvaluatedAt: time.Now()}
	for name, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		results, err := cp.allowQuery.Eval(ctx, rego.EvalInput(req))
		if err != nil {
			return Decision{}, apierror.NewInternal(apierror.CodeInternal).
				WithMessage(fmt.Sprintf("policy %s evaluation failed: %v", name, err))
		}
		if results.Allowed() {
			decision.Allowed = true
			decision.Policy = name
			return decision, nil
		}
	}
	return decision, nil
}

// Permissions derives the caller's effective permission set as an
// opaque JSON document: the union of the actions every enabled policy
// grants. The dispatch core threads the document to remote legs
// without interpreting it.
func (e *Engine) Permissions(ctx context.Context, subject string, roles []string) (json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := AccessRequest{Subject: subject, Roles: roles}
	actionSet := map[string]struct{}{}

	for name, cp := range e.policies {
		if !cp.policy.Enabled || cp.permsQuery == nil {
			continue
		}

		results, err := cp.permsQuery.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, apierror.NewInternal(apierror.CodeInternal).
				WithMessage(fmt.Sprintf("policy %s permissions failed: %v", name, err))
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				doc, ok := expr.Value.(map[string]any)
				if !ok {
					continue
				}
				if actions, ok := doc["actions"].([]any); ok {
					for _, a := range actions {
						if s, ok := a.(string); ok {
							actionSet[s] = struct{}{}
						}
					}
				}
			}
		}
	}

	actions := make([]string, 0, len(actionSet))
	for a := range actionSet {
		actions = append(actions, a)
	}
	sort.Strings(actions)

	doc, err := json.Marshal(map[string]any{
		"subject": subject,
		"actions": actions,
	})
	if err != nil {
		return nil, apierror.NewInternal(apierror.CodeInternal).WithMessage(err.Error())
	}
	return doc, nil
}

// Replace swaps in a new set of file-sourced policies, keeping the
// built-in one. Used by the loader on hot reload.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies)+1)
	for _, p := range policies {
		cp, err := e.compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if builtin, ok := e.policies[BuiltinPolicyName]; ok {
		if _, overridden := compiled[BuiltinPolicyName]; !overridden {
			compiled[BuiltinPolicyName] = builtin
		}
	}
	e.policies = compiled

	e.logger.WithField("count", len(compiled)).Info("Policies replaced")
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.WithField("policy", name).WithField("enabled", enabled).Info("Policy toggled")
	return nil
}

func (e *Engine) compileAndStore(ctx context.Context, p Policy) error {
	cp, err := e.compile(ctx, p)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()
	return nil
}

func (e *Engine) compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	pkg := extractPackageName(p.Rego)

	allowQuery, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.allow", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare allow query: %w", err)
	}

	cp := &compiledPolicy{
		policy:     p,
		allowQuery: allowQuery,
		compiled:   time.Now(),
	}

	// permissions is optional; policies that only answer allow/deny
	// simply don't contribute to the permission set.
	if strings.Contains(p.Rego, "permissions") {
		permsQuery, err := rego.New(
			rego.Module(p.Name, p.Rego),
			rego.Query(fmt.Sprintf("data.%s.permissions", pkg)),
		).PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare permissions query: %w", err)
		}
		cp.permsQuery = &permsQuery
	}

	e.logger.WithField("policy", p.Name).Debug("Policy compiled")
	return cp, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "fleetmesh.authz"
}
