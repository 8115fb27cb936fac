package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
)

// InventoryEvaluator executes Starlark inventory scripts. A script
// computes cluster membership and must leave a `nodes` global: a list
// of dicts with name, role and address keys, plus an optional
// reachable flag.
type InventoryEvaluator struct {
	timeout time.Duration
}

// NewInventoryEvaluator creates a Starlark inventory evaluator.
func NewInventoryEvaluator(timeout time.Duration) *InventoryEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &InventoryEvaluator{timeout: timeout}
}

// LoadFile evaluates the inventory script at path.
func (ie *InventoryEvaluator) LoadFile(ctx context.Context, path string, vars map[string]any) ([]cluster.Node, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apierror.NewUser(1005).WithMessage(path)
	}
	return ie.Eval(ctx, path, string(content), vars)
}

// Eval evaluates inventory script source. vars are exposed to the
// script as predeclared globals.
func (ie *InventoryEvaluator) Eval(ctx context.Context, filename, script string, vars map[string]any) ([]cluster.Node, error) {
	evalCtx, cancel := context.WithTimeout(ctx, ie.timeout)
	defer cancel()

	type evalResult struct {
		nodes []cluster.Node
		err   error
	}
	resultCh := make(chan evalResult, 1)

	go func() {
		nodes, err := ie.evalSync(filename, script, vars)
		resultCh <- evalResult{nodes: nodes, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, apierror.NewInternal(apierror.CodeInternal).
			WithMessage(fmt.Sprintf("inventory script %s timed out after %v", filename, ie.timeout))
	case res := <-resultCh:
		return res.nodes, res.err
	}
}

func (ie *InventoryEvaluator) evalSync(filename, script string, vars map[string]any) ([]cluster.Node, error) {
	thread := &starlark.Thread{
		Name: "fleetmesh-inventory",
		Print: func(_ *starlark.Thread, _ string) {
			// Inventory scripts have no output channel.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, apierror.NewUser(1113).WithMessage(err.Error())
	}

	nodesVal, ok := globals["nodes"]
	if !ok {
		return nil, apierror.NewUser(1115).WithMessage(fmt.Sprintf("inventory script %s defines no `nodes` global", filename))
	}

	raw, err := fromStarlarkValue(nodesVal)
	if err != nil {
		return nil, apierror.NewUser(1115).WithMessage(fmt.Sprintf("inventory nodes: %v", err))
	}

	entries, ok := raw.([]any)
	if !ok {
		return nil, apierror.NewUser(1115).WithMessage("inventory `nodes` must be a list of dicts")
	}

	nodes := make([]cluster.Node, 0, len(entries))
	for i, entry := range entries {
		dict, ok := entry.(map[string]any)
		if !ok {
			return nil, apierror.NewUser(1115).WithMessage(fmt.Sprintf("inventory nodes[%d] is not a dict", i))
		}
		node := cluster.Node{
			Name:      stringField(dict, "name"),
			Role:      cluster.Role(stringField(dict, "role")),
			Address:   stringField(dict, "address"),
			Reachable: true,
		}
		if v, ok := dict["reachable"].(bool); ok {
			node.Reachable = v
		}
		if node.Name == "" || node.Address == "" || !node.Role.Valid() {
			return nil, apierror.NewUser(1115).
				WithMessage(fmt.Sprintf("inventory nodes[%d] needs name, address and a valid role", i))
		}
		nodes = append(nodes, node)
	}

	if err := cluster.Validate(nodes); err != nil {
		return nil, apierror.NewUser(1115).WithMessage(err.Error())
	}
	return nodes, nil
}

func stringField(dict map[string]any, key string) string {
	s, _ := dict[key].(string)
	return s
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
