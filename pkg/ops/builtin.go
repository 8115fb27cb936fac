package ops

import (
	"context"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/stores"
)

// BuiltinDeps carries what the built-in management operations need.
// Store is optional; operations that read the audit trail fail with an
// internal error when it is absent.
type BuiltinDeps struct {
	LocalNode   cluster.Node
	ClusterName string
	Directory   cluster.Directory
	Store       stores.Store
	Version     string
	StartedAt   time.Time

	// Restart requests a manager restart. Optional; the restart
	// operation acknowledges without acting when unset.
	Restart func(ctx context.Context) error
}

// RegisterBuiltins registers the built-in management operations.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	callables := []Callable{
		{Name: "cluster.status", Handler: deps.clusterStatus},
		{Name: "cluster.local_info", Handler: deps.localInfo},
		{Name: "cluster.nodes", Handler: deps.nodesInfo, ContextAware: true},
		{Name: "cluster.healthcheck", Handler: deps.healthcheck, ContextAware: true},
		{Name: "manager.stats", Handler: deps.managerStats, ContextAware: true},
		{Name: "manager.restart", Handler: deps.restart},
	}
	for _, c := range callables {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// clusterStatus reports whether clustering is enabled and running.
func (d BuiltinDeps) clusterStatus(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"enabled": true,
		"running": true,
		"name":    d.ClusterName,
	}, nil
}

// localInfo reports the identity of the node executing the call. Under
// a broadcast this answers differently on every node, which is the
// point.
func (d BuiltinDeps) localInfo(ctx context.Context, args map[string]any) (any, error) {
	return map[string]any{
		"name":    d.LocalNode.Name,
		"role":    string(d.LocalNode.Role),
		"address": d.LocalNode.Address,
		"cluster": d.ClusterName,
		"version": d.Version,
		"uptime":  time.Since(d.StartedAt).Truncate(time.Second).String(),
	}, nil
}

// nodesInfo lists cluster members, shaped by the standard collection
// parameters.
func (d BuiltinDeps) nodesInfo(ctx context.Context, args map[string]any) (any, error) {
	params, err := ParseListParams(args)
	if err != nil {
		return nil, err
	}

	snap, err := d.Directory.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, snap.Len())
	for _, n := range snap.Ordered() {
		status := "connected"
		if !n.Reachable {
			status = "disconnected"
		}
		items = append(items, map[string]any{
			"name":    n.Name,
			"role":    string(n.Role),
			"address": n.Address,
			"status":  status,
		})
	}
	return Shape(items, params)
}

// healthcheck verifies the node and its audit store are responsive.
func (d BuiltinDeps) healthcheck(ctx context.Context, args map[string]any) (any, error) {
	payload := map[string]any{
		"status":    "ok",
		"node":      d.LocalNode.Name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if d.Store != nil {
		if err := d.Store.HealthCheck(ctx); err != nil {
			payload["status"] = "degraded"
			payload["store"] = err.Error()
		} else {
			payload["store"] = "ok"
		}
	}
	return payload, nil
}

// managerStats aggregates the dispatch audit trail. The window defaults
// to the last 24 hours and can be widened with a `hours` argument.
func (d BuiltinDeps) managerStats(ctx context.Context, args map[string]any) (any, error) {
	if d.Store == nil {
		return nil, apierror.NewInternal(apierror.CodeInternal).WithMessage("audit store not configured")
	}

	hours := 24
	if v, ok := args["hours"]; ok {
		n, err := asInt(v)
		if err != nil || n <= 0 {
			return nil, apierror.NewUser(1104).WithMessage("hours must be a positive integer")
		}
		hours = n
	}

	stats, err := d.Store.Stats(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, apierror.NewInternal(apierror.CodeInternal).WithMessage(err.Error())
	}
	return map[string]any{
		"node":            d.LocalNode.Name,
		"window_hours":    hours,
		"total":           stats.Total,
		"completed":       stats.Completed,
		"partial":         stats.Partial,
		"failed":          stats.Failed,
		"avg_duration_ms": stats.AvgDurationMS,
	}, nil
}

// restart requests a restart of the node executing the call.
func (d BuiltinDeps) restart(ctx context.Context, args map[string]any) (any, error) {
	if d.Restart != nil {
		if err := d.Restart(ctx); err != nil {
			return nil, apierror.NewInternal(apierror.CodeInternal).WithMessage(err.Error())
		}
	}
	return map[string]any{
		"node":       d.LocalNode.Name,
		"restarting": true,
	}, nil
}
