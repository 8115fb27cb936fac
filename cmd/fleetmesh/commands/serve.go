package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/config"
	"github.com/fleetmesh/fleetmesh/pkg/dapi"
	"github.com/fleetmesh/fleetmesh/pkg/ops"
	"github.com/fleetmesh/fleetmesh/pkg/policy"
	"github.com/fleetmesh/fleetmesh/pkg/remote"
	"github.com/fleetmesh/fleetmesh/pkg/stores"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a FleetMesh manager node",
		Long: `Start a manager node: accept peer connections, dispatch management
API calls per their execution policy and answer forwarded calls from
other nodes in the cluster.

The node's identity, cluster membership and listen address come from
the config file.`,
		Example: `  # Run the node described in node.cue
  fleetmesh serve -c node.cue

  # Run with verbose dispatch logging
  fleetmesh serve -c node.yaml -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("config file is required (use -c)")
			}
			return runServe(cmd.Context(), configPath, version)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path, version string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Tracer shutdown failed")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"node":    cfg.Node.Name,
		"role":    cfg.Node.Role,
		"cluster": cfg.Cluster.Name,
		"version": version,
	}).Info("Starting manager node")

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := setupPolicies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dir := buildDirectory(cfg)
	if err := seedNodeRegistry(ctx, dir, store, logger); err != nil {
		logger.WithError(err).Warn("Failed to seed node registry")
	}

	registry := ops.NewRegistry()
	deps := ops.BuiltinDeps{
		LocalNode: cluster.Node{
			Name:      cfg.Node.Name,
			Role:      cluster.Role(cfg.Node.Role),
			Address:   cfg.Node.ListenAddress,
			Reachable: true,
		},
		ClusterName: cfg.Cluster.Name,
		Directory:   dir,
		Store:       store,
		Version:     version,
		StartedAt:   time.Now(),
		Restart: func(context.Context) error {
			// Shut down cleanly and let the process supervisor bring
			// the node back up.
			logger.Info("Restart requested, shutting down")
			cancel()
			return nil
		},
	}
	if err := ops.RegisterBuiltins(registry, deps); err != nil {
		return fmt.Errorf("failed to register builtin operations: %w", err)
	}

	channel := remote.NewClient(remote.ClientConfig{Logger: logger})
	dispatcher := dapi.New(dapi.Config{
		LocalNode:      cfg.Node.Name,
		Timeout:        cfg.Dispatch.Timeout,
		ForwardTimeout: cfg.Dispatch.ForwardTimeout,
		RetryBackoff:   cfg.Dispatch.RetryBackoff,
		RemoteLogFile:  cfg.Dispatch.RemoteLogFile,
	}, dir, channel, registry,
		dapi.WithLogger(logger),
		dapi.WithMetrics(metrics),
		dapi.WithTracer(tracer),
	)

	if addr := cfg.Telemetry.Metrics.ListenAddress; addr != "" {
		serveMetrics(ctx, addr, metrics, logger)
	}

	srv, err := remote.NewServer(remote.ServerConfig{
		ListenAddress: cfg.Node.ListenAddress,
		Handler:       dispatchHandler(dispatcher, engine, store, logger),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create peer server: %w", err)
	}
	return srv.Serve(ctx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	logger.WithField("path", cfg.Store.Path).Debug("Audit store ready")
	return store, nil
}

func setupPolicies(ctx context.Context, cfg *config.Config, logger *telemetry.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if cfg.Policy.Dir == "" {
		return engine, nil
	}

	loader := policy.NewLoader(logger)
	policies, err := loader.LoadDir(ctx, cfg.Policy.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := engine.Replace(ctx, policies); err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}
	if cfg.Policy.Watch {
		if err := loader.Watch(ctx, cfg.Policy.Dir, engine); err != nil {
			return nil, fmt.Errorf("failed to watch policy dir: %w", err)
		}
	}
	return engine, nil
}

// buildDirectory chooses the membership source: the static node list or
// a Starlark inventory script, re-evaluated on every topology lookup.
func buildDirectory(cfg *config.Config) cluster.Directory {
	if cfg.Cluster.InventoryFile == "" {
		return cluster.NewStaticDirectory(cfg.Cluster.ClusterNodes()...)
	}

	ev := config.NewInventoryEvaluator(0)
	vars := map[string]any{
		"cluster": cfg.Cluster.Name,
		"node":    cfg.Node.Name,
	}
	return cluster.NewDirectory(cluster.ProviderFunc(func(ctx context.Context) ([]cluster.Node, error) {
		return ev.LoadFile(ctx, cfg.Cluster.InventoryFile, vars)
	}))
}

// seedNodeRegistry records the current membership in the audit store so
// operators can inspect the roster offline.
func seedNodeRegistry(ctx context.Context, dir cluster.Directory, store stores.Store, logger *telemetry.Logger) error {
	snap, err := dir.Nodes(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, n := range snap.Ordered() {
		rec := &stores.NodeRecord{
			Name:      n.Name,
			Role:      string(n.Role),
			Address:   n.Address,
			Reachable: n.Reachable,
			LastSeen:  now,
		}
		if err := store.UpsertNode(ctx, rec); err != nil {
			return err
		}
	}
	logger.WithField("nodes", snap.Len()).Debug("Node registry seeded")
	return nil
}

// functionActions maps builtin operations to the policy action they
// require. Functions outside the table require an action named after
// the function itself, so site policies can grant them directly.
var functionActions = map[string]string{
	"cluster.status":      "cluster:status",
	"cluster.local_info":  "cluster:read",
	"cluster.nodes":       "node:read",
	"cluster.healthcheck": "cluster:status",
	"manager.stats":       "cluster:read",
	"manager.restart":     "manager:restart",
}

// accessClaim is the identity an API caller attaches to its request.
// Calls forwarded between cluster nodes carry the computed permissions
// document instead, which has no roles and is passed through untouched.
type accessClaim struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// authorize enforces policy at the API boundary. A claim-bearing call
// is checked against the engine and its claim replaced by the computed
// permissions document; everything downstream sees only the opaque doc.
func authorize(ctx context.Context, engine *policy.Engine, req *dapi.Request) error {
	if len(req.Permissions) == 0 {
		return nil
	}
	var claim accessClaim
	if err := json.Unmarshal(req.Permissions, &claim); err != nil || len(claim.Roles) == 0 {
		return nil
	}

	action, ok := functionActions[req.Function]
	if !ok {
		action = req.Function
	}
	decision, err := engine.Authorize(ctx, policy.AccessRequest{
		Subject: claim.Subject,
		Roles:   claim.Roles,
		Action:  action,
	})
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apierror.NewUser(apierror.CodePermissionDenied).
			WithMessage(fmt.Sprintf("%s is not allowed to %s", claim.Subject, action))
	}

	perms, err := engine.Permissions(ctx, claim.Subject, claim.Roles)
	if err != nil {
		return err
	}
	req.Permissions = perms
	return nil
}

// dispatchHandler bridges decoded peer calls into the dispatcher and
// records an audit trail for every dispatch this node performs.
func dispatchHandler(d *dapi.Dispatcher, engine *policy.Engine, store stores.Store, logger *telemetry.Logger) remote.Handler {
	return func(ctx context.Context, call cluster.Call) (any, error) {
		req, err := dapi.FromCall(call)
		if err != nil {
			return nil, err
		}
		if err := authorize(ctx, engine, req); err != nil {
			return nil, err
		}

		started := time.Now().UTC()
		resp, err := d.Dispatch(ctx, req)
		if err == nil {
			unwrapForwardedPartial(resp)
		}
		recordDispatch(ctx, store, logger, req, resp, err, started)

		if err != nil {
			return nil, err
		}
		if resp.Partial() {
			// A forwarded partial outcome keeps both halves of the
			// envelope so no node's detail is lost in transit.
			return map[string]any{
				"data":           resp.Data,
				"partial_errors": resp.PartialErrors,
			}, nil
		}
		return resp.Data, nil
	}
}

// unwrapForwardedPartial restores a relayed partial envelope into the
// response. A peer answering a forwarded call folds a mixed outcome
// into a two-key payload; without unfolding it here the relay would
// audit the dispatch as completed while the executing node recorded it
// as partial.
func unwrapForwardedPartial(resp *dapi.Response) {
	if resp.Partial() {
		return
	}
	m, ok := resp.Data.(map[string]any)
	if !ok || len(m) != 2 {
		return
	}
	data, ok := m["data"]
	if !ok {
		return
	}
	raw, ok := m["partial_errors"].(map[string]any)
	if !ok || len(raw) == 0 {
		return
	}

	nodeErrs := make(map[string]*apierror.Error, len(raw))
	for node, v := range raw {
		buf, err := json.Marshal(v)
		if err != nil {
			return
		}
		e := new(apierror.Error)
		if err := json.Unmarshal(buf, e); err != nil || e.Code() == 0 {
			return
		}
		nodeErrs[node] = e
	}
	resp.Data = data
	resp.PartialErrors = nodeErrs
}

func recordDispatch(ctx context.Context, store stores.Store, logger *telemetry.Logger,
	req *dapi.Request, resp *dapi.Response, dispatchErr error, started time.Time) {

	targets, _ := json.Marshal(req.TargetNodes)
	rec := &stores.DispatchRecord{
		ID:        req.ID,
		Function:  req.Function,
		Policy:    string(req.Policy),
		Broadcast: req.Broadcast,
		Targets:   string(targets),
		Status:    stores.DispatchStatusRunning,
		StartedAt: started,
	}
	if err := store.CreateDispatch(ctx, rec); err != nil {
		logger.WithError(err).WithRequestID(req.ID).Warn("Failed to record dispatch")
		return
	}

	status := stores.DispatchStatusCompleted
	var errorCode *int
	switch {
	case dispatchErr != nil:
		status = stores.DispatchStatusFailed
		if code := apierror.CodeOf(dispatchErr); code != 0 {
			errorCode = &code
		}
	case resp.Partial():
		status = stores.DispatchStatusPartial
		for node, nodeErr := range resp.PartialErrors {
			code := nodeErr.Code()
			msg := nodeErr.Message()
			res := &stores.NodeResult{
				DispatchID:   req.ID,
				Node:         node,
				Success:      false,
				ErrorCode:    &code,
				ErrorMessage: &msg,
				Timestamp:    time.Now().UTC(),
			}
			if err := store.AppendNodeResult(ctx, res); err != nil {
				logger.WithError(err).WithRequestID(req.ID).Warn("Failed to record node result")
			}
		}
	}

	if err := store.FinishDispatch(ctx, req.ID, status, errorCode); err != nil {
		logger.WithError(err).WithRequestID(req.ID).Warn("Failed to finish dispatch record")
	}
}

func serveMetrics(ctx context.Context, addr string, metrics *telemetry.Metrics, logger *telemetry.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.WithField("address", addr).Info("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Warn("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()
}
