package dapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetmesh/fleetmesh/pkg/apierror"
	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/ops"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

const (
	// DefaultTimeout bounds a call when the request does not wait for
	// completion and no timeout is configured.
	DefaultTimeout = 10 * time.Second

	// DefaultRetryBackoff is the pause before the single retry of a
	// failed node communication.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Config carries the dispatcher's identity and timing knobs.
type Config struct {
	// LocalNode is the name of the node this dispatcher runs on.
	LocalNode string

	// Timeout bounds each per-node call unless the request waits for
	// completion. Zero means DefaultTimeout.
	Timeout time.Duration

	// ForwardTimeout bounds calls relayed to the master under
	// local_master. Zero means the same value as Timeout.
	ForwardTimeout time.Duration

	// RetryBackoff is the pause before retrying a failed node
	// communication. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration

	// RemoteLogFile is the log path hint recorded in per-node failure
	// attributions, pointing operators at the log on the failing node.
	RemoteLogFile string
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) forwardTimeout() time.Duration {
	if c.ForwardTimeout > 0 {
		return c.ForwardTimeout
	}
	return c.timeout()
}

func (c Config) retryBackoff() time.Duration {
	if c.RetryBackoff > 0 {
		return c.RetryBackoff
	}
	return DefaultRetryBackoff
}

// Dispatcher routes API calls across the cluster and aggregates their
// outcomes. It is safe for concurrent use.
type Dispatcher struct {
	cfg       Config
	directory cluster.Directory
	channel   cluster.Channel
	registry  *ops.Registry

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(d *Dispatcher) { d.logger = l.NewComponentLogger("dapi") }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTracer attaches a tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// New builds a dispatcher over the given topology directory, node
// channel and operation registry.
func New(cfg Config, dir cluster.Directory, ch cluster.Channel, reg *ops.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		directory: dir,
		channel:   ch,
		registry:  reg,
		logger:    telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes the request per its policy and returns the response
// envelope, or a taxonomy error when nothing usable was produced.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, apierror.NewInternal(apierror.CodeInternal).WithMessage("nil dispatch request")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := d.startSpan(ctx, "dapi.dispatch",
		attribute.String("request_id", req.ID),
		attribute.String("function", req.Function),
		attribute.String("policy", string(req.Policy)))
	defer span.End()

	start := time.Now()
	d.metrics.DispatchStarted()
	defer d.metrics.DispatchFinished()

	log := d.logger.WithRequestID(req.ID).WithField("function", req.Function)
	log.Debugf("dispatching with policy %s", req.Policy)

	var (
		resp *Response
		err  error
	)
	switch req.Policy {
	case PolicyLocalAny:
		resp, err = d.dispatchLocalAny(ctx, req)
	case PolicyLocalMaster:
		resp, err = d.dispatchLocalMaster(ctx, req)
	case PolicyDistributedMaster:
		resp, err = d.dispatchDistributedMaster(ctx, req)
	default:
		err = apierror.NewUser(1307).WithMessage(fmt.Sprintf("unknown execution policy %q", req.Policy))
	}

	elapsed := time.Since(start)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		d.metrics.ObserveDispatch(string(req.Policy), "error", elapsed)
		if e, ok := apierror.As(err); ok {
			d.metrics.CountTaxonomyError(string(e.Kind()), e.Code())
			if e.Kind() == apierror.KindInternal {
				log.WithError(err).Error("dispatch failed")
			} else {
				log.WithError(err).Debug("dispatch rejected")
			}
		} else {
			log.WithError(err).Error("dispatch failed")
		}
		return nil, err
	case resp.Partial():
		telemetry.RecordSuccess(span)
		d.metrics.ObserveDispatch(string(req.Policy), "partial", elapsed)
		log.Warnf("dispatch completed partially: %d nodes failed", len(resp.PartialErrors))
	default:
		telemetry.RecordSuccess(span)
		d.metrics.ObserveDispatch(string(req.Policy), "ok", elapsed)
		log.Debugf("dispatch completed in %s", elapsed)
	}
	return resp, nil
}

// dispatchLocalAny runs the call on the receiving node. No topology
// lookup happens; any node can answer for itself.
func (d *Dispatcher) dispatchLocalAny(ctx context.Context, req *Request) (*Response, error) {
	payload, err := d.invokeLocal(ctx, req, d.callTimeout(req))
	if err != nil {
		return nil, err
	}
	return &Response{Data: payload, Pretty: req.Pretty}, nil
}

// dispatchLocalMaster runs the call on the master, forwarding from a
// worker and relaying the single result unchanged.
func (d *Dispatcher) dispatchLocalMaster(ctx context.Context, req *Request) (*Response, error) {
	snap, err := d.directory.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	master, ok := snap.Master()
	if !ok {
		return nil, apierror.NewInternal(apierror.CodeClusterNotRunning).
			WithMessage("no master in current topology")
	}

	if master.Name == d.cfg.LocalNode {
		payload, err := d.invokeLocal(ctx, req, d.callTimeout(req))
		if err != nil {
			return nil, err
		}
		return &Response{Data: payload, Pretty: req.Pretty}, nil
	}

	d.metrics.CountForwarded(string(req.Policy))
	d.logger.WithRequestID(req.ID).WithNode(master.Name).Debug("forwarding call to master")

	timeout := time.Duration(0)
	if !req.WaitForComplete {
		timeout = d.cfg.forwardTimeout()
	}
	payload, err := d.callNode(ctx, master, forwardedCall(req, req.Policy, req.TargetNodes, req.Broadcast), timeout)
	if err != nil {
		return nil, err
	}
	return &Response{Data: payload, Pretty: req.Pretty}, nil
}

// dispatchDistributedMaster resolves the effective target set on the
// master and fans the call out to every target concurrently. Workers
// forward the whole request to the master first.
func (d *Dispatcher) dispatchDistributedMaster(ctx context.Context, req *Request) (*Response, error) {
	snap, err := d.directory.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	master, ok := snap.Master()
	if !ok {
		return nil, apierror.NewInternal(apierror.CodeClusterNotRunning).
			WithMessage("no master in current topology")
	}

	if master.Name != d.cfg.LocalNode {
		// Not our decision to make: relay the whole request and let the
		// master aggregate.
		d.metrics.CountForwarded(string(req.Policy))
		d.logger.WithRequestID(req.ID).WithNode(master.Name).Debug("forwarding fan-out request to master")

		timeout := time.Duration(0)
		if !req.WaitForComplete {
			timeout = d.cfg.forwardTimeout()
		}
		payload, err := d.callNode(ctx, master, forwardedCall(req, req.Policy, req.TargetNodes, req.Broadcast), timeout)
		if err != nil {
			return nil, err
		}
		return &Response{Data: payload, Pretty: req.Pretty}, nil
	}

	targets := req.TargetNodes
	if req.Broadcast {
		live := snap.Live()
		targets = make([]string, 0, len(live))
		for _, n := range live {
			targets = append(targets, n.Name)
		}
	}

	outcomes := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, name := range targets {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = d.callTarget(ctx, req, snap, name)
		}(i, name)
	}
	wg.Wait()

	// Single-writer join: the per-node tasks each own their outcome
	// slot, only this fold touches the shared maps.
	res := &Result{
		Successes: make(map[string]any),
		Errors:    make(map[string]*apierror.Error),
	}
	for _, o := range outcomes {
		if _, dup := res.Successes[o.node]; dup {
			d.logger.WithRequestID(req.ID).WithNode(o.node).
				Warn("duplicate outcome for node, topology anomaly")
		}
		if _, dup := res.Errors[o.node]; dup {
			d.logger.WithRequestID(req.ID).WithNode(o.node).
				Warn("duplicate outcome for node, topology anomaly")
		}
		if o.err != nil {
			res.Errors[o.node] = o.err
		} else {
			res.Successes[o.node] = o.payload
		}
	}

	return fold(res, targets, req.Pretty)
}

// outcome is one per-node result slot. Exactly one of payload and err is
// set.
type outcome struct {
	node    string
	payload any
	err     *apierror.Error
}

// callTarget produces the outcome for a single fan-out target. Failures
// are attributed to the node and never propagate to siblings.
func (d *Dispatcher) callTarget(ctx context.Context, req *Request, snap cluster.Snapshot, name string) outcome {
	start := time.Now()
	timeout := d.callTimeout(req)

	if name == d.cfg.LocalNode {
		payload, err := d.invokeLocal(ctx, req, timeout)
		if err != nil {
			d.metrics.ObserveNodeCall("error", time.Since(start))
			return outcome{node: name, err: d.attribute(name, err)}
		}
		d.metrics.ObserveNodeCall("ok", time.Since(start))
		return outcome{node: name, payload: payload}
	}

	node, known := snap.Get(name)
	if !known {
		// A stale caller-supplied target list is a per-node rejection,
		// not a fatal dispatch failure.
		d.metrics.ObserveNodeCall("unknown_node", time.Since(start))
		return outcome{node: name, err: d.attribute(name,
			apierror.NewUser(apierror.CodeNodeNotFound).WithMessage(name))}
	}
	if !node.Reachable {
		d.metrics.ObserveNodeCall("unreachable", time.Since(start))
		return outcome{node: name, err: d.attribute(name,
			apierror.NewInternal(apierror.CodeWorkerNotConnected).WithMessage(name))}
	}

	// Each target executes the function locally; the fan-out decision
	// was already made here on the master.
	payload, err := d.callNode(ctx, node, forwardedCall(req, PolicyLocalAny, nil, false), timeout)
	if err != nil {
		d.metrics.ObserveNodeCall("error", time.Since(start))
		return outcome{node: name, err: d.attribute(name, err)}
	}
	d.metrics.ObserveNodeCall("ok", time.Since(start))
	return outcome{node: name, payload: payload}
}

// invokeLocal executes the named operation on this node. Context-aware
// callees run under the deadline and are cancelled on expiry;
// synchronous callees are abandoned to finish in the background while
// the dispatch records a timeout for the node.
func (d *Dispatcher) invokeLocal(ctx context.Context, req *Request, timeout time.Duration) (any, error) {
	callable, ok := d.registry.Get(req.Function)
	if !ok {
		return nil, apierror.NewUser(1204).WithMessage(req.Function)
	}

	ctx = ops.WithPermissions(ctx, req.Permissions)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if req.IsAsync || callable.ContextAware {
		payload, err := callable.Handler(ctx, req.Args)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, d.timeoutError(req, timeout)
			}
			return nil, asTaxonomy(err)
		}
		return payload, nil
	}

	type callResult struct {
		payload any
		err     error
	}
	done := make(chan callResult, 1)
	go func() {
		payload, err := callable.Handler(ctx, req.Args)
		done <- callResult{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, asTaxonomy(r.err)
		}
		return r.payload, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, d.timeoutError(req, timeout)
		}
		return nil, asTaxonomy(ctx.Err())
	}
}

// callNode issues one call over the cluster channel. Communication
// failures are retried once after a short backoff; taxonomy errors from
// the remote side pass through untouched.
func (d *Dispatcher) callNode(ctx context.Context, node cluster.Node, call cluster.Call, timeout time.Duration) (any, error) {
	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cctx, span := d.startSpan(cctx, "dapi.node_call",
		attribute.String("node", node.Name),
		attribute.String("function", call.Function))
	defer span.End()

	payload, err := d.channel.Call(cctx, node, call)
	if err == nil {
		telemetry.RecordSuccess(span)
		return payload, nil
	}
	if _, isTaxonomy := apierror.As(err); isTaxonomy {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if cctx.Err() == context.DeadlineExceeded {
		telemetry.RecordError(span, err)
		return nil, d.nodeTimeoutError(node, call, timeout)
	}

	d.logger.WithNode(node.Name).WithError(err).Debug("node call failed, retrying once")
	select {
	case <-time.After(d.cfg.retryBackoff()):
	case <-cctx.Done():
		telemetry.RecordError(span, cctx.Err())
		if cctx.Err() == context.DeadlineExceeded {
			return nil, d.nodeTimeoutError(node, call, timeout)
		}
		return nil, asTaxonomy(cctx.Err())
	}

	payload, err = d.channel.Call(cctx, node, call)
	if err == nil {
		telemetry.RecordSuccess(span)
		return payload, nil
	}
	telemetry.RecordError(span, err)
	if _, isTaxonomy := apierror.As(err); isTaxonomy {
		return nil, err
	}
	if cctx.Err() == context.DeadlineExceeded {
		return nil, d.nodeTimeoutError(node, call, timeout)
	}
	return nil, apierror.NewInternal(apierror.CodeSendFailed).
		WithMessage(fmt.Sprintf("%s: %v", node.Name, err))
}

// attribute wraps err with the failing node's identity and log hint so
// the detail survives aggregation and merging.
func (d *Dispatcher) attribute(node string, err error) *apierror.Error {
	e := asTaxonomy(err)
	return e.Clone().WithNodeError(node, apierror.NodeError{
		Message: e.Message(),
		LogFile: d.cfg.RemoteLogFile,
	})
}

func (d *Dispatcher) callTimeout(req *Request) time.Duration {
	if req.WaitForComplete {
		return 0
	}
	return d.cfg.timeout()
}

func (d *Dispatcher) timeoutError(req *Request, timeout time.Duration) *apierror.Error {
	return apierror.NewInternal(apierror.CodeDispatchTimeout).
		WithMessage(fmt.Sprintf("%s did not complete within %s", req.Function, timeout))
}

func (d *Dispatcher) nodeTimeoutError(node cluster.Node, call cluster.Call, timeout time.Duration) *apierror.Error {
	return apierror.NewInternal(apierror.CodeDispatchTimeout).
		WithMessage(fmt.Sprintf("%s did not answer %s within %s", node.Name, call.Function, timeout))
}

func (d *Dispatcher) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if d.tracer != nil {
		return d.tracer.StartSpan(ctx, name, attrs...)
	}
	return ctx, trace.SpanFromContext(ctx)
}

// asTaxonomy lifts arbitrary failures into the taxonomy so every error
// leaving the dispatcher carries a code and kind.
func asTaxonomy(err error) *apierror.Error {
	if e, ok := apierror.As(err); ok {
		return e
	}
	return apierror.NewInternal(apierror.CodeInternal).WithMessage(err.Error())
}

// forwardedCall builds the wire form of a request for another node.
func forwardedCall(req *Request, policy Policy, targets []string, broadcast bool) cluster.Call {
	return cluster.Call{
		RequestID: req.ID,
		Function:  req.Function,
		Args:      req.Args,
		Policy:    string(policy),
		Targets:   targets,
		Broadcast: broadcast,
		Wait:      req.WaitForComplete,
		Async:     req.IsAsync,
		Perms:     req.Permissions,
	}
}
