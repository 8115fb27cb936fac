package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/fleetmesh/fleetmesh/pkg/cluster"
	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// DefaultDialTimeout bounds connection establishment to a peer node.
const DefaultDialTimeout = 5 * time.Second

// ClientConfig contains client configuration options.
type ClientConfig struct {
	// DialTimeout bounds connection establishment. Defaults to
	// DefaultDialTimeout when zero.
	DialTimeout time.Duration
	// Logger for connection-level events. Defaults to a no-op logger.
	Logger *telemetry.Logger
}

// Client speaks the line protocol to peer manager nodes. It implements
// cluster.Channel: one connection per call, one response per call.
type Client struct {
	dialTimeout time.Duration
	dialer      func(ctx context.Context, address string) (net.Conn, error)
	logger      *telemetry.Logger
}

var _ cluster.Channel = (*Client)(nil)

// NewClient creates a new protocol client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		dialTimeout: cfg.DialTimeout,
		logger:      cfg.Logger,
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.logger == nil {
		c.logger = telemetry.NopLogger()
	}
	c.dialer = func(ctx context.Context, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: c.dialTimeout}
		return d.DialContext(ctx, "tcp", address)
	}
	return c
}

// Call sends one CALL message to the node and waits for its response.
// Taxonomy errors sent by the peer are returned as such; transport
// failures come back as plain errors so the dispatch core can retry
// them.
func (c *Client) Call(ctx context.Context, node cluster.Node, call cluster.Call) (any, error) {
	if node.Address == "" {
		return nil, fmt.Errorf("node %s has no address", node.Name)
	}

	conn, err := c.dialer(ctx, node.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", node.Name, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	// Unblock the read when the caller gives up before the deadline.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()

	if err := NewEncoder(conn).EncodeCall(call); err != nil {
		return nil, fmt.Errorf("failed to send call to %s: %w", node.Name, err)
	}

	c.logger.WithNode(node.Name).WithRequestID(call.RequestID).
		WithField("function", call.Function).Debug("Call sent")

	msg, err := NewDecoder(conn).Decode()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response from %s: %w", node.Name, err)
	}

	switch msg.Type {
	case MessageTypeResult:
		var res ResultMessage
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result from %s: %w", node.Name, err)
		}
		if res.RequestID != call.RequestID {
			return nil, fmt.Errorf("request ID mismatch: expected %s, got %s", call.RequestID, res.RequestID)
		}
		var payload any
		if len(res.Payload) > 0 {
			if err := json.Unmarshal(res.Payload, &payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload from %s: %w", node.Name, err)
			}
		}
		return payload, nil

	case MessageTypeError:
		var em ErrorMessage
		if err := json.Unmarshal(msg.Data, &em); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error from %s: %w", node.Name, err)
		}
		if em.RequestID != "" && em.RequestID != call.RequestID {
			return nil, fmt.Errorf("request ID mismatch: expected %s, got %s", call.RequestID, em.RequestID)
		}
		if em.Error == nil {
			return nil, fmt.Errorf("peer %s sent ERROR with no error body", node.Name)
		}
		return nil, em.Error

	default:
		return nil, fmt.Errorf("unexpected message type from %s: %s", node.Name, msg.Type)
	}
}
