package ssh

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// Client is an SSH connection to one worker host.
type Client struct {
	cfg    *Config
	logger *telemetry.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

// NewClient creates a client for the given configuration. The
// connection is established by Connect.
func NewClient(cfg *Config, logger *telemetry.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.NewComponentLogger("ssh").WithField("host", cfg.Host),
	}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	sshCfg, err := c.cfg.BuildSSHClientConfig()
	if err != nil {
		return err
	}

	conn, err := ssh.Dial("tcp", c.cfg.Address(), sshCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.cfg.Address(), err)
	}

	c.conn = conn
	c.logger.Debug("SSH connection established")
	return nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Run executes a command on the worker host and returns its output.
// The command is bounded by the configured command timeout or the
// context deadline, whichever hits first.
func (c *Client) Run(ctx context.Context, command string) (stdout, stderr string, err error) {
	conn, err := c.connection()
	if err != nil {
		return "", "", err
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-runCtx.Done():
		// Closing the session tears down the remote command.
		session.Close()
		return outBuf.String(), errBuf.String(), fmt.Errorf("command timed out: %s", command)
	case err := <-done:
		if err != nil {
			return outBuf.String(), errBuf.String(), fmt.Errorf("command failed: %w", err)
		}
		return outBuf.String(), errBuf.String(), nil
	}
}

func (c *Client) connection() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.conn, nil
}
