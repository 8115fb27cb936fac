package ssh

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/pkg/sftp"
)

// DefaultTailBytes is how much of the remote log Fetch returns when no
// explicit limit is given.
const DefaultTailBytes int64 = 64 << 10

// FetchLog retrieves the tail of a log file from the worker host over
// SFTP. logFile is the name the dispatch core attached to a node error;
// relative names resolve against the configured log directory. maxBytes
// limits how much of the file's tail is returned, 0 for the default.
func (c *Client) FetchLog(ctx context.Context, logFile string, maxBytes int64) ([]byte, error) {
	if logFile == "" {
		return nil, fmt.Errorf("log file name is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultTailBytes
	}

	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer client.Close()

	remotePath := logFile
	if !path.IsAbs(remotePath) {
		remotePath = path.Join(c.cfg.LogDir, remotePath)
	}

	f, err := client.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", remotePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", remotePath, err)
	}

	if size := info.Size(); size > maxBytes {
		if _, err := f.Seek(size-maxBytes, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to seek in %s: %w", remotePath, err)
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", remotePath, err)
	}

	c.logger.WithField("log", remotePath).WithField("bytes", len(data)).Debug("Log fetched")
	return data, nil
}
