package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fleetmesh/fleetmesh/pkg/telemetry"
)

// Loader reads policy files from disk and can watch a directory for
// changes, pushing reloaded policies into the engine.
type Loader struct {
	logger  *telemetry.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Loader{logger: logger.NewComponentLogger("policy-loader")}
}

// LoadDir loads all .rego files under dir, recursively. Unreadable
// files are logged and skipped so one bad file cannot take
// authorization down.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Warn("Failed to read policy file")
			return nil
		}

		policies = append(policies, Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: extractDescription(string(data)),
			Rego:        string(data),
			Enabled:     true,
			Source:      path,
			LoadedAt:    time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk policy directory: %w", err)
	}

	l.logger.WithField("count", len(policies)).WithField("dir", dir).Info("Policies loaded")
	return policies, nil
}

// Watch watches dir for policy changes and applies them to the engine
// until the context is cancelled. Reloads are debounced so editors that
// write in bursts trigger one reload.
func (l *Loader) Watch(ctx context.Context, dir string, engine *Engine) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, dir, engine)

	l.logger.WithField("dir", dir).Info("Watching policy directory")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, dir string, engine *Engine) {
	const reloadDelay = 500 * time.Millisecond
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}

			l.logger.WithField("file", event.Name).WithField("op", event.Op.String()).
				Debug("Policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, dir, engine); err != nil {
					l.logger.WithError(err).Error("Failed to reload policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Error("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, dir string, engine *Engine) error {
	policies, err := l.LoadDir(ctx, dir)
	if err != nil {
		return err
	}
	return engine.Replace(ctx, policies)
}

// Stop stops watching for file changes.
func (l *Loader) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}

// extractDescription extracts a description from leading Rego comments.
func extractDescription(content string) string {
	var description strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" {
			break
		}
	}
	return description.String()
}
