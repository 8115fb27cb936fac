package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateDispatch records the start of a dispatch.
func (s *SQLiteStore) CreateDispatch(ctx context.Context, rec *DispatchRecord) error {
	query := `
		INSERT INTO dispatches (id, function, policy, broadcast, targets, status, error_code, started_at, completed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Function,
		rec.Policy,
		rec.Broadcast,
		rec.Targets,
		rec.Status,
		rec.ErrorCode,
		rec.StartedAt,
		rec.CompletedAt,
		rec.DurationMS,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create dispatch record: %w", err)
	}

	return nil
}

// FinishDispatch marks a dispatch as finished with its terminal status.
func (s *SQLiteStore) FinishDispatch(ctx context.Context, id string, status DispatchStatus, errorCode *int) error {
	query := `
		UPDATE dispatches
		SET status = ?, error_code = ?, completed_at = ?,
		    duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, status, errorCode, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish dispatch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dispatch %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetDispatch retrieves a dispatch record by request ID.
func (s *SQLiteStore) GetDispatch(ctx context.Context, id string) (*DispatchRecord, error) {
	query := `
		SELECT id, function, policy, broadcast, targets, status, error_code, started_at, completed_at, duration_ms, created_at
		FROM dispatches
		WHERE id = ?
	`

	rec := &DispatchRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID,
		&rec.Function,
		&rec.Policy,
		&rec.Broadcast,
		&rec.Targets,
		&rec.Status,
		&rec.ErrorCode,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.DurationMS,
		&rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dispatch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch: %w", err)
	}

	return rec, nil
}

// ListDispatches lists dispatch records newest first.
func (s *SQLiteStore) ListDispatches(ctx context.Context, limit, offset int) ([]*DispatchRecord, error) {
	query := `
		SELECT id, function, policy, broadcast, targets, status, error_code, started_at, completed_at, duration_ms, created_at
		FROM dispatches
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatches: %w", err)
	}
	defer rows.Close()

	recs := []*DispatchRecord{}
	for rows.Next() {
		rec := &DispatchRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Function,
			&rec.Policy,
			&rec.Broadcast,
			&rec.Targets,
			&rec.Status,
			&rec.ErrorCode,
			&rec.StartedAt,
			&rec.CompletedAt,
			&rec.DurationMS,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatches: %w", err)
	}

	return recs, nil
}

// AppendNodeResult records one node's outcome for a dispatch.
func (s *SQLiteStore) AppendNodeResult(ctx context.Context, res *NodeResult) error {
	query := `
		INSERT INTO node_results (dispatch_id, node, success, error_code, error_message, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		res.DispatchID,
		res.Node,
		res.Success,
		res.ErrorCode,
		res.ErrorMessage,
		res.DurationMS,
		res.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append node result: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		res.ID = id
	}

	return nil
}

// ListNodeResults returns the per-node outcomes of a dispatch.
func (s *SQLiteStore) ListNodeResults(ctx context.Context, dispatchID string) ([]*NodeResult, error) {
	query := `
		SELECT id, dispatch_id, node, success, error_code, error_message, duration_ms, timestamp
		FROM node_results
		WHERE dispatch_id = ?
		ORDER BY node
	`

	rows, err := s.db.QueryContext(ctx, query, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node results: %w", err)
	}
	defer rows.Close()

	results := []*NodeResult{}
	for rows.Next() {
		res := &NodeResult{}
		err := rows.Scan(
			&res.ID,
			&res.DispatchID,
			&res.Node,
			&res.Success,
			&res.ErrorCode,
			&res.ErrorMessage,
			&res.DurationMS,
			&res.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node results: %w", err)
	}

	return results, nil
}

// UpsertNode inserts or refreshes a cluster member record.
func (s *SQLiteStore) UpsertNode(ctx context.Context, node *NodeRecord) error {
	query := `
		INSERT INTO nodes (name, role, address, reachable, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			role = excluded.role,
			address = excluded.address,
			reachable = excluded.reachable,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	node.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		node.Name,
		node.Role,
		node.Address,
		node.Reachable,
		node.LastSeen,
		node.CreatedAt,
		node.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}

	return nil
}

// GetNode retrieves a cluster member record by name.
func (s *SQLiteStore) GetNode(ctx context.Context, name string) (*NodeRecord, error) {
	query := `
		SELECT name, role, address, reachable, last_seen, created_at, updated_at
		FROM nodes
		WHERE name = ?
	`

	node := &NodeRecord{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&node.Name,
		&node.Role,
		&node.Address,
		&node.Reachable,
		&node.LastSeen,
		&node.CreatedAt,
		&node.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

// ListNodes returns all cluster member records ordered by name.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]*NodeRecord, error) {
	query := `
		SELECT name, role, address, reachable, last_seen, created_at, updated_at
		FROM nodes
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*NodeRecord{}
	for rows.Next() {
		node := &NodeRecord{}
		err := rows.Scan(
			&node.Name,
			&node.Role,
			&node.Address,
			&node.Reachable,
			&node.LastSeen,
			&node.CreatedAt,
			&node.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// DeleteNode removes a cluster member record.
func (s *SQLiteStore) DeleteNode(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("node %s: %w", name, ErrNotFound)
	}

	return nil
}

// Stats aggregates dispatches started at or after since.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*DispatchStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM dispatches
		WHERE started_at >= ?
	`

	stats := &DispatchStats{}
	err := s.db.QueryRowContext(ctx, query, since).Scan(
		&stats.Total,
		&stats.Completed,
		&stats.Partial,
		&stats.Failed,
		&stats.AvgDurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	return stats, nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}
