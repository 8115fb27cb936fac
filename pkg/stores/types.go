package stores

import (
	"context"
	"time"
)

// DispatchStatus is the terminal state of a recorded dispatch.
type DispatchStatus string

const (
	DispatchStatusRunning   DispatchStatus = "running"
	DispatchStatusCompleted DispatchStatus = "completed"
	DispatchStatusPartial   DispatchStatus = "partial"
	DispatchStatusFailed    DispatchStatus = "failed"
)

// DispatchRecord is one audited dispatch. Targets is a JSON array of
// node names; empty for single-node policies.
type DispatchRecord struct {
	ID          string         `json:"id"`
	Function    string         `json:"function"`
	Policy      string         `json:"policy"`
	Broadcast   bool           `json:"broadcast"`
	Targets     string         `json:"targets"`
	Status      DispatchStatus `json:"status"`
	ErrorCode   *int           `json:"error_code,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  *int64         `json:"duration_ms,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NodeResult is the per-node outcome of one dispatch leg.
type NodeResult struct {
	ID           int64     `json:"id"`
	DispatchID   string    `json:"dispatch_id"`
	Node         string    `json:"node"`
	Success      bool      `json:"success"`
	ErrorCode    *int      `json:"error_code,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// NodeRecord is a persisted cluster member.
type NodeRecord struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Address   string    `json:"address"`
	Reachable bool      `json:"reachable"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DispatchStats aggregates the audit trail for the stats operation.
type DispatchStats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Partial       int     `json:"partial"`
	Failed        int     `json:"failed"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Dispatch audit trail
	CreateDispatch(ctx context.Context, rec *DispatchRecord) error
	FinishDispatch(ctx context.Context, id string, status DispatchStatus, errorCode *int) error
	GetDispatch(ctx context.Context, id string) (*DispatchRecord, error)
	ListDispatches(ctx context.Context, limit, offset int) ([]*DispatchRecord, error)

	// Per-node outcomes
	AppendNodeResult(ctx context.Context, res *NodeResult) error
	ListNodeResults(ctx context.Context, dispatchID string) ([]*NodeResult, error)

	// Node registry
	UpsertNode(ctx context.Context, node *NodeRecord) error
	GetNode(ctx context.Context, name string) (*NodeRecord, error)
	ListNodes(ctx context.Context) ([]*NodeRecord, error)
	DeleteNode(ctx context.Context, name string) error

	// Aggregates
	Stats(ctx context.Context, since time.Time) (*DispatchStats, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
