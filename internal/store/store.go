package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Run events (append-only)
	AppendEvent(ctx context.Context, event *RunEvent) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*RunEvent, error)

	// Connections (values are ciphertext)
	PutConnection(ctx context.Context, name string, ciphertext []byte) error
	GetConnection(ctx context.Context, name string) ([]byte, error)
	DeleteConnection(ctx context.Context, name string) error
	ListConnections(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
