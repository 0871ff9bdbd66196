package secrets

import "context"

// Vault holds connection values ({{connections.<name>}} references).
// Values are encrypted at rest and only decrypted in memory.
type Vault interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
	Store(ctx context.Context, name string, value []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// ConnectionStore persists encrypted connection values.
// Satisfied by store.LibSQLStore.
type ConnectionStore interface {
	PutConnection(ctx context.Context, name string, ciphertext []byte) error
	GetConnection(ctx context.Context, name string) ([]byte, error)
	DeleteConnection(ctx context.Context, name string) error
	ListConnections(ctx context.Context) ([]string, error)
}
