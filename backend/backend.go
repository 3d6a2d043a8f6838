package backend

import (
	"context"
	"errors"
)

// ErrUnavailable is the class of connectivity failures the engine is
// allowed to retry. Implementations wrap their transient errors with it.
var ErrUnavailable = errors.New("backend unavailable")

// ExecOptions tune a single statement execution.
type ExecOptions struct {
	// Consistent requests a linearizable (quorum) execution. Mutating
	// statements must always be executed consistently; the engine sets
	// this for reads when the caller asked for a consistent read.
	Consistent bool
}

// ColumnMetadata describes one physical column as seen by the cluster.
type ColumnMetadata struct {
	Type    ColumnType
	Indexed bool
}

// TableMetadata is the cluster's converged view of one table.
type TableMetadata struct {
	Name    string
	Columns map[string]ColumnMetadata
}

// KeyspaceMetadata is the cluster's converged view of one keyspace.
type KeyspaceMetadata struct {
	Name   string
	Tables map[string]TableMetadata
}

// SchemaChange is the kind of a schema event.
type SchemaChange string

const (
	SchemaCreated SchemaChange = "CREATED"
	SchemaDropped SchemaChange = "DROPPED"
)

// SchemaEvent is emitted when the cluster's schema view changes.
type SchemaEvent struct {
	Change   SchemaChange
	Keyspace string
	Table    string
}

// Executor runs statements against the backend and exposes its schema
// metadata. Implementations must be safe for concurrent use.
type Executor interface {
	// Execute runs one statement. CAS outcomes are reported through
	// Result.Applied, never as errors; errors mean the statement could
	// not be executed at all.
	Execute(ctx context.Context, stmt Statement, opts ExecOptions) (*Result, error)

	// KeyspaceMetadata returns a snapshot of the cluster's view of a
	// keyspace, or nil if the keyspace is unknown.
	KeyspaceMetadata(name string) *KeyspaceMetadata

	// SubscribeSchemaEvents registers a listener for schema changes.
	// Listeners must not block.
	SubscribeSchemaEvents(fn func(SchemaEvent))
}
