// Package badgercf is a single-process column-family backend over
// BadgerDB. It implements backend.Executor with full CAS semantics and an
// immediately-agreeing schema view, and is the backend used by tests and
// embedded deployments.
package badgercf

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/glog"

	"github.com/quellcloud/tessera/backend"
)

// Options configures the store.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string `yaml:"path"`
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool `yaml:"inMemory"`
}

// Store is a backend.Executor over a single BadgerDB instance.
type Store struct {
	db *badger.DB

	mu        sync.RWMutex
	keyspaces map[string]map[string]*tableDef
	listeners []func(backend.SchemaEvent)
	closed    bool
}

type tableDef struct {
	Columns        []backend.ColumnDef `json:"columns"`
	PartitionKey   string              `json:"partition_key"`
	ClusteringKeys []string            `json:"clustering_keys"`
	IndexedColumns []string            `json:"indexed_columns"`
}

func (d *tableDef) indexed(col string) bool {
	for _, c := range d.IndexedColumns {
		if c == col {
			return true
		}
	}
	return false
}

// Open opens (or creates) a store.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	s := &Store{
		db:        db,
		keyspaces: make(map[string]map[string]*tableDef),
	}
	if err := s.loadTableDefs(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load table definitions: %w", err)
	}
	return s, nil
}

// Close closes the underlying database. Statements executed afterwards
// fail with backend.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// KeyspaceMetadata implements backend.Executor.
func (s *Store) KeyspaceMetadata(name string) *backend.KeyspaceMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables, ok := s.keyspaces[name]
	if !ok {
		return nil
	}
	meta := &backend.KeyspaceMetadata{
		Name:   name,
		Tables: make(map[string]backend.TableMetadata, len(tables)),
	}
	for tableName, def := range tables {
		columns := make(map[string]backend.ColumnMetadata, len(def.Columns))
		for _, col := range def.Columns {
			columns[col.Name] = backend.ColumnMetadata{
				Type:    col.Type,
				Indexed: def.indexed(col.Name),
			}
		}
		meta.Tables[tableName] = backend.TableMetadata{Name: tableName, Columns: columns}
	}
	return meta
}

// SubscribeSchemaEvents implements backend.Executor.
func (s *Store) SubscribeSchemaEvents(fn func(backend.SchemaEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) emitSchemaEvent(ev backend.SchemaEvent) {
	s.mu.RLock()
	listeners := make([]func(backend.SchemaEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Store) tableDef(keyspace, table string) (*tableDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tables, ok := s.keyspaces[keyspace]
	if !ok {
		return nil, fmt.Errorf("keyspace %q does not exist", keyspace)
	}
	def, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q.%q does not exist", keyspace, table)
	}
	return def, nil
}

// Execute implements backend.Executor.
func (s *Store) Execute(ctx context.Context, stmt backend.Statement, opts backend.ExecOptions) (*backend.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("store is closed: %w", backend.ErrUnavailable)
	}

	glog.V(2).Infof("badgercf: executing %T (consistent=%v)", stmt, opts.Consistent)

	switch st := stmt.(type) {
	case backend.CreateTable:
		return s.createTable(st)
	case backend.DropTable:
		return s.dropTable(st)
	case backend.Insert:
		return s.insert(st)
	case backend.Update:
		return s.update(st)
	case backend.Delete:
		return s.delete(st)
	case backend.Select:
		return s.selectRows(st)
	default:
		return nil, fmt.Errorf("unsupported statement type %T", stmt)
	}
}
