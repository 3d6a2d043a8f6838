// Package engine is the storage adapter: it maps the logical table/item
// operations onto conditional statements against a column-family backend,
// keeping secondary index columns consistent through optimistic retries.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
	"github.com/quellcloud/tessera/tableinfo"
)

// Engine executes table and item operations against one backend.
type Engine struct {
	cfg  Config
	exec backend.Executor
	repo tableinfo.Repository
}

// New builds an Engine. Statements issued through it retry connectivity
// failures up to the configured budget before surfacing a BackendError.
func New(cfg Config, exec backend.Executor, repo tableinfo.Repository) *Engine {
	return &Engine{
		cfg:  cfg,
		exec: &retryExecutor{inner: exec, cfg: cfg},
		repo: repo,
	}
}

// retryExecutor retries connectivity-class failures at the statement
// boundary. Everything else passes through untouched.
type retryExecutor struct {
	inner backend.Executor
	cfg   Config
}

func (r *retryExecutor) Execute(ctx context.Context, stmt backend.Statement, opts backend.ExecOptions) (*backend.Result, error) {
	var res *backend.Result
	attempt := 0
	op := func() error {
		attempt++
		var err error
		res, err = r.inner.Execute(ctx, stmt, opts)
		if err == nil {
			return nil
		}
		if errors.Is(err, backend.ErrUnavailable) && ctx.Err() == nil {
			glog.Warningf("statement attempt %d failed: %v", attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryBackoff), uint64(r.cfg.StatementRetries-1)),
		ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *retryExecutor) KeyspaceMetadata(name string) *backend.KeyspaceMetadata {
	return r.inner.KeyspaceMetadata(name)
}

func (r *retryExecutor) SubscribeSchemaEvents(fn func(backend.SchemaEvent)) {
	r.inner.SubscribeSchemaEvents(fn)
}

// CreateTable registers and physically creates a table, returning once it
// is ACTIVE. The asynchronous manager splits this into the registry write
// and CompleteCreate.
func (e *Engine) CreateTable(ctx context.Context, tenant, name string, schema model.TableSchema) (model.TableMeta, error) {
	info, err := e.RegisterTable(ctx, tenant, name, schema)
	if err != nil {
		return model.TableMeta{}, err
	}
	if err := e.CompleteCreate(ctx, info); err != nil {
		return model.TableMeta{}, err
	}
	return info.Meta(), nil
}

// RegisterTable validates the schema and durably writes the CREATING
// registry record.
func (e *Engine) RegisterTable(ctx context.Context, tenant, name string, schema model.TableSchema) (*tableinfo.TableInfo, error) {
	if err := schema.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	info := &tableinfo.TableInfo{
		Tenant: tenant,
		Name:   name,
		ID:     uuid.New(),
		Schema: schema,
		Status: model.TableStatusCreating,
	}
	applied, err := e.repo.Save(ctx, info)
	if err != nil {
		return nil, &BackendError{Op: "create table", Err: err}
	}
	if !applied {
		return nil, &TableAlreadyExistsError{Tenant: tenant, Name: name}
	}
	return info, nil
}

// CompleteCreate performs the physical half of table creation: issue the
// DDL, wait for schema agreement, transition the record to ACTIVE.
func (e *Engine) CompleteCreate(ctx context.Context, info *tableinfo.TableInfo) error {
	st := buildCreateTable(info)
	if _, err := e.exec.Execute(ctx, st, backend.ExecOptions{Consistent: true}); err != nil {
		e.markFailed(info, model.TableStatusCreateFailed)
		return &BackendError{Op: "create table", Err: err}
	}
	if err := e.waitForTable(ctx, st, true); err != nil {
		e.markFailed(info, model.TableStatusCreateFailed)
		return err
	}

	info.Status = model.TableStatusActive
	info.InternalName = st.Table
	applied, err := e.repo.Update(ctx, info)
	if err != nil {
		return &BackendError{Op: "create table", Err: err}
	}
	if !applied {
		return &BackendError{Op: "create table",
			Err: fmt.Errorf("registry record for %s/%s removed concurrently", info.Tenant, info.Name)}
	}
	glog.V(1).Infof("table %s/%s is active", info.Tenant, info.Name)
	return nil
}

// DeleteTable unregisters and physically drops a table, returning the
// pre-delete snapshot.
func (e *Engine) DeleteTable(ctx context.Context, tenant, name string) (model.TableMeta, error) {
	info, already, err := e.BeginDelete(ctx, tenant, name)
	if err != nil {
		return model.TableMeta{}, err
	}
	meta := info.Meta()
	if already {
		return meta, nil
	}
	if err := e.CompleteDelete(ctx, info); err != nil {
		return model.TableMeta{}, err
	}
	return meta, nil
}

// BeginDelete transitions a table to DELETING. Deleting a table that is
// still being created is refused; one already DELETING is returned as is
// with already=true so callers do not schedule the drop twice.
func (e *Engine) BeginDelete(ctx context.Context, tenant, name string) (info *tableinfo.TableInfo, already bool, err error) {
	info, err = e.loadInfo(ctx, tenant, name)
	if err != nil {
		return nil, false, err
	}
	switch info.Status {
	case model.TableStatusCreating:
		return nil, false, &TableInUseError{Tenant: tenant, Name: name, Status: string(info.Status)}
	case model.TableStatusDeleting:
		return info, true, nil
	}
	info.Status = model.TableStatusDeleting
	applied, err := e.repo.Update(ctx, info)
	if err != nil {
		return nil, false, &BackendError{Op: "delete table", Err: err}
	}
	if !applied {
		return nil, false, &TableNotExistsError{Tenant: tenant, Name: name}
	}
	return info, false, nil
}

// CompleteDelete drops the physical table, waits for the drop to become
// visible and removes the registry record.
func (e *Engine) CompleteDelete(ctx context.Context, info *tableinfo.TableInfo) error {
	st := buildDropTable(info)
	if _, err := e.exec.Execute(ctx, st, backend.ExecOptions{Consistent: true}); err != nil {
		e.markFailed(info, model.TableStatusDeleteFailed)
		return &BackendError{Op: "delete table", Err: err}
	}
	create := buildCreateTable(info)
	if err := e.waitForTable(ctx, create, false); err != nil {
		e.markFailed(info, model.TableStatusDeleteFailed)
		return err
	}
	if err := e.repo.Delete(ctx, info.Tenant, info.Name); err != nil {
		return &BackendError{Op: "delete table", Err: err}
	}
	glog.V(1).Infof("table %s/%s deleted", info.Tenant, info.Name)
	return nil
}

// DescribeTable re-reads the registry record, bypassing the cache so that
// asynchronous status transitions are observed.
func (e *Engine) DescribeTable(ctx context.Context, tenant, name string) (model.TableMeta, error) {
	if ev, ok := e.repo.(evictor); ok {
		ev.Evict(tenant, name)
	}
	info, err := e.loadInfo(ctx, tenant, name)
	if err != nil {
		return model.TableMeta{}, err
	}
	return info.Meta(), nil
}

// ListTables lists a tenant's table names after exclusiveStart, at most
// limit of them.
func (e *Engine) ListTables(ctx context.Context, tenant, exclusiveStart string, limit int) ([]string, error) {
	names, err := e.repo.LoadTableNames(ctx, tenant, exclusiveStart, limit)
	if err != nil {
		return nil, &BackendError{Op: "list tables", Err: err}
	}
	return names, nil
}

type evictor interface {
	Evict(tenant, name string)
}

func (e *Engine) loadInfo(ctx context.Context, tenant, name string) (*tableinfo.TableInfo, error) {
	info, err := e.repo.Load(ctx, tenant, name)
	if err != nil {
		return nil, &BackendError{Op: "load table info", Err: err}
	}
	if info == nil {
		return nil, &TableNotExistsError{Tenant: tenant, Name: name}
	}
	return info, nil
}

// loadActive resolves a table for an item operation. Item operations are
// valid only against ACTIVE tables.
func (e *Engine) loadActive(ctx context.Context, tenant, name string) (*tableinfo.TableInfo, error) {
	info, err := e.loadInfo(ctx, tenant, name)
	if err != nil {
		return nil, err
	}
	if info.Status != model.TableStatusActive {
		return nil, &TableInUseError{Tenant: tenant, Name: name, Status: string(info.Status)}
	}
	return info, nil
}

// waitForTable polls the backend schema metadata until the table (and all
// its secondary indexes) is present, or absent when present=false. The
// poll interval backs off exponentially and the total wait is bounded.
func (e *Engine) waitForTable(ctx context.Context, st backend.CreateTable, present bool) error {
	check := func() error {
		if e.tableVisible(st) == present {
			return nil
		}
		return errNotAgreed
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.SchemaPollInterval
	bo.MaxElapsedTime = e.cfg.SchemaAgreementTimeout
	if err := backoff.Retry(check, backoff.WithContext(bo, ctx)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: table %s.%s", ErrSchemaAgreementTimeout, st.Keyspace, st.Table)
	}
	return nil
}

var errNotAgreed = errors.New("schema not agreed yet")

func (e *Engine) tableVisible(st backend.CreateTable) bool {
	meta := e.exec.KeyspaceMetadata(st.Keyspace)
	if meta == nil {
		return false
	}
	tbl, ok := meta.Tables[st.Table]
	if !ok {
		return false
	}
	for _, col := range st.IndexedColumns {
		if !tbl.Columns[col].Indexed {
			return false
		}
	}
	return true
}

func (e *Engine) markFailed(info *tableinfo.TableInfo, status model.TableStatus) {
	info.Status = status
	// Best effort; the record keeps its previous status if this loses a
	// race with a concurrent delete.
	if _, err := e.repo.Update(context.Background(), info); err != nil {
		glog.Errorf("marking table %s/%s %s: %v", info.Tenant, info.Name, status, err)
	}
}
