// Package tableinfo is the durable registry of logical tables. One row per
// (tenant, table name) in a dedicated system table holds the schema, the
// lifecycle status and the physical table name. Save and Update are CAS
// guarded so that concurrent operators cannot race past each other.
package tableinfo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
)

// System table location.
const (
	SystemKeyspace = "tessera"
	SystemTable    = "table_info"
)

// TableInfo is one registry record. Only Status and InternalName change
// after creation.
type TableInfo struct {
	Tenant       string
	Name         string
	ID           uuid.UUID
	Schema       model.TableSchema
	Status       model.TableStatus
	InternalName string
}

// Meta returns the externally visible view of the record.
func (t *TableInfo) Meta() model.TableMeta {
	return model.TableMeta{Schema: t.Schema, Status: t.Status}
}

// clone copies the record. The schema is shared; it is immutable once the
// table exists.
func (t *TableInfo) clone() *TableInfo {
	cp := *t
	return &cp
}

// Repository stores and retrieves TableInfo records.
type Repository interface {
	// Load returns the record for (tenant, name), or nil if absent.
	Load(ctx context.Context, tenant, name string) (*TableInfo, error)

	// LoadTableNames lists table names for a tenant, lexicographically
	// ordered, strictly after exclusiveStart, truncated at limit
	// (limit <= 0 means no limit).
	LoadTableNames(ctx context.Context, tenant, exclusiveStart string, limit int) ([]string, error)

	// Save inserts a new record. Returns false if a record for the same
	// (tenant, name) already exists.
	Save(ctx context.Context, info *TableInfo) (bool, error)

	// Update rewrites the mutable fields of an existing record. Returns
	// false if the record vanished concurrently.
	Update(ctx context.Context, info *TableInfo) (bool, error)

	// Delete removes the record unconditionally.
	Delete(ctx context.Context, tenant, name string) error
}

// EnsureSystemTable creates the system registry table if it is not there
// yet. Safe to call from every process at startup.
func EnsureSystemTable(ctx context.Context, exec backend.Executor) error {
	_, err := exec.Execute(ctx, backend.CreateTable{
		Keyspace: SystemKeyspace,
		Table:    SystemTable,
		Columns: []backend.ColumnDef{
			{Name: "tenant", Type: backend.ColText},
			{Name: "name", Type: backend.ColText},
			{Name: "id", Type: backend.ColText},
			{Name: "schema", Type: backend.ColBlob},
			{Name: "status", Type: backend.ColText},
			{Name: "internal_name", Type: backend.ColText},
		},
		PartitionKey:   "tenant",
		ClusteringKeys: []string{"name"},
		IfNotExists:    true,
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return fmt.Errorf("ensure system table: %w", err)
	}
	return nil
}

// Repo is the statement-backed Repository.
type Repo struct {
	exec backend.Executor
}

func NewRepo(exec backend.Executor) *Repo {
	return &Repo{exec: exec}
}

func (r *Repo) Load(ctx context.Context, tenant, name string) (*TableInfo, error) {
	res, err := r.exec.Execute(ctx, backend.Select{
		Keyspace: SystemKeyspace,
		Table:    SystemTable,
		Where: []backend.Where{
			{Column: "tenant", Op: backend.OpEq, Value: model.String(tenant)},
			{Column: "name", Op: backend.OpEq, Value: model.String(name)},
		},
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return nil, fmt.Errorf("load table info %s/%s: %w", tenant, name, err)
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return decodeInfo(res.Rows[0])
}

func (r *Repo) LoadTableNames(ctx context.Context, tenant, exclusiveStart string, limit int) ([]string, error) {
	where := []backend.Where{
		{Column: "tenant", Op: backend.OpEq, Value: model.String(tenant)},
	}
	if exclusiveStart != "" {
		where = append(where, backend.Where{
			Column: "name", Op: backend.OpGt, Value: model.String(exclusiveStart),
		})
	}
	res, err := r.exec.Execute(ctx, backend.Select{
		Keyspace: SystemKeyspace,
		Table:    SystemTable,
		Columns:  []string{"name"},
		Where:    where,
		Limit:    limit,
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return nil, fmt.Errorf("list tables for %s: %w", tenant, err)
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		v, ok := row["name"].(model.AttributeValue)
		if !ok {
			return nil, fmt.Errorf("malformed table info row for %s", tenant)
		}
		names = append(names, v.S)
	}
	return names, nil
}

func (r *Repo) Save(ctx context.Context, info *TableInfo) (bool, error) {
	row, err := encodeInfo(info)
	if err != nil {
		return false, err
	}
	res, err := r.exec.Execute(ctx, backend.Insert{
		Keyspace:    SystemKeyspace,
		Table:       SystemTable,
		Row:         row,
		IfNotExists: true,
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return false, fmt.Errorf("save table info %s/%s: %w", info.Tenant, info.Name, err)
	}
	return res.Applied, nil
}

func (r *Repo) Update(ctx context.Context, info *TableInfo) (bool, error) {
	res, err := r.exec.Execute(ctx, backend.Update{
		Keyspace: SystemKeyspace,
		Table:    SystemTable,
		Key: backend.Row{
			"tenant": model.String(info.Tenant),
			"name":   model.String(info.Name),
		},
		Set: backend.Row{
			"status":        model.String(string(info.Status)),
			"internal_name": model.String(info.InternalName),
		},
		// The row-exists guard: the tenant column is set on every saved
		// record, so a non-null check detects concurrent deletion.
		Conditions: []backend.Condition{
			{Column: "tenant", Op: backend.CondNotNull},
		},
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return false, fmt.Errorf("update table info %s/%s: %w", info.Tenant, info.Name, err)
	}
	return res.Applied, nil
}

func (r *Repo) Delete(ctx context.Context, tenant, name string) error {
	_, err := r.exec.Execute(ctx, backend.Delete{
		Keyspace: SystemKeyspace,
		Table:    SystemTable,
		Key: backend.Row{
			"tenant": model.String(tenant),
			"name":   model.String(name),
		},
	}, backend.ExecOptions{Consistent: true})
	if err != nil {
		return fmt.Errorf("delete table info %s/%s: %w", tenant, name, err)
	}
	return nil
}

func encodeInfo(info *TableInfo) (backend.Row, error) {
	blob, err := json.Marshal(info.Schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema for %s/%s: %w", info.Tenant, info.Name, err)
	}
	return backend.Row{
		"tenant":        model.String(info.Tenant),
		"name":          model.String(info.Name),
		"id":            model.String(info.ID.String()),
		"schema":        model.Binary(blob),
		"status":        model.String(string(info.Status)),
		"internal_name": model.String(info.InternalName),
	}, nil
}

func decodeInfo(row backend.Row) (*TableInfo, error) {
	info := &TableInfo{}
	str := func(col string) string {
		v, _ := row[col].(model.AttributeValue)
		return v.S
	}
	info.Tenant = str("tenant")
	info.Name = str("name")
	info.Status = model.TableStatus(str("status"))
	info.InternalName = str("internal_name")
	if id, err := uuid.Parse(str("id")); err == nil {
		info.ID = id
	}
	blob, _ := row["schema"].(model.AttributeValue)
	if err := json.Unmarshal(blob.B, &info.Schema); err != nil {
		return nil, fmt.Errorf("decode schema for %s/%s: %w", info.Tenant, info.Name, err)
	}
	return info, nil
}
