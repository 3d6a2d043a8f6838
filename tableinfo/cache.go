package tableinfo

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/quellcloud/tessera/backend"
)

// CachedRepo is a read-through cache in front of a Repository. The mutex
// guards only the map check/insert/evict steps, never backend I/O, so a
// slow registry read does not serialize unrelated requests.
type CachedRepo struct {
	inner Repository

	mu    sync.Mutex
	cache map[string]map[string]*TableInfo // tenant -> name -> info
}

func NewCachedRepo(inner Repository) *CachedRepo {
	return &CachedRepo{
		inner: inner,
		cache: make(map[string]map[string]*TableInfo),
	}
}

// WatchSchemaEvents subscribes the cache to backend schema changes.
// A dropped physical table evicts the corresponding logical entry.
func (c *CachedRepo) WatchSchemaEvents(exec backend.Executor) {
	exec.SubscribeSchemaEvents(func(ev backend.SchemaEvent) {
		if ev.Change != backend.SchemaDropped {
			return
		}
		tenant, ok := strings.CutPrefix(ev.Keyspace, "user_")
		if !ok {
			return
		}
		name, ok := strings.CutPrefix(ev.Table, "user_")
		if !ok {
			return
		}
		glog.V(1).Infof("evicting table info %s/%s on schema drop", tenant, name)
		c.Evict(tenant, name)
	})
}

// Load returns a private copy of the record: callers mutate status fields
// in place during lifecycle transitions and must not alias the cache.
func (c *CachedRepo) Load(ctx context.Context, tenant, name string) (*TableInfo, error) {
	c.mu.Lock()
	if info, ok := c.cache[tenant][name]; ok {
		c.mu.Unlock()
		return info.clone(), nil
	}
	c.mu.Unlock()

	info, err := c.inner.Load(ctx, tenant, name)
	if err != nil || info == nil {
		return info, err
	}
	c.put(info)
	return info, nil
}

func (c *CachedRepo) LoadTableNames(ctx context.Context, tenant, exclusiveStart string, limit int) ([]string, error) {
	return c.inner.LoadTableNames(ctx, tenant, exclusiveStart, limit)
}

func (c *CachedRepo) Save(ctx context.Context, info *TableInfo) (bool, error) {
	applied, err := c.inner.Save(ctx, info)
	if err == nil && applied {
		c.put(info)
	}
	return applied, err
}

func (c *CachedRepo) Update(ctx context.Context, info *TableInfo) (bool, error) {
	applied, err := c.inner.Update(ctx, info)
	if err == nil && applied {
		c.put(info)
	}
	return applied, err
}

func (c *CachedRepo) Delete(ctx context.Context, tenant, name string) error {
	err := c.inner.Delete(ctx, tenant, name)
	if err == nil {
		c.Evict(tenant, name)
	}
	return err
}

// Evict drops the cached entry for (tenant, name), if any.
func (c *CachedRepo) Evict(tenant, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tables, ok := c.cache[tenant]; ok {
		delete(tables, name)
		if len(tables) == 0 {
			delete(c.cache, tenant)
		}
	}
}

func (c *CachedRepo) put(info *TableInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables, ok := c.cache[info.Tenant]
	if !ok {
		tables = make(map[string]*TableInfo)
		c.cache[info.Tenant] = tables
	}
	tables[info.Name] = info.clone()
}
