package tableinfo

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/backend/badgercf"
	"github.com/quellcloud/tessera/model"
)

func newTestRepo(t *testing.T) (*Repo, *badgercf.Store) {
	t.Helper()
	store, err := badgercf.Open(badgercf.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	require.NoError(t, EnsureSystemTable(context.Background(), store))
	return NewRepo(store), store
}

func threadInfo(tenant, name string) *TableInfo {
	return &TableInfo{
		Tenant: tenant,
		Name:   name,
		ID:     uuid.New(),
		Schema: model.TableSchema{
			AttributeTypes: map[string]model.AttributeType{
				"ForumName": {Element: model.ElementString},
				"Subject":   {Element: model.ElementString},
			},
			KeyAttributes: []string{"ForumName", "Subject"},
		},
		Status: model.TableStatusCreating,
	}
}

func TestRepoRoundTrip(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	info := threadInfo("t1", "Thread")
	applied, err := repo.Save(ctx, info)
	require.NoError(t, err)
	require.True(t, applied)

	t.Run("save detects duplicates", func(t *testing.T) {
		applied, err := repo.Save(ctx, threadInfo("t1", "Thread"))
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("load returns the record", func(t *testing.T) {
		got, err := repo.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, info.ID, got.ID)
		assert.Equal(t, model.TableStatusCreating, got.Status)
		assert.Equal(t, []string{"ForumName", "Subject"}, got.Schema.KeyAttributes)
	})

	t.Run("load of a missing record is nil", func(t *testing.T) {
		got, err := repo.Load(ctx, "t1", "NoSuchTable")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("update transitions status", func(t *testing.T) {
		info.Status = model.TableStatusActive
		info.InternalName = "user_thread"
		applied, err := repo.Update(ctx, info)
		require.NoError(t, err)
		require.True(t, applied)

		got, err := repo.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		assert.Equal(t, model.TableStatusActive, got.Status)
		assert.Equal(t, "user_thread", got.InternalName)
	})

	t.Run("update of a deleted record is not applied", func(t *testing.T) {
		ghost := threadInfo("t1", "Ghost")
		applied, err := repo.Update(ctx, ghost)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "t1", "Thread"))
		got, err := repo.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestLoadTableNames(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		applied, err := repo.Save(ctx, threadInfo("t1", name))
		require.NoError(t, err)
		require.True(t, applied)
	}
	applied, err := repo.Save(ctx, threadInfo("t2", "other"))
	require.NoError(t, err)
	require.True(t, applied)

	names, err := repo.LoadTableNames(ctx, "t1", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)

	t.Run("exclusive start and limit", func(t *testing.T) {
		names, err := repo.LoadTableNames(ctx, "t1", "alpha", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, names)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		names, err := repo.LoadTableNames(ctx, "t2", "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"other"}, names)
	})
}

func TestCachedRepo(t *testing.T) {
	repo, store := newTestRepo(t)
	cached := NewCachedRepo(repo)
	cached.WatchSchemaEvents(store)
	ctx := context.Background()

	info := threadInfo("t1", "Thread")
	applied, err := cached.Save(ctx, info)
	require.NoError(t, err)
	require.True(t, applied)

	t.Run("load is served from cache", func(t *testing.T) {
		// Remove the backing row; the cached entry must still answer.
		require.NoError(t, repo.Delete(ctx, "t1", "Thread"))
		got, err := cached.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, info.ID, got.ID)
	})

	t.Run("loaded record is private to the caller", func(t *testing.T) {
		got, err := cached.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		require.NotNil(t, got)

		// A lifecycle transition mutates its own copy; an unapplied one
		// must not leak into later loads.
		got.Status = model.TableStatusDeleting
		again, err := cached.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		assert.Equal(t, info.Status, again.Status)
		assert.NotSame(t, got, again)
	})

	t.Run("evict forces a registry read", func(t *testing.T) {
		cached.Evict("t1", "Thread")
		got, err := cached.Load(ctx, "t1", "Thread")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("schema drop event evicts", func(t *testing.T) {
		applied, err := cached.Save(ctx, threadInfo("t1", "Evicted"))
		require.NoError(t, err)
		require.True(t, applied)

		// Simulate the physical drop of the user table backing it.
		_, err = store.Execute(ctx, backend.CreateTable{
			Keyspace:     "user_t1",
			Table:        "user_Evicted",
			Columns:      []backend.ColumnDef{{Name: "user_pk", Type: backend.ColText}},
			PartitionKey: "user_pk",
		}, backend.ExecOptions{})
		require.NoError(t, err)
		_, err = store.Execute(ctx, backend.DropTable{
			Keyspace: "user_t1",
			Table:    "user_Evicted",
		}, backend.ExecOptions{})
		require.NoError(t, err)

		// The next load goes back to the registry row, which still exists.
		require.NoError(t, repo.Delete(ctx, "t1", "Evicted"))
		got, err := cached.Load(ctx, "t1", "Evicted")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
