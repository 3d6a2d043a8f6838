package badgercf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func createBooksTable(t *testing.T, s *Store) {
	t.Helper()
	res, err := s.Execute(context.Background(), backend.CreateTable{
		Keyspace: "user_acme",
		Table:    "user_books",
		Columns: []backend.ColumnDef{
			{Name: "user_author", Type: backend.ColText},
			{Name: "user_title", Type: backend.ColText},
			{Name: "user_year", Type: backend.ColDecimal},
			{Name: "extra_attr_data", Type: backend.ColBlobMap},
			{Name: "extra_attr_types", Type: backend.ColTextMap},
			{Name: "attr_exist", Type: backend.ColTextSet},
		},
		PartitionKey:   "user_author",
		ClusteringKeys: []string{"user_title"},
		IndexedColumns: []string{"user_year"},
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, res.Applied)
}

func insertBook(t *testing.T, s *Store, author, title string, year int64) {
	t.Helper()
	res, err := s.Execute(context.Background(), backend.Insert{
		Keyspace: "user_acme",
		Table:    "user_books",
		Row: backend.Row{
			"user_author": model.String(author),
			"user_title":  model.String(title),
			"user_year":   model.NumberFromInt(year),
		},
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, res.Applied)
}

func TestCreateTable(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)

	t.Run("if not exists is idempotent", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.CreateTable{
			Keyspace:     "user_acme",
			Table:        "user_books",
			PartitionKey: "user_author",
			IfNotExists:  true,
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Applied)
	})

	t.Run("without guard duplicate fails", func(t *testing.T) {
		_, err := s.Execute(context.Background(), backend.CreateTable{
			Keyspace:     "user_acme",
			Table:        "user_books",
			PartitionKey: "user_author",
		}, backend.ExecOptions{})
		require.Error(t, err)
	})

	t.Run("metadata reflects schema", func(t *testing.T) {
		meta := s.KeyspaceMetadata("user_acme")
		require.NotNil(t, meta)
		tbl, ok := meta.Tables["user_books"]
		require.True(t, ok)
		assert.True(t, tbl.Columns["user_year"].Indexed)
		assert.False(t, tbl.Columns["user_title"].Indexed)
	})
}

func TestInsertAndSelect(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)

	insertBook(t, s, "melville", "moby dick", 1851)
	insertBook(t, s, "melville", "bartleby", 1853)
	insertBook(t, s, "austen", "emma", 1815)

	t.Run("partition select in clustering order", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
			},
		}, backend.ExecOptions{Consistent: true})
		require.NoError(t, err)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, model.String("bartleby"), res.Rows[0]["user_title"])
		assert.Equal(t, model.String("moby dick"), res.Rows[1]["user_title"])
	})

	t.Run("descending order", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
			},
			Descending: true,
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, model.String("moby dick"), res.Rows[0]["user_title"])
	})

	t.Run("range filter on clustering key", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
				{Column: "user_title", Op: backend.OpGt, Value: model.String("bartleby")},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, model.String("moby dick"), res.Rows[0]["user_title"])
	})

	t.Run("order by secondary column", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
			},
			OrderBy: "user_year",
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, model.String("moby dick"), res.Rows[0]["user_title"])
	})

	t.Run("limit", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Limit:    2,
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.Len(t, res.Rows, 2)
	})

	t.Run("count only", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace:  "user_acme",
			Table:     "user_books",
			CountOnly: true,
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Count)
		assert.Empty(t, res.Rows)
	})

	t.Run("projection", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Columns:  []string{"user_title"},
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("austen")},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.Len(t, res.Rows[0], 1)
		assert.Equal(t, model.String("emma"), res.Rows[0]["user_title"])
	})
}

func TestInsertIfNotExists(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)
	insertBook(t, s, "melville", "moby dick", 1851)

	res, err := s.Execute(context.Background(), backend.Insert{
		Keyspace: "user_acme",
		Table:    "user_books",
		Row: backend.Row{
			"user_author": model.String("melville"),
			"user_title":  model.String("moby dick"),
			"user_year":   model.NumberFromInt(1900),
		},
		IfNotExists: true,
	}, backend.ExecOptions{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, model.NumberFromInt(1851), res.Rows[0]["user_year"])
}

func TestConditionalUpdate(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)
	insertBook(t, s, "melville", "moby dick", 1851)

	key := backend.Row{
		"user_author": model.String("melville"),
		"user_title":  model.String("moby dick"),
	}

	t.Run("condition fails with pre image", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key:      key,
			Set:      backend.Row{"user_year": model.NumberFromInt(1900)},
			Conditions: []backend.Condition{
				{Column: "user_year", Op: backend.CondEq, Value: model.NumberFromInt(1800)},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, model.NumberFromInt(1851), res.Rows[0]["user_year"])
	})

	t.Run("condition holds", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key:      key,
			Set:      backend.Row{"user_year": model.NumberFromInt(1900)},
			Conditions: []backend.Condition{
				{Column: "user_year", Op: backend.CondEq, Value: model.NumberFromInt(1851)},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.True(t, res.Applied)
	})

	t.Run("conditional update of missing row is not applied", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key: backend.Row{
				"user_author": model.String("nobody"),
				"user_title":  model.String("nothing"),
			},
			Set: backend.Row{"user_year": model.NumberFromInt(1)},
			Conditions: []backend.Condition{
				{Column: "user_year", Op: backend.CondNotNull},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Empty(t, res.Rows)
	})

	t.Run("unconditional update upserts", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key: backend.Row{
				"user_author": model.String("kafka"),
				"user_title":  model.String("the trial"),
			},
			Set: backend.Row{"user_year": model.NumberFromInt(1925)},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.True(t, res.Applied)

		sel, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("kafka")},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, sel.Rows, 1)
		assert.Equal(t, model.NumberFromInt(1925), sel.Rows[0]["user_year"])
	})
}

func TestMapAndSetMutations(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)
	insertBook(t, s, "melville", "moby dick", 1851)

	key := backend.Row{
		"user_author": model.String("melville"),
		"user_title":  model.String("moby dick"),
	}

	res, err := s.Execute(context.Background(), backend.Update{
		Keyspace: "user_acme",
		Table:    "user_books",
		Key:      key,
		MapPut: map[string]backend.BlobMap{
			"extra_attr_data": {"genre": []byte(`{"S":"novel"}`)},
		},
		MapPutText: map[string]backend.TextMap{
			"extra_attr_types": {"genre": "S"},
		},
		SetAdd: map[string][]string{
			"attr_exist": {"genre"},
		},
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, res.Applied)

	sel, err := s.Execute(context.Background(), backend.Select{
		Keyspace: "user_acme",
		Table:    "user_books",
		Where: []backend.Where{
			{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
		},
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.Len(t, sel.Rows, 1)
	row := sel.Rows[0]
	assert.Equal(t, []byte(`{"S":"novel"}`), row["extra_attr_data"].(backend.BlobMap)["genre"])
	assert.Equal(t, "S", row["extra_attr_types"].(backend.TextMap)["genre"])
	assert.True(t, row["attr_exist"].(backend.TextSet).Contains("genre"))

	t.Run("map entry condition", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key:      key,
			Set:      backend.Row{"user_year": model.NumberFromInt(1852)},
			Conditions: []backend.Condition{
				{Column: "extra_attr_data", MapKey: "genre", Op: backend.CondEq, Value: []byte(`{"S":"poetry"}`)},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Applied)
	})

	t.Run("set membership conditions", func(t *testing.T) {
		update := func(cond backend.Condition) bool {
			res, err := s.Execute(context.Background(), backend.Update{
				Keyspace:   "user_acme",
				Table:      "user_books",
				Key:        key,
				Set:        backend.Row{"user_year": model.NumberFromInt(1851)},
				Conditions: []backend.Condition{cond},
			}, backend.ExecOptions{})
			require.NoError(t, err)
			return res.Applied
		}

		assert.True(t, update(backend.Condition{
			Column: "attr_exist", Op: backend.CondContains, Value: "genre"}))
		assert.False(t, update(backend.Condition{
			Column: "attr_exist", Op: backend.CondContains, Value: "publisher"}))
		assert.True(t, update(backend.Condition{
			Column: "attr_exist", Op: backend.CondNotContains, Value: "publisher"}))
		assert.False(t, update(backend.Condition{
			Column: "attr_exist", Op: backend.CondNotContains, Value: "genre"}))
	})

	t.Run("map delete and set remove", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Update{
			Keyspace:  "user_acme",
			Table:     "user_books",
			Key:       key,
			MapDelete: map[string][]string{"extra_attr_data": {"genre"}, "extra_attr_types": {"genre"}},
			SetRemove: map[string][]string{"attr_exist": {"genre"}},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.True(t, res.Applied)

		sel, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
			Where: []backend.Where{
				{Column: "user_author", Op: backend.OpEq, Value: model.String("melville")},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		require.Len(t, sel.Rows, 1)
		bm, _ := sel.Rows[0]["extra_attr_data"].(backend.BlobMap)
		assert.Empty(t, bm)
		ts, _ := sel.Rows[0]["attr_exist"].(backend.TextSet)
		assert.False(t, ts.Contains("genre"))
	})
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)
	insertBook(t, s, "melville", "moby dick", 1851)

	key := backend.Row{
		"user_author": model.String("melville"),
		"user_title":  model.String("moby dick"),
	}

	t.Run("condition fails", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Delete{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key:      key,
			Conditions: []backend.Condition{
				{Column: "user_year", Op: backend.CondEq, Value: model.NumberFromInt(1800)},
			},
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.False(t, res.Applied)
		require.Len(t, res.Rows, 1)
	})

	t.Run("unconditional delete", func(t *testing.T) {
		res, err := s.Execute(context.Background(), backend.Delete{
			Keyspace: "user_acme",
			Table:    "user_books",
			Key:      key,
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.True(t, res.Applied)

		sel, err := s.Execute(context.Background(), backend.Select{
			Keyspace: "user_acme",
			Table:    "user_books",
		}, backend.ExecOptions{})
		require.NoError(t, err)
		assert.Empty(t, sel.Rows)
	})
}

func TestDropTable(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)
	insertBook(t, s, "melville", "moby dick", 1851)

	var events []backend.SchemaEvent
	s.SubscribeSchemaEvents(func(ev backend.SchemaEvent) {
		events = append(events, ev)
	})

	res, err := s.Execute(context.Background(), backend.DropTable{
		Keyspace: "user_acme",
		Table:    "user_books",
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.True(t, res.Applied)

	_, err = s.Execute(context.Background(), backend.Select{
		Keyspace: "user_acme",
		Table:    "user_books",
	}, backend.ExecOptions{})
	require.Error(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, backend.SchemaDropped, events[0].Change)
	assert.Equal(t, "user_books", events[0].Table)
}

func TestPartitionPrefixIsolation(t *testing.T) {
	s := newTestStore(t)
	createBooksTable(t, s)

	// "ab" must not match rows of the longer partition "abc".
	insertBook(t, s, "ab", "one", 1)
	insertBook(t, s, "abc", "two", 2)

	res, err := s.Execute(context.Background(), backend.Select{
		Keyspace: "user_acme",
		Table:    "user_books",
		Where: []backend.Where{
			{Column: "user_author", Op: backend.OpEq, Value: model.String("ab")},
		},
	}, backend.ExecOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, model.String("one"), res.Rows[0]["user_title"])
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Execute(context.Background(), backend.Select{
		Keyspace: "user_acme",
		Table:    "user_books",
	}, backend.ExecOptions{})
	assert.ErrorIs(t, err, backend.ErrUnavailable)
}
