package badgercf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
)

// runWrite retries a transaction on commit conflicts so that concurrent
// CAS statements on the same row serialize instead of failing. The closure
// must fully reinitialize its outputs on every attempt.
func (s *Store) runWrite(fn func(txn *badger.Txn) error) error {
	for {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

func (s *Store) createTable(st backend.CreateTable) (*backend.Result, error) {
	s.mu.Lock()
	tables, ok := s.keyspaces[st.Keyspace]
	if !ok {
		tables = make(map[string]*tableDef)
		s.keyspaces[st.Keyspace] = tables
	}
	if _, exists := tables[st.Table]; exists {
		s.mu.Unlock()
		if st.IfNotExists {
			return &backend.Result{Applied: false}, nil
		}
		return nil, fmt.Errorf("table %q.%q already exists", st.Keyspace, st.Table)
	}
	def := &tableDef{
		Columns:        st.Columns,
		PartitionKey:   st.PartitionKey,
		ClusteringKeys: st.ClusteringKeys,
		IndexedColumns: st.IndexedColumns,
	}
	tables[st.Table] = def
	s.mu.Unlock()

	data, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(st.Keyspace, st.Table), data)
	})
	if err != nil {
		return nil, fmt.Errorf("persist table definition: %w", err)
	}

	s.emitSchemaEvent(backend.SchemaEvent{
		Change:   backend.SchemaCreated,
		Keyspace: st.Keyspace,
		Table:    st.Table,
	})
	return &backend.Result{Applied: true}, nil
}

func (s *Store) dropTable(st backend.DropTable) (*backend.Result, error) {
	s.mu.Lock()
	tables, ok := s.keyspaces[st.Keyspace]
	if ok {
		_, ok = tables[st.Table]
	}
	if !ok {
		s.mu.Unlock()
		if st.IfExists {
			return &backend.Result{}, nil
		}
		return nil, fmt.Errorf("table %q.%q does not exist", st.Keyspace, st.Table)
	}
	delete(tables, st.Table)
	s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(st.Keyspace, st.Table)); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tablePrefix(st.Keyspace, st.Table)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(opts.Prefix); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drop table data: %w", err)
	}

	s.emitSchemaEvent(backend.SchemaEvent{
		Change:   backend.SchemaDropped,
		Keyspace: st.Keyspace,
		Table:    st.Table,
	})
	return &backend.Result{Applied: true}, nil
}

func (s *Store) insert(st backend.Insert) (*backend.Result, error) {
	def, err := s.tableDef(st.Keyspace, st.Table)
	if err != nil {
		return nil, err
	}
	hash, clustering, err := keyColumns(def, st.Row)
	if err != nil {
		return nil, err
	}
	key, err := rowKey(st.Keyspace, st.Table, hash, clustering)
	if err != nil {
		return nil, err
	}
	data, err := encodeRow(st.Row)
	if err != nil {
		return nil, err
	}

	res := &backend.Result{}
	err = s.runWrite(func(txn *badger.Txn) error {
		*res = backend.Result{Applied: true}
		if st.IfNotExists {
			item, err := txn.Get(key)
			if err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			if err == nil {
				var existing backend.Row
				if err := item.Value(func(val []byte) error {
					existing, err = decodeRow(val)
					return err
				}); err != nil {
					return err
				}
				res.Applied = false
				res.Rows = []backend.Row{existing}
				return nil
			}
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) update(st backend.Update) (*backend.Result, error) {
	def, err := s.tableDef(st.Keyspace, st.Table)
	if err != nil {
		return nil, err
	}
	hash, clustering, err := keyColumns(def, st.Key)
	if err != nil {
		return nil, err
	}
	key, err := rowKey(st.Keyspace, st.Table, hash, clustering)
	if err != nil {
		return nil, err
	}

	res := &backend.Result{}
	err = s.runWrite(func(txn *badger.Txn) error {
		*res = backend.Result{Applied: true}
		var existing backend.Row
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			if err := item.Value(func(val []byte) error {
				existing, err = decodeRow(val)
				return err
			}); err != nil {
				return err
			}
		}

		if len(st.Conditions) > 0 {
			if existing == nil {
				res.Applied = false
				return nil
			}
			for _, cond := range st.Conditions {
				if !condHolds(existing, cond) {
					res.Applied = false
					res.Rows = []backend.Row{existing}
					return nil
				}
			}
		}

		row := existing
		if row == nil {
			// Unconditional update of a missing row is an upsert.
			row = make(backend.Row, len(st.Key)+len(st.Set))
			for col, val := range st.Key {
				row[col] = val
			}
		}
		applyMutations(row, st)

		data, err := encodeRow(row)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) delete(st backend.Delete) (*backend.Result, error) {
	def, err := s.tableDef(st.Keyspace, st.Table)
	if err != nil {
		return nil, err
	}
	hash, clustering, err := keyColumns(def, st.Key)
	if err != nil {
		return nil, err
	}
	key, err := rowKey(st.Keyspace, st.Table, hash, clustering)
	if err != nil {
		return nil, err
	}

	res := &backend.Result{}
	err = s.runWrite(func(txn *badger.Txn) error {
		*res = backend.Result{Applied: true}
		var existing backend.Row
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			if err := item.Value(func(val []byte) error {
				existing, err = decodeRow(val)
				return err
			}); err != nil {
				return err
			}
		}

		if len(st.Conditions) > 0 {
			if existing == nil {
				res.Applied = false
				return nil
			}
			for _, cond := range st.Conditions {
				if !condHolds(existing, cond) {
					res.Applied = false
					res.Rows = []backend.Row{existing}
					return nil
				}
			}
		}
		if existing == nil {
			return nil
		}
		return txn.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) selectRows(st backend.Select) (*backend.Result, error) {
	def, err := s.tableDef(st.Keyspace, st.Table)
	if err != nil {
		return nil, err
	}

	prefix := tablePrefix(st.Keyspace, st.Table)
	for _, w := range st.Where {
		if w.Column == def.PartitionKey && w.Op == backend.OpEq {
			prefix, err = partitionPrefix(st.Keyspace, st.Table, w.Value)
			if err != nil {
				return nil, err
			}
			break
		}
	}

	var rows []backend.Row
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.Valid(); it.Next() {
			var row backend.Row
			if err := it.Item().Value(func(val []byte) error {
				var err error
				row, err = decodeRow(val)
				return err
			}); err != nil {
				return err
			}
			if rowMatches(row, st.Where) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRows(rows, def, st)

	if st.Limit > 0 && len(rows) > st.Limit {
		rows = rows[:st.Limit]
	}

	if st.CountOnly {
		return &backend.Result{Applied: true, Count: len(rows)}, nil
	}
	if st.Columns != nil {
		projected := make([]backend.Row, len(rows))
		for i, row := range rows {
			p := make(backend.Row, len(st.Columns))
			for _, col := range st.Columns {
				if v, ok := row[col]; ok {
					p[col] = v
				}
			}
			projected[i] = p
		}
		rows = projected
	}
	return &backend.Result{Applied: true, Rows: rows, Count: len(rows)}, nil
}

func rowMatches(row backend.Row, where []backend.Where) bool {
	for _, w := range where {
		attr, ok := row[w.Column].(model.AttributeValue)
		if !ok {
			return false
		}
		cmp, ok := attr.Compare(w.Value)
		if !ok {
			return false
		}
		switch w.Op {
		case backend.OpEq:
			if cmp != 0 {
				return false
			}
		case backend.OpLt:
			if cmp >= 0 {
				return false
			}
		case backend.OpLe:
			if cmp > 0 {
				return false
			}
		case backend.OpGt:
			if cmp <= 0 {
				return false
			}
		case backend.OpGe:
			if cmp < 0 {
				return false
			}
		}
	}
	return true
}

// sortRows orders results by partition key, then by the requested order
// column (or the clustering keys). Descending flips the intra-partition
// ordering only, matching how the backend's ORDER BY behaves.
func sortRows(rows []backend.Row, def *tableDef, st backend.Select) {
	orderCols := def.ClusteringKeys
	if st.OrderBy != "" {
		// Clustering keys break ties between equal OrderBy values so that
		// pagination across an alternate ordering stays deterministic.
		orderCols = append([]string{st.OrderBy}, def.ClusteringKeys...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if cmp := compareColumn(rows[i], rows[j], def.PartitionKey); cmp != 0 {
			return cmp < 0
		}
		for _, col := range orderCols {
			cmp := compareColumn(rows[i], rows[j], col)
			if st.Descending {
				cmp = -cmp
			}
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
}

func compareColumn(a, b backend.Row, col string) int {
	av, aok := a[col].(model.AttributeValue)
	bv, bok := b[col].(model.AttributeValue)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if cmp, ok := av.Compare(bv); ok {
		return cmp
	}
	return 0
}

func condHolds(row backend.Row, c backend.Condition) bool {
	val, present := row[c.Column]
	if present && val == nil {
		present = false
	}

	if c.MapKey != "" {
		var entry any
		var entryPresent bool
		switch m := val.(type) {
		case backend.BlobMap:
			var e []byte
			e, entryPresent = m[c.MapKey]
			entry = e
		case backend.TextMap:
			var e string
			e, entryPresent = m[c.MapKey]
			entry = e
		}
		switch c.Op {
		case backend.CondNull:
			return !entryPresent
		case backend.CondNotNull:
			return entryPresent
		default:
			return entryPresent && valuesEqual(entry, c.Value)
		}
	}

	switch c.Op {
	case backend.CondNull:
		return !present
	case backend.CondNotNull:
		return present
	case backend.CondContains, backend.CondNotContains:
		elem, ok := c.Value.(string)
		if !ok {
			return false
		}
		set, _ := val.(backend.TextSet)
		contains := present && set.Contains(elem)
		if c.Op == backend.CondContains {
			return contains
		}
		return !contains
	default:
		return present && valuesEqual(val, c.Value)
	}
}

func valuesEqual(a any, b backend.Value) bool {
	switch av := a.(type) {
	case model.AttributeValue:
		bv, ok := b.(model.AttributeValue)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case backend.TextSet:
		bv, ok := b.(backend.TextSet)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	}
	return false
}

func applyMutations(row backend.Row, st backend.Update) {
	for col, val := range st.Set {
		if val == nil {
			delete(row, col)
			continue
		}
		row[col] = val
	}
	for col, entries := range st.MapPut {
		m, _ := row[col].(backend.BlobMap)
		if m == nil {
			m = make(backend.BlobMap, len(entries))
		}
		for k, v := range entries {
			m[k] = v
		}
		row[col] = m
	}
	for col, entries := range st.MapPutText {
		m, _ := row[col].(backend.TextMap)
		if m == nil {
			m = make(backend.TextMap, len(entries))
		}
		for k, v := range entries {
			m[k] = v
		}
		row[col] = m
	}
	for col, keys := range st.MapDelete {
		switch m := row[col].(type) {
		case backend.BlobMap:
			for _, k := range keys {
				delete(m, k)
			}
		case backend.TextMap:
			for _, k := range keys {
				delete(m, k)
			}
		}
	}
	for col, elems := range st.SetAdd {
		set, _ := row[col].(backend.TextSet)
		for _, e := range elems {
			if !set.Contains(e) {
				set = append(set, e)
			}
		}
		sort.Strings(set)
		row[col] = set
	}
	for col, elems := range st.SetRemove {
		set, ok := row[col].(backend.TextSet)
		if !ok {
			continue
		}
		filtered := set[:0:0]
		for _, e := range set {
			remove := false
			for _, r := range elems {
				if e == r {
					remove = true
					break
				}
			}
			if !remove {
				filtered = append(filtered, e)
			}
		}
		row[col] = filtered
	}
}
