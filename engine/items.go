package engine

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
	"github.com/quellcloud/tessera/tableinfo"
)

// PutItem stores an item, replacing any existing one with the same key.
// The expected conditions (or ifNotExist) are checked atomically with the
// write; a failed check is reported as applied=false, not an error.
func (e *Engine) PutItem(ctx context.Context, tenant, table string, item model.Item,
	expected model.ConditionMap, ifNotExist bool) (bool, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return false, err
	}
	if ifNotExist && len(expected) > 0 {
		return false, validationf("if_not_exist cannot be combined with expected conditions")
	}
	if err := validateKey(info.Schema, item); err != nil {
		return false, err
	}

	indexed := len(info.Schema.IndexAttributes()) > 0
	if !indexed {
		return e.putPlain(ctx, info, item, expected, ifNotExist)
	}
	return e.putIndexed(ctx, info, item, expected, ifNotExist)
}

// putPlain handles tables without secondary indexes: one statement, no
// retry loop.
func (e *Engine) putPlain(ctx context.Context, info *tableinfo.TableInfo, item model.Item,
	expected model.ConditionMap, ifNotExist bool) (bool, error) {

	if ifNotExist || keyNotExistsOnly(info.Schema, expected) {
		st, err := buildPut(info, item, true)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "put item", st)
		if err != nil {
			return false, err
		}
		return res.Applied, nil
	}
	if len(expected) == 0 {
		st, err := buildPut(info, item, false)
		if err != nil {
			return false, err
		}
		if _, err := e.execute(ctx, "put item", st); err != nil {
			return false, err
		}
		return true, nil
	}

	for {
		st, err := buildConditionalPut(info, item, expected, nil)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "put item", st)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		if len(res.Rows) > 0 {
			// A row exists and the expected conditions did not hold.
			return false, nil
		}
		// No row to check the conditions against.
		if !expectedAllowsMissing(expected) {
			return false, nil
		}
		ins, err := buildPut(info, item, true)
		if err != nil {
			return false, err
		}
		res, err = e.execute(ctx, "put item", ins)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		// A writer created the row after the conditional attempt; try the
		// conditional path again.
		if err := e.pause(ctx); err != nil {
			return false, err
		}
	}
}

// putIndexed runs the index consistency loop: read the current index
// attribute values, write conditioned on them being unchanged, retry when
// a concurrent writer moved them.
func (e *Engine) putIndexed(ctx context.Context, info *tableinfo.TableInfo, item model.Item,
	expected model.ConditionMap, ifNotExist bool) (bool, error) {

	for {
		oldIndex, found, err := e.readIndexValues(ctx, info, item)
		if err != nil {
			return false, err
		}
		if !found {
			if !ifNotExist && !expectedAllowsMissing(expected) {
				return false, nil
			}
			st, err := buildPut(info, item, true)
			if err != nil {
				return false, err
			}
			res, err := e.execute(ctx, "put item", st)
			if err != nil {
				return false, err
			}
			if res.Applied {
				return true, nil
			}
			// Lost the creation race; re-read and go the conditional way.
			if err := e.pause(ctx); err != nil {
				return false, err
			}
			continue
		}
		if ifNotExist {
			return false, nil
		}

		st, err := buildConditionalPut(info, item, expected, oldIndex)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "put item", st)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		retry, err := e.shouldRetry(ctx, info.Schema, oldIndex, res)
		if err != nil || !retry {
			return false, err
		}
	}
}

// DeleteItem removes an item. Deleting an absent item succeeds unless an
// expected condition requires its presence.
func (e *Engine) DeleteItem(ctx context.Context, tenant, table string, key model.Item,
	expected model.ConditionMap) (bool, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return false, err
	}
	if err := validateKey(info.Schema, key); err != nil {
		return false, err
	}

	indexed := len(info.Schema.IndexAttributes()) > 0
	if !indexed {
		st, err := buildDelete(info, key, expected, nil)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "delete item", st)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		if len(res.Rows) == 0 {
			// Nothing to delete; the outcome is decided by whether the
			// conditions accept an absent row.
			return expectedAllowsMissing(expected), nil
		}
		return false, nil
	}

	for {
		oldIndex, found, err := e.readIndexValues(ctx, info, key)
		if err != nil {
			return false, err
		}
		if !found {
			return expectedAllowsMissing(expected), nil
		}
		st, err := buildDelete(info, key, expected, oldIndex)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "delete item", st)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		retry, err := e.shouldRetry(ctx, info.Schema, oldIndex, res)
		if err != nil || !retry {
			return false, err
		}
	}
}

// UpdateItem applies per-attribute actions to an item, creating it when
// absent. ADD actions accumulate against a consistent read of the current
// item taken at the top of each round.
func (e *Engine) UpdateItem(ctx context.Context, tenant, table string, key model.Item,
	actions map[string]model.UpdateAction, expected model.ConditionMap) (bool, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return false, err
	}
	if err := validateKey(info.Schema, key); err != nil {
		return false, err
	}
	for _, attr := range info.Schema.KeyAttributes {
		if _, ok := actions[attr]; ok {
			return false, validationf("key attribute %q cannot be updated", attr)
		}
	}

	indexed := len(info.Schema.IndexAttributes()) > 0
	for {
		current, found, err := e.readItem(ctx, info, key)
		if err != nil {
			return false, err
		}
		newValues, err := materializeActions(actions, current)
		if err != nil {
			return false, err
		}

		if !found {
			if !expectedAllowsMissing(expected) {
				return false, nil
			}
			item := make(model.Item, len(key)+len(newValues))
			for name, v := range key {
				item[name] = v
			}
			for name, v := range newValues {
				if v != nil {
					item[name] = *v
				}
			}
			st, err := buildPut(info, item, true)
			if err != nil {
				return false, err
			}
			res, err := e.execute(ctx, "update item", st)
			if err != nil {
				return false, err
			}
			if res.Applied {
				return true, nil
			}
			if err := e.pause(ctx); err != nil {
				return false, err
			}
			continue
		}

		var oldIndex map[string]*model.AttributeValue
		if indexed {
			oldIndex = indexValuesFromItem(info.Schema, current)
		}
		st, err := buildUpdate(info, key, newValues, expected, oldIndex)
		if err != nil {
			return false, err
		}
		res, err := e.execute(ctx, "update item", st)
		if err != nil {
			return false, err
		}
		if res.Applied {
			return true, nil
		}
		if !indexed {
			return false, nil
		}
		retry, err := e.shouldRetry(ctx, info.Schema, oldIndex, res)
		if err != nil || !retry {
			return false, err
		}
	}
}

// shouldRetry inspects the snapshot returned by a failed CAS. A changed
// index attribute means a writer raced the loop and the round must be
// retried; otherwise the caller's own conditions failed and the result is
// final.
func (e *Engine) shouldRetry(ctx context.Context, schema model.TableSchema,
	oldIndex map[string]*model.AttributeValue, res *backend.Result) (bool, error) {

	if len(res.Rows) == 0 {
		// The row vanished between the read and the write.
		glog.V(1).Info("row removed during index consistency round, retrying")
		return true, e.pause(ctx)
	}
	snapshot := res.Rows[0]
	for _, attr := range schema.IndexAttributes() {
		old := oldIndex[attr]
		cur, ok := snapshot[userColumn(attr)].(model.AttributeValue)
		if ok == (old == nil) {
			// Present where it was absent, or the other way around.
			return true, e.pause(ctx)
		}
		if old != nil && !old.Equal(cur) {
			return true, e.pause(ctx)
		}
	}
	return false, nil
}

func (e *Engine) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.cfg.RetryBackoff):
		return nil
	}
}

// readIndexValues performs the consistent read of the index alternate
// range columns that seeds a loop round. found=false means no row.
func (e *Engine) readIndexValues(ctx context.Context, info *tableinfo.TableInfo,
	key model.Item) (map[string]*model.AttributeValue, bool, error) {

	st, err := buildReadIndexValues(info, key)
	if err != nil {
		return nil, false, err
	}
	res, err := e.execute(ctx, "read index values", st)
	if err != nil {
		return nil, false, err
	}
	if len(res.Rows) == 0 {
		return nil, false, nil
	}
	row := res.Rows[0]
	values := make(map[string]*model.AttributeValue)
	for _, attr := range info.Schema.IndexAttributes() {
		if v, ok := row[userColumn(attr)].(model.AttributeValue); ok {
			values[attr] = &v
		} else {
			values[attr] = nil
		}
	}
	return values, true, nil
}

// readItem fetches the full current item behind a key with a consistent
// read.
func (e *Engine) readItem(ctx context.Context, info *tableinfo.TableInfo,
	key model.Item) (model.Item, bool, error) {

	physKey, err := keyRow(info.Schema, key)
	if err != nil {
		return nil, false, err
	}
	st := backend.Select{
		Keyspace: keyspaceName(info.Tenant),
		Table:    physicalName(info.Name),
		Limit:    1,
	}
	for col, v := range physKey {
		st.Where = append(st.Where, backend.Where{
			Column: col, Op: backend.OpEq, Value: v.(model.AttributeValue),
		})
	}
	res, err := e.execute(ctx, "read item", st)
	if err != nil {
		return nil, false, err
	}
	if len(res.Rows) == 0 {
		return nil, false, nil
	}
	item, err := decodeItem(info.Schema, res.Rows[0])
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (e *Engine) execute(ctx context.Context, op string, st backend.Statement) (*backend.Result, error) {
	res, err := e.exec.Execute(ctx, st, backend.ExecOptions{Consistent: true})
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	return res, nil
}

func materializeActions(actions map[string]model.UpdateAction,
	current model.Item) (map[string]*model.AttributeValue, error) {

	out := make(map[string]*model.AttributeValue, len(actions))
	for name, action := range actions {
		var cur *model.AttributeValue
		if v, ok := current[name]; ok {
			cur = &v
		}
		nv, err := action.Apply(cur)
		if err != nil {
			return nil, &ValidationError{Message: err.Error()}
		}
		out[name] = nv
	}
	return out, nil
}

func indexValuesFromItem(schema model.TableSchema, item model.Item) map[string]*model.AttributeValue {
	values := make(map[string]*model.AttributeValue)
	for _, attr := range schema.IndexAttributes() {
		if v, ok := item[attr]; ok {
			values[attr] = &v
		} else {
			values[attr] = nil
		}
	}
	return values
}

func validateKey(schema model.TableSchema, item model.Item) error {
	for _, attr := range schema.KeyAttributes {
		v, ok := item[attr]
		if !ok {
			return validationf("missing key attribute %q", attr)
		}
		if v.Type != schema.AttributeTypes[attr] {
			return validationf("key attribute %q has type %s, schema declares %s",
				attr, v.Type.Tag(), schema.AttributeTypes[attr].Tag())
		}
	}
	return nil
}

// keyNotExistsOnly reports whether the expected conditions are exactly
// "this key is absent", which maps onto an if-not-exists insert instead of
// a CAS that cannot see missing rows.
func keyNotExistsOnly(schema model.TableSchema, expected model.ConditionMap) bool {
	if len(expected) == 0 {
		return false
	}
	for attr, conds := range expected {
		if !isKeyAttr(schema, attr) {
			return false
		}
		for _, c := range conds {
			if c.Type != model.ConditionExists || c.Exists {
				return false
			}
		}
	}
	return true
}

func isKeyAttr(schema model.TableSchema, attr string) bool {
	for _, k := range schema.KeyAttributes {
		if k == attr {
			return true
		}
	}
	return false
}

// expectedAllowsMissing reports whether every expected condition accepts
// an absent row.
func expectedAllowsMissing(expected model.ConditionMap) bool {
	for _, conds := range expected {
		for _, c := range conds {
			if !c.Matches(nil) {
				return false
			}
		}
	}
	return true
}
