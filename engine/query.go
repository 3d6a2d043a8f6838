package engine

import (
	"context"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
)

// SelectItem runs a query: indexed conditions on the hash key plus at most
// one sort attribute (the range key, or an index's alternate range
// attribute when indexName is set). A page truncated at limit carries a
// LastEvaluatedKey for the next call's exclusiveStartKey.
func (e *Engine) SelectItem(ctx context.Context, tenant, table string,
	conditions model.ConditionMap, selectType model.SelectType, indexName string,
	limit int, exclusiveStartKey model.Item, consistent bool, order model.OrderType) (*model.SelectResult, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return nil, err
	}
	schema := info.Schema

	sortAttr := schema.RangeKey()
	var indexDef model.IndexDefinition
	if indexName != "" {
		def, ok := schema.Indexes[indexName]
		if !ok {
			return nil, validationf("table %s/%s has no index %q", tenant, table, indexName)
		}
		indexDef = def
		sortAttr = def.AltRangeAttribute
	}
	if err := validateQueryConditions(schema, conditions, sortAttr); err != nil {
		return nil, err
	}

	passes := []model.ConditionMap{cloneConditions(conditions)}
	if len(exclusiveStartKey) > 0 {
		if sortAttr == "" {
			// A hash-only table has one row per key; a cursor means the
			// single possible row was already returned.
			return &model.SelectResult{}, nil
		}
		cursor, ok := exclusiveStartKey[sortAttr]
		if !ok {
			return nil, validationf("exclusive start key misses sort attribute %q", sortAttr)
		}
		if indexName == "" {
			if order == model.OrderDesc {
				passes[0][sortAttr] = append(passes[0][sortAttr], model.LT(cursor))
			} else {
				passes[0][sortAttr] = append(passes[0][sortAttr], model.GT(cursor))
			}
		} else {
			// An index value is not unique within the partition, so a
			// strict bound on it alone would drop the cursor value's
			// remaining rows. Finish the cursor's index value ordered by
			// the range key, then move strictly past it.
			rangeAttr := schema.RangeKey()
			rangeCursor, ok := exclusiveStartKey[rangeAttr]
			if !ok {
				return nil, validationf("exclusive start key misses range key %q", rangeAttr)
			}
			rest := cloneConditions(conditions)
			passes[0][sortAttr] = append(passes[0][sortAttr], model.EQ(cursor))
			if order == model.OrderDesc {
				passes[0][rangeAttr] = append(passes[0][rangeAttr], model.LT(rangeCursor))
				rest[sortAttr] = append(rest[sortAttr], model.LT(cursor))
			} else {
				passes[0][rangeAttr] = append(passes[0][rangeAttr], model.GT(rangeCursor))
				rest[sortAttr] = append(rest[sortAttr], model.GT(cursor))
			}
			passes = append(passes, rest)
		}
	}

	countOnly := selectType.Kind == model.SelectCount
	orderAttr := ""
	if indexName != "" || order == model.OrderDesc {
		orderAttr = sortAttr
	}

	count := 0
	var items []model.Item
	for _, pass := range passes {
		compacted, ok := compactAll(pass)
		if !ok {
			continue
		}
		fetchLimit := limit
		if limit > 0 {
			fetchLimit = limit - len(items)
		}
		st, err := buildSelect(info, compacted, countOnly, fetchLimit, orderAttr, order == model.OrderDesc)
		if err != nil {
			return nil, err
		}
		res, err := e.executeRead(ctx, "select", st, consistent)
		if err != nil {
			return nil, err
		}
		if countOnly {
			count += res.Count
			continue
		}
		for _, row := range res.Rows {
			item, err := decodeItem(schema, row)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	if countOnly {
		return &model.SelectResult{Count: count}, nil
	}

	result := &model.SelectResult{Count: len(items)}
	if limit > 0 && len(items) == limit {
		result.LastEvaluatedKey = cursorKey(schema, indexName != "", sortAttr, items[len(items)-1])
	}
	result.Items = projectForSelect(schema, selectType, indexName != "", indexDef, items)
	return result, nil
}

// GetItem fetches one item by key. found=false when the key has no item.
func (e *Engine) GetItem(ctx context.Context, tenant, table string, key model.Item,
	attributesToGet []string, consistent bool) (model.Item, bool, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return nil, false, err
	}
	if err := validateKey(info.Schema, key); err != nil {
		return nil, false, err
	}
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
	res, err := e.executeRead(ctx, "get item", st, consistent)
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
	if len(attributesToGet) > 0 {
		item = projectItem(item, attributesToGet)
	}
	return item, true, nil
}

// Scan walks the whole table, pushing indexable key conditions down to the
// backend and evaluating everything else per row in memory. The limit
// bounds rows examined, not rows returned.
func (e *Engine) Scan(ctx context.Context, tenant, table string,
	conditionMap model.ConditionMap, attributesToGet []string,
	limit int, exclusiveStartKey model.Item, consistent bool) (*model.ScanResult, error) {

	info, err := e.loadActive(ctx, tenant, table)
	if err != nil {
		return nil, err
	}
	schema := info.Schema

	// Only key conditions the backend can compare are pushed down; they
	// are still re-checked client side with the rest.
	push := make(model.ConditionMap)
	for attr, conds := range conditionMap {
		if !isKeyAttr(schema, attr) {
			continue
		}
		indexable := true
		for _, c := range conds {
			if !indexable || !c.Indexable() {
				indexable = false
			}
		}
		if indexable {
			push[attr] = conds
		}
	}

	fetch := func(extra model.ConditionMap, fetchLimit int) ([]model.Item, error) {
		merged := cloneConditions(push)
		for attr, conds := range extra {
			merged[attr] = append(merged[attr], conds...)
		}
		compacted, ok := compactAll(merged)
		if !ok {
			return nil, nil
		}
		st, err := buildSelect(info, compacted, false, fetchLimit, "", false)
		if err != nil {
			return nil, err
		}
		res, err := e.executeRead(ctx, "scan", st, consistent)
		if err != nil {
			return nil, err
		}
		items := make([]model.Item, 0, len(res.Rows))
		for _, row := range res.Rows {
			item, err := decodeItem(schema, row)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	hashKey := schema.HashKey()
	rangeKey := schema.RangeKey()
	var scanned []model.Item

	// Resuming inside a partition takes two passes: the rest of the
	// partition, then the partitions after it.
	startHash, hasStart := exclusiveStartKey[hashKey]
	startRange, hasStartRange := exclusiveStartKey[rangeKey]
	if hasStart && rangeKey != "" && hasStartRange {
		first, err := fetch(model.ConditionMap{
			hashKey:  {model.EQ(startHash)},
			rangeKey: {model.GT(startRange)},
		}, limit)
		if err != nil {
			return nil, err
		}
		scanned = append(scanned, first...)
		if limit <= 0 || len(scanned) < limit {
			remaining := 0
			if limit > 0 {
				remaining = limit - len(scanned)
			}
			second, err := fetch(model.ConditionMap{
				hashKey: {model.GT(startHash)},
			}, remaining)
			if err != nil {
				return nil, err
			}
			scanned = append(scanned, second...)
		}
	} else if hasStart {
		items, err := fetch(model.ConditionMap{hashKey: {model.GT(startHash)}}, limit)
		if err != nil {
			return nil, err
		}
		scanned = items
	} else {
		items, err := fetch(nil, limit)
		if err != nil {
			return nil, err
		}
		scanned = items
	}

	result := &model.ScanResult{ScannedCount: len(scanned)}
	for _, item := range scanned {
		if !conditionMap.MatchesAll(item) {
			continue
		}
		if len(attributesToGet) > 0 {
			item = projectItem(item, attributesToGet)
		}
		result.Items = append(result.Items, item)
	}
	result.Count = len(result.Items)
	if limit > 0 && len(scanned) == limit {
		result.LastEvaluatedKey = cursorKey(schema, false, "", scanned[len(scanned)-1])
	}
	return result, nil
}

func (e *Engine) executeRead(ctx context.Context, op string, st backend.Select, consistent bool) (*backend.Result, error) {
	res, err := e.exec.Execute(ctx, st, backend.ExecOptions{Consistent: consistent})
	if err != nil {
		return nil, &BackendError{Op: op, Err: err}
	}
	return res, nil
}

// validateQueryConditions restricts query conditions to the hash key and
// the active sort attribute, indexable variants only, with the hash bound
// by equality.
func validateQueryConditions(schema model.TableSchema, conditions model.ConditionMap, sortAttr string) error {
	hashKey := schema.HashKey()
	hashConds, ok := conditions[hashKey]
	if !ok {
		return validationf("query requires a condition on the hash key %q", hashKey)
	}
	for attr, conds := range conditions {
		if attr != hashKey && attr != sortAttr {
			return validationf("attribute %q is not queryable, conditions may cover %q and %q",
				attr, hashKey, sortAttr)
		}
		for _, c := range conds {
			if !c.Indexable() {
				return validationf("condition %s on %q cannot be used in a query", c.Type, attr)
			}
		}
	}
	hasEQ := false
	for _, c := range hashConds {
		if c.Type == model.ConditionEQ {
			hasEQ = true
		}
	}
	if !hasEQ {
		return validationf("the hash key %q must be bound by equality", hashKey)
	}
	return nil
}

// cursorKey builds a LastEvaluatedKey from the last returned item: the key
// attributes plus, for index queries, the index sort attribute.
func cursorKey(schema model.TableSchema, indexQuery bool, sortAttr string, item model.Item) model.Item {
	key := make(model.Item, len(schema.KeyAttributes)+1)
	for _, attr := range schema.KeyAttributes {
		if v, ok := item[attr]; ok {
			key[attr] = v
		}
	}
	if indexQuery {
		if v, ok := item[sortAttr]; ok {
			key[sortAttr] = v
		}
	}
	return key
}

func projectForSelect(schema model.TableSchema, selectType model.SelectType,
	indexQuery bool, indexDef model.IndexDefinition, items []model.Item) []model.Item {

	switch selectType.Kind {
	case model.SelectSpecific:
		out := make([]model.Item, len(items))
		for i, item := range items {
			out[i] = projectItem(item, selectType.Attributes)
		}
		return out
	case model.SelectAllProjected:
		if !indexQuery || len(indexDef.ProjectedAttrs) == 0 {
			return items
		}
		allowed := append([]string(nil), schema.KeyAttributes...)
		allowed = append(allowed, indexDef.AltRangeAttribute)
		allowed = append(allowed, indexDef.ProjectedAttrs...)
		out := make([]model.Item, len(items))
		for i, item := range items {
			out[i] = projectItem(item, allowed)
		}
		return out
	}
	return items
}

func projectItem(item model.Item, attrs []string) model.Item {
	out := make(model.Item, len(attrs))
	for _, attr := range attrs {
		if v, ok := item[attr]; ok {
			out[attr] = v
		}
	}
	return out
}
