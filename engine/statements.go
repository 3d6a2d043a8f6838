package engine

import (
	"fmt"

	"github.com/quellcloud/tessera/backend"
	"github.com/quellcloud/tessera/model"
	"github.com/quellcloud/tessera/tableinfo"
)

// Physical naming. Every tenant gets a keyspace and every logical table a
// column-family table, both carrying the user prefix so that system tables
// can never collide with user data.
const userPrefix = "user_"

func keyspaceName(tenant string) string { return userPrefix + tenant }
func physicalName(table string) string  { return userPrefix + table }
func userColumn(attr string) string     { return userPrefix + attr }

// Companion columns packing the dynamic (non-key, non-index) attributes.
// The column-family schema is fixed at creation time, so everything not
// declared up front travels in these three columns.
const (
	colAttrData  = "extra_attr_data"  // name -> encoded value
	colAttrTypes = "extra_attr_types" // name -> type tag
	colAttrExist = "attr_exist"       // set of present dynamic names
)

func columnType(t model.AttributeType) backend.ColumnType {
	switch t {
	case model.TypeString:
		return backend.ColText
	case model.TypeNumber:
		return backend.ColDecimal
	case model.TypeBinary:
		return backend.ColBlob
	case model.TypeStringSet:
		return backend.ColTextSet
	case model.TypeNumberSet:
		return backend.ColDecimalSet
	}
	return backend.ColBlobSet
}

// predefinedAttrs returns the attributes stored as dedicated physical
// columns: the key attributes followed by the index alternate range
// attributes.
func predefinedAttrs(schema model.TableSchema) []string {
	attrs := append([]string(nil), schema.KeyAttributes...)
	for _, a := range schema.IndexAttributes() {
		attrs = append(attrs, a)
	}
	return attrs
}

func isPredefined(schema model.TableSchema, attr string) bool {
	for _, a := range predefinedAttrs(schema) {
		if a == attr {
			return true
		}
	}
	return false
}

func buildCreateTable(info *tableinfo.TableInfo) backend.CreateTable {
	schema := info.Schema
	st := backend.CreateTable{
		Keyspace:     keyspaceName(info.Tenant),
		Table:        physicalName(info.Name),
		PartitionKey: userColumn(schema.HashKey()),
	}
	if rk := schema.RangeKey(); rk != "" {
		st.ClusteringKeys = []string{userColumn(rk)}
	}
	for _, attr := range predefinedAttrs(schema) {
		st.Columns = append(st.Columns, backend.ColumnDef{
			Name: userColumn(attr),
			Type: columnType(schema.AttributeTypes[attr]),
		})
	}
	for _, attr := range schema.IndexAttributes() {
		st.IndexedColumns = append(st.IndexedColumns, userColumn(attr))
	}
	st.Columns = append(st.Columns,
		backend.ColumnDef{Name: colAttrData, Type: backend.ColBlobMap},
		backend.ColumnDef{Name: colAttrTypes, Type: backend.ColTextMap},
		backend.ColumnDef{Name: colAttrExist, Type: backend.ColTextSet},
	)
	return st
}

// buildDropTable tolerates an absent physical table: a record stuck in
// CREATE_FAILED may never have had one.
func buildDropTable(info *tableinfo.TableInfo) backend.DropTable {
	return backend.DropTable{
		Keyspace: keyspaceName(info.Tenant),
		Table:    physicalName(info.Name),
		IfExists: true,
	}
}

// keyRow converts the key attributes of an item into physical key columns.
func keyRow(schema model.TableSchema, item model.Item) (backend.Row, error) {
	key := make(backend.Row, len(schema.KeyAttributes))
	for _, attr := range schema.KeyAttributes {
		v, ok := item[attr]
		if !ok {
			return nil, validationf("missing key attribute %q", attr)
		}
		if v.Type != schema.AttributeTypes[attr] {
			return nil, validationf("key attribute %q has type %s, schema declares %s",
				attr, v.Type.Tag(), schema.AttributeTypes[attr].Tag())
		}
		key[userColumn(attr)] = v
	}
	return key, nil
}

// encodeItem lays a full item out over the physical columns: predefined
// attributes into their typed columns, everything else into the three
// companion columns.
func encodeItem(schema model.TableSchema, item model.Item) (backend.Row, error) {
	row := make(backend.Row, len(item)+3)
	data := make(backend.BlobMap)
	types := make(backend.TextMap)
	var exist backend.TextSet

	for name, v := range item {
		if isPredefined(schema, name) {
			if v.Type != schema.AttributeTypes[name] {
				return nil, validationf("attribute %q has type %s, schema declares %s",
					name, v.Type.Tag(), schema.AttributeTypes[name].Tag())
			}
			row[userColumn(name)] = v
			continue
		}
		blob, err := v.EncodeDynamic()
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		data[name] = blob
		types[name] = v.Type.Tag()
		exist = append(exist, name)
	}
	// Index attributes the item does not carry stay unset.
	row[colAttrData] = data
	row[colAttrTypes] = types
	if len(exist) > 0 {
		row[colAttrExist] = exist
	}
	return row, nil
}

// decodeItem is the inverse of encodeItem.
func decodeItem(schema model.TableSchema, row backend.Row) (model.Item, error) {
	item := make(model.Item)
	for _, attr := range predefinedAttrs(schema) {
		if v, ok := row[userColumn(attr)].(model.AttributeValue); ok {
			item[attr] = v
		}
	}
	data, _ := row[colAttrData].(backend.BlobMap)
	types, _ := row[colAttrTypes].(backend.TextMap)
	for name, blob := range data {
		tag, ok := types[name]
		if !ok {
			return nil, fmt.Errorf("attribute %q has data but no type tag", name)
		}
		t, err := model.ParseAttributeType(tag)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		v, err := model.DecodeDynamic(t, blob)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", name, err)
		}
		item[name] = v
	}
	return item, nil
}

// buildPut produces the unconditional or if-not-exists put: a full row
// replacement.
func buildPut(info *tableinfo.TableInfo, item model.Item, ifNotExists bool) (backend.Insert, error) {
	row, err := encodeItem(info.Schema, item)
	if err != nil {
		return backend.Insert{}, err
	}
	return backend.Insert{
		Keyspace:    keyspaceName(info.Tenant),
		Table:       physicalName(info.Name),
		Row:         row,
		IfNotExists: ifNotExists,
	}, nil
}

// buildConditionalPut produces a put guarded by the caller's expected
// conditions and, for indexed tables, by the previously observed index
// attribute values. The whole row is rewritten.
func buildConditionalPut(info *tableinfo.TableInfo, item model.Item,
	expected model.ConditionMap, oldIndex map[string]*model.AttributeValue) (backend.Update, error) {

	schema := info.Schema
	key, err := keyRow(schema, item)
	if err != nil {
		return backend.Update{}, err
	}
	row, err := encodeItem(schema, item)
	if err != nil {
		return backend.Update{}, err
	}
	set := make(backend.Row, len(row))
	for col, v := range row {
		if _, isKey := key[col]; isKey {
			continue
		}
		set[col] = v
	}
	// Index attributes absent from the new item are cleared.
	for _, attr := range schema.IndexAttributes() {
		if _, ok := set[userColumn(attr)]; !ok {
			set[userColumn(attr)] = nil
		}
	}
	if _, ok := set[colAttrExist]; !ok {
		set[colAttrExist] = nil
	}

	conds, err := expectedConditions(schema, expected)
	if err != nil {
		return backend.Update{}, err
	}
	conds = append(conds, indexValueConditions(schema, oldIndex)...)

	return backend.Update{
		Keyspace:   keyspaceName(info.Tenant),
		Table:      physicalName(info.Name),
		Key:        key,
		Set:        set,
		Conditions: conds,
	}, nil
}

// buildUpdate produces an update statement from materialized new values
// (nil meaning the attribute is removed), guarded like buildConditionalPut.
func buildUpdate(info *tableinfo.TableInfo, key model.Item,
	newValues map[string]*model.AttributeValue,
	expected model.ConditionMap, oldIndex map[string]*model.AttributeValue) (backend.Update, error) {

	schema := info.Schema
	physKey, err := keyRow(schema, key)
	if err != nil {
		return backend.Update{}, err
	}

	st := backend.Update{
		Keyspace: keyspaceName(info.Tenant),
		Table:    physicalName(info.Name),
		Key:      physKey,
		Set:      make(backend.Row),
	}
	for name, v := range newValues {
		for _, keyAttr := range schema.KeyAttributes {
			if name == keyAttr {
				return backend.Update{}, validationf("key attribute %q cannot be updated", name)
			}
		}
		if isPredefined(schema, name) {
			if v == nil {
				st.Set[userColumn(name)] = nil
				continue
			}
			if v.Type != schema.AttributeTypes[name] {
				return backend.Update{}, validationf("attribute %q has type %s, schema declares %s",
					name, v.Type.Tag(), schema.AttributeTypes[name].Tag())
			}
			st.Set[userColumn(name)] = *v
			continue
		}
		if v == nil {
			if st.MapDelete == nil {
				st.MapDelete = make(map[string][]string)
				st.SetRemove = make(map[string][]string)
			}
			st.MapDelete[colAttrData] = append(st.MapDelete[colAttrData], name)
			st.MapDelete[colAttrTypes] = append(st.MapDelete[colAttrTypes], name)
			st.SetRemove[colAttrExist] = append(st.SetRemove[colAttrExist], name)
			continue
		}
		blob, err := v.EncodeDynamic()
		if err != nil {
			return backend.Update{}, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		if st.MapPut == nil {
			st.MapPut = map[string]backend.BlobMap{colAttrData: {}}
			st.MapPutText = map[string]backend.TextMap{colAttrTypes: {}}
			st.SetAdd = make(map[string][]string)
		}
		st.MapPut[colAttrData][name] = blob
		st.MapPutText[colAttrTypes][name] = v.Type.Tag()
		st.SetAdd[colAttrExist] = append(st.SetAdd[colAttrExist], name)
	}

	conds, err := expectedConditions(schema, expected)
	if err != nil {
		return backend.Update{}, err
	}
	st.Conditions = append(conds, indexValueConditions(schema, oldIndex)...)
	return st, nil
}

// buildDelete produces a delete guarded like buildConditionalPut.
func buildDelete(info *tableinfo.TableInfo, key model.Item,
	expected model.ConditionMap, oldIndex map[string]*model.AttributeValue) (backend.Delete, error) {

	physKey, err := keyRow(info.Schema, key)
	if err != nil {
		return backend.Delete{}, err
	}
	conds, err := expectedConditions(info.Schema, expected)
	if err != nil {
		return backend.Delete{}, err
	}
	conds = append(conds, indexValueConditions(info.Schema, oldIndex)...)
	return backend.Delete{
		Keyspace:   keyspaceName(info.Tenant),
		Table:      physicalName(info.Name),
		Key:        physKey,
		Conditions: conds,
	}, nil
}

// buildReadIndexValues produces the consistent single-row read of the
// index alternate range columns that seeds the retry loop.
func buildReadIndexValues(info *tableinfo.TableInfo, key model.Item) (backend.Select, error) {
	schema := info.Schema
	physKey, err := keyRow(schema, key)
	if err != nil {
		return backend.Select{}, err
	}
	st := backend.Select{
		Keyspace: keyspaceName(info.Tenant),
		Table:    physicalName(info.Name),
		Limit:    1,
	}
	for _, attr := range schema.IndexAttributes() {
		st.Columns = append(st.Columns, userColumn(attr))
	}
	for col, v := range physKey {
		st.Where = append(st.Where, backend.Where{
			Column: col, Op: backend.OpEq, Value: v.(model.AttributeValue),
		})
	}
	return st, nil
}

// buildSelect produces the query statement from already compacted
// per-attribute conditions. Rows are always fetched whole except for
// count-only selects; attribute projection happens after decoding because
// dynamic attributes share physical columns.
func buildSelect(info *tableinfo.TableInfo, compacted map[string][]model.Condition,
	countOnly bool, limit int, orderAttr string, descending bool) (backend.Select, error) {

	st := backend.Select{
		Keyspace:   keyspaceName(info.Tenant),
		Table:      physicalName(info.Name),
		CountOnly:  countOnly,
		Limit:      limit,
		Descending: descending,
	}
	if orderAttr != "" {
		st.OrderBy = userColumn(orderAttr)
	}
	for attr, conds := range compacted {
		col := userColumn(attr)
		for _, c := range conds {
			op, ok := whereOp(c.Type)
			if !ok {
				return backend.Select{}, validationf("condition %s on %q cannot be pushed down", c.Type, attr)
			}
			st.Where = append(st.Where, backend.Where{Column: col, Op: op, Value: c.Arg()})
		}
	}
	return st, nil
}

func whereOp(t model.ConditionType) (backend.CompareOp, bool) {
	switch t {
	case model.ConditionEQ:
		return backend.OpEq, true
	case model.ConditionLT:
		return backend.OpLt, true
	case model.ConditionLE:
		return backend.OpLe, true
	case model.ConditionGT:
		return backend.OpGt, true
	case model.ConditionGE:
		return backend.OpGe, true
	}
	return 0, false
}

// expectedConditions translates caller Expected conditions into CAS
// precondition terms. Only equality and existence are expressible as CAS
// guards; anything else is a validation error.
func expectedConditions(schema model.TableSchema, expected model.ConditionMap) ([]backend.Condition, error) {
	var conds []backend.Condition
	for attr, list := range expected {
		for _, c := range list {
			switch c.Type {
			case model.ConditionEQ:
				if isPredefined(schema, attr) {
					if c.Arg().Type != schema.AttributeTypes[attr] {
						return nil, validationf("expected condition on %q has type %s, schema declares %s",
							attr, c.Arg().Type.Tag(), schema.AttributeTypes[attr].Tag())
					}
					conds = append(conds, backend.Condition{
						Column: userColumn(attr), Op: backend.CondEq, Value: c.Arg(),
					})
					continue
				}
				blob, err := c.Arg().EncodeDynamic()
				if err != nil {
					return nil, fmt.Errorf("encode expected condition on %q: %w", attr, err)
				}
				conds = append(conds, backend.Condition{
					Column: colAttrData, MapKey: attr, Op: backend.CondEq, Value: blob,
				})
			case model.ConditionExists:
				if isPredefined(schema, attr) {
					op := backend.CondNotNull
					if !c.Exists {
						op = backend.CondNull
					}
					conds = append(conds, backend.Condition{Column: userColumn(attr), Op: op})
					continue
				}
				// Dynamic attribute existence is tracked by the name set
				// column, not by probing the data map.
				op := backend.CondContains
				if !c.Exists {
					op = backend.CondNotContains
				}
				conds = append(conds, backend.Condition{Column: colAttrExist, Op: op, Value: attr})
			default:
				return nil, validationf("expected condition %s on %q is not supported", c.Type, attr)
			}
		}
	}
	return conds, nil
}

// indexValueConditions guards a mutation on the index attribute values
// observed by the preceding read; nil entries assert the column is unset.
func indexValueConditions(schema model.TableSchema, oldIndex map[string]*model.AttributeValue) []backend.Condition {
	if oldIndex == nil {
		return nil
	}
	var conds []backend.Condition
	for _, attr := range schema.IndexAttributes() {
		old := oldIndex[attr]
		if old == nil {
			conds = append(conds, backend.Condition{Column: userColumn(attr), Op: backend.CondNull})
			continue
		}
		conds = append(conds, backend.Condition{Column: userColumn(attr), Op: backend.CondEq, Value: *old})
	}
	return conds
}
