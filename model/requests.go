package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SelectKind chooses what a select returns.
type SelectKind uint8

const (
	SelectAll SelectKind = iota
	SelectAllProjected
	SelectSpecific
	SelectCount
)

// SelectType defines which attributes a select returns. Attributes is only
// consulted for SelectSpecific.
type SelectType struct {
	Kind       SelectKind
	Attributes []string
}

func SelectTypeAll() SelectType          { return SelectType{Kind: SelectAll} }
func SelectTypeAllProjected() SelectType { return SelectType{Kind: SelectAllProjected} }
func SelectTypeCount() SelectType        { return SelectType{Kind: SelectCount} }

func SelectTypeSpecific(attrs ...string) SelectType {
	return SelectType{Kind: SelectSpecific, Attributes: attrs}
}

// OrderType is the requested sort direction of a select.
type OrderType string

const (
	OrderAsc  OrderType = "ASC"
	OrderDesc OrderType = "DESC"
)

// SelectResult is the outcome of a select/query. LastEvaluatedKey is set
// when the page was truncated at the requested limit.
type SelectResult struct {
	Items            []Item
	Count            int
	LastEvaluatedKey Item
}

// ScanResult additionally reports how many rows were examined before
// client-side filtering.
type ScanResult struct {
	Items            []Item
	Count            int
	ScannedCount     int
	LastEvaluatedKey Item
}

// UpdateActionKind tags an update action.
type UpdateActionKind uint8

const (
	UpdateActionPut UpdateActionKind = iota
	UpdateActionAdd
	UpdateActionDelete
)

// UpdateAction is a single attribute mutation inside an update_item call.
// Value is unset for DELETE.
type UpdateAction struct {
	Kind  UpdateActionKind
	Value AttributeValue
}

func Put(v AttributeValue) UpdateAction { return UpdateAction{Kind: UpdateActionPut, Value: v} }
func Add(v AttributeValue) UpdateAction { return UpdateAction{Kind: UpdateActionAdd, Value: v} }
func Delete() UpdateAction              { return UpdateAction{Kind: UpdateActionDelete} }

// Apply merges the action with the attribute's current value and returns
// the new value, or nil when the attribute is removed. ADD accumulates
// numbers and unions sets; on any other type it degrades to PUT.
func (a UpdateAction) Apply(current *AttributeValue) (*AttributeValue, error) {
	switch a.Kind {
	case UpdateActionPut:
		v := a.Value
		return &v, nil
	case UpdateActionDelete:
		return nil, nil
	case UpdateActionAdd:
		if current == nil || current.Type != a.Value.Type {
			v := a.Value
			return &v, nil
		}
		switch a.Value.Type {
		case TypeNumber:
			sum, err := Number(current.N.Add(a.Value.N))
			if err != nil {
				return nil, err
			}
			return &sum, nil
		case TypeStringSet:
			merged, err := unionStrings(current.SS, a.Value.SS)
			if err != nil {
				return nil, err
			}
			return &merged, nil
		case TypeNumberSet:
			merged, err := unionNumbers(current.NS, a.Value.NS)
			if err != nil {
				return nil, err
			}
			return &merged, nil
		case TypeBinarySet:
			merged, err := unionBinaries(current.BS, a.Value.BS)
			if err != nil {
				return nil, err
			}
			return &merged, nil
		default:
			v := a.Value
			return &v, nil
		}
	}
	return nil, fmt.Errorf("unknown update action kind %d", a.Kind)
}

func unionStrings(a, b []string) (AttributeValue, error) {
	seen := make(map[string]struct{}, len(a)+len(b))
	var merged []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	return StringSet(merged)
}

func unionNumbers(a, b []decimal.Decimal) (AttributeValue, error) {
	var merged []decimal.Decimal
	for _, d := range append(append([]decimal.Decimal(nil), a...), b...) {
		dup := false
		for _, m := range merged {
			if m.Cmp(d) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, d)
		}
	}
	return NumberSet(merged)
}

func unionBinaries(a, b [][]byte) (AttributeValue, error) {
	var merged [][]byte
	for _, e := range append(append([][]byte(nil), a...), b...) {
		dup := false
		for _, m := range merged {
			if string(m) == string(e) {
				dup = true
				break
			}
		}
		if !dup {
			merged = append(merged, e)
		}
	}
	return BinarySet(merged)
}
