package engine

import (
	"github.com/quellcloud/tessera/model"
)

// compactConditions reduces the conditions on one attribute to a minimal
// equivalent form: a single equality, or at most a lower and an upper
// bound. The second return is false when the conjunction is provably
// unsatisfiable.
//
// BEGINS_WITH and BETWEEN are first rewritten into bound pairs, then the
// tightest bound of each direction wins. For two equal lower bounds the
// strict variant is tighter; same for upper bounds.
func compactConditions(conds []model.Condition) ([]model.Condition, bool) {
	var bounds []model.Condition
	var eq *model.AttributeValue

	for _, c := range conds {
		switch c.Type {
		case model.ConditionEQ:
			v := c.Arg()
			if eq != nil && !eq.Equal(v) {
				return nil, false
			}
			eq = &v
		case model.ConditionBetween:
			bounds = append(bounds, model.GE(c.Args[0]), model.LE(c.Args[1]))
		case model.ConditionBeginsWith:
			prefix := c.Arg()
			bounds = append(bounds, model.GE(prefix))
			if upper, ok := prefixSuccessor(prefix); ok {
				bounds = append(bounds, model.LT(upper))
			}
		case model.ConditionLT, model.ConditionLE, model.ConditionGT, model.ConditionGE:
			bounds = append(bounds, c)
		default:
			// Non-indexable conditions never reach the compactor.
			return nil, false
		}
	}

	if eq != nil {
		for _, b := range bounds {
			if !b.Matches(eq) {
				return nil, false
			}
		}
		return []model.Condition{model.EQ(*eq)}, true
	}

	var lower, upper *model.Condition
	for i := range bounds {
		b := bounds[i]
		switch b.Type {
		case model.ConditionGT, model.ConditionGE:
			if lower == nil {
				lower = &b
				continue
			}
			t, ok := tighterLower(*lower, b)
			if !ok {
				return nil, false
			}
			lower = &t
		case model.ConditionLT, model.ConditionLE:
			if upper == nil {
				upper = &b
				continue
			}
			t, ok := tighterUpper(*upper, b)
			if !ok {
				return nil, false
			}
			upper = &t
		}
	}

	if lower != nil && upper != nil {
		cmp, ok := lower.Arg().Compare(upper.Arg())
		if !ok || cmp > 0 {
			return nil, false
		}
		if cmp == 0 && (lower.Type == model.ConditionGT || upper.Type == model.ConditionLT) {
			return nil, false
		}
	}

	var out []model.Condition
	if lower != nil {
		out = append(out, *lower)
	}
	if upper != nil {
		out = append(out, *upper)
	}
	return out, true
}

// tighterLower picks the tighter of two lower bounds: the larger value, or
// on equal values the strict one.
func tighterLower(a, b model.Condition) (model.Condition, bool) {
	cmp, ok := a.Arg().Compare(b.Arg())
	if !ok {
		return model.Condition{}, false
	}
	switch {
	case cmp > 0:
		return a, true
	case cmp < 0:
		return b, true
	case a.Type == model.ConditionGT:
		return a, true
	default:
		return b, true
	}
}

// tighterUpper picks the tighter of two upper bounds: the smaller value,
// or on equal values the strict one.
func tighterUpper(a, b model.Condition) (model.Condition, bool) {
	cmp, ok := a.Arg().Compare(b.Arg())
	if !ok {
		return model.Condition{}, false
	}
	switch {
	case cmp < 0:
		return a, true
	case cmp > 0:
		return b, true
	case a.Type == model.ConditionLT:
		return a, true
	default:
		return b, true
	}
}

// prefixSuccessor returns the smallest string greater than every string
// with the given prefix. There is none when the prefix is all 0xff bytes.
func prefixSuccessor(prefix model.AttributeValue) (model.AttributeValue, bool) {
	if prefix.Type != model.TypeString {
		return model.AttributeValue{}, false
	}
	b := []byte(prefix.S)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return model.String(string(b[:i+1])), true
		}
	}
	return model.AttributeValue{}, false
}

func cloneConditions(conds model.ConditionMap) model.ConditionMap {
	out := make(model.ConditionMap, len(conds))
	for attr, list := range conds {
		out[attr] = append([]model.Condition(nil), list...)
	}
	return out
}

// compactAll compacts every attribute's condition list independently. The
// second return is false if any attribute is unsatisfiable, meaning the
// whole query matches nothing.
func compactAll(conds model.ConditionMap) (map[string][]model.Condition, bool) {
	out := make(map[string][]model.Condition, len(conds))
	for attr, list := range conds {
		compacted, ok := compactConditions(list)
		if !ok {
			return nil, false
		}
		out[attr] = compacted
	}
	return out, true
}
