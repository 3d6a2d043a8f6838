package model

// ConditionType tags a condition variant.
type ConditionType uint8

const (
	ConditionEQ ConditionType = iota
	ConditionLT
	ConditionLE
	ConditionGT
	ConditionGE
	ConditionBeginsWith
	ConditionBetween
	ConditionNE
	ConditionContains
	ConditionNotContains
	ConditionIn
	ConditionExists
)

var conditionNames = map[ConditionType]string{
	ConditionEQ:          "EQ",
	ConditionLT:          "LT",
	ConditionLE:          "LE",
	ConditionGT:          "GT",
	ConditionGE:          "GE",
	ConditionBeginsWith:  "BEGINS_WITH",
	ConditionBetween:     "BETWEEN",
	ConditionNE:          "NE",
	ConditionContains:    "CONTAINS",
	ConditionNotContains: "NOT_CONTAINS",
	ConditionIn:          "IN",
	ConditionExists:      "EXISTS",
}

func (t ConditionType) String() string { return conditionNames[t] }

// Condition is a predicate over a single attribute. Args carries the
// condition arguments (two for BETWEEN, the whole candidate list for IN,
// none for EXISTS).
type Condition struct {
	Type   ConditionType
	Args   []AttributeValue
	Exists bool
}

func EQ(v AttributeValue) Condition { return Condition{Type: ConditionEQ, Args: []AttributeValue{v}} }
func LT(v AttributeValue) Condition { return Condition{Type: ConditionLT, Args: []AttributeValue{v}} }
func LE(v AttributeValue) Condition { return Condition{Type: ConditionLE, Args: []AttributeValue{v}} }
func GT(v AttributeValue) Condition { return Condition{Type: ConditionGT, Args: []AttributeValue{v}} }
func GE(v AttributeValue) Condition { return Condition{Type: ConditionGE, Args: []AttributeValue{v}} }

func BeginsWith(prefix AttributeValue) Condition {
	return Condition{Type: ConditionBeginsWith, Args: []AttributeValue{prefix}}
}

func Between(lo, hi AttributeValue) Condition {
	return Condition{Type: ConditionBetween, Args: []AttributeValue{lo, hi}}
}

func NE(v AttributeValue) Condition { return Condition{Type: ConditionNE, Args: []AttributeValue{v}} }

func Contains(v AttributeValue) Condition {
	return Condition{Type: ConditionContains, Args: []AttributeValue{v}}
}

func NotContains(v AttributeValue) Condition {
	return Condition{Type: ConditionNotContains, Args: []AttributeValue{v}}
}

func In(vs ...AttributeValue) Condition {
	return Condition{Type: ConditionIn, Args: vs}
}

func Exists(exists bool) Condition {
	return Condition{Type: ConditionExists, Exists: exists}
}

// Arg returns the single condition argument. Valid only for one-argument
// variants.
func (c Condition) Arg() AttributeValue { return c.Args[0] }

// Indexable reports whether the condition can be pushed down into a
// backend WHERE clause on a key or index column. The remaining variants
// are scan conditions, evaluated client-side only.
func (c Condition) Indexable() bool {
	switch c.Type {
	case ConditionEQ, ConditionLT, ConditionLE, ConditionGT, ConditionGE,
		ConditionBeginsWith, ConditionBetween:
		return true
	}
	return false
}

// Matches evaluates the condition against an attribute value, nil meaning
// the attribute is absent. Type mismatches never match, except for NE
// which treats both absence and a differing type as "not equal".
func (c Condition) Matches(v *AttributeValue) bool {
	if c.Type == ConditionExists {
		return c.Exists == (v != nil)
	}
	if c.Type == ConditionNE {
		if v == nil {
			return true
		}
		return !v.Equal(c.Arg())
	}
	if v == nil {
		return false
	}

	switch c.Type {
	case ConditionEQ:
		return v.Equal(c.Arg())
	case ConditionLT:
		cmp, ok := v.Compare(c.Arg())
		return ok && cmp < 0
	case ConditionLE:
		cmp, ok := v.Compare(c.Arg())
		return ok && cmp <= 0
	case ConditionGT:
		cmp, ok := v.Compare(c.Arg())
		return ok && cmp > 0
	case ConditionGE:
		cmp, ok := v.Compare(c.Arg())
		return ok && cmp >= 0
	case ConditionBeginsWith:
		arg := c.Arg()
		if v.Type != TypeString || arg.Type != TypeString {
			return false
		}
		return len(v.S) >= len(arg.S) && v.S[:len(arg.S)] == arg.S
	case ConditionBetween:
		lo, okLo := v.Compare(c.Args[0])
		hi, okHi := v.Compare(c.Args[1])
		return okLo && okHi && lo >= 0 && hi <= 0
	case ConditionContains:
		return v.Contains(c.Arg())
	case ConditionNotContains:
		if !v.Type.Set || c.Arg().Type.Set || v.Type.Element != c.Arg().Type.Element {
			return false
		}
		return !v.Contains(c.Arg())
	case ConditionIn:
		for _, cand := range c.Args {
			if v.Equal(cand) {
				return true
			}
		}
		return false
	}
	return false
}

// ConditionMap maps attribute names to the conditions that must all hold.
type ConditionMap map[string][]Condition

// MatchesAll evaluates every condition in the map against an item.
func (m ConditionMap) MatchesAll(item Item) bool {
	for name, conds := range m {
		var v *AttributeValue
		if attr, ok := item[name]; ok {
			v = &attr
		}
		for _, cond := range conds {
			if !cond.Matches(v) {
				return false
			}
		}
	}
	return true
}
