// Package model defines the typed attribute values, conditions and table
// schemas shared by the storage engine, the statement builder and the
// table info repository.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ElementType is the scalar type of an attribute or of a set's elements.
type ElementType uint8

const (
	ElementString ElementType = iota
	ElementNumber
	ElementBinary
)

// AttributeType is the full type of an attribute value: a scalar type,
// optionally wrapped in a set.
type AttributeType struct {
	Element ElementType
	Set     bool
}

var (
	TypeString    = AttributeType{Element: ElementString}
	TypeNumber    = AttributeType{Element: ElementNumber}
	TypeBinary    = AttributeType{Element: ElementBinary}
	TypeStringSet = AttributeType{Element: ElementString, Set: true}
	TypeNumberSet = AttributeType{Element: ElementNumber, Set: true}
	TypeBinarySet = AttributeType{Element: ElementBinary, Set: true}
)

var typeTags = map[AttributeType]string{
	TypeString:    "S",
	TypeNumber:    "N",
	TypeBinary:    "B",
	TypeStringSet: "SS",
	TypeNumberSet: "NS",
	TypeBinarySet: "BS",
}

var tagTypes = func() map[string]AttributeType {
	m := make(map[string]AttributeType, len(typeTags))
	for t, tag := range typeTags {
		m[tag] = t
	}
	return m
}()

// Tag returns the short wire tag for the type ("S", "N", "B", "SS", ...).
func (t AttributeType) Tag() string { return typeTags[t] }

func (t AttributeType) String() string { return t.Tag() }

// ParseAttributeType parses a wire tag produced by Tag.
func ParseAttributeType(tag string) (AttributeType, error) {
	t, ok := tagTypes[tag]
	if !ok {
		return AttributeType{}, fmt.Errorf("unknown attribute type tag %q", tag)
	}
	return t, nil
}

func (t AttributeType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Tag())
}

func (t *AttributeType) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := ParseAttributeType(tag)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Bounds of the supported decimal range. Numbers must fit in 38 significant
// digits with an adjusted exponent in [minNumberExponent, maxNumberExponent].
const (
	maxNumberDigits   = 38
	maxNumberExponent = 125
	minNumberExponent = -130
)

func validateNumber(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	coeff := d.Coefficient().String()
	if coeff[0] == '-' {
		coeff = coeff[1:]
	}
	digits := len(coeff)
	if digits > maxNumberDigits {
		return fmt.Errorf("number %s exceeds %d significant digits", d, maxNumberDigits)
	}
	adjusted := int(d.Exponent()) + digits - 1
	if adjusted > maxNumberExponent || adjusted < minNumberExponent {
		return fmt.Errorf("number %s is out of the supported magnitude range", d)
	}
	return nil
}

// AttributeValue is a typed value. Exactly the field matching Type is set.
type AttributeValue struct {
	Type AttributeType

	S  string
	N  decimal.Decimal
	B  []byte
	SS []string
	NS []decimal.Decimal
	BS [][]byte
}

// String constructs a string value.
func String(s string) AttributeValue {
	return AttributeValue{Type: TypeString, S: s}
}

// Number constructs a number value, validating the supported decimal range.
func Number(d decimal.Decimal) (AttributeValue, error) {
	if err := validateNumber(d); err != nil {
		return AttributeValue{}, err
	}
	return AttributeValue{Type: TypeNumber, N: d}, nil
}

// NumberFromInt constructs a number value from an integer. Integers are
// always within the supported decimal range.
func NumberFromInt(v int64) AttributeValue {
	return AttributeValue{Type: TypeNumber, N: decimal.NewFromInt(v)}
}

// NumberFromString parses a decimal string into a number value.
func NumberFromString(s string) (AttributeValue, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return AttributeValue{}, fmt.Errorf("parse number %q: %w", s, err)
	}
	return Number(d)
}

// Binary constructs a binary value.
func Binary(b []byte) AttributeValue {
	return AttributeValue{Type: TypeBinary, B: b}
}

// StringSet constructs a string set value. Empty sets are invalid and
// duplicates are rejected; elements are kept sorted.
func StringSet(elems []string) (AttributeValue, error) {
	if len(elems) == 0 {
		return AttributeValue{}, fmt.Errorf("empty string set")
	}
	sorted := append([]string(nil), elems...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return AttributeValue{}, fmt.Errorf("duplicate string set element %q", sorted[i])
		}
	}
	return AttributeValue{Type: TypeStringSet, SS: sorted}, nil
}

// NumberSet constructs a number set value with the same invariants as
// StringSet, validating each element's range.
func NumberSet(elems []decimal.Decimal) (AttributeValue, error) {
	if len(elems) == 0 {
		return AttributeValue{}, fmt.Errorf("empty number set")
	}
	sorted := append([]decimal.Decimal(nil), elems...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	for i, d := range sorted {
		if err := validateNumber(d); err != nil {
			return AttributeValue{}, err
		}
		if i > 0 && d.Cmp(sorted[i-1]) == 0 {
			return AttributeValue{}, fmt.Errorf("duplicate number set element %s", d)
		}
	}
	return AttributeValue{Type: TypeNumberSet, NS: sorted}, nil
}

// BinarySet constructs a binary set value with the same invariants as
// StringSet.
func BinarySet(elems [][]byte) (AttributeValue, error) {
	if len(elems) == 0 {
		return AttributeValue{}, fmt.Errorf("empty binary set")
	}
	sorted := make([][]byte, len(elems))
	copy(sorted, elems)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := 1; i < len(sorted); i++ {
		if bytes.Equal(sorted[i], sorted[i-1]) {
			return AttributeValue{}, fmt.Errorf("duplicate binary set element")
		}
	}
	return AttributeValue{Type: TypeBinarySet, BS: sorted}, nil
}

// Equal reports deep equality. Values of different types are never equal.
func (v AttributeValue) Equal(o AttributeValue) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeString:
		return v.S == o.S
	case TypeNumber:
		return v.N.Cmp(o.N) == 0
	case TypeBinary:
		return bytes.Equal(v.B, o.B)
	case TypeStringSet:
		if len(v.SS) != len(o.SS) {
			return false
		}
		for i := range v.SS {
			if v.SS[i] != o.SS[i] {
				return false
			}
		}
		return true
	case TypeNumberSet:
		if len(v.NS) != len(o.NS) {
			return false
		}
		for i := range v.NS {
			if v.NS[i].Cmp(o.NS[i]) != 0 {
				return false
			}
		}
		return true
	case TypeBinarySet:
		if len(v.BS) != len(o.BS) {
			return false
		}
		for i := range v.BS {
			if !bytes.Equal(v.BS[i], o.BS[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two scalar values of the same type. The second return is
// false when the values are not comparable (set types or a type mismatch).
func (v AttributeValue) Compare(o AttributeValue) (int, bool) {
	if v.Type != o.Type || v.Type.Set {
		return 0, false
	}
	switch v.Type.Element {
	case ElementString:
		switch {
		case v.S < o.S:
			return -1, true
		case v.S > o.S:
			return 1, true
		}
		return 0, true
	case ElementNumber:
		return v.N.Cmp(o.N), true
	case ElementBinary:
		return bytes.Compare(v.B, o.B), true
	}
	return 0, false
}

// Contains reports whether a set value contains the given scalar. It is
// false when the receiver is not a set or the element types differ.
func (v AttributeValue) Contains(elem AttributeValue) bool {
	if !v.Type.Set || elem.Type.Set || v.Type.Element != elem.Type.Element {
		return false
	}
	switch v.Type.Element {
	case ElementString:
		for _, s := range v.SS {
			if s == elem.S {
				return true
			}
		}
	case ElementNumber:
		for _, n := range v.NS {
			if n.Cmp(elem.N) == 0 {
				return true
			}
		}
	case ElementBinary:
		for _, b := range v.BS {
			if bytes.Equal(b, elem.B) {
				return true
			}
		}
	}
	return false
}

// rawValue is the wire shape used for dynamic attribute blobs. Numbers are
// carried as decimal strings so that encode/decode round-trips exactly.
func (v AttributeValue) rawValue() any {
	switch v.Type {
	case TypeString:
		return v.S
	case TypeNumber:
		return v.N.String()
	case TypeBinary:
		return v.B
	case TypeStringSet:
		return v.SS
	case TypeNumberSet:
		raw := make([]string, len(v.NS))
		for i, n := range v.NS {
			raw[i] = n.String()
		}
		return raw
	case TypeBinarySet:
		return v.BS
	}
	return nil
}

// EncodeDynamic serializes the value payload for storage in the dynamic
// attribute data column. The type tag travels separately in the companion
// types column.
func (v AttributeValue) EncodeDynamic() ([]byte, error) {
	return json.Marshal(v.rawValue())
}

// DecodeDynamic is the inverse of EncodeDynamic.
func DecodeDynamic(t AttributeType, data []byte) (AttributeValue, error) {
	switch t {
	case TypeString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return AttributeValue{}, err
		}
		return String(s), nil
	case TypeNumber:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return AttributeValue{}, err
		}
		return NumberFromString(s)
	case TypeBinary:
		var b []byte
		if err := json.Unmarshal(data, &b); err != nil {
			return AttributeValue{}, err
		}
		return Binary(b), nil
	case TypeStringSet:
		var ss []string
		if err := json.Unmarshal(data, &ss); err != nil {
			return AttributeValue{}, err
		}
		return StringSet(ss)
	case TypeNumberSet:
		var raw []string
		if err := json.Unmarshal(data, &raw); err != nil {
			return AttributeValue{}, err
		}
		ns := make([]decimal.Decimal, len(raw))
		for i, s := range raw {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return AttributeValue{}, fmt.Errorf("parse number %q: %w", s, err)
			}
			ns[i] = d
		}
		return NumberSet(ns)
	case TypeBinarySet:
		var bs [][]byte
		if err := json.Unmarshal(data, &bs); err != nil {
			return AttributeValue{}, err
		}
		return BinarySet(bs)
	}
	return AttributeValue{}, fmt.Errorf("unknown attribute type %v", t)
}

type attrValueJSON struct {
	Type AttributeType   `json:"type"`
	Raw  json.RawMessage `json:"value"`
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	raw, err := v.EncodeDynamic()
	if err != nil {
		return nil, err
	}
	return json.Marshal(attrValueJSON{Type: v.Type, Raw: raw})
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	var wire attrValueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded, err := DecodeDynamic(wire.Type, wire.Raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Item maps attribute names to values.
type Item map[string]AttributeValue
