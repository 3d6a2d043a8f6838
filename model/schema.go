package model

import (
	"fmt"
)

// IndexDefinition describes one local secondary index: an alternate range
// attribute within the same partition, with an optional projected
// attribute allowlist.
type IndexDefinition struct {
	AltRangeAttribute string   `json:"alt_range_attribute"`
	ProjectedAttrs    []string `json:"projected_attrs,omitempty"`
}

// TableSchema is the immutable definition of a table: declared attribute
// types, ordered key attributes (hash, then optional range) and the local
// secondary indexes.
type TableSchema struct {
	AttributeTypes map[string]AttributeType   `json:"attribute_types"`
	KeyAttributes  []string                   `json:"key_attributes"`
	Indexes        map[string]IndexDefinition `json:"indexes,omitempty"`
}

// HashKey returns the partition key attribute name.
func (s TableSchema) HashKey() string { return s.KeyAttributes[0] }

// RangeKey returns the sort key attribute name, or "" for hash-only tables.
func (s TableSchema) RangeKey() string {
	if len(s.KeyAttributes) > 1 {
		return s.KeyAttributes[1]
	}
	return ""
}

// IndexAttributes returns the set of alternate range attributes across all
// indexes.
func (s TableSchema) IndexAttributes() []string {
	if len(s.Indexes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Indexes))
	var attrs []string
	for _, def := range s.Indexes {
		if _, ok := seen[def.AltRangeAttribute]; ok {
			continue
		}
		seen[def.AltRangeAttribute] = struct{}{}
		attrs = append(attrs, def.AltRangeAttribute)
	}
	return attrs
}

// Validate checks the schema invariants: 1 or 2 key attributes, every key
// and index attribute declared with a scalar type, no indexes on
// hash-only tables.
func (s TableSchema) Validate() error {
	if n := len(s.KeyAttributes); n < 1 || n > 2 {
		return fmt.Errorf("expected 1 or 2 key attributes, found %d", n)
	}
	for _, key := range s.KeyAttributes {
		t, ok := s.AttributeTypes[key]
		if !ok {
			return fmt.Errorf("key attribute %q is not declared in the attribute type map", key)
		}
		if t.Set {
			return fmt.Errorf("key attribute %q must have a scalar type", key)
		}
	}
	if len(s.Indexes) > 0 && s.RangeKey() == "" {
		return fmt.Errorf("local secondary indexes require a range key")
	}
	for name, def := range s.Indexes {
		if name == "" {
			return fmt.Errorf("index name must not be empty")
		}
		t, ok := s.AttributeTypes[def.AltRangeAttribute]
		if !ok {
			return fmt.Errorf("index %q attribute %q is not declared in the attribute type map",
				name, def.AltRangeAttribute)
		}
		if t.Set {
			return fmt.Errorf("index %q attribute %q must have a scalar type", name, def.AltRangeAttribute)
		}
	}
	return nil
}

// TableStatus is the lifecycle state of a table.
type TableStatus string

const (
	TableStatusCreating     TableStatus = "CREATING"
	TableStatusActive       TableStatus = "ACTIVE"
	TableStatusDeleting     TableStatus = "DELETING"
	TableStatusCreateFailed TableStatus = "CREATE_FAILED"
	TableStatusDeleteFailed TableStatus = "DELETE_FAILED"
)

// TableMeta is the caller-visible description of a table.
type TableMeta struct {
	Schema TableSchema
	Status TableStatus
}
