// Package awscompat translates between the AWS SDK's DynamoDB wire types
// and the native model, so AWS-compatible front ends can sit directly on
// the engine.
package awscompat

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/quellcloud/tessera/model"
)

// FromAttributeValue converts one SDK attribute value. Document types
// (map, list, bool, null) have no native counterpart and are rejected.
func FromAttributeValue(av types.AttributeValue) (model.AttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return model.String(v.Value), nil
	case *types.AttributeValueMemberN:
		return model.NumberFromString(v.Value)
	case *types.AttributeValueMemberB:
		return model.Binary(v.Value), nil
	case *types.AttributeValueMemberSS:
		return model.StringSet(v.Value)
	case *types.AttributeValueMemberNS:
		nums := make([]decimal.Decimal, len(v.Value))
		for i, s := range v.Value {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return model.AttributeValue{}, fmt.Errorf("parse number %q: %w", s, err)
			}
			nums[i] = d
		}
		return model.NumberSet(nums)
	case *types.AttributeValueMemberBS:
		return model.BinarySet(v.Value)
	}
	return model.AttributeValue{}, fmt.Errorf("unsupported attribute value type %T", av)
}

// ToAttributeValue converts one native value to its SDK form.
func ToAttributeValue(v model.AttributeValue) types.AttributeValue {
	switch v.Type {
	case model.TypeString:
		return &types.AttributeValueMemberS{Value: v.S}
	case model.TypeNumber:
		return &types.AttributeValueMemberN{Value: v.N.String()}
	case model.TypeBinary:
		return &types.AttributeValueMemberB{Value: v.B}
	case model.TypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.SS}
	case model.TypeNumberSet:
		out := make([]string, len(v.NS))
		for i, n := range v.NS {
			out[i] = n.String()
		}
		return &types.AttributeValueMemberNS{Value: out}
	}
	return &types.AttributeValueMemberBS{Value: v.BS}
}

// FromItem converts a full SDK item.
func FromItem(in map[string]types.AttributeValue) (model.Item, error) {
	item := make(model.Item, len(in))
	for name, av := range in {
		v, err := FromAttributeValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = v
	}
	return item, nil
}

// ToItem converts a native item to its SDK form.
func ToItem(in model.Item) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for name, v := range in {
		out[name] = ToAttributeValue(v)
	}
	return out
}

// MarshalItem converts an arbitrary Go value into a native item through
// the SDK's attributevalue marshaler.
func MarshalItem(in any) (model.Item, error) {
	avs, err := attributevalue.MarshalMap(in)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return FromItem(avs)
}

// UnmarshalItem reads a native item into an arbitrary Go value through the
// SDK's attributevalue unmarshaler.
func UnmarshalItem(item model.Item, out any) error {
	if err := attributevalue.UnmarshalMap(ToItem(item), out); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	return nil
}

// BuildSchema assembles a native table schema from SDK attribute
// definitions, key schema and local secondary indexes.
func BuildSchema(attrs []types.AttributeDefinition, keySchema []types.KeySchemaElement,
	indexes []types.LocalSecondaryIndex) (model.TableSchema, error) {

	schema := model.TableSchema{
		AttributeTypes: make(map[string]model.AttributeType, len(attrs)),
	}
	for _, def := range attrs {
		t, err := model.ParseAttributeType(string(def.AttributeType))
		if err != nil {
			return model.TableSchema{}, fmt.Errorf("attribute %q: %w", deref(def.AttributeName), err)
		}
		schema.AttributeTypes[deref(def.AttributeName)] = t
	}

	var hash, rng string
	for _, elem := range keySchema {
		switch elem.KeyType {
		case types.KeyTypeHash:
			hash = deref(elem.AttributeName)
		case types.KeyTypeRange:
			rng = deref(elem.AttributeName)
		default:
			return model.TableSchema{}, fmt.Errorf("unknown key type %q", elem.KeyType)
		}
	}
	if hash == "" {
		return model.TableSchema{}, fmt.Errorf("key schema has no hash key")
	}
	schema.KeyAttributes = []string{hash}
	if rng != "" {
		schema.KeyAttributes = append(schema.KeyAttributes, rng)
	}

	if len(indexes) > 0 {
		schema.Indexes = make(map[string]model.IndexDefinition, len(indexes))
	}
	for _, idx := range indexes {
		name := deref(idx.IndexName)
		var alt string
		for _, elem := range idx.KeySchema {
			if elem.KeyType == types.KeyTypeRange {
				alt = deref(elem.AttributeName)
			}
		}
		if alt == "" {
			return model.TableSchema{}, fmt.Errorf("index %q has no range key", name)
		}
		def := model.IndexDefinition{AltRangeAttribute: alt}
		if idx.Projection != nil && idx.Projection.ProjectionType == types.ProjectionTypeInclude {
			def.ProjectedAttrs = idx.Projection.NonKeyAttributes
		}
		schema.Indexes[name] = def
	}
	return schema, schema.Validate()
}

// FromComparisonOperator converts an SDK comparison operator with its
// argument list into a native condition.
func FromComparisonOperator(op types.ComparisonOperator, args []types.AttributeValue) (model.Condition, error) {
	values := make([]model.AttributeValue, len(args))
	for i, av := range args {
		v, err := FromAttributeValue(av)
		if err != nil {
			return model.Condition{}, err
		}
		values[i] = v
	}
	one := func() (model.AttributeValue, error) {
		if len(values) != 1 {
			return model.AttributeValue{}, fmt.Errorf("operator %s takes one argument, got %d", op, len(values))
		}
		return values[0], nil
	}

	switch op {
	case types.ComparisonOperatorEq:
		v, err := one()
		return model.EQ(v), err
	case types.ComparisonOperatorNe:
		v, err := one()
		return model.NE(v), err
	case types.ComparisonOperatorLt:
		v, err := one()
		return model.LT(v), err
	case types.ComparisonOperatorLe:
		v, err := one()
		return model.LE(v), err
	case types.ComparisonOperatorGt:
		v, err := one()
		return model.GT(v), err
	case types.ComparisonOperatorGe:
		v, err := one()
		return model.GE(v), err
	case types.ComparisonOperatorBeginsWith:
		v, err := one()
		return model.BeginsWith(v), err
	case types.ComparisonOperatorBetween:
		if len(values) != 2 {
			return model.Condition{}, fmt.Errorf("BETWEEN takes two arguments, got %d", len(values))
		}
		return model.Between(values[0], values[1]), nil
	case types.ComparisonOperatorContains:
		v, err := one()
		return model.Contains(v), err
	case types.ComparisonOperatorNotContains:
		v, err := one()
		return model.NotContains(v), err
	case types.ComparisonOperatorIn:
		if len(values) == 0 {
			return model.Condition{}, fmt.Errorf("IN takes at least one argument")
		}
		return model.In(values...), nil
	case types.ComparisonOperatorNull:
		return model.Exists(false), nil
	case types.ComparisonOperatorNotNull:
		return model.Exists(true), nil
	}
	return model.Condition{}, fmt.Errorf("unsupported comparison operator %s", op)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
