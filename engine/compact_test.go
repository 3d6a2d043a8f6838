package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellcloud/tessera/model"
)

func num(t *testing.T, s string) model.AttributeValue {
	t.Helper()
	v, err := model.NumberFromString(s)
	require.NoError(t, err)
	return v
}

func TestCompactConditions(t *testing.T) {
	t.Run("disjoint bounds are unsatisfiable", func(t *testing.T) {
		_, ok := compactConditions([]model.Condition{
			model.GT(num(t, "5")), model.LT(num(t, "3")),
		})
		assert.False(t, ok)
	})

	t.Run("bounds tighten to the narrowest pair", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.GE(num(t, "5")), model.LE(num(t, "10")), model.GT(num(t, "7")),
		})
		require.True(t, ok)
		require.Len(t, out, 2)
		assert.Equal(t, model.ConditionGT, out[0].Type)
		assert.Equal(t, num(t, "7"), out[0].Arg())
		assert.Equal(t, model.ConditionLE, out[1].Type)
		assert.Equal(t, num(t, "10"), out[1].Arg())
	})

	t.Run("consistent equality wins", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.EQ(num(t, "5")), model.GT(num(t, "3")),
		})
		require.True(t, ok)
		require.Len(t, out, 1)
		assert.Equal(t, model.ConditionEQ, out[0].Type)
		assert.Equal(t, num(t, "5"), out[0].Arg())
	})

	t.Run("equality outside a bound is unsatisfiable", func(t *testing.T) {
		_, ok := compactConditions([]model.Condition{
			model.EQ(num(t, "5")), model.GT(num(t, "6")),
		})
		assert.False(t, ok)
	})

	t.Run("conflicting equalities are unsatisfiable", func(t *testing.T) {
		_, ok := compactConditions([]model.Condition{
			model.EQ(num(t, "5")), model.EQ(num(t, "6")),
		})
		assert.False(t, ok)
	})

	t.Run("strict beats inclusive on equal lower bounds", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.GE(num(t, "5")), model.GT(num(t, "5")),
		})
		require.True(t, ok)
		require.Len(t, out, 1)
		assert.Equal(t, model.ConditionGT, out[0].Type)
	})

	t.Run("strict beats inclusive on equal upper bounds", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.LE(num(t, "5")), model.LT(num(t, "5")),
		})
		require.True(t, ok)
		require.Len(t, out, 1)
		assert.Equal(t, model.ConditionLT, out[0].Type)
	})

	t.Run("touching bounds need both inclusive", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.GE(num(t, "5")), model.LE(num(t, "5")),
		})
		require.True(t, ok)
		assert.Len(t, out, 2)

		_, ok = compactConditions([]model.Condition{
			model.GE(num(t, "5")), model.LT(num(t, "5")),
		})
		assert.False(t, ok)
	})

	t.Run("between becomes a bound pair", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.Between(num(t, "2"), num(t, "8")), model.GT(num(t, "4")),
		})
		require.True(t, ok)
		require.Len(t, out, 2)
		assert.Equal(t, model.ConditionGT, out[0].Type)
		assert.Equal(t, num(t, "4"), out[0].Arg())
		assert.Equal(t, model.ConditionLE, out[1].Type)
		assert.Equal(t, num(t, "8"), out[1].Arg())
	})

	t.Run("begins_with becomes a prefix range", func(t *testing.T) {
		out, ok := compactConditions([]model.Condition{
			model.BeginsWith(model.String("ab")),
		})
		require.True(t, ok)
		require.Len(t, out, 2)
		assert.Equal(t, model.ConditionGE, out[0].Type)
		assert.Equal(t, "ab", out[0].Arg().S)
		assert.Equal(t, model.ConditionLT, out[1].Type)
		assert.Equal(t, "ac", out[1].Arg().S)
	})

	t.Run("mismatched types are unsatisfiable", func(t *testing.T) {
		_, ok := compactConditions([]model.Condition{
			model.GT(num(t, "5")), model.GT(model.String("a")),
		})
		assert.False(t, ok)
	})

	t.Run("empty input stays empty", func(t *testing.T) {
		out, ok := compactConditions(nil)
		require.True(t, ok)
		assert.Empty(t, out)
	})
}
