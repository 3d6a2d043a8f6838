package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAttributeTypeTags(t *testing.T) {
	for _, typ := range []AttributeType{
		TypeString, TypeNumber, TypeBinary,
		TypeStringSet, TypeNumberSet, TypeBinarySet,
	} {
		parsed, err := ParseAttributeType(typ.Tag())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseAttributeType("L")
	assert.Error(t, err)
}

func TestNumberLimits(t *testing.T) {
	cases := []struct {
		name  string
		value string
		ok    bool
	}{
		{"zero", "0", true},
		{"negative", "-42.5", true},
		{"max magnitude", "9.9e125", true},
		{"over magnitude", "1e126", false},
		{"min magnitude", "1e-130", true},
		{"under magnitude", "1e-131", false},
		{"38 digits", "99999999999999999999999999999999999999", true},
		{"39 digits", "999999999999999999999999999999999999999", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NumberFromString(tc.value)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSetConstruction(t *testing.T) {
	t.Run("sorted and deduplication rejected", func(t *testing.T) {
		v, err := StringSet([]string{"c", "a", "b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, v.SS)

		_, err = StringSet([]string{"a", "a"})
		assert.Error(t, err)
		_, err = StringSet(nil)
		assert.Error(t, err, "empty sets are not representable")
	})

	t.Run("number set uses numeric equality", func(t *testing.T) {
		_, err := NumberSet([]decimal.Decimal{dec(t, "1.0"), dec(t, "1")})
		assert.Error(t, err)

		v, err := NumberSet([]decimal.Decimal{dec(t, "10"), dec(t, "2")})
		require.NoError(t, err)
		assert.True(t, v.NS[0].Cmp(v.NS[1]) < 0, "numeric order, not lexical")
	})

	t.Run("binary set", func(t *testing.T) {
		v, err := BinarySet([][]byte{{2}, {1, 0}})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{1, 0}, {2}}, v.BS)
	})
}

func TestCompareAndEqual(t *testing.T) {
	one := NumberFromInt(1)
	alsoOne, err := NumberFromString("1.00")
	require.NoError(t, err)

	assert.True(t, one.Equal(alsoOne), "trailing zeros do not matter")

	cmp, ok := one.Compare(NumberFromInt(2))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)

	_, ok = one.Compare(String("1"))
	assert.False(t, ok, "values of different types are incomparable")

	set, err := StringSet([]string{"a"})
	require.NoError(t, err)
	_, ok = set.Compare(set)
	assert.False(t, ok, "sets have no order")

	assert.False(t, String("a").Equal(Binary([]byte("a"))))
}

func TestContains(t *testing.T) {
	tags, err := StringSet([]string{"go", "db"})
	require.NoError(t, err)

	assert.True(t, tags.Contains(String("go")))
	assert.False(t, tags.Contains(String("rust")))
	assert.False(t, String("go").Contains(String("g")), "scalars contain nothing")
	assert.False(t, tags.Contains(NumberFromInt(1)), "element type must match")
}

func TestDynamicEncodingRoundTrip(t *testing.T) {
	ss, err := StringSet([]string{"a", "b"})
	require.NoError(t, err)
	ns, err := NumberSet([]decimal.Decimal{dec(t, "-1.5"), dec(t, "300")})
	require.NoError(t, err)
	bs, err := BinarySet([][]byte{{0x00}, {0xff}})
	require.NoError(t, err)
	big, err := NumberFromString("3.1415926535897932384626433832795028841")
	require.NoError(t, err)

	values := []AttributeValue{
		String("hello"),
		String(""),
		NumberFromInt(-7),
		big,
		Binary([]byte{0, 1, 2}),
		ss, ns, bs,
	}
	for _, v := range values {
		data, err := v.EncodeDynamic()
		require.NoError(t, err)
		back, err := DecodeDynamic(v.Type, data)
		require.NoError(t, err)
		assert.True(t, v.Equal(back), "round-trip of %v", v)

		again, err := back.EncodeDynamic()
		require.NoError(t, err)
		assert.Equal(t, data, again, "second encode is byte-identical")
	}
}

func TestAttributeValueJSON(t *testing.T) {
	ns, err := NumberSet([]decimal.Decimal{dec(t, "1"), dec(t, "2.5")})
	require.NoError(t, err)

	for _, v := range []AttributeValue{String("x"), NumberFromInt(9), ns} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back AttributeValue
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, v.Equal(back))
	}
}
