package canonhash

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder_Deterministic(t *testing.T) {
	a := NewBuilder().PutString("rapid_transactions_ratio").PutFloat64(0.4).Sum32()
	b := NewBuilder().PutString("rapid_transactions_ratio").PutFloat64(0.4).Sum32()
	assert.Equal(t, a, b)
	assert.Len(t, a.Hex(), 64)

	c := NewBuilder().PutString("rapid_transactions_ratio").PutFloat64(0.41).Sum32()
	assert.NotEqual(t, a, c)
}

func TestBuilder_LengthPrefixAvoidsAmbiguity(t *testing.T) {
	assert.NotEqual(t, SumStrings("ab", "c"), SumStrings("a", "bc"))
}

func TestBuilder_NegativeZero(t *testing.T) {
	pos := NewBuilder().PutFloat64(0).Sum32()
	neg := NewBuilder().PutFloat64(math.Copysign(0, -1)).Sum32()
	assert.Equal(t, pos, neg)
}

func TestBuilder_Reset(t *testing.T) {
	b := NewBuilder().PutI64(7)
	b.Reset()
	assert.Equal(t, NewBuilder().Sum32(), b.Sum32())
}

func TestHash32_Unit(t *testing.T) {
	for _, s := range []string{"", "a", "wallet", "token"} {
		u := SumStrings(s).Unit()
		assert.GreaterOrEqual(t, u, 0.0)
		assert.Less(t, u, 1.0)
	}
}
