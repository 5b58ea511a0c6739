package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vec(pairs map[string]uint64) *EventVector {
	v := NewVector()
	for actor, n := range pairs {
		v.Counters[actor] = n
	}
	return v
}

func TestVector_IncrementMonotonic(t *testing.T) {
	v := NewVector()
	for i := uint64(1); i <= 5; i++ {
		v.Increment("a")
		assert.Equal(t, i, v.Get("a"))
	}
	// Other components untouched.
	assert.Equal(t, uint64(0), v.Get("b"))
}

func TestVector_MergeIsPointwiseMax(t *testing.T) {
	a := vec(map[string]uint64{"a": 3, "b": 1})
	b := vec(map[string]uint64{"b": 4, "c": 2})

	a.Merge(b)

	assert.Equal(t, uint64(3), a.Get("a"))
	assert.Equal(t, uint64(4), a.Get("b"))
	assert.Equal(t, uint64(2), a.Get("c"))
}

func TestVector_MergeCommutative(t *testing.T) {
	x := vec(map[string]uint64{"a": 3, "b": 1})
	y := vec(map[string]uint64{"b": 4, "c": 2})

	xy := x.Clone()
	xy.Merge(y)
	yx := y.Clone()
	yx.Merge(x)

	assert.True(t, xy.Equal(yx))
}

func TestVector_MergeAssociative(t *testing.T) {
	x := vec(map[string]uint64{"a": 1})
	y := vec(map[string]uint64{"b": 2})
	z := vec(map[string]uint64{"a": 3, "c": 1})

	left := x.Clone()
	left.Merge(y)
	left.Merge(z)

	yz := y.Clone()
	yz.Merge(z)
	right := x.Clone()
	right.Merge(yz)

	assert.True(t, left.Equal(right))
}

func TestVector_MergeIdempotent(t *testing.T) {
	x := vec(map[string]uint64{"a": 2, "b": 7})
	merged := x.Clone()
	merged.Merge(x)
	assert.True(t, merged.Equal(x))
}

func TestVector_HappensBefore(t *testing.T) {
	earlier := vec(map[string]uint64{"a": 1})
	later := vec(map[string]uint64{"a": 2, "b": 1})

	assert.True(t, earlier.HappensBefore(later))
	assert.False(t, later.HappensBefore(earlier))
	assert.False(t, earlier.HappensBefore(earlier), "equal clocks are not before each other")
}

func TestVector_Concurrent(t *testing.T) {
	x := vec(map[string]uint64{"a": 2})
	y := vec(map[string]uint64{"b": 1})

	assert.True(t, x.Concurrent(y))
	assert.True(t, y.Concurrent(x))

	// Causally related clocks are not concurrent.
	z := x.Clone()
	z.Increment("a")
	assert.False(t, x.Concurrent(z))
}

func TestVector_EncodeDecodeRoundTrip(t *testing.T) {
	v := vec(map[string]uint64{"replica-1": 4, "replica-2": 9})

	s, err := v.Encode()
	require.NoError(t, err)

	decoded, err := DecodeVector(s)
	require.NoError(t, err)
	assert.True(t, v.Equal(decoded))
}

func TestVector_EncodeDeterministic(t *testing.T) {
	a := vec(map[string]uint64{"x": 1, "y": 2, "z": 3})
	b := vec(map[string]uint64{"z": 3, "y": 2, "x": 1})
	a.Updated = b.Updated

	sa, err := a.Encode()
	require.NoError(t, err)
	sb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestDecodeVector_Empty(t *testing.T) {
	v, err := DecodeVector("")
	require.NoError(t, err)
	assert.Nil(t, v)
}
