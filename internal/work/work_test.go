package work

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferRecoversShape(t *testing.T) {
	data := make([]int32, 16)
	for i := range data {
		data[i] = int32(i)
	}

	b, err := NewBuffer(In, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), b.Count)
	assert.Equal(t, uintptr(4), b.ItemSize)
	assert.Equal(t, uint64(64), b.ByteCount())
}

func TestBufferRejectsNonSlice(t *testing.T) {
	_, err := NewBuffer(In, 42)
	assert.Error(t, err)
}

func TestBufferSliceAliasesBackingArray(t *testing.T) {
	data := []int32{1, 2, 3, 4}
	b, err := NewBuffer(Out, data)
	require.NoError(t, err)

	region, err := b.Slice(1, 2)
	require.NoError(t, err)
	require.Len(t, region, 8)

	// Writing through the returned byte view must be visible in the original slice, since
	// Buffer only borrows storage rather than copying it.
	region[0] = 0xFF
	assert.Equal(t, byte(0xFF), byte(data[1]))
}

func TestBufferSliceOutOfRange(t *testing.T) {
	data := []int32{1, 2, 3, 4}
	b, err := NewBuffer(Out, data)
	require.NoError(t, err)

	_, err = b.Slice(3, 5)
	assert.Error(t, err)
}

func TestNDRangeTotal(t *testing.T) {
	n, err := NewNDRange(8, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Dimensions())
	assert.Equal(t, uint64(64), n.Total())
}

func TestNDRangeRejectsTooManyDimensions(t *testing.T) {
	_, err := NewNDRange(1, 2, 3, 4)
	assert.Error(t, err)
}

func TestBufferHandleValidity(t *testing.T) {
	var zero BufferHandle
	assert.False(t, zero.Valid())

	h := BufferHandle{ID: 1, Dir: In}
	assert.True(t, h.Valid())
}
