package replication

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/peersync/internal/core/protocol"
)

func TestIDAllocator_NextSkipsReserved(t *testing.T) {
	a := NewIDAllocator()
	a.Seed(0)

	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.StaticEntityID(0), id)

	assert.True(t, a.Reserve(1))
	assert.False(t, a.Reserve(1))

	id, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.StaticEntityID(2), id)
	assert.True(t, a.InUse(2))

	a.Release(2)
	assert.False(t, a.InUse(2))
}

func TestIDAllocator_WrapsAndExhausts(t *testing.T) {
	a := NewIDAllocator()
	a.Seed(0)
	for range math.MaxUint16 + 1 {
		_, err := a.Next()
		require.NoError(t, err)
	}

	_, err := a.Next()
	assert.ErrorIs(t, err, ErrStaticIDsExhausted)

	a.Release(17)
	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.StaticEntityID(17), id)
}

func TestIDAllocator_SeedKeepsReservations(t *testing.T) {
	a := NewIDAllocator()
	a.Seed(math.MaxUint16)
	require.True(t, a.Reserve(0))

	id, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.StaticEntityID(math.MaxUint16), id)

	id, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.StaticEntityID(1), id, "wraps past the reserved id")

	fresh := NewIDAllocator()
	fresh.Seed(CursorFor(7))
	id, err = fresh.Next()
	require.NoError(t, err)
	assert.Equal(t, CursorFor(7), id)
	assert.Equal(t, CursorFor(7), CursorFor(7))
}
